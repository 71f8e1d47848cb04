package pubsub

import "errors"

// 错误定义
var (
	// ErrInvalidTopic 无效的主题名
	ErrInvalidTopic = errors.New("pubsub: invalid topic")

	// ErrInvalidMessage 无效的消息（ID 与内容不符）
	ErrInvalidMessage = errors.New("pubsub: invalid message")

	// ErrMessageTooLarge 消息过大
	ErrMessageTooLarge = errors.New("pubsub: message too large")

	// ErrDuplicateMessage 重复消息
	ErrDuplicateMessage = errors.New("pubsub: duplicate message")

	// ErrClosed 服务已关闭
	ErrClosed = errors.New("pubsub: closed")
)
