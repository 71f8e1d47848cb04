package transport

import "errors"

var (
	// ErrTransportClosed 传输层已关闭
	ErrTransportClosed = errors.New("transport: closed")

	// ErrConnClosed 连接已关闭
	ErrConnClosed = errors.New("transport: connection closed")

	// ErrConnRefused 目标地址没有监听者
	ErrConnRefused = errors.New("transport: connection refused")

	// ErrAddrInUse 地址已被占用
	ErrAddrInUse = errors.New("transport: address in use")

	// ErrInvalidAddress 无效地址
	ErrInvalidAddress = errors.New("transport: invalid address")

	// ErrResolveFailed DNS 地址无法解析为可拨号地址
	ErrResolveFailed = errors.New("transport: address resolution failed")

	// ErrMessageTooLarge 消息超过 MaxMessageSize
	ErrMessageTooLarge = errors.New("transport: message too large")
)
