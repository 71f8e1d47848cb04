package floodnet

import "errors"

// 公共错误定义
var (
	// ErrNotStarted 节点未启动
	ErrNotStarted = errors.New("node not started")

	// ErrAlreadyStarted 节点已启动
	ErrAlreadyStarted = errors.New("node already started")

	// ErrNodeClosed 节点已关闭
	ErrNodeClosed = errors.New("node closed")

	// ErrNoBootstrapPeers 没有可用的引导节点
	ErrNoBootstrapPeers = errors.New("no bootstrap peers")

	// ErrSubscriptionCancelled 订阅已取消
	ErrSubscriptionCancelled = errors.New("subscription cancelled")
)
