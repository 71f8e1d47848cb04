package swarm

import (
	"errors"
	"fmt"

	"github.com/dep2p/go-floodnet/pkg/types"
)

var (
	// ErrSwarmClosed Swarm 已关闭
	ErrSwarmClosed = errors.New("swarm: closed")

	// ErrSwarmNotStarted Swarm 尚未启动
	ErrSwarmNotStarted = errors.New("swarm: not started")

	// ErrDialFailure 拨号失败
	ErrDialFailure = errors.New("swarm: dial failure")

	// ErrDialBackoff 地址处于退避期
	ErrDialBackoff = errors.New("swarm: dial backoff")

	// ErrNoAddresses 没有可用地址
	ErrNoAddresses = errors.New("swarm: no addresses")

	// ErrDialToSelf 拨号到自己
	ErrDialToSelf = errors.New("swarm: dial to self")

	// ErrIdentityMismatch 对端身份与期望或 HELLO 不一致
	ErrIdentityMismatch = errors.New("swarm: identity mismatch")

	// ErrSessionClosed 会话已关闭
	ErrSessionClosed = errors.New("swarm: session closed")

	// ErrHelloTimeout 身份交换超时
	ErrHelloTimeout = errors.New("swarm: hello timeout")

	// ErrInvalidConfig 无效配置
	ErrInvalidConfig = errors.New("swarm: invalid config")

	// errDuplicateSession 重复会话被关闭
	errDuplicateSession = errors.New("swarm: duplicate session")
)

// Error 带操作上下文的错误
type Error struct {
	// Op 操作名（dial、hello、session）
	Op string

	// Peer 对端节点 ID（可能为空）
	Peer types.NodeID

	// Addr 对端地址（可能为空）
	Addr string

	// Err 底层错误
	Err error
}

func (e *Error) Error() string {
	switch {
	case !e.Peer.IsEmpty() && e.Addr != "":
		return fmt.Sprintf("swarm %s %s at %s: %v", e.Op, e.Peer.ShortString(), e.Addr, e.Err)
	case !e.Peer.IsEmpty():
		return fmt.Sprintf("swarm %s %s: %v", e.Op, e.Peer.ShortString(), e.Err)
	case e.Addr != "":
		return fmt.Sprintf("swarm %s %s: %v", e.Op, e.Addr, e.Err)
	}
	return fmt.Sprintf("swarm %s: %v", e.Op, e.Err)
}

// Unwrap 返回底层错误
func (e *Error) Unwrap() error {
	return e.Err
}

// dialError 构造拨号错误，同时保留 ErrDialFailure 与具体原因
func dialError(peer types.NodeID, addr string, cause error) *Error {
	err := ErrDialFailure
	switch {
	case cause == nil:
	case errors.Is(cause, ErrDialFailure):
		err = cause
	default:
		err = fmt.Errorf("%w: %w", ErrDialFailure, cause)
	}
	return &Error{Op: "dial", Peer: peer, Addr: addr, Err: err}
}

// sessionError 构造会话关闭错误，同时保留 ErrSessionClosed 与关闭原因
func sessionError(peer types.NodeID, addr string, cause error) *Error {
	err := ErrSessionClosed
	if cause != nil {
		err = fmt.Errorf("%w: %w", ErrSessionClosed, cause)
	}
	return &Error{Op: "session", Peer: peer, Addr: addr, Err: err}
}
