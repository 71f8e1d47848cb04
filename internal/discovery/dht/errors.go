package dht

import (
	"errors"
	"fmt"

	"github.com/dep2p/go-floodnet/pkg/types"
)

// 预定义错误
var (
	// ErrQueryTimeout 查询超时
	ErrQueryTimeout = errors.New("dht: query timeout")

	// ErrPeerUnreachable 节点不可达（拨号失败或会话关闭）
	ErrPeerUnreachable = errors.New("dht: peer unreachable")

	// ErrDiscoveryExhausted 查找候选列表在收敛前耗尽
	ErrDiscoveryExhausted = errors.New("dht: discovery exhausted")

	// ErrDHTClosed DHT 已关闭
	ErrDHTClosed = errors.New("dht: DHT is closed")

	// ErrInvalidConfig 无效配置
	ErrInvalidConfig = errors.New("dht: invalid config")
)

// DHTError DHT 错误类型
type DHTError struct {
	Op   string       // 操作名称
	Peer types.NodeID // 相关节点（可为空）
	Err  error        // 底层错误
}

// Error 实现 error 接口
func (e *DHTError) Error() string {
	if e.Peer.IsEmpty() {
		return fmt.Sprintf("dht %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("dht %s %s: %v", e.Op, e.Peer.ShortString(), e.Err)
}

// Unwrap 实现错误解包
func (e *DHTError) Unwrap() error {
	return e.Err
}

// NewDHTError 创建 DHT 错误
func NewDHTError(op string, peer types.NodeID, err error) *DHTError {
	return &DHTError{Op: op, Peer: peer, Err: err}
}

// joinCause 以 base 为哨兵错误附加底层原因
func joinCause(base, cause error) error {
	if cause == nil {
		return base
	}
	return fmt.Errorf("%w: %v", base, cause)
}
