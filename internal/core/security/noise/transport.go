package noise

import (
	"context"
	"net"
	"time"

	"github.com/dep2p/go-floodnet/internal/core/identity"
	"github.com/dep2p/go-floodnet/pkg/lib/log"
	"github.com/dep2p/go-floodnet/pkg/types"
)

var logger = log.Logger("core/security/noise")

// Transport Noise 安全传输
type Transport struct {
	identity *identity.Identity
}

// New 创建 Noise 安全传输
func New(id *identity.Identity) *Transport {
	return &Transport{identity: id}
}

// SecureInbound 保护入站连接
func (t *Transport) SecureInbound(ctx context.Context, conn net.Conn) (*Conn, error) {
	return t.secure(ctx, conn, types.EmptyNodeID, false)
}

// SecureOutbound 保护出站连接
//
// expected 非空时，对端身份不符则返回 ErrPeerIDMismatch。
func (t *Transport) SecureOutbound(ctx context.Context, conn net.Conn, expected types.NodeID) (*Conn, error) {
	return t.secure(ctx, conn, expected, true)
}

func (t *Transport) secure(ctx context.Context, conn net.Conn, expected types.NodeID, initiator bool) (*Conn, error) {
	// 握手期间遵循 ctx 的截止时间
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
		defer func() { _ = conn.SetDeadline(time.Time{}) }()
	}

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	sc, err := performHandshake(conn, t.identity, expected, initiator)
	if err != nil {
		logger.Debug("Noise 握手失败", "initiator", initiator, "remote", conn.RemoteAddr(), "error", err)
		return nil, err
	}
	logger.Debug("Noise 握手成功", "initiator", initiator, "remotePeer", sc.RemotePeer().ShortString())
	return sc, nil
}
