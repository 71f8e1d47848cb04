package swarm

import (
	"github.com/dep2p/go-floodnet/internal/discovery/dht"
	"github.com/dep2p/go-floodnet/internal/protocol/pubsub"
	"github.com/dep2p/go-floodnet/internal/protocol/wire"
	"github.com/dep2p/go-floodnet/pkg/types"
)

var (
	_ dht.Network   = (*Swarm)(nil)
	_ pubsub.Router = (*Swarm)(nil)
)

// Broadcast 向除 except 外的所有会话发送帧
func (s *Swarm) Broadcast(f *wire.Frame, except types.NodeID) int {
	if len(s.sessions) == 0 {
		return 0
	}
	data, err := wire.Encode(f)
	if err != nil {
		logger.Warn("帧编码失败", "type", f.Type, "error", err)
		return 0
	}
	sent := 0
	for id, sess := range s.sessions {
		if id == except {
			continue
		}
		if s.enqueueRaw(sess, f.Type, data) {
			sent++
		}
	}
	return sent
}
