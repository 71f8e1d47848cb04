package dht

import (
	"github.com/dep2p/go-floodnet/internal/protocol/wire"
	"github.com/dep2p/go-floodnet/pkg/types"
)

// HandleFrame 处理来自已连接节点的发现协议帧
func (d *DHT) HandleFrame(from types.PeerInfo, f *wire.Frame) {
	if d.closed {
		return
	}

	switch f.Type {
	case wire.FrameFindPeers:
		d.handleFindPeers(from, f)

	case wire.FrameFindPeersResponse:
		req := d.complete(from.ID, f.RequestID, wire.FrameFindPeers)
		if req == nil {
			logger.Debug("丢弃无匹配请求的响应", "peer", from.ID.ShortString(), "requestID", f.RequestID)
			return
		}
		d.recordSeen(from, true)
		req.onPeers(f.Peers, nil)

	case wire.FramePing:
		d.net.Send(from, wire.NewPong(f.RequestID))

	case wire.FramePong:
		req := d.complete(from.ID, f.RequestID, wire.FramePing)
		if req == nil {
			return
		}
		req.onPong(nil)
	}
}

// handleFindPeers 响应 FIND_PEERS：返回路由表中距离目标最近的 K 个节点
func (d *DHT) handleFindPeers(from types.PeerInfo, f *wire.Frame) {
	logger.Debug("收到 DHT 请求",
		"peer", from.ID.ShortString(),
		"target", f.Target.ShortString())

	d.recordSeen(from, true)

	closest := d.routingTable.Closest(f.Target, d.config.BucketSize+1)
	peers := make([]types.PeerInfo, 0, len(closest))
	for _, r := range closest {
		if r.ID == from.ID {
			continue
		}
		peers = append(peers, r.Info())
		if len(peers) == d.config.BucketSize {
			break
		}
	}

	d.net.Send(from, wire.NewFindPeersResponse(f.RequestID, peers))
}
