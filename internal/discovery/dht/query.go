package dht

import (
	"time"

	"github.com/dep2p/go-floodnet/internal/core/metrics"
	"github.com/dep2p/go-floodnet/internal/protocol/wire"
	"github.com/dep2p/go-floodnet/pkg/types"
)

// request 一个未完成的远程请求（FIND_PEERS 或 PING）
type request struct {
	id     uint64
	peer   types.NodeID
	typ    wire.FrameType
	cancel func()

	onPeers func([]types.PeerInfo, error)
	onPong  func(error)
}

// op 返回用于错误信息的操作名
func (r *request) op() string {
	if r.typ == wire.FramePing {
		return "ping"
	}
	return "find_peers"
}

// fail 以错误结束请求
func (r *request) fail(err error) {
	if r.onPeers != nil {
		r.onPeers(nil, err)
	}
	if r.onPong != nil {
		r.onPong(err)
	}
}

// sendFindPeers 向 peer 查询 target 附近的节点
func (d *DHT) sendFindPeers(peer types.PeerInfo, target types.NodeID, cb func([]types.PeerInfo, error)) {
	req := &request{peer: peer.ID, typ: wire.FrameFindPeers, onPeers: cb}
	d.issue(peer, req, d.config.QueryTimeout, func(id uint64) *wire.Frame {
		return wire.NewFindPeers(id, target)
	})
}

// sendPing 向 peer 发送存活检查
func (d *DHT) sendPing(peer types.PeerInfo, cb func(error)) {
	req := &request{peer: peer.ID, typ: wire.FramePing, onPong: cb}
	d.issue(peer, req, d.config.PingTimeout, wire.NewPing)
}

// issue 登记请求、启动超时计时器并发送
func (d *DHT) issue(peer types.PeerInfo, req *request, timeout time.Duration, build func(uint64) *wire.Frame) {
	d.nextReqID++
	req.id = d.nextReqID
	d.requests[req.id] = req

	req.cancel = d.net.AfterFunc(timeout, func() {
		if _, ok := d.requests[req.id]; !ok {
			return
		}
		delete(d.requests, req.id)
		logger.Debug("DHT 请求超时",
			"type", req.typ.String(),
			"peer", req.peer.ShortString(),
			"timeout", timeout)
		d.metrics.Query(req.typ.String(), metrics.ResultTimeout)
		req.fail(NewDHTError(req.op(), req.peer, ErrQueryTimeout))
	})

	d.net.Send(peer, build(req.id))
}

// complete 匹配响应对应的请求并将其移出未完成集合
//
// 请求 ID 未知、发送者不符或类型不符时返回 nil。
func (d *DHT) complete(from types.NodeID, reqID uint64, typ wire.FrameType) *request {
	req, ok := d.requests[reqID]
	if !ok || req.peer != from || req.typ != typ {
		return nil
	}
	req.cancel()
	delete(d.requests, reqID)
	d.metrics.Query(typ.String(), metrics.ResultOK)
	return req
}
