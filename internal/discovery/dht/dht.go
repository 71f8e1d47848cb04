package dht

import (
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-floodnet/internal/core/metrics"
	"github.com/dep2p/go-floodnet/internal/protocol/wire"
	"github.com/dep2p/go-floodnet/pkg/lib/log"
	"github.com/dep2p/go-floodnet/pkg/types"
)

var logger = log.Logger("discovery/dht")

// Network DHT 依赖的网络能力，由事件循环实现
//
// 所有回调都在事件循环中执行，且不会在调用返回前同步触发。
type Network interface {
	// Send 向节点发送帧，尚未连接时先拨号
	//
	// 拨号失败时网络层调用 DHT.PeerUnreachable。
	Send(to types.PeerInfo, f *wire.Frame)

	// Connect 拨号仅知道地址的节点，身份交换完成后回调
	Connect(addr string, cb func(types.PeerInfo, error))

	// AfterFunc 在 d 之后于事件循环中执行 fn
	AfterFunc(d time.Duration, fn func()) (cancel func())
}

// LookupFunc 查找完成回调
type LookupFunc func(peers []types.PeerInfo, err error)

// DHT 节点发现引擎
type DHT struct {
	config  Config
	localID types.NodeID
	net     Network
	clock   clock.Clock
	metrics *metrics.Metrics

	// routingTable 路由表
	routingTable *RoutingTable

	// 未完成的请求（按请求 ID）
	nextReqID uint64
	requests  map[uint64]*request

	// 进行中的查找
	lookups map[*lookup]struct{}

	// 正在做存活检查的节点
	pinging map[types.NodeID]struct{}

	closed bool
}

// New 创建 DHT 实例
func New(localID types.NodeID, net Network, clk clock.Clock, config Config, m *metrics.Metrics) (*DHT, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.New()
	}
	return &DHT{
		config:       config,
		localID:      localID,
		net:          net,
		clock:        clk,
		metrics:      m,
		routingTable: NewRoutingTable(localID, config.BucketSize, clk),
		requests:     make(map[uint64]*request),
		lookups:      make(map[*lookup]struct{}),
		pinging:      make(map[types.NodeID]struct{}),
	}, nil
}

// RoutingTable 返回路由表
func (d *DHT) RoutingTable() *RoutingTable {
	return d.routingTable
}

// Close 关闭 DHT
//
// 进行中的查找被放弃，回调不再触发。
func (d *DHT) Close() {
	if d.closed {
		return
	}
	d.closed = true
	for id, req := range d.requests {
		req.cancel()
		delete(d.requests, id)
	}
	for l := range d.lookups {
		l.finished = true
	}
	d.lookups = make(map[*lookup]struct{})
}

// ============================================================================
//                              引导与刷新
// ============================================================================

// Bootstrap 使用种子节点加入网络
//
// 带身份的种子以低置信度加入路由表；仅有地址的种子先拨号。
// 所有种子拨号完成后执行自查找，结果交给 done。
func (d *DHT) Bootstrap(seeds []types.PeerInfo, done LookupFunc) {
	if d.closed {
		if done != nil {
			done(nil, ErrDHTClosed)
		}
		return
	}

	var dials []string
	for _, seed := range seeds {
		if seed.ID.IsEmpty() {
			dials = append(dials, seed.Addrs...)
			continue
		}
		d.recordSeen(seed, false)
	}

	logger.Info("开始引导",
		"seeds", len(seeds),
		"dials", len(dials),
		"routingTableSize", d.routingTable.Size())

	if len(dials) == 0 {
		d.Lookup(d.localID, done)
		return
	}

	outstanding := len(dials)
	for _, addr := range dials {
		addr := addr
		d.net.Connect(addr, func(info types.PeerInfo, err error) {
			if err != nil {
				logger.Warn("引导节点拨号失败", "addr", addr, "error", err)
			} else {
				logger.Debug("引导节点已连接", "addr", addr, "peer", info.ID.ShortString())
			}
			outstanding--
			if outstanding == 0 && !d.closed {
				d.Lookup(d.localID, done)
			}
		})
	}
}

// Refresh 周期性刷新路由表
//
// 执行一次自查找，以及一次对最久未刷新桶内随机 ID 的查找。
func (d *DHT) Refresh() {
	if d.closed || d.routingTable.Size() == 0 {
		return
	}

	logDone := func(kind string) LookupFunc {
		return func(peers []types.PeerInfo, err error) {
			if err != nil {
				logger.Debug("路由表刷新查找失败", "kind", kind, "error", err)
				return
			}
			logger.Debug("路由表刷新查找完成", "kind", kind, "found", len(peers))
		}
	}

	d.Lookup(d.localID, logDone("self"))
	d.Lookup(RandomIDInBucket(d.localID, d.routingTable.StalestBucket()), logDone("random"))
}

// ============================================================================
//                              连接事件
// ============================================================================

// PeerConnected 身份交换完成后由事件循环调用
func (d *DHT) PeerConnected(info types.PeerInfo) {
	if d.closed {
		return
	}
	d.recordSeen(info, true)
}

// PeerDisconnected 会话关闭时由事件循环调用
//
// 正常关闭保留路由记录；异常关闭计为一次失败，累计达到 MaxFailures 时移除。
func (d *DHT) PeerDisconnected(id types.NodeID, abnormal bool) {
	if d.closed || !abnormal {
		return
	}
	if d.routingTable.RecordFailure(id, d.config.MaxFailures) {
		logger.Debug("节点连续失败，移出路由表", "peer", id.ShortString())
		d.metrics.SetRoutingTableSize(d.routingTable.Size())
	}
}

// PeerUnreachable 拨号失败时由事件循环调用
//
// 该节点上所有未完成的请求立即失败。
func (d *DHT) PeerUnreachable(id types.NodeID, cause error) {
	for reqID, req := range d.requests {
		if req.peer != id {
			continue
		}
		req.cancel()
		delete(d.requests, reqID)
		d.metrics.Query(req.typ.String(), metrics.ResultUnreachable)
		req.fail(NewDHTError(req.op(), id, joinCause(ErrPeerUnreachable, cause)))
	}
}

// ============================================================================
//                              路由表维护
// ============================================================================

// recordSeen 更新路由表，桶满时触发对最旧节点的存活检查
func (d *DHT) recordSeen(info types.PeerInfo, confirmed bool) {
	outcome, oldest := d.routingTable.RecordSeen(info, confirmed)
	switch outcome {
	case SeenAdded:
		logger.Debug("路由表已更新",
			"peer", info.ID.ShortString(),
			"confirmed", confirmed,
			"size", d.routingTable.Size())
		d.metrics.SetRoutingTableSize(d.routingTable.Size())
	case SeenPending:
		if oldest != nil {
			d.pingCheck(*oldest)
		}
	}
}

// removePeer 从路由表移除节点
func (d *DHT) removePeer(id types.NodeID, reason error) {
	if d.routingTable.Remove(id) {
		logger.Debug("节点移出路由表", "peer", id.ShortString(), "reason", reason)
		d.metrics.SetRoutingTableSize(d.routingTable.Size())
	}
}

// pingCheck 对桶内最旧节点做存活检查
//
// 响应则刷新保留，候选者留在替换缓存；超时则移除并提升替换者。
func (d *DHT) pingCheck(oldest PeerRecord) {
	if _, ok := d.pinging[oldest.ID]; ok {
		return
	}
	d.pinging[oldest.ID] = struct{}{}

	d.sendPing(oldest.Info(), func(err error) {
		delete(d.pinging, oldest.ID)
		if err != nil {
			d.removePeer(oldest.ID, err)
			return
		}
		d.routingTable.RecordSeen(oldest.Info(), true)
	})
}
