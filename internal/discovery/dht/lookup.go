package dht

import (
	"errors"
	"sort"
	"time"

	"github.com/dep2p/go-floodnet/internal/core/metrics"
	"github.com/dep2p/go-floodnet/pkg/types"
)

// lookup 一次迭代查找的状态
//
// 只在查找进行期间存在；DHT 关闭时被直接丢弃。
type lookup struct {
	d      *DHT
	target types.NodeID
	done   LookupFunc

	// candidates 已知的未失败候选节点，按到 target 的 XOR 距离升序
	// 前 K 个构成候选列表（shortlist），其余作为失败时的补位
	candidates []types.PeerInfo
	contacted  map[types.NodeID]struct{}
	pending   map[types.NodeID]struct{}
	failed    map[types.NodeID]struct{}

	best     Distance
	round    int
	improved bool
	sweep    bool
	finished bool
	started  time.Time
}

// Lookup 查找距离 target 最近的节点
//
// 结果异步交给 done；候选列表在收敛前耗尽时返回 ErrDiscoveryExhausted。
func (d *DHT) Lookup(target types.NodeID, done LookupFunc) {
	if d.closed {
		if done != nil {
			done(nil, ErrDHTClosed)
		}
		return
	}

	l := &lookup{
		d:         d,
		target:    target,
		done:      done,
		contacted: make(map[types.NodeID]struct{}),
		pending:   make(map[types.NodeID]struct{}),
		failed:    make(map[types.NodeID]struct{}),
		started:   d.clock.Now(),
	}
	for _, r := range d.routingTable.Closest(target, d.config.BucketSize) {
		l.candidates = append(l.candidates, r.Info())
	}
	if len(l.candidates) == 0 {
		l.finish(nil, ErrDiscoveryExhausted)
		return
	}
	l.best = XORDistance(l.candidates[0].ID, target)

	d.lookups[l] = struct{}{}
	l.next()
}

// shortlist 返回当前距离 target 最近的 K 个候选节点
func (l *lookup) shortlist() []types.PeerInfo {
	if len(l.candidates) > l.d.config.BucketSize {
		return l.candidates[:l.d.config.BucketSize]
	}
	return l.candidates
}

// next 启动下一轮查询
//
// 上一轮有改进时选取 α 个未联系的节点；否则对所有未联系的节点做全量扫描。
// 候选列表中所有节点均已联系，或达到最大轮数时结束。
func (l *lookup) next() {
	if l.round >= l.d.config.MaxRounds {
		l.finish(l.shortlist(), nil)
		return
	}

	var batch []types.PeerInfo
	for _, p := range l.shortlist() {
		if _, ok := l.contacted[p.ID]; ok {
			continue
		}
		batch = append(batch, p)
		if !l.sweep && len(batch) >= l.d.config.Alpha {
			break
		}
	}
	if len(batch) == 0 {
		l.finish(l.shortlist(), nil)
		return
	}

	l.round++
	l.improved = false
	for _, p := range batch {
		l.contacted[p.ID] = struct{}{}
		l.pending[p.ID] = struct{}{}
	}
	for _, p := range batch {
		peer := p
		l.d.sendFindPeers(peer, l.target, func(peers []types.PeerInfo, err error) {
			l.onResponse(peer, peers, err)
		})
	}
}

// onResponse 处理一个查询的结果
func (l *lookup) onResponse(peer types.PeerInfo, peers []types.PeerInfo, err error) {
	if l.finished {
		return
	}
	delete(l.pending, peer.ID)

	if err != nil {
		logger.Debug("查找查询失败", "peer", peer.ID.ShortString(), "error", err)
		l.failed[peer.ID] = struct{}{}
		l.drop(peer.ID)
		l.d.removePeer(peer.ID, err)
	} else {
		for _, p := range peers {
			if p.ID.IsEmpty() || p.ID == l.d.localID {
				continue
			}
			if p.HasAddrs() {
				l.d.recordSeen(p, false)
			}
			l.merge(p)
		}
		if len(l.candidates) > 0 {
			if dist := XORDistance(l.candidates[0].ID, l.target); dist.Cmp(l.best) < 0 {
				l.best = dist
				l.improved = true
			}
		}
	}

	if len(l.pending) == 0 {
		l.roundDone()
	}
}

// roundDone 本轮所有查询均已结束
func (l *lookup) roundDone() {
	if len(l.candidates) == 0 {
		l.finish(nil, ErrDiscoveryExhausted)
		return
	}
	l.sweep = !l.improved
	l.next()
}

// merge 将候选节点按距离插入
func (l *lookup) merge(p types.PeerInfo) {
	if _, ok := l.failed[p.ID]; ok {
		return
	}
	i := sort.Search(len(l.candidates), func(i int) bool {
		return CompareDistance(l.candidates[i].ID, p.ID, l.target) >= 0
	})
	if i < len(l.candidates) && l.candidates[i].ID == p.ID {
		l.candidates[i].Addrs = types.MergeAddrs(l.candidates[i].Addrs, p.Addrs)
		return
	}
	l.candidates = append(l.candidates, types.PeerInfo{})
	copy(l.candidates[i+1:], l.candidates[i:])
	l.candidates[i] = p
}

// drop 将节点移出候选集合，后续候选者补位
func (l *lookup) drop(id types.NodeID) {
	for i, p := range l.candidates {
		if p.ID == id {
			l.candidates = append(l.candidates[:i], l.candidates[i+1:]...)
			return
		}
	}
}

// finish 结束查找并回调
func (l *lookup) finish(peers []types.PeerInfo, err error) {
	l.finished = true
	delete(l.d.lookups, l)
	l.d.routingTable.MarkRefreshed(l.target)

	result := metrics.ResultOK
	if errors.Is(err, ErrDiscoveryExhausted) {
		result = metrics.ResultExhausted
	}
	l.d.metrics.Lookup(result)

	logger.Debug("DHT 查找完成",
		"target", l.target.ShortString(),
		"duration", l.d.clock.Since(l.started),
		"rounds", l.round,
		"contacted", len(l.contacted),
		"found", len(peers),
		"routingTableSize", l.d.routingTable.Size(),
		"error", err)

	if l.done != nil {
		out := make([]types.PeerInfo, len(peers))
		copy(out, peers)
		l.done(out, err)
	}
}
