package dht

import (
	"sort"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-floodnet/pkg/types"
)

// ============================================================================
//                              常量定义
// ============================================================================

const (
	// KeyBits 密钥位数，也是桶的数量
	KeyBits = types.NodeIDSize * 8

	// DefaultBucketSize 默认 K 桶大小
	DefaultBucketSize = 20
)

// ============================================================================
//                              路由表节点
// ============================================================================

// PeerRecord 路由表节点记录
type PeerRecord struct {
	// ID 节点 ID
	ID types.NodeID

	// Addrs 节点地址
	Addrs []string

	// LastSeen 最后一次成功交互的时间
	LastSeen time.Time

	// FailCount 连续失败次数
	FailCount int

	// Confirmed 是否经过直接交互确认
	//
	// 引导节点与他人转述的节点在首次直接交互前为 false。
	Confirmed bool
}

// Info 返回节点信息
func (r *PeerRecord) Info() types.PeerInfo {
	return types.PeerInfo{ID: r.ID, Addrs: r.Addrs}
}

// SeenOutcome RecordSeen 的结果
type SeenOutcome int

const (
	// SeenIgnored 忽略（本地节点或空 ID）
	SeenIgnored SeenOutcome = iota
	// SeenAdded 新节点已加入桶
	SeenAdded
	// SeenUpdated 已存在节点被刷新
	SeenUpdated
	// SeenPending 桶已满，节点进入替换缓存，等待对最旧节点的存活检查
	SeenPending
)

// ============================================================================
//                              K 桶
// ============================================================================

// kBucket K 桶
type kBucket struct {
	// 节点列表（最近活跃的在前，末尾为最久未活跃者，桶满时先ping它）
	nodes []*PeerRecord

	// 替换缓存（当桶满时存储候选节点，最新的在前）
	replacements []*PeerRecord

	// 最后一次在该桶范围内完成查找的时间
	lastRefresh time.Time
}

func indexOf(list []*PeerRecord, id types.NodeID) int {
	for i, r := range list {
		if r.ID == id {
			return i
		}
	}
	return -1
}

func removeAt(list []*PeerRecord, i int) []*PeerRecord {
	return append(list[:i], list[i+1:]...)
}

func pushFront(list []*PeerRecord, r *PeerRecord) []*PeerRecord {
	list = append(list, nil)
	copy(list[1:], list)
	list[0] = r
	return list
}

// ============================================================================
//                              路由表
// ============================================================================

// RoutingTable 路由表
//
// 按与本地 ID 的共同前缀长度索引的固定桶数组。
// 非并发安全：只由事件循环访问。
type RoutingTable struct {
	localID types.NodeID
	k       int
	clock   clock.Clock

	buckets [KeyBits]kBucket
}

// NewRoutingTable 创建新的路由表
func NewRoutingTable(localID types.NodeID, k int, clk clock.Clock) *RoutingTable {
	if k <= 0 {
		k = DefaultBucketSize
	}
	if clk == nil {
		clk = clock.New()
	}
	rt := &RoutingTable{
		localID: localID,
		k:       k,
		clock:   clk,
	}
	now := clk.Now()
	for i := range rt.buckets {
		rt.buckets[i].lastRefresh = now
	}
	return rt
}

// LocalID 返回本地节点 ID
func (rt *RoutingTable) LocalID() types.NodeID {
	return rt.localID
}

// RecordSeen 插入或刷新节点记录
//
// confirmed 为 true 表示与该节点有直接的成功交互：刷新时间戳、清零失败计数，并移到桶前端。
// 为 false 时（引导种子、他人转述）只合并地址。
//
// 桶已满且节点为新节点时返回 SeenPending 以及桶内最旧的节点，
// 调用方应对其进行存活检查，失败时 Remove 以提升替换缓存中的候选者。
func (rt *RoutingTable) RecordSeen(info types.PeerInfo, confirmed bool) (SeenOutcome, *PeerRecord) {
	if info.ID.IsEmpty() || info.ID == rt.localID {
		return SeenIgnored, nil
	}

	b := &rt.buckets[BucketIndex(rt.localID, info.ID)]
	now := rt.clock.Now()

	if i := indexOf(b.nodes, info.ID); i >= 0 {
		r := b.nodes[i]
		r.Addrs = types.MergeAddrs(info.Addrs, r.Addrs)
		if confirmed {
			r.LastSeen = now
			r.FailCount = 0
			r.Confirmed = true
			b.nodes = pushFront(removeAt(b.nodes, i), r)
		}
		return SeenUpdated, nil
	}

	if len(b.nodes) < rt.k {
		// 候选者可能在替换缓存中
		if i := indexOf(b.replacements, info.ID); i >= 0 {
			b.replacements = removeAt(b.replacements, i)
		}
		b.nodes = pushFront(b.nodes, &PeerRecord{
			ID:        info.ID,
			Addrs:     types.MergeAddrs(info.Addrs, nil),
			LastSeen:  now,
			Confirmed: confirmed,
		})
		return SeenAdded, nil
	}

	// 桶已满，添加到替换缓存
	cand := &PeerRecord{ID: info.ID, Addrs: info.Addrs, LastSeen: now, Confirmed: confirmed}
	if i := indexOf(b.replacements, info.ID); i >= 0 {
		old := b.replacements[i]
		cand.Addrs = types.MergeAddrs(info.Addrs, old.Addrs)
		cand.Confirmed = confirmed || old.Confirmed
		b.replacements = removeAt(b.replacements, i)
	}
	b.replacements = pushFront(b.replacements, cand)
	if len(b.replacements) > rt.k {
		b.replacements = b.replacements[:rt.k]
	}

	oldest := *b.nodes[len(b.nodes)-1]
	return SeenPending, &oldest
}

// Remove 移除节点，并从替换缓存中提升最新的候选者
func (rt *RoutingTable) Remove(id types.NodeID) bool {
	if id == rt.localID {
		return false
	}
	b := &rt.buckets[BucketIndex(rt.localID, id)]

	if i := indexOf(b.nodes, id); i >= 0 {
		b.nodes = removeAt(b.nodes, i)
		if len(b.replacements) > 0 {
			promoted := b.replacements[0]
			b.replacements = b.replacements[1:]
			b.nodes = pushFront(b.nodes, promoted)
		}
		return true
	}

	if i := indexOf(b.replacements, id); i >= 0 {
		b.replacements = removeAt(b.replacements, i)
		return true
	}
	return false
}

// RecordFailure 记录一次失败
//
// 连续失败达到 max 次时移除节点，返回 true。
func (rt *RoutingTable) RecordFailure(id types.NodeID, max int) bool {
	if id == rt.localID {
		return false
	}
	b := &rt.buckets[BucketIndex(rt.localID, id)]
	i := indexOf(b.nodes, id)
	if i < 0 {
		return false
	}
	b.nodes[i].FailCount++
	if b.nodes[i].FailCount >= max {
		return rt.Remove(id)
	}
	return false
}

// Get 获取节点记录的副本
func (rt *RoutingTable) Get(id types.NodeID) (PeerRecord, bool) {
	if id == rt.localID || id.IsEmpty() {
		return PeerRecord{}, false
	}
	b := &rt.buckets[BucketIndex(rt.localID, id)]
	if i := indexOf(b.nodes, id); i >= 0 {
		return *b.nodes[i], true
	}
	return PeerRecord{}, false
}

// Contains 检查节点是否在桶中（不含替换缓存）
func (rt *RoutingTable) Contains(id types.NodeID) bool {
	_, ok := rt.Get(id)
	return ok
}

// Size 返回路由表中的节点总数
func (rt *RoutingTable) Size() int {
	total := 0
	for i := range rt.buckets {
		total += len(rt.buckets[i].nodes)
	}
	return total
}

// Peers 返回所有节点记录的副本
func (rt *RoutingTable) Peers() []PeerRecord {
	var out []PeerRecord
	for i := range rt.buckets {
		for _, r := range rt.buckets[i].nodes {
			out = append(out, *r)
		}
	}
	return out
}

// BucketSizes 返回非空桶的索引到节点数的映射
func (rt *RoutingTable) BucketSizes() map[int]int {
	sizes := make(map[int]int)
	for i := range rt.buckets {
		if n := len(rt.buckets[i].nodes); n > 0 {
			sizes[i] = n
		}
	}
	return sizes
}

// Closest 返回距离 target 最近的 n 个节点
//
// 按 XOR 距离升序排列，距离相同时最近活跃的在前。
func (rt *RoutingTable) Closest(target types.NodeID, n int) []PeerRecord {
	all := rt.Peers()
	sort.SliceStable(all, func(i, j int) bool {
		c := CompareDistance(all[i].ID, all[j].ID, target)
		if c != 0 {
			return c < 0
		}
		return all[i].LastSeen.After(all[j].LastSeen)
	})
	if len(all) > n {
		all = all[:n]
	}
	return all
}

// MarkRefreshed 标记 target 所在的桶已刷新
func (rt *RoutingTable) MarkRefreshed(target types.NodeID) {
	if target == rt.localID {
		return
	}
	rt.buckets[BucketIndex(rt.localID, target)].lastRefresh = rt.clock.Now()
}

// StalestBucket 返回最久未刷新的桶索引
//
// 只考虑不超过最深非空桶下一层的范围，更深的桶必然为空。
func (rt *RoutingTable) StalestBucket() int {
	deepest := 0
	for i := range rt.buckets {
		if len(rt.buckets[i].nodes) > 0 {
			deepest = i
		}
	}
	limit := deepest + 1
	if limit >= KeyBits {
		limit = KeyBits - 1
	}

	stalest := 0
	for i := 1; i <= limit; i++ {
		if rt.buckets[i].lastRefresh.Before(rt.buckets[stalest].lastRefresh) {
			stalest = i
		}
	}
	return stalest
}
