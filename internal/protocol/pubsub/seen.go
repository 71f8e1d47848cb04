package pubsub

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/dep2p/go-floodnet/pkg/types"
)

// ============================================================================
//                              已见消息缓存
// ============================================================================

// SeenCache 已见消息缓存（用于去重）
//
// 消息 ID -> 首次看到时间。只用 Peek/Contains 访问，条目顺序即插入顺序：
// 超出容量时淘汰最早插入的条目，超过 TTL 的条目视为不存在。
// 非并发安全：只由事件循环访问。
type SeenCache struct {
	entries *simplelru.LRU[types.MessageID, time.Time]
	ttl     time.Duration
	clock   clock.Clock
}

// NewSeenCache 创建新的已见消息缓存
func NewSeenCache(capacity int, ttl time.Duration, clk clock.Clock) (*SeenCache, error) {
	if capacity <= 0 {
		capacity = DefaultSeenCapacity
	}
	if ttl <= 0 {
		ttl = DefaultSeenTTL
	}
	if clk == nil {
		clk = clock.New()
	}

	entries, err := simplelru.NewLRU[types.MessageID, time.Time](capacity, nil)
	if err != nil {
		return nil, err
	}
	return &SeenCache{entries: entries, ttl: ttl, clock: clk}, nil
}

// Add 添加已见消息
//
// 返回 true 表示是新消息；已存在且未过期时返回 false。
func (sc *SeenCache) Add(id types.MessageID) bool {
	now := sc.clock.Now()
	if seen, ok := sc.entries.Peek(id); ok {
		if now.Sub(seen) < sc.ttl {
			return false
		}
		// 过期条目按新消息处理，重新插入到队尾
		sc.entries.Remove(id)
	}
	sc.entries.Add(id, now)
	return true
}

// Has 检查是否已见（过期条目视为未见）
func (sc *SeenCache) Has(id types.MessageID) bool {
	seen, ok := sc.entries.Peek(id)
	return ok && sc.clock.Since(seen) < sc.ttl
}

// Len 返回缓存条目数（含尚未清理的过期条目）
func (sc *SeenCache) Len() int {
	return sc.entries.Len()
}

// Prune 清理过期条目，返回清理数量
//
// 条目按插入顺序排列，从最旧的开始检查，遇到未过期的即停止。
func (sc *SeenCache) Prune() int {
	now := sc.clock.Now()
	removed := 0
	for {
		_, seen, ok := sc.entries.GetOldest()
		if !ok || now.Sub(seen) < sc.ttl {
			return removed
		}
		sc.entries.RemoveOldest()
		removed++
	}
}
