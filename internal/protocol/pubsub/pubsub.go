package pubsub

import (
	"fmt"
	"sort"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-floodnet/internal/core/metrics"
	"github.com/dep2p/go-floodnet/internal/protocol/wire"
	"github.com/dep2p/go-floodnet/pkg/lib/log"
	"github.com/dep2p/go-floodnet/pkg/types"
)

var logger = log.Logger("protocol/pubsub")

// Router 消息转发能力，由事件循环实现
type Router interface {
	// Broadcast 向除 except 外的所有已连接会话发送帧，返回发送的会话数
	Broadcast(f *wire.Frame, except types.NodeID) int
}

// PubSub 泛洪发布订阅引擎
type PubSub struct {
	config  Config
	localID types.NodeID
	router  Router
	seen    *SeenCache
	metrics *metrics.Metrics
	deliver DeliverFunc

	// seq 本地发布序列号
	seq uint64

	topics map[string]*topic
	closed bool
}

// New 创建 PubSub 实例
func New(localID types.NodeID, router Router, opts ...Option) (*PubSub, error) {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	if config.clock == nil {
		config.clock = clock.New()
	}

	seen, err := NewSeenCache(config.SeenCapacity, config.SeenTTL, config.clock)
	if err != nil {
		return nil, fmt.Errorf("create seen cache: %w", err)
	}

	return &PubSub{
		config:  config,
		localID: localID,
		router:  router,
		seen:    seen,
		metrics: config.metrics,
		deliver: config.deliver,
		// 从当前时间起编号，重启后不会与之前发布的消息 ID 冲突
		seq:    uint64(config.clock.Now().UnixNano()),
		topics: make(map[string]*topic),
	}, nil
}

// Close 关闭服务，之后的调用均被忽略
func (ps *PubSub) Close() {
	ps.closed = true
}

// SeenCache 返回去重缓存
func (ps *PubSub) SeenCache() *SeenCache {
	return ps.seen
}

// ============================================================================
//                              订阅管理
// ============================================================================

// Subscribe 订阅主题（只切换本地兴趣）
func (ps *PubSub) Subscribe(name string) error {
	if err := validateTopic(name); err != nil {
		return err
	}
	t := ps.topic(name)
	if !t.subscribed {
		t.subscribed = true
		logger.Info("已订阅主题", "topic", name)
	}
	return nil
}

// Unsubscribe 取消订阅
func (ps *PubSub) Unsubscribe(name string) {
	t, ok := ps.topics[name]
	if !ok || !t.subscribed {
		return
	}
	t.subscribed = false
	logger.Info("已取消订阅主题", "topic", name)
	ps.gcTopic(t)
}

// Subscribed 检查是否订阅了主题
func (ps *PubSub) Subscribed(name string) bool {
	t, ok := ps.topics[name]
	return ok && t.subscribed
}

// Topics 返回已订阅的主题（按名称排序）
func (ps *PubSub) Topics() []string {
	var out []string
	for name, t := range ps.topics {
		if t.subscribed {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// TopicPeers 返回被认为订阅了主题的直连节点
func (ps *PubSub) TopicPeers(name string) []types.NodeID {
	t, ok := ps.topics[name]
	if !ok {
		return nil
	}
	return t.peerList()
}

// PeerDisconnected 会话关闭时清理主题节点集合
func (ps *PubSub) PeerDisconnected(id types.NodeID) {
	for _, t := range ps.topics {
		delete(t.peers, id)
		ps.gcTopic(t)
	}
}

// ============================================================================
//                              发布与接收
// ============================================================================

// Publish 发布消息
//
// 消息 ID 先写入去重缓存，再发给所有已连接会话；自己发布的消息不在本地投递。
func (ps *PubSub) Publish(name string, payload []byte) (*types.Envelope, error) {
	if ps.closed {
		return nil, ErrClosed
	}
	if err := validateTopic(name); err != nil {
		return nil, err
	}
	if len(payload) > ps.config.MaxMessageSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, len(payload), ps.config.MaxMessageSize)
	}

	ps.seq++
	env := types.NewEnvelope(ps.localID, ps.seq, name, payload)
	ps.seen.Add(env.ID)

	n := ps.router.Broadcast(wire.NewPubSub(env), types.EmptyNodeID)
	ps.metrics.Message(metrics.MsgPublished)

	logger.Debug("发布消息",
		"topic", name,
		"msgID", env.ID.ShortString(),
		"size", len(payload),
		"peers", n)
	return env, nil
}

// HandleMessage 处理来自 from 的消息
//
// ID 与内容不符或超过大小限制的消息被拒绝；已见消息被静默丢弃（返回 ErrDuplicateMessage）。
// 新消息写入去重缓存，订阅时本地投递，并向 from 以外的所有会话转发。
func (ps *PubSub) HandleMessage(from types.NodeID, env *types.Envelope) error {
	if ps.closed {
		return ErrClosed
	}
	if len(env.Payload) > ps.config.MaxMessageSize {
		ps.metrics.Message(metrics.MsgRejected)
		return ErrMessageTooLarge
	}
	if validateTopic(env.Topic) != nil || !env.Verify() {
		ps.metrics.Message(metrics.MsgRejected)
		return ErrInvalidMessage
	}

	if !ps.seen.Add(env.ID) {
		ps.metrics.Message(metrics.MsgDuplicate)
		return ErrDuplicateMessage
	}

	// 直接来自发布者：认为其订阅了该主题
	if from == env.Origin {
		ps.topic(env.Topic).peers[from] = struct{}{}
	}

	if env.Origin != ps.localID && ps.Subscribed(env.Topic) {
		ps.metrics.Message(metrics.MsgDelivered)
		logger.Debug("投递消息",
			"topic", env.Topic,
			"msgID", env.ID.ShortString(),
			"origin", env.Origin.ShortString())
		if ps.deliver != nil {
			ps.deliver(env)
		}
	}

	if n := ps.router.Broadcast(wire.NewPubSub(env), from); n > 0 {
		ps.metrics.Message(metrics.MsgRelayed)
	}
	return nil
}

// Prune 清理过期的去重缓存条目
func (ps *PubSub) Prune() {
	if n := ps.seen.Prune(); n > 0 {
		logger.Debug("清理去重缓存", "removed", n, "remaining", ps.seen.Len())
	}
}

// ============================================================================
//                              内部方法
// ============================================================================

func (ps *PubSub) topic(name string) *topic {
	t, ok := ps.topics[name]
	if !ok {
		t = newTopic(name)
		ps.topics[name] = t
	}
	return t
}

// gcTopic 未订阅且无已知节点的主题被移除
func (ps *PubSub) gcTopic(t *topic) {
	if !t.subscribed && len(t.peers) == 0 {
		delete(ps.topics, t.name)
	}
}

func validateTopic(name string) error {
	if name == "" || len(name) > MaxTopicLength {
		return fmt.Errorf("%w: %q", ErrInvalidTopic, name)
	}
	return nil
}
