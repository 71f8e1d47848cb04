package floodnet

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/fx"

	"github.com/dep2p/go-floodnet/config"
	"github.com/dep2p/go-floodnet/internal/core/identity"
	"github.com/dep2p/go-floodnet/internal/core/metrics"
	"github.com/dep2p/go-floodnet/internal/core/swarm"
	"github.com/dep2p/go-floodnet/internal/discovery/dht"
	"github.com/dep2p/go-floodnet/pkg/lib/log"
	"github.com/dep2p/go-floodnet/pkg/types"
)

var logger = log.Logger("floodnet")

// stopTimeout 关闭节点时等待组件退出的时限
const stopTimeout = 10 * time.Second

// PeerRecord 路由表中的节点记录
type PeerRecord = dht.PeerRecord

// ════════════════════════════════════════════════════════════════════════════
//                              节点状态
// ════════════════════════════════════════════════════════════════════════════

// NodeState 节点状态
type NodeState int

const (
	// StateIdle 空闲状态（已创建，未启动）
	StateIdle NodeState = iota

	// StateRunning 运行中
	StateRunning

	// StateClosed 已关闭（不可重新启动）
	StateClosed
)

// String 返回状态的字符串表示
func (s NodeState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              Node
// ════════════════════════════════════════════════════════════════════════════

// Node P2P 节点
//
// 所有方法都可以并发调用。
type Node struct {
	opts *options
	app  *fx.App

	// 由 fx 注入
	config   *config.Config
	identity *identity.Identity
	swarm    *swarm.Swarm
	metrics  *metrics.Metrics

	mu    sync.Mutex
	state NodeState

	// topicMu 串行化订阅变更与对事件循环的订阅调用
	topicMu sync.Mutex

	// subMu 保护 subs，事件循环投递消息时持读锁
	subMu sync.RWMutex
	subs  map[string]map[*Subscription]struct{}
}

// New 创建节点（不启动）
func New(opts ...Option) (*Node, error) {
	o, err := newOptions(opts)
	if err != nil {
		return nil, err
	}

	n := &Node{
		opts: o,
		subs: make(map[string]map[*Subscription]struct{}),
	}
	app, err := buildFxApp(o, n)
	if err != nil {
		return nil, err
	}
	n.app = app
	return n, nil
}

// Start 开始监听并启动事件循环
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch n.state {
	case StateRunning:
		return ErrAlreadyStarted
	case StateClosed:
		return ErrNodeClosed
	}

	if err := n.app.Start(ctx); err != nil {
		logger.Error("节点启动失败", "error", err)
		return fmt.Errorf("start node: %w", err)
	}
	n.state = StateRunning
	logger.Info("节点已启动", "id", n.identity.ID().String(), "addrs", n.Addrs())
	return nil
}

// Close 关闭节点
//
// 所有订阅被取消，之后的调用返回 ErrNodeClosed。
func (n *Node) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.state == StateClosed {
		return nil
	}
	wasRunning := n.state == StateRunning
	n.state = StateClosed

	var err error
	if wasRunning {
		ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		err = n.app.Stop(ctx)
	}

	n.subMu.Lock()
	for _, set := range n.subs {
		for sub := range set {
			sub.close()
		}
	}
	n.subs = make(map[string]map[*Subscription]struct{})
	n.subMu.Unlock()

	logger.Info("节点已关闭", "id", n.identity.ID().ShortString())
	return err
}

// State 返回节点状态
func (n *Node) State() NodeState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

func (n *Node) checkRunning() error {
	switch n.State() {
	case StateIdle:
		return ErrNotStarted
	case StateClosed:
		return ErrNodeClosed
	}
	return nil
}

// ════════════════════════════════════════════════════════════════════════════
//                              身份与地址
// ════════════════════════════════════════════════════════════════════════════

// ID 返回节点 ID
func (n *Node) ID() types.NodeID {
	return n.identity.ID()
}

// Addrs 返回可分享的地址（带 /p2p/<NodeID> 后缀，启动后有效）
func (n *Node) Addrs() []string {
	addrs := n.swarm.Addrs()
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, types.FormatPeerAddr(a, n.ID()))
	}
	return out
}

// Config 返回节点配置
func (n *Node) Config() *config.Config {
	return n.config
}

// MetricsHandler 返回 Prometheus 指标处理器，指标禁用时返回 nil
func (n *Node) MetricsHandler() http.Handler {
	if n.metrics == nil {
		return nil
	}
	return n.metrics.Handler()
}

// ════════════════════════════════════════════════════════════════════════════
//                              发现
// ════════════════════════════════════════════════════════════════════════════

// Bootstrap 使用引导节点加入网络
//
// addrs 为空时使用配置中的引导节点。无法解析的地址被跳过。
// 返回距离本地最近的已知节点。
func (n *Node) Bootstrap(ctx context.Context, addrs []string) ([]types.PeerInfo, error) {
	if err := n.checkRunning(); err != nil {
		return nil, err
	}

	var seeds []types.PeerInfo
	if len(addrs) > 0 {
		seeds = config.ParseBootstrapPeers(addrs)
	} else {
		seeds = n.config.Discovery.Bootstrap()
	}
	if len(seeds) == 0 {
		return nil, ErrNoBootstrapPeers
	}

	logger.Info("引导节点", "seeds", len(seeds))
	return n.swarm.Bootstrap(ctx, seeds)
}

// Lookup 查找距离 target 最近的节点
func (n *Node) Lookup(ctx context.Context, target types.NodeID) ([]types.PeerInfo, error) {
	if err := n.checkRunning(); err != nil {
		return nil, err
	}
	return n.swarm.Lookup(ctx, target)
}

// RoutingPeers 返回路由表中的节点
func (n *Node) RoutingPeers(ctx context.Context) ([]PeerRecord, error) {
	if err := n.checkRunning(); err != nil {
		return nil, err
	}
	return n.swarm.RoutingPeers(ctx)
}

// ConnectedPeers 返回已连接的节点
func (n *Node) ConnectedPeers(ctx context.Context) ([]types.PeerInfo, error) {
	if err := n.checkRunning(); err != nil {
		return nil, err
	}
	return n.swarm.ConnectedPeers(ctx)
}

// ════════════════════════════════════════════════════════════════════════════
//                              发布订阅
// ════════════════════════════════════════════════════════════════════════════

// Publish 向主题发布消息
//
// 消息发给所有已连接节点；本节点的订阅不会收到自己发布的消息。
func (n *Node) Publish(ctx context.Context, topic string, payload []byte) (*types.Envelope, error) {
	if err := n.checkRunning(); err != nil {
		return nil, err
	}
	return n.swarm.Publish(ctx, topic, payload)
}

// Subscribe 订阅主题
//
// 同一主题可以有多个订阅，每个订阅都收到一份消息。
func (n *Node) Subscribe(topic string) (*Subscription, error) {
	if err := n.checkRunning(); err != nil {
		return nil, err
	}

	n.topicMu.Lock()
	defer n.topicMu.Unlock()

	sub := newSubscription(n, topic, n.opts.subBuffer)

	n.subMu.Lock()
	set, ok := n.subs[topic]
	if !ok {
		set = make(map[*Subscription]struct{})
		n.subs[topic] = set
	}
	set[sub] = struct{}{}
	n.subMu.Unlock()

	if !ok {
		if err := n.swarm.Subscribe(context.Background(), topic); err != nil {
			n.subMu.Lock()
			delete(n.subs, topic)
			n.subMu.Unlock()
			return nil, err
		}
		logger.Info("已订阅主题", "topic", topic)
	}
	return sub, nil
}

// Unsubscribe 取消主题的所有订阅
func (n *Node) Unsubscribe(topic string) error {
	if err := n.checkRunning(); err != nil {
		return err
	}

	n.topicMu.Lock()
	defer n.topicMu.Unlock()

	n.subMu.Lock()
	set, ok := n.subs[topic]
	delete(n.subs, topic)
	for sub := range set {
		sub.close()
	}
	n.subMu.Unlock()

	if !ok {
		return nil
	}
	logger.Info("已取消订阅主题", "topic", topic)
	return n.swarm.Unsubscribe(context.Background(), topic)
}

// cancel 取消单个订阅，最后一个订阅取消时退订主题
func (n *Node) cancel(sub *Subscription) {
	n.topicMu.Lock()
	defer n.topicMu.Unlock()

	n.subMu.Lock()
	set, ok := n.subs[sub.topic]
	if !ok {
		n.subMu.Unlock()
		return
	}
	if _, found := set[sub]; !found {
		n.subMu.Unlock()
		return
	}
	delete(set, sub)
	sub.close()
	last := len(set) == 0
	if last {
		delete(n.subs, sub.topic)
	}
	n.subMu.Unlock()

	if last && n.checkRunning() == nil {
		if err := n.swarm.Unsubscribe(context.Background(), sub.topic); err != nil {
			logger.Debug("退订主题失败", "topic", sub.topic, "error", err)
		}
	}
}

// deliver 由事件循环调用，将消息放入各订阅的缓冲
func (n *Node) deliver(env *types.Envelope) {
	n.subMu.RLock()
	defer n.subMu.RUnlock()

	for sub := range n.subs[env.Topic] {
		sub.push(env)
	}
}
