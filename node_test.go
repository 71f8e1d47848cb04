package floodnet

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"github.com/dep2p/go-floodnet/config"
	"github.com/dep2p/go-floodnet/internal/core/identity"
	"github.com/dep2p/go-floodnet/internal/core/swarm"
	"github.com/dep2p/go-floodnet/internal/core/transport"
	"github.com/dep2p/go-floodnet/internal/core/transport/memory"
	"github.com/dep2p/go-floodnet/pkg/types"
)

// ════════════════════════════════════════════════════════════════════════════
// 测试辅助
// ════════════════════════════════════════════════════════════════════════════

func memoryTransport(n *memory.Network) TransportFactory {
	return func(id *identity.Identity) (transport.Transport, error) {
		return n.Transport(id.ID()), nil
	}
}

func testNodeConfig(addr string) *config.Config {
	cfg := config.NewConfig()
	cfg.Listen.Addrs = []string{addr}
	cfg.ConnMgr.DialTimeout = config.Duration(time.Second)
	cfg.ConnMgr.HelloTimeout = config.Duration(time.Second)
	cfg.Discovery.QueryTimeout = config.Duration(time.Second)
	cfg.Discovery.RefreshInterval = 0
	return cfg
}

func startNode(t *testing.T, n *memory.Network, addr string, opts ...Option) *Node {
	t.Helper()
	opts = append([]Option{
		WithConfig(testNodeConfig(addr)),
		WithTransport(memoryTransport(n)),
	}, opts...)

	node, err := New(opts...)
	require.NoError(t, err)
	require.NoError(t, node.Start(context.Background()))
	t.Cleanup(func() { _ = node.Close() })
	return node
}

func next(t *testing.T, sub *Subscription) *types.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	env, err := sub.Next(ctx)
	require.NoError(t, err)
	return env
}

// ════════════════════════════════════════════════════════════════════════════
// 生命周期
// ════════════════════════════════════════════════════════════════════════════

func TestNode_Lifecycle(t *testing.T) {
	n := memory.NewNetwork()
	id, err := identity.FromHexSeed("01")
	require.NoError(t, err)

	node, err := New(
		WithConfig(testNodeConfig("/memory/1")),
		WithIdentity(id),
		WithTransport(memoryTransport(n)),
	)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, node.State())
	assert.Equal(t, id.ID(), node.ID())

	_, err = node.ConnectedPeers(context.Background())
	assert.ErrorIs(t, err, ErrNotStarted)

	require.NoError(t, node.Start(context.Background()))
	assert.ErrorIs(t, node.Start(context.Background()), ErrAlreadyStarted)
	assert.Equal(t, StateRunning, node.State())
	assert.Equal(t, []string{"/memory/1/p2p/" + id.ID().String()}, node.Addrs())
	assert.NotNil(t, node.MetricsHandler())

	require.NoError(t, node.Close())
	require.NoError(t, node.Close())
	assert.Equal(t, StateClosed, node.State())
	assert.ErrorIs(t, node.Start(context.Background()), ErrNodeClosed)

	_, err = node.Publish(context.Background(), "t", nil)
	assert.ErrorIs(t, err, ErrNodeClosed)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.NewConfig()
	cfg.PubSub.Topic = ""
	_, err := New(WithConfig(cfg))
	assert.Error(t, err)

	_, err = New(WithConfig(nil))
	assert.Error(t, err)

	_, err = New(WithSubscriptionBuffer(0))
	assert.Error(t, err)
}

// TestNodeModule 测试 fx 组件图
func TestNodeModule(t *testing.T) {
	n := memory.NewNetwork()
	o, err := newOptions([]Option{
		WithConfig(testNodeConfig("/memory/7")),
		WithTransport(memoryTransport(n)),
	})
	require.NoError(t, err)

	node := &Node{opts: o, subs: make(map[string]map[*Subscription]struct{})}
	var s *swarm.Swarm
	app := fxtest.New(t,
		nodeModule(o, node),
		fx.Populate(&s),
	)
	app.RequireStart()

	require.NotNil(t, s)
	assert.Same(t, s, node.swarm)
	assert.Equal(t, []string{"/memory/7"}, s.Addrs())
	_, err = s.ConnectedPeers(context.Background())
	require.NoError(t, err)

	app.RequireStop()
	_, err = s.ConnectedPeers(context.Background())
	assert.ErrorIs(t, err, swarm.ErrSwarmClosed)
}

// ════════════════════════════════════════════════════════════════════════════
// 端到端
// ════════════════════════════════════════════════════════════════════════════

// TestNode_ThreeNodes 测试三个节点的引导、消息传播与重放
func TestNode_ThreeNodes(t *testing.T) {
	n := memory.NewNetwork()
	a := startNode(t, n, "/memory/1")
	b := startNode(t, n, "/memory/2")
	c := startNode(t, n, "/memory/3")
	ctx := context.Background()

	_, err := b.Bootstrap(ctx, a.Addrs())
	require.NoError(t, err)
	_, err = c.Bootstrap(ctx, []string{"/memory/2"})
	require.NoError(t, err)

	subs := make(map[string]*Subscription)
	for name, node := range map[string]*Node{"a": a, "b": b, "c": c} {
		sub, err := node.Subscribe("example-topic")
		require.NoError(t, err)
		subs[name] = sub
	}

	env, err := a.Publish(ctx, "example-topic", []byte("hello"))
	require.NoError(t, err)

	for _, name := range []string{"b", "c"} {
		got := next(t, subs[name])
		assert.Equal(t, env.ID, got.ID)
		assert.Equal(t, "hello", string(got.Payload))
	}

	// C 的查找能找到 A
	peers, err := c.Lookup(ctx, a.ID())
	require.NoError(t, err)
	require.NotEmpty(t, peers)
	assert.Equal(t, a.ID(), peers[0].ID)

	// 第二条消息同样只投递一次
	env2, err := b.Publish(ctx, "example-topic", []byte("again"))
	require.NoError(t, err)
	assert.NotEqual(t, env.ID, env2.ID)
	assert.Equal(t, env2.ID, next(t, subs["a"]).ID)
	assert.Equal(t, env2.ID, next(t, subs["c"]).ID)

	time.Sleep(100 * time.Millisecond)
	for name, sub := range subs {
		assert.Empty(t, sub.Messages(), "节点 %s 收到重复消息", name)
	}
}

func TestNode_Bootstrap_NoPeers(t *testing.T) {
	n := memory.NewNetwork()
	a := startNode(t, n, "/memory/1")

	_, err := a.Bootstrap(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoBootstrapPeers)

	// 无法解析的地址被跳过
	_, err = a.Bootstrap(context.Background(), []string{"/memory/10/p2p/bad"})
	assert.ErrorIs(t, err, ErrNoBootstrapPeers)
}

func TestNode_BootstrapFromConfig(t *testing.T) {
	n := memory.NewNetwork()
	a := startNode(t, n, "/memory/1")
	b := startNode(t, n, "/memory/2", WithBootstrapPeers(a.Addrs()...))

	_, err := b.Bootstrap(context.Background(), nil)
	require.NoError(t, err)

	peers, err := b.ConnectedPeers(context.Background())
	require.NoError(t, err)
	require.Len(t, peers, 1)
	assert.Equal(t, a.ID(), peers[0].ID)
}

// ════════════════════════════════════════════════════════════════════════════
// 订阅
// ════════════════════════════════════════════════════════════════════════════

func TestSubscription_Cancel(t *testing.T) {
	n := memory.NewNetwork()
	a := startNode(t, n, "/memory/1")
	b := startNode(t, n, "/memory/2")
	_, err := b.Bootstrap(context.Background(), a.Addrs())
	require.NoError(t, err)

	first, err := b.Subscribe("t")
	require.NoError(t, err)
	second, err := b.Subscribe("t")
	require.NoError(t, err)

	_, err = a.Publish(context.Background(), "t", []byte("1"))
	require.NoError(t, err)
	assert.Equal(t, "1", string(next(t, first).Payload))
	assert.Equal(t, "1", string(next(t, second).Payload))

	// 取消一个订阅后另一个仍然有效
	first.Cancel()
	_, err = first.Next(context.Background())
	assert.ErrorIs(t, err, ErrSubscriptionCancelled)

	_, err = a.Publish(context.Background(), "t", []byte("2"))
	require.NoError(t, err)
	assert.Equal(t, "2", string(next(t, second).Payload))

	require.NoError(t, b.Unsubscribe("t"))
	_, err = second.Next(context.Background())
	assert.ErrorIs(t, err, ErrSubscriptionCancelled)
	second.Cancel()
}

// TestSubscription_SlowConsumer 测试缓冲已满时丢弃而不阻塞
func TestSubscription_SlowConsumer(t *testing.T) {
	n := memory.NewNetwork()
	a := startNode(t, n, "/memory/1")
	b := startNode(t, n, "/memory/2", WithSubscriptionBuffer(2))
	_, err := b.Bootstrap(context.Background(), a.Addrs())
	require.NoError(t, err)

	sub, err := b.Subscribe("t")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := a.Publish(context.Background(), "t", []byte(fmt.Sprint(i)))
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return len(sub.Messages()) == 2
	}, 3*time.Second, 10*time.Millisecond)

	// 事件循环仍然响应
	_, err = b.ConnectedPeers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0", string(next(t, sub).Payload))
}

func TestNode_CloseCancelsSubscriptions(t *testing.T) {
	n := memory.NewNetwork()
	a := startNode(t, n, "/memory/1")

	sub, err := a.Subscribe("t")
	require.NoError(t, err)
	require.NoError(t, a.Close())

	_, err = sub.Next(context.Background())
	assert.ErrorIs(t, err, ErrSubscriptionCancelled)
	sub.Cancel()
}
