package swarm

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-floodnet/internal/core/metrics"
	"github.com/dep2p/go-floodnet/internal/core/transport"
	"github.com/dep2p/go-floodnet/internal/core/transport/memory"
	"github.com/dep2p/go-floodnet/internal/discovery/dht"
	"github.com/dep2p/go-floodnet/internal/protocol/wire"
	"github.com/dep2p/go-floodnet/pkg/types"
)

// ============================================================================
// 测试辅助
// ============================================================================

type testNode struct {
	*Swarm
	addr      string
	delivered chan *types.Envelope
	metrics   *metrics.Metrics
}

func testConfig(addr string) Config {
	cfg := DefaultConfig()
	cfg.ListenAddrs = []string{addr}
	cfg.DialTimeout = 500 * time.Millisecond
	cfg.HelloTimeout = 500 * time.Millisecond
	cfg.BackoffInitial = 50 * time.Millisecond
	cfg.BackoffMax = 200 * time.Millisecond
	cfg.RefreshInterval = 0
	cfg.Discovery.QueryTimeout = time.Second
	cfg.Discovery.PingTimeout = 500 * time.Millisecond
	return cfg
}

func newTestNode(t *testing.T, n *memory.Network, addr string, mutate ...func(*Config)) *testNode {
	t.Helper()

	id := types.RandomNodeID()
	cfg := testConfig(addr)
	for _, fn := range mutate {
		fn(&cfg)
	}

	tn := &testNode{addr: addr, delivered: make(chan *types.Envelope, 64), metrics: metrics.New()}
	s, err := New(id, n.Transport(id),
		WithConfig(cfg),
		WithMetrics(tn.metrics),
		WithDeliver(func(env *types.Envelope) {
			select {
			case tn.delivered <- env:
			default:
			}
		}))
	require.NoError(t, err)
	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Close() })

	tn.Swarm = s
	return tn
}

func (tn *testNode) info() types.PeerInfo {
	return types.PeerInfo{ID: tn.ID(), Addrs: []string{tn.addr}}
}

func (tn *testNode) connected(t *testing.T) []types.NodeID {
	t.Helper()
	peers, err := tn.ConnectedPeers(context.Background())
	require.NoError(t, err)
	ids := make([]types.NodeID, 0, len(peers))
	for _, p := range peers {
		ids = append(ids, p.ID)
	}
	return ids
}

// messageCount 读取 PubSub 消息事件计数
func (tn *testNode) messageCount(t *testing.T, event string) float64 {
	t.Helper()
	families, err := tn.metrics.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "floodnet_pubsub_messages_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "event" && lp.GetValue() == event {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func (tn *testNode) knows(t *testing.T, id types.NodeID) bool {
	t.Helper()
	records, err := tn.RoutingPeers(context.Background())
	require.NoError(t, err)
	for _, r := range records {
		if r.ID == id {
			return true
		}
	}
	return false
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func receive(t *testing.T, ch <-chan *types.Envelope) *types.Envelope {
	t.Helper()
	select {
	case env := <-ch:
		return env
	case <-time.After(3 * time.Second):
		t.Fatal("等待消息超时")
		return nil
	}
}

// ============================================================================
// 配置与错误
// ============================================================================

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"拨号超时", func(c *Config) { c.DialTimeout = 0 }},
		{"HELLO 超时", func(c *Config) { c.HelloTimeout = -1 }},
		{"队列长度", func(c *Config) { c.SendQueueSize = 0 }},
		{"退避范围", func(c *Config) { c.BackoffMax = c.BackoffInitial / 2 }},
		{"刷新间隔", func(c *Config) { c.RefreshInterval = -time.Second }},
		{"发现配置", func(c *Config) { c.Discovery.Alpha = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	_, err := New(types.EmptyNodeID, memory.NewNetwork().Transport(types.RandomNodeID()))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestDialError_Wrapping(t *testing.T) {
	peer := types.RandomNodeID()
	err := dialError(peer, "/memory/10", ErrDialBackoff)

	assert.ErrorIs(t, err, ErrDialFailure)
	assert.ErrorIs(t, err, ErrDialBackoff)
	assert.Contains(t, err.Error(), "/memory/10")

	var se *Error
	require.True(t, errors.As(error(err), &se))
	assert.Equal(t, "dial", se.Op)
	assert.Equal(t, peer, se.Peer)

	// 已包含 ErrDialFailure 的原因不重复包装
	again := dialError(peer, "", err)
	assert.ErrorIs(t, again, ErrDialBackoff)

	// 经过发现引擎包装后仍可识别
	wrapped := dht.NewDHTError("find_peers", peer, err)
	assert.ErrorIs(t, wrapped, ErrDialFailure)
}

func TestSwarm_NotStarted(t *testing.T) {
	id := types.RandomNodeID()
	s, err := New(id, memory.NewNetwork().Transport(id), WithConfig(testConfig("/memory/9")))
	require.NoError(t, err)

	_, err = s.ConnectedPeers(context.Background())
	assert.ErrorIs(t, err, ErrSwarmNotStarted)
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Start(), ErrSwarmClosed)
}

// ============================================================================
// 端到端
// ============================================================================

// TestSwarm_BootstrapAndFlood 测试 A <- B <- C 的引导与消息泛洪
func TestSwarm_BootstrapAndFlood(t *testing.T) {
	n := memory.NewNetwork()
	a := newTestNode(t, n, "/memory/1")
	b := newTestNode(t, n, "/memory/2")
	c := newTestNode(t, n, "/memory/3")
	ctx := testContext(t)

	// B 使用带身份的种子
	peers, err := b.Bootstrap(ctx, []types.PeerInfo{a.info()})
	require.NoError(t, err)
	assert.NotEmpty(t, peers)

	// C 只知道 B 的地址
	_, err = c.Bootstrap(ctx, []types.PeerInfo{{Addrs: []string{b.addr}}})
	require.NoError(t, err)

	// C 通过查找认识了 A
	require.Eventually(t, func() bool {
		records, err := c.RoutingPeers(ctx)
		if err != nil {
			return false
		}
		for _, r := range records {
			if r.ID == a.ID() {
				return true
			}
		}
		return false
	}, 3*time.Second, 20*time.Millisecond)
	assert.Contains(t, b.connected(t), a.ID())

	for _, node := range []*testNode{a, b, c} {
		require.NoError(t, node.Subscribe(ctx, "example-topic"))
	}

	env, err := a.Publish(ctx, "example-topic", []byte("hello"))
	require.NoError(t, err)

	for _, node := range []*testNode{b, c} {
		got := receive(t, node.delivered)
		assert.Equal(t, env.ID, got.ID)
		assert.Equal(t, "hello", string(got.Payload))
		assert.Equal(t, a.ID(), got.Origin)
	}

	// 每个节点只投递一次，发布者自己不投递
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, a.delivered)
	assert.Empty(t, b.delivered)
	assert.Empty(t, c.delivered)
}

// TestSwarm_ChainBootstrapAndReplay 测试 A -> B -> C 链式引导、泛洪与重放去重
//
// A 只知道 B 的地址，B 只知道 C 的地址；A 的路由表最终包含 C。
// 同一消息再次送入 A 时，任何节点都不再投递。
func TestSwarm_ChainBootstrapAndReplay(t *testing.T) {
	n := memory.NewNetwork()
	a := newTestNode(t, n, "/memory/1")
	b := newTestNode(t, n, "/memory/2")
	c := newTestNode(t, n, "/memory/3")
	ctx := testContext(t)

	_, err := b.Bootstrap(ctx, []types.PeerInfo{{Addrs: []string{c.addr}}})
	require.NoError(t, err)
	_, err = a.Bootstrap(ctx, []types.PeerInfo{{Addrs: []string{b.addr}}})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return a.knows(t, c.ID()) },
		3*time.Second, 20*time.Millisecond, "A 的路由表应包含 C")

	for _, node := range []*testNode{a, b, c} {
		require.NoError(t, node.Subscribe(ctx, "example-topic"))
	}

	env, err := a.Publish(ctx, "example-topic", []byte("hello"))
	require.NoError(t, err)
	for _, node := range []*testNode{b, c} {
		got := receive(t, node.delivered)
		assert.Equal(t, env.ID, got.ID)
		assert.Equal(t, "hello", string(got.Payload))
	}

	// 等待泛洪中的转发副本全部到达
	time.Sleep(100 * time.Millisecond)
	before := a.messageCount(t, metrics.MsgDuplicate)

	// B 与 C 各自把同一消息再次送入 A
	for _, from := range []*testNode{b, c} {
		from := from
		require.NoError(t, from.do(ctx, func() {
			from.Send(a.info(), wire.NewPubSub(env))
		}))
	}

	require.Eventually(t, func() bool {
		return a.messageCount(t, metrics.MsgDuplicate) >= before+2
	}, 3*time.Second, 20*time.Millisecond, "重放应作为重复消息被 A 丢弃")

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, a.delivered)
	assert.Empty(t, b.delivered)
	assert.Empty(t, c.delivered)
	assert.Zero(t, a.messageCount(t, metrics.MsgDelivered))
}

// TestSwarm_UnsubscribedRelay 测试未订阅的中间节点仍然转发
func TestSwarm_UnsubscribedRelay(t *testing.T) {
	n := memory.NewNetwork()
	a := newTestNode(t, n, "/memory/1")
	b := newTestNode(t, n, "/memory/2")
	c := newTestNode(t, n, "/memory/3")
	ctx := testContext(t)

	// 只建立 A-B 与 B-C 两条会话
	connect(t, b, a.addr)
	connect(t, c, b.addr)

	require.NoError(t, a.Subscribe(ctx, "t"))
	require.NoError(t, c.Subscribe(ctx, "t"))

	_, err := a.Publish(ctx, "t", []byte("x"))
	require.NoError(t, err)

	got := receive(t, c.delivered)
	assert.Equal(t, "x", string(got.Payload))
	assert.Empty(t, b.delivered)
}

func connect(t *testing.T, from *testNode, addr string) types.PeerInfo {
	t.Helper()
	type result struct {
		info types.PeerInfo
		err  error
	}
	ch := make(chan result, 1)
	require.NoError(t, from.do(context.Background(), func() {
		from.Connect(addr, func(info types.PeerInfo, err error) {
			ch <- result{info, err}
		})
	}))
	select {
	case r := <-ch:
		require.NoError(t, r.err)
		return r.info
	case <-time.After(3 * time.Second):
		t.Fatal("连接超时")
		return types.PeerInfo{}
	}
}

// ============================================================================
// 拨号
// ============================================================================

// TestSwarm_BlackholeDial 测试黑洞地址不阻塞事件循环
func TestSwarm_BlackholeDial(t *testing.T) {
	n := memory.NewNetwork()
	n.Blackhole("/memory/666")
	a := newTestNode(t, n, "/memory/1", func(c *Config) {
		c.DialTimeout = time.Second
		c.BackoffInitial = time.Minute
		c.BackoffMax = time.Minute
	})
	b := newTestNode(t, n, "/memory/2")

	ghost := types.PeerInfo{ID: types.RandomNodeID(), Addrs: []string{"/memory/666"}}

	bootstrapped := make(chan error, 1)
	started := time.Now()
	go func() {
		_, err := a.Bootstrap(context.Background(), []types.PeerInfo{ghost})
		bootstrapped <- err
	}()

	// 拨号进行中，其它事件照常处理
	info := connect(t, b, a.addr)
	assert.Equal(t, a.ID(), info.ID)
	assert.Less(t, time.Since(started), time.Second)

	select {
	case err := <-bootstrapped:
		assert.ErrorIs(t, err, dht.ErrDiscoveryExhausted)
	case <-time.After(3 * time.Second):
		t.Fatal("引导未结束")
	}

	var (
		state   dialState
		backoff bool
	)
	require.NoError(t, a.do(context.Background(), func() {
		st := a.addrs["/memory/666"]
		state = st.state
		backoff = !st.eligible(a.clock.Now())
	}))
	assert.Equal(t, dialIdle, state)
	assert.True(t, backoff)

	// 退避期间 Connect 立即失败
	ch := make(chan error, 1)
	require.NoError(t, a.do(context.Background(), func() {
		a.Connect("/memory/666", func(_ types.PeerInfo, err error) { ch <- err })
	}))
	assert.ErrorIs(t, <-ch, ErrDialBackoff)
}

func TestSwarm_ConnectRefused(t *testing.T) {
	n := memory.NewNetwork()
	a := newTestNode(t, n, "/memory/1")

	ch := make(chan error, 1)
	require.NoError(t, a.do(context.Background(), func() {
		a.Connect("/memory/404", func(_ types.PeerInfo, err error) { ch <- err })
	}))
	select {
	case err := <-ch:
		assert.ErrorIs(t, err, ErrDialFailure)
		assert.ErrorIs(t, err, transport.ErrConnRefused)
	case <-time.After(3 * time.Second):
		t.Fatal("回调未触发")
	}
}

func TestSessionError_Wrapping(t *testing.T) {
	peer := types.RandomNodeID()
	err := sessionError(peer, "/memory/10", io.ErrUnexpectedEOF)
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, "session", err.Op)
	assert.Contains(t, err.Error(), peer.ShortString())

	assert.Equal(t, ErrSessionClosed, sessionError(peer, "", nil).Err)
}

// TestSwarm_ClosedBeforeHello 测试出站会话在身份交换前被对端关闭
func TestSwarm_ClosedBeforeHello(t *testing.T) {
	n := memory.NewNetwork()
	a := newTestNode(t, n, "/memory/1")

	l, err := n.Transport(types.RandomNodeID()).Listen("/memory/5")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	go func() {
		conn, err := l.Accept()
		if err == nil {
			_ = conn.Close()
		}
	}()

	ch := make(chan error, 1)
	require.NoError(t, a.do(context.Background(), func() {
		a.Connect("/memory/5", func(_ types.PeerInfo, err error) { ch <- err })
	}))
	select {
	case err := <-ch:
		assert.ErrorIs(t, err, ErrDialFailure)
		assert.ErrorIs(t, err, ErrSessionClosed)
	case <-time.After(3 * time.Second):
		t.Fatal("回调未触发")
	}
	assert.Empty(t, a.connected(t))
}

// TestSwarm_DuplicateSession 测试同时互相拨号后只保留较小 ID 一方拨出的会话
func TestSwarm_DuplicateSession(t *testing.T) {
	n := memory.NewNetwork()
	a := newTestNode(t, n, "/memory/1")
	b := newTestNode(t, n, "/memory/2")

	done := make(chan struct{}, 2)
	cb := func(types.PeerInfo, error) { done <- struct{}{} }
	require.NoError(t, a.do(context.Background(), func() { a.Connect(b.addr, cb) }))
	require.NoError(t, b.do(context.Background(), func() { b.Connect(a.addr, cb) }))
	<-done
	<-done

	low := a
	if b.ID().Less(a.ID()) {
		low = b
	}

	sessionDir := func(tn *testNode, remote types.NodeID) (direction, int, bool) {
		var (
			dir   direction
			count int
			ok    bool
		)
		_ = tn.do(context.Background(), func() {
			count = len(tn.sessions)
			if sess := tn.sessions[remote]; sess != nil {
				dir, ok = sess.dir, true
			}
		})
		return dir, count, ok
	}

	require.Eventually(t, func() bool {
		dirA, countA, okA := sessionDir(a, b.ID())
		dirB, countB, okB := sessionDir(b, a.ID())
		if !okA || !okB || countA != 1 || countB != 1 {
			return false
		}
		wantA := dirInbound
		if low == a {
			wantA = dirOutbound
		}
		return dirA == wantA && dirB != dirA
	}, 3*time.Second, 20*time.Millisecond)
}

// ============================================================================
// 身份交换
// ============================================================================

// rawPeer 手工驱动协议的对端
func rawPeer(t *testing.T, n *memory.Network, addr string) (types.NodeID, transport.Conn, *wire.Frame) {
	t.Helper()
	id := types.RandomNodeID()
	conn, err := n.Transport(id).Dial(context.Background(), addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	data, err := conn.Receive()
	require.NoError(t, err)
	hello, err := wire.Decode(data)
	require.NoError(t, err)
	require.Equal(t, wire.FrameHello, hello.Type)
	return id, conn, hello
}

func send(t *testing.T, conn transport.Conn, f *wire.Frame) {
	t.Helper()
	data, err := wire.Encode(f)
	require.NoError(t, err)
	require.NoError(t, conn.Send(data))
}

func waitClosed(t *testing.T, conn transport.Conn) {
	t.Helper()
	errc := make(chan error, 1)
	go func() {
		for {
			if _, err := conn.Receive(); err != nil {
				errc <- err
				return
			}
		}
	}()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, io.EOF)
	case <-time.After(3 * time.Second):
		t.Fatal("连接未关闭")
	}
}

func TestSwarm_HelloMismatch(t *testing.T) {
	n := memory.NewNetwork()
	a := newTestNode(t, n, "/memory/1")

	_, conn, hello := rawPeer(t, n, a.addr)
	assert.Equal(t, a.ID(), hello.Self.ID)
	assert.Equal(t, []string{a.addr}, hello.Self.Addrs)

	send(t, conn, wire.NewHello(types.PeerInfo{ID: types.RandomNodeID()}))
	waitClosed(t, conn)
	assert.Empty(t, a.connected(t))
}

func TestSwarm_HelloTimeout(t *testing.T) {
	n := memory.NewNetwork()
	a := newTestNode(t, n, "/memory/1", func(c *Config) { c.HelloTimeout = 100 * time.Millisecond })

	_, conn, _ := rawPeer(t, n, a.addr)
	waitClosed(t, conn)
}

// TestSwarm_FramesBeforeHello 测试身份交换前的帧被丢弃
func TestSwarm_FramesBeforeHello(t *testing.T) {
	n := memory.NewNetwork()
	a := newTestNode(t, n, "/memory/1")

	id, conn, _ := rawPeer(t, n, a.addr)
	send(t, conn, wire.NewFindPeers(1, types.RandomNodeID()))
	send(t, conn, wire.NewHello(types.PeerInfo{ID: id, Addrs: []string{"/memory/99"}}))
	send(t, conn, wire.NewFindPeers(2, types.RandomNodeID()))

	data, err := conn.Receive()
	require.NoError(t, err)
	f, err := wire.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, wire.FrameFindPeersResponse, f.Type)
	assert.Equal(t, uint64(2), f.RequestID)

	require.Eventually(t, func() bool {
		return len(a.connected(t)) == 1
	}, time.Second, 10*time.Millisecond)

	// 会话关闭后从已连接列表移除，路由记录保留
	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		return len(a.connected(t)) == 0
	}, time.Second, 10*time.Millisecond)
	records, err := a.RoutingPeers(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, id, records[0].ID)
}

func TestSwarm_Close(t *testing.T) {
	n := memory.NewNetwork()
	a := newTestNode(t, n, "/memory/1")
	b := newTestNode(t, n, "/memory/2")
	connect(t, b, a.addr)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	_, err := a.ConnectedPeers(context.Background())
	assert.ErrorIs(t, err, ErrSwarmClosed)

	require.Eventually(t, func() bool {
		return len(b.connected(t)) == 0
	}, time.Second, 10*time.Millisecond)
}
