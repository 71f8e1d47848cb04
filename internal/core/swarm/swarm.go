package swarm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/dep2p/go-floodnet/internal/core/metrics"
	"github.com/dep2p/go-floodnet/internal/core/transport"
	"github.com/dep2p/go-floodnet/internal/discovery/dht"
	"github.com/dep2p/go-floodnet/internal/protocol/pubsub"
	"github.com/dep2p/go-floodnet/pkg/lib/log"
	"github.com/dep2p/go-floodnet/pkg/types"
)

var logger = log.Logger("core/swarm")

// eventBuffer 事件通道缓冲
const eventBuffer = 1024

// ============================================================================
//                              事件
// ============================================================================

// event 事件循环处理的事件
type event interface {
	isEvent()
}

// inboundEvent 入站连接
type inboundEvent struct {
	conn transport.Conn
}

// dialDoneEvent 拨号完成
type dialDoneEvent struct {
	addr string
	conn transport.Conn
	err  error
}

// frameEvent 会话收到一帧
type frameEvent struct {
	sess *session
	data []byte
}

// sessionClosedEvent 会话读端结束
type sessionClosedEvent struct {
	sess *session
	err  error
}

// callEvent 在事件循环中执行的函数
type callEvent struct {
	fn func()
}

func (inboundEvent) isEvent()       {}
func (dialDoneEvent) isEvent()      {}
func (frameEvent) isEvent()         {}
func (sessionClosedEvent) isEvent() {}
func (callEvent) isEvent()          {}

// ============================================================================
//                              Swarm
// ============================================================================

// Swarm 连接管理与事件循环
//
// 除标注为事件循环专用的字段外，其余字段在 Start 之后只读。
type Swarm struct {
	local     types.NodeID
	transport transport.Transport
	config    Config
	clock     clock.Clock
	metrics   *metrics.Metrics

	listeners []transport.Listener
	announce  []string

	events chan event
	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
	done   chan struct{}

	startOnce sync.Once
	started   atomic.Bool
	closed    atomic.Bool

	// ---- 以下字段只由事件循环访问 ----

	dht    *dht.DHT
	pubsub *pubsub.PubSub

	// sessions 已完成身份交换的会话
	sessions map[types.NodeID]*session

	// handshaking 等待 HELLO 的会话
	handshaking map[*session]struct{}

	// addrs 每个拨号地址的状态机
	addrs map[string]*addrState

	// pending 等待连接建立的出站帧
	pending map[types.NodeID]*pendingPeer

	// deferred 当前事件处理完后执行的回调
	deferred []func()
}

// New 创建 Swarm
func New(local types.NodeID, tr transport.Transport, opts ...Option) (*Swarm, error) {
	if local.IsEmpty() {
		return nil, fmt.Errorf("%w: empty local ID", ErrInvalidConfig)
	}
	if tr == nil {
		return nil, fmt.Errorf("%w: nil transport", ErrInvalidConfig)
	}

	o := options{config: DefaultConfig()}
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.config.Validate(); err != nil {
		return nil, err
	}
	if o.clock == nil {
		o.clock = clock.New()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Swarm{
		local:       local,
		transport:   tr,
		config:      o.config,
		clock:       o.clock,
		metrics:     o.metrics,
		events:      make(chan event, eventBuffer),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		sessions:    make(map[types.NodeID]*session),
		handshaking: make(map[*session]struct{}),
		addrs:       make(map[string]*addrState),
		pending:     make(map[types.NodeID]*pendingPeer),
	}

	d, err := dht.New(local, s, o.clock, o.config.Discovery, o.metrics)
	if err != nil {
		cancel()
		return nil, err
	}
	psOpts := append([]pubsub.Option{
		pubsub.WithClock(o.clock),
		pubsub.WithMetrics(o.metrics),
	}, o.pubsub...)
	ps, err := pubsub.New(local, s, psOpts...)
	if err != nil {
		cancel()
		return nil, err
	}
	s.dht = d
	s.pubsub = ps
	return s, nil
}

// ID 返回本地节点 ID
func (s *Swarm) ID() types.NodeID {
	return s.local
}

// Addrs 返回公布的地址（Start 之后有效）
func (s *Swarm) Addrs() []string {
	return append([]string(nil), s.announce...)
}

// ============================================================================
//                              生命周期
// ============================================================================

// Start 开始监听并启动事件循环
func (s *Swarm) Start() error {
	if s.closed.Load() {
		return ErrSwarmClosed
	}

	var err error
	s.startOnce.Do(func() {
		err = s.start()
	})
	return err
}

func (s *Swarm) start() error {
	var listenAddrs []string
	for _, addr := range s.config.ListenAddrs {
		l, err := s.transport.Listen(addr)
		if err != nil {
			for _, prev := range s.listeners {
				_ = prev.Close()
			}
			s.listeners = nil
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		s.listeners = append(s.listeners, l)
		listenAddrs = append(listenAddrs, l.Addr())
		logger.Info("正在监听", "addr", l.Addr())
	}

	s.announce = s.config.AnnounceAddrs
	if len(s.announce) == 0 {
		s.announce = resolveAnnounce(s.transport, listenAddrs)
	}

	s.group, s.ctx = errgroup.WithContext(s.ctx)
	s.group.Go(s.loop)
	for _, l := range s.listeners {
		l := l
		s.group.Go(func() error {
			s.acceptLoop(l)
			return nil
		})
	}
	if s.config.RefreshInterval > 0 {
		s.group.Go(func() error {
			s.tick(s.config.RefreshInterval, s.dht.Refresh)
			return nil
		})
	}
	if s.config.PruneInterval > 0 {
		s.group.Go(func() error {
			s.tick(s.config.PruneInterval, s.pubsub.Prune)
			return nil
		})
	}

	s.started.Store(true)
	logger.Info("Swarm 已启动", "id", s.local.ShortString(), "addrs", s.announce)
	return nil
}

// resolveAnnounce 将监听地址展开为可公布的地址
func resolveAnnounce(tr transport.Transport, listenAddrs []string) []string {
	r, ok := tr.(transport.AddrResolver)
	if !ok {
		return listenAddrs
	}
	var out []string
	for _, addr := range listenAddrs {
		out = append(out, r.AnnounceAddrs(addr)...)
	}
	return out
}

// Close 停止事件循环，关闭所有会话和监听器并等待 goroutine 退出
//
// 进行中的查找被放弃，拨号通过 context 取消。
func (s *Swarm) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.cancel()
	if !s.started.Load() {
		return nil
	}

	var err error
	for _, l := range s.listeners {
		err = multierr.Append(err, l.Close())
	}
	err = multierr.Append(err, s.group.Wait())
	logger.Info("Swarm 已关闭", "id", s.local.ShortString())
	return err
}

// ============================================================================
//                              事件循环
// ============================================================================

// loop 事件循环
func (s *Swarm) loop() error {
	defer close(s.done)
	for {
		select {
		case ev := <-s.events:
			s.handle(ev)
			s.runDeferred()
		case <-s.ctx.Done():
			s.shutdown()
			return nil
		}
	}
}

func (s *Swarm) handle(ev event) {
	switch ev := ev.(type) {
	case inboundEvent:
		s.handleInbound(ev.conn)
	case dialDoneEvent:
		s.handleDialDone(ev)
	case frameEvent:
		s.handleFrame(ev.sess, ev.data)
	case sessionClosedEvent:
		s.handleSessionClosed(ev.sess, ev.err)
	case callEvent:
		ev.fn()
	}
}

// later 在当前事件处理完成后执行 fn
//
// 用于保证交给发现引擎和应用的回调不会在调用返回前同步触发。
func (s *Swarm) later(fn func()) {
	s.deferred = append(s.deferred, fn)
}

func (s *Swarm) runDeferred() {
	for len(s.deferred) > 0 {
		fn := s.deferred[0]
		s.deferred[0] = nil
		s.deferred = s.deferred[1:]
		fn()
	}
}

// post 从其它 goroutine 投递事件
//
// 事件循环已退出时返回 false，调用方负责释放事件携带的资源。
func (s *Swarm) post(ev event) bool {
	if s.ctx.Err() != nil {
		return false
	}
	select {
	case s.events <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// do 在事件循环中执行 fn 并等待其完成
func (s *Swarm) do(ctx context.Context, fn func()) error {
	if !s.started.Load() {
		return ErrSwarmNotStarted
	}
	finished := make(chan struct{})
	ev := callEvent{fn: func() {
		fn()
		close(finished)
	}}

	select {
	case s.events <- ev:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrSwarmClosed
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrSwarmClosed
	}
}

// tick 周期性地在事件循环中执行 fn
func (s *Swarm) tick(interval time.Duration, fn func()) {
	t := s.clock.Ticker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.post(callEvent{fn: fn})
		case <-s.ctx.Done():
			return
		}
	}
}

// acceptLoop 接受入站连接
func (s *Swarm) acceptLoop(l transport.Listener) {
	for {
		conn, err := l.Accept()
		if err != nil {
			if s.ctx.Err() == nil && !errors.Is(err, transport.ErrTransportClosed) {
				logger.Warn("接受连接失败", "addr", l.Addr(), "error", err)
			}
			return
		}
		if !s.post(inboundEvent{conn: conn}) {
			_ = conn.Close()
			return
		}
	}
}

// shutdown 事件循环退出前的清理
func (s *Swarm) shutdown() {
	s.dht.Close()
	s.pubsub.Close()

	for _, sess := range s.sessions {
		sess.terminate()
	}
	for sess := range s.handshaking {
		sess.terminate()
	}
	s.sessions = make(map[types.NodeID]*session)
	s.handshaking = make(map[*session]struct{})
	s.pending = make(map[types.NodeID]*pendingPeer)
	s.deferred = nil
	s.metrics.SetSessions(0)

	// 释放已排队事件中的连接
	for {
		select {
		case ev := <-s.events:
			switch ev := ev.(type) {
			case inboundEvent:
				_ = ev.conn.Close()
			case dialDoneEvent:
				if ev.conn != nil {
					_ = ev.conn.Close()
				}
			}
		default:
			return
		}
	}
}
