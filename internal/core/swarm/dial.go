package swarm

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dep2p/go-floodnet/internal/core/metrics"
	"github.com/dep2p/go-floodnet/internal/protocol/wire"
	"github.com/dep2p/go-floodnet/pkg/types"
)

// ============================================================================
//                              地址状态机
// ============================================================================

// dialState 地址拨号状态
type dialState int

const (
	dialIdle dialState = iota
	dialDialing
	dialConnected
	dialClosed
)

func (st dialState) String() string {
	switch st {
	case dialIdle:
		return "Idle"
	case dialDialing:
		return "Dialing"
	case dialConnected:
		return "Connected"
	case dialClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// addrState 单个地址的拨号状态
type addrState struct {
	addr  string
	state dialState

	// expected 期望的对端 ID（仅知道地址时为空）
	expected types.NodeID

	// peer 最近一次成功连接的对端 ID
	peer types.NodeID

	backoff *backoff.ExponentialBackOff
	retryAt time.Time

	// waiters Connect 的回调
	waiters []func(types.PeerInfo, error)
}

// eligible 地址当前是否可以拨号
func (a *addrState) eligible(now time.Time) bool {
	return (a.state == dialIdle || a.state == dialClosed) && !now.Before(a.retryAt)
}

// addrStateFor 返回地址的状态，不存在时创建
func (s *Swarm) addrStateFor(addr string) *addrState {
	if st, ok := s.addrs[addr]; ok {
		return st
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.config.BackoffInitial
	b.MaxInterval = s.config.BackoffMax
	b.MaxElapsedTime = 0
	b.Clock = s.clock
	b.Reset()

	st := &addrState{addr: addr, backoff: b}
	s.addrs[addr] = st
	return st
}

// pendingPeer 等待连接的节点及其排队帧
type pendingPeer struct {
	frames []queuedFrame

	// addrs 尚未尝试的地址
	addrs []string

	// dialing 正在拨号的地址，为空表示未在拨号
	dialing string

	lastErr error
}

type queuedFrame struct {
	typ  wire.FrameType
	data []byte
}

// ============================================================================
//                              dht.Network
// ============================================================================

// Send 向节点发送帧
//
// 未连接时排队并拨号；所有地址失败后通知发现引擎该节点不可达。
func (s *Swarm) Send(to types.PeerInfo, f *wire.Frame) {
	if to.ID == s.local {
		return
	}
	if sess := s.sessions[to.ID]; sess != nil {
		s.enqueue(sess, f)
		return
	}

	data, err := wire.Encode(f)
	if err != nil {
		logger.Warn("帧编码失败", "type", f.Type, "error", err)
		return
	}

	p := s.pending[to.ID]
	if p == nil {
		p = &pendingPeer{}
		s.pending[to.ID] = p
	}
	p.addrs = types.MergeAddrs(p.addrs, to.Addrs)
	if len(p.frames) >= s.config.SendQueueSize {
		s.metrics.DroppedFrame()
		logger.Debug("待发送队列已满，丢弃帧", "peer", to.ID.ShortString(), "type", f.Type)
	} else {
		p.frames = append(p.frames, queuedFrame{typ: f.Type, data: data})
	}

	if p.dialing == "" && !s.isHandshaking(to.ID) {
		s.dialNext(to.ID, p)
	}
}

// Connect 拨号仅知道地址的节点，身份交换完成后回调
func (s *Swarm) Connect(addr string, cb func(types.PeerInfo, error)) {
	st := s.addrStateFor(addr)
	switch {
	case st.state == dialConnected && s.sessions[st.peer] != nil:
		info := s.sessions[st.peer].info()
		s.later(func() { cb(info, nil) })
	case st.state == dialDialing:
		st.waiters = append(st.waiters, cb)
	case !st.eligible(s.clock.Now()):
		err := dialError(types.EmptyNodeID, addr, ErrDialBackoff)
		s.later(func() { cb(types.PeerInfo{}, err) })
	default:
		st.waiters = append(st.waiters, cb)
		st.expected = types.EmptyNodeID
		s.startDial(st)
	}
}

// AfterFunc 在 d 之后于事件循环中执行 fn
//
// 返回的 cancel 必须在事件循环中调用；调用后 fn 保证不再执行。
func (s *Swarm) AfterFunc(d time.Duration, fn func()) (cancel func()) {
	cancelled := false
	t := s.clock.AfterFunc(d, func() {
		s.post(callEvent{fn: func() {
			if !cancelled {
				fn()
			}
		}})
	})
	return func() {
		cancelled = true
		t.Stop()
	}
}

// ============================================================================
//                              拨号
// ============================================================================

// isHandshaking 是否有来自 id 的会话正在等待 HELLO
func (s *Swarm) isHandshaking(id types.NodeID) bool {
	for sess := range s.handshaking {
		if sess.remote == id {
			return true
		}
	}
	return false
}

// dialNext 为排队的节点尝试下一个可用地址
func (s *Swarm) dialNext(id types.NodeID, p *pendingPeer) {
	now := s.clock.Now()
	for len(p.addrs) > 0 {
		addr := p.addrs[0]
		p.addrs = p.addrs[1:]

		st := s.addrStateFor(addr)
		if st.state == dialDialing {
			// 搭乘进行中的拨号
			p.dialing = addr
			return
		}
		if !st.eligible(now) {
			p.lastErr = dialError(id, addr, ErrDialBackoff)
			continue
		}
		st.expected = id
		p.dialing = addr
		s.startDial(st)
		return
	}

	delete(s.pending, id)
	cause := p.lastErr
	if cause == nil {
		cause = dialError(id, "", ErrNoAddresses)
	}
	for range p.frames {
		s.metrics.DroppedFrame()
	}
	logger.Debug("节点不可达，丢弃排队帧", "peer", id.ShortString(), "frames", len(p.frames), "error", cause)
	s.later(func() { s.dht.PeerUnreachable(id, cause) })
}

// startDial 在后台拨号
func (s *Swarm) startDial(st *addrState) {
	st.state = dialDialing
	addr := st.addr
	logger.Debug("开始拨号", "addr", addr, "peer", st.expected.ShortString())

	s.group.Go(func() error {
		ctx, cancel := context.WithTimeout(s.ctx, s.config.DialTimeout)
		defer cancel()

		conn, err := s.transport.Dial(ctx, addr)
		if !s.post(dialDoneEvent{addr: addr, conn: conn, err: err}) && conn != nil {
			_ = conn.Close()
		}
		return nil
	})
}

// handleDialDone 处理拨号结果
func (s *Swarm) handleDialDone(ev dialDoneEvent) {
	st := s.addrStateFor(ev.addr)
	if ev.err != nil {
		s.dialFailed(st, dialError(st.expected, ev.addr, ev.err))
		return
	}

	remote := ev.conn.RemotePeer()
	switch {
	case remote == s.local:
		_ = ev.conn.Close()
		s.dialFailed(st, dialError(remote, ev.addr, ErrDialToSelf))
	case !st.expected.IsEmpty() && remote != st.expected:
		_ = ev.conn.Close()
		s.dialFailed(st, dialError(st.expected, ev.addr, ErrIdentityMismatch))
	default:
		s.newSession(ev.conn, dirOutbound, ev.addr)
	}
}

// dialFailed 地址回到 Idle 并进入退避，通知等待者
func (s *Swarm) dialFailed(st *addrState, err error) {
	st.state = dialIdle
	delay := st.backoff.NextBackOff()
	st.retryAt = s.clock.Now().Add(delay)
	s.metrics.Dial(metrics.ResultFailure)
	logger.Debug("拨号失败", "addr", st.addr, "retryIn", delay, "error", err)

	waiters := st.waiters
	st.waiters = nil
	for _, cb := range waiters {
		cb := cb
		s.later(func() { cb(types.PeerInfo{}, err) })
	}

	for id, p := range s.pending {
		if p.dialing != st.addr {
			continue
		}
		p.dialing = ""
		p.lastErr = err
		s.dialNext(id, p)
	}
}

// dialSucceeded 出站会话完成身份交换
//
// kept 为 false 表示该会话作为重复会话被关闭，地址回到 Closed。
func (s *Swarm) dialSucceeded(sess *session, info types.PeerInfo, kept bool) {
	if sess.dir != dirOutbound {
		return
	}
	st := s.addrs[sess.dialAddr]
	if st == nil {
		return
	}

	st.backoff.Reset()
	st.retryAt = time.Time{}
	st.peer = sess.remote
	if kept {
		st.state = dialConnected
	} else {
		st.state = dialClosed
	}
	s.metrics.Dial(metrics.ResultOK)

	// 搭乘该地址拨号但期望其它身份的排队节点改用下一个地址
	for id, p := range s.pending {
		if p.dialing != st.addr || id == sess.remote {
			continue
		}
		p.dialing = ""
		p.lastErr = dialError(id, st.addr, ErrIdentityMismatch)
		s.dialNext(id, p)
	}

	waiters := st.waiters
	st.waiters = nil
	for _, cb := range waiters {
		cb := cb
		s.later(func() { cb(info, nil) })
	}
}

// flushPending 发送为该节点排队的帧
func (s *Swarm) flushPending(sess *session) {
	p := s.pending[sess.remote]
	if p == nil {
		return
	}
	delete(s.pending, sess.remote)
	for _, qf := range p.frames {
		s.enqueueRaw(sess, qf.typ, qf.data)
	}
	// 其它地址上仍在进行的拨号结果由 handleDialDone 处理，重复会话在 HELLO 后去重
}
