package swarm

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/dep2p/go-floodnet/internal/core/metrics"
	"github.com/dep2p/go-floodnet/internal/core/transport"
	"github.com/dep2p/go-floodnet/internal/protocol/wire"
	"github.com/dep2p/go-floodnet/pkg/types"
)

// direction 会话方向
type direction int

const (
	dirInbound direction = iota
	dirOutbound
)

func (d direction) String() string {
	if d == dirOutbound {
		return "outbound"
	}
	return "inbound"
}

// session 与一个对端的会话
//
// 除 out/done 由读写 goroutine 使用外，其余字段只由事件循环访问。
type session struct {
	conn     transport.Conn
	remote   types.NodeID
	dir      direction
	dialAddr string
	openedAt time.Time

	// listenAddrs 对端在 HELLO 中公布的地址
	listenAddrs []string

	// active 已完成身份交换
	active bool
	closed bool

	cancelHello func()

	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// info 返回对端信息
func (sess *session) info() types.PeerInfo {
	return types.PeerInfo{ID: sess.remote, Addrs: sess.listenAddrs}
}

// dialer 返回拨出该会话的一方
func (sess *session) dialer(local types.NodeID) types.NodeID {
	if sess.dir == dirOutbound {
		return local
	}
	return sess.remote
}

// terminate 关闭连接并停止写 goroutine
func (sess *session) terminate() {
	sess.closeOnce.Do(func() {
		close(sess.done)
		_ = sess.conn.Close()
	})
}

// ============================================================================
//                              会话创建
// ============================================================================

// newSession 为已认证的连接创建会话并发送 HELLO
func (s *Swarm) newSession(conn transport.Conn, dir direction, dialAddr string) *session {
	sess := &session{
		conn:     conn,
		remote:   conn.RemotePeer(),
		dir:      dir,
		dialAddr: dialAddr,
		openedAt: s.clock.Now(),
		out:      make(chan []byte, s.config.SendQueueSize),
		done:     make(chan struct{}),
	}
	s.handshaking[sess] = struct{}{}

	s.enqueue(sess, wire.NewHello(types.PeerInfo{ID: s.local, Addrs: s.announce}))
	sess.cancelHello = s.AfterFunc(s.config.HelloTimeout, func() {
		if !sess.active && !sess.closed {
			logger.Debug("身份交换超时", "peer", sess.remote.ShortString(), "addr", conn.RemoteAddr())
			s.closeSession(sess, ErrHelloTimeout, true)
		}
	})

	s.group.Go(func() error {
		s.readLoop(sess)
		return nil
	})
	s.group.Go(func() error {
		s.writeLoop(sess)
		return nil
	})
	return sess
}

// handleInbound 处理入站连接
func (s *Swarm) handleInbound(conn transport.Conn) {
	logger.Info("收到入站连接", "remote", conn.RemoteAddr(), "peer", conn.RemotePeer().ShortString())
	if conn.RemotePeer() == s.local || conn.RemotePeer().IsEmpty() {
		_ = conn.Close()
		return
	}
	s.newSession(conn, dirInbound, "")
}

// ============================================================================
//                              读写 goroutine
// ============================================================================

// readLoop 按序读取帧并投递给事件循环
func (s *Swarm) readLoop(sess *session) {
	for {
		data, err := sess.conn.Receive()
		if err != nil {
			s.post(sessionClosedEvent{sess: sess, err: err})
			return
		}
		if !s.post(frameEvent{sess: sess, data: data}) {
			return
		}
	}
}

// writeLoop 发送出站队列中的帧
func (s *Swarm) writeLoop(sess *session) {
	for {
		select {
		case data := <-sess.out:
			if err := sess.conn.Send(data); err != nil {
				// 读端随之报错并产生关闭事件
				_ = sess.conn.Close()
				return
			}
		case <-sess.done:
			return
		}
	}
}

// enqueue 将帧放入会话的出站队列，队列满时丢弃
func (s *Swarm) enqueue(sess *session, f *wire.Frame) bool {
	data, err := wire.Encode(f)
	if err != nil {
		logger.Warn("帧编码失败", "type", f.Type, "error", err)
		return false
	}
	return s.enqueueRaw(sess, f.Type, data)
}

func (s *Swarm) enqueueRaw(sess *session, typ wire.FrameType, data []byte) bool {
	if sess.closed {
		return false
	}
	select {
	case sess.out <- data:
		s.metrics.Frame(metrics.DirOut, typ.String(), len(data))
		return true
	default:
		s.metrics.DroppedFrame()
		logger.Debug("发送队列已满，丢弃帧", "peer", sess.remote.ShortString(), "type", typ)
		return false
	}
}

// ============================================================================
//                              帧处理
// ============================================================================

// handleFrame 解码并分发一帧
func (s *Swarm) handleFrame(sess *session, data []byte) {
	if sess.closed {
		return
	}

	f, err := wire.Decode(data)
	if err != nil {
		s.metrics.DroppedFrame()
		logger.Debug("帧解码失败", "peer", sess.remote.ShortString(), "error", err)
		return
	}
	s.metrics.Frame(metrics.DirIn, f.Type.String(), len(data))

	if f.Type == wire.FrameHello {
		s.handleHello(sess, f)
		return
	}
	if !sess.active {
		s.metrics.DroppedFrame()
		logger.Debug("身份交换前收到帧，丢弃", "peer", sess.remote.ShortString(), "type", f.Type)
		return
	}

	switch {
	case f.Type.IsDiscovery():
		if f.Type == wire.FrameFindPeers {
			logger.Debug("收到 DHT 请求", "peer", sess.remote.ShortString(), "target", f.Target.ShortString())
		}
		s.dht.HandleFrame(sess.info(), f)
	case f.Type == wire.FramePubSub:
		if err := s.pubsub.HandleMessage(sess.remote, f.Envelope); err != nil {
			logger.Debug("PubSub 消息未处理", "peer", sess.remote.ShortString(), "error", err)
		}
	}
}

// handleHello 校验身份并激活会话
func (s *Swarm) handleHello(sess *session, f *wire.Frame) {
	if sess.active {
		return
	}
	if f.Self.ID != sess.remote {
		logger.Warn("HELLO 身份与传输层认证不一致",
			"authenticated", sess.remote.ShortString(),
			"claimed", f.Self.ID.ShortString())
		s.closeSession(sess, ErrIdentityMismatch, true)
		return
	}

	sess.active = true
	sess.listenAddrs = f.Self.Addrs
	if sess.cancelHello != nil {
		sess.cancelHello()
	}
	delete(s.handshaking, sess)
	info := sess.info()

	if old := s.sessions[sess.remote]; old != nil {
		if !s.preferred(sess) || s.preferred(old) {
			logger.Debug("关闭重复会话", "peer", sess.remote.ShortString(), "dir", sess.dir)
			s.dialSucceeded(sess, info, false)
			s.closeSession(sess, errDuplicateSession, false)
			return
		}
		logger.Debug("替换重复会话", "peer", sess.remote.ShortString(), "dir", sess.dir)
		s.sessions[sess.remote] = sess
		s.closeSession(old, errDuplicateSession, false)
	} else {
		s.sessions[sess.remote] = sess
		s.metrics.SetSessions(len(s.sessions))
		logger.Info("连接已建立",
			"peer", sess.remote.ShortString(),
			"dir", sess.dir,
			"remote", sess.conn.RemoteAddr(),
			"addrs", sess.listenAddrs)
	}

	s.dialSucceeded(sess, info, true)
	s.dht.PeerConnected(info)
	s.flushPending(sess)
}

// preferred 会话是否由较小 NodeID 的一方拨出
func (s *Swarm) preferred(sess *session) bool {
	low := s.local
	if sess.remote.Less(low) {
		low = sess.remote
	}
	return sess.dialer(s.local) == low
}

// handleSessionClosed 处理会话读端结束
func (s *Swarm) handleSessionClosed(sess *session, err error) {
	if sess.closed {
		return
	}
	abnormal := !errors.Is(err, io.EOF)
	s.closeSession(sess, sessionError(sess.remote, sess.dialAddr, err), abnormal)
}

// closeSession 关闭会话并更新状态
//
// 当前会话关闭时通知发现引擎与发布订阅引擎；被替换的重复会话静默关闭；
// 未完成身份交换的出站会话按拨号失败处理。
func (s *Swarm) closeSession(sess *session, reason error, abnormal bool) {
	if sess.closed {
		return
	}
	sess.closed = true
	sess.terminate()
	if sess.cancelHello != nil {
		sess.cancelHello()
	}
	delete(s.handshaking, sess)

	switch {
	case s.sessions[sess.remote] == sess:
		delete(s.sessions, sess.remote)
		s.metrics.SetSessions(len(s.sessions))
		logger.Info("连接已关闭",
			"peer", sess.remote.ShortString(),
			"dir", sess.dir,
			"duration", s.clock.Since(sess.openedAt),
			"reason", reason)

		if st := s.addrs[sess.dialAddr]; st != nil && st.peer == sess.remote && st.state == dialConnected {
			st.state = dialClosed
		}
		s.dht.PeerDisconnected(sess.remote, abnormal)
		s.pubsub.PeerDisconnected(sess.remote)

	case !sess.active:
		if sess.dir == dirOutbound {
			if st := s.addrs[sess.dialAddr]; st != nil && st.state == dialDialing {
				s.dialFailed(st, dialError(sess.remote, sess.dialAddr, reason))
			}
		}
		// 等待该入站会话的排队帧改为主动拨号
		if p := s.pending[sess.remote]; p != nil && p.dialing == "" {
			s.dialNext(sess.remote, p)
		}
	}
}
