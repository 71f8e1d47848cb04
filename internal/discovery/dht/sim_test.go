package dht

import (
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-floodnet/internal/protocol/wire"
	"github.com/dep2p/go-floodnet/pkg/types"
)

// ============================================================================
// 单线程网络模拟器
// ============================================================================

var errNoRoute = errors.New("sim: no route")

// simNet 确定性的单线程网络：所有事件按 FIFO 执行，空闲时推进虚拟时间触发计时器
type simNet struct {
	clock  *clock.Mock
	queue  []func()
	timers []*simTimer
	nodes  map[types.NodeID]*simNode
	byAddr map[string]*simNode

	// silent 中的节点收到帧后不做任何响应
	silent map[types.NodeID]bool
}

type simTimer struct {
	at      time.Time
	fn      func()
	stopped bool
}

type simNode struct {
	net  *simNet
	info types.PeerInfo
	dht  *DHT
}

func newSimNet() *simNet {
	return &simNet{
		clock:  clock.NewMock(),
		nodes:  make(map[types.NodeID]*simNode),
		byAddr: make(map[string]*simNode),
		silent: make(map[types.NodeID]bool),
	}
}

func (s *simNet) addNode(id types.NodeID, cfg Config) *simNode {
	n := &simNode{
		net:  s,
		info: types.PeerInfo{ID: id, Addrs: []string{fmt.Sprintf("/sim/%d", len(s.nodes))}},
	}
	d, err := New(id, n, s.clock, cfg, nil)
	if err != nil {
		panic(err)
	}
	n.dht = d
	s.nodes[id] = n
	s.byAddr[n.info.Addrs[0]] = n
	return n
}

func (s *simNet) post(fn func()) {
	s.queue = append(s.queue, fn)
}

// run 执行事件直到没有任何待处理事件和计时器
func (s *simNet) run() {
	for steps := 0; steps < 1_000_000; steps++ {
		if len(s.queue) > 0 {
			fn := s.queue[0]
			s.queue = s.queue[1:]
			fn()
			continue
		}

		var next *simTimer
		idx := -1
		for i, t := range s.timers {
			if t.stopped {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next, idx = t, i
			}
		}
		if next == nil {
			s.timers = nil
			return
		}
		s.timers = append(s.timers[:idx], s.timers[idx+1:]...)
		if next.at.After(s.clock.Now()) {
			s.clock.Set(next.at)
		}
		next.fn()
	}
	panic("sim: did not settle")
}

// Send 实现 Network
func (n *simNode) Send(to types.PeerInfo, f *wire.Frame) {
	s := n.net
	s.post(func() {
		peer, ok := s.nodes[to.ID]
		if !ok {
			n.dht.PeerUnreachable(to.ID, errNoRoute)
			return
		}
		if s.silent[to.ID] {
			return
		}
		peer.dht.HandleFrame(n.info, f)
	})
}

// Connect 实现 Network，模拟 HELLO 交换
func (n *simNode) Connect(addr string, cb func(types.PeerInfo, error)) {
	s := n.net
	s.post(func() {
		peer, ok := s.byAddr[addr]
		if !ok || s.silent[peer.info.ID] {
			cb(types.PeerInfo{}, errNoRoute)
			return
		}
		n.dht.PeerConnected(peer.info)
		peer.dht.PeerConnected(n.info)
		cb(peer.info, nil)
	})
}

// AfterFunc 实现 Network
func (n *simNode) AfterFunc(d time.Duration, fn func()) func() {
	t := &simTimer{at: n.net.clock.Now().Add(d), fn: fn}
	n.net.timers = append(n.net.timers, t)
	return func() { t.stopped = true }
}
