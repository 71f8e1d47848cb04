// Package memory 提供进程内的模拟传输
//
// 同一个 Network 上的多个 Transport 可以互相拨号，连接是一对带缓冲的通道。
// 黑洞地址模拟永不应答的节点：拨号一直阻塞直到 ctx 结束。
//
// 地址为 multiaddr 形式 /memory/<uint64>：
//
//	net := memory.NewNetwork()
//	a := net.Transport(idA)
//	l, _ := a.Listen(memory.Addr(1))
//	b := net.Transport(idB)
//	conn, _ := b.Dial(ctx, "/memory/1")
package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	ma "github.com/multiformats/go-multiaddr"

	"github.com/dep2p/go-floodnet/internal/core/transport"
	"github.com/dep2p/go-floodnet/pkg/lib/log"
	"github.com/dep2p/go-floodnet/pkg/types"
)

var logger = log.Logger("core/transport/memory")

// ephemeralBase 拨号端本地地址的起始编号
const ephemeralBase = 1 << 32

// connBuffer 每个连接方向上的缓冲消息数
const connBuffer = 256

// Addr 返回编号为 port 的内存地址
func Addr(port uint64) string {
	return fmt.Sprintf("/memory/%d", port)
}

// parseAddr 校验并规范化 /memory/<uint64> 地址
func parseAddr(addr string) (string, error) {
	maddr, err := ma.NewMultiaddr(addr)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", transport.ErrInvalidAddress, addr, err)
	}
	if len(maddr) != 1 || maddr[0].Code() != ma.P_MEMORY {
		return "", fmt.Errorf("%w: %q", transport.ErrInvalidAddress, addr)
	}
	return maddr.String(), nil
}

// ============================================================================
//                              Network
// ============================================================================

// Network 模拟网络
type Network struct {
	mu         sync.Mutex
	listeners  map[string]*Listener
	blackholes map[string]struct{}

	ephemeral atomic.Uint64
}

// NewNetwork 创建模拟网络
func NewNetwork() *Network {
	return &Network{
		listeners:  make(map[string]*Listener),
		blackholes: make(map[string]struct{}),
	}
}

// Transport 为节点 local 创建一个传输
func (n *Network) Transport(local types.NodeID) *Transport {
	return &Transport{
		network:   n,
		local:     local,
		listeners: make(map[string]*Listener),
	}
}

// Blackhole 将 addr 标记为黑洞地址
func (n *Network) Blackhole(addr string) {
	if canonical, err := parseAddr(addr); err == nil {
		addr = canonical
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.blackholes[addr] = struct{}{}
}

func (n *Network) lookup(addr string) (*Listener, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.blackholes[addr]; ok {
		return nil, true
	}
	return n.listeners[addr], false
}

// ============================================================================
//                              Transport
// ============================================================================

// Transport 内存传输
type Transport struct {
	network *Network
	local   types.NodeID

	mu        sync.Mutex
	listeners map[string]*Listener
	closed    bool
}

var _ transport.Transport = (*Transport)(nil)

// Dial 拨号到 addr
func (t *Transport) Dial(ctx context.Context, addr string) (transport.Conn, error) {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return nil, transport.ErrTransportClosed
	}
	addr, err := parseAddr(addr)
	if err != nil {
		return nil, err
	}

	l, blackhole := t.network.lookup(addr)
	if blackhole {
		logger.Debug("拨号黑洞地址", "addr", addr)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if l == nil {
		return nil, fmt.Errorf("%w: %s", transport.ErrConnRefused, addr)
	}

	local := Addr(ephemeralBase + t.network.ephemeral.Add(1))
	dialer, acceptor := newPipe(t.local, l.owner, local, addr)

	select {
	case l.incoming <- acceptor:
		return dialer, nil
	case <-l.done:
		return nil, fmt.Errorf("%w: %s", transport.ErrConnRefused, addr)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Listen 在 addr 上监听
func (t *Transport) Listen(addr string) (transport.Listener, error) {
	addr, err := parseAddr(addr)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, transport.ErrTransportClosed
	}

	t.network.mu.Lock()
	defer t.network.mu.Unlock()
	if _, ok := t.network.listeners[addr]; ok {
		return nil, fmt.Errorf("%w: %s", transport.ErrAddrInUse, addr)
	}

	l := &Listener{
		transport: t,
		owner:     t.local,
		addr:      addr,
		incoming:  make(chan *Conn),
		done:      make(chan struct{}),
	}
	t.network.listeners[addr] = l
	t.listeners[addr] = l
	return l, nil
}

// Close 关闭传输及其监听器
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	listeners := make([]*Listener, 0, len(t.listeners))
	for _, l := range t.listeners {
		listeners = append(listeners, l)
	}
	t.mu.Unlock()

	for _, l := range listeners {
		_ = l.Close()
	}
	return nil
}

// ============================================================================
//                              Listener
// ============================================================================

// Listener 内存监听器
type Listener struct {
	transport *Transport
	owner     types.NodeID
	addr      string

	incoming  chan *Conn
	done      chan struct{}
	closeOnce sync.Once
}

var _ transport.Listener = (*Listener)(nil)

// Accept 接受入站连接
func (l *Listener) Accept() (transport.Conn, error) {
	select {
	case c := <-l.incoming:
		return c, nil
	case <-l.done:
		return nil, transport.ErrTransportClosed
	}
}

// Addr 返回监听地址
func (l *Listener) Addr() string {
	return l.addr
}

// Close 停止监听并释放地址
func (l *Listener) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)

		n := l.transport.network
		n.mu.Lock()
		if n.listeners[l.addr] == l {
			delete(n.listeners, l.addr)
		}
		n.mu.Unlock()

		l.transport.mu.Lock()
		delete(l.transport.listeners, l.addr)
		l.transport.mu.Unlock()
	})
	return nil
}
