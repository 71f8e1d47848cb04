// Package tcp 提供基于 TCP 的安全传输
//
// 每个连接依次经过：
//  0. DNS 解析（/dns、/dns4、/dns6、/dnsaddr 地址）
//  1. TCP 连接（multiaddr 地址，如 /ip4/127.0.0.1/tcp/30333）
//  2. Noise XX 握手，认证对端 NodeID
//  3. yamux 会话，拨号端打开唯一的一条流
//
// 流上的每条消息以 uvarint 长度为前缀。
package tcp

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	ma "github.com/multiformats/go-multiaddr"
	madns "github.com/multiformats/go-multiaddr-dns"
	manet "github.com/multiformats/go-multiaddr/net"

	"github.com/dep2p/go-floodnet/internal/core/identity"
	muxer "github.com/dep2p/go-floodnet/internal/core/muxer/yamux"
	"github.com/dep2p/go-floodnet/internal/core/security/noise"
	"github.com/dep2p/go-floodnet/internal/core/transport"
	"github.com/dep2p/go-floodnet/pkg/lib/log"
	"github.com/dep2p/go-floodnet/pkg/types"
)

var logger = log.Logger("core/transport/tcp")

// DefaultHandshakeTimeout 入站连接完成握手的时限
const DefaultHandshakeTimeout = 10 * time.Second

// ============================================================================
//                              Transport 实现
// ============================================================================

// Transport TCP 传输
type Transport struct {
	security         *noise.Transport
	muxerConfig      muxer.Config
	handshakeTimeout time.Duration
	resolver         *madns.Resolver

	listenersMu sync.Mutex
	listeners   map[*Listener]struct{}

	closed atomic.Bool
}

var _ transport.Transport = (*Transport)(nil)

// Option 传输选项
type Option func(*Transport)

// WithMuxerConfig 设置 yamux 配置
func WithMuxerConfig(cfg muxer.Config) Option {
	return func(t *Transport) {
		t.muxerConfig = cfg
	}
}

// WithHandshakeTimeout 设置入站握手时限
func WithHandshakeTimeout(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.handshakeTimeout = d
		}
	}
}

// WithResolver 设置 DNS multiaddr 解析器
func WithResolver(r *madns.Resolver) Option {
	return func(t *Transport) {
		if r != nil {
			t.resolver = r
		}
	}
}

// New 创建 TCP 传输
func New(id *identity.Identity, opts ...Option) *Transport {
	t := &Transport{
		security:         noise.New(id),
		muxerConfig:      muxer.DefaultConfig(),
		handshakeTimeout: DefaultHandshakeTimeout,
		resolver:         madns.DefaultResolver,
		listeners:        make(map[*Listener]struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Dial 建立出站连接
func (t *Transport) Dial(ctx context.Context, addr string) (transport.Conn, error) {
	if t.closed.Load() {
		return nil, transport.ErrTransportClosed
	}

	maddr, err := ma.NewMultiaddr(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", transport.ErrInvalidAddress, err)
	}
	targets, err := t.resolve(ctx, maddr)
	if err != nil {
		return nil, err
	}

	raw, err := dialFirst(ctx, targets)
	if err != nil {
		return nil, err
	}
	if tcpConn, ok := raw.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}

	secure, err := t.security.SecureOutbound(ctx, raw, types.EmptyNodeID)
	if err != nil {
		_ = raw.Close()
		return nil, err
	}

	session, err := muxer.NewSession(secure, false, t.muxerConfig)
	if err != nil {
		_ = secure.Close()
		return nil, err
	}
	stream, err := muxer.OpenStream(ctx, session)
	if err != nil {
		_ = session.Close()
		return nil, err
	}

	logger.Debug("出站连接已建立", "addr", addr, "remotePeer", secure.RemotePeer().ShortString())
	return newConn(session, stream, secure.RemotePeer(), addr), nil
}

// Listen 监听入站连接
func (t *Transport) Listen(addr string) (transport.Listener, error) {
	if t.closed.Load() {
		return nil, transport.ErrTransportClosed
	}

	maddr, err := ma.NewMultiaddr(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", transport.ErrInvalidAddress, err)
	}
	ml, err := manet.Listen(maddr)
	if err != nil {
		return nil, fmt.Errorf("监听失败: %w", err)
	}

	l := newListener(t, ml)

	t.listenersMu.Lock()
	t.listeners[l] = struct{}{}
	t.listenersMu.Unlock()

	logger.Debug("开始监听", "addr", l.Addr())
	return l, nil
}

// Close 关闭传输及所有监听器
func (t *Transport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}

	t.listenersMu.Lock()
	listeners := make([]*Listener, 0, len(t.listeners))
	for l := range t.listeners {
		listeners = append(listeners, l)
	}
	t.listenersMu.Unlock()

	var lastErr error
	for _, l := range listeners {
		if err := l.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (t *Transport) removeListener(l *Listener) {
	t.listenersMu.Lock()
	delete(t.listeners, l)
	t.listenersMu.Unlock()
}

// upgradeInbound 对入站 TCP 连接执行握手并接受流
func (t *Transport) upgradeInbound(ctx context.Context, raw net.Conn) (*Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, t.handshakeTimeout)
	defer cancel()

	secure, err := t.security.SecureInbound(ctx, raw)
	if err != nil {
		return nil, err
	}

	session, err := muxer.NewSession(secure, true, t.muxerConfig)
	if err != nil {
		return nil, err
	}
	stream, err := muxer.AcceptStream(ctx, session)
	if err != nil {
		_ = session.Close()
		return nil, err
	}

	remote := raw.RemoteAddr().String()
	if rma, err := manet.FromNetAddr(raw.RemoteAddr()); err == nil {
		remote = rma.String()
	}
	return newConn(session, stream, secure.RemotePeer(), remote), nil
}

// AnnounceAddrs 将未指定地址（0.0.0.0、::）展开为本机各网卡地址
func (t *Transport) AnnounceAddrs(listenAddr string) []string {
	maddr, err := ma.NewMultiaddr(listenAddr)
	if err != nil {
		return []string{listenAddr}
	}
	ifaces, err := manet.InterfaceMultiaddrs()
	if err != nil {
		return []string{listenAddr}
	}
	resolved, err := manet.ResolveUnspecifiedAddresses([]ma.Multiaddr{maddr}, ifaces)
	if err != nil || len(resolved) == 0 {
		return []string{listenAddr}
	}
	out := make([]string, 0, len(resolved))
	for _, r := range resolved {
		out = append(out, r.String())
	}
	return out
}
