package tcp

import (
	"context"
	"errors"
	"net"
	"sync"

	manet "github.com/multiformats/go-multiaddr/net"

	"github.com/dep2p/go-floodnet/internal/core/transport"
)

// Listener TCP 监听器
//
// 后台 goroutine 接受 TCP 连接，并为每个连接并发执行握手，
// 只有完成握手的连接才会从 Accept 返回。
type Listener struct {
	transport *Transport
	ml        manet.Listener

	ctx    context.Context
	cancel context.CancelFunc

	conns     chan *Conn
	closeOnce sync.Once
	wg        sync.WaitGroup
}

var _ transport.Listener = (*Listener)(nil)

func newListener(t *Transport, ml manet.Listener) *Listener {
	ctx, cancel := context.WithCancel(context.Background())
	l := &Listener{
		transport: t,
		ml:        ml,
		ctx:       ctx,
		cancel:    cancel,
		conns:     make(chan *Conn),
	}
	l.wg.Add(1)
	go l.acceptLoop()
	return l
}

func (l *Listener) acceptLoop() {
	defer l.wg.Done()
	for {
		raw, err := l.ml.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) && l.ctx.Err() == nil {
				logger.Warn("接受连接失败", "error", err)
			}
			return
		}

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			c, err := l.transport.upgradeInbound(l.ctx, raw)
			if err != nil {
				logger.Debug("入站握手失败", "remote", raw.RemoteAddr(), "error", err)
				_ = raw.Close()
				return
			}
			select {
			case l.conns <- c:
			case <-l.ctx.Done():
				_ = c.Close()
			}
		}()
	}
}

// Accept 返回下一个已完成握手的入站连接
func (l *Listener) Accept() (transport.Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.ctx.Done():
		return nil, transport.ErrTransportClosed
	}
}

// Addr 返回实际监听的 multiaddr
func (l *Listener) Addr() string {
	return l.ml.Multiaddr().String()
}

// Close 停止监听并等待后台 goroutine 退出
func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.cancel()
		err = l.ml.Close()
		l.wg.Wait()
		l.transport.removeListener(l)
	})
	return err
}
