package memory

import (
	"fmt"
	"io"
	"sync"

	"github.com/dep2p/go-floodnet/internal/core/transport"
	"github.com/dep2p/go-floodnet/pkg/types"
)

// Conn 内存连接的一端
type Conn struct {
	remotePeer types.NodeID
	remoteAddr string

	in   chan []byte
	peer *Conn

	closed    chan struct{}
	closeOnce sync.Once
}

var _ transport.Conn = (*Conn)(nil)

// newPipe 创建一对相连的连接
//
// 拨号端看到的对端是 acceptor，监听端看到的对端是 dialer。
func newPipe(dialer, acceptor types.NodeID, dialerAddr, acceptorAddr string) (*Conn, *Conn) {
	a := &Conn{
		remotePeer: acceptor,
		remoteAddr: acceptorAddr,
		in:         make(chan []byte, connBuffer),
		closed:     make(chan struct{}),
	}
	b := &Conn{
		remotePeer: dialer,
		remoteAddr: dialerAddr,
		in:         make(chan []byte, connBuffer),
		closed:     make(chan struct{}),
	}
	a.peer, b.peer = b, a
	return a, b
}

// Send 发送消息（复制后投递到对端缓冲区）
func (c *Conn) Send(msg []byte) error {
	if len(msg) > transport.MaxMessageSize {
		return fmt.Errorf("%w: %d bytes", transport.ErrMessageTooLarge, len(msg))
	}
	select {
	case <-c.closed:
		return transport.ErrConnClosed
	case <-c.peer.closed:
		return transport.ErrConnClosed
	default:
	}

	m := append([]byte(nil), msg...)
	select {
	case c.peer.in <- m:
		return nil
	case <-c.closed:
		return transport.ErrConnClosed
	case <-c.peer.closed:
		return transport.ErrConnClosed
	}
}

// Receive 接收消息
//
// 对端关闭后，已缓冲的消息仍会被读出，之后返回 io.EOF。
func (c *Conn) Receive() ([]byte, error) {
	select {
	case m := <-c.in:
		return m, nil
	default:
	}

	select {
	case m := <-c.in:
		return m, nil
	case <-c.closed:
		return nil, transport.ErrConnClosed
	case <-c.peer.closed:
		select {
		case m := <-c.in:
			return m, nil
		default:
			return nil, io.EOF
		}
	}
}

// RemotePeer 返回对端节点 ID
func (c *Conn) RemotePeer() types.NodeID {
	return c.remotePeer
}

// RemoteAddr 返回对端地址
func (c *Conn) RemoteAddr() string {
	return c.remoteAddr
}

// Close 关闭连接
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
	return nil
}
