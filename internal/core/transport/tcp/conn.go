package tcp

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/hashicorp/yamux"
	"github.com/multiformats/go-varint"

	"github.com/dep2p/go-floodnet/internal/core/transport"
	"github.com/dep2p/go-floodnet/pkg/types"
)

// Conn TCP 消息连接
//
// 消息格式：uvarint(len) || data
type Conn struct {
	session *yamux.Session
	stream  *yamux.Stream

	remotePeer types.NodeID
	remoteAddr string

	reader *bufio.Reader

	writeMu sync.Mutex
	writer  *bufio.Writer

	closeOnce sync.Once
}

var _ transport.Conn = (*Conn)(nil)

func newConn(session *yamux.Session, stream *yamux.Stream, remotePeer types.NodeID, remoteAddr string) *Conn {
	return &Conn{
		session:    session,
		stream:     stream,
		remotePeer: remotePeer,
		remoteAddr: remoteAddr,
		reader:     bufio.NewReader(stream),
		writer:     bufio.NewWriter(stream),
	}
}

// Send 发送一条消息
func (c *Conn) Send(msg []byte) error {
	if len(msg) > transport.MaxMessageSize {
		return fmt.Errorf("%w: %d bytes", transport.ErrMessageTooLarge, len(msg))
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := c.writer.Write(varint.ToUvarint(uint64(len(msg)))); err != nil {
		return c.mapErr(err)
	}
	if _, err := c.writer.Write(msg); err != nil {
		return c.mapErr(err)
	}
	return c.mapErr(c.writer.Flush())
}

// Receive 接收一条消息
func (c *Conn) Receive() ([]byte, error) {
	size, err := varint.ReadUvarint(c.reader)
	if err != nil {
		return nil, c.mapErr(err)
	}
	if size > transport.MaxMessageSize {
		return nil, fmt.Errorf("%w: %d bytes", transport.ErrMessageTooLarge, size)
	}

	msg := make([]byte, size)
	if _, err := io.ReadFull(c.reader, msg); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, c.mapErr(err)
	}
	return msg, nil
}

// RemotePeer 返回对端节点 ID
func (c *Conn) RemotePeer() types.NodeID {
	return c.remotePeer
}

// RemoteAddr 返回对端地址
func (c *Conn) RemoteAddr() string {
	return c.remoteAddr
}

// Close 关闭流和会话
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		_ = c.stream.Close()
		err = c.session.Close()
	})
	return err
}

// mapErr 将会话关闭类错误统一为 transport.ErrConnClosed，保留 io.EOF
func (c *Conn) mapErr(err error) error {
	switch {
	case err == nil, errors.Is(err, io.EOF):
		return err
	case errors.Is(err, yamux.ErrSessionShutdown), errors.Is(err, yamux.ErrStreamClosed):
		return fmt.Errorf("%w: %v", transport.ErrConnClosed, err)
	}
	return err
}
