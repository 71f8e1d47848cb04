package memory

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-floodnet/internal/core/transport"
	"github.com/dep2p/go-floodnet/pkg/types"
)

func TestTransport_DialAccept(t *testing.T) {
	n := NewNetwork()
	idA, idB := types.RandomNodeID(), types.RandomNodeID()
	a, b := n.Transport(idA), n.Transport(idB)

	l, err := a.Listen("/memory/1")
	require.NoError(t, err)
	assert.Equal(t, "/memory/1", l.Addr())

	accepted := make(chan transport.Conn, 1)
	go func() {
		c, err := l.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	c, err := b.Dial(context.Background(), "/memory/1")
	require.NoError(t, err)
	assert.Equal(t, idA, c.RemotePeer())
	assert.Equal(t, "/memory/1", c.RemoteAddr())

	var s transport.Conn
	select {
	case s = <-accepted:
	case <-time.After(time.Second):
		t.Fatal("accept 超时")
	}
	assert.Equal(t, idB, s.RemotePeer())

	msg := []byte("hello")
	require.NoError(t, c.Send(msg))
	msg[0] = 'j'
	got, err := s.Receive()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	require.NoError(t, s.Send([]byte("back")))
	got, err = c.Receive()
	require.NoError(t, err)
	assert.Equal(t, "back", string(got))
}

func TestConn_CloseDrainsThenEOF(t *testing.T) {
	a, b := newPipe(types.RandomNodeID(), types.RandomNodeID(), "/memory/10", "/memory/11")

	require.NoError(t, a.Send([]byte("1")))
	require.NoError(t, a.Send([]byte("2")))
	require.NoError(t, a.Close())

	got, err := b.Receive()
	require.NoError(t, err)
	assert.Equal(t, "1", string(got))
	got, err = b.Receive()
	require.NoError(t, err)
	assert.Equal(t, "2", string(got))

	_, err = b.Receive()
	assert.ErrorIs(t, err, io.EOF)

	assert.ErrorIs(t, b.Send([]byte("x")), transport.ErrConnClosed)
	assert.ErrorIs(t, a.Send([]byte("x")), transport.ErrConnClosed)
}

func TestConn_MessageTooLarge(t *testing.T) {
	a, _ := newPipe(types.RandomNodeID(), types.RandomNodeID(), "/memory/10", "/memory/11")
	err := a.Send(make([]byte, transport.MaxMessageSize+1))
	assert.ErrorIs(t, err, transport.ErrMessageTooLarge)
}

func TestTransport_DialErrors(t *testing.T) {
	n := NewNetwork()
	tr := n.Transport(types.RandomNodeID())

	t.Run("拒绝连接", func(t *testing.T) {
		_, err := tr.Dial(context.Background(), "/memory/404")
		assert.ErrorIs(t, err, transport.ErrConnRefused)
	})

	t.Run("无效地址", func(t *testing.T) {
		_, err := tr.Dial(context.Background(), "/ip4/127.0.0.1/tcp/1")
		assert.ErrorIs(t, err, transport.ErrInvalidAddress)
		_, err = tr.Listen("/memory/")
		assert.ErrorIs(t, err, transport.ErrInvalidAddress)
	})

	t.Run("黑洞", func(t *testing.T) {
		n.Blackhole("/memory/13")
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		start := time.Now()
		_, err := tr.Dial(ctx, "/memory/13")
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	})

	t.Run("地址占用", func(t *testing.T) {
		_, err := tr.Listen("/memory/14")
		require.NoError(t, err)
		_, err = n.Transport(types.RandomNodeID()).Listen("/memory/14")
		assert.ErrorIs(t, err, transport.ErrAddrInUse)
	})
}

func TestTransport_Close(t *testing.T) {
	n := NewNetwork()
	tr := n.Transport(types.RandomNodeID())
	l, err := tr.Listen("/memory/15")
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := l.Accept()
		errCh <- err
	}()

	require.NoError(t, tr.Close())
	assert.ErrorIs(t, <-errCh, transport.ErrTransportClosed)

	// 地址已释放
	_, err = n.Transport(types.RandomNodeID()).Listen("/memory/15")
	assert.NoError(t, err)

	_, err = tr.Dial(context.Background(), "/memory/15")
	assert.ErrorIs(t, err, transport.ErrTransportClosed)
}
