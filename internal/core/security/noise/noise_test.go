package noise

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-floodnet/internal/core/identity"
	"github.com/dep2p/go-floodnet/pkg/types"
)

type handshakeResult struct {
	conn *Conn
	err  error
}

func handshake(t *testing.T, client, server *identity.Identity, expected types.NodeID) (handshakeResult, handshakeResult) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	serverCh := make(chan handshakeResult, 1)
	go func() {
		c, err := New(server).SecureInbound(ctx, b)
		if err != nil {
			b.Close()
		}
		serverCh <- handshakeResult{c, err}
	}()

	c, err := New(client).SecureOutbound(ctx, a, expected)
	if err != nil {
		a.Close()
	}
	return handshakeResult{c, err}, <-serverCh
}

func TestTransport_Handshake(t *testing.T) {
	alice, err := identity.Generate()
	require.NoError(t, err)
	bob, err := identity.Generate()
	require.NoError(t, err)

	c, s := handshake(t, alice, bob, bob.ID())
	require.NoError(t, c.err)
	require.NoError(t, s.err)

	assert.Equal(t, bob.ID(), c.conn.RemotePeer())
	assert.Equal(t, alice.ID(), s.conn.RemotePeer())
	assert.Equal(t, alice.ID(), c.conn.LocalPeer())

	go func() {
		_, _ = c.conn.Write([]byte("ping"))
	}()
	buf := make([]byte, 4)
	_, err = io.ReadFull(s.conn, buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf))
}

func TestTransport_PeerIDMismatch(t *testing.T) {
	alice, _ := identity.Generate()
	bob, _ := identity.Generate()

	c, _ := handshake(t, alice, bob, types.RandomNodeID())
	assert.ErrorIs(t, c.err, ErrPeerIDMismatch)
}

func TestTransport_ContextDeadline(t *testing.T) {
	alice, _ := identity.Generate()
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	// 对端从不响应
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	go func() {
		_, _ = io.Copy(io.Discard, b)
	}()
	_, err := New(alice).SecureOutbound(ctx, a, types.EmptyNodeID)
	assert.ErrorIs(t, err, ErrInvalidHandshake)
}

// TestConn_LargeWrite 测试超过单个 Noise 消息的写入被拆分
func TestConn_LargeWrite(t *testing.T) {
	alice, _ := identity.Generate()
	bob, _ := identity.Generate()
	c, s := handshake(t, alice, bob, types.EmptyNodeID)
	require.NoError(t, c.err)
	require.NoError(t, s.err)

	data := bytes.Repeat([]byte("floodnet"), 3*MaxPlaintextSize/8+5)
	go func() {
		n, err := c.conn.Write(data)
		assert.NoError(t, err)
		assert.Equal(t, len(data), n)
	}()

	got := make([]byte, len(data))
	_, err := io.ReadFull(s.conn, got)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestHandleRemotePayload_Errors(t *testing.T) {
	id, _ := identity.Generate()
	static := ed25519ToCurve25519Public(id.PublicKey())

	payload := generateHandshakePayload(id, static)
	peer, err := handleRemotePayload(payload, static)
	require.NoError(t, err)
	assert.Equal(t, id.ID(), peer)

	other := make([]byte, 32)
	_, err = handleRemotePayload(payload, other)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = handleRemotePayload([]byte{0x0a, 0x02, 0x01}, static)
	assert.ErrorIs(t, err, ErrInvalidHandshake)
}
