package yamux

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig().toYamux()
	assert.True(t, cfg.EnableKeepAlive)
	assert.Equal(t, 30*time.Second, cfg.KeepAliveInterval)
	assert.Equal(t, uint32(1024*1024), cfg.MaxStreamWindowSize)
	assert.Equal(t, io.Discard, cfg.LogOutput)

	noKeepAlive := Config{}.toYamux()
	assert.False(t, noKeepAlive.EnableKeepAlive)
}

func TestSession_OpenAccept(t *testing.T) {
	a, b := net.Pipe()

	client, err := NewSession(a, false, DefaultConfig())
	require.NoError(t, err)
	defer client.Close()
	server, err := NewSession(b, true, DefaultConfig())
	require.NoError(t, err)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	accepted := make(chan error, 1)
	go func() {
		s, err := AcceptStream(ctx, server)
		if err != nil {
			accepted <- err
			return
		}
		buf := make([]byte, 5)
		_, err = io.ReadFull(s, buf)
		if err == nil && string(buf) != "hello" {
			err = io.ErrUnexpectedEOF
		}
		accepted <- err
	}()

	s, err := OpenStream(ctx, client)
	require.NoError(t, err)
	_, err = s.Write([]byte("hello"))
	require.NoError(t, err)
	assert.NoError(t, <-accepted)
}

func TestAcceptStream_Cancel(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()

	server, err := NewSession(b, true, DefaultConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = AcceptStream(ctx, server)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, server.IsClosed())
}

func TestNewSession_NilConn(t *testing.T) {
	_, err := NewSession(nil, true, DefaultConfig())
	assert.Error(t, err)
}
