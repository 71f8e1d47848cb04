package yamux

import (
	"context"
	"fmt"
	"io"

	"github.com/hashicorp/yamux"
)

// NewSession 在 conn 上创建 yamux 会话
func NewSession(conn io.ReadWriteCloser, isServer bool, cfg Config) (*yamux.Session, error) {
	if conn == nil {
		return nil, fmt.Errorf("连接不能为 nil")
	}

	var (
		session *yamux.Session
		err     error
	)
	if isServer {
		session, err = yamux.Server(conn, cfg.toYamux())
	} else {
		session, err = yamux.Client(conn, cfg.toYamux())
	}
	if err != nil {
		return nil, fmt.Errorf("创建 yamux session 失败: %w", err)
	}
	return session, nil
}

// OpenStream 打开新流，遵循 ctx 的取消
func OpenStream(ctx context.Context, session *yamux.Session) (*yamux.Stream, error) {
	type result struct {
		stream *yamux.Stream
		err    error
	}
	resultCh := make(chan result, 1)

	go func() {
		s, err := session.OpenStream()
		resultCh <- result{stream: s, err: err}
	}()

	select {
	case <-ctx.Done():
		// 关闭孤立的流
		go func() {
			if r := <-resultCh; r.stream != nil {
				_ = r.stream.Close()
			}
		}()
		return nil, ctx.Err()
	case r := <-resultCh:
		if r.err != nil {
			return nil, fmt.Errorf("创建流失败: %w", r.err)
		}
		return r.stream, nil
	}
}

// AcceptStream 接受对端打开的流，遵循 ctx 的取消
func AcceptStream(ctx context.Context, session *yamux.Session) (*yamux.Stream, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = session.Close()
	})
	defer stop()

	s, err := session.AcceptStream()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("接受流失败: %w", err)
	}
	return s, nil
}
