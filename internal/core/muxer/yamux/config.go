// Package yamux 在安全连接上建立 yamux 会话
//
// 每个 TCP 会话只使用一条流承载帧，yamux 提供流控与保活。
package yamux

import (
	"io"
	"time"

	"github.com/hashicorp/yamux"
)

// Config yamux 配置
type Config struct {
	// AcceptBacklog 等待接受的流数量上限
	AcceptBacklog int

	// KeepAliveInterval 保活间隔，0 表示禁用保活
	KeepAliveInterval time.Duration

	// ConnectionWriteTimeout 单次写入超时
	ConnectionWriteTimeout time.Duration

	// MaxStreamWindowSize 流接收窗口上限
	MaxStreamWindowSize uint32

	// StreamOpenTimeout 打开流的超时
	StreamOpenTimeout time.Duration
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		AcceptBacklog:          16,
		KeepAliveInterval:      30 * time.Second,
		ConnectionWriteTimeout: 10 * time.Second,
		MaxStreamWindowSize:    1024 * 1024,
		StreamOpenTimeout:      30 * time.Second,
	}
}

// toYamux 转换为 yamux 原生配置
func (c Config) toYamux() *yamux.Config {
	cfg := yamux.DefaultConfig()
	if c.AcceptBacklog > 0 {
		cfg.AcceptBacklog = c.AcceptBacklog
	}
	cfg.EnableKeepAlive = c.KeepAliveInterval > 0
	if c.KeepAliveInterval > 0 {
		cfg.KeepAliveInterval = c.KeepAliveInterval
	}
	if c.ConnectionWriteTimeout > 0 {
		cfg.ConnectionWriteTimeout = c.ConnectionWriteTimeout
	}
	if c.MaxStreamWindowSize > cfg.MaxStreamWindowSize {
		cfg.MaxStreamWindowSize = c.MaxStreamWindowSize
	}
	if c.StreamOpenTimeout > 0 {
		cfg.StreamOpenTimeout = c.StreamOpenTimeout
	}
	cfg.LogOutput = io.Discard
	return cfg
}
