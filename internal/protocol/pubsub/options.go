package pubsub

import (
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-floodnet/internal/core/metrics"
	"github.com/dep2p/go-floodnet/pkg/types"
)

const (
	// DefaultSeenCapacity 默认去重缓存容量
	DefaultSeenCapacity = 10000

	// DefaultSeenTTL 默认去重缓存保留时间
	DefaultSeenTTL = 2 * time.Minute

	// DefaultMaxMessageSize 默认最大消息大小
	DefaultMaxMessageSize = 1 << 20

	// MaxTopicLength 主题名最大长度
	MaxTopicLength = 256
)

// DeliverFunc 本地投递回调
type DeliverFunc func(env *types.Envelope)

// Config PubSub 配置
type Config struct {
	// SeenCapacity 去重缓存容量
	SeenCapacity int

	// SeenTTL 去重缓存保留时间
	SeenTTL time.Duration

	// MaxMessageSize 最大消息大小
	MaxMessageSize int

	clock   clock.Clock
	metrics *metrics.Metrics
	deliver DeliverFunc
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		SeenCapacity:   DefaultSeenCapacity,
		SeenTTL:        DefaultSeenTTL,
		MaxMessageSize: DefaultMaxMessageSize,
	}
}

// Option 配置选项
type Option func(*Config)

// WithSeenCache 设置去重缓存容量与保留时间
func WithSeenCache(capacity int, ttl time.Duration) Option {
	return func(c *Config) {
		if capacity > 0 {
			c.SeenCapacity = capacity
		}
		if ttl > 0 {
			c.SeenTTL = ttl
		}
	}
}

// WithMaxMessageSize 设置最大消息大小
func WithMaxMessageSize(size int) Option {
	return func(c *Config) {
		if size > 0 {
			c.MaxMessageSize = size
		}
	}
}

// WithClock 设置时钟（测试使用 mock 时钟）
func WithClock(clk clock.Clock) Option {
	return func(c *Config) {
		c.clock = clk
	}
}

// WithMetrics 设置指标收集
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Config) {
		c.metrics = m
	}
}

// WithDeliver 设置本地投递回调
func WithDeliver(fn DeliverFunc) Option {
	return func(c *Config) {
		c.deliver = fn
	}
}

// WithConfig 整体替换可导出的配置项
func WithConfig(cfg Config) Option {
	return func(c *Config) {
		c.SeenCapacity = cfg.SeenCapacity
		c.SeenTTL = cfg.SeenTTL
		c.MaxMessageSize = cfg.MaxMessageSize
	}
}
