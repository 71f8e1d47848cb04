package swarm

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-floodnet/internal/core/metrics"
	"github.com/dep2p/go-floodnet/internal/discovery/dht"
	"github.com/dep2p/go-floodnet/internal/protocol/pubsub"
)

// Config Swarm 配置
type Config struct {
	// ListenAddrs 监听地址
	ListenAddrs []string

	// AnnounceAddrs 在 HELLO 中公布的地址，为空时使用实际监听地址
	AnnounceAddrs []string

	// DialTimeout 单次拨号（含安全握手）超时
	DialTimeout time.Duration

	// HelloTimeout 连接建立后完成身份交换的时限
	HelloTimeout time.Duration

	// SendQueueSize 每个会话的出站帧队列长度
	SendQueueSize int

	// BackoffInitial 拨号失败后的初始退避
	BackoffInitial time.Duration

	// BackoffMax 最大退避
	BackoffMax time.Duration

	// RefreshInterval 路由表刷新间隔，0 表示不刷新
	RefreshInterval time.Duration

	// PruneInterval 去重缓存清理间隔，0 表示不清理
	PruneInterval time.Duration

	// Discovery 发现引擎配置
	Discovery dht.Config
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		DialTimeout:     10 * time.Second,
		HelloTimeout:    10 * time.Second,
		SendQueueSize:   256,
		BackoffInitial:  time.Second,
		BackoffMax:      time.Minute,
		RefreshInterval: 5 * time.Minute,
		PruneInterval:   30 * time.Second,
		Discovery:       dht.DefaultConfig(),
	}
}

// Validate 验证配置
func (c Config) Validate() error {
	if c.DialTimeout <= 0 {
		return fmt.Errorf("%w: dial timeout must be positive", ErrInvalidConfig)
	}
	if c.HelloTimeout <= 0 {
		return fmt.Errorf("%w: hello timeout must be positive", ErrInvalidConfig)
	}
	if c.SendQueueSize <= 0 {
		return fmt.Errorf("%w: send queue size must be positive", ErrInvalidConfig)
	}
	if c.BackoffInitial <= 0 || c.BackoffMax < c.BackoffInitial {
		return fmt.Errorf("%w: backoff %s..%s", ErrInvalidConfig, c.BackoffInitial, c.BackoffMax)
	}
	if c.RefreshInterval < 0 || c.PruneInterval < 0 {
		return fmt.Errorf("%w: negative interval", ErrInvalidConfig)
	}
	return c.Discovery.Validate()
}

// ============================================================================
//                              选项
// ============================================================================

type options struct {
	config  Config
	clock   clock.Clock
	metrics *metrics.Metrics
	pubsub  []pubsub.Option
}

// Option Swarm 选项
type Option func(*options)

// WithConfig 设置配置
func WithConfig(config Config) Option {
	return func(o *options) {
		o.config = config
	}
}

// WithClock 设置时钟（测试中使用 clock.NewMock()）
func WithClock(clk clock.Clock) Option {
	return func(o *options) {
		o.clock = clk
	}
}

// WithMetrics 设置指标收集器
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithPubSub 追加发布订阅引擎选项
func WithPubSub(opts ...pubsub.Option) Option {
	return func(o *options) {
		o.pubsub = append(o.pubsub, opts...)
	}
}

// WithDeliver 设置消息投递回调
//
// 回调在事件循环中执行，不得阻塞。
func WithDeliver(fn pubsub.DeliverFunc) Option {
	return WithPubSub(pubsub.WithDeliver(fn))
}
