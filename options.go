package floodnet

import (
	"errors"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/dep2p/go-floodnet/config"
	"github.com/dep2p/go-floodnet/internal/core/identity"
	"github.com/dep2p/go-floodnet/internal/core/transport"
)

// TransportFactory 为本地身份创建传输
type TransportFactory func(id *identity.Identity) (transport.Transport, error)

// Option 节点配置选项
type Option func(*options) error

type options struct {
	config    *config.Config
	identity  *identity.Identity
	transport TransportFactory
	clock     clock.Clock

	// subBuffer 每个订阅的消息缓冲
	subBuffer int

	fxOptions []fx.Option
}

// defaultSubscriptionBuffer 订阅默认缓冲的消息数
const defaultSubscriptionBuffer = 128

func newOptions(opts []Option) (*options, error) {
	o := &options{
		config:    config.NewConfig(),
		subBuffer: defaultSubscriptionBuffer,
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// WithConfig 使用完整配置
func WithConfig(cfg *config.Config) Option {
	return func(o *options) error {
		if cfg == nil {
			return errors.New("config is nil")
		}
		o.config = cfg
		return nil
	}
}

// WithIdentity 使用指定身份，忽略配置中的身份设置
func WithIdentity(id *identity.Identity) Option {
	return func(o *options) error {
		if id == nil {
			return errors.New("identity is nil")
		}
		o.identity = id
		return nil
	}
}

// WithListenAddrs 设置监听地址
func WithListenAddrs(addrs ...string) Option {
	return func(o *options) error {
		o.config.Listen.Addrs = addrs
		return nil
	}
}

// WithBootstrapPeers 设置引导节点
func WithBootstrapPeers(addrs ...string) Option {
	return func(o *options) error {
		o.config.Discovery.BootstrapPeers = addrs
		return nil
	}
}

// WithTransport 替换默认的 TCP 传输
func WithTransport(factory TransportFactory) Option {
	return func(o *options) error {
		o.transport = factory
		return nil
	}
}

// WithClock 设置时钟
func WithClock(clk clock.Clock) Option {
	return func(o *options) error {
		o.clock = clk
		return nil
	}
}

// WithSubscriptionBuffer 设置每个订阅的消息缓冲
//
// 缓冲已满时新消息被丢弃。
func WithSubscriptionBuffer(n int) Option {
	return func(o *options) error {
		if n <= 0 {
			return errors.New("subscription buffer must be positive")
		}
		o.subBuffer = n
		return nil
	}
}

// WithFxOptions 追加用户的 fx 选项
func WithFxOptions(opts ...fx.Option) Option {
	return func(o *options) error {
		o.fxOptions = append(o.fxOptions, opts...)
		return nil
	}
}
