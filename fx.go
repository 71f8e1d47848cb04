package floodnet

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/dep2p/go-floodnet/config"
	"github.com/dep2p/go-floodnet/internal/core/identity"
	"github.com/dep2p/go-floodnet/internal/core/metrics"
	"github.com/dep2p/go-floodnet/internal/core/swarm"
	"github.com/dep2p/go-floodnet/internal/core/transport"
	"github.com/dep2p/go-floodnet/internal/core/transport/tcp"
)

// buildFxApp 构建 Fx 应用
//
// 加载顺序（按依赖）：Identity → Metrics → Transport → Swarm → Node 注入。
// OnStop 按相反顺序执行，Swarm 先于 Transport 关闭。
func buildFxApp(o *options, node *Node) (*fx.App, error) {
	if err := o.config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	app := fx.New(
		nodeModule(o, node),
		fx.Options(o.fxOptions...),
		// 禁用 Fx 日志输出（避免干扰用户日志）
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: zap.NewNop()}
		}),
	)
	if err := app.Err(); err != nil {
		return nil, fmt.Errorf("build node: %w", err)
	}
	return app, nil
}

// nodeModule 节点的组件图
func nodeModule(o *options, node *Node) fx.Option {
	return fx.Module("floodnet",
		fx.Supply(o.config),
		fx.Provide(
			provideIdentity(o),
			provideMetrics,
			provideTransport(o),
			provideSwarm(o, node),
		),
		fx.Invoke(injectNodeComponents(node)),
	)
}

// ════════════════════════════════════════════════════════════════════════════
// 组件构造
// ════════════════════════════════════════════════════════════════════════════

func provideIdentity(o *options) func(*config.Config) (*identity.Identity, error) {
	return func(cfg *config.Config) (*identity.Identity, error) {
		if o.identity != nil {
			return o.identity, nil
		}
		return cfg.Identity.Load()
	}
}

// provideMetrics 禁用指标时返回 nil，各组件的记录方法对 nil 安全
func provideMetrics(cfg *config.Config) *metrics.Metrics {
	if !cfg.Metrics.Enabled {
		return nil
	}
	return metrics.New()
}

func provideTransport(o *options) func(fx.Lifecycle, *identity.Identity) (transport.Transport, error) {
	return func(lc fx.Lifecycle, id *identity.Identity) (transport.Transport, error) {
		var (
			tr  transport.Transport
			err error
		)
		if o.transport != nil {
			tr, err = o.transport(id)
		} else {
			tr = tcp.New(id)
		}
		if err != nil {
			return nil, fmt.Errorf("create transport: %w", err)
		}

		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				return tr.Close()
			},
		})
		return tr, nil
	}
}

func provideSwarm(o *options, node *Node) func(fx.Lifecycle, *config.Config, *identity.Identity, transport.Transport, *metrics.Metrics) (*swarm.Swarm, error) {
	return func(lc fx.Lifecycle, cfg *config.Config, id *identity.Identity, tr transport.Transport, m *metrics.Metrics) (*swarm.Swarm, error) {
		opts := []swarm.Option{
			swarm.WithConfig(cfg.SwarmConfig()),
			swarm.WithMetrics(m),
			swarm.WithPubSub(cfg.PubSub.Options()...),
			swarm.WithDeliver(node.deliver),
		}
		if o.clock != nil {
			opts = append(opts, swarm.WithClock(o.clock))
		}

		s, err := swarm.New(id.ID(), tr, opts...)
		if err != nil {
			return nil, fmt.Errorf("create swarm: %w", err)
		}

		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				return s.Start()
			},
			OnStop: func(context.Context) error {
				return s.Close()
			},
		})
		return s, nil
	}
}

// ════════════════════════════════════════════════════════════════════════════
// 组件注入
// ════════════════════════════════════════════════════════════════════════════

// nodeInjectParams Node 组件注入参数
type nodeInjectParams struct {
	fx.In

	Config   *config.Config
	Identity *identity.Identity
	Swarm    *swarm.Swarm
	Metrics  *metrics.Metrics
}

func injectNodeComponents(node *Node) func(nodeInjectParams) {
	return func(p nodeInjectParams) {
		node.config = p.Config
		node.identity = p.Identity
		node.swarm = p.Swarm
		node.metrics = p.Metrics
	}
}
