package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dep2p/go-floodnet/internal/core/swarm"
)

// Config 节点的完整配置
type Config struct {
	// Identity 身份配置
	Identity IdentityConfig `yaml:"identity" json:"identity"`

	// Listen 监听配置
	Listen ListenConfig `yaml:"listen" json:"listen"`

	// Discovery 节点发现配置
	Discovery DiscoveryConfig `yaml:"discovery" json:"discovery"`

	// PubSub 发布订阅配置
	PubSub PubSubConfig `yaml:"pubsub" json:"pubsub"`

	// ConnMgr 连接管理配置
	ConnMgr ConnManagerConfig `yaml:"conn_mgr" json:"conn_mgr"`

	// Metrics 指标配置
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	return &Config{
		Identity:  DefaultIdentityConfig(),
		Listen:    DefaultListenConfig(),
		Discovery: DefaultDiscoveryConfig(),
		PubSub:    DefaultPubSubConfig(),
		ConnMgr:   DefaultConnManagerConfig(),
		Metrics:   DefaultMetricsConfig(),
	}
}

// Validate 验证配置的有效性
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if err := c.Identity.Validate(); err != nil {
		return fmt.Errorf("identity: %w", err)
	}
	if err := c.Listen.Validate(); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	if err := c.Discovery.Validate(); err != nil {
		return fmt.Errorf("discovery: %w", err)
	}
	if err := c.PubSub.Validate(); err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}
	if err := c.ConnMgr.Validate(); err != nil {
		return fmt.Errorf("conn_mgr: %w", err)
	}
	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	return nil
}

// ============================================================================
//                              加载与保存
// ============================================================================

// flatConfig 顶层的简写字段
//
//	bootstrap_peers: [...]
//	topic: chat
type flatConfig struct {
	BootstrapPeers []string `yaml:"bootstrap_peers"`
	Topic          string   `yaml:"topic"`
}

// Parse 从 YAML 解析配置，未出现的字段保留默认值
func Parse(data []byte) (*Config, error) {
	cfg := NewConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	var flat flatConfig
	if err := yaml.Unmarshal(data, &flat); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Discovery.BootstrapPeers = append(cfg.Discovery.BootstrapPeers, flat.BootstrapPeers...)
	if flat.Topic != "" {
		cfg.PubSub.Topic = flat.Topic
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile 从 YAML 文件加载配置
//
// 文件不存在时返回默认配置。
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Info("配置文件不存在，使用默认配置", "path", path)
		return NewConfig(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	logger.Debug("已加载配置文件", "path", path, "bootstrapPeers", len(cfg.Discovery.BootstrapPeers))
	return cfg, nil
}

// Marshal 编码为 YAML
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// ============================================================================
//                              转换
// ============================================================================

// SwarmConfig 转换为连接管理器配置
func (c *Config) SwarmConfig() swarm.Config {
	cfg := swarm.DefaultConfig()
	cfg.ListenAddrs = c.Listen.ListenAddrs()
	cfg.AnnounceAddrs = c.Listen.AnnounceAddrs
	cfg.DialTimeout = c.ConnMgr.DialTimeout.Duration()
	cfg.HelloTimeout = c.ConnMgr.HelloTimeout.Duration()
	cfg.SendQueueSize = c.ConnMgr.SendQueueSize
	cfg.BackoffInitial = c.ConnMgr.BackoffInitial.Duration()
	cfg.BackoffMax = c.ConnMgr.BackoffMax.Duration()
	cfg.RefreshInterval = c.Discovery.RefreshInterval.Duration()
	cfg.PruneInterval = c.PubSub.PruneInterval.Duration()
	cfg.Discovery = c.Discovery.DHTConfig()
	return cfg
}
