package config

import (
	"errors"
	"time"

	"github.com/dep2p/go-floodnet/internal/protocol/pubsub"
)

// DefaultTopic 默认订阅的主题
const DefaultTopic = "example-topic"

// PubSubConfig 发布订阅配置
type PubSubConfig struct {
	// Topic 节点启动后订阅的主题
	Topic string `yaml:"topic" json:"topic"`

	// SeenCapacity 去重缓存容量
	SeenCapacity int `yaml:"seen_capacity" json:"seen_capacity"`

	// SeenTTL 去重缓存条目存活时间
	SeenTTL Duration `yaml:"seen_ttl" json:"seen_ttl"`

	// MaxMessageSize 最大消息负载字节数
	MaxMessageSize int `yaml:"max_message_size" json:"max_message_size"`

	// PruneInterval 去重缓存清理间隔
	PruneInterval Duration `yaml:"prune_interval" json:"prune_interval"`
}

// DefaultPubSubConfig 返回默认发布订阅配置
func DefaultPubSubConfig() PubSubConfig {
	p := pubsub.DefaultConfig()
	return PubSubConfig{
		Topic:          DefaultTopic,
		SeenCapacity:   p.SeenCapacity,
		SeenTTL:        Duration(p.SeenTTL),
		MaxMessageSize: p.MaxMessageSize,
		PruneInterval:  Duration(30 * time.Second),
	}
}

// Validate 验证发布订阅配置
func (c PubSubConfig) Validate() error {
	switch {
	case c.Topic == "" || len(c.Topic) > pubsub.MaxTopicLength:
		return errors.New("invalid topic")
	case c.SeenCapacity <= 0:
		return errors.New("seen capacity must be positive")
	case c.SeenTTL <= 0:
		return errors.New("seen ttl must be positive")
	case c.MaxMessageSize <= 0:
		return errors.New("max message size must be positive")
	case c.PruneInterval < 0:
		return errors.New("prune interval must not be negative")
	}
	return nil
}

// Options 转换为发布订阅引擎选项
func (c PubSubConfig) Options() []pubsub.Option {
	return []pubsub.Option{
		pubsub.WithSeenCache(c.SeenCapacity, c.SeenTTL.Duration()),
		pubsub.WithMaxMessageSize(c.MaxMessageSize),
	}
}
