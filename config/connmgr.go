package config

import (
	"errors"
	"time"
)

// ConnManagerConfig 连接管理配置
type ConnManagerConfig struct {
	// DialTimeout 单次拨号（含安全握手）超时
	DialTimeout Duration `yaml:"dial_timeout" json:"dial_timeout"`

	// HelloTimeout 连接建立后完成身份交换的时限
	HelloTimeout Duration `yaml:"hello_timeout" json:"hello_timeout"`

	// SendQueueSize 每个会话的出站帧队列长度
	SendQueueSize int `yaml:"send_queue_size" json:"send_queue_size"`

	// BackoffInitial 拨号失败后的初始退避
	BackoffInitial Duration `yaml:"backoff_initial" json:"backoff_initial"`

	// BackoffMax 最大退避
	BackoffMax Duration `yaml:"backoff_max" json:"backoff_max"`
}

// DefaultConnManagerConfig 返回默认连接管理配置
func DefaultConnManagerConfig() ConnManagerConfig {
	return ConnManagerConfig{
		DialTimeout:    Duration(10 * time.Second),
		HelloTimeout:   Duration(10 * time.Second),
		SendQueueSize:  256,
		BackoffInitial: Duration(time.Second),
		BackoffMax:     Duration(time.Minute),
	}
}

// Validate 验证连接管理配置
func (c ConnManagerConfig) Validate() error {
	if c.DialTimeout <= 0 || c.HelloTimeout <= 0 {
		return errors.New("timeouts must be positive")
	}
	if c.SendQueueSize <= 0 {
		return errors.New("send queue size must be positive")
	}
	if c.BackoffInitial <= 0 {
		return errors.New("backoff initial must be positive")
	}
	if c.BackoffMax < c.BackoffInitial {
		return errors.New("backoff max must be >= backoff initial")
	}
	return nil
}
