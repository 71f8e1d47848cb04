package dht

import (
	"fmt"
	"time"
)

// Config DHT 配置
type Config struct {
	// BucketSize K-桶大小
	BucketSize int

	// Alpha 并发查询参数
	Alpha int

	// MaxRounds 单次查找的最大轮数
	MaxRounds int

	// QueryTimeout FIND_PEERS 查询超时
	QueryTimeout time.Duration

	// PingTimeout 存活检查超时
	PingTimeout time.Duration

	// MaxFailures 连续失败多少次后移出路由表
	MaxFailures int
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		BucketSize:   DefaultBucketSize,
		Alpha:        3,
		MaxRounds:    10,
		QueryTimeout: 10 * time.Second,
		PingTimeout:  5 * time.Second,
		MaxFailures:  3,
	}
}

// Validate 验证配置
func (c Config) Validate() error {
	switch {
	case c.BucketSize <= 0:
		return fmt.Errorf("%w: bucket size must be positive", ErrInvalidConfig)
	case c.Alpha <= 0:
		return fmt.Errorf("%w: alpha must be positive", ErrInvalidConfig)
	case c.MaxRounds <= 0:
		return fmt.Errorf("%w: max rounds must be positive", ErrInvalidConfig)
	case c.QueryTimeout <= 0 || c.PingTimeout <= 0:
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalidConfig)
	case c.MaxFailures <= 0:
		return fmt.Errorf("%w: max failures must be positive", ErrInvalidConfig)
	}
	return nil
}
