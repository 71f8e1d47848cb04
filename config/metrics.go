package config

import "errors"

// MetricsConfig 指标配置
type MetricsConfig struct {
	// Enabled 是否收集 Prometheus 指标
	Enabled bool `yaml:"enabled" json:"enabled"`

	// ListenAddr 指标 HTTP 服务地址（如 "127.0.0.1:9090"），为空时不启动
	ListenAddr string `yaml:"listen_addr,omitempty" json:"listen_addr,omitempty"`
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{Enabled: true}
}

// Validate 验证指标配置
func (c MetricsConfig) Validate() error {
	if c.ListenAddr != "" && !c.Enabled {
		return errors.New("metrics listen address requires metrics to be enabled")
	}
	return nil
}
