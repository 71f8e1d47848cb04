package config

import (
	"errors"
	"fmt"
)

// DefaultPort 默认监听端口
const DefaultPort = 30333

// ListenConfig 监听配置
type ListenConfig struct {
	// Port TCP 监听端口，Addrs 为空时监听 /ip4/0.0.0.0/tcp/<Port>
	Port int `yaml:"port" json:"port"`

	// Addrs 显式指定的监听地址（multiaddr），优先于 Port
	Addrs []string `yaml:"addrs,omitempty" json:"addrs,omitempty"`

	// AnnounceAddrs 对外公布的地址，为空时由监听地址推导
	AnnounceAddrs []string `yaml:"announce_addrs,omitempty" json:"announce_addrs,omitempty"`
}

// DefaultListenConfig 返回默认监听配置
func DefaultListenConfig() ListenConfig {
	return ListenConfig{Port: DefaultPort}
}

// Validate 验证监听配置
func (c ListenConfig) Validate() error {
	if len(c.Addrs) == 0 && (c.Port < 0 || c.Port > 65535) {
		return fmt.Errorf("invalid listen port %d", c.Port)
	}
	for _, a := range c.Addrs {
		if a == "" {
			return errors.New("listen address must not be empty")
		}
	}
	return nil
}

// ListenAddrs 返回实际的监听地址
func (c ListenConfig) ListenAddrs() []string {
	if len(c.Addrs) > 0 {
		return c.Addrs
	}
	return []string{fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", c.Port)}
}
