package config

import (
	"errors"
	"strings"

	"github.com/dep2p/go-floodnet/internal/core/identity"
)

// IdentityConfig 身份配置
//
// Seed 与 KeyFile 都为空时，每次启动生成临时身份。
type IdentityConfig struct {
	// Seed 十六进制 Ed25519 种子（可带 0x 前缀）
	//
	// 优先于 KeyFile，主要用于测试网络中固定节点身份。
	Seed string `yaml:"seed,omitempty" json:"seed,omitempty"`

	// KeyFile 私钥文件路径（PEM 格式，不存在时生成并保存）
	KeyFile string `yaml:"key_file,omitempty" json:"key_file,omitempty"`
}

// DefaultIdentityConfig 返回默认身份配置
func DefaultIdentityConfig() IdentityConfig {
	return IdentityConfig{}
}

// Validate 验证身份配置
func (c IdentityConfig) Validate() error {
	if c.Seed != "" {
		if _, err := identity.FromHexSeed(c.Seed); err != nil {
			return err
		}
	}
	if c.KeyFile != "" && strings.TrimSpace(c.KeyFile) == "" {
		return errors.New("identity key file must not be blank")
	}
	return nil
}

// Load 按配置加载或生成身份
func (c IdentityConfig) Load() (*identity.Identity, error) {
	switch {
	case c.Seed != "":
		return identity.FromHexSeed(c.Seed)
	case c.KeyFile != "":
		return identity.LoadOrGenerate(c.KeyFile)
	default:
		return identity.Generate()
	}
}
