package config

import (
	"errors"
	"time"

	"github.com/dep2p/go-floodnet/internal/discovery/dht"
	"github.com/dep2p/go-floodnet/pkg/lib/log"
	"github.com/dep2p/go-floodnet/pkg/types"
)

var logger = log.Logger("config")

// DiscoveryConfig 节点发现配置
type DiscoveryConfig struct {
	// BootstrapPeers 引导节点地址
	//
	// 格式为 "/ip4/1.2.3.4/tcp/30333/p2p/<NodeID>"，也可以省略 /p2p/ 部分。
	BootstrapPeers []string `yaml:"bootstrap_peers,omitempty" json:"bootstrap_peers,omitempty"`

	// BucketSize K-桶大小
	BucketSize int `yaml:"bucket_size" json:"bucket_size"`

	// Alpha 并发查询参数
	Alpha int `yaml:"alpha" json:"alpha"`

	// MaxRounds 单次查找的最大轮数
	MaxRounds int `yaml:"max_rounds" json:"max_rounds"`

	// QueryTimeout 查询超时
	QueryTimeout Duration `yaml:"query_timeout" json:"query_timeout"`

	// PingTimeout 存活检查超时
	PingTimeout Duration `yaml:"ping_timeout" json:"ping_timeout"`

	// MaxFailures 连续失败多少次后移出路由表
	MaxFailures int `yaml:"max_failures" json:"max_failures"`

	// RefreshInterval 路由表刷新间隔，0 表示不刷新
	RefreshInterval Duration `yaml:"refresh_interval" json:"refresh_interval"`
}

// DefaultDiscoveryConfig 返回默认发现配置
func DefaultDiscoveryConfig() DiscoveryConfig {
	d := dht.DefaultConfig()
	return DiscoveryConfig{
		BucketSize:      d.BucketSize,
		Alpha:           d.Alpha,
		MaxRounds:       d.MaxRounds,
		QueryTimeout:    Duration(d.QueryTimeout),
		PingTimeout:     Duration(d.PingTimeout),
		MaxFailures:     d.MaxFailures,
		RefreshInterval: Duration(5 * time.Minute),
	}
}

// Validate 验证发现配置
//
// 无法解析的引导节点不视为错误，由 Bootstrap 跳过。
func (c DiscoveryConfig) Validate() error {
	if c.RefreshInterval < 0 {
		return errors.New("refresh interval must not be negative")
	}
	return c.DHTConfig().Validate()
}

// DHTConfig 转换为发现引擎配置
func (c DiscoveryConfig) DHTConfig() dht.Config {
	return dht.Config{
		BucketSize:   c.BucketSize,
		Alpha:        c.Alpha,
		MaxRounds:    c.MaxRounds,
		QueryTimeout: c.QueryTimeout.Duration(),
		PingTimeout:  c.PingTimeout.Duration(),
		MaxFailures:  c.MaxFailures,
	}
}

// Bootstrap 解析引导节点，跳过无法解析的条目
func (c DiscoveryConfig) Bootstrap() []types.PeerInfo {
	return ParseBootstrapPeers(c.BootstrapPeers)
}

// ParseBootstrapPeers 解析引导节点地址列表
//
// 无法解析的条目记录警告后跳过；同一节点的多个地址被合并。
func ParseBootstrapPeers(addrs []string) []types.PeerInfo {
	var (
		peers []types.PeerInfo
		index = make(map[types.NodeID]int)
	)
	for _, s := range addrs {
		info, err := types.ParsePeerAddr(s)
		if err != nil {
			logger.Warn("跳过无法解析的引导节点", "addr", s, "error", err)
			continue
		}
		if info.ID.IsEmpty() {
			peers = append(peers, info)
			continue
		}
		if i, ok := index[info.ID]; ok {
			peers[i].Addrs = types.MergeAddrs(peers[i].Addrs, info.Addrs)
			continue
		}
		index[info.ID] = len(peers)
		peers = append(peers, info)
	}
	return peers
}
