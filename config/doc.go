// Package config 提供节点配置
//
// 主 Config 结构体嵌入各组件的子配置，每个子配置在独立文件中定义，
// 并提供 Default*Config() 与 Validate()。
//
// 配置文件为 YAML 格式，缺省的字段使用默认值：
//
//	identity:
//	  key_file: node.key
//	listen:
//	  port: 30333
//	discovery:
//	  bootstrap_peers:
//	    - /ip4/10.0.0.1/tcp/30333/p2p/<NodeID>
//	pubsub:
//	  topic: example-topic
//	  seen_ttl: 2m
//
// 使用示例：
//
//	cfg, err := config.LoadFile("config.yml")
//	swarmCfg := cfg.SwarmConfig()
package config
