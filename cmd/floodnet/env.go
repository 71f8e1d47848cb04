package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dep2p/go-floodnet/config"
)

// 环境变量
const (
	EnvPrefix         = "FLOODNET_"
	EnvListenPort     = "LISTEN_PORT"
	EnvBootstrapPeers = "BOOTSTRAP_PEERS"
	EnvTopic          = "TOPIC"
	EnvLogFile        = "LOG_FILE"
)

// logFileOverride 环境变量或 --log 指定的日志文件
var logFileOverride string

// applyEnvOverrides 应用 FLOODNET_* 环境变量
func applyEnvOverrides(cfg *config.Config, lookup func(string) (string, bool)) error {
	// FLOODNET_LISTEN_PORT
	if v, ok := lookup(EnvPrefix + EnvListenPort); ok && v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, EnvListenPort, err)
		}
		cfg.Listen.Port = p
		cfg.Listen.Addrs = nil
	}

	// FLOODNET_BOOTSTRAP_PEERS（逗号分隔）
	if v, ok := lookup(EnvPrefix + EnvBootstrapPeers); ok && v != "" {
		cfg.Discovery.BootstrapPeers = splitAndTrim(v, ",")
	}

	// FLOODNET_TOPIC
	if v, ok := lookup(EnvPrefix + EnvTopic); ok && v != "" {
		cfg.PubSub.Topic = v
	}

	// FLOODNET_LOG_FILE
	if v, ok := lookup(EnvPrefix + EnvLogFile); ok && v != "" {
		logFileOverride = v
	}
	return nil
}

func splitAndTrim(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
