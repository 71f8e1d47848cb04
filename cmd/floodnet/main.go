// Package main 提供 floodnet 命令行入口
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dep2p/go-floodnet"
	"github.com/dep2p/go-floodnet/config"
	"github.com/dep2p/go-floodnet/pkg/lib/log"
)

var logger = log.Logger("cmd/floodnet")

// ═══════════════════════════════════════════════════════════════════════════
// 命令行参数
// ═══════════════════════════════════════════════════════════════════════════
//
// 配置优先级（从高到低）：命令行参数 > 环境变量（FLOODNET_*）> 配置文件 > 默认值
var (
	configPath string
	port       int
	verbose    bool
	seedHex    string
	logFile    string
)

var rootCmd = &cobra.Command{
	Use:   "floodnet",
	Short: "Kademlia discovery + flood pubsub node",
	Long: `floodnet runs a peer-to-peer node that discovers peers with a Kademlia DHT
and floods messages on a pubsub topic. Each line read from stdin is published
to the configured topic; delivered messages are printed to stdout.`,
	SilenceUsage: true,
	RunE:         runNode,
}

var idCmd = &cobra.Command{
	Use:   "id",
	Short: "Print the node ID for the configured identity",
	RunE:  runID,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), floodnet.VersionInfo())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yml", "config file path (YAML)")
	rootCmd.PersistentFlags().StringVar(&seedHex, "seed", "", "hex identity seed (overrides identity.key_file)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.Flags().IntVarP(&port, "port", "p", config.DefaultPort, "TCP listen port")
	rootCmd.Flags().StringVar(&logFile, "log", "", "write logs to file instead of stderr")

	rootCmd.AddCommand(idCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig 加载配置文件并应用环境变量与命令行覆盖
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("加载配置文件失败: %w", err)
	}
	if err := applyEnvOverrides(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	applyFlagOverrides(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置错误: %w", err)
	}
	return cfg, nil
}

// applyFlagOverrides 只覆盖显式设置的参数
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	if f := cmd.Flags().Lookup("port"); f != nil && f.Changed {
		cfg.Listen.Port = port
		cfg.Listen.Addrs = nil
	}
	if seedHex != "" {
		cfg.Identity.Seed = seedHex
	}
	if f := cmd.Flags().Lookup("log"); f != nil && f.Changed {
		logFileOverride = logFile
	}
}

// runID 打印配置的身份对应的节点 ID
//
// 未配置种子和密钥文件时每次输出不同的临时身份。
func runID(cmd *cobra.Command, args []string) error {
	if _, err := setupLogging(""); err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	id, err := cfg.Identity.Load()
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), id.ID().String())
	return nil
}
