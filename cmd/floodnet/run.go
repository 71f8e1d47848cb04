package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/dep2p/go-floodnet"
	"github.com/dep2p/go-floodnet/pkg/lib/log"
	"github.com/dep2p/go-floodnet/pkg/types"
)

// bootstrapTimeout 启动时引导的时限
const bootstrapTimeout = time.Minute

func runNode(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logCloser, err := setupLogging(logFileOverride)
	if err != nil {
		fmt.Fprintf(os.Stderr, "警告: %v\n", err)
		fmt.Fprintln(os.Stderr, "将继续使用控制台输出日志")
	}
	if logCloser != nil {
		defer func() { _ = logCloser.Close() }()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("启动 floodnet 节点", "version", floodnet.Version, "commit", floodnet.GitCommit)
	node, err := floodnet.New(floodnet.WithConfig(cfg))
	if err != nil {
		return err
	}
	if err := node.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = node.Close() }()

	printNodeInfo(cmd.OutOrStdout(), node)

	srv, err := startMetricsServer(cfg.Metrics.ListenAddr, node.MetricsHandler())
	if err != nil {
		return err
	}

	sub, err := node.Subscribe(cfg.PubSub.Topic)
	if err != nil {
		return fmt.Errorf("订阅主题失败: %w", err)
	}
	go printMessages(cmd.OutOrStdout(), sub)
	go bootstrap(ctx, node)
	go func() {
		publish := func(ctx context.Context, payload []byte) (*types.Envelope, error) {
			return node.Publish(ctx, cfg.PubSub.Topic, payload)
		}
		if err := publishLines(ctx, cmd.InOrStdin(), cfg.PubSub.MaxMessageSize, publish); err != nil && ctx.Err() == nil {
			logger.Error("停止读取标准输入", "error", err)
		}
	}()

	<-ctx.Done()
	fmt.Fprintln(cmd.OutOrStdout(), "\n正在关闭节点...")

	var closeErr error
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		closeErr = multierr.Append(closeErr, srv.Shutdown(shutdownCtx))
		cancel()
	}
	return multierr.Append(closeErr, node.Close())
}

// ═══════════════════════════════════════════════════════════════════════════
// 日志
// ═══════════════════════════════════════════════════════════════════════════

// setupLogging 设置日志级别与输出
//
// path 为空时输出到 stderr。
func setupLogging(path string) (io.Closer, error) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	log.SetOutputWithLevel(os.Stderr, level)
	if path == "" {
		return nil, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("创建日志目录失败: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("打开日志文件失败: %w", err)
	}
	log.SetOutputWithLevel(file, level)
	return file, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// 运行
// ═══════════════════════════════════════════════════════════════════════════

func printNodeInfo(w io.Writer, node *floodnet.Node) {
	cfg := node.Config()
	fmt.Fprintf(w, "📦 %s\n", floodnet.VersionInfo())
	fmt.Fprintf(w, "节点 ID: %s\n", node.ID())
	fmt.Fprintln(w, "监听地址:")
	for _, addr := range node.Addrs() {
		fmt.Fprintf(w, "  %s\n", addr)
	}
	fmt.Fprintf(w, "主题: %s\n", cfg.PubSub.Topic)
	fmt.Fprintln(w, "输入消息并回车发布，按 Ctrl+C 退出")
}

// startMetricsServer 启动指标 HTTP 服务，addr 为空时不启动
func startMetricsServer(addr string, handler http.Handler) (*http.Server, error) {
	if addr == "" || handler == nil {
		return nil, nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("指标服务异常退出", "addr", addr, "error", err)
		}
	}()
	logger.Info("指标服务已启动", "addr", addr)
	return srv, nil
}

func bootstrap(ctx context.Context, node *floodnet.Node) {
	if len(node.Config().Discovery.BootstrapPeers) == 0 {
		logger.Info("未配置引导节点，等待其它节点连接")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, bootstrapTimeout)
	defer cancel()

	peers, err := node.Bootstrap(ctx, nil)
	if err != nil {
		logger.Warn("引导失败", "error", err)
		return
	}
	logger.Info("引导完成", "peers", len(peers))
}

func printMessages(w io.Writer, sub *floodnet.Subscription) {
	for env := range sub.Messages() {
		fmt.Fprintln(w, formatMessage(env))
	}
}

func formatMessage(env *types.Envelope) string {
	return fmt.Sprintf("[%s] %s: %s", env.Topic, env.Origin.ShortString(), env.Payload)
}

// publishFunc 发布一条消息
type publishFunc func(ctx context.Context, payload []byte) (*types.Envelope, error)

// publishLines 将 stdin 的每一行发布到主题，stdin 结束后节点继续运行
//
// 超过 maxSize 的行会终止读取并返回 bufio.ErrTooLong。
func publishLines(ctx context.Context, r io.Reader, maxSize int, publish publishFunc) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, min(maxSize, bufio.MaxScanTokenSize)), maxSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		env, err := publish(ctx, append([]byte(nil), line...))
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn("发布失败", "error", err)
			continue
		}
		logger.Debug("已发布", "msgID", env.ID.ShortString())
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("读取标准输入失败: %w", err)
	}
	return nil
}
