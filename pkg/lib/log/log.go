// Package log 提供 floodnet 统一日志接口
//
// 基于 Go 标准库 log/slog 封装，按组件输出结构化日志。
// 各包通过包级变量获取 LazyLogger：
//
//	var logger = log.Logger("discovery/dht")
//
//	logger.Debug("路由表已更新", "peer", id.ShortString())
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
)

// 日志级别常量（从 slog 导出，方便使用）
const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

var (
	// level 全局日志级别，可在运行时调整
	level = new(slog.LevelVar)

	mu      sync.Mutex
	output  io.Writer = os.Stderr
	jsonFmt bool
)

// SetOutputWithLevel 同时设置日志输出目标和级别
//
// 重新创建默认 logger。已获取的 LazyLogger 无需重建，
// 下一次日志调用即使用新的 handler。
//
// 示例：
//
//	file, _ := os.OpenFile("node.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
//	log.SetOutputWithLevel(file, log.LevelDebug)
func SetOutputWithLevel(w io.Writer, lvl slog.Level) {
	mu.Lock()
	defer mu.Unlock()
	output = w
	level.Set(lvl)
	rebuild()
}

// SetOutput 设置日志输出目标（级别不变）
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
	rebuild()
}

// SetLevel 设置日志级别
func SetLevel(lvl slog.Level) {
	level.Set(lvl)
}

// SetJSON 切换 JSON 输出格式
func SetJSON(enabled bool) {
	mu.Lock()
	defer mu.Unlock()
	jsonFmt = enabled
	rebuild()
}

// rebuild 重建默认 logger（调用者持有 mu）
func rebuild() {
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if jsonFmt {
		h = slog.NewJSONHandler(output, opts)
	} else {
		h = slog.NewTextHandler(output, opts)
	}
	slog.SetDefault(slog.New(h))
}

// Discard 让所有日志输出被丢弃（测试使用）
func Discard() {
	SetOutput(io.Discard)
}

// ============================================================================
//                              LazyLogger
// ============================================================================

// LazyLogger 懒加载 logger
//
// 每次日志调用时都从 slog.Default() 获取最新的 handler，
// 支持在运行时动态切换日志输出目标。
type LazyLogger struct {
	component string
}

// Logger 返回带组件名的 LazyLogger
func Logger(component string) *LazyLogger {
	return &LazyLogger{component: component}
}

func (l *LazyLogger) base() *slog.Logger {
	return slog.Default().With("component", l.component)
}

// Debug 输出 Debug 级别日志
func (l *LazyLogger) Debug(msg string, args ...any) {
	l.base().Debug(msg, args...)
}

// Info 输出 Info 级别日志
func (l *LazyLogger) Info(msg string, args ...any) {
	l.base().Info(msg, args...)
}

// Warn 输出 Warn 级别日志
func (l *LazyLogger) Warn(msg string, args ...any) {
	l.base().Warn(msg, args...)
}

// Error 输出 Error 级别日志
func (l *LazyLogger) Error(msg string, args ...any) {
	l.base().Error(msg, args...)
}

// DebugContext 带 context 的 Debug 日志
func (l *LazyLogger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.base().DebugContext(ctx, msg, args...)
}

// Enabled 判断指定级别是否输出，用于跳过代价较高的日志参数构造
func (l *LazyLogger) Enabled(lvl slog.Level) bool {
	return slog.Default().Enabled(context.Background(), lvl)
}

// With 添加额外的属性
func (l *LazyLogger) With(args ...any) *slog.Logger {
	return l.base().With(args...)
}

func init() {
	level.Set(slog.LevelInfo)
	rebuild()
}
