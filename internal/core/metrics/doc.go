// Package metrics 提供监控指标收集
//
// 基于 prometheus client_golang，每个节点实例持有独立的 Registry，
// 同一进程内的多个模拟节点互不干扰。
//
// # 快速开始
//
//	m := metrics.New()
//	m.Frame(metrics.DirOut, "PING", 12)
//	http.Handle("/metrics", m.Handler())
//
// 所有记录方法对 nil 接收者安全。
package metrics
