package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "floodnet"

// 方向标签
const (
	DirIn  = "in"
	DirOut = "out"
)

// 结果标签
const (
	ResultOK          = "ok"
	ResultTimeout     = "timeout"
	ResultUnreachable = "unreachable"
	ResultExhausted   = "exhausted"
	ResultFailure     = "failure"
	ResultBackoff     = "backoff"
)

// 消息事件标签
const (
	MsgPublished = "published"
	MsgDelivered = "delivered"
	MsgDuplicate = "duplicate"
	MsgRelayed   = "relayed"
	MsgRejected  = "rejected"
)

// Metrics 节点指标集合
type Metrics struct {
	registry *prometheus.Registry

	lookups       *prometheus.CounterVec
	queries       *prometheus.CounterVec
	routingSize   prometheus.Gauge
	messages      *prometheus.CounterVec
	sessions      prometheus.Gauge
	dials         *prometheus.CounterVec
	frames        *prometheus.CounterVec
	bytes         *prometheus.CounterVec
	droppedFrames prometheus.Counter
}

// New 创建指标集合并注册到新的 Registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dht", Name: "lookups_total",
			Help: "Completed iterative lookups by result.",
		}, []string{"result"}),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dht", Name: "queries_total",
			Help: "FIND_PEERS and PING requests by result.",
		}, []string{"type", "result"}),
		routingSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "dht", Name: "routing_table_peers",
			Help: "Peers currently held in the routing table.",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pubsub", Name: "messages_total",
			Help: "PubSub message events.",
		}, []string{"event"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "swarm", Name: "sessions",
			Help: "Live peer sessions.",
		}),
		dials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "swarm", Name: "dials_total",
			Help: "Outbound dial attempts by result.",
		}, []string{"result"}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "swarm", Name: "frames_total",
			Help: "Protocol frames by direction and type.",
		}, []string{"dir", "type"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "swarm", Name: "bytes_total",
			Help: "Encoded frame bytes by direction.",
		}, []string{"dir"}),
		droppedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "swarm", Name: "dropped_frames_total",
			Help: "Outbound frames dropped because a session queue was full or a dial failed.",
		}),
	}

	m.registry.MustRegister(
		m.lookups, m.queries, m.routingSize, m.messages,
		m.sessions, m.dials, m.frames, m.bytes, m.droppedFrames,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry 返回底层 Registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler 返回 /metrics HTTP 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ============================================================================
//                              记录方法
// ============================================================================

// Lookup 记录一次查找完成
func (m *Metrics) Lookup(result string) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(result).Inc()
}

// Query 记录一次请求结果
func (m *Metrics) Query(typ, result string) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(typ, result).Inc()
}

// SetRoutingTableSize 设置路由表大小
func (m *Metrics) SetRoutingTableSize(n int) {
	if m == nil {
		return
	}
	m.routingSize.Set(float64(n))
}

// Message 记录 PubSub 消息事件
func (m *Metrics) Message(event string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(event).Inc()
}

// SetSessions 设置活跃会话数
func (m *Metrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(n))
}

// Dial 记录一次拨号结果
func (m *Metrics) Dial(result string) {
	if m == nil {
		return
	}
	m.dials.WithLabelValues(result).Inc()
}

// Frame 记录一个帧
func (m *Metrics) Frame(dir, typ string, size int) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(dir, typ).Inc()
	m.bytes.WithLabelValues(dir).Add(float64(size))
}

// DroppedFrame 记录一个被丢弃的出站帧
func (m *Metrics) DroppedFrame() {
	if m == nil {
		return
	}
	m.droppedFrames.Inc()
}
