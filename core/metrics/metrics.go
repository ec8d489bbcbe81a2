// Package metrics 定义流客户端的 Prometheus 指标。
//
// 所有指标挂在 wes 命名空间下,按 transport / stream 两个子系统划分。
// 收集器指针允许为 nil,nil 时所有记录方法为空操作,
// 便于调用方在未启用指标时省去判空。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "wes"

// ===== 传输层指标 =====

// ConnMetrics 连接层指标收集器
type ConnMetrics struct {
	connected         prometheus.Gauge
	reconnects        prometheus.Counter
	reconnectFailures prometheus.Counter
	framesSent        prometheus.Counter
	framesReceived    prometheus.Counter
	sendFailures      prometheus.Counter
}

// NewConnMetrics 创建并注册连接层指标。reg 为 nil 时使用默认注册表。
func NewConnMetrics(reg prometheus.Registerer) *ConnMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &ConnMetrics{
		connected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "connected",
			Help:      "Whether the websocket connection is currently established (0/1)",
		}),
		reconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "reconnects_total",
			Help:      "Total number of successful automatic reconnects",
		}),
		reconnectFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "reconnect_failures_total",
			Help:      "Total number of failed reconnect attempts",
		}),
		framesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "frames_sent_total",
			Help:      "Total number of frames written to the gateway",
		}),
		framesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "frames_received_total",
			Help:      "Total number of frames read from the gateway",
		}),
		sendFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "send_failures_total",
			Help:      "Total number of frame write failures",
		}),
	}
}

// SetConnected 更新连接在线状态
func (m *ConnMetrics) SetConnected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
}

// IncReconnect 记录一次重连成功
func (m *ConnMetrics) IncReconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

// IncReconnectFailure 记录一次重连失败
func (m *ConnMetrics) IncReconnectFailure() {
	if m == nil {
		return
	}
	m.reconnectFailures.Inc()
}

// IncSent 记录一帧发送成功
func (m *ConnMetrics) IncSent() {
	if m == nil {
		return
	}
	m.framesSent.Inc()
}

// IncReceived 记录一帧接收
func (m *ConnMetrics) IncReceived() {
	if m == nil {
		return
	}
	m.framesReceived.Inc()
}

// IncSendFailure 记录一帧发送失败
func (m *ConnMetrics) IncSendFailure() {
	if m == nil {
		return
	}
	m.sendFailures.Inc()
}

// ===== 流管理指标 =====

// StreamMetrics 流注册表与路由指标收集器
type StreamMetrics struct {
	activeStreams        prometheus.Gauge
	registrations        prometheus.Counter
	registrationFailures prometheus.Counter
	unregistrations      prometheus.Counter
	restarts             prometheus.Counter
	restartFailures      prometheus.Counter
	framesRouted         prometheus.Counter
	framesDropped        prometheus.Counter
}

// NewStreamMetrics 创建并注册流管理指标。reg 为 nil 时使用默认注册表。
func NewStreamMetrics(reg prometheus.Registerer) *StreamMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &StreamMetrics{
		activeStreams: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "active",
			Help:      "Number of streams currently registered",
		}),
		registrations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "registrations_total",
			Help:      "Total number of successful stream registrations",
		}),
		registrationFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "registration_failures_total",
			Help:      "Total number of failed stream registrations",
		}),
		unregistrations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "unregistrations_total",
			Help:      "Total number of stream unregistrations",
		}),
		restarts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "restarts_total",
			Help:      "Total number of stream restarts",
		}),
		restartFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "restart_failures_total",
			Help:      "Total number of failed stream restarts",
		}),
		framesRouted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "frames_routed_total",
			Help:      "Total number of frames routed to a registered stream",
		}),
		framesDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "frames_dropped_total",
			Help:      "Total number of frames dropped for lack of a matching stream",
		}),
	}
}

// SetActive 更新当前注册的流数量
func (m *StreamMetrics) SetActive(n int) {
	if m == nil {
		return
	}
	m.activeStreams.Set(float64(n))
}

// IncRegistration 记录一次注册成功
func (m *StreamMetrics) IncRegistration() {
	if m == nil {
		return
	}
	m.registrations.Inc()
}

// IncRegistrationFailure 记录一次注册失败
func (m *StreamMetrics) IncRegistrationFailure() {
	if m == nil {
		return
	}
	m.registrationFailures.Inc()
}

// IncUnregistration 记录一次注销
func (m *StreamMetrics) IncUnregistration() {
	if m == nil {
		return
	}
	m.unregistrations.Inc()
}

// IncRestart 记录一次流重启成功
func (m *StreamMetrics) IncRestart() {
	if m == nil {
		return
	}
	m.restarts.Inc()
}

// IncRestartFailure 记录一次流重启失败
func (m *StreamMetrics) IncRestartFailure() {
	if m == nil {
		return
	}
	m.restartFailures.Inc()
}

// IncRouted 记录一帧成功路由
func (m *StreamMetrics) IncRouted() {
	if m == nil {
		return
	}
	m.framesRouted.Inc()
}

// IncDropped 记录一帧无匹配流被丢弃
func (m *StreamMetrics) IncDropped() {
	if m == nil {
		return
	}
	m.framesDropped.Inc()
}
