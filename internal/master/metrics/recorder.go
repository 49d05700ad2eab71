// Package metrics 引擎的 Prometheus 指标以及 HTTP 状态接口。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"simlab/pkg/model"
)

const namespace = "simlab"

// PrometheusRecorder 实现 scheduler.Recorder
type PrometheusRecorder struct {
	registry *prometheus.Registry

	// JobsTotalCounterVec 按事件 (admitted / drained) 统计作业数
	JobsTotalCounterVec *prometheus.CounterVec

	// NodesFinishedCounterVec 按终态统计完成的节点
	NodesFinishedCounterVec *prometheus.CounterVec

	NodesRunningGauge prometheus.Gauge

	// LockAttemptsCounterVec result 为 acquired 或 contended
	LockAttemptsCounterVec *prometheus.CounterVec

	// ResourcesGaugeVec state 为 total 或 locked
	ResourcesGaugeVec *prometheus.GaugeVec
}

func NewPrometheusRecorder() *PrometheusRecorder {
	r := &PrometheusRecorder{
		registry: prometheus.NewRegistry(),
		JobsTotalCounterVec: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Jobs admitted into and drained from the task graph",
		}, []string{"event"}),
		NodesFinishedCounterVec: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nodes_finished_total",
			Help:      "Nodes that reached a terminal state",
		}, []string{"state"}),
		NodesRunningGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "nodes_running",
			Help:      "Nodes currently owned by a worker",
		}),
		LockAttemptsCounterVec: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_attempts_total",
			Help:      "Lock coordinator attempts by outcome",
		}, []string{"result"}),
		ResourcesGaugeVec: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "resources",
			Help:      "Registered and locked resources",
		}, []string{"state"}),
	}

	r.registry.MustRegister(
		r.JobsTotalCounterVec,
		r.NodesFinishedCounterVec,
		r.NodesRunningGauge,
		r.LockAttemptsCounterVec,
		r.ResourcesGaugeVec,
	)
	return r
}

// Registry 供 /metrics 使用
func (r *PrometheusRecorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *PrometheusRecorder) JobAdmitted() {
	r.JobsTotalCounterVec.WithLabelValues("admitted").Inc()
}

func (r *PrometheusRecorder) JobDrained() {
	r.JobsTotalCounterVec.WithLabelValues("drained").Inc()
}

func (r *PrometheusRecorder) NodeStarted() {
	r.NodesRunningGauge.Inc()
}

func (r *PrometheusRecorder) NodeFinished(state model.NodeState) {
	r.NodesRunningGauge.Dec()
	r.NodesFinishedCounterVec.WithLabelValues(state.String()).Inc()
}

func (r *PrometheusRecorder) LockAttempt(acquired bool) {
	if acquired {
		r.LockAttemptsCounterVec.WithLabelValues("acquired").Inc()
		return
	}
	r.LockAttemptsCounterVec.WithLabelValues("contended").Inc()
}

func (r *PrometheusRecorder) ResourcesChanged(total, locked int) {
	r.ResourcesGaugeVec.WithLabelValues("total").Set(float64(total))
	r.ResourcesGaugeVec.WithLabelValues("locked").Set(float64(locked))
}
