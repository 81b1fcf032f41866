package metrics

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"machineid-swarm/internal/machineid"
)

// Recorder 汇总一次进程生命周期内的网关指标。
type Recorder struct {
	registry *prometheus.Registry

	registerTotal *prometheus.CounterVec
	validateTotal *prometheus.CounterVec
	agentRuns     *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

// New 创建使用独立注册表的 Recorder。
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		registerTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "machineid_register_total",
				Help: "Device register calls by returned status",
			},
			[]string{"status"},
		),
		validateTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "machineid_validate_total",
				Help: "Device validate decisions",
			},
			[]string{"allowed"},
		),
		agentRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "machineid_agent_runs_total",
				Help: "Swarm runs started after an allowed decision",
			},
			[]string{"result"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "machineid_http_request_duration_seconds",
				Help:    "Latency of machineid API calls",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint", "method", "code"},
		),
	}
	r.registry.MustRegister(r.registerTotal, r.validateTotal, r.agentRuns, r.httpDuration)
	return r
}

// Registry 返回底层注册表。
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// ObserveRegister 记录一次注册结果。
func (r *Recorder) ObserveRegister(status string) {
	if status == "" {
		status = "unknown"
	}
	r.registerTotal.WithLabelValues(status).Inc()
}

// ObserveValidate 记录一次校验决策。
func (r *Recorder) ObserveValidate(allowed bool) {
	r.validateTotal.WithLabelValues(strconv.FormatBool(allowed)).Inc()
}

// ObserveAgentRun 记录智能体运行结果，result 取 ok 或 error。
func (r *Recorder) ObserveAgentRun(result string) {
	r.agentRuns.WithLabelValues(result).Inc()
}

// Observer 返回可挂载到 machineid 客户端的请求观察函数。
func (r *Recorder) Observer() machineid.Observer {
	return func(endpoint machineid.Endpoint, method string, status int, duration time.Duration) {
		code := "none"
		if status > 0 {
			code = strconv.Itoa(status)
		}
		r.httpDuration.WithLabelValues(string(endpoint), method, code).Observe(duration.Seconds())
	}
}

// WriteTextfile 以 node_exporter textfile 格式写出全部指标。
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("写入指标文件失败: %w", err)
	}
	return nil
}

// Push 将指标推送到 Pushgateway。
func (r *Recorder) Push(url, job string) error {
	if err := push.New(url, job).Gatherer(r.registry).Push(); err != nil {
		return fmt.Errorf("推送指标失败: %w", err)
	}
	return nil
}
