package monitor

import (
	iface "CDEvalServer/interface"
	"CDEvalServer/logger"
	"context"
	"math"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

var (
	PID         process.Process
	registry    *prometheus.Registry
	memUsage    prometheus.Gauge
	cpuUsage    prometheus.Gauge
	EvalRuns    *prometheus.CounterVec
	EvalBatches prometheus.Counter
	EvalMetric  *prometheus.GaugeVec
	EvalScalar  *prometheus.GaugeVec
	HTTPTotal   prometheus.Counter
	promOnce    sync.Once
)

func prom() {
	promOnce.Do(func() {
		registry = prometheus.NewRegistry()
		memUsage = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "memory_usage_Megabytes",
			Help: "Memory usage in Megabytes",
		})
		cpuUsage = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cpu_usage_percent",
			Help: "CPU usage in percent",
		})
		EvalRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eval_runs_total",
			Help: "Total number of evaluation runs by outcome",
		}, []string{"outcome"})
		EvalBatches = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eval_batches_total",
			Help: "Total number of batches evaluated",
		})
		EvalMetric = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "eval_metric",
			Help: "Averaged metric of the last successful evaluation",
		}, []string{"name"})
		EvalScalar = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "eval_scalar",
			Help: "Last scalar written per tag",
		}, []string{"tag"})
		HTTPTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP API requests processed",
		})
		registry.MustRegister(memUsage, cpuUsage, EvalRuns, EvalBatches, EvalMetric, EvalScalar, HTTPTotal)
	})
}

// Handler serves the monitor registry in the Prometheus text format.
func Handler() http.Handler {
	prom()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}

// ObserveRun records the outcome of one evaluation and, on success, its averages.
func ObserveRun(result iface.MetricSet, err error) {
	prom()
	if err != nil {
		EvalRuns.WithLabelValues("error").Inc()
		return
	}
	EvalRuns.WithLabelValues("ok").Inc()
	for name, v := range result {
		EvalMetric.WithLabelValues(name).Set(v)
	}
}

func ObserveBatch() {
	prom()
	EvalBatches.Inc()
}

// ScalarWriter exposes written scalars as the eval_scalar gauge.
type ScalarWriter struct{}

func (ScalarWriter) AddScalar(tag string, value float64, step int) error {
	prom()
	EvalScalar.WithLabelValues(tag).Set(value)
	return nil
}

func CheckProcessInfo() {
	MemInfo, err := PID.MemoryInfo()
	if err != nil {
		logger.Log().Warn("read memory info", zap.Error(err))
		return
	}
	var MemMB = MemInfo.RSS / 1024 / 1024
	CPUPercent, _ := PID.CPUPercent()
	CPUPercentFloat := math.Round(CPUPercent*100) / 100
	memUsage.Set(float64(MemMB))
	cpuUsage.Set(CPUPercentFloat)
}

func GotPID() {
	PID.Pid = int32(os.Getpid())
}

// StartMon samples process stats every 500ms until ctx is done.
func StartMon(ctx context.Context) {
	prom()
	PID = process.Process{}
	GotPID()
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			CheckProcessInfo()
		}
	}
}
