// Package metrics 注册预处理与训练阶段的 Prometheus 指标。
//
// 批处理任务没有常驻 HTTP 端口，指标在任务结束时通过 WriteTextfile
// 写入 node_exporter textfile collector 目录。
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry 是本进程的指标注册表（不使用全局 DefaultRegisterer，便于测试）。
var Registry = prometheus.NewRegistry()

var (
	StageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ctrkit",
		Name:      "stage_duration_seconds",
		Help:      "Duration of pipeline stages and workflow ops.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
	}, []string{"stage"})

	RowsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ctrkit",
		Name:      "rows_processed_total",
		Help:      "Rows written or transformed per stage.",
	}, []string{"stage"})

	TrainSteps = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ctrkit",
		Name:      "train_steps_total",
		Help:      "Optimizer steps taken.",
	})

	TrainLoss = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ctrkit",
		Name:      "train_loss",
		Help:      "Moving average of the training log-loss.",
	})

	ValidMetric = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "ctrkit",
		Name:      "validation_metric",
		Help:      "Latest validation metrics (logloss, auc, map12).",
	}, []string{"metric"})
)

func init() {
	Registry.MustRegister(StageDuration, RowsProcessed, TrainSteps, TrainLoss, ValidMetric)
}

// ObserveStage 记录阶段耗时。
func ObserveStage(stage string, start time.Time) {
	StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// AddRows 累加阶段处理行数。
func AddRows(stage string, n int) {
	RowsProcessed.WithLabelValues(stage).Add(float64(n))
}

// WriteTextfile 把当前指标写入 textfile collector 文件；path 为空时不写。
func WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, Registry)
}
