// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 操作結果ラベル。失敗時はエラー種別を小文字にした値を使う。
const (
	OutcomeSuccess  = "success"
	OutcomeCanceled = "canceled"
	OutcomeError    = "error"
)

// Recorder は認証操作のメトリクス記録インターフェース。
// 認証マネージャーから利用する。
type Recorder interface {
	RecordOperation(operation, outcome string, duration time.Duration)
	SetAuthenticated(authenticated bool)
}

// NopRecorder は何も記録しないRecorder。
type NopRecorder struct{}

// RecordOperation は何もしない。
func (NopRecorder) RecordOperation(string, string, time.Duration) {}

// SetAuthenticated は何もしない。
func (NopRecorder) SetAuthenticated(bool) {}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	operations    *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	authenticated prometheus.Gauge
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mockauth_auth_operations_total",
			Help: "認証操作の実行回数（操作・結果別）",
		}, []string{"operation", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mockauth_auth_operation_duration_seconds",
			Help:    "認証操作の所要時間（秒）",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 1.5, 2, 5, 10},
		}, []string{"operation"}),
		authenticated: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mockauth_authenticated",
			Help: "サインイン中なら1、それ以外は0",
		}),
	}

	reg.MustRegister(
		c.operations,
		c.duration,
		c.authenticated,
	)

	return c
}

// RecordOperation は操作の結果と所要時間を記録する。
func (c *Collector) RecordOperation(operation, outcome string, duration time.Duration) {
	c.operations.WithLabelValues(operation, outcome).Inc()
	c.duration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetAuthenticated は認証状態ゲージを更新する。
func (c *Collector) SetAuthenticated(authenticated bool) {
	if authenticated {
		c.authenticated.Set(1)
		return
	}
	c.authenticated.Set(0)
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var (
	_ Recorder = (*Collector)(nil)
	_ Recorder = NopRecorder{}
)
