// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// リコンサイラーやサービス層から利用する。
type MetricsCollector interface {
	RecordReconcileAttempt(method string)
	RecordReconcileOutcome(outcome string)
	RecordRetryExhausted()
	RecordCartMutation(operation string)
	RecordCartMutationFailure(operation string, kind string)
	RecordCommerceStatus(statusCode int)
	RecordCommerceLatency(duration time.Duration)
	RecordActiveSessions(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	reconcileAttempt *prometheus.CounterVec
	reconcileOutcome *prometheus.CounterVec
	retryExhausted   prometheus.Counter
	cartMutation     *prometheus.CounterVec
	cartMutationFail *prometheus.CounterVec
	commerceStatus   *prometheus.CounterVec
	commerceLatency  prometheus.Histogram
	activeSessions   prometheus.Gauge
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		reconcileAttempt: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shopcore_reconcile_attempt_total",
			Help: "認証メソッド別のアカウント連携試行数",
		}, []string{"method"}),
		reconcileOutcome: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shopcore_reconcile_outcome_total",
			Help: "連携結果別の遷移数",
		}, []string{"outcome"}),
		retryExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shopcore_reconcile_retry_exhausted_total",
			Help: "リトライ上限に達した連携の合計数",
		}),
		cartMutation: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shopcore_cart_mutation_total",
			Help: "操作別のカート変更成功数",
		}, []string{"operation"}),
		cartMutationFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shopcore_cart_mutation_fail_total",
			Help: "操作・失敗分類別のカート変更失敗数",
		}, []string{"operation", "kind"}),
		commerceStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shopcore_commerce_status_total",
			Help: "コマースAPIのHTTPステータスコード別レスポンス数",
		}, []string{"status_code"}),
		commerceLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "shopcore_commerce_latency_seconds",
			Help:    "コマースAPI呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shopcore_active_sessions",
			Help: "アクティブなブラウザセッションコアの数",
		}),
	}

	reg.MustRegister(
		c.reconcileAttempt,
		c.reconcileOutcome,
		c.retryExhausted,
		c.cartMutation,
		c.cartMutationFail,
		c.commerceStatus,
		c.commerceLatency,
		c.activeSessions,
	)

	return c
}

// RecordReconcileAttempt は認証メソッドの試行を記録する。
// methodはlogin、create_account、guest_associationのいずれか。
func (c *Collector) RecordReconcileAttempt(method string) {
	c.reconcileAttempt.WithLabelValues(method).Inc()
}

// RecordReconcileOutcome は連携結果の遷移を記録する。
// outcomeはassociated、failed、idleのいずれか。
func (c *Collector) RecordReconcileOutcome(outcome string) {
	c.reconcileOutcome.WithLabelValues(outcome).Inc()
}

// RecordRetryExhausted はリトライ上限到達を記録する。
func (c *Collector) RecordRetryExhausted() {
	c.retryExhausted.Inc()
}

// RecordCartMutation はカート変更の成功を記録する。
func (c *Collector) RecordCartMutation(operation string) {
	c.cartMutation.WithLabelValues(operation).Inc()
}

// RecordCartMutationFailure はカート変更の失敗を失敗分類付きで記録する。
func (c *Collector) RecordCartMutationFailure(operation string, kind string) {
	c.cartMutationFail.WithLabelValues(operation, kind).Inc()
}

// RecordCommerceStatus はコマースAPIのHTTPステータスコードを記録する。
func (c *Collector) RecordCommerceStatus(statusCode int) {
	c.commerceStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordCommerceLatency はコマースAPI呼び出しのレイテンシを記録する。
func (c *Collector) RecordCommerceLatency(duration time.Duration) {
	c.commerceLatency.Observe(duration.Seconds())
}

// RecordActiveSessions はアクティブセッション数を記録する。
func (c *Collector) RecordActiveSessions(count int) {
	c.activeSessions.Set(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
