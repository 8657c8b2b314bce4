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
// 認証ミドルウェア・ユーザー解決・クレデンシャル検証から利用する。
type MetricsCollector interface {
	RecordValidation(outcome string, elapsed time.Duration)
	RecordEventPublishFailure()
	RecordProvisioning(outcome string)
	RecordTokenRejection()
	RecordUpstreamTimeout(op string)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	validations          *prometheus.CounterVec
	validationLatency    prometheus.Histogram
	eventPublishFailures prometheus.Counter
	provisioning         *prometheus.CounterVec
	tokenRejections      prometheus.Counter
	upstreamTimeouts     *prometheus.CounterVec
	httpStatus           *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gymgate_checkin_validations_total",
			Help: "結果別のクレデンシャル検証数",
		}, []string{"outcome"}),
		validationLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gymgate_checkin_validation_seconds",
			Help:    "クレデンシャル検証のレイテンシ（秒）",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		eventPublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gymgate_checkin_event_publish_failures_total",
			Help: "チェックインイベント配信失敗の合計数",
		}),
		provisioning: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gymgate_identity_provisioning_total",
			Help: "結果別のJITユーザー作成数",
		}, []string{"outcome"}),
		tokenRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gymgate_token_rejections_total",
			Help: "拒否されたベアラートークンの合計数",
		}),
		upstreamTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gymgate_upstream_timeouts_total",
			Help: "呼び出し先別の外部呼び出しタイムアウト数",
		}, []string{"op"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gymgate_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.validations,
		c.validationLatency,
		c.eventPublishFailures,
		c.provisioning,
		c.tokenRejections,
		c.upstreamTimeouts,
		c.httpStatus,
	)

	return c
}

// RecordValidation は検証結果とレイテンシを記録する。
func (c *Collector) RecordValidation(outcome string, elapsed time.Duration) {
	c.validations.WithLabelValues(outcome).Inc()
	c.validationLatency.Observe(elapsed.Seconds())
}

// RecordEventPublishFailure はイベント配信失敗を記録する。
func (c *Collector) RecordEventPublishFailure() {
	c.eventPublishFailures.Inc()
}

// RecordProvisioning はJITユーザー作成の結果を記録する。
func (c *Collector) RecordProvisioning(outcome string) {
	c.provisioning.WithLabelValues(outcome).Inc()
}

// RecordTokenRejection はトークン拒否を記録する。
func (c *Collector) RecordTokenRejection() {
	c.tokenRejections.Inc()
}

// RecordUpstreamTimeout は外部呼び出しのタイムアウトを記録する。
func (c *Collector) RecordUpstreamTimeout(op string) {
	c.upstreamTimeouts.WithLabelValues(op).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
