// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ワーカーやサービス層から利用する。
type MetricsCollector interface {
	RecordRegistration(outcome string)
	RecordEmailSent()
	RecordEmailFailure(dead bool)
	RecordEmailLatency(duration time.Duration)
	RecordGeocode(outcome string)
}

// 登録結果のラベル値。
const (
	RegistrationSucceeded   = "succeeded"
	RegistrationRejected    = "rejected"    // 入力検証またはIDプロバイダーの検証エラー
	RegistrationCompensated = "compensated" // プロフィール保存失敗でIdentityUserを削除した
)

// ジオコーディング結果のラベル値。
const (
	GeocodeResolved = "resolved"
	GeocodeNotFound = "not_found"
	GeocodeError    = "error"
)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	registrations *prometheus.CounterVec
	emailSent     prometheus.Counter
	emailFail     *prometheus.CounterVec
	emailLatency  prometheus.Histogram
	geocodes      *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mapapp_registrations_total",
			Help: "結果別のユーザー登録数",
		}, []string{"outcome"}),
		emailSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mapapp_email_sent_total",
			Help: "送信に成功したメールの合計数",
		}),
		emailFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mapapp_email_fail_total",
			Help: "メール送信失敗の合計数（dead=trueは配送断念）",
		}, []string{"dead"}),
		emailLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mapapp_email_send_latency_seconds",
			Help:    "メール送信のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		geocodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mapapp_geocode_total",
			Help: "結果別のジオコーディング数",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		c.registrations,
		c.emailSent,
		c.emailFail,
		c.emailLatency,
		c.geocodes,
	)

	return c
}

// RecordRegistration は登録結果を記録する。
func (c *Collector) RecordRegistration(outcome string) {
	c.registrations.WithLabelValues(outcome).Inc()
}

// RecordEmailSent はメール送信成功を記録する。
func (c *Collector) RecordEmailSent() {
	c.emailSent.Inc()
}

// RecordEmailFailure はメール送信失敗を記録する。
func (c *Collector) RecordEmailFailure(dead bool) {
	label := "false"
	if dead {
		label = "true"
	}
	c.emailFail.WithLabelValues(label).Inc()
}

// RecordEmailLatency はメール送信のレイテンシを記録する。
func (c *Collector) RecordEmailLatency(duration time.Duration) {
	c.emailLatency.Observe(duration.Seconds())
}

// RecordGeocode はジオコーディング結果を記録する。
func (c *Collector) RecordGeocode(outcome string) {
	c.geocodes.WithLabelValues(outcome).Inc()
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使用する。
type Nop struct{}

func (Nop) RecordRegistration(string)        {}
func (Nop) RecordEmailSent()                 {}
func (Nop) RecordEmailFailure(bool)          {}
func (Nop) RecordEmailLatency(time.Duration) {}
func (Nop) RecordGeocode(string)             {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
