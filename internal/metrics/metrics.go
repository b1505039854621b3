// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 認証操作の結果ラベル
const (
	OutcomeSuccess            = "success"
	OutcomeValidation         = "validation_error"
	OutcomeConflict           = "conflict"
	OutcomeInvalidCredentials = "invalid_credentials"
	OutcomeUpstream           = "upstream_error"
	OutcomeError              = "error"
)

// AuthRecorder は認証サービスから利用するメトリクス記録インターフェース。
type AuthRecorder interface {
	RecordAuthAttempt(operation, outcome string)
	RecordSessionIssued(operation string)
	RecordUserCreated(provider string)
}

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層、ミドルウェア、ワーカーから利用する。
type MetricsCollector interface {
	AuthRecorder
	RecordHTTPStatus(statusCode int)
	RecordSessionsCleaned(count int64)
	RecordStoreLatency(operation string, duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	authAttempts    *prometheus.CounterVec
	sessionsIssued  *prometheus.CounterVec
	usersCreated    *prometheus.CounterVec
	httpStatus      *prometheus.CounterVec
	sessionsCleaned prometheus.Counter
	storeLatency    *prometheus.HistogramVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lengo_auth_attempts_total",
			Help: "認証操作の試行数（操作・結果別）",
		}, []string{"operation", "outcome"}),
		sessionsIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lengo_sessions_issued_total",
			Help: "発行したセッションの合計数",
		}, []string{"operation"}),
		usersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lengo_users_created_total",
			Help: "作成したユーザーの合計数（プロバイダー別）",
		}, []string{"provider"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lengo_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		sessionsCleaned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lengo_sessions_cleaned_total",
			Help: "クリーンアップで削除した期限切れセッションの合計数",
		}),
		storeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lengo_store_latency_seconds",
			Help:    "ストア操作のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}

	reg.MustRegister(
		c.authAttempts,
		c.sessionsIssued,
		c.usersCreated,
		c.httpStatus,
		c.sessionsCleaned,
		c.storeLatency,
	)

	return c
}

// RecordAuthAttempt は認証操作の結果を記録する。
func (c *Collector) RecordAuthAttempt(operation, outcome string) {
	c.authAttempts.WithLabelValues(operation, outcome).Inc()
}

// RecordSessionIssued はセッション発行を記録する。
func (c *Collector) RecordSessionIssued(operation string) {
	c.sessionsIssued.WithLabelValues(operation).Inc()
}

// RecordUserCreated はユーザー作成を記録する。
func (c *Collector) RecordUserCreated(provider string) {
	c.usersCreated.WithLabelValues(provider).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordSessionsCleaned は削除した期限切れセッション数を記録する。
func (c *Collector) RecordSessionsCleaned(count int64) {
	c.sessionsCleaned.Add(float64(count))
}

// RecordStoreLatency はストア操作のレイテンシを記録する。
func (c *Collector) RecordStoreLatency(operation string, duration time.Duration) {
	c.storeLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// Nop は何も記録しないMetricsCollector。メトリクス未設定時とテストで使用する。
type Nop struct{}

func (Nop) RecordAuthAttempt(string, string) {}
func (Nop) RecordSessionIssued(string) {}
func (Nop) RecordUserCreated(string) {}
func (Nop) RecordHTTPStatus(int) {}
func (Nop) RecordSessionsCleaned(int64) {}
func (Nop) RecordStoreLatency(string, time.Duration) {}

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

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
