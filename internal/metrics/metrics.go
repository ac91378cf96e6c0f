// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder はメトリクス収集のインターフェース。
// サービス層・キャッシュ・認証情報ストアから利用する。
type Recorder interface {
	RecordSignIn(success bool)
	RecordSignUp()
	RecordTokenConsumed(kind string, success bool)
	RecordCacheLookup(hit bool)
	RecordHashDuration(d time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	registry      *prometheus.Registry
	signIn        *prometheus.CounterVec
	signUps       prometheus.Counter
	tokenConsumed *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec
	hashDuration  prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、専用レジストリにメトリクスを登録する。
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		signIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ident_sign_in_total",
			Help: "サインイン試行の結果別合計数",
		}, []string{"result"}),
		signUps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ident_sign_up_total",
			Help: "サインアップ成功の合計数",
		}),
		tokenConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ident_token_consumed_total",
			Help: "確認・リセットトークン消費試行の種別・結果別合計数",
		}, []string{"kind", "result"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ident_user_cache_lookups_total",
			Help: "ユーザーキャッシュ参照のヒット・ミス別合計数",
		}, []string{"result"}),
		hashDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ident_password_hash_duration_seconds",
			Help:    "パスワードハッシュ計算のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	c.registry.MustRegister(
		c.signIn,
		c.signUps,
		c.tokenConsumed,
		c.cacheLookups,
		c.hashDuration,
	)

	return c
}

// RecordSignIn はサインイン試行の結果を記録する。
func (c *Collector) RecordSignIn(success bool) {
	c.signIn.WithLabelValues(resultLabel(success)).Inc()
}

// RecordSignUp はサインアップ成功を記録する。
func (c *Collector) RecordSignUp() {
	c.signUps.Inc()
}

// RecordTokenConsumed はトークン消費試行を記録する。
// kindは"confirmation"または"reset"。
func (c *Collector) RecordTokenConsumed(kind string, success bool) {
	c.tokenConsumed.WithLabelValues(kind, resultLabel(success)).Inc()
}

// RecordCacheLookup はユーザーキャッシュ参照の結果を記録する。
func (c *Collector) RecordCacheLookup(hit bool) {
	if hit {
		c.cacheLookups.WithLabelValues("hit").Inc()
	} else {
		c.cacheLookups.WithLabelValues("miss").Inc()
	}
}

// RecordHashDuration はパスワードハッシュ計算のレイテンシを記録する。
func (c *Collector) RecordHashDuration(d time.Duration) {
	c.hashDuration.Observe(d.Seconds())
}

// Handler は/metricsエンドポイント用のHTTPハンドラーを返す。
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// Noop は何も記録しないRecorder実装。テスト用。
type Noop struct{}

func (Noop) RecordSignIn(bool)                {}
func (Noop) RecordSignUp()                    {}
func (Noop) RecordTokenConsumed(string, bool) {}
func (Noop) RecordCacheLookup(bool)           {}
func (Noop) RecordHashDuration(time.Duration) {}

// compile-time interface checks
var _ Recorder = (*Collector)(nil)
var _ Recorder = Noop{}
