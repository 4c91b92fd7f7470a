// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 認証サービス層から利用する。
type MetricsCollector interface {
	RecordSignup(provider string)
	RecordLoginSuccess()
	RecordLoginFailure(reason string)
	RecordOAuthCallback(provider string, result string)
	RecordSessionVerification(result string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	signups        *prometheus.CounterVec
	loginSuccess   prometheus.Counter
	loginFail      *prometheus.CounterVec
	oauthCallbacks *prometheus.CounterVec
	sessionVerify  *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		signups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_signups_total",
			Help: "プロバイダー別のアカウント作成数",
		}, []string{"provider"}),
		loginSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authgate_login_success_total",
			Help: "パスワードログイン成功の合計数",
		}),
		loginFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_login_fail_total",
			Help: "理由別のパスワードログイン失敗数",
		}, []string{"reason"}),
		oauthCallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_oauth_callback_total",
			Help: "プロバイダー・結果別のOAuthコールバック数",
		}, []string{"provider", "result"}),
		sessionVerify: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_session_verify_total",
			Help: "結果別のセッション検証数",
		}, []string{"result"}),
	}

	reg.MustRegister(
		c.signups,
		c.loginSuccess,
		c.loginFail,
		c.oauthCallbacks,
		c.sessionVerify,
	)

	return c
}

// RecordSignup はアカウント作成を記録する。
func (c *Collector) RecordSignup(provider string) {
	c.signups.WithLabelValues(provider).Inc()
}

// RecordLoginSuccess はパスワードログイン成功を記録する。
func (c *Collector) RecordLoginSuccess() {
	c.loginSuccess.Inc()
}

// RecordLoginFailure はパスワードログイン失敗を記録する。
func (c *Collector) RecordLoginFailure(reason string) {
	c.loginFail.WithLabelValues(reason).Inc()
}

// RecordOAuthCallback はOAuthコールバックの結果を記録する。
func (c *Collector) RecordOAuthCallback(provider string, result string) {
	c.oauthCallbacks.WithLabelValues(provider, result).Inc()
}

// RecordSessionVerification はセッション検証の結果を記録する。
func (c *Collector) RecordSessionVerification(result string) {
	c.sessionVerify.WithLabelValues(result).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
