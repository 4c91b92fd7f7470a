package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// counterValue は指定メトリクスのカウンタ値を取得する。
func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()

	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelsMatch(m.GetLabel(), labels) {
				return m.GetCounter().GetValue()
			}
		}
	}
	t.Fatalf("%s%v metric not found", name, labels)
	return 0
}

func labelsMatch(pairs []*dto.LabelPair, want map[string]string) bool {
	for _, lp := range pairs {
		if want[lp.GetName()] != lp.GetValue() {
			return false
		}
	}
	return true
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	if c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestRecordSignup_IncrementsCounterWithProvider はアカウント作成カウンタが
// プロバイダーラベル付きで増加することを検証する。
func TestRecordSignup_IncrementsCounterWithProvider(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSignup("email")
	c.RecordSignup("email")
	c.RecordSignup("google")

	if val := counterValue(t, reg, "authgate_signups_total", map[string]string{"provider": "email"}); val != 2 {
		t.Errorf("signups_total{provider=email} = %v, want 2", val)
	}
	if val := counterValue(t, reg, "authgate_signups_total", map[string]string{"provider": "google"}); val != 1 {
		t.Errorf("signups_total{provider=google} = %v, want 1", val)
	}
}

// TestRecordLoginSuccess_IncrementsCounter はログイン成功カウンタが増加することを検証する。
func TestRecordLoginSuccess_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordLoginSuccess()
	c.RecordLoginSuccess()

	if val := counterValue(t, reg, "authgate_login_success_total", nil); val != 2 {
		t.Errorf("login_success_total = %v, want 2", val)
	}
}

// TestRecordLoginFailure_IncrementsCounterWithReason はログイン失敗カウンタが
// 理由ラベル付きで増加することを検証する。
func TestRecordLoginFailure_IncrementsCounterWithReason(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordLoginFailure("bad_password")
	c.RecordLoginFailure("bad_password")
	c.RecordLoginFailure("not_found")

	if val := counterValue(t, reg, "authgate_login_fail_total", map[string]string{"reason": "bad_password"}); val != 2 {
		t.Errorf("login_fail_total{reason=bad_password} = %v, want 2", val)
	}
	if val := counterValue(t, reg, "authgate_login_fail_total", map[string]string{"reason": "not_found"}); val != 1 {
		t.Errorf("login_fail_total{reason=not_found} = %v, want 1", val)
	}
}

// TestRecordOAuthCallback_IncrementsCounterWithLabels はOAuthコールバックカウンタが
// プロバイダー・結果ラベル付きで増加することを検証する。
func TestRecordOAuthCallback_IncrementsCounterWithLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordOAuthCallback("google", "success")
	c.RecordOAuthCallback("google", "state_mismatch")
	c.RecordOAuthCallback("kakao", "success")

	if val := counterValue(t, reg, "authgate_oauth_callback_total", map[string]string{"provider": "google", "result": "success"}); val != 1 {
		t.Errorf("oauth_callback_total{google,success} = %v, want 1", val)
	}
	if val := counterValue(t, reg, "authgate_oauth_callback_total", map[string]string{"provider": "google", "result": "state_mismatch"}); val != 1 {
		t.Errorf("oauth_callback_total{google,state_mismatch} = %v, want 1", val)
	}
	if val := counterValue(t, reg, "authgate_oauth_callback_total", map[string]string{"provider": "kakao", "result": "success"}); val != 1 {
		t.Errorf("oauth_callback_total{kakao,success} = %v, want 1", val)
	}
}

// TestRecordSessionVerification_IncrementsCounter はセッション検証カウンタが
// 結果ラベル付きで増加することを検証する。
func TestRecordSessionVerification_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSessionVerification("ok")
	c.RecordSessionVerification("ok")
	c.RecordSessionVerification("invalid")

	if val := counterValue(t, reg, "authgate_session_verify_total", map[string]string{"result": "ok"}); val != 2 {
		t.Errorf("session_verify_total{result=ok} = %v, want 2", val)
	}
}

// TestHandler_ExposesMetrics はスクレイプエンドポイントが記録済みメトリクスを
// 公開することを検証する。
func TestHandler_ExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSignup("email")
	c.RecordLoginSuccess()

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("failed to scrape metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	text := string(body)

	if !strings.Contains(text, `authgate_signups_total{provider="email"} 1`) {
		t.Error("expected signups counter in scrape output")
	}
	if !strings.Contains(text, "authgate_login_success_total 1") {
		t.Error("expected login success counter in scrape output")
	}
}
