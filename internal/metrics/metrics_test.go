package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findMetric は指定名・ラベルに一致するメトリクスを返す。
func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelsMatch(m, labels) {
				return m
			}
		}
	}
	t.Fatalf("metric %s %v not found", name, labels)
	return nil
}

func labelsMatch(m *dto.Metric, want map[string]string) bool {
	got := make(map[string]string, len(m.GetLabel()))
	for _, lp := range m.GetLabel() {
		got[lp.GetName()] = lp.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	if c := NewCollector(reg); c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestRecordAuthAttempt_LabelsByOperationAndOutcome は認証試行が操作・結果別に集計されることを検証する。
func TestRecordAuthAttempt_LabelsByOperationAndOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordAuthAttempt("login", OutcomeSuccess)
	c.RecordAuthAttempt("login", OutcomeSuccess)
	c.RecordAuthAttempt("login", OutcomeInvalidCredentials)

	m := findMetric(t, reg, "lengo_auth_attempts_total", map[string]string{"operation": "login", "outcome": OutcomeSuccess})
	if v := m.GetCounter().GetValue(); v != 2 {
		t.Errorf("login/success = %v, want 2", v)
	}
	m = findMetric(t, reg, "lengo_auth_attempts_total", map[string]string{"operation": "login", "outcome": OutcomeInvalidCredentials})
	if v := m.GetCounter().GetValue(); v != 1 {
		t.Errorf("login/invalid_credentials = %v, want 1", v)
	}
}

// TestRecordSessionIssuedAndUserCreated はセッション発行数とユーザー作成数が記録されることを検証する。
func TestRecordSessionIssuedAndUserCreated(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSessionIssued("signup")
	c.RecordUserCreated("google")
	c.RecordUserCreated("google")

	if v := findMetric(t, reg, "lengo_sessions_issued_total", map[string]string{"operation": "signup"}).GetCounter().GetValue(); v != 1 {
		t.Errorf("sessions_issued = %v, want 1", v)
	}
	if v := findMetric(t, reg, "lengo_users_created_total", map[string]string{"provider": "google"}).GetCounter().GetValue(); v != 2 {
		t.Errorf("users_created = %v, want 2", v)
	}
}

// TestRecordHTTPStatus_IncrementsCounterWithLabel はステータスコード別に記録されることを検証する。
func TestRecordHTTPStatus_IncrementsCounterWithLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(409)
	c.RecordHTTPStatus(409)

	if v := findMetric(t, reg, "lengo_http_status_total", map[string]string{"status_code": "409"}).GetCounter().GetValue(); v != 2 {
		t.Errorf("http_status{409} = %v, want 2", v)
	}
}

// TestRecordSessionsCleaned_AddsCount は削除件数が加算されることを検証する。
func TestRecordSessionsCleaned_AddsCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSessionsCleaned(3)
	c.RecordSessionsCleaned(4)

	if v := findMetric(t, reg, "lengo_sessions_cleaned_total", nil).GetCounter().GetValue(); v != 7 {
		t.Errorf("sessions_cleaned = %v, want 7", v)
	}
}

// TestRecordStoreLatency_ObservesHistogram はレイテンシがヒストグラムに記録されることを検証する。
func TestRecordStoreLatency_ObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordStoreLatency("user.create", 150*time.Millisecond)

	h := findMetric(t, reg, "lengo_store_latency_seconds", map[string]string{"operation": "user.create"}).GetHistogram()
	if h.GetSampleCount() != 1 {
		t.Errorf("sample count = %d, want 1", h.GetSampleCount())
	}
	if h.GetSampleSum() < 0.14 || h.GetSampleSum() > 0.16 {
		t.Errorf("sample sum = %v, want ~0.15", h.GetSampleSum())
	}
}

// TestSetupMetricsRoute_ServesMetrics は/metricsパスでメトリクスが返ることを検証する。
func TestSetupMetricsRoute_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordAuthAttempt("signup", OutcomeSuccess)

	handler := SetupMetricsRoute(reg)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "lengo_auth_attempts_total") {
		t.Error("response should contain lengo_auth_attempts_total metric")
	}
}

// TestMultipleCollectors_IndependentRegistries は別レジストリへの登録が衝突しないことを検証する。
func TestMultipleCollectors_IndependentRegistries(t *testing.T) {
	NewCollector(prometheus.NewRegistry())
	NewCollector(prometheus.NewRegistry())
}

// TestNop_SatisfiesInterface はNopがパニックせずに呼び出せることを検証する。
func TestNop_SatisfiesInterface(t *testing.T) {
	var c MetricsCollector = Nop{}
	c.RecordAuthAttempt("login", OutcomeSuccess)
	c.RecordSessionsCleaned(1)
	c.RecordStoreLatency("x", time.Second)
}
