package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	c := NewCollector()

	if c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestRecordSignIn_IncrementsCounter はサインインカウンタが結果別に増加することを検証する。
func TestRecordSignIn_IncrementsCounter(t *testing.T) {
	c := NewCollector()

	c.RecordSignIn(true)
	c.RecordSignIn(true)
	c.RecordSignIn(false)

	metrics, err := c.registry.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	found := false
	for _, mf := range metrics {
		if mf.GetName() != "ident_sign_in_total" {
			continue
		}
		found = true
		for _, m := range mf.GetMetric() {
			result := m.GetLabel()[0].GetValue()
			val := m.GetCounter().GetValue()
			switch result {
			case "success":
				if val != 2 {
					t.Errorf("sign_in_total{result=success} = %v, want 2", val)
				}
			case "failure":
				if val != 1 {
					t.Errorf("sign_in_total{result=failure} = %v, want 1", val)
				}
			default:
				t.Errorf("unexpected result label %q", result)
			}
		}
	}
	if !found {
		t.Error("ident_sign_in_total metric not found")
	}
}

// TestRecordTokenConsumed_LabelsByKind はトークン消費カウンタが種別・結果別に記録されることを検証する。
func TestRecordTokenConsumed_LabelsByKind(t *testing.T) {
	c := NewCollector()

	c.RecordTokenConsumed("confirmation", true)
	c.RecordTokenConsumed("reset", false)
	c.RecordTokenConsumed("reset", false)

	metrics, err := c.registry.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	got := map[string]float64{}
	for _, mf := range metrics {
		if mf.GetName() != "ident_token_consumed_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			var kind, result string
			for _, l := range m.GetLabel() {
				switch l.GetName() {
				case "kind":
					kind = l.GetValue()
				case "result":
					result = l.GetValue()
				}
			}
			got[kind+"/"+result] = m.GetCounter().GetValue()
		}
	}

	if got["confirmation/success"] != 1 {
		t.Errorf("token_consumed{confirmation,success} = %v, want 1", got["confirmation/success"])
	}
	if got["reset/failure"] != 2 {
		t.Errorf("token_consumed{reset,failure} = %v, want 2", got["reset/failure"])
	}
}

// TestRecordCacheLookup_HitAndMiss はキャッシュ参照カウンタがヒット・ミス別に増加することを検証する。
func TestRecordCacheLookup_HitAndMiss(t *testing.T) {
	c := NewCollector()

	c.RecordCacheLookup(true)
	c.RecordCacheLookup(false)
	c.RecordCacheLookup(false)

	metrics, err := c.registry.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	got := map[string]float64{}
	for _, mf := range metrics {
		if mf.GetName() != "ident_user_cache_lookups_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			got[m.GetLabel()[0].GetValue()] = m.GetCounter().GetValue()
		}
	}

	if got["hit"] != 1 {
		t.Errorf("cache_lookups{hit} = %v, want 1", got["hit"])
	}
	if got["miss"] != 2 {
		t.Errorf("cache_lookups{miss} = %v, want 2", got["miss"])
	}
}

// TestHandler_ExposesMetrics は/metricsハンドラーがPrometheusテキスト形式で公開することを検証する。
func TestHandler_ExposesMetrics(t *testing.T) {
	c := NewCollector()
	c.RecordSignUp()
	c.RecordHashDuration(50 * time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()

	c.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	content := string(body)

	if !strings.Contains(content, "ident_sign_up_total 1") {
		t.Errorf("expected ident_sign_up_total 1 in output:\n%s", content)
	}
	if !strings.Contains(content, "ident_password_hash_duration_seconds") {
		t.Errorf("expected ident_password_hash_duration_seconds in output:\n%s", content)
	}
}

// TestNoop_ImplementsRecorder はNoopが何も起こさず呼び出せることを検証する。
func TestNoop_ImplementsRecorder(t *testing.T) {
	var r Recorder = Noop{}

	r.RecordSignIn(true)
	r.RecordSignUp()
	r.RecordTokenConsumed("confirmation", false)
	r.RecordCacheLookup(false)
	r.RecordHashDuration(time.Second)
}
