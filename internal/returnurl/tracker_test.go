package returnurl

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTracker() *Tracker {
	return NewTracker("test-secret", false)
}

// captureCookie はレスポンスに書かれた戻り先Cookieを取り出す。
func captureCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == CookieName {
			return c
		}
	}
	return nil
}

func TestMiddleware_CapturesNextQuery(t *testing.T) {
	tracker := newTracker()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/auth/signIn?next=/articles/42", nil)

	tracker.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).
		ServeHTTP(rec, req)

	cookie := captureCookie(t, rec)
	if cookie == nil {
		t.Fatal("expected return cookie to be set")
	}
	if got := tracker.decode(cookie.Value); got != "/articles/42" {
		t.Errorf("decoded = %q, want %q", got, "/articles/42")
	}
}

func TestMiddleware_IgnoresNonGet(t *testing.T) {
	tracker := newTracker()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/auth/signIn?next=/articles/42", nil)

	tracker.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).
		ServeHTTP(rec, req)

	if captureCookie(t, rec) != nil {
		t.Error("expected no return cookie for POST")
	}
}

func TestSet_FirstWriteWins(t *testing.T) {
	tracker := newTracker()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/page", nil)

	handler := tracker.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tracker.Set(w, r, "/first")
		tracker.Set(w, r, "/second")
	}))
	handler.ServeHTTP(rec, req)

	var values []string
	for _, c := range rec.Result().Cookies() {
		if c.Name == CookieName {
			values = append(values, tracker.decode(c.Value))
		}
	}
	if len(values) != 1 || values[0] != "/first" {
		t.Errorf("cookie values = %v, want [/first]", values)
	}
}

func TestSet_RefererFallback(t *testing.T) {
	tracker := newTracker()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/page", nil)
	req.Header.Set("Referer", "https://example.com/articles/7?tab=comments")

	tracker.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tracker.Set(w, r, "")
	})).ServeHTTP(rec, req)

	cookie := captureCookie(t, rec)
	if cookie == nil {
		t.Fatal("expected return cookie to be set from Referer")
	}
	if got := tracker.decode(cookie.Value); got != "/articles/7?tab=comments" {
		t.Errorf("decoded = %q, want %q", got, "/articles/7?tab=comments")
	}
}

func TestConsume_ReadsAndClears(t *testing.T) {
	tracker := newTracker()
	token, err := tracker.encode("/articles/42")
	if err != nil {
		t.Fatalf("encode returned error: %v", err)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/auth/signIn", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: token})

	if got := tracker.Consume(rec, req, "/"); got != "/articles/42" {
		t.Errorf("Consume = %q, want %q", got, "/articles/42")
	}

	cleared := captureCookie(t, rec)
	if cleared == nil {
		t.Fatal("expected clearing cookie to be written")
	}
	if cleared.MaxAge >= 0 || cleared.Value != "" {
		t.Errorf("expected cookie to be cleared, got MaxAge=%d Value=%q", cleared.MaxAge, cleared.Value)
	}
}

func TestConsume_DefaultsToRoot(t *testing.T) {
	tracker := newTracker()

	tests := []struct {
		name   string
		cookie *http.Cookie
	}{
		{name: "Cookieなし", cookie: nil},
		{name: "改ざんされた値", cookie: &http.Cookie{Name: CookieName, Value: "garbage"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/auth/signIn", nil)
			if tt.cookie != nil {
				req.AddCookie(tt.cookie)
			}
			if got := tracker.Consume(rec, req, "/"); got != "/" {
				t.Errorf("Consume = %q, want %q", got, "/")
			}
		})
	}
}

func TestConsume_FallsBackToCallerDefault(t *testing.T) {
	tracker := newTracker()

	tests := []struct {
		name       string
		defaultURL string
		want       string
	}{
		{name: "指定のデフォルトに戻る", defaultURL: "/dashboard", want: "/dashboard"},
		{name: "ルート始まりでないデフォルトは/に矯正", defaultURL: "relative/path", want: "/"},
		{name: "空のデフォルトは/に矯正", defaultURL: "", want: "/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/auth/signIn", nil)
			if got := tracker.Consume(rec, req, tt.defaultURL); got != tt.want {
				t.Errorf("Consume(default=%q) = %q, want %q", tt.defaultURL, got, tt.want)
			}
		})
	}
}

func TestConsume_RejectsForeignSignature(t *testing.T) {
	other := NewTracker("other-secret", false)
	token, err := other.encode("/evil")
	if err != nil {
		t.Fatalf("encode returned error: %v", err)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/auth/signIn", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: token})

	if got := newTracker().Consume(rec, req, "/"); got != "/" {
		t.Errorf("Consume = %q, want %q", got, "/")
	}
}

func TestSanitizePath(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{input: "/articles/42", want: "/articles/42"},
		{input: "/search?q=go", want: "/search?q=go"},
		{input: "https://example.com/articles/42", want: "/articles/42"},
		{input: "https://evil.example/", want: "/"},
		{input: "//evil.example/path", want: "/path"},
		{input: "relative/path", want: ""},
		{input: "javascript:alert(1)", want: ""},
		{input: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := sanitizePath(tt.input); got != tt.want {
				t.Errorf("sanitizePath(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSet_IgnoresUnsafeValues(t *testing.T) {
	tracker := newTracker()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/page", nil)

	tracker.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tracker.Set(w, r, "relative/path")
		tracker.Set(w, r, "javascript:alert(1)")
	})).ServeHTTP(rec, req)

	if captureCookie(t, rec) != nil {
		t.Error("expected no cookie for unsafe values")
	}

	// 不正な値は書き込み済み扱いにならない
	rec2 := httptest.NewRecorder()
	tracker.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tracker.Set(w, r, "not-rooted")
		tracker.Set(w, r, "/good")
	})).ServeHTTP(rec2, httptest.NewRequest(http.MethodGet, "/page", nil))

	cookie := captureCookie(t, rec2)
	if cookie == nil {
		t.Fatal("expected cookie for /good")
	}
	if got := tracker.decode(cookie.Value); got != "/good" {
		t.Errorf("decoded = %q, want %q", got, "/good")
	}
}

func TestMiddleware_QueryCaptureBeatsLaterSet(t *testing.T) {
	tracker := newTracker()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/auth/signIn?next=/from-query", nil)

	tracker.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tracker.Set(w, r, "/from-handler")
	})).ServeHTTP(rec, req)

	var values []string
	for _, c := range rec.Result().Cookies() {
		if c.Name == CookieName {
			values = append(values, tracker.decode(c.Value))
		}
	}
	if len(values) != 1 || !strings.HasPrefix(values[0], "/from-query") {
		t.Errorf("cookie values = %v, want [/from-query]", values)
	}
}
