package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/lengo/internal/model"
)

// serveAndLog はhandlerをロギングミドルウェア越しに1回呼び、出力されたJSONログを返す。
// ログが出力されなかった場合はnilを返す。
func serveAndLog(t *testing.T, level slog.Level, handler http.Handler, req *http.Request) map[string]any {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: level}))

	NewLoggingMiddleware(logger)(handler).ServeHTTP(httptest.NewRecorder(), req)

	if buf.Len() == 0 {
		return nil
	}
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON log: %v\nraw: %s", err, buf.String())
	}
	return entry
}

func TestLoggingMiddleware_LogsRequestFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.Header.Set("User-Agent", "lengo-test/1.0")
	req = req.WithContext(context.WithValue(req.Context(), requestIDContextKey, "req-1"))

	entry := serveAndLog(t, slog.LevelInfo, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true}`))
	}), req)
	if entry == nil {
		t.Fatal("no log entry")
	}

	want := map[string]any{
		"msg":        "http_request",
		"method":     "POST",
		"path":       "/auth/login",
		"status":     float64(200),
		"bytes":      float64(11),
		"request_id": "req-1",
		"user_agent": "lengo-test/1.0",
		"remote_ip":  "192.0.2.1:1234",
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("%s = %v, want %v", k, entry[k], v)
		}
	}
	if d, ok := entry["duration_ms"].(float64); !ok || d < 0 {
		t.Errorf("duration_ms = %v", entry["duration_ms"])
	}
}

// セッションミドルウェアが内側で解決したユーザーIDが外側のログに現れること
func TestLoggingMiddleware_IncludesUserIDFromSession(t *testing.T) {
	sessions := sessionsByID(model.Session{ID: "s-1", UserID: "user-42", ExpiresAt: time.Now().Add(time.Hour)})
	inner := NewSessionMiddleware(sessions)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "s-1"})

	entry := serveAndLog(t, slog.LevelInfo, inner, req)
	if entry["user_id"] != "user-42" {
		t.Errorf("user_id = %v, want user-42", entry["user_id"])
	}
}

func TestLoggingMiddleware_AnonymousOmitsUserID(t *testing.T) {
	entry := serveAndLog(t, slog.LevelInfo, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}),
		httptest.NewRequest(http.MethodGet, "/api/languages", nil))
	if _, ok := entry["user_id"]; ok {
		t.Errorf("user_id should be omitted, got %v", entry["user_id"])
	}
	// Cookieやボディは記録しない
	for _, k := range []string{"cookie", "body", "password"} {
		if _, ok := entry[k]; ok {
			t.Errorf("unexpected field %q in access log", k)
		}
	}
}

func TestLoggingMiddleware_LevelByStatus(t *testing.T) {
	tests := []struct {
		path   string
		status int
		level  string
	}{
		{"/auth/login", http.StatusOK, "INFO"},
		{"/auth/login", http.StatusUnauthorized, "WARN"},
		{"/auth/login", http.StatusConflict, "WARN"},
		{"/auth/signup", http.StatusInternalServerError, "ERROR"},
		{"/health", http.StatusOK, "DEBUG"},
		{"/health", http.StatusServiceUnavailable, "ERROR"},
		{"/metrics", http.StatusOK, "DEBUG"},
	}
	for _, tt := range tests {
		entry := serveAndLog(t, slog.LevelDebug, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}), httptest.NewRequest(http.MethodGet, tt.path, nil))

		if entry == nil {
			t.Fatalf("%s %d: no log entry", tt.path, tt.status)
		}
		if entry["level"] != tt.level {
			t.Errorf("%s %d: level = %v, want %s", tt.path, tt.status, entry["level"], tt.level)
		}
		if int(entry["status"].(float64)) != tt.status {
			t.Errorf("%s: status = %v, want %d", tt.path, entry["status"], tt.status)
		}
	}
}

func TestLoggingMiddleware_ProbesHiddenAtInfo(t *testing.T) {
	entry := serveAndLog(t, slog.LevelInfo, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}),
		httptest.NewRequest(http.MethodGet, "/health", nil))
	if entry != nil {
		t.Errorf("health probe should not be logged at INFO, got %v", entry)
	}
}

func TestResponseRecorder_FirstStatusWins(t *testing.T) {
	rec := newResponseRecorder(httptest.NewRecorder())
	_, _ = rec.Write([]byte("abc"))
	rec.WriteHeader(http.StatusTeapot)

	if rec.status != http.StatusOK || rec.bytes != 3 {
		t.Errorf("status=%d bytes=%d, want 200/3", rec.status, rec.bytes)
	}
	if rec.Unwrap() == nil {
		t.Error("Unwrap() returned nil")
	}
}
