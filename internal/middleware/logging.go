package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// probePaths はオーケストレーターやPrometheusが定期的に叩くパス。
// アクセスログをDEBUGに落として本番ログを埋めないようにする。
var probePaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// responseRecorder は書き込まれたステータスとバイト数を記録する。
type responseRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	wrote  bool
}

func newResponseRecorder(w http.ResponseWriter) *responseRecorder {
	return &responseRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (rr *responseRecorder) WriteHeader(code int) {
	if !rr.wrote {
		rr.status = code
		rr.wrote = true
	}
	rr.ResponseWriter.WriteHeader(code)
}

func (rr *responseRecorder) Write(b []byte) (int, error) {
	rr.wrote = true
	n, err := rr.ResponseWriter.Write(b)
	rr.bytes += n
	return n, err
}

// Unwrap はhttp.ResponseControllerから元のResponseWriterを辿れるようにする。
func (rr *responseRecorder) Unwrap() http.ResponseWriter {
	return rr.ResponseWriter
}

// requestLog は内側のミドルウェアがアクセスログへ項目を書き戻すための入れ物。
type requestLog struct {
	mu     sync.Mutex
	userID string
}

var requestLogContextKey = contextKey("request_log")

// annotateUserID はセッション検証で判明したユーザーIDをアクセスログに載せる。
func annotateUserID(ctx context.Context, userID string) {
	if rl, ok := ctx.Value(requestLogContextKey).(*requestLog); ok {
		rl.mu.Lock()
		rl.userID = userID
		rl.mu.Unlock()
	}
}

func (rl *requestLog) user() string {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.userID
}

func accessLogLevel(path string, status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	case probePaths[path]:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// NewLoggingMiddleware は1リクエスト1行のアクセスログ(http_request)を出力するミドルウェアを返す。
// 4xxはWARN、5xxはERROR。パスワードやトークンを含み得るボディとCookieは記録しない。
func NewLoggingMiddleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := newResponseRecorder(w)
			rl := &requestLog{}

			next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), requestLogContextKey, rl)))

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.status),
				slog.Int("bytes", rec.bytes),
				slog.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000),
				slog.String("remote_ip", r.RemoteAddr),
			}
			if id := RequestIDFromContext(r.Context()); id != "" {
				attrs = append(attrs, slog.String("request_id", id))
			}
			if userID := rl.user(); userID != "" {
				attrs = append(attrs, slog.String("user_id", userID))
			}
			if ua := r.UserAgent(); ua != "" {
				attrs = append(attrs, slog.String("user_agent", ua))
			}

			logger.LogAttrs(r.Context(), accessLogLevel(r.URL.Path, rec.status), "http_request", attrs...)
		})
	}
}
