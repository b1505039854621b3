package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/lengo/internal/repository"
)

// healthCheckTimeout はストア疎通確認のタイムアウト。
const healthCheckTimeout = 3 * time.Second

// NewHealthHandler はストアの疎通を確認するヘルスチェックハンドラーを返す。
// GET /health は正常時に200 "ok"、異常時に503を返す。
func NewHealthHandler(checkers ...repository.HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		for _, c := range checkers {
			if c == nil {
				continue
			}
			if err := c.PingContext(ctx); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				http.Error(w, "unavailable", http.StatusServiceUnavailable)
				return
			}
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}
}
