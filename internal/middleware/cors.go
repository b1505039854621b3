package middleware

import (
	"net/http"
	"strings"

	"github.com/go-chi/cors"
)

// ParseAllowedOrigins はカンマ区切りのオリジン一覧を正規化して返す。
func ParseAllowedOrigins(s string) []string {
	var origins []string
	for _, o := range strings.Split(s, ",") {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// NewCORSMiddleware はallowedOrigins（カンマ区切り）に対するCORSミドルウェアを返す。
// Cookieを伴う認証のため一致したOriginのみを返し、ワイルドカードは使わない。
// 一覧が空の場合は同一オリジン配信とみなしCORSヘッダーを付与しない。
func NewCORSMiddleware(allowedOrigins string) func(next http.Handler) http.Handler {
	origins := ParseAllowedOrigins(allowedOrigins)
	if len(origins) == 0 {
		// go-chi/corsは空の一覧を全許可と解釈するため素通しにする
		return func(next http.Handler) http.Handler { return next }
	}

	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Accept-Language", "Content-Type", RequestIDHeader},
		ExposedHeaders:   []string{RequestIDHeader, "Retry-After"},
		AllowCredentials: true,
		MaxAge:           86400,
	})
}
