// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/lengo/internal/model"
)

// SessionCookieName はセッショントークンを保持するCookieの名前。
const SessionCookieName = "session_id"

// ErrNoPrincipal は認証済みリクエストのコンテキストでない場合に返る。
var ErrNoPrincipal = errors.New("no authenticated principal in context")

type principalKey struct{}

// Principal はセッション検証を通過したリクエストの主体。
type Principal struct {
	UserID    string
	SessionID string
	ExpiresAt time.Time
}

// SessionFinder はrepository.SessionRepositoryのうちミドルウェアが使う部分。
type SessionFinder interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
}

// SessionToken はリクエストのCookieからセッショントークンを取り出す。無ければ空文字。
func SessionToken(r *http.Request) string {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// NewSessionMiddleware はセッションCookieを検証し、Principalをコンテキストに載せる。
// トークン無し・不明・期限切れは401、ストア障害は500。
func NewSessionMiddleware(sessions SessionFinder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := SessionToken(r)
			if token == "" {
				WriteErrorResponse(w, r, model.NewUnauthorizedError())
				return
			}

			session, err := sessions.FindByID(r.Context(), token)
			if err != nil {
				slog.ErrorContext(r.Context(), "session lookup failed",
					slog.String("request_id", RequestIDFromContext(r.Context())),
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w, r)
				return
			}
			// ストア側のフィルタに加えてここでも期限を確認する
			if session == nil || session.IsExpired(time.Now()) {
				WriteErrorResponse(w, r, model.NewUnauthorizedError())
				return
			}

			annotateUserID(r.Context(), session.UserID)
			ctx := ContextWithPrincipal(r.Context(), Principal{
				UserID:    session.UserID,
				SessionID: session.ID,
				ExpiresAt: session.ExpiresAt,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ContextWithPrincipal はPrincipalを載せたコンテキストを返す。
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext はセッションミドルウェアが載せたPrincipalを返す。
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok && p.UserID != ""
}

// UserIDFromContext は認証済みユーザーIDを返す。
func UserIDFromContext(ctx context.Context) (string, error) {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return "", ErrNoPrincipal
	}
	return p.UserID, nil
}

// ContextWithUserID はセッションを伴わないPrincipalを載せる。ハンドラー単体のテスト用。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return ContextWithPrincipal(ctx, Principal{UserID: userID})
}
