// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/lengo/internal/auth"
	"github.com/hitoshi/lengo/internal/middleware"
	"github.com/hitoshi/lengo/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	SignupLocal(ctx context.Context, in auth.SignupInput) (*model.AuthResult, error)
	LoginLocal(ctx context.Context, in auth.LoginInput) (*model.AuthResult, error)
	LoginOrCreateOAuth(ctx context.Context, provider model.Provider, accessToken string) (*model.AuthResult, error)
	Logout(ctx context.Context, sessionID string) error
	CurrentUser(ctx context.Context, sessionID string) (*model.User, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AuthHandler はサインアップ・ログイン関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	if config.SessionMaxAge <= 0 {
		config.SessionMaxAge = auth.DefaultSessionMaxAge
	}
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

// signupRequest はサインアップリクエストのボディ。
type signupRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// loginRequest はローカルログインリクエストのボディ。
type loginRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// oauthRequest はOAuthログインリクエストのボディ。
type oauthRequest struct {
	AccessToken string `json:"access_token"`
}

// authResponse は認証成功時のレスポンス。
// セッションを発行しなかった場合はsession_idを省略する。
type authResponse struct {
	OK        bool             `json:"ok"`
	User      model.PublicUser `json:"user"`
	SessionID string           `json:"session_id,omitempty"`
}

// userResponse は現在ユーザーのレスポンス。
type userResponse struct {
	OK   bool             `json:"ok"`
	User model.PublicUser `json:"user"`
}

// Signup はローカルアカウントを作成してログインする。
// POST /auth/signup
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	result, err := h.service.SignupLocal(r.Context(), auth.SignupInput{
		Email:    req.Email,
		Username: req.Username,
		Password: req.Password,
		Name:     req.Name,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	h.writeAuthResult(w, result)
}

// Login はemailまたはusernameとパスワードでログインする。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	result, err := h.service.LoginLocal(r.Context(), auth.LoginInput{
		Email:    req.Email,
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	h.writeAuthResult(w, result)
}

// GoogleOAuth はGoogleのアクセストークンでログインし、未登録なら作成する。
// POST /auth/oauth/google
func (h *AuthHandler) GoogleOAuth(w http.ResponseWriter, r *http.Request) {
	var req oauthRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	result, err := h.service.LoginOrCreateOAuth(r.Context(), model.ProviderGoogle, req.AccessToken)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	h.writeAuthResult(w, result)
}

// Logout はセッションを破棄する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if token := middleware.SessionToken(r); token != "" {
		if logoutErr := h.service.Logout(r.Context(), token); logoutErr != nil {
			slog.Error("failed to logout", slog.String("error", logoutErr.Error()))
			// ログアウト失敗してもCookieはクリアする
		}
	}

	h.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// Me は現在のログインユーザー情報を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.CurrentUser(r.Context(), middleware.SessionToken(r))
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeUserNotFound {
			// セッションの参照先ユーザーが存在しない場合は未認証として扱う
			h.clearSessionCookie(w)
			err = model.NewUnauthorizedError()
		}
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, userResponse{OK: true, User: user.Public()})
}

// writeAuthResult はセッションCookieを設定し、認証結果を返す。
func (h *AuthHandler) writeAuthResult(w http.ResponseWriter, result *model.AuthResult) {
	resp := authResponse{OK: true, User: result.User}
	if result.Session != nil {
		h.setSessionCookie(w, result.Session.ID)
		resp.SessionID = result.Session.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

// setSessionCookie はセッションCookieを設定する（HTTP Only）。
func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    sessionID,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   h.config.SessionMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// clearSessionCookie はセッションCookieをクリアする。
func (h *AuthHandler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
