package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/lengo/internal/middleware"
	"github.com/hitoshi/lengo/internal/model"
	"github.com/hitoshi/lengo/internal/user"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	// UpdateProfile は表示名とコース言語を更新する。
	UpdateProfile(ctx context.Context, userID string, in user.ProfileInput) (*model.User, error)
	// SignOutEverywhere はユーザーの全セッションを削除する。
	SignOutEverywhere(ctx context.Context, userID string) error
}

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
	auth    *AuthHandler
}

// NewUserHandler はUserHandlerを生成する。
// authはCookieのクリアに使用する。
func NewUserHandler(service UserServiceInterface, auth *AuthHandler) *UserHandler {
	return &UserHandler{
		service: service,
		auth:    auth,
	}
}

// updateProfileRequest はプロフィール更新リクエストのボディ。省略した項目は変更しない。
type updateProfileRequest struct {
	Name     *string `json:"name"`
	Language *string `json:"language"`
}

// profileResponse はプロフィール更新後のレスポンス。
type profileResponse struct {
	OK       bool             `json:"ok"`
	User     model.PublicUser `json:"user"`
	Language string           `json:"language"`
}

// UpdateProfile は表示名・コース言語を更新する。
// PATCH /api/users/me
func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, r, model.NewUnauthorizedError())
		return
	}

	var req updateProfileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	updated, err := h.service.UpdateProfile(r.Context(), userID, user.ProfileInput{
		Name:     req.Name,
		Language: req.Language,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, profileResponse{
		OK:       true,
		User:     updated.Public(),
		Language: updated.Language,
	})
}

// LogoutAll はユーザーの全セッションを破棄する。
// POST /auth/logout-all
func (h *UserHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, r, model.NewUnauthorizedError())
		return
	}

	if err := h.service.SignOutEverywhere(r.Context(), userID); err != nil {
		handleServiceError(w, r, err)
		return
	}

	h.auth.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}
