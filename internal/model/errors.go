// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"net/http"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ（英語の既定文言）
	Category string // カテゴリ: auth, validation, system
	Action   string // ユーザー向け対処方法
	Field    string // 入力エラーの対象フィールド（任意）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeUpstreamAuth       = "UPSTREAM_AUTH_ERROR"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeUserNotFound       = "USER_NOT_FOUND"
	ErrCodeRateLimited        = "RATE_LIMITED"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// Status はエラーコードに対応するHTTPステータスコードを返す。
func (e *APIError) Status() int {
	switch e.Code {
	case ErrCodeValidation:
		return http.StatusBadRequest
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeInvalidCredentials, ErrCodeUpstreamAuth, ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeUserNotFound:
		return http.StatusNotFound
	case ErrCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// NewValidationError は必須項目の不足・不正な入力のエラーを生成する。
func NewValidationError(field string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  "Missing required fields",
		Category: "validation",
		Action:   "Check the highlighted fields and submit again.",
		Field:    field,
	}
}

// NewConflictError はサインアップ時の一意性違反エラーを生成する。
func NewConflictError() *APIError {
	return &APIError{
		Code:     ErrCodeConflict,
		Message:  "User already exists",
		Category: "auth",
		Action:   "Choose a different email address or username, or log in instead.",
	}
}

// NewInvalidCredentialsError は認証情報不一致エラーを生成する。
// ユーザーの存在有無を推測されないよう、原因を区別しない文言とする。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "Invalid credentials",
		Category: "auth",
		Action:   "Check your email or username and password.",
	}
}

// NewUpstreamAuthError は外部IdPとのトークン交換失敗エラーを生成する。
func NewUpstreamAuthError() *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamAuth,
		Message:  "Failed to verify the sign-in with the identity provider",
		Category: "auth",
		Action:   "Sign in with the provider again.",
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "Authentication required",
		Category: "auth",
		Action:   "Log in and try again.",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "User not found",
		Category: "auth",
		Action:   "Log in again.",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "Too many requests",
		Category: "system",
		Action:   "Wait a moment and try again.",
	}
}

// NewInternalError は内部エラーを生成する。
// 詳細はログのみに記録し、クライアントには一般的な文言を返す。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "Internal error",
		Category: "system",
		Action:   "Wait a moment and try again.",
	}
}
