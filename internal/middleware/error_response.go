package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/lengo/internal/locale"
	"github.com/hitoshi/lengo/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	OK       bool   `json:"ok"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
	Field    string `json:"field,omitempty"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// ステータスコードはエラーコードから決定し、文言はAccept-Languageに合わせて翻訳する。
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, apiErr *model.APIError) {
	loc := locale.LocaleEnglish
	if r != nil {
		loc = locale.MatchAcceptLanguage(r.Header.Get("Accept-Language"))
	}
	localized := locale.Localize(apiErr, loc)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Language", loc)
	w.WriteHeader(apiErr.Status())
	json.NewEncoder(w).Encode(ErrorResponseBody{
		OK:       false,
		Code:     localized.Code,
		Message:  localized.Message,
		Category: localized.Category,
		Action:   localized.Action,
		Field:    localized.Field,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter, r *http.Request) {
	WriteErrorResponse(w, r, model.NewInternalError())
}
