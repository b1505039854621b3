package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/lengo/internal/model"
)

func decodeErrorBody(t *testing.T, w *httptest.ResponseRecorder) ErrorResponseBody {
	t.Helper()
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	return body
}

// TestWriteErrorResponse_WritesUnifiedFormat は統一エラーフォーマットでレスポンスが書き込まれることを検証する。
func TestWriteErrorResponse_WritesUnifiedFormat(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/auth/signup", nil)

	WriteErrorResponse(w, r, model.NewValidationError("password"))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	body := decodeErrorBody(t, w)
	if body.OK {
		t.Error("ok = true, want false")
	}
	if body.Code != model.ErrCodeValidation {
		t.Errorf("code = %q", body.Code)
	}
	if body.Message != "Missing required fields" {
		t.Errorf("message = %q", body.Message)
	}
	if body.Category != "validation" {
		t.Errorf("category = %q", body.Category)
	}
	if body.Field != "password" {
		t.Errorf("field = %q, want password", body.Field)
	}
}

// TestWriteErrorResponse_StatusFromCode はエラーコードからステータスコードが決まることを検証する。
func TestWriteErrorResponse_StatusFromCode(t *testing.T) {
	tests := []struct {
		err  *model.APIError
		want int
	}{
		{model.NewValidationError(""), http.StatusBadRequest},
		{model.NewConflictError(), http.StatusConflict},
		{model.NewInvalidCredentialsError(), http.StatusUnauthorized},
		{model.NewUpstreamAuthError(), http.StatusUnauthorized},
		{model.NewUnauthorizedError(), http.StatusUnauthorized},
		{model.NewUserNotFoundError(), http.StatusNotFound},
		{model.NewRateLimitedError(), http.StatusTooManyRequests},
		{model.NewInternalError(), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Code, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteErrorResponse(w, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

// TestWriteErrorResponse_LocalizedByAcceptLanguage はAccept-Languageで文言が切り替わることを検証する。
func TestWriteErrorResponse_LocalizedByAcceptLanguage(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	r.Header.Set("Accept-Language", "am-ET,am;q=0.9")
	w := httptest.NewRecorder()

	orig := model.NewInvalidCredentialsError()
	WriteErrorResponse(w, r, orig)

	body := decodeErrorBody(t, w)
	if body.Message == "Invalid credentials" {
		t.Error("expected Amharic message")
	}
	if body.Code != model.ErrCodeInvalidCredentials {
		t.Errorf("code = %q", body.Code)
	}
	if w.Header().Get("Content-Language") != "am" {
		t.Errorf("Content-Language = %q, want am", w.Header().Get("Content-Language"))
	}
	if orig.Message != "Invalid credentials" {
		t.Error("original error must not be mutated")
	}
}

func TestWriteErrorResponse_NilRequestUsesEnglish(t *testing.T) {
	w := httptest.NewRecorder()
	WriteErrorResponse(w, nil, model.NewConflictError())
	if body := decodeErrorBody(t, w); body.Message != "User already exists" {
		t.Errorf("message = %q", body.Message)
	}
}

// TestWriteInternalServerError は内部エラーレスポンスが詳細を含まないことを検証する。
func TestWriteInternalServerError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteInternalServerError(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	body := decodeErrorBody(t, w)
	if body.Code != model.ErrCodeInternal || body.Category != "system" {
		t.Errorf("body = %+v", body)
	}
}
