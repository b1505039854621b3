package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/lengo/internal/model"
)

type mockSessionRepository struct {
	findByIDFn func(ctx context.Context, id string) (*model.Session, error)
}

func (m *mockSessionRepository) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func sessionsByID(sessions ...model.Session) *mockSessionRepository {
	return &mockSessionRepository{
		findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
			for _, s := range sessions {
				if s.ID == id {
					s := s
					return &s, nil
				}
			}
			return nil, nil
		},
	}
}

func TestSessionMiddleware_ValidSession_InjectsPrincipal(t *testing.T) {
	expires := time.Now().Add(time.Hour)
	repo := sessionsByID(model.Session{ID: "valid-session-id", UserID: "user-123", ExpiresAt: expires})

	var got Principal
	handler := NewSessionMiddleware(repo)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFromContext(r.Context())
		if !ok {
			t.Error("principal missing from context")
		}
		got = p
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "valid-session-id"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	want := Principal{UserID: "user-123", SessionID: "valid-session-id", ExpiresAt: expires}
	if !got.ExpiresAt.Equal(want.ExpiresAt) || got.UserID != want.UserID || got.SessionID != want.SessionID {
		t.Errorf("principal = %+v, want %+v", got, want)
	}
}

func TestSessionMiddleware_Rejections(t *testing.T) {
	repo := sessionsByID(
		model.Session{ID: "stale", UserID: "user-1", ExpiresAt: time.Now().Add(-time.Minute)},
	)

	tests := []struct {
		name   string
		cookie *http.Cookie
	}{
		{"no cookie", nil},
		{"empty cookie", &http.Cookie{Name: SessionCookieName, Value: ""}},
		{"unknown session", &http.Cookie{Name: SessionCookieName, Value: "missing"}},
		{"expired session returned by store", &http.Cookie{Name: SessionCookieName, Value: "stale"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewSessionMiddleware(repo)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler should not be called")
			}))

			req := httptest.NewRequest(http.MethodPatch, "/api/users/me", nil)
			if tt.cookie != nil {
				req.AddCookie(tt.cookie)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", w.Code)
			}
			body := decodeErrorBody(t, w)
			if body.Code != model.ErrCodeUnauthorized || body.OK {
				t.Errorf("body = %+v", body)
			}
		})
	}
}

func TestSessionMiddleware_RepositoryError_Returns500(t *testing.T) {
	repo := &mockSessionRepository{
		findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
			return nil, context.DeadlineExceeded
		},
	}
	handler := NewSessionMiddleware(repo)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "some-session"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestSessionToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	if got := SessionToken(req); got != "" {
		t.Errorf("SessionToken() = %q, want empty", got)
	}
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "tok"})
	if got := SessionToken(req); got != "tok" {
		t.Errorf("SessionToken() = %q, want tok", got)
	}
}

func TestUserIDFromContext(t *testing.T) {
	if _, err := UserIDFromContext(context.Background()); !errors.Is(err, ErrNoPrincipal) {
		t.Errorf("err = %v, want ErrNoPrincipal", err)
	}

	ctx := ContextWithUserID(context.Background(), "user-9")
	if id, err := UserIDFromContext(ctx); err != nil || id != "user-9" {
		t.Errorf("UserIDFromContext() = (%q, %v)", id, err)
	}
	if p, _ := PrincipalFromContext(ctx); p.SessionID != "" {
		t.Errorf("SessionID = %q, want empty", p.SessionID)
	}

	// 空のユーザーIDは未認証扱い
	if _, ok := PrincipalFromContext(ContextWithPrincipal(context.Background(), Principal{})); ok {
		t.Error("empty principal should not be reported as authenticated")
	}
}
