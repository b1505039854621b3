package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/lengo/internal/auth"
	"github.com/hitoshi/lengo/internal/middleware"
	"github.com/hitoshi/lengo/internal/model"
	"github.com/hitoshi/lengo/internal/repository"
	"github.com/hitoshi/lengo/internal/user"
	"golang.org/x/crypto/bcrypt"
)

// fakeGoogle はトークンごとに固定のユーザー情報を返すOAuthプロバイダー。
type fakeGoogle struct {
	users map[string]*auth.OAuthUserInfo
}

func (f *fakeGoogle) Name() model.Provider { return model.ProviderGoogle }

func (f *fakeGoogle) FetchUserInfo(ctx context.Context, accessToken string) (*auth.OAuthUserInfo, error) {
	info, ok := f.users[accessToken]
	if !ok {
		return nil, auth.ErrUpstreamAuth
	}
	copied := *info
	return &copied, nil
}

// newIntegrationServer はインメモリストアと実サービスでルーターを組み立てる。
func newIntegrationServer(t *testing.T) *httptest.Server {
	t.Helper()

	users := repository.NewMemoryUserRepo()
	sessions := repository.NewMemorySessionRepo()
	hasher, err := auth.NewBcryptHasher(bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	google := &fakeGoogle{users: map[string]*auth.OAuthUserInfo{
		"token-ada": {Provider: model.ProviderGoogle, ProviderUserID: "g-1", Email: "Ada@Example.com", Name: "Ada Lovelace"},
	}}
	authService := auth.NewService(users, sessions, hasher, []auth.OAuthProvider{google},
		auth.ServiceConfig{OAuthIssueSession: true}, nil)

	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	router := NewRouter(&RouterDeps{
		Logger:         slog.New(slog.NewJSONHandler(io.Discard, nil)),
		SessionFinder:  sessions,
		RateLimiter:    rl,
		HealthCheckers: []repository.HealthChecker{users, sessions},
		AuthService:    authService,
		AuthConfig:     AuthHandlerConfig{SessionMaxAge: auth.DefaultSessionMaxAge},
		UserService:    user.NewService(users, sessions),
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path, body, sessionID string) *http.Response {
	t.Helper()
	req := jsonRequest(method, srv.URL+path, body)
	req.RequestURI = ""
	if sessionID != "" {
		req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: sessionID})
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func sessionCookieValue(t *testing.T, resp *http.Response) string {
	t.Helper()
	c := findCookie(resp, middleware.SessionCookieName)
	if c == nil || c.Value == "" {
		t.Fatalf("session cookie missing (status %d)", resp.StatusCode)
	}
	return c.Value
}

func TestIntegration_SignupMeLogout(t *testing.T) {
	srv := newIntegrationServer(t)

	resp := do(t, srv, http.MethodPost, "/auth/signup", `{"email":"  Bob@Example.com ","username":"Bob","password":"hunter2","name":"Bob"}`, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("signup status = %d", resp.StatusCode)
	}
	sid := sessionCookieValue(t, resp)

	resp = do(t, srv, http.MethodGet, "/auth/me", "", sid)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me status = %d", resp.StatusCode)
	}

	// 正規化済みのemailで重複を検出する
	resp = do(t, srv, http.MethodPost, "/auth/signup", `{"email":"bob@example.com","password":"other"}`, "")
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate signup status = %d, want 409", resp.StatusCode)
	}

	resp = do(t, srv, http.MethodPost, "/auth/logout", "", sid)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("logout status = %d", resp.StatusCode)
	}

	resp = do(t, srv, http.MethodGet, "/auth/me", "", sid)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("me after logout status = %d, want 401", resp.StatusCode)
	}
}

func TestIntegration_LoginByEmailAndUsername(t *testing.T) {
	srv := newIntegrationServer(t)

	do(t, srv, http.MethodPost, "/auth/signup", `{"email":"carol@example.com","username":"carol","password":"pw"}`, "")

	resp := do(t, srv, http.MethodPost, "/auth/login", `{"email":"CAROL@example.com","password":"pw"}`, "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("login by email status = %d", resp.StatusCode)
	}
	resp = do(t, srv, http.MethodPost, "/auth/login", `{"username":"carol","password":"pw"}`, "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("login by username status = %d", resp.StatusCode)
	}
	resp = do(t, srv, http.MethodPost, "/auth/login", `{"username":"carol","password":"wrong"}`, "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong password status = %d, want 401", resp.StatusCode)
	}
	resp = do(t, srv, http.MethodPost, "/auth/login", `{"username":"nobody","password":"pw"}`, "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unknown user status = %d, want 401", resp.StatusCode)
	}
	resp = do(t, srv, http.MethodPost, "/auth/login", `{"password":"pw"}`, "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing identity status = %d, want 400", resp.StatusCode)
	}
}

func TestIntegration_GoogleOAuthIsIdempotent(t *testing.T) {
	srv := newIntegrationServer(t)

	first := do(t, srv, http.MethodPost, "/auth/oauth/google", `{"access_token":"token-ada"}`, "")
	if first.StatusCode != http.StatusOK {
		t.Fatalf("first oauth status = %d", first.StatusCode)
	}
	sid := sessionCookieValue(t, first)

	second := do(t, srv, http.MethodPost, "/auth/oauth/google", `{"access_token":"token-ada"}`, "")
	if second.StatusCode != http.StatusOK {
		t.Fatalf("second oauth status = %d", second.StatusCode)
	}

	me := do(t, srv, http.MethodGet, "/auth/me", "", sid)
	if me.StatusCode != http.StatusOK {
		t.Fatalf("me status = %d", me.StatusCode)
	}

	bad := do(t, srv, http.MethodPost, "/auth/oauth/google", `{"access_token":"expired"}`, "")
	if bad.StatusCode != http.StatusUnauthorized {
		t.Errorf("invalid token status = %d, want 401", bad.StatusCode)
	}
}

func TestIntegration_UpdateProfileAndLogoutAll(t *testing.T) {
	srv := newIntegrationServer(t)

	resp := do(t, srv, http.MethodPost, "/auth/signup", `{"username":"dave","password":"pw"}`, "")
	sid1 := sessionCookieValue(t, resp)
	resp = do(t, srv, http.MethodPost, "/auth/login", `{"username":"dave","password":"pw"}`, "")
	sid2 := sessionCookieValue(t, resp)

	resp = do(t, srv, http.MethodPatch, "/api/users/me", `{"language":"vi","name":"Dave"}`, sid1)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch status = %d", resp.StatusCode)
	}
	resp = do(t, srv, http.MethodPatch, "/api/users/me", `{"language":"xx"}`, sid1)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid language status = %d, want 400", resp.StatusCode)
	}

	resp = do(t, srv, http.MethodPost, "/auth/logout-all", "", sid1)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("logout-all status = %d", resp.StatusCode)
	}
	for _, sid := range []string{sid1, sid2} {
		if resp := do(t, srv, http.MethodGet, "/auth/me", "", sid); resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("session %s still valid: %d", sid[:8], resp.StatusCode)
		}
	}
}
