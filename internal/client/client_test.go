package client

import (
	"context"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/lengo/internal/auth"
	"github.com/hitoshi/lengo/internal/handler"
	"github.com/hitoshi/lengo/internal/middleware"
	"github.com/hitoshi/lengo/internal/model"
	"github.com/hitoshi/lengo/internal/repository"
	"github.com/hitoshi/lengo/internal/user"
)

type fakeGoogle struct{}

func (fakeGoogle) Name() model.Provider { return model.ProviderGoogle }

func (fakeGoogle) FetchUserInfo(ctx context.Context, accessToken string) (*auth.OAuthUserInfo, error) {
	if accessToken != "token-ada" {
		return nil, auth.ErrUpstreamAuth
	}
	return &auth.OAuthUserInfo{
		Provider:       model.ProviderGoogle,
		ProviderUserID: "g-1",
		Email:          "ada@example.com",
		Name:           "Ada Lovelace",
	}, nil
}

// newAPIServer はインメモリストアと実サービスでAPIサーバーを起動する。
func newAPIServer(t *testing.T, oauthIssueSession bool) *httptest.Server {
	t.Helper()

	users := repository.NewMemoryUserRepo()
	sessions := repository.NewMemorySessionRepo()
	hasher, err := auth.NewBcryptHasher(bcrypt.MinCost)
	require.NoError(t, err)

	authService := auth.NewService(users, sessions, hasher, []auth.OAuthProvider{fakeGoogle{}},
		auth.ServiceConfig{OAuthIssueSession: oauthIssueSession}, nil)

	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:         discardLogger(),
		SessionFinder:  sessions,
		RateLimiter:    rl,
		HealthCheckers: []repository.HealthChecker{users, sessions},
		AuthService:    authService,
		AuthConfig:     handler.AuthHandlerConfig{SessionMaxAge: auth.DefaultSessionMaxAge},
		UserService:    user.NewService(users, sessions),
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

// サインアップ後に新しいプロセスを想定したクライアントでセッションが復元されることを検証
func TestClient_SignupThenBootstrapRestoresSession(t *testing.T) {
	ctx := context.Background()
	srv := newAPIServer(t, true)
	tokenPath := filepath.Join(t.TempDir(), "token.json")

	state := NewAppState()
	c := NewClient(srv.URL, srv.Client(), NewFileTokenStore(tokenPath), state, discardLogger())

	u, err := c.Signup(ctx, SignupRequest{Email: "Learner@Example.com", Password: "secret123", Name: "Learner"})
	require.NoError(t, err)
	require.NotNil(t, u.Email)
	assert.Equal(t, "learner@example.com", *u.Email)
	assert.True(t, state.LoggedIn())

	restartedState := NewAppState()
	restarted := NewClient(srv.URL, srv.Client(), NewFileTokenStore(tokenPath), restartedState, discardLogger())
	require.NoError(t, NewBootstrapper(restarted).Bootstrap(ctx))

	snap := restartedState.Snapshot()
	assert.True(t, snap.LoggedIn)
	require.NotNil(t, snap.User)
	assert.Equal(t, u.ID, snap.User.ID)
}

func TestClient_LoginErrors(t *testing.T) {
	ctx := context.Background()
	srv := newAPIServer(t, true)
	c := NewClient(srv.URL, srv.Client(), &MemoryTokenStore{}, NewAppState(), discardLogger())

	_, err := c.Signup(ctx, SignupRequest{Username: "alice", Password: "pw"})
	require.NoError(t, err)

	_, err = c.Signup(ctx, SignupRequest{Username: "ALICE", Password: "pw"})
	var apiErr *model.APIError
	require.True(t, errors.As(err, &apiErr), "got %v", err)
	assert.Equal(t, model.ErrCodeConflict, apiErr.Code)

	_, err = c.Login(ctx, LoginRequest{Username: "alice", Password: "wrong"})
	require.True(t, errors.As(err, &apiErr), "got %v", err)
	assert.Equal(t, model.ErrCodeInvalidCredentials, apiErr.Code)
	assert.True(t, IsUnauthorized(err))

	_, err = c.Login(ctx, LoginRequest{Password: "pw"})
	require.True(t, errors.As(err, &apiErr), "got %v", err)
	assert.Equal(t, model.ErrCodeValidation, apiErr.Code)
}

func TestClient_LoginUpdateProfileAndLogout(t *testing.T) {
	ctx := context.Background()
	srv := newAPIServer(t, true)
	store := &MemoryTokenStore{}
	state := NewAppState()
	c := NewClient(srv.URL, srv.Client(), store, state, discardLogger())

	_, err := c.Signup(ctx, SignupRequest{Email: "a@example.com", Password: "pw"})
	require.NoError(t, err)
	require.NoError(t, c.Logout(ctx))
	assert.False(t, state.LoggedIn())

	_, err = c.Login(ctx, LoginRequest{Email: "A@EXAMPLE.COM", Password: "pw"})
	require.NoError(t, err)
	assert.True(t, state.LoggedIn())

	lang := "am"
	name := "Abebe"
	u, err := c.UpdateProfile(ctx, ProfileUpdate{Name: &name, Language: &lang})
	require.NoError(t, err)
	require.NotNil(t, u.Name)
	assert.Equal(t, "Abebe", *u.Name)
	assert.Equal(t, "am", state.Snapshot().Language)

	me, err := c.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, u.ID, me.ID)

	require.NoError(t, c.LogoutAll(ctx))
	assert.False(t, state.LoggedIn())
	token, _ := store.Load()
	assert.Empty(t, token)

	_, err = c.Me(ctx)
	assert.True(t, IsUnauthorized(err))
}

func TestClient_LoginWithGoogle(t *testing.T) {
	ctx := context.Background()

	t.Run("session issued", func(t *testing.T) {
		srv := newAPIServer(t, true)
		store := &MemoryTokenStore{}
		state := NewAppState()
		c := NewClient(srv.URL, srv.Client(), store, state, discardLogger())

		u, err := c.LoginWithGoogle(ctx, "token-ada")
		require.NoError(t, err)
		require.NotNil(t, u.Email)
		assert.Equal(t, "ada@example.com", *u.Email)
		assert.True(t, state.LoggedIn())
		token, _ := store.Load()
		assert.NotEmpty(t, token)
	})

	t.Run("no session issued", func(t *testing.T) {
		srv := newAPIServer(t, false)
		store := &MemoryTokenStore{}
		state := NewAppState()
		c := NewClient(srv.URL, srv.Client(), store, state, discardLogger())

		u, err := c.LoginWithGoogle(ctx, "token-ada")
		require.NoError(t, err)
		assert.NotEmpty(t, u.ID)
		assert.False(t, state.LoggedIn())
		token, _ := store.Load()
		assert.Empty(t, token)
	})

	t.Run("upstream rejected", func(t *testing.T) {
		srv := newAPIServer(t, true)
		c := NewClient(srv.URL, srv.Client(), &MemoryTokenStore{}, NewAppState(), discardLogger())

		_, err := c.LoginWithGoogle(ctx, "bogus")
		var apiErr *model.APIError
		require.True(t, errors.As(err, &apiErr), "got %v", err)
		assert.Equal(t, model.ErrCodeUpstreamAuth, apiErr.Code)
	})
}

func TestClient_LogoutWithoutTokenIsNoop(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", nil, &MemoryTokenStore{}, NewAppState(), discardLogger())
	assert.NoError(t, c.Logout(context.Background()))
}
