package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/hitoshi/lengo/internal/model"
)

const defaultGoogleUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"

// エラーレスポンス本文をログに残す最大バイト数
const maxErrorBodyBytes = 512

// ErrUpstreamAuth は外部IdPでのトークン検証に失敗したことを表す。
var ErrUpstreamAuth = errors.New("upstream auth failed")

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	Provider       model.Provider
	ProviderUserID string
	Email          string
	Name           string
	GivenName      string
	FamilyName     string
}

// DisplayName は表示名を返す。nameが無い場合はgiven_nameとfamily_nameを連結する。
func (i *OAuthUserInfo) DisplayName() string {
	if i.Name != "" {
		return i.Name
	}
	return strings.TrimSpace(strings.Join([]string{i.GivenName, i.FamilyName}, " "))
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
// クライアントが取得したアクセストークンを検証し、ユーザー情報を返す。
type OAuthProvider interface {
	// Name はプロバイダー名を返す。
	Name() model.Provider
	// FetchUserInfo はアクセストークンでユーザー情報を取得する。
	// トークンが無効な場合はErrUpstreamAuthをラップしたエラーを返す。
	// 通信エラーはErrUpstreamAuthにならない。
	FetchUserInfo(ctx context.Context, accessToken string) (*OAuthUserInfo, error)
}

// GoogleOAuthConfig はGoogle OAuthプロバイダーの設定。
type GoogleOAuthConfig struct {
	ClientID string

	// テスト用にオーバーライド可能なURL
	UserInfoURL string
	// Timeout はユーザー情報取得のタイムアウト。0の場合は10秒。
	Timeout time.Duration
	// HTTPClient はトークン付与前のベースクライアント。nilの場合はhttp.DefaultClient。
	// 送信先を制限したクライアント（security.NewSafeClient）を渡す。
	HTTPClient *http.Client
}

// GoogleOAuthProvider はGoogle OAuth 2.0のアクセストークンを検証する。
type GoogleOAuthProvider struct {
	oauthConfig *oauth2.Config
	userInfoURL string
	timeout     time.Duration
	httpClient  *http.Client
}

// NewGoogleOAuthProvider はGoogleOAuthProviderを生成する。
func NewGoogleOAuthProvider(config GoogleOAuthConfig) *GoogleOAuthProvider {
	if config.UserInfoURL == "" {
		config.UserInfoURL = defaultGoogleUserInfoURL
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	return &GoogleOAuthProvider{
		oauthConfig: &oauth2.Config{
			ClientID: config.ClientID,
			Endpoint: google.Endpoint,
			Scopes:   []string{"openid", "email", "profile"},
		},
		userInfoURL: config.UserInfoURL,
		timeout:     config.Timeout,
		httpClient:  config.HTTPClient,
	}
}

// Name はプロバイダー名を返す。
func (p *GoogleOAuthProvider) Name() model.Provider {
	return model.ProviderGoogle
}

// googleUserInfo はGoogleのユーザー情報エンドポイントのレスポンス。
type googleUserInfo struct {
	Sub        string `json:"sub"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
	Picture    string `json:"picture"`
}

// FetchUserInfo はアクセストークンでGoogleのユーザー情報を取得する。
func (p *GoogleOAuthProvider) FetchUserInfo(ctx context.Context, accessToken string) (*OAuthUserInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if p.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	}

	client := p.oauthConfig.Client(ctx, &oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create user info request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("user info request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read user info response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: user info fetch failed with status %d: %s",
			ErrUpstreamAuth, resp.StatusCode, truncate(string(body), maxErrorBodyBytes))
	}

	var info googleUserInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("%w: failed to parse user info response: %v", ErrUpstreamAuth, err)
	}
	if info.Sub == "" {
		return nil, fmt.Errorf("%w: empty sub in user info response", ErrUpstreamAuth)
	}

	return &OAuthUserInfo{
		Provider:       model.ProviderGoogle,
		ProviderUserID: info.Sub,
		Email:          info.Email,
		Name:           info.Name,
		GivenName:      info.GivenName,
		FamilyName:     info.FamilyName,
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// compile-time interface check
var _ OAuthProvider = (*GoogleOAuthProvider)(nil)
