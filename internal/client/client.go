package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/lengo/internal/model"
)

// sessionCookieName はサーバーが発行するセッションCookie名。
const sessionCookieName = "session_id"

// maxResponseSize はレスポンスボディの読み込み上限。
const maxResponseSize = 1 << 20

// StatusError はAPIが返したエラーレスポンス。
// errors.As で *model.APIError を取り出せる。
type StatusError struct {
	StatusCode int
	Err        *model.APIError
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Err.Error())
}

func (e *StatusError) Unwrap() error { return e.Err }

// IsUnauthorized はerrがセッション無効による401かどうかを返す。
func IsUnauthorized(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusUnauthorized
}

// SignupRequest はサインアップの入力。
type SignupRequest struct {
	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
}

// LoginRequest はローカルログインの入力。emailまたはusernameのどちらかを指定する。
type LoginRequest struct {
	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password"`
}

// ProfileUpdate はプロフィール更新の入力。nilの項目は送信しない。
type ProfileUpdate struct {
	Name     *string `json:"name,omitempty"`
	Language *string `json:"language,omitempty"`
}

type errorBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
	Field    string `json:"field"`
}

type authBody struct {
	User      model.PublicUser `json:"user"`
	SessionID string           `json:"session_id"`
}

type userBody struct {
	User     model.PublicUser `json:"user"`
	Language string           `json:"language"`
}

// Client はAPIサーバーの認証エンドポイントを呼び出すHTTPクライアント。
// 発行されたセッションCookieの値をTokenStoreに保存し、AppStateを更新する。
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenStore
	state      *AppState
	logger     *slog.Logger
}

// NewClient はClientを生成する。httpClientがnilの場合はhttp.DefaultClientを使う。
func NewClient(baseURL string, httpClient *http.Client, tokens TokenStore, state *AppState, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		tokens:     tokens,
		state:      state,
		logger:     logger,
	}
}

// Signup はローカルアカウントを作成し、発行されたセッションでログイン状態にする。
func (c *Client) Signup(ctx context.Context, in SignupRequest) (*model.PublicUser, error) {
	return c.authenticate(ctx, "/auth/signup", in)
}

// Login はemailまたはusernameとパスワードでログインする。
func (c *Client) Login(ctx context.Context, in LoginRequest) (*model.PublicUser, error) {
	return c.authenticate(ctx, "/auth/login", in)
}

// LoginWithGoogle はGoogleのアクセストークンでログインする。
// サーバーがセッションを発行しない設定の場合、ユーザーは返すがログイン状態にはしない。
func (c *Client) LoginWithGoogle(ctx context.Context, accessToken string) (*model.PublicUser, error) {
	return c.authenticate(ctx, "/auth/oauth/google", map[string]string{"access_token": accessToken})
}

// Logout はサーバー側のセッションを削除し、端末のトークンを消去する。
// サーバー呼び出しが失敗しても端末側はログアウト状態にする。
func (c *Client) Logout(ctx context.Context) error {
	return c.signOut(ctx, "/auth/logout")
}

// LogoutAll はユーザーの全端末のセッションを削除する。
func (c *Client) LogoutAll(ctx context.Context) error {
	return c.signOut(ctx, "/auth/logout-all")
}

// Me は保存済みトークンで現在のユーザーを取得する。
func (c *Client) Me(ctx context.Context) (*model.PublicUser, error) {
	token, err := c.tokens.Load()
	if err != nil {
		return nil, err
	}
	return c.me(ctx, token)
}

// UpdateProfile は表示名とコース言語を更新し、AppStateのコース言語を同期する。
func (c *Client) UpdateProfile(ctx context.Context, in ProfileUpdate) (*model.PublicUser, error) {
	token, err := c.tokens.Load()
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, http.MethodPatch, "/api/users/me", token, in)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}
	var body userBody
	if err := decodeBody(resp, &body); err != nil {
		return nil, err
	}
	if body.Language != "" {
		if err := c.state.SetLanguage(body.Language); err != nil {
			c.logger.Warn("サーバーが未知のコース言語を返しました", slog.String("language", body.Language))
		}
	}
	return &body.User, nil
}

func (c *Client) authenticate(ctx context.Context, path string, payload any) (*model.PublicUser, error) {
	resp, err := c.do(ctx, http.MethodPost, path, "", payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, decodeError(resp)
	}

	var body authBody
	if err := decodeBody(resp, &body); err != nil {
		return nil, err
	}

	token := sessionFromCookies(resp.Cookies())
	if token == "" {
		token = body.SessionID
	}
	if token == "" {
		return &body.User, nil
	}

	if err := c.tokens.Save(token); err != nil {
		return nil, fmt.Errorf("セッショントークンの保存に失敗しました: %w", err)
	}
	user := body.User
	c.state.setLoggedIn(&user)
	return &body.User, nil
}

func (c *Client) signOut(ctx context.Context, path string) error {
	token, err := c.tokens.Load()
	if err != nil {
		return err
	}
	defer func() {
		if err := c.tokens.Clear(); err != nil {
			c.logger.Warn("トークンの消去に失敗しました", slog.String("error", err.Error()))
		}
		c.state.setLoggedOut()
	}()

	if token == "" {
		return nil
	}

	resp, err := c.do(ctx, http.MethodPost, path, token, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// 既に無効なセッションのログアウトは成功扱い
	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusUnauthorized {
		return nil
	}
	return decodeError(resp)
}

func (c *Client) me(ctx context.Context, token string) (*model.PublicUser, error) {
	resp, err := c.do(ctx, http.MethodGet, "/auth/me", token, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}
	var body userBody
	if err := decodeBody(resp, &body); err != nil {
		return nil, err
	}
	return &body.User, nil
}

func (c *Client) do(ctx context.Context, method, path, token string, payload any) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if site := c.state.Snapshot().SiteLocale; site != "" {
		req.Header.Set("Accept-Language", site)
	}
	if token != "" {
		req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: token})
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("APIの呼び出しに失敗しました",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	return resp, nil
}

func sessionFromCookies(cookies []*http.Cookie) string {
	for _, ck := range cookies {
		if ck.Name == sessionCookieName && ck.MaxAge >= 0 {
			return ck.Value
		}
	}
	return ""
}

func decodeBody(resp *http.Response, v any) error {
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(v); err != nil {
		return fmt.Errorf("レスポンスのデコードに失敗しました: %w", err)
	}
	return nil
}

// decodeError はエラーレスポンスをStatusErrorに変換する。
// 本文が読めない場合はステータスコードのみのINTERNAL_ERRORとして扱う。
func decodeError(resp *http.Response) error {
	var body errorBody
	if err := decodeBody(resp, &body); err != nil || body.Code == "" {
		return &StatusError{StatusCode: resp.StatusCode, Err: model.NewInternalError()}
	}
	return &StatusError{
		StatusCode: resp.StatusCode,
		Err: &model.APIError{
			Code:     body.Code,
			Message:  body.Message,
			Category: body.Category,
			Action:   body.Action,
			Field:    body.Field,
		},
	}
}
