// Package model はドメインモデルを定義する。
package model

import "time"

// Provider はユーザーレコードの認証プロバイダー種別を表す。
type Provider string

const (
	// ProviderLocal はメールアドレス/ユーザー名とパスワードによる認証。
	ProviderLocal Provider = "local"
	// ProviderGoogle はGoogle OAuthによる認証。
	ProviderGoogle Provider = "google"
)

// IsOAuth はOAuthプロバイダーかどうかを返す。
func (p Provider) IsOAuth() bool {
	return p != "" && p != ProviderLocal
}

// MaxNameLength は表示名の最大文字数。
const MaxNameLength = 100

// User はサービス利用ユーザーを表す。
// Email、Username、ProviderID、PasswordHashは未設定の場合に空文字となる。
type User struct {
	ID           string
	Provider     Provider
	ProviderID   string // Provider != local の場合のみ設定される
	Email        string // 小文字正規化済み
	Username     string // 小文字正規化済み
	Name         string
	PasswordHash string // Provider == local の場合のみ設定される
	Language     string // 学習中のコース言語コード
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasPassword はパスワードハッシュを保持しているかどうかを返す。
// OAuthのみで作成されたアカウントはfalseとなる。
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// Public は外部に公開するユーザー情報に変換する。
func (u *User) Public() PublicUser {
	return PublicUser{
		ID:       u.ID,
		Email:    nullable(u.Email),
		Username: nullable(u.Username),
		Name:     nullable(u.Name),
	}
}

// PublicUser はAPIレスポンスとして返すユーザー情報。
// 未設定の項目はJSON上でnullとなる。
type PublicUser struct {
	ID       string  `json:"id"`
	Email    *string `json:"email"`
	Username *string `json:"username"`
	Name     *string `json:"name"`
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// IsExpired はnow時点でセッションが期限切れかどうかを返す。
func (s *Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// AuthResult はサインアップ・ログイン系操作の成功結果を表す。
// Sessionはセッションを発行しなかった場合にnilとなる。
type AuthResult struct {
	User    PublicUser
	Session *Session
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
