// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/lengo/internal/model"
)

// UserRepository はユーザーレコードの永続化インターフェース。
// email、username、(provider, provider_id) の一意性はCreate時にストア側で原子的に保証する。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail は正規化済みemailでユーザーを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// FindByUsername は正規化済みusernameでユーザーを検索する。見つからない場合はnilを返す。
	FindByUsername(ctx context.Context, username string) (*model.User, error)

	// FindByProvider はproviderとprovider_idでユーザーを検索する。見つからない場合はnilを返す。
	FindByProvider(ctx context.Context, provider model.Provider, providerID string) (*model.User, error)

	// Create はユーザーを作成する。
	// 一意制約に違反した場合は *DuplicateError（errors.Is(err, ErrDuplicate) が真）を返す。
	Create(ctx context.Context, user *model.User) error

	// Update はユーザーのプロフィール項目（name、language）を更新し、updated_atを更新する。
	Update(ctx context.Context, user *model.User) error

	// DeleteByID は指定IDのユーザーを削除する。
	// サインアップ途中で失敗した場合の補償処理でのみ使用する。
	DeleteByID(ctx context.Context, id string) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。存在しないか期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
	// DeleteExpired はnow時点で期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// HealthChecker はストアの疎通確認インターフェース。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}
