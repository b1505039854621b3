package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/lengo/internal/model"
)

// uniqueViolation はPostgreSQLの一意制約違反エラーコード。
const uniqueViolation = "23505"

// 一意制約名とフィールドの対応（migrations/000001_create_users.up.sql と一致させる）
var constraintFields = map[string]string{
	"users_email_key":            FieldEmail,
	"users_username_key":         FieldUsername,
	"users_provider_subject_key": FieldProvider,
}

const userColumns = `id, provider, provider_id, email, username, name, password_hash, language, created_at, updated_at`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// FindByEmail は正規化済みemailでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1 LIMIT 1`, email)
}

// FindByUsername は正規化済みusernameでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1 LIMIT 1`, username)
}

// FindByProvider はproviderとprovider_idでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByProvider(ctx context.Context, provider model.Provider, providerID string) (*model.User, error) {
	return r.findOne(ctx,
		`SELECT `+userColumns+` FROM users WHERE provider = $1 AND provider_id = $2 LIMIT 1`,
		string(provider), providerID,
	)
}

// Create はユーザーを作成する。
// 一意制約違反はユニークインデックスで検出し、DuplicateErrorに変換する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		user.ID,
		string(user.Provider),
		nullString(user.ProviderID),
		nullString(user.Email),
		nullString(user.Username),
		nullString(user.Name),
		nullString(user.PasswordHash),
		user.Language,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if dup := asDuplicate(err); dup != nil {
			return dup
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// Update はname、languageを更新し、updated_atを更新する。
func (r *PostgresUserRepo) Update(ctx context.Context, user *model.User) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET name = $2, language = $3, updated_at = $4 WHERE id = $1`,
		user.ID, nullString(user.Name), user.Language, user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user not found: %s", user.ID)
	}
	return nil
}

// DeleteByID は指定IDのユーザーを削除する。
// 関連するsessionsはCASCADE削除される。
func (r *PostgresUserRepo) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return nil
}

func (r *PostgresUserRepo) findOne(ctx context.Context, query string, args ...any) (*model.User, error) {
	var (
		user                                            model.User
		provider                                        string
		providerID, email, username, name, passwordHash sql.NullString
		createdAt, updatedAt                            time.Time
	)
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&user.ID, &provider, &providerID, &email, &username, &name, &passwordHash,
		&user.Language, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	user.Provider = model.Provider(provider)
	user.ProviderID = providerID.String
	user.Email = email.String
	user.Username = username.String
	user.Name = name.String
	user.PasswordHash = passwordHash.String
	user.CreatedAt = createdAt
	user.UpdatedAt = updatedAt
	return &user, nil
}

// asDuplicate はpqの一意制約違反エラーをDuplicateErrorに変換する。該当しない場合はnilを返す。
func asDuplicate(err error) *DuplicateError {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || string(pqErr.Code) != uniqueViolation {
		return nil
	}
	field, ok := constraintFields[pqErr.Constraint]
	if !ok {
		field = pqErr.Constraint
	}
	return &DuplicateError{Field: field}
}

// nullString は空文字をNULLとして扱う。
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
