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

const (
	sessionInsertSQL = `INSERT INTO sessions (id, user_id, expires_at, created_at) VALUES ($1, $2, $3, $4)`
	sessionSelectSQL = `SELECT id, user_id, expires_at, created_at FROM sessions WHERE id = $1 AND expires_at > $2`
	sessionDeleteSQL = `DELETE FROM sessions WHERE id = $1`
	sessionPurgeSQL  = `DELETE FROM sessions WHERE user_id = $1`
	sessionExpireSQL = `DELETE FROM sessions WHERE expires_at <= $1`
)

// ErrUnknownUser はセッションの所有者が存在しない場合に返る。
var ErrUnknownUser = errors.New("session owner does not exist")

// PostgresSessionRepo はsessionsテーブルを使ったSessionRepository。
// 有効期限の判定はDBのnow()ではなくアプリ側の時計で行う。
type PostgresSessionRepo struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db, now: time.Now}
}

func (r *PostgresSessionRepo) Create(ctx context.Context, session *model.Session) error {
	createdAt := session.CreatedAt
	if createdAt.IsZero() {
		createdAt = r.now()
	}
	_, err := r.db.ExecContext(ctx, sessionInsertSQL,
		session.ID, session.UserID, session.ExpiresAt.UTC(), createdAt.UTC())

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23503" {
		return fmt.Errorf("failed to create session for %s: %w", session.UserID, ErrUnknownUser)
	}
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindByID は有効なセッションのみ返す。存在しないか期限切れの場合は(nil, nil)。
func (r *PostgresSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	var s model.Session
	err := r.db.QueryRowContext(ctx, sessionSelectSQL, id, r.now().UTC()).
		Scan(&s.ID, &s.UserID, &s.ExpiresAt, &s.CreatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	return &s, nil
}

func (r *PostgresSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, sessionDeleteSQL, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (r *PostgresSessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx, sessionPurgeSQL, userID); err != nil {
		return fmt.Errorf("failed to delete sessions of user: %w", err)
	}
	return nil
}

// DeleteExpired は冪等。対象がなければ0件を返す。
func (r *PostgresSessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, sessionExpireSQL, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted sessions: %w", err)
	}
	return n, nil
}

var _ SessionRepository = (*PostgresSessionRepo)(nil)
