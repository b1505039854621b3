package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hitoshi/lengo/internal/model"
)

// MemoryUserRepo はプロセス内メモリを使用したユーザーリポジトリ。
// ローカル開発（STORE_BACKEND=memory）とテストで使用する。
// 一意性の検査と書き込みは同一ロック内で行うため、並行サインアップでも重複しない。
type MemoryUserRepo struct {
	mu         sync.RWMutex
	users      map[string]model.User
	byEmail    map[string]string
	byUsername map[string]string
	byProvider map[string]string
}

// NewMemoryUserRepo はMemoryUserRepoを生成する。
func NewMemoryUserRepo() *MemoryUserRepo {
	return &MemoryUserRepo{
		users:      make(map[string]model.User),
		byEmail:    make(map[string]string),
		byUsername: make(map[string]string),
		byProvider: make(map[string]string),
	}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *MemoryUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.get(id), nil
}

// FindByEmail は正規化済みemailでユーザーを検索する。見つからない場合はnilを返す。
func (r *MemoryUserRepo) FindByEmail(_ context.Context, email string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.get(r.byEmail[email]), nil
}

// FindByUsername は正規化済みusernameでユーザーを検索する。見つからない場合はnilを返す。
func (r *MemoryUserRepo) FindByUsername(_ context.Context, username string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.get(r.byUsername[username]), nil
}

// FindByProvider はproviderとprovider_idでユーザーを検索する。見つからない場合はnilを返す。
func (r *MemoryUserRepo) FindByProvider(_ context.Context, provider model.Provider, providerID string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.get(r.byProvider[providerKey(string(provider), providerID)]), nil
}

// Create はユーザーを作成する。一意制約に違反した場合はDuplicateErrorを返す。
func (r *MemoryUserRepo) Create(_ context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.users[user.ID]; exists {
		return fmt.Errorf("user id already exists: %s", user.ID)
	}
	if user.Email != "" {
		if _, taken := r.byEmail[user.Email]; taken {
			return &DuplicateError{Field: FieldEmail}
		}
	}
	if user.Username != "" {
		if _, taken := r.byUsername[user.Username]; taken {
			return &DuplicateError{Field: FieldUsername}
		}
	}
	pk := providerKey(string(user.Provider), user.ProviderID)
	if user.ProviderID != "" {
		if _, taken := r.byProvider[pk]; taken {
			return &DuplicateError{Field: FieldProvider}
		}
	}

	r.users[user.ID] = *user
	if user.Email != "" {
		r.byEmail[user.Email] = user.ID
	}
	if user.Username != "" {
		r.byUsername[user.Username] = user.ID
	}
	if user.ProviderID != "" {
		r.byProvider[pk] = user.ID
	}
	return nil
}

// Update はname、languageを更新し、updated_atを更新する。
func (r *MemoryUserRepo) Update(_ context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.users[user.ID]
	if !ok {
		return fmt.Errorf("user not found: %s", user.ID)
	}
	stored.Name = user.Name
	stored.Language = user.Language
	stored.UpdatedAt = user.UpdatedAt
	r.users[user.ID] = stored
	return nil
}

// DeleteByID は指定IDのユーザーと二次インデックスを削除する。
func (r *MemoryUserRepo) DeleteByID(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok {
		return nil
	}
	delete(r.users, id)
	delete(r.byEmail, user.Email)
	delete(r.byUsername, user.Username)
	delete(r.byProvider, providerKey(string(user.Provider), user.ProviderID))
	return nil
}

// Count は保持しているユーザー数を返す。テスト用。
func (r *MemoryUserRepo) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

// PingContext はHealthCheckerを実装する。メモリストアは常に成功する。
func (r *MemoryUserRepo) PingContext(_ context.Context) error {
	return nil
}

// get はロック取得済みの状態でユーザーのコピーを返す。
func (r *MemoryUserRepo) get(id string) *model.User {
	if id == "" {
		return nil
	}
	user, ok := r.users[id]
	if !ok {
		return nil
	}
	return &user
}

// MemorySessionRepo はプロセス内メモリを使用したセッションリポジトリ。
type MemorySessionRepo struct {
	mu       sync.RWMutex
	sessions map[string]model.Session
	now      func() time.Time
}

// NewMemorySessionRepo はMemorySessionRepoを生成する。
func NewMemorySessionRepo() *MemorySessionRepo {
	return &MemorySessionRepo{
		sessions: make(map[string]model.Session),
		now:      time.Now,
	}
}

// Create はセッションを作成する。
func (r *MemorySessionRepo) Create(_ context.Context, session *model.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.ID] = *session
	return nil
}

// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
func (r *MemorySessionRepo) FindByID(_ context.Context, id string) (*model.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[id]
	if !ok || session.IsExpired(r.now()) {
		return nil, nil
	}
	return &session, nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *MemorySessionRepo) DeleteByID(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	return nil
}

// DeleteByUserID は指定ユーザーの全セッションを削除する。
func (r *MemorySessionRepo) DeleteByUserID(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.sessions {
		if s.UserID == userID {
			delete(r.sessions, id)
		}
	}
	return nil
}

// DeleteExpired はnow時点で期限切れのセッションを削除する。
func (r *MemorySessionRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var deleted int64
	for id, s := range r.sessions {
		if s.IsExpired(now) {
			delete(r.sessions, id)
			deleted++
		}
	}
	return deleted, nil
}

// PingContext はHealthCheckerを実装する。
func (r *MemorySessionRepo) PingContext(_ context.Context) error {
	return nil
}

// Count は保持しているセッション数（期限切れを含む）を返す。テスト用。
func (r *MemorySessionRepo) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// compile-time interface check
var (
	_ UserRepository    = (*MemoryUserRepo)(nil)
	_ SessionRepository = (*MemorySessionRepo)(nil)
	_ HealthChecker     = (*MemoryUserRepo)(nil)
	_ HealthChecker     = (*MemorySessionRepo)(nil)
)
