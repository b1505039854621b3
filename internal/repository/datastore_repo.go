package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/datastore"
	"google.golang.org/api/iterator"

	"github.com/hitoshi/lengo/internal/model"
)

// Datastoreのエンティティ種別
const (
	KindUser         = "User"
	KindUserEmail    = "UserEmail"
	KindUserUsername = "UserUsername"
	KindUserProvider = "UserProvider"
	KindSession      = "Session"
)

// DeleteMultiの1回あたりの上限
const datastoreBatchSize = 500

// userEntity はUserのDatastoreエンティティ。キーはユーザーID。
type userEntity struct {
	Provider     string    `datastore:"provider"`
	ProviderID   string    `datastore:"provider_id"`
	Email        string    `datastore:"email"`
	Username     string    `datastore:"username"`
	Name         string    `datastore:"name,noindex"`
	PasswordHash string    `datastore:"password_hash,noindex"`
	Language     string    `datastore:"language,noindex"`
	CreatedAt    time.Time `datastore:"created_at"`
	UpdatedAt    time.Time `datastore:"updated_at"`
}

// reservationEntity は一意な値を所有ユーザーに結びつける予約エンティティ。
// キー名が一意な値そのものであるため、トランザクション内のGetで重複を検出できる。
type reservationEntity struct {
	UserID    string    `datastore:"user_id"`
	CreatedAt time.Time `datastore:"created_at"`
}

// sessionEntity はSessionのDatastoreエンティティ。キーはセッションID。
type sessionEntity struct {
	UserID    string    `datastore:"user_id"`
	ExpiresAt time.Time `datastore:"expires_at"`
	CreatedAt time.Time `datastore:"created_at"`
}

func toUserEntity(u *model.User) *userEntity {
	return &userEntity{
		Provider:     string(u.Provider),
		ProviderID:   u.ProviderID,
		Email:        u.Email,
		Username:     u.Username,
		Name:         u.Name,
		PasswordHash: u.PasswordHash,
		Language:     u.Language,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func (e *userEntity) toModel(id string) *model.User {
	return &model.User{
		ID:           id,
		Provider:     model.Provider(e.Provider),
		ProviderID:   e.ProviderID,
		Email:        e.Email,
		Username:     e.Username,
		Name:         e.Name,
		PasswordHash: e.PasswordHash,
		Language:     e.Language,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
	}
}

// DatastoreUserRepo はCloud Datastoreを使用したユーザーリポジトリ。
type DatastoreUserRepo struct {
	client    *datastore.Client
	namespace string
}

// NewDatastoreUserRepo はDatastoreUserRepoを生成する。
func NewDatastoreUserRepo(client *datastore.Client, namespace string) *DatastoreUserRepo {
	return &DatastoreUserRepo{client: client, namespace: namespace}
}

func (r *DatastoreUserRepo) key(kind, name string) *datastore.Key {
	key := datastore.NameKey(kind, name, nil)
	key.Namespace = r.namespace
	return key
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *DatastoreUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	var entity userEntity
	if err := r.client.Get(ctx, r.key(KindUser, id), &entity); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return entity.toModel(id), nil
}

// FindByEmail は正規化済みemailでユーザーを検索する。見つからない場合はnilを返す。
func (r *DatastoreUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.findByReservation(ctx, KindUserEmail, email)
}

// FindByUsername は正規化済みusernameでユーザーを検索する。見つからない場合はnilを返す。
func (r *DatastoreUserRepo) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	return r.findByReservation(ctx, KindUserUsername, username)
}

// FindByProvider はproviderとprovider_idでユーザーを検索する。見つからない場合はnilを返す。
func (r *DatastoreUserRepo) FindByProvider(ctx context.Context, provider model.Provider, providerID string) (*model.User, error) {
	return r.findByReservation(ctx, KindUserProvider, providerKey(string(provider), providerID))
}

func (r *DatastoreUserRepo) findByReservation(ctx context.Context, kind, name string) (*model.User, error) {
	if name == "" {
		return nil, nil
	}
	var res reservationEntity
	if err := r.client.Get(ctx, r.key(kind, name), &res); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get %s reservation: %w", kind, err)
	}
	return r.FindByID(ctx, res.UserID)
}

// reservations はユーザーが所有すべき予約キーとフィールド名の一覧を返す。
func (r *DatastoreUserRepo) reservations(u *model.User) ([]*datastore.Key, []string) {
	var (
		keys   []*datastore.Key
		fields []string
	)
	if u.Email != "" {
		keys = append(keys, r.key(KindUserEmail, u.Email))
		fields = append(fields, FieldEmail)
	}
	if u.Username != "" {
		keys = append(keys, r.key(KindUserUsername, u.Username))
		fields = append(fields, FieldUsername)
	}
	if u.ProviderID != "" {
		keys = append(keys, r.key(KindUserProvider, providerKey(string(u.Provider), u.ProviderID)))
		fields = append(fields, FieldProvider)
	}
	return keys, fields
}

// Create はユーザーと一意値の予約を単一トランザクションで作成する。
// いずれかの予約が既に存在する場合はDuplicateErrorを返し、何も書き込まない。
func (r *DatastoreUserRepo) Create(ctx context.Context, user *model.User) error {
	keys, fields := r.reservations(user)
	userKey := r.key(KindUser, user.ID)

	_, err := r.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		for i, key := range keys {
			var existing reservationEntity
			err := tx.Get(key, &existing)
			if err == nil {
				return &DuplicateError{Field: fields[i]}
			}
			if !errors.Is(err, datastore.ErrNoSuchEntity) {
				return err
			}
		}

		res := make([]*reservationEntity, len(keys))
		for i := range keys {
			res[i] = &reservationEntity{UserID: user.ID, CreatedAt: user.CreatedAt}
		}
		if len(keys) > 0 {
			if _, err := tx.PutMulti(keys, res); err != nil {
				return err
			}
		}
		_, err := tx.Put(userKey, toUserEntity(user))
		return err
	})
	if err != nil {
		var dup *DuplicateError
		if errors.As(err, &dup) {
			return dup
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// Update はname、languageを更新し、updated_atを更新する。
func (r *DatastoreUserRepo) Update(ctx context.Context, user *model.User) error {
	userKey := r.key(KindUser, user.ID)
	_, err := r.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var entity userEntity
		if err := tx.Get(userKey, &entity); err != nil {
			return err
		}
		entity.Name = user.Name
		entity.Language = user.Language
		entity.UpdatedAt = user.UpdatedAt
		_, err := tx.Put(userKey, &entity)
		return err
	})
	if errors.Is(err, datastore.ErrNoSuchEntity) {
		return fmt.Errorf("user not found: %s", user.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	return nil
}

// DeleteByID はユーザーと所有する予約を削除する。
func (r *DatastoreUserRepo) DeleteByID(ctx context.Context, id string) error {
	userKey := r.key(KindUser, id)
	_, err := r.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var entity userEntity
		if err := tx.Get(userKey, &entity); err != nil {
			if errors.Is(err, datastore.ErrNoSuchEntity) {
				return nil
			}
			return err
		}
		keys, _ := r.reservations(entity.toModel(id))
		return tx.DeleteMulti(append(keys, userKey))
	})
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return nil
}

// PingContext はUserエンティティへのキーのみクエリで疎通を確認する。
func (r *DatastoreUserRepo) PingContext(ctx context.Context) error {
	query := datastore.NewQuery(KindUser).KeysOnly().Limit(1)
	if r.namespace != "" {
		query = query.Namespace(r.namespace)
	}
	if _, err := r.client.GetAll(ctx, query, nil); err != nil {
		return fmt.Errorf("datastore ping failed: %w", err)
	}
	return nil
}

// DatastoreSessionRepo はCloud Datastoreを使用したセッションリポジトリ。
type DatastoreSessionRepo struct {
	client    *datastore.Client
	namespace string
	now       func() time.Time
}

// NewDatastoreSessionRepo はDatastoreSessionRepoを生成する。
func NewDatastoreSessionRepo(client *datastore.Client, namespace string) *DatastoreSessionRepo {
	return &DatastoreSessionRepo{client: client, namespace: namespace, now: time.Now}
}

func (r *DatastoreSessionRepo) key(id string) *datastore.Key {
	key := datastore.NameKey(KindSession, id, nil)
	key.Namespace = r.namespace
	return key
}

// Create はセッションを作成する。
func (r *DatastoreSessionRepo) Create(ctx context.Context, session *model.Session) error {
	entity := &sessionEntity{
		UserID:    session.UserID,
		ExpiresAt: session.ExpiresAt,
		CreatedAt: session.CreatedAt,
	}
	if _, err := r.client.Put(ctx, r.key(session.ID), entity); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
func (r *DatastoreSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	var entity sessionEntity
	if err := r.client.Get(ctx, r.key(id), &entity); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	session := &model.Session{
		ID:        id,
		UserID:    entity.UserID,
		ExpiresAt: entity.ExpiresAt,
		CreatedAt: entity.CreatedAt,
	}
	if session.IsExpired(r.now()) {
		return nil, nil
	}
	return session, nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *DatastoreSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if err := r.client.Delete(ctx, r.key(id)); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteByUserID は指定ユーザーの全セッションを削除する。
func (r *DatastoreSessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	query := datastore.NewQuery(KindSession).FilterField("user_id", "=", userID).KeysOnly()
	if _, err := r.deleteMatching(ctx, query); err != nil {
		return fmt.Errorf("failed to delete user sessions: %w", err)
	}
	return nil
}

// DeleteExpired はnow時点で期限切れのセッションを削除する。
func (r *DatastoreSessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	query := datastore.NewQuery(KindSession).FilterField("expires_at", "<=", now).KeysOnly()
	deleted, err := r.deleteMatching(ctx, query)
	if err != nil {
		return deleted, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return deleted, nil
}

// deleteMatching はキーのみクエリの結果をバッチ単位で削除し、削除件数を返す。
func (r *DatastoreSessionRepo) deleteMatching(ctx context.Context, query *datastore.Query) (int64, error) {
	if r.namespace != "" {
		query = query.Namespace(r.namespace)
	}

	var (
		deleted int64
		batch   []*datastore.Key
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := r.client.DeleteMulti(ctx, batch); err != nil {
			return err
		}
		deleted += int64(len(batch))
		batch = batch[:0]
		return nil
	}

	it := r.client.Run(ctx, query)
	for {
		key, err := it.Next(nil)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return deleted, err
		}
		batch = append(batch, key)
		if len(batch) == datastoreBatchSize {
			if err := flush(); err != nil {
				return deleted, err
			}
		}
	}
	if err := flush(); err != nil {
		return deleted, err
	}
	return deleted, nil
}

// compile-time interface check
var (
	_ UserRepository    = (*DatastoreUserRepo)(nil)
	_ SessionRepository = (*DatastoreSessionRepo)(nil)
	_ HealthChecker     = (*DatastoreUserRepo)(nil)
)
