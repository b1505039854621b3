package repository

import (
	"context"
	"time"

	"github.com/hitoshi/lengo/internal/model"
)

// LatencyRecorder はストア操作のレイテンシを記録するインターフェース。
type LatencyRecorder interface {
	RecordStoreLatency(operation string, duration time.Duration)
}

// InstrumentedUserRepo はUserRepositoryの各操作の所要時間を記録するデコレータ。
type InstrumentedUserRepo struct {
	next     UserRepository
	recorder LatencyRecorder
}

// NewInstrumentedUserRepo はnextをラップしたInstrumentedUserRepoを生成する。
func NewInstrumentedUserRepo(next UserRepository, recorder LatencyRecorder) *InstrumentedUserRepo {
	return &InstrumentedUserRepo{next: next, recorder: recorder}
}

func (r *InstrumentedUserRepo) observe(op string, start time.Time) {
	r.recorder.RecordStoreLatency(op, time.Since(start))
}

func (r *InstrumentedUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	defer r.observe("user_find_by_id", time.Now())
	return r.next.FindByID(ctx, id)
}

func (r *InstrumentedUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	defer r.observe("user_find_by_email", time.Now())
	return r.next.FindByEmail(ctx, email)
}

func (r *InstrumentedUserRepo) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	defer r.observe("user_find_by_username", time.Now())
	return r.next.FindByUsername(ctx, username)
}

func (r *InstrumentedUserRepo) FindByProvider(ctx context.Context, provider model.Provider, providerID string) (*model.User, error) {
	defer r.observe("user_find_by_provider", time.Now())
	return r.next.FindByProvider(ctx, provider, providerID)
}

func (r *InstrumentedUserRepo) Create(ctx context.Context, user *model.User) error {
	defer r.observe("user_create", time.Now())
	return r.next.Create(ctx, user)
}

func (r *InstrumentedUserRepo) Update(ctx context.Context, user *model.User) error {
	defer r.observe("user_update", time.Now())
	return r.next.Update(ctx, user)
}

func (r *InstrumentedUserRepo) DeleteByID(ctx context.Context, id string) error {
	defer r.observe("user_delete", time.Now())
	return r.next.DeleteByID(ctx, id)
}

// InstrumentedSessionRepo はSessionRepositoryの各操作の所要時間を記録するデコレータ。
type InstrumentedSessionRepo struct {
	next     SessionRepository
	recorder LatencyRecorder
}

// NewInstrumentedSessionRepo はnextをラップしたInstrumentedSessionRepoを生成する。
func NewInstrumentedSessionRepo(next SessionRepository, recorder LatencyRecorder) *InstrumentedSessionRepo {
	return &InstrumentedSessionRepo{next: next, recorder: recorder}
}

func (r *InstrumentedSessionRepo) observe(op string, start time.Time) {
	r.recorder.RecordStoreLatency(op, time.Since(start))
}

func (r *InstrumentedSessionRepo) Create(ctx context.Context, session *model.Session) error {
	defer r.observe("session_create", time.Now())
	return r.next.Create(ctx, session)
}

func (r *InstrumentedSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	defer r.observe("session_find_by_id", time.Now())
	return r.next.FindByID(ctx, id)
}

func (r *InstrumentedSessionRepo) DeleteByID(ctx context.Context, id string) error {
	defer r.observe("session_delete", time.Now())
	return r.next.DeleteByID(ctx, id)
}

func (r *InstrumentedSessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	defer r.observe("session_delete_by_user", time.Now())
	return r.next.DeleteByUserID(ctx, userID)
}

func (r *InstrumentedSessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	defer r.observe("session_delete_expired", time.Now())
	return r.next.DeleteExpired(ctx, now)
}

var (
	_ UserRepository    = (*InstrumentedUserRepo)(nil)
	_ SessionRepository = (*InstrumentedSessionRepo)(nil)
)
