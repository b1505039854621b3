// Package user はユーザープロフィール管理のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/lengo/internal/locale"
	"github.com/hitoshi/lengo/internal/model"
	"github.com/hitoshi/lengo/internal/repository"
)

// MaxNameLength は表示名の最大文字数。
const MaxNameLength = model.MaxNameLength

// ProfileInput はプロフィール更新の入力。nilの項目は変更しない。
type ProfileInput struct {
	Name     *string
	Language *string
}

// Service はユーザープロフィール管理のサービス層。
// ユーザーレコードの削除は行わない。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	now         func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(userRepo repository.UserRepository, sessionRepo repository.SessionRepository) *Service {
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		now:         time.Now,
	}
}

// UpdateProfile は表示名と学習中のコース言語を更新する。
// 言語はコース言語テーブルに存在するコードのみ受け付ける。
func (s *Service) UpdateProfile(ctx context.Context, userID string, in ProfileInput) (*model.User, error) {
	var name string
	if in.Name != nil {
		name = strings.TrimSpace(*in.Name)
		if utf8.RuneCountInString(name) > MaxNameLength {
			return nil, model.NewValidationError("name")
		}
	}
	if in.Language != nil {
		if _, ok := locale.FindLanguage(*in.Language); !ok {
			return nil, model.NewValidationError("language")
		}
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	if in.Name == nil && in.Language == nil {
		return user, nil
	}
	if in.Name != nil {
		user.Name = name
	}
	if in.Language != nil {
		user.Language = *in.Language
	}
	user.UpdatedAt = s.now()

	if err := s.userRepo.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("ユーザーの更新に失敗しました: %w", err)
	}

	slog.Info("プロフィールを更新しました",
		slog.String("user_id", userID),
		slog.String("language", user.Language),
	)
	return user, nil
}

// SignOutEverywhere はユーザーの全セッションを削除する。
func (s *Service) SignOutEverywhere(ctx context.Context, userID string) error {
	if err := s.sessionRepo.DeleteByUserID(ctx, userID); err != nil {
		return fmt.Errorf("セッションの削除に失敗しました: %w", err)
	}
	slog.Info("全セッションを削除しました", slog.String("user_id", userID))
	return nil
}
