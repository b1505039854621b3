// Package auth はローカル認証・OAuth認証とセッション発行を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/lengo/internal/locale"
	"github.com/hitoshi/lengo/internal/metrics"
	"github.com/hitoshi/lengo/internal/model"
	"github.com/hitoshi/lengo/internal/repository"
)

// メトリクス・ログ用の操作名
const (
	OpSignup = "signup"
	OpLogin  = "login"
	OpOAuth  = "oauth"
)

// DefaultSessionMaxAge はセッション有効期間の既定値（30日、秒）。
const DefaultSessionMaxAge = 30 * 24 * 60 * 60

// ユーザーが存在しない場合に照合するダミーパスワード
const dummyPassword = "lengo-timing-equalizer"

var whitespaceRun = regexp.MustCompile(`\s+`)

// SignupInput はローカルサインアップの入力。
type SignupInput struct {
	Email    string
	Username string
	Password string
	Name     string
}

// LoginInput はローカルログインの入力。
// Emailが空でない場合はEmail、空の場合はUsernameを識別子として使用する。
type LoginInput struct {
	Email    string
	Username string
	Password string
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge     int  // セッション有効期間（秒）
	OAuthIssueSession bool // OAuthログイン時にセッションを発行するか
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	hasher      Hasher
	providers   map[model.Provider]OAuthProvider
	config      ServiceConfig
	metrics     metrics.AuthRecorder

	now   func() time.Time
	newID func() string

	dummyOnce sync.Once
	dummyHash string
}

// NewService はServiceを生成する。recorderがnilの場合はメトリクスを記録しない。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	hasher Hasher,
	providers []OAuthProvider,
	config ServiceConfig,
	recorder metrics.AuthRecorder,
) *Service {
	if config.SessionMaxAge <= 0 {
		config.SessionMaxAge = DefaultSessionMaxAge
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	registry := make(map[model.Provider]OAuthProvider, len(providers))
	for _, p := range providers {
		registry[p.Name()] = p
	}
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		hasher:      hasher,
		providers:   registry,
		config:      config,
		metrics:     recorder,
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

// SignupLocal はemail/usernameとパスワードでユーザーを作成し、セッションを発行する。
// email、usernameの一意性は事前検索とストアの一意制約の両方で保証する。
func (s *Service) SignupLocal(ctx context.Context, in SignupInput) (result *model.AuthResult, err error) {
	defer func() { s.metrics.RecordAuthAttempt(OpSignup, outcomeOf(err)) }()

	email := repository.NormalizeIdentity(in.Email)
	username := repository.NormalizeIdentity(in.Username)
	if in.Password == "" {
		return nil, model.NewValidationError("password")
	}
	if email == "" && username == "" {
		return nil, model.NewValidationError("email")
	}
	name := strings.TrimSpace(in.Name)
	if utf8.RuneCountInString(name) > model.MaxNameLength {
		return nil, model.NewValidationError("name")
	}

	if email != "" {
		existing, err := s.userRepo.FindByEmail(ctx, email)
		if err != nil {
			return nil, fmt.Errorf("failed to find user by email: %w", err)
		}
		if existing != nil {
			return nil, model.NewConflictError()
		}
	}
	if username != "" {
		existing, err := s.userRepo.FindByUsername(ctx, username)
		if err != nil {
			return nil, fmt.Errorf("failed to find user by username: %w", err)
		}
		if existing != nil {
			return nil, model.NewConflictError()
		}
	}

	hash, err := s.hasher.Hash(in.Password)
	if errors.Is(err, ErrPasswordTooLong) {
		return nil, model.NewValidationError("password")
	}
	if err != nil {
		return nil, err
	}

	now := s.now()
	user := &model.User{
		ID:           s.newID(),
		Provider:     model.ProviderLocal,
		Email:        email,
		Username:     username,
		Name:         name,
		PasswordHash: hash,
		Language:     locale.DefaultCourseLanguage,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			field, _ := repository.DuplicateField(err)
			slog.Info("signup lost uniqueness race", slog.String("field", field))
			return nil, model.NewConflictError()
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	s.metrics.RecordUserCreated(string(model.ProviderLocal))

	session, err := s.createSession(ctx, user.ID, OpSignup)
	if err != nil {
		if delErr := s.userRepo.DeleteByID(ctx, user.ID); delErr != nil {
			slog.Error("failed to roll back user after session failure",
				slog.String("user_id", user.ID),
				slog.String("error", delErr.Error()),
			)
		}
		return nil, err
	}

	slog.Info("user signed up",
		slog.String("user_id", user.ID),
		slog.String("provider", string(user.Provider)),
	)
	return &model.AuthResult{User: user.Public(), Session: session}, nil
}

// LoginLocal はemailまたはusernameとパスワードで認証し、セッションを発行する。
// ユーザー不在、パスワード未設定、パスワード不一致はいずれも同じエラーを返す。
func (s *Service) LoginLocal(ctx context.Context, in LoginInput) (result *model.AuthResult, err error) {
	defer func() { s.metrics.RecordAuthAttempt(OpLogin, outcomeOf(err)) }()

	identity := in.Email
	if strings.TrimSpace(identity) == "" {
		identity = in.Username
	}
	identity = repository.NormalizeIdentity(identity)
	if in.Password == "" {
		return nil, model.NewValidationError("password")
	}
	if identity == "" {
		return nil, model.NewValidationError("email")
	}

	user, err := s.userRepo.FindByEmail(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if user == nil {
		user, err = s.userRepo.FindByUsername(ctx, identity)
		if err != nil {
			return nil, fmt.Errorf("failed to find user by username: %w", err)
		}
	}

	hash := s.timingHash()
	if user != nil && user.HasPassword() {
		hash = user.PasswordHash
	}
	matched := s.hasher.Verify(in.Password, hash)
	if user == nil || !user.HasPassword() || !matched {
		return nil, model.NewInvalidCredentialsError()
	}

	session, err := s.createSession(ctx, user.ID, OpLogin)
	if err != nil {
		return nil, err
	}

	slog.Info("user logged in",
		slog.String("user_id", user.ID),
		slog.String("provider", string(user.Provider)),
	)
	return &model.AuthResult{User: user.Public(), Session: session}, nil
}

// LoginOrCreateOAuth はOAuthアクセストークンを検証し、既存ユーザーを返すか新規作成する。
// 既存ユーザーのプロフィールは更新しない。
// セッションはServiceConfig.OAuthIssueSessionが有効な場合のみ発行する。
func (s *Service) LoginOrCreateOAuth(ctx context.Context, provider model.Provider, accessToken string) (result *model.AuthResult, err error) {
	defer func() { s.metrics.RecordAuthAttempt(OpOAuth+"_"+string(provider), outcomeOf(err)) }()

	if accessToken == "" {
		return nil, model.NewValidationError("access_token")
	}
	p, ok := s.providers[provider]
	if !ok {
		return nil, model.NewValidationError("provider")
	}

	info, err := p.FetchUserInfo(ctx, accessToken)
	if err != nil {
		slog.Warn("oauth user info fetch failed",
			slog.String("provider", string(provider)),
			slog.String("error", err.Error()),
		)
		if errors.Is(err, ErrUpstreamAuth) {
			return nil, model.NewUpstreamAuthError()
		}
		return nil, fmt.Errorf("failed to fetch oauth user info: %w", err)
	}

	user, err := s.userRepo.FindByProvider(ctx, provider, info.ProviderUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by provider: %w", err)
	}

	if user == nil {
		user, err = s.createOAuthUser(ctx, provider, info)
		if err != nil {
			return nil, err
		}
	} else {
		slog.Info("existing oauth user logged in",
			slog.String("user_id", user.ID),
			slog.String("provider", string(provider)),
		)
	}

	result = &model.AuthResult{User: user.Public()}
	if s.config.OAuthIssueSession {
		session, err := s.createSession(ctx, user.ID, OpOAuth+"_"+string(provider))
		if err != nil {
			return nil, err
		}
		result.Session = session
	}
	return result, nil
}

// createOAuthUser はOAuthユーザーを作成する。
// 同じ(provider, provider_id)の並行作成に負けた場合は、勝者のレコードを返す。
// 導出したusernameが他アカウントと衝突した場合は、provider_id由来の接尾辞を付けて再試行する。
func (s *Service) createOAuthUser(ctx context.Context, provider model.Provider, info *OAuthUserInfo) (*model.User, error) {
	now := s.now()
	base := DeriveUsername(info.DisplayName(), info.Email, info.ProviderUserID)
	user := &model.User{
		ID:         s.newID(),
		Provider:   provider,
		ProviderID: info.ProviderUserID,
		Email:      repository.NormalizeIdentity(info.Email),
		Username:   base,
		Name:       truncateRunes(info.DisplayName(), model.MaxNameLength),
		Language:   locale.DefaultCourseLanguage,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	for attempt := 0; ; attempt++ {
		err := s.userRepo.Create(ctx, user)
		if err == nil {
			s.metrics.RecordUserCreated(string(provider))
			slog.Info("new oauth user created",
				slog.String("user_id", user.ID),
				slog.String("provider", string(provider)),
			)
			return user, nil
		}

		field, dup := repository.DuplicateField(err)
		if !dup {
			return nil, fmt.Errorf("failed to create oauth user: %w", err)
		}

		// 一意制約の検出順はストアごとに異なるため、どのフィールドでもまず勝者を探す
		winner, err := s.userRepo.FindByProvider(ctx, provider, info.ProviderUserID)
		if err != nil {
			return nil, fmt.Errorf("failed to re-read oauth user: %w", err)
		}
		if winner != nil {
			slog.Info("oauth signup lost race, using existing account",
				slog.String("user_id", winner.ID),
				slog.String("provider", string(provider)),
			)
			return winner, nil
		}
		if field == repository.FieldProvider {
			return nil, fmt.Errorf("oauth user vanished after duplicate provider_id")
		}

		if field != repository.FieldUsername || attempt >= maxUsernameRetries {
			slog.Info("oauth signup collides with another account",
				slog.String("provider", string(provider)),
				slog.String("field", field),
			)
			return nil, model.NewConflictError()
		}
		user.Username = SuffixedUsername(base, info.ProviderUserID, attempt)
	}
}

// maxUsernameRetries はusername衝突時に接尾辞を変えて再試行する回数。
const maxUsernameRetries = 4

// SuffixedUsername はbaseにprovider_id由来の4桁の16進接尾辞を付けたusernameを返す。
// 同じ(providerID, attempt)からは常に同じ値になる。
func SuffixedUsername(base, providerID string, attempt int) string {
	sum := sha256.Sum256([]byte(providerID + ":" + strconv.Itoa(attempt)))
	return base + "-" + hex.EncodeToString(sum[:2])
}

// truncateRunes はsを最大n文字(rune)に切り詰める。
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// Logout はセッションを破棄する。空のセッションIDは何もしない。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	slog.Info("user logged out", slog.String("session", SessionPrefix(sessionID)))
	return nil
}

// CurrentUser はセッションIDを検証し、現在のユーザーを返す。
// セッションが存在しないか期限切れの場合はUNAUTHORIZEDを返す。
func (s *Service) CurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	if sessionID == "" {
		return nil, model.NewUnauthorizedError()
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil || session.IsExpired(s.now()) {
		return nil, model.NewUnauthorizedError()
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// DeriveUsername はOAuthユーザーのusernameを導出する。
// 表示名、email、provider_idの順で最初の空でない値を使い、空白の連続を"-"に置換して小文字化する。
func DeriveUsername(displayName, email, providerID string) string {
	base := providerID
	for _, candidate := range []string{displayName, email} {
		if candidate != "" {
			base = candidate
			break
		}
	}
	return strings.ToLower(whitespaceRun.ReplaceAllString(base, "-"))
}

// SessionPrefix はログ出力用にセッションIDの先頭8文字を返す。
func SessionPrefix(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID, operation string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	s.metrics.RecordSessionIssued(operation)
	return session, nil
}

// timingHash はユーザー不在時の照合に使うダミーハッシュを返す。
func (s *Service) timingHash() string {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash(dummyPassword)
		if err != nil {
			slog.Error("failed to build dummy hash", slog.String("error", err.Error()))
			return
		}
		s.dummyHash = hash
	})
	return s.dummyHash
}

// outcomeOf はエラーからメトリクスの結果ラベルを決める。
func outcomeOf(err error) string {
	if err == nil {
		return metrics.OutcomeSuccess
	}
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		return metrics.OutcomeError
	}
	switch apiErr.Code {
	case model.ErrCodeValidation:
		return metrics.OutcomeValidation
	case model.ErrCodeConflict:
		return metrics.OutcomeConflict
	case model.ErrCodeInvalidCredentials:
		return metrics.OutcomeInvalidCredentials
	case model.ErrCodeUpstreamAuth:
		return metrics.OutcomeUpstream
	default:
		return metrics.OutcomeError
	}
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
