package app

import (
	"context"
	"fmt"
	"log/slog"

	"cloud.google.com/go/datastore"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/lengo/internal/config"
	"github.com/hitoshi/lengo/internal/database"
	"github.com/hitoshi/lengo/internal/repository"
)

// stores は設定されたバックエンドに応じて構築したリポジトリ群を保持する。
type stores struct {
	users    repository.UserRepository
	sessions repository.SessionRepository
	checkers []repository.HealthChecker
	closers  []func() error
}

// Close は開いた接続を逆順に閉じる。
func (s *stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			slog.Warn("failed to close store", slog.String("error", err.Error()))
		}
	}
}

// openStores はSTORE_BACKEND / SESSION_BACKENDに従ってユーザーストアとセッションストアを開く。
// recorderが指定された場合は各リポジトリをレイテンシ計測でラップする。
func openStores(ctx context.Context, cfg *config.Config, recorder repository.LatencyRecorder) (*stores, error) {
	s := &stores{}

	switch cfg.StoreBackend {
	case config.StorePostgres:
		db, err := database.Open(cfg.DatabaseURL, database.DefaultPoolConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		s.closers = append(s.closers, db.Close)
		if err := db.PingContext(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		slog.Info("database connection established")
		s.users = repository.NewPostgresUserRepo(db)
		s.sessions = repository.NewPostgresSessionRepo(db)
		s.checkers = append(s.checkers, db)

	case config.StoreDatastore:
		client, err := datastore.NewClient(ctx, cfg.DatastoreProjectID)
		if err != nil {
			return nil, fmt.Errorf("failed to create datastore client: %w", err)
		}
		s.closers = append(s.closers, client.Close)
		slog.Info("datastore client created",
			slog.String("project_id", cfg.DatastoreProjectID),
			slog.String("namespace", cfg.DatastoreNamespace),
		)
		users := repository.NewDatastoreUserRepo(client, cfg.DatastoreNamespace)
		s.users = users
		s.sessions = repository.NewDatastoreSessionRepo(client, cfg.DatastoreNamespace)
		s.checkers = append(s.checkers, users)

	case config.StoreMemory:
		users := repository.NewMemoryUserRepo()
		sessions := repository.NewMemorySessionRepo()
		s.users = users
		s.sessions = sessions
		s.checkers = append(s.checkers, users)
		slog.Warn("using in-memory store; data is lost on restart")

	default:
		return nil, fmt.Errorf("unsupported store backend: %q", cfg.StoreBackend)
	}

	if cfg.SessionBackend == config.SessionRedis {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		s.closers = append(s.closers, client.Close)
		sessions := repository.NewRedisSessionRepo(client)
		if err := sessions.PingContext(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		slog.Info("redis session store connected", slog.String("addr", opts.Addr))
		s.sessions = sessions
		s.checkers = append(s.checkers, sessions)
	}

	if recorder != nil {
		s.users = repository.NewInstrumentedUserRepo(s.users, recorder)
		s.sessions = repository.NewInstrumentedSessionRepo(s.sessions, recorder)
	}

	return s, nil
}
