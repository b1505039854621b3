package client

import (
	"context"
	"fmt"
	"log/slog"
)

// Bootstrapper はアプリ起動時に保存済みトークンからログイン状態を復元する。
// トークンは必ずサーバーの /auth/me で検証し、検証できない限りログイン状態にしない。
type Bootstrapper struct {
	client *Client
	tokens TokenStore
	state  *AppState
	logger *slog.Logger
}

// NewBootstrapper はclientと同じTokenStore・AppStateを使うBootstrapperを生成する。
func NewBootstrapper(client *Client) *Bootstrapper {
	return &Bootstrapper{
		client: client,
		tokens: client.tokens,
		state:  client.state,
		logger: client.logger,
	}
}

// Bootstrap はログイン状態を復元する。
//
//   - トークンなし: 未ログイン。残っているトークンを消去する。
//   - 200: ログイン状態にし、ユーザーを保持する。
//   - 401: 未ログイン。トークンを消去する。
//   - 通信エラー・5xx: 未ログイン。サーバー復旧後に有効な可能性があるためトークンは残し、エラーを返す。
func (b *Bootstrapper) Bootstrap(ctx context.Context) error {
	token, err := b.tokens.Load()
	if err != nil {
		b.state.setLoggedOut()
		return fmt.Errorf("保存済みトークンの読み込みに失敗しました: %w", err)
	}

	if token == "" {
		b.state.setLoggedOut()
		if err := b.tokens.Clear(); err != nil {
			b.logger.Warn("トークンの消去に失敗しました", slog.String("error", err.Error()))
		}
		return nil
	}

	user, err := b.client.me(ctx, token)
	if err != nil {
		b.state.setLoggedOut()
		if IsUnauthorized(err) {
			b.logger.Info("保存済みセッションが無効なためトークンを消去しました")
			if err := b.tokens.Clear(); err != nil {
				b.logger.Warn("トークンの消去に失敗しました", slog.String("error", err.Error()))
			}
			return nil
		}
		return fmt.Errorf("セッションの検証に失敗しました: %w", err)
	}

	b.state.setLoggedIn(user)
	b.logger.Info("セッションを復元しました", slog.String("user_id", user.ID))
	return nil
}
