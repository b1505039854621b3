// Package client はAPIサーバーの利用側（アプリ）のセッション復元とログイン状態を提供する。
package client

import (
	"fmt"
	"sync"

	"github.com/hitoshi/lengo/internal/locale"
	"github.com/hitoshi/lengo/internal/model"
)

// StateSnapshot はAppStateのある時点の値のコピー。
type StateSnapshot struct {
	Language   string
	SiteLocale string
	LoggedIn   bool
	User       *model.PublicUser
}

// AppState はクライアントのアプリケーション状態。
// クライアントセッションごとにNewAppStateで1つ生成し、画面やクライアントで共有する。
type AppState struct {
	mu         sync.RWMutex
	language   string
	siteLocale string
	loggedIn   bool
	user       *model.PublicUser
}

// NewAppState は既定のコース言語（Oromo）とサイト言語（en）で未ログイン状態を生成する。
func NewAppState() *AppState {
	return &AppState{
		language:   locale.DefaultLanguage().Code,
		siteLocale: locale.DefaultSiteLanguage().Code,
	}
}

// Snapshot は現在の状態のコピーを返す。
func (s *AppState) Snapshot() StateSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := StateSnapshot{
		Language:   s.language,
		SiteLocale: s.siteLocale,
		LoggedIn:   s.loggedIn,
	}
	if s.user != nil {
		u := *s.user
		snap.User = &u
	}
	return snap
}

// LoggedIn はログイン状態を返す。
func (s *AppState) LoggedIn() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loggedIn
}

// SetLanguage は学習中のコース言語を変更する。
func (s *AppState) SetLanguage(code string) error {
	if _, ok := locale.FindLanguage(code); !ok {
		return fmt.Errorf("unknown course language: %q", code)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.language = code
	return nil
}

// SetSiteLocale はUI表示言語を変更する。
func (s *AppState) SetSiteLocale(code string) error {
	for _, l := range locale.SiteLanguages() {
		if l.Code == code {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.siteLocale = code
			return nil
		}
	}
	return fmt.Errorf("unknown site language: %q", code)
}

func (s *AppState) setLoggedIn(user *model.PublicUser) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loggedIn = true
	s.user = user
}

func (s *AppState) setLoggedOut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loggedIn = false
	s.user = nil
}
