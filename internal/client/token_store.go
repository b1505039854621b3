package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// TokenStore はセッショントークンを端末に永続化するインターフェース。
// Loadはトークンがない場合に空文字列を返す。
type TokenStore interface {
	Load() (string, error)
	Save(token string) error
	Clear() error
}

// tokenFile はトークンファイルのJSON表現。
type tokenFile struct {
	SessionID string `json:"session_id"`
}

// FileTokenStore はトークンをJSONファイルとして保存する。
type FileTokenStore struct {
	path string
	mu   sync.Mutex
}

// NewFileTokenStore はpathに保存するFileTokenStoreを生成する。
func NewFileTokenStore(path string) *FileTokenStore {
	return &FileTokenStore{path: path}
}

// Load は保存済みトークンを読み込む。ファイルがない場合は空文字列を返す。
func (s *FileTokenStore) Load() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("トークンファイルの読み込みに失敗しました: %w", err)
	}

	var f tokenFile
	if err := json.Unmarshal(data, &f); err != nil {
		return "", fmt.Errorf("トークンファイルの形式が不正です: %w", err)
	}
	return f.SessionID, nil
}

// Save はトークンを一時ファイル経由で置き換える。
func (s *FileTokenStore) Save(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(tokenFile{SessionID: token})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("トークン保存先の作成に失敗しました: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".token-*")
	if err != nil {
		return fmt.Errorf("一時ファイルの作成に失敗しました: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("トークンの書き込みに失敗しました: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("トークンファイルの置き換えに失敗しました: %w", err)
	}
	return nil
}

// Clear はトークンファイルを削除する。存在しない場合も成功とする。
func (s *FileTokenStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("トークンファイルの削除に失敗しました: %w", err)
	}
	return nil
}

// MemoryTokenStore はメモリ上にトークンを保持する。テスト用。
type MemoryTokenStore struct {
	mu    sync.Mutex
	token string
}

func (s *MemoryTokenStore) Load() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, nil
}

func (s *MemoryTokenStore) Save(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	return nil
}

func (s *MemoryTokenStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	return nil
}

var (
	_ TokenStore = (*FileTokenStore)(nil)
	_ TokenStore = (*MemoryTokenStore)(nil)
)
