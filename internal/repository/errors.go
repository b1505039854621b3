package repository

import (
	"errors"
	"fmt"
	"strings"
)

// ErrDuplicate は一意制約違反を表すセンチネルエラー。
var ErrDuplicate = errors.New("duplicate key")

// 一意制約の対象フィールド
const (
	FieldEmail    = "email"
	FieldUsername = "username"
	FieldProvider = "provider_id"
)

// DuplicateError はどのフィールドで一意制約に違反したかを保持する。
type DuplicateError struct {
	Field string
}

// Error はerrorインターフェースを実装する。
func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate %s", e.Field)
}

// Is はerrors.Is(err, ErrDuplicate)を真にする。
func (e *DuplicateError) Is(target error) bool {
	return target == ErrDuplicate
}

// DuplicateField はerrが一意制約違反であれば対象フィールドを返す。
func DuplicateField(err error) (string, bool) {
	var dup *DuplicateError
	if errors.As(err, &dup) {
		return dup.Field, true
	}
	return "", false
}

// NormalizeIdentity はemail/usernameを比較用に正規化する（前後空白除去・小文字化）。
func NormalizeIdentity(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// providerKey は(provider, provider_id)の組を単一のキーに変換する。
func providerKey(provider, providerID string) string {
	return provider + ":" + providerID
}
