package auth

import (
	"errors"

	"github.com/hitoshi/mockauth/internal/model"
)

// Status は認証状態機械の主状態。
type Status string

// 主状態の一覧
const (
	StatusUninitialized   Status = "uninitialized"
	StatusLoading         Status = "loading"
	StatusAuthenticated   Status = "authenticated"
	StatusUnauthenticated Status = "unauthenticated"
)

// State はManagerが公開する状態のスナップショット。
// スナップショットは不変で、以降の状態変化の影響を受けない。
type State struct {
	Status           Status
	User             *model.SessionRecord
	IsLoading        bool
	IsAuthenticating bool
	// Error は直近の操作が失敗した場合のエラー。次の操作の開始時にクリアされる。
	Error error
}

// clone はUserを複製したコピーを返す。
func (s State) clone() State {
	if s.User != nil {
		u := *s.User
		s.User = &u
	}
	return s
}

// IsAuthenticated はセッションレコードが存在すればtrueを返す。
func (s State) IsAuthenticated() bool {
	return s.User != nil
}

// DisplayError は画面に表示するエラーメッセージを返す。
// UnsupportedPlatformは画面側で専用のメッセージを出すため空文字列とする。
func (s State) DisplayError() string {
	if s.Error == nil || errors.Is(s.Error, model.ErrUnsupportedPlatform) {
		return ""
	}
	return s.Error.Error()
}

// ErrorKind は記録されたエラーの種別を返す。
func (s State) ErrorKind() model.ErrorKind {
	return model.KindOf(s.Error)
}
