// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/mockauth/internal/model"
)

// 永続化キー。既存クライアントが書き込んだ値をそのまま読めるよう同じキーを使う。
const (
	CredentialsKey = "@auth/users"
	SessionKey     = "@auth/user"
)

var (
	// ErrDuplicateEmail は登録済みメールアドレスへのInsertで返される。
	ErrDuplicateEmail = errors.New("email already exists")
	// ErrNotFound は未登録メールアドレスへのUpdateで返される。
	ErrNotFound = errors.New("credential not found")
)

// CredentialDirectory はメールアドレスをキーとする資格情報の永続化インターフェース。
// メールアドレスは完全一致で比較し、大文字小文字の正規化は行わない。
type CredentialDirectory interface {
	// InitializeIfEmpty は一度も書き込まれていない場合に初期ユーザーを保存する。冪等。
	InitializeIfEmpty(ctx context.Context) error

	// Find は指定メールアドレスの資格情報を取得する。見つからない場合はnilを返す。
	Find(ctx context.Context, email string) (*model.Credential, error)

	// Insert は資格情報を追加する。登録済みの場合はErrDuplicateEmailを返す。
	Insert(ctx context.Context, email string, cred model.Credential) error

	// Update は資格情報にmutateを適用して保存する。未登録の場合はErrNotFoundを返す。
	Update(ctx context.Context, email string, mutate func(*model.Credential)) error
}

// SessionStore は現在サインイン中のユーザーレコードの永続化インターフェース。
type SessionStore interface {
	// Load は保存済みのセッションを取得する。存在しない場合はnilを返す。
	Load(ctx context.Context) (*model.SessionRecord, error)
	// Save はセッションを置き換える。
	Save(ctx context.Context, record model.SessionRecord) error
	// Clear はセッションを削除する。
	Clear(ctx context.Context) error
}
