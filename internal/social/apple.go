package social

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

// ErrCanceled はユーザーがネイティブのサインイン画面を閉じたことを表す。
var ErrCanceled = errors.New("apple sign-in canceled")

// AppleScope はAppleサインインで要求する情報の範囲。
type AppleScope string

// 要求可能なスコープ
const (
	AppleScopeFullName AppleScope = "name"
	AppleScopeEmail    AppleScope = "email"
)

// AppleFullName はAppleが返す氏名。
type AppleFullName struct {
	GivenName  string `json:"givenName"`
	FamilyName string `json:"familyName"`
}

// String は名と姓を空白で連結し、前後の空白を除いた表示名を返す。
func (n AppleFullName) String() string {
	return strings.TrimSpace(n.GivenName + " " + n.FamilyName)
}

// AppleCredential はネイティブのAppleサインインが返す資格情報。
// email と fullName は初回サインイン時のみ返される。
type AppleCredential struct {
	User              string        `json:"user"`
	Email             string        `json:"email"`
	FullName          AppleFullName `json:"fullName"`
	IdentityToken     string        `json:"identityToken"`
	AuthorizationCode string        `json:"authorizationCode"`
}

// AppleAuthenticator はデバイスのAppleサインイン機能を抽象化する。
type AppleAuthenticator interface {
	// IsAvailable はデバイスでAppleサインインが利用できるかを返す。
	IsAvailable(ctx context.Context) (bool, error)
	// SignIn はサインイン画面を表示する。キャンセル時はErrCanceledを返す。
	SignIn(ctx context.Context, scopes []AppleScope) (*AppleCredential, error)
}

// MockAppleAuthenticator はApple資格情報が未設定の場合に使う固定形の認証。
type MockAppleAuthenticator struct{}

// IsAvailable は常にtrueを返す。
func (MockAppleAuthenticator) IsAvailable(context.Context) (bool, error) {
	return true, nil
}

// SignIn はランダムなユーザーIDを持つデモ資格情報を返す。
func (MockAppleAuthenticator) SignIn(ctx context.Context, _ []AppleScope) (*AppleCredential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	slog.Info("using mock Apple sign-in because no Apple credentials are configured")
	return &AppleCredential{
		User:  "apple-" + uuid.NewString(),
		Email: "apple.user@example.com",
		FullName: AppleFullName{
			GivenName:  "Apple",
			FamilyName: "User",
		},
	}, nil
}

type appleCredentialKey struct{}

// WithAppleCredential はクライアントから受け取ったネイティブ資格情報をコンテキストに載せる。
func WithAppleCredential(ctx context.Context, cred *AppleCredential) context.Context {
	return context.WithValue(ctx, appleCredentialKey{}, cred)
}

// ContextAppleAuthenticator はデバイス側で取得済みの資格情報をコンテキストから取り出す。
// 資格情報が無い場合はキャンセルとみなす。
type ContextAppleAuthenticator struct{}

// IsAvailable は常にtrueを返す。プラットフォーム判定はBridgeが行う。
func (ContextAppleAuthenticator) IsAvailable(context.Context) (bool, error) {
	return true, nil
}

// SignIn はコンテキストの資格情報を返す。
func (ContextAppleAuthenticator) SignIn(ctx context.Context, _ []AppleScope) (*AppleCredential, error) {
	cred, _ := ctx.Value(appleCredentialKey{}).(*AppleCredential)
	if cred == nil {
		return nil, ErrCanceled
	}
	return cred, nil
}

var (
	_ AppleAuthenticator = MockAppleAuthenticator{}
	_ AppleAuthenticator = ContextAppleAuthenticator{}
)
