// Package social はGoogle/Appleによるサインインを共通のIdentityに正規化し、
// セッションストアへ保存するブリッジを提供する。
package social

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hitoshi/mockauth/internal/model"
	"github.com/hitoshi/mockauth/internal/repository"
	"github.com/hitoshi/mockauth/internal/security"
)

// ApplePlatform はAppleサインインが利用可能な唯一のプラットフォーム。
const ApplePlatform = "ios"

// Identity はソーシャルプロバイダーから得たユーザー情報を正規化したもの。
type Identity struct {
	ID      string
	Email   string
	Name    string
	Picture string
}

// GoogleSignIn はGoogleサインインの実行を抽象化する。
// ユーザーがキャンセルした場合はnilとnilを返す。
type GoogleSignIn interface {
	SignIn(ctx context.Context) (*Identity, error)
}

// AppleTokenVerifier はAppleの認可コードまたはIDトークンを検証する。
type AppleTokenVerifier interface {
	Verify(ctx context.Context, cred AppleCredential) (*AppleClaims, error)
}

// BridgeDeps はBridgeの依存。
type BridgeDeps struct {
	Sessions repository.SessionStore
	Google   GoogleSignIn
	Apple    AppleAuthenticator
	// AppleVerifier がnilの場合はネイティブ認証の結果をそのまま信頼する。
	AppleVerifier AppleTokenVerifier
	Sanitizer     security.ProfileSanitizerService
	URLGuard      security.SSRFGuardService
	// Platform は実行プラットフォーム（ios, android, web）。
	Platform string
}

// Bridge はソーシャルサインインの結果をセッションストアに書き込む。
type Bridge struct {
	deps BridgeDeps
}

// NewBridge はBridgeを生成する。
func NewBridge(deps BridgeDeps) *Bridge {
	return &Bridge{deps: deps}
}

// SignInWithGoogle はGoogleでサインインし、成功時はセッションを保存する。
// キャンセル時はnilとnilを返し、セッションは変更しない。
func (b *Bridge) SignInWithGoogle(ctx context.Context) (*Identity, error) {
	if b.deps.Google == nil {
		return nil, model.NewUnsupportedPlatformError(model.ProviderGoogle)
	}
	identity, err := b.deps.Google.SignIn(ctx)
	if err != nil {
		return nil, providerError(model.ProviderGoogle, err)
	}
	if identity == nil {
		slog.Info("google sign-in canceled")
		return nil, nil
	}
	return b.persist(ctx, model.ProviderGoogle, *identity)
}

// SignInWithApple はAppleでサインインし、成功時はセッションを保存する。
// iOS以外、またはネイティブ機能が利用できない場合はUnsupportedPlatformエラーを返す。
func (b *Bridge) SignInWithApple(ctx context.Context) (*Identity, error) {
	if b.deps.Platform != ApplePlatform || b.deps.Apple == nil {
		return nil, model.NewUnsupportedPlatformError(model.ProviderApple)
	}

	available, err := b.deps.Apple.IsAvailable(ctx)
	if err != nil {
		return nil, providerError(model.ProviderApple, err)
	}
	if !available {
		return nil, model.NewUnsupportedPlatformError(model.ProviderApple)
	}

	cred, err := b.deps.Apple.SignIn(ctx, []AppleScope{AppleScopeFullName, AppleScopeEmail})
	if errors.Is(err, ErrCanceled) {
		slog.Info("apple sign-in canceled")
		return nil, nil
	}
	if err != nil {
		return nil, providerError(model.ProviderApple, err)
	}

	identity := Identity{
		ID:    cred.User,
		Email: cred.Email,
		Name:  cred.FullName.String(),
	}

	if b.deps.AppleVerifier != nil {
		claims, err := b.deps.AppleVerifier.Verify(ctx, *cred)
		if err != nil {
			return nil, providerError(model.ProviderApple, err)
		}
		if identity.ID != "" && identity.ID != claims.Subject {
			return nil, model.NewProviderFailureError(model.ProviderApple,
				fmt.Errorf("apple user %q does not match token subject", identity.ID))
		}
		identity.ID = claims.Subject
		// 検証済みトークンのemailをクライアント申告値より優先する
		if claims.Email != "" {
			identity.Email = claims.Email
		}
	}

	if identity.Email == "" {
		return nil, model.NewProviderFailureError(model.ProviderApple, fmt.Errorf("apple did not return an email address"))
	}
	return b.persist(ctx, model.ProviderApple, identity)
}

// persist はIdentityを正規化してセッションに保存する。
func (b *Bridge) persist(ctx context.Context, provider model.Provider, identity Identity) (*Identity, error) {
	identity.Name = b.sanitizeName(identity.Name)
	identity.Picture = b.checkPicture(identity.Picture)

	record := model.SessionRecord{
		Email:    identity.Email,
		Name:     identity.Name,
		Sub:      identity.ID,
		Picture:  identity.Picture,
		Provider: provider,
	}
	if err := b.deps.Sessions.Save(ctx, record); err != nil {
		return nil, model.NewStorageFaultError(err)
	}

	slog.Info("social sign-in succeeded",
		slog.String("provider", string(provider)),
		slog.String("email", identity.Email),
	)
	return &identity, nil
}

func (b *Bridge) sanitizeName(name string) string {
	if b.deps.Sanitizer == nil {
		return strings.TrimSpace(name)
	}
	return b.deps.Sanitizer.SanitizeName(name)
}

// checkPicture は安全と判定できないプロフィール画像URLを破棄する。
func (b *Bridge) checkPicture(picture string) string {
	if picture == "" || b.deps.URLGuard == nil {
		return picture
	}
	if err := b.deps.URLGuard.ValidateURL(picture); err != nil {
		slog.Warn("dropping unsafe profile picture URL",
			slog.String("picture", picture),
			slog.String("error", err.Error()),
		)
		return ""
	}
	return picture
}

// providerError はプロバイダー由来のエラーをAuthErrorに変換する。
// 既にAuthErrorの場合とコンテキストのキャンセルはそのまま返す。
func providerError(provider model.Provider, err error) error {
	if model.KindOf(err) != "" {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	slog.Error("social sign-in failed",
		slog.String("provider", string(provider)),
		slog.String("error", err.Error()),
	)
	return model.NewProviderFailureError(provider, err)
}
