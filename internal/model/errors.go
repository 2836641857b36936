// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// ErrorKind は認証操作が返すエラーの種別を表す。
// 呼び出し側はメッセージ文字列ではなく種別で分岐する。
type ErrorKind string

// 定義済みエラー種別
const (
	KindNotFound            ErrorKind = "NOT_FOUND"
	KindInvalidCredentials  ErrorKind = "INVALID_CREDENTIALS"
	KindUnconfirmedAccount  ErrorKind = "UNCONFIRMED_ACCOUNT"
	KindAlreadyRegistered   ErrorKind = "ALREADY_REGISTERED"
	KindInvalidCodeFormat   ErrorKind = "INVALID_CODE_FORMAT"
	KindUnsupportedPlatform ErrorKind = "UNSUPPORTED_PLATFORM"
	KindStorageFault        ErrorKind = "STORAGE_FAULT"
	KindProviderFailure     ErrorKind = "PROVIDER_FAILURE"
)

// AuthError は認証操作の失敗を表す。
// Messageは画面にそのまま表示できる文言。Errは原因となった内部エラー（任意）。
type AuthError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// Error はerrorインターフェースを実装する。
func (e *AuthError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Kind)
}

// Unwrap は原因エラーを返す。
func (e *AuthError) Unwrap() error {
	return e.Err
}

// Is は種別が一致するAuthErrorを同一とみなす。
// errors.Is(err, model.ErrNotFound) のように種別で判定できる。
func (e *AuthError) Is(target error) bool {
	var t *AuthError
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// 種別判定用のセンチネル。errors.Isの比較対象としてのみ使う。
var (
	ErrNotFound            = &AuthError{Kind: KindNotFound}
	ErrInvalidCredentials  = &AuthError{Kind: KindInvalidCredentials}
	ErrUnconfirmedAccount  = &AuthError{Kind: KindUnconfirmedAccount}
	ErrAlreadyRegistered   = &AuthError{Kind: KindAlreadyRegistered}
	ErrInvalidCodeFormat   = &AuthError{Kind: KindInvalidCodeFormat}
	ErrUnsupportedPlatform = &AuthError{Kind: KindUnsupportedPlatform}
	ErrStorageFault        = &AuthError{Kind: KindStorageFault}
	ErrProviderFailure     = &AuthError{Kind: KindProviderFailure}
)

// KindOf はerrのチェーンからAuthErrorの種別を取り出す。
// AuthErrorを含まない場合は空文字列を返す。
func KindOf(err error) ErrorKind {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// NewNotFoundError はユーザー未登録エラーを生成する。
func NewNotFoundError() *AuthError {
	return &AuthError{Kind: KindNotFound, Message: "User not found"}
}

// NewInvalidCredentialsError はパスワード不一致エラーを生成する。
func NewInvalidCredentialsError() *AuthError {
	return &AuthError{Kind: KindInvalidCredentials, Message: "Incorrect password"}
}

// NewUnconfirmedAccountError はメール未確認エラーを生成する。
func NewUnconfirmedAccountError() *AuthError {
	return &AuthError{Kind: KindUnconfirmedAccount, Message: "Please confirm your email first"}
}

// NewAlreadyRegisteredError は登録済みメールアドレスエラーを生成する。
func NewAlreadyRegisteredError() *AuthError {
	return &AuthError{Kind: KindAlreadyRegistered, Message: "Email already registered"}
}

// NewInvalidCodeFormatError は確認コード形式エラーを生成する。
func NewInvalidCodeFormatError() *AuthError {
	return &AuthError{Kind: KindInvalidCodeFormat, Message: "Confirmation code must be 6 digits"}
}

// NewUnsupportedPlatformError は非対応プラットフォームエラーを生成する。
func NewUnsupportedPlatformError(provider Provider) *AuthError {
	msg := "Sign in is not available on this device"
	if provider == ProviderApple {
		msg = "Apple Sign In is only available on iOS devices"
	}
	return &AuthError{Kind: KindUnsupportedPlatform, Message: msg}
}

// NewStorageFaultError は永続化層の読み書き失敗を生成する。
func NewStorageFaultError(err error) *AuthError {
	return &AuthError{Kind: KindStorageFault, Message: "Failed to access local storage", Err: err}
}

// NewProviderFailureError は外部IdPとの通信失敗を生成する。
func NewProviderFailureError(provider Provider, err error) *AuthError {
	return &AuthError{
		Kind:    KindProviderFailure,
		Message: fmt.Sprintf("Failed to sign in with %s", provider.DisplayName()),
		Err:     err,
	}
}

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// ToAPIError はAuthErrorをHTTPレスポンス用のAPIErrorに変換する。
// AuthError以外はnilを返す。
func ToAPIError(err error) *APIError {
	var ae *AuthError
	if !errors.As(err, &ae) {
		return nil
	}
	apiErr := &APIError{
		Code:     string(ae.Kind),
		Message:  ae.Error(),
		Category: "auth",
	}
	switch ae.Kind {
	case KindNotFound:
		apiErr.Action = "Check the email address or create an account."
	case KindInvalidCredentials:
		apiErr.Action = "Check your password or reset it."
	case KindUnconfirmedAccount:
		apiErr.Action = "Enter the 6-digit code sent to your email."
	case KindAlreadyRegistered:
		apiErr.Action = "Sign in instead, or use a different email address."
	case KindInvalidCodeFormat:
		apiErr.Category = "validation"
		apiErr.Action = "Enter the 6-digit code exactly as received."
	case KindUnsupportedPlatform:
		apiErr.Action = "Use another sign-in method on this device."
	case KindStorageFault:
		apiErr.Category = "system"
		apiErr.Action = "Please try again later."
	case KindProviderFailure:
		apiErr.Action = "Please try again, or use another sign-in method."
	}
	return apiErr
}

// NewValidationError は入力値検証エラーを生成する。
func NewValidationError(field, message string) *APIError {
	return &APIError{
		Code:     "VALIDATION_FAILED",
		Message:  fmt.Sprintf("%s: %s", field, message),
		Category: "validation",
		Action:   "Correct the highlighted field and submit again.",
	}
}

// NewBusyError は別の認証操作が実行中であることを示すエラーを生成する。
func NewBusyError() *APIError {
	return &APIError{
		Code:     "OPERATION_IN_PROGRESS",
		Message:  "Another sign-in operation is already in progress.",
		Category: "auth",
		Action:   "Wait for the current operation to finish.",
	}
}
