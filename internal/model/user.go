// Package model はドメインモデルを定義する。
package model

import "encoding/json"

// Provider はセッションを発行したIDソースを表す。
type Provider string

const (
	// ProviderLocal はモック資格情報ディレクトリによるサインインを示す。
	ProviderLocal Provider = "local-mock"
	// ProviderGoogle はGoogleサインインを示す。
	ProviderGoogle Provider = "google"
	// ProviderApple はAppleサインインを示す。
	ProviderApple Provider = "apple"

	// legacyProviderLocal は旧クライアントがローカルサインイン時に書き込んでいた値。
	legacyProviderLocal Provider = "cognito"
)

// DisplayName は画面表示用のプロバイダー名を返す。
func (p Provider) DisplayName() string {
	switch p {
	case ProviderGoogle:
		return "Google"
	case ProviderApple:
		return "Apple"
	default:
		return "email"
	}
}

// Credential は資格情報ディレクトリの1レコードを表す。
// キーとなるメールアドレスはディレクトリ側のマップキーに保持する。
type Credential struct {
	Password          string `json:"password"`
	Name              string `json:"name"`
	NeedsConfirmation bool   `json:"needsConfirmation"`
}

// SessionRecord は現在サインイン中のユーザーを表す。
// 永続化されたレコードが存在すれば認証済み、存在しなければ未認証とみなす。
type SessionRecord struct {
	Email    string   `json:"email"`
	Name     string   `json:"name,omitempty"`
	Sub      string   `json:"sub,omitempty"`
	Picture  string   `json:"picture,omitempty"`
	Provider Provider `json:"provider"`
}

// sessionRecordJSON は旧フォーマット（idフィールド、cognitoプロバイダー）も読めるようにするための中間型。
type sessionRecordJSON struct {
	Email    string   `json:"email"`
	Name     string   `json:"name,omitempty"`
	Sub      string   `json:"sub,omitempty"`
	ID       string   `json:"id,omitempty"`
	Picture  string   `json:"picture,omitempty"`
	Provider Provider `json:"provider,omitempty"`
}

// UnmarshalJSON は旧フォーマットを正規化しながらSessionRecordを復元する。
// subが無い場合はidを採用し、providerが空またはcognitoの場合はlocal-mockとする。
func (s *SessionRecord) UnmarshalJSON(data []byte) error {
	var raw sessionRecordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	sub := raw.Sub
	if sub == "" {
		sub = raw.ID
	}
	provider := raw.Provider
	if provider == "" || provider == legacyProviderLocal {
		provider = ProviderLocal
	}
	*s = SessionRecord{
		Email:    raw.Email,
		Name:     raw.Name,
		Sub:      sub,
		Picture:  raw.Picture,
		Provider: provider,
	}
	return nil
}
