package security

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/mockauth/internal/model"
)

// PasswordHasher は資格情報ディレクトリに保存するパスワード値を生成・照合する。
type PasswordHasher interface {
	// Hash は保存用の値を返す。
	Hash(password string) (string, error)
	// Compare はstoredがpasswordに対応するかを返す。一致しない場合はfalseとnilを返す。
	Compare(stored, password string) (bool, error)
}

// PlainHasher は平文のまま保存・比較するモック用のハッシャー。
type PlainHasher struct{}

// Hash はpasswordをそのまま返す。
func (PlainHasher) Hash(password string) (string, error) {
	return password, nil
}

// Compare は定数時間で平文を比較する。
func (PlainHasher) Compare(stored, password string) (bool, error) {
	return subtle.ConstantTimeCompare([]byte(stored), []byte(password)) == 1, nil
}

// BcryptHasher はbcryptでハッシュ化して保存する。
type BcryptHasher struct {
	Cost int
}

// NewBcryptHasher はBcryptHasherを生成する。cost<=0の場合はbcrypt.DefaultCostを使う。
func NewBcryptHasher(cost int) BcryptHasher {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	return BcryptHasher{Cost: cost}
}

// Hash はpasswordのbcryptハッシュを返す。
func (h BcryptHasher) Hash(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), h.Cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}

// Compare はstoredのbcryptハッシュとpasswordを照合する。
func (h BcryptHasher) Compare(stored, password string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(stored), []byte(password))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, fmt.Errorf("failed to compare password: %w", err)
}

// NewPasswordHasher はPASSWORD_HASHINGの値に対応するハッシャーを返す。
func NewPasswordHasher(mode string) (PasswordHasher, error) {
	switch mode {
	case "", "plain":
		return PlainHasher{}, nil
	case "bcrypt":
		return NewBcryptHasher(0), nil
	default:
		return nil, fmt.Errorf("unknown password hashing mode: %q", mode)
	}
}

// HashCredentials はcredsのパスワードをhasherで変換した新しいマップを返す。
// 初期ユーザーの投入時に使用する。
func HashCredentials(creds map[string]model.Credential, hasher PasswordHasher) (map[string]model.Credential, error) {
	out := make(map[string]model.Credential, len(creds))
	for email, c := range creds {
		hashed, err := hasher.Hash(c.Password)
		if err != nil {
			return nil, fmt.Errorf("failed to hash credential for %s: %w", email, err)
		}
		c.Password = hashed
		out[email] = c
	}
	return out, nil
}

var (
	_ PasswordHasher = PlainHasher{}
	_ PasswordHasher = BcryptHasher{}
)
