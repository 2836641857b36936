// Package validation はフォーム入力の検証ルールを提供する。
// 各関数は問題がなければ空文字列を、問題があれば画面に表示するメッセージを返す。
package validation

import (
	"regexp"
	"strings"
)

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	codePattern  = regexp.MustCompile(`^[0-9]{6}$`)
)

// MinPasswordLength はパスワードの最小文字数。
const MinPasswordLength = 6

// MinNameLength は前後の空白を除いた表示名の最小文字数。
const MinNameLength = 2

// Email はメールアドレスを検証する。
func Email(email string) string {
	if strings.TrimSpace(email) == "" {
		return "Email is required"
	}
	if !emailPattern.MatchString(email) {
		return "Please enter a valid email address"
	}
	return ""
}

// Password はパスワードを検証する。
func Password(password string) string {
	if password == "" {
		return "Password is required"
	}
	if len([]rune(password)) < MinPasswordLength {
		return "Password must be at least 6 characters long"
	}
	return ""
}

// Name は表示名を検証する。
func Name(name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "Name is required"
	}
	if len([]rune(trimmed)) < MinNameLength {
		return "Name must be at least 2 characters long"
	}
	return ""
}

// ConfirmPassword は確認用パスワードが一致するかを検証する。
func ConfirmPassword(password, confirm string) string {
	if confirm == "" {
		return "Please confirm your password"
	}
	if password != confirm {
		return "Passwords do not match"
	}
	return ""
}

// Code は6桁の確認コードを検証する。
func Code(code string) string {
	if strings.TrimSpace(code) == "" {
		return "Verification code is required"
	}
	if !IsCode(code) {
		return "Verification code must be 6 digits"
	}
	return ""
}

// IsCode はcodeがちょうど6桁のASCII数字であればtrueを返す。
func IsCode(code string) bool {
	return codePattern.MatchString(code)
}
