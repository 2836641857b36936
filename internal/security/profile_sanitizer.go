package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ProfileSanitizerService は表示名などのプロフィール文字列を無害化するインターフェース。
// サインアップ入力とソーシャルプロバイダーから受け取った名前の保存前に使用される。
type ProfileSanitizerService interface {
	// SanitizeName はマークアップを全て除去し、前後の空白を取り除いたプレーンテキストを返す。
	SanitizeName(name string) string
}

// profileSanitizer はbluemondayのStrictPolicyでタグを全て除去する。
type profileSanitizer struct {
	policy *bluemonday.Policy
}

// NewProfileSanitizer はProfileSanitizerServiceの新しいインスタンスを生成する。
func NewProfileSanitizer() *profileSanitizer {
	return &profileSanitizer{policy: bluemonday.StrictPolicy()}
}

// maxSanitizePasses は実体参照の多重エンコードを剥がす最大回数。
const maxSanitizePasses = 5

var angleStripper = strings.NewReplacer("<", "", ">", "")

// SanitizeName はnameからタグを除去する。
// StrictPolicyは ' や & を実体参照に変換するため、プレーンテキストとして保存できるよう戻す。
// 戻した結果に &lt;b&gt; 由来のタグが現れるので、除去と復元を不動点まで繰り返す。
// 上限までに収束しない入力は山括弧を削除する。
func (s *profileSanitizer) SanitizeName(name string) string {
	out := name
	converged := false
	for i := 0; i < maxSanitizePasses; i++ {
		next := html.UnescapeString(s.policy.Sanitize(out))
		if next == out {
			converged = true
			break
		}
		out = next
	}
	if !converged {
		out = angleStripper.Replace(out)
	}
	return strings.TrimSpace(out)
}
