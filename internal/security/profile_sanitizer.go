// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ProfileSanitizer はIdPから受け取ったプロフィール文字列を、
// ローカルユーザーとして保存する前に無害化・正規化する。
// 表示名は受付画面やレポートにそのまま表示されるため、タグを全て除去する。
package security

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"
)

const (
	// maxDisplayNameRunes はidentities.display_nameの長さ上限。
	maxDisplayNameRunes = 255
	// maxEmailBytes はidentities.emailの長さ上限。
	maxEmailBytes = 320
)

// ProfileSanitizer はプロフィール文字列の無害化機能のインターフェース。
type ProfileSanitizer interface {
	// DisplayName はHTMLタグと制御文字を除去し、NFC正規化した表示名を返す。
	// 連続する空白は1つにまとめ、255文字を超える部分は切り詰める。
	DisplayName(raw string) string

	// Email は前後の空白を除去したメールアドレスを返す。
	// 長さ上限を超える、または制御文字を含む場合は空文字列を返す。
	Email(raw string) string
}

// profileSanitizer はProfileSanitizerの実装。
// bluemondayのポリシーはスレッドセーフに使用できる。
type profileSanitizer struct {
	policy *bluemonday.Policy
}

// NewProfileSanitizer はProfileSanitizerの新しいインスタンスを生成する。
// 全てのタグを除去するStrictPolicyを使用する。
func NewProfileSanitizer() *profileSanitizer {
	return &profileSanitizer{policy: bluemonday.StrictPolicy()}
}

// DisplayName は表示名を無害化する。
func (s *profileSanitizer) DisplayName(raw string) string {
	// StrictPolicyの出力はHTMLエスケープ済みのため、プレーンテキストに戻す
	text := html.UnescapeString(s.policy.Sanitize(raw))
	text = norm.NFC.String(text)

	var b strings.Builder
	space := false
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			space = true
			continue
		case unicode.IsControl(r), r == unicode.ReplacementChar:
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}

	out := []rune(b.String())
	if len(out) > maxDisplayNameRunes {
		out = out[:maxDisplayNameRunes]
	}
	return string(out)
}

// Email はメールアドレスを無害化する。
func (s *profileSanitizer) Email(raw string) string {
	email := strings.TrimSpace(raw)
	if len(email) > maxEmailBytes {
		return ""
	}
	for _, r := range email {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return ""
		}
	}
	return email
}

// compile-time interface check
var _ ProfileSanitizer = (*profileSanitizer)(nil)
