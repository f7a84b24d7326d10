// Package security はアプリケーションのセキュリティ機能を提供する。
//
// DescriptionSanitizer はイベント説明文のHTMLをサニタイズする。
// bluemondayの許可リストポリシーで、書式用のタグとリンクのみを通過させる。
package security

import (
	"github.com/microcosm-cc/bluemonday"
)

// DescriptionSanitizer はイベント説明文のサニタイズ機能のインターフェース。
type DescriptionSanitizer interface {
	// Sanitize は許可タグのみを残した安全なHTMLを返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(rawHTML string) string
}

// descriptionSanitizer はDescriptionSanitizerの実装。
// bluemondayのPolicyは構築後スレッドセーフに使える。
type descriptionSanitizer struct {
	policy *bluemonday.Policy
}

// NewDescriptionSanitizer はイベント説明文用のポリシーを構築する。
//   - 許可タグ: p, br, ul, ol, li, strong, em, h3, h4, a
//   - aタグ: http/httpsの絶対URLのみ。target="_blank"とrel="noopener noreferrer"を付与
//   - 画像、埋め込み、スクリプト、style、on*属性はすべて除去
func NewDescriptionSanitizer() DescriptionSanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"p", "br", "ul", "ol", "li",
		"strong", "em", "h3", "h4",
	)

	p.AllowAttrs("href").OnElements("a")
	p.AllowURLSchemes("http", "https")
	p.AllowRelativeURLs(false)
	p.RequireParseableURLs(true)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	return &descriptionSanitizer{policy: p}
}

// Sanitize はHTMLをサニタイズする。
func (s *descriptionSanitizer) Sanitize(rawHTML string) string {
	return s.policy.Sanitize(rawHTML)
}
