package security

import (
	"html/template"

	"github.com/microcosm-cc/bluemonday"
)

// PageSanitizer は運用者が設定する紹介文HTML（トップページに表示）をサニタイズする。
// 許可リスト方式で、見出し・段落・リスト・強調・httpsリンクのみを通過させる。
type PageSanitizer struct {
	policy *bluemonday.Policy
}

// NewPageSanitizer はPageSanitizerを生成する。
// ポリシーの内容:
//   - 許可タグ: h2, h3, p, br, ul, ol, li, strong, em, code, a
//   - aタグ: hrefはhttpsのみ、target="_blank"とrel="noopener noreferrer"を付与
//   - script, style, iframe, on*属性は除去
func NewPageSanitizer() *PageSanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"h2", "h3", "p", "br", "ul", "ol", "li",
		"strong", "em", "code",
	)

	p.AllowAttrs("href").OnElements("a")
	p.AllowURLSchemes("https")
	p.AllowRelativeURLs(false)
	p.RequireParseableURLs(true)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	return &PageSanitizer{policy: p}
}

// Sanitize はHTMLをサニタイズする。同一入力に対して常に同一出力を返す。
func (s *PageSanitizer) Sanitize(rawHTML string) string {
	return s.policy.Sanitize(rawHTML)
}

// SanitizeHTML はサニタイズ済みのHTMLをテンプレートにそのまま埋め込める型で返す。
func (s *PageSanitizer) SanitizeHTML(rawHTML string) template.HTML {
	return template.HTML(s.policy.Sanitize(rawHTML))
}
