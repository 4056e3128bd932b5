package render

import (
	"regexp"

	"github.com/microcosm-cc/bluemonday"
)

var (
	classRegexp    = regexp.MustCompile(`^(language-[A-Za-z0-9_+#.-]{1,32}|link-preview(-[a-z]+)?)$`)
	dataTypeRegexp = regexp.MustCompile(`^link-preview$`)
	webURLRegexp   = regexp.MustCompile(`^https?://`)
)

// NewPolicy returns the user content policy extended with the attributes the
// document extensions render: code block language classes and link preview
// cards.
func NewPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowAttrs("class").Matching(classRegexp).OnElements("code", "div", "span", "img")
	p.AllowAttrs("data-type").Matching(dataTypeRegexp).OnElements("div")
	p.AllowAttrs("data-id", "data-title", "data-description").OnElements("div")
	p.AllowAttrs("data-href", "data-image").Matching(webURLRegexp).OnElements("div")
	p.RequireNoFollowOnLinks(true)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	return p
}
