package unfurl

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var (
	titleTag      = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	whitespaceRun = regexp.MustCompile(`\s+`)
	metaPatterns  = map[string][]*regexp.Regexp{}
)

// Sources in precedence order.
var (
	titleKeys       = []string{"og:title", "<title>", "twitter:title"}
	descriptionKeys = []string{"og:description", "description", "twitter:description"}
	imageKeys       = []string{"og:image", "twitter:image"}
)

func init() {
	for _, keys := range [][]string{titleKeys, descriptionKeys, imageKeys} {
		for _, key := range keys {
			if key == "<title>" {
				continue
			}
			q := regexp.QuoteMeta(key)
			metaPatterns[key] = []*regexp.Regexp{
				regexp.MustCompile(fmt.Sprintf(`(?is)<meta\b[^>]*?\s(?:property|name)\s*=\s*["']%s["'][^>]*?\scontent\s*=\s*"([^"]*)"`, q)),
				regexp.MustCompile(fmt.Sprintf(`(?is)<meta\b[^>]*?\s(?:property|name)\s*=\s*["']%s["'][^>]*?\scontent\s*=\s*'([^']*)'`, q)),
				regexp.MustCompile(fmt.Sprintf(`(?is)<meta\b[^>]*?\scontent\s*=\s*"([^"]*)"[^>]*?\s(?:property|name)\s*=\s*["']%s["']`, q)),
				regexp.MustCompile(fmt.Sprintf(`(?is)<meta\b[^>]*?\scontent\s*=\s*'([^']*)'[^>]*?\s(?:property|name)\s*=\s*["']%s["']`, q)),
			}
		}
	}
}

// Extract pulls preview metadata out of raw HTML. Relative image URLs are
// resolved against base.
func Extract(body string, base *url.URL) Result {
	res := Result{}
	res.Title = first(body, titleKeys)
	res.Description = first(body, descriptionKeys)
	if img := first(body, imageKeys); img != nil {
		if ref, err := url.Parse(*img); err == nil && base != nil {
			resolved := base.ResolveReference(ref).String()
			img = &resolved
		}
		res.Image = img
	}
	if base != nil {
		res.URL = base.String()
	}
	return res
}

func first(body string, keys []string) *string {
	for _, key := range keys {
		var raw string
		if key == "<title>" {
			if m := titleTag.FindStringSubmatch(body); m != nil {
				raw = m[1]
			}
		} else {
			raw = metaValue(body, key)
		}
		if v := clean(raw); v != "" {
			return &v
		}
	}
	return nil
}

func metaValue(body, key string) string {
	for _, re := range metaPatterns[key] {
		if m := re.FindStringSubmatch(body); m != nil {
			return m[1]
		}
	}
	return ""
}

func clean(s string) string {
	s = html.UnescapeString(s)
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}
