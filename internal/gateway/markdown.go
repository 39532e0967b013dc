package gateway

import (
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strings"

	"github.com/kolwatch/kolwatch/internal/models"
)

// Known media formats and CDN hosts. A media URL survives extraction when
// either check passes.
var mediaExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
	".mp4": true, ".mov": true, ".avi": true,
}

var mediaCDNHosts = map[string]bool{
	"pbs.twimg.com":   true,
	"video.twimg.com": true,
	"abs.twimg.com":   true,
}

var (
	reMediaSrc   = regexp.MustCompile(`<(?:img|video)[^>]*\ssrc="([^"]+)"`)
	reQuoteDiv   = regexp.MustCompile(`(?s)<div class="rsshub-quote">(.*?)</div>`)
	reHeading    = regexp.MustCompile(`(?s)<h([1-6])[^>]*>(.*?)</h[1-6]>`)
	reAnchor     = regexp.MustCompile(`(?s)<a[^>]*\shref="([^"]+)"[^>]*>(.*?)</a>`)
	reBreak      = regexp.MustCompile(`<br\s*/?>`)
	reParagraph  = regexp.MustCompile(`</?p[^>]*>`)
	reAnyTag     = regexp.MustCompile(`<[^>]+>`)
	reTripleNL   = regexp.MustCompile(`\n{3,}`)
	reHTTPTokens = regexp.MustCompile(`https?://\S+`)
)

// ExtractMediaURLs pulls img/video sources out of an HTML body, keeping only
// URLs with a known media extension or a known CDN host. Order is preserved
// and duplicates dropped.
func ExtractMediaURLs(htmlBody string) []string {
	matches := reMediaSrc.FindAllStringSubmatch(htmlBody, -1)

	var urls []string
	seen := map[string]bool{}
	for _, match := range matches {
		raw := html.UnescapeString(match[1])
		if seen[raw] || !isMediaURL(raw) {
			continue
		}
		seen[raw] = true
		urls = append(urls, raw)
	}
	return urls
}

func isMediaURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return false
	}

	if mediaCDNHosts[parsed.Hostname()] {
		return true
	}

	path := strings.ToLower(parsed.Path)
	if idx := strings.LastIndex(path, "."); idx >= 0 {
		return mediaExtensions[path[idx:]]
	}
	return false
}

// HTMLToMarkdown converts a feed entry's HTML body into compact markdown:
// ATX headings, quoted blocks for embedded quotes, inline links, residual
// tags stripped.
func HTMLToMarkdown(htmlBody string) string {
	text := htmlBody

	// Embedded quotes become markdown blockquotes.
	text = reQuoteDiv.ReplaceAllStringFunc(text, func(div string) string {
		inner := reQuoteDiv.FindStringSubmatch(div)[1]
		inner = reBreak.ReplaceAllString(inner, "\n")
		inner = reAnyTag.ReplaceAllString(inner, "")
		inner = strings.TrimSpace(inner)

		var quoted []string
		for _, line := range strings.Split(inner, "\n") {
			quoted = append(quoted, "> "+strings.TrimSpace(line))
		}
		return "\n" + strings.Join(quoted, "\n") + "\n"
	})

	text = reHeading.ReplaceAllStringFunc(text, func(h string) string {
		m := reHeading.FindStringSubmatch(h)
		level := int(m[1][0] - '0')
		body := strings.TrimSpace(reAnyTag.ReplaceAllString(m[2], ""))
		return "\n" + strings.Repeat("#", level) + " " + body + "\n"
	})

	text = reAnchor.ReplaceAllStringFunc(text, func(a string) string {
		m := reAnchor.FindStringSubmatch(a)
		href := html.UnescapeString(m[1])
		label := strings.TrimSpace(reAnyTag.ReplaceAllString(m[2], ""))
		if label == "" || label == href {
			return href
		}
		return fmt.Sprintf("[%s](%s)", label, href)
	})

	text = reBreak.ReplaceAllString(text, "\n")
	text = reParagraph.ReplaceAllString(text, "\n")
	text = reAnyTag.ReplaceAllString(text, "")
	text = html.UnescapeString(text)

	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = reTripleNL.ReplaceAllString(text, "\n\n")

	return strings.TrimSpace(text)
}

// ClassifyKind rule-classifies a post body. Replies lead with a mention,
// quotes carry a blockquote, link shares are mostly URL by volume.
func ClassifyKind(content string) models.PostKind {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return models.PostKindOriginal
	}

	if strings.HasPrefix(trimmed, "@") || strings.HasPrefix(trimmed, "Re @") || strings.Contains(trimmed, "回复 @") {
		return models.PostKindReply
	}

	if strings.Contains(trimmed, "\n> ") || strings.HasPrefix(trimmed, "> ") {
		return models.PostKindQuote
	}

	urlChars := 0
	for _, match := range reHTTPTokens.FindAllString(trimmed, -1) {
		urlChars += len(match)
	}
	if float64(urlChars)/float64(len(trimmed)) > 0.3 {
		return models.PostKindLinkShare
	}

	return models.PostKindOriginal
}
