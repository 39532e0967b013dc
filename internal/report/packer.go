package report

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/kolwatch/kolwatch/internal/models"
)

const (
	maxBlockBodyRunes     = 2000
	maxBlockInsightRunes  = 500
	maxSourceTitleRunes   = 100
	maxSourceExcerptRunes = 120
)

// Source is one packed post in the citation map, keyed by its Tn label.
type Source struct {
	SID      string `json:"sid"`
	Title    string `json:"title"`
	Link     string `json:"link"`
	Nickname string `json:"nickname"`
	Excerpt  string `json:"excerpt"`
}

// Context is the size-bounded, source-labeled concatenation of enriched
// posts handed to a report model.
type Context struct {
	Text      string
	Sources   map[string]Source
	PostCount int
}

var reInlineImageURL = regexp.MustCompile(`https?://\S*twimg\.com/\S+`)

// Pack formats ranked posts into labeled context blocks, accumulating until
// the next block would push the total past maxChars. In light mode the
// insight line is dropped for text-only posts. The total never exceeds
// maxChars.
func Pack(posts []models.EnrichedPost, maxChars int, light bool) *Context {
	packed := &Context{Sources: make(map[string]Source)}

	var sb strings.Builder
	total := 0
	for i, post := range posts {
		sid := fmt.Sprintf("T%d", i+1)
		block := formatBlock(sid, post, light)

		blockLen := len([]rune(block))
		sep := 0
		if total > 0 {
			sep = 2
		}
		if total+sep+blockLen > maxChars {
			break
		}

		if sep > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(block)
		total += sep + blockLen

		packed.Sources[sid] = Source{
			SID:      sid,
			Title:    truncateAtSentence(sourceTitle(post), maxSourceTitleRunes),
			Link:     post.PostURL,
			Nickname: post.Nickname,
			Excerpt:  truncateAtSentence(strings.TrimSpace(post.Content), maxSourceExcerptRunes),
		}
		packed.PostCount++
	}

	packed.Text = sb.String()
	return packed
}

func formatBlock(sid string, post models.EnrichedPost, light bool) string {
	body := strings.TrimSpace(reInlineImageURL.ReplaceAllString(post.Content, ""))
	body = truncateAtSentence(body, maxBlockBodyRunes)
	if n := len(post.MediaURLs); n > 0 {
		body = fmt.Sprintf("[attached %d images]\n%s", n, body)
	}

	block := fmt.Sprintf("[%s @%s]\n%s", sid, post.Handle, body)

	interp := strings.TrimSpace(post.Enrichment.DeepInterpretation)
	if interp == "" {
		return block
	}
	if light && !post.HasMedia() {
		return block
	}
	return block + "\n→ insight: " + truncateAtSentence(interp, maxBlockInsightRunes)
}

func sourceTitle(post models.EnrichedPost) string {
	if t := strings.TrimSpace(post.Title); t != "" {
		return t
	}
	if line, _, _ := strings.Cut(strings.TrimSpace(post.Content), "\n"); line != "" {
		return line
	}
	return post.PostURL
}

// sentenceDelimiters mark acceptable cut points for truncation.
func isSentenceDelimiter(r rune) bool {
	switch r {
	case '。', '！', '？', '；', '!', '?', '.', ';', '\n':
		return true
	}
	return false
}

// truncateAtSentence cuts s to at most max runes, preferring the last
// sentence delimiter when it lies past 70% of the cap.
func truncateAtSentence(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}

	cut := runes[:max]
	last := -1
	for i, r := range cut {
		if isSentenceDelimiter(r) {
			last = i
		}
	}
	if last > int(float64(max)*0.7) {
		return string(cut[:last+1])
	}
	return string(cut) + "..."
}
