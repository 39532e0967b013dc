package report

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	reSourceSpan = regexp.MustCompile(`\[Sources?:\s*[T\d\s,]+\]`)
	reCitation   = regexp.MustCompile(`\[(Sources?):\s*([T\d\s,]+)\]`)
)

// escapeBrackets converts stray square brackets to full-width ones so they
// cannot collide with markdown links, keeping [Source: Tn] spans intact via
// placeholder substitution.
func escapeBrackets(body string) string {
	spans := reSourceSpan.FindAllString(body, -1)
	for i, span := range spans {
		body = strings.Replace(body, span, placeholder(i), 1)
	}

	body = strings.ReplaceAll(body, "[", "【")
	body = strings.ReplaceAll(body, "]", "】")

	for i, span := range spans {
		body = strings.Replace(body, placeholder(i), span, 1)
	}
	return body
}

func placeholder(i int) string {
	return fmt.Sprintf("__SOURCE_PLACEHOLDER_%d__", i)
}

// linkCitations rewrites every [Source: Tn, Tm] span into markdown links
// resolved through the sources map. Unknown labels pass through unlinked.
func linkCitations(body string, sources map[string]Source) string {
	return reCitation.ReplaceAllStringFunc(body, func(match string) string {
		groups := reCitation.FindStringSubmatch(match)
		if groups == nil {
			return match
		}

		var linked []string
		for _, label := range strings.Split(groups[2], ",") {
			label = strings.TrimSpace(label)
			if label == "" {
				continue
			}
			if src, found := sources[label]; found && src.Link != "" {
				linked = append(linked, fmt.Sprintf("[%s](%s)", label, src.Link))
			} else {
				linked = append(linked, label)
			}
		}
		return fmt.Sprintf("[%s: %s]", groups[1], strings.Join(linked, ", "))
	})
}

// renderSources renders the source-list appendix in packing order.
func renderSources(sources map[string]Source, count int) string {
	var sb strings.Builder
	sb.WriteString("## 📚 来源清单 (Source List)\n")
	for i := 1; i <= count; i++ {
		src, found := sources[fmt.Sprintf("T%d", i)]
		if !found {
			continue
		}
		fmt.Fprintf(&sb, "\n- **%s** [%s](%s) — %s", src.SID, src.Title, src.Link, src.Nickname)
		if src.Excerpt != "" {
			fmt.Fprintf(&sb, "：%s", src.Excerpt)
		}
	}
	return sb.String()
}

// finalizeReport assembles the persisted report body: header, cleaned and
// citation-linked model output, source list, footer.
func finalizeReport(title, body string, packed *Context, model string, windowStart, windowEnd time.Time) string {
	processed := linkCitations(escapeBrackets(body), packed.Sources)

	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", title)
	fmt.Fprintf(&sb, "> 生成时间：%s | 时间窗口：%s ~ %s | 覆盖帖子：%d 篇 | 模型：%s\n\n",
		time.Now().UTC().Format("2006-01-02 15:04 UTC"),
		windowStart.UTC().Format("2006-01-02 15:04"),
		windowEnd.UTC().Format("2006-01-02 15:04"),
		packed.PostCount,
		model)
	sb.WriteString("---\n\n")
	sb.WriteString(processed)
	sb.WriteString("\n\n---\n\n")
	sb.WriteString(renderSources(packed.Sources, packed.PostCount))
	sb.WriteString("\n\n---\n\n*本报告由 kolwatch 自动生成*\n")
	return sb.String()
}
