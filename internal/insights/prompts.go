package insights

import (
	"fmt"
	"strings"

	"github.com/kolwatch/kolwatch/internal/models"
)

// deepInterpretationTarget picks the requested interpretation length for a
// text-only post from its content length in runes.
func deepInterpretationTarget(contentLen int) string {
	switch {
	case contentLen < 100:
		return "100字左右"
	case contentLen < 300:
		return "150字左右"
	default:
		return "250字左右"
	}
}

// visionInterpretationTarget picks the interpretation length when images are
// attached. Posts with many images or long bodies get the longest budget.
func visionInterpretationTarget(contentLen, imageCount int) string {
	switch {
	case imageCount == 1 && contentLen < 150:
		return "150字左右"
	case imageCount == 1 && contentLen < 400:
		return "200字左右"
	case imageCount > 2 || contentLen >= 400:
		return "300字左右"
	default:
		return "250字左右"
	}
}

func imageDescriptionTarget(imageCount int) string {
	switch {
	case imageCount == 1:
		return "150字左右"
	case imageCount == 2:
		return "250字左右"
	default:
		return "300字左右"
	}
}

func vocabulary(values []string) string {
	return strings.Join(values, "、")
}

// textPrompt builds the analysis prompt for a post without usable images.
func textPrompt(post models.EnrichedPost, maxContentChars int) string {
	content := truncateRunes(post.Content, maxContentChars)
	target := deepInterpretationTarget(len([]rune(content)))

	var sb strings.Builder
	fmt.Fprintf(&sb, "请分析来自 @%s（%s）的以下帖子，并以 JSON 格式返回分析结果。\n\n", post.Handle, post.Nickname)
	fmt.Fprintf(&sb, "帖子内容：\n%s\n\n", content)
	sb.WriteString("返回一个 JSON 对象，包含以下字段：\n")
	sb.WriteString("- \"llm_summary\": 一句话核心摘要，50字以内\n")
	fmt.Fprintf(&sb, "- \"post_tag\": 从以下标签中选择最贴切的一个：%s\n", vocabulary(models.PostTags))
	fmt.Fprintf(&sb, "- \"content_type\": 从以下类型中选择一个：%s\n", vocabulary(models.ContentTypes))
	sb.WriteString("- \"mentioned_entities\": 帖子中提到的实体列表，每项包含 \"entity_name\" 和 \"entity_type\"（person/company/product/project/other）\n")
	fmt.Fprintf(&sb, "- \"deep_interpretation\": 深度解读，分析观点、背景和潜在影响，%s\n\n", target)
	sb.WriteString("只输出 JSON，不要附加任何其他文字。")
	return sb.String()
}

// visionPrompt builds the analysis prompt for a post with image attachments.
func visionPrompt(post models.EnrichedPost, imageCount, maxContentChars int) string {
	content := truncateRunes(post.Content, maxContentChars)
	interpTarget := visionInterpretationTarget(len([]rune(content)), imageCount)
	imageTarget := imageDescriptionTarget(imageCount)

	var sb strings.Builder
	fmt.Fprintf(&sb, "请结合附带的 %d 张图片，分析来自 @%s（%s）的以下帖子，并以 JSON 格式返回分析结果。\n\n",
		imageCount, post.Handle, post.Nickname)
	fmt.Fprintf(&sb, "帖子内容：\n%s\n\n", content)
	sb.WriteString("返回一个 JSON 对象，包含以下字段：\n")
	sb.WriteString("- \"llm_summary\": 一句话核心摘要，50字以内\n")
	fmt.Fprintf(&sb, "- \"post_tag\": 从以下标签中选择最贴切的一个：%s\n", vocabulary(models.PostTags))
	fmt.Fprintf(&sb, "- \"content_type\": 从以下类型中选择一个：%s\n", vocabulary(models.ContentTypes))
	sb.WriteString("- \"mentioned_entities\": 帖子和图片中提到的实体列表，每项包含 \"entity_name\" 和 \"entity_type\"（person/company/product/project/other）\n")
	fmt.Fprintf(&sb, "- \"image_description\": 描述图片内容及其与正文的关联，%s\n", imageTarget)
	fmt.Fprintf(&sb, "- \"deep_interpretation\": 结合图文的深度解读，分析观点、背景和潜在影响，%s\n\n", interpTarget)
	sb.WriteString("只输出 JSON，不要附加任何其他文字。")
	return sb.String()
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
