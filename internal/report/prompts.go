package report

import (
	"fmt"
	"strings"
)

// lightPrompt asks for a digest-style briefing with categorical bullet
// lists.
func lightPrompt(context string) string {
	var sb strings.Builder
	sb.WriteString("你是一名科技与投资领域的情报编辑。以下是过去一段时间内重点关注账号发布的帖子，")
	sb.WriteString("每条帖子以 [Tn @handle] 开头标注来源编号。\n\n")
	sb.WriteString("请输出一份轻量速览简报（Markdown 格式），要求：\n")
	sb.WriteString("1. 按主题分类（如：技术动态、产品发布、投资观察、行业观点等），每类用二级标题。\n")
	sb.WriteString("2. 每个主题下用简洁的要点列表概括相关帖子，每条要点一句话。\n")
	sb.WriteString("3. 每条要点末尾标注来源，格式严格为 [Source: Tn]，多个来源写作 [Source: T1, T2]。\n")
	sb.WriteString("4. 只基于给定内容，不要编造信息。\n\n")
	sb.WriteString("帖子内容：\n\n")
	sb.WriteString(context)
	return sb.String()
}

// deepPrompt asks for the five-section editorial analysis with mandatory
// citations.
func deepPrompt(context string) string {
	var sb strings.Builder
	sb.WriteString("你是一名资深的科技与投资领域分析师。以下是过去一段时间内重点关注账号发布的帖子，")
	sb.WriteString("每条帖子以 [Tn @handle] 开头标注来源编号，部分帖子附有 insight 深度解读。\n\n")
	sb.WriteString("请撰写一份深度分析报告（Markdown 格式），必须包含以下五个部分，每部分用二级标题：\n")
	sb.WriteString("1. **今日焦点**：最重要的一到三个事件或讨论，及其意义。\n")
	sb.WriteString("2. **技术与产品动态**：值得关注的技术进展与产品发布。\n")
	sb.WriteString("3. **观点与争论**：有代表性的观点交锋，指出分歧所在。\n")
	sb.WriteString("4. **趋势信号**：从多条帖子中浮现的共同趋势或弱信号。\n")
	sb.WriteString("5. **值得跟进**：建议后续持续关注的线索。\n\n")
	sb.WriteString("硬性要求：每一个论断都必须标注来源，格式严格为 [Source: Tn]，")
	sb.WriteString("多个来源写作 [Source: T1, T2]。不允许出现没有来源标注的事实性陈述。\n\n")
	sb.WriteString("帖子内容：\n\n")
	sb.WriteString(context)
	return sb.String()
}

// kolPrompt asks for a per-account monthly review combining the account's
// posts with its stored profile document.
func kolPrompt(handle, nickname, profileJSON, posts string, days int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "你是一名资深的人物观察分析师。请基于 @%s（%s）最近 %d 天的帖子记录", handle, nickname, days)
	if profileJSON != "" {
		sb.WriteString("，并结合此前生成的画像档案")
	}
	sb.WriteString("，撰写一份该账号的月度观察报告（Markdown 格式）。\n\n")
	sb.WriteString("报告应包含：\n")
	sb.WriteString("1. **本期概览**：发帖节奏、主要话题分布。\n")
	sb.WriteString("2. **核心观点**：本期最有代表性的观点与立场变化。\n")
	sb.WriteString("3. **关注动向**：提及的项目、工具、资产及其上下文。\n")
	sb.WriteString("4. **画像更新**：与既有画像相比的延续与变化。\n\n")
	sb.WriteString("引用具体帖子时标注来源编号，格式为 [Source: Tn]。\n\n")
	if profileJSON != "" {
		fmt.Fprintf(&sb, "画像档案：\n```json\n%s\n```\n\n", profileJSON)
	}
	fmt.Fprintf(&sb, "帖子记录：\n\n%s", posts)
	return sb.String()
}
