package profiling

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kolwatch/kolwatch/internal/llm"
	"github.com/kolwatch/kolwatch/internal/models"
	"log/slog"
)

const (
	profileTemperature = 0.3
	postExcerptRunes   = 200
	postCap            = 300
)

// ProfileStore selects accounts due for profiling and persists documents.
type ProfileStore interface {
	SelectAccountsForProfiling(ctx context.Context, limit int) ([]*models.Account, error)
	Upsert(ctx context.Context, accountID int64, document json.RawMessage) error
}

// PostSource provides an account's enriched posts.
type PostSource interface {
	SelectForAccount(ctx context.Context, accountID int64, days, limit int) ([]models.EnrichedPost, error)
}

// ModelCaller is the smart-model surface the analyzer uses.
type ModelCaller interface {
	CallSmart(ctx context.Context, prompt string, temperature float32, modelOverride string) (*llm.Result, error)
}

// Result aggregates one profiling run.
type Result struct {
	Selected int           `json:"selected"`
	Profiled int           `json:"profiled"`
	Failed   int           `json:"failed"`
	Elapsed  time.Duration `json:"-"`
}

// Analyzer writes behavioral profile documents for active accounts. Each
// pass consumes a full smart-model context, so accounts run sequentially.
type Analyzer struct {
	profiles ProfileStore
	posts    PostSource
	model    ModelCaller
	logger   *slog.Logger
}

func NewAnalyzer(profiles ProfileStore, posts PostSource, model ModelCaller, logger *slog.Logger) *Analyzer {
	return &Analyzer{
		profiles: profiles,
		posts:    posts,
		model:    model,
		logger:   logger,
	}
}

// Run profiles up to limit due accounts over a days-long window. A failed
// account is logged and skipped.
func (a *Analyzer) Run(ctx context.Context, limit, days int) (Result, error) {
	start := time.Now()

	accounts, err := a.profiles.SelectAccountsForProfiling(ctx, limit)
	if err != nil {
		return Result{}, fmt.Errorf("select accounts for profiling: %w", err)
	}

	result := Result{Selected: len(accounts)}
	for _, account := range accounts {
		if err := a.profileOne(ctx, account, days); err != nil {
			a.logger.Warn("profiling failed", "handle", account.Handle, "error", err)
			result.Failed++
			continue
		}
		result.Profiled++
	}

	result.Elapsed = time.Since(start)
	a.logger.Info("profiling run finished",
		"selected", result.Selected,
		"profiled", result.Profiled,
		"failed", result.Failed,
		"elapsed", result.Elapsed)
	return result, nil
}

func (a *Analyzer) profileOne(ctx context.Context, account *models.Account, days int) error {
	posts, err := a.posts.SelectForAccount(ctx, account.ID, days, postCap)
	if err != nil {
		return fmt.Errorf("load posts: %w", err)
	}
	if len(posts) == 0 {
		return fmt.Errorf("no enriched posts in the last %d days", days)
	}

	prompt := profilePrompt(account.Handle, account.Nickname, formatPosts(posts), days)
	res, err := a.model.CallSmart(ctx, prompt, profileTemperature, "")
	if err != nil {
		return fmt.Errorf("profile model: %w", err)
	}

	var document map[string]any
	if err := llm.ExtractJSON(res.Content, &document); err != nil {
		return fmt.Errorf("parse profile output: %w", err)
	}

	document["analysis_period"] = map[string]any{
		"days":          days,
		"total_posts":   len(posts),
		"analysis_date": time.Now().UTC().Format("2006-01-02"),
	}

	raw, err := json.Marshal(document)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	if err := a.profiles.Upsert(ctx, account.ID, raw); err != nil {
		return fmt.Errorf("store profile: %w", err)
	}

	a.logger.Info("profile updated", "handle", account.Handle, "posts", len(posts), "model", res.Model)
	return nil
}

// formatPosts renders enriched posts as dated, labeled lines for the
// profiling prompt.
func formatPosts(posts []models.EnrichedPost) string {
	var sb strings.Builder
	for i, post := range posts {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "[T%d] [%s] [%s] [%s] %s",
			i+1,
			post.PublishedAt.UTC().Format("2006-01-02"),
			post.Enrichment.ContentType,
			post.Enrichment.Tag,
			excerpt(post.Content))
	}
	return sb.String()
}

func excerpt(s string) string {
	runes := []rune(strings.TrimSpace(s))
	if len(runes) <= postExcerptRunes {
		return string(runes)
	}
	return string(runes[:postExcerptRunes]) + "..."
}

// profilePrompt asks for the behavioral profile document as strict JSON.
func profilePrompt(handle, nickname, posts string, days int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "你是一名经验丰富的行为画像分析师。以下是 @%s（%s）最近 %d 天的帖子记录，", handle, nickname, days)
	sb.WriteString("每行以 [Tn] [日期] [内容形式] [标签] 开头。\n\n")
	sb.WriteString("请基于这些记录为该账号建立画像，输出一个 JSON 对象，包含以下字段：\n")
	sb.WriteString("- \"top_keywords\": 最核心的 5 个关键词\n")
	sb.WriteString("- \"sentiment_trend\": 整体情绪走向及其变化\n")
	sb.WriteString("- \"mentioned_assets\": {\"tools\": [], \"stocks\": [], \"projects\": []}，提及的工具、股票与项目\n")
	sb.WriteString("- \"content_format_ratio\": 各内容形式的大致占比\n")
	sb.WriteString("- \"interaction_graph\": {\"top_5_interacted_users\": []}，互动最多的账号\n")
	sb.WriteString("- \"network_role\": 该账号在其社交网络中的角色定位\n")
	sb.WriteString("- \"intellectual_trajectory_summary\": 思想轨迹总结，关注点如何演变\n\n")
	sb.WriteString("只输出 JSON，不要附加任何其他文字。\n\n")
	fmt.Fprintf(&sb, "帖子记录：\n\n%s", posts)
	return sb.String()
}
