package report

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kolwatch/kolwatch/internal/models"
)

const (
	kolPostCap          = 300
	kolPostExcerptRunes = 200
)

// KOLResult is the outcome of one per-account monthly report.
type KOLResult struct {
	AccountID int64         `json:"account_id"`
	Handle    string        `json:"handle"`
	Posts     int           `json:"posts"`
	ReportID  int64         `json:"report_id"`
	Model     string        `json:"model"`
	Elapsed   time.Duration `json:"-"`
}

// KOLReport writes a monthly observation report for one account from its
// enriched posts and stored profile document.
func (s *Synthesizer) KOLReport(ctx context.Context, accountID int64, days int) (*KOLResult, error) {
	start := time.Now()

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load account %d: %w", accountID, err)
	}
	if account == nil {
		return nil, fmt.Errorf("account %d not found", accountID)
	}

	posts, err := s.posts.SelectForAccount(ctx, accountID, days, kolPostCap)
	if err != nil {
		return nil, fmt.Errorf("load posts for @%s: %w", account.Handle, err)
	}
	if len(posts) == 0 {
		return nil, fmt.Errorf("no enriched posts for @%s in the last %d days", account.Handle, days)
	}

	var profileJSON string
	profile, err := s.profiles.Get(ctx, accountID)
	if err != nil {
		s.logger.Warn("load profile failed, continuing without it", "handle", account.Handle, "error", err)
	} else if profile != nil {
		profileJSON = string(profile.Document)
	}

	packed := kolContext(posts)
	prompt := kolPrompt(account.Handle, account.Nickname, profileJSON, packed.Text, days)

	res, err := s.model.CallSmart(ctx, prompt, kolTemperature, "")
	if err != nil {
		return nil, fmt.Errorf("kol report model: %w", err)
	}

	windowEnd := time.Now().UTC()
	windowStart := windowEnd.AddDate(0, 0, -days)
	title := fmt.Sprintf("KOL 月度观察：@%s %s", account.Handle, windowEnd.Format("2006-01"))

	rpt := &models.Report{
		Kind:        models.ReportKindMonthlyKOL,
		Title:       title,
		Body:        finalizeReport(title, res.Content, packed, res.Model, windowStart, windowEnd),
		ModelName:   res.Model,
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		AccountID:   &accountID,
	}
	if err := s.reports.Insert(ctx, rpt); err != nil {
		return nil, fmt.Errorf("persist kol report: %w", err)
	}
	s.publish(ctx, rpt)

	return &KOLResult{
		AccountID: accountID,
		Handle:    account.Handle,
		Posts:     len(posts),
		ReportID:  rpt.ID,
		Model:     res.Model,
		Elapsed:   time.Since(start),
	}, nil
}

// kolContext formats an account's posts as dated, labeled lines and builds
// the matching citation map.
func kolContext(posts []models.EnrichedPost) *Context {
	packed := &Context{Sources: make(map[string]Source, len(posts))}

	var sb strings.Builder
	for i, post := range posts {
		sid := fmt.Sprintf("T%d", i+1)
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "[%s] [%s] [%s] [%s] %s",
			sid,
			post.PublishedAt.UTC().Format("2006-01-02"),
			post.Enrichment.ContentType,
			post.Enrichment.Tag,
			truncateAtSentence(strings.TrimSpace(post.Content), kolPostExcerptRunes))

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
