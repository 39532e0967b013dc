package report

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kolwatch/kolwatch/internal/config"
	"github.com/kolwatch/kolwatch/internal/llm"
	"github.com/kolwatch/kolwatch/internal/models"
	"github.com/kolwatch/kolwatch/internal/scoring"
	"log/slog"
)

// Report flows.
const (
	FlowLight        = "light"
	FlowDeep         = "deep"
	FlowDual         = "dual"
	FlowIntelligence = "intelligence"
)

const (
	reportTemperature = 0.7
	kolTemperature    = 0.3

	defaultCandidateMultiplier = 3
)

// PostSource provides enriched posts for report windows and per-account
// reviews.
type PostSource interface {
	SelectInWindow(ctx context.Context, start, end time.Time, limit int, excludeTags []string) ([]models.EnrichedPost, error)
	SelectForAccount(ctx context.Context, accountID int64, days, limit int) ([]models.EnrichedPost, error)
}

// AccountSource resolves accounts for per-account reports.
type AccountSource interface {
	GetByID(ctx context.Context, id int64) (*models.Account, error)
}

// ProfileSource provides stored profile documents.
type ProfileSource interface {
	Get(ctx context.Context, accountID int64) (*models.Profile, error)
}

// ModelCaller is the smart-model surface the synthesizer uses. An empty
// modelOverride walks the configured report-model chain.
type ModelCaller interface {
	CallSmart(ctx context.Context, prompt string, temperature float32, modelOverride string) (*llm.Result, error)
}

// ReportStore persists finished reports.
type ReportStore interface {
	Insert(ctx context.Context, report *models.Report) error
}

// Publisher pushes a persisted report to an external note service.
type Publisher interface {
	Publish(ctx context.Context, report *models.Report) error
}

// Options select the report window and flow.
type Options struct {
	Flow        string
	Hours       int
	Limit       int
	Multiplier  int
	ExcludeTags []string
}

// Outcome is one generated (or failed) report.
type Outcome struct {
	Kind     models.ReportKind `json:"kind"`
	Model    string            `json:"model"`
	ReportID int64             `json:"report_id,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// Result aggregates one synthesis run.
type Result struct {
	Flow       string        `json:"flow"`
	Candidates int           `json:"candidates"`
	Packed     int           `json:"packed"`
	Outcomes   []Outcome     `json:"outcomes"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	Elapsed    time.Duration `json:"-"`
}

// Success reports whether the run produced at least one report, or had
// nothing to do.
func (r Result) Success() bool {
	if len(r.Outcomes) == 0 {
		return true
	}
	return r.Succeeded > 0
}

// Synthesizer turns a window of enriched posts into persisted markdown
// reports.
type Synthesizer struct {
	posts     PostSource
	accounts  AccountSource
	profiles  ProfileSource
	reports   ReportStore
	model     ModelCaller
	publisher Publisher
	llmCfg    config.LLMConfig
	scoreCfg  config.ScoringConfig
	logger    *slog.Logger
}

// NewSynthesizer builds a report synthesizer. publisher may be nil when no
// note service is configured.
func NewSynthesizer(posts PostSource, accounts AccountSource, profiles ProfileSource, reports ReportStore, model ModelCaller, publisher Publisher, llmCfg config.LLMConfig, scoreCfg config.ScoringConfig, logger *slog.Logger) *Synthesizer {
	return &Synthesizer{
		posts:     posts,
		accounts:  accounts,
		profiles:  profiles,
		reports:   reports,
		model:     model,
		publisher: publisher,
		llmCfg:    llmCfg,
		scoreCfg:  scoreCfg,
		logger:    logger,
	}
}

type reportJob struct {
	kind   models.ReportKind
	title  string
	prompt string
	packed *Context
	model  string
}

// Run selects and ranks the window's enriched posts, packs them into a
// bounded context, and generates the flow's report variants. Fan-out
// variants run concurrently; one success makes the run a success.
func (s *Synthesizer) Run(ctx context.Context, opts Options) (Result, error) {
	start := time.Now()
	if opts.Multiplier <= 0 {
		opts.Multiplier = defaultCandidateMultiplier
	}

	windowEnd := time.Now().UTC()
	windowStart := windowEnd.Add(-time.Duration(opts.Hours) * time.Hour)

	candidates, err := s.posts.SelectInWindow(ctx, windowStart, windowEnd, opts.Limit*opts.Multiplier, opts.ExcludeTags)
	if err != nil {
		return Result{}, fmt.Errorf("select report candidates: %w", err)
	}

	result := Result{Flow: opts.Flow, Candidates: len(candidates)}
	if len(candidates) == 0 {
		s.logger.Info("no enriched posts in window, skipping report", "hours", opts.Hours)
		result.Elapsed = time.Since(start)
		return result, nil
	}

	ranked := scoring.Rank(candidates, s.scoreCfg, opts.Limit)

	jobs, packedCount, err := s.buildJobs(opts.Flow, ranked, windowEnd)
	if err != nil {
		return Result{}, err
	}
	result.Packed = packedCount

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, job := range jobs {
		wg.Add(1)
		go func(job reportJob) {
			defer wg.Done()
			outcome := s.generate(ctx, job, windowStart, windowEnd)

			mu.Lock()
			result.Outcomes = append(result.Outcomes, outcome)
			if outcome.Error == "" {
				result.Succeeded++
			} else {
				result.Failed++
			}
			mu.Unlock()
		}(job)
	}
	wg.Wait()

	result.Elapsed = time.Since(start)
	s.logger.Info("report synthesis finished",
		"flow", opts.Flow,
		"packed", result.Packed,
		"succeeded", result.Succeeded,
		"failed", result.Failed,
		"elapsed", result.Elapsed)
	return result, nil
}

// buildJobs maps a flow onto concrete generation jobs. Dual shares one full
// context between the light and deep prompts; intelligence fans the deep
// prompt out across every configured report model.
func (s *Synthesizer) buildJobs(flow string, ranked []models.EnrichedPost, windowEnd time.Time) ([]reportJob, int, error) {
	day := windowEnd.Format("2006-01-02")
	lightTitle := fmt.Sprintf("每日速览简报 %s", day)
	deepTitle := fmt.Sprintf("每日深度分析报告 %s", day)

	full := Pack(ranked, s.llmCfg.ReportMaxContentChars, false)

	switch flow {
	case FlowLight:
		light := Pack(ranked, s.llmCfg.ReportMaxContentChars, true)
		return []reportJob{
			{kind: models.ReportKindDailyLight, title: lightTitle, prompt: lightPrompt(light.Text), packed: light},
		}, light.PostCount, nil

	case FlowDeep:
		return []reportJob{
			{kind: models.ReportKindDailyDeep, title: deepTitle, prompt: deepPrompt(full.Text), packed: full},
		}, full.PostCount, nil

	case FlowDual:
		return []reportJob{
			{kind: models.ReportKindDailyLight, title: lightTitle, prompt: lightPrompt(full.Text), packed: full},
			{kind: models.ReportKindDailyDeep, title: deepTitle, prompt: deepPrompt(full.Text), packed: full},
		}, full.PostCount, nil

	case FlowIntelligence:
		modelIDs := s.llmCfg.ReportModels
		if len(modelIDs) == 0 {
			modelIDs = []string{s.llmCfg.SmartModel}
		}
		jobs := make([]reportJob, 0, len(modelIDs))
		for _, id := range modelIDs {
			jobs = append(jobs, reportJob{
				kind:   models.ReportKindDailyDeep,
				title:  deepTitle,
				prompt: deepPrompt(full.Text),
				packed: full,
				model:  id,
			})
		}
		return jobs, full.PostCount, nil
	}

	return nil, 0, fmt.Errorf("unknown report flow %q", flow)
}

func (s *Synthesizer) generate(ctx context.Context, job reportJob, windowStart, windowEnd time.Time) Outcome {
	res, err := s.model.CallSmart(ctx, job.prompt, reportTemperature, job.model)
	if err != nil {
		s.logger.Warn("report model failed", "kind", job.kind, "model", job.model, "error", err)
		return Outcome{Kind: job.kind, Model: job.model, Error: err.Error()}
	}

	report := &models.Report{
		Kind:        job.kind,
		Title:       job.title,
		Body:        finalizeReport(job.title, res.Content, job.packed, res.Model, windowStart, windowEnd),
		ModelName:   res.Model,
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
	}
	if err := s.reports.Insert(ctx, report); err != nil {
		s.logger.Error("persist report", "kind", job.kind, "model", res.Model, "error", err)
		return Outcome{Kind: job.kind, Model: res.Model, Error: err.Error()}
	}

	s.publish(ctx, report)
	return Outcome{Kind: job.kind, Model: res.Model, ReportID: report.ID}
}

// publish pushes the report to the note service. Failures are logged and
// never affect the run outcome.
func (s *Synthesizer) publish(ctx context.Context, report *models.Report) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, report); err != nil {
		s.logger.Warn("note service publish failed", "report_id", report.ID, "error", err)
	}
}
