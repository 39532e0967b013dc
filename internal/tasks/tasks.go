package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kolwatch/kolwatch/internal/config"
	"github.com/kolwatch/kolwatch/internal/crawler"
	"github.com/kolwatch/kolwatch/internal/insights"
	"github.com/kolwatch/kolwatch/internal/metrics"
	"github.com/kolwatch/kolwatch/internal/models"
	"github.com/kolwatch/kolwatch/internal/profiling"
	"github.com/kolwatch/kolwatch/internal/report"
	"log/slog"
)

// Scheduling is the account-selection surface the tasks use.
type Scheduling interface {
	InQuietWindow(t time.Time) bool
	SelectDue(ctx context.Context, tier models.Tier, limit int) ([]*models.Account, error)
	SelectStale(ctx context.Context, hoursBack, limit int) ([]*models.Account, error)
	SelectAll(ctx context.Context) ([]*models.Account, error)
	RecomputeTiers(ctx context.Context) (int64, error)
}

// Crawling drains a set of accounts through the feed gateway.
type Crawling interface {
	Crawl(ctx context.Context, accounts []*models.Account) crawler.Result
}

// Enriching runs LLM analysis over pending posts.
type Enriching interface {
	Run(ctx context.Context, limit, hoursBack int) (insights.Result, error)
}

// Profiling writes profile documents for due accounts.
type Profiling interface {
	Run(ctx context.Context, limit, days int) (profiling.Result, error)
}

// Reporting synthesizes window and per-account reports.
type Reporting interface {
	Run(ctx context.Context, opts report.Options) (report.Result, error)
	KOLReport(ctx context.Context, accountID int64, days int) (*report.KOLResult, error)
}

// Run is the metadata common to every task result.
type Run struct {
	RunID   string  `json:"run_id"`
	Task    string  `json:"task"`
	Success bool    `json:"success"`
	Error   string  `json:"error,omitempty"`
	Elapsed float64 `json:"elapsed_seconds"`
}

// CrawlResult is the outcome of the tiered, full and scavenger crawls.
type CrawlResult struct {
	Run
	Tier        string         `json:"tier,omitempty"`
	QuietWindow bool           `json:"quiet_window,omitempty"`
	Selected    int            `json:"selected"`
	Crawl       crawler.Result `json:"crawl"`
}

// TierResult is the outcome of the tier reclassification task.
type TierResult struct {
	Run
	Reclassified int64 `json:"reclassified"`
}

// InsightsResult is the outcome of one enrichment task.
type InsightsResult struct {
	Run
	Insights insights.Result `json:"insights"`
}

// ProfilingResult is the outcome of one profiling task.
type ProfilingResult struct {
	Run
	Profiling profiling.Result `json:"profiling"`
}

// ReportResult is the outcome of one report synthesis task.
type ReportResult struct {
	Run
	Report report.Result `json:"report"`
}

// KOLResult is the outcome of one per-account report task.
type KOLResult struct {
	Run
	Report *report.KOLResult `json:"report,omitempty"`
}

// PipelineResult is the outcome of the full analysis pipeline.
type PipelineResult struct {
	Run
	Insights  *InsightsResult  `json:"insights,omitempty"`
	Profiling *ProfilingResult `json:"profiling,omitempty"`
	Report    *ReportResult    `json:"report,omitempty"`
}

// AnalysisParams parameterizes the full analysis pipeline.
type AnalysisParams struct {
	BatchSize   int
	HoursBack   int
	UserLimit   int
	Days        int
	Hours       int
	ReportLimit int
	Flow        string
	ExcludeTags []string
}

// Runner wires the pipeline stages into the CLI task surface.
type Runner struct {
	scheduler Scheduling
	crawler   Crawling
	enricher  Enriching
	analyzer  Profiling
	reports   Reporting
	collector *metrics.JobCollector
	cfg       config.SchedulerConfig
	logger    *slog.Logger
	now       func() time.Time
}

// NewRunner builds the task runner. collector may be nil.
func NewRunner(scheduler Scheduling, crawler Crawling, enricher Enriching, analyzer Profiling, reports Reporting, collector *metrics.JobCollector, cfg config.SchedulerConfig, logger *slog.Logger) *Runner {
	return &Runner{
		scheduler: scheduler,
		crawler:   crawler,
		enricher:  enricher,
		analyzer:  analyzer,
		reports:   reports,
		collector: collector,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

func newRun(task string) Run {
	return Run{RunID: uuid.NewString(), Task: task}
}

func (r *Runner) finish(run *Run, start time.Time) {
	run.Elapsed = time.Since(start).Seconds()
	if r.collector != nil {
		r.collector.RecordJobDuration(run.Task, time.Since(start))
	}
}

// HighFreq crawls due high-tier accounts.
func (r *Runner) HighFreq(ctx context.Context) *CrawlResult {
	return r.tierCrawl(ctx, "high_freq", models.TierHigh)
}

// MediumFreq crawls due medium-tier accounts.
func (r *Runner) MediumFreq(ctx context.Context) *CrawlResult {
	return r.tierCrawl(ctx, "medium_freq", models.TierMedium)
}

// LowFreq crawls due low-tier accounts.
func (r *Runner) LowFreq(ctx context.Context) *CrawlResult {
	return r.tierCrawl(ctx, "low_freq", models.TierLow)
}

func (r *Runner) tierCrawl(ctx context.Context, task string, tier models.Tier) *CrawlResult {
	result := &CrawlResult{Run: newRun(task), Tier: string(tier)}
	start := r.now()
	defer r.finish(&result.Run, start)

	if r.scheduler.InQuietWindow(start) {
		r.logger.Info("quiet window active, skipping crawl", "task", task)
		result.QuietWindow = true
		result.Success = true
		return result
	}

	accounts, err := r.scheduler.SelectDue(ctx, tier, r.cfg.TierLimit(string(tier)))
	if err != nil {
		result.Error = err.Error()
		return result
	}

	result.Selected = len(accounts)
	result.Crawl = r.crawler.Crawl(ctx, accounts)
	r.recordCrawl(result.Crawl)
	result.Success = true
	return result
}

// FullCrawl crawls every active account regardless of schedule. The quiet
// window still applies.
func (r *Runner) FullCrawl(ctx context.Context) *CrawlResult {
	result := &CrawlResult{Run: newRun("full_crawl")}
	start := r.now()
	defer r.finish(&result.Run, start)

	if r.scheduler.InQuietWindow(start) {
		r.logger.Info("quiet window active, skipping full crawl")
		result.QuietWindow = true
		result.Success = true
		return result
	}

	accounts, err := r.scheduler.SelectAll(ctx)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	result.Selected = len(accounts)
	result.Crawl = r.crawler.Crawl(ctx, accounts)
	r.recordCrawl(result.Crawl)
	result.Success = true
	return result
}

// Scavenger picks up accounts whose schedule slipped far into the past. As
// a safety net it runs even inside the quiet window.
func (r *Runner) Scavenger(ctx context.Context, hoursBack, limit int) *CrawlResult {
	result := &CrawlResult{Run: newRun("scavenger")}
	start := r.now()
	defer r.finish(&result.Run, start)

	accounts, err := r.scheduler.SelectStale(ctx, hoursBack, limit)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	result.Selected = len(accounts)
	result.Crawl = r.crawler.Crawl(ctx, accounts)
	r.recordCrawl(result.Crawl)
	result.Success = true
	return result
}

// UserProfiling reclassifies account tiers from recent posting rates.
func (r *Runner) UserProfiling(ctx context.Context) *TierResult {
	result := &TierResult{Run: newRun("user_profiling")}
	start := r.now()
	defer r.finish(&result.Run, start)

	reclassified, err := r.scheduler.RecomputeTiers(ctx)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	result.Reclassified = reclassified
	result.Success = true
	return result
}

// PostInsights enriches pending posts.
func (r *Runner) PostInsights(ctx context.Context, limit, hoursBack int) *InsightsResult {
	result := &InsightsResult{Run: newRun("post_insights")}
	start := r.now()
	defer r.finish(&result.Run, start)

	insightsResult, err := r.enricher.Run(ctx, limit, hoursBack)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	result.Insights = insightsResult
	if r.collector != nil {
		r.collector.RecordEnrichments(insightsResult.Completed, insightsResult.Failed)
	}
	result.Success = true
	return result
}

// UserAnalysis refreshes profile documents for due accounts.
func (r *Runner) UserAnalysis(ctx context.Context, userLimit, days int) *ProfilingResult {
	result := &ProfilingResult{Run: newRun("user_analysis")}
	start := r.now()
	defer r.finish(&result.Run, start)

	profilingResult, err := r.analyzer.Run(ctx, userLimit, days)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	result.Profiling = profilingResult
	result.Success = true
	return result
}

// IntelligenceReport synthesizes the window report for the given flow.
func (r *Runner) IntelligenceReport(ctx context.Context, hours, limit int, flow string, excludeTags []string) *ReportResult {
	result := &ReportResult{Run: newRun("intelligence_report")}
	start := r.now()
	defer r.finish(&result.Run, start)

	reportResult, err := r.reports.Run(ctx, report.Options{
		Flow:        flow,
		Hours:       hours,
		Limit:       limit,
		ExcludeTags: excludeTags,
	})
	if err != nil {
		result.Error = err.Error()
		return result
	}

	result.Report = reportResult
	if r.collector != nil {
		r.collector.RecordReports(reportResult.Succeeded, reportResult.Failed)
	}
	result.Success = reportResult.Success()
	if !result.Success {
		result.Error = "all report models failed"
	}
	return result
}

// KOLReport writes the per-account monthly report.
func (r *Runner) KOLReport(ctx context.Context, accountID int64, days int) *KOLResult {
	result := &KOLResult{Run: newRun("kol_report")}
	start := r.now()
	defer r.finish(&result.Run, start)

	kolResult, err := r.reports.KOLReport(ctx, accountID, days)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	result.Report = kolResult
	result.Success = true
	return result
}

// FullAnalysis runs enrichment, profiling and report synthesis as one
// pipeline. An enrichment failure aborts; a profiling failure is logged and
// the pipeline continues to the report.
func (r *Runner) FullAnalysis(ctx context.Context, params AnalysisParams) *PipelineResult {
	result := &PipelineResult{Run: newRun("full_analysis")}
	start := r.now()
	defer r.finish(&result.Run, start)

	insightsResult := r.PostInsights(ctx, params.BatchSize, params.HoursBack)
	result.Insights = insightsResult
	if !insightsResult.Success {
		result.Error = fmt.Sprintf("enrichment stage failed: %s", insightsResult.Error)
		return result
	}

	profilingResult := r.UserAnalysis(ctx, params.UserLimit, params.Days)
	result.Profiling = profilingResult
	if !profilingResult.Success {
		r.logger.Warn("profiling stage failed, continuing to report", "error", profilingResult.Error)
	}

	reportResult := r.IntelligenceReport(ctx, params.Hours, params.ReportLimit, params.Flow, params.ExcludeTags)
	result.Report = reportResult
	result.Success = reportResult.Success
	result.Error = reportResult.Error
	return result
}

func (r *Runner) recordCrawl(res crawler.Result) {
	if r.collector != nil {
		r.collector.RecordFetches(res.Succeeded, res.Failed, res.PostsInserted)
	}
}
