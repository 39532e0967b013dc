package tasks

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/kolwatch/kolwatch/internal/config"
	"github.com/kolwatch/kolwatch/internal/crawler"
	"github.com/kolwatch/kolwatch/internal/insights"
	"github.com/kolwatch/kolwatch/internal/models"
	"github.com/kolwatch/kolwatch/internal/profiling"
	"github.com/kolwatch/kolwatch/internal/report"
)

type fakeScheduler struct {
	quiet        bool
	due          []*models.Account
	stale        []*models.Account
	all          []*models.Account
	reclassified int64
	selectCalls  int
	selectErr    error
}

func (f *fakeScheduler) InQuietWindow(t time.Time) bool { return f.quiet }

func (f *fakeScheduler) SelectDue(ctx context.Context, tier models.Tier, limit int) ([]*models.Account, error) {
	f.selectCalls++
	return f.due, f.selectErr
}

func (f *fakeScheduler) SelectStale(ctx context.Context, hoursBack, limit int) ([]*models.Account, error) {
	f.selectCalls++
	return f.stale, nil
}

func (f *fakeScheduler) SelectAll(ctx context.Context) ([]*models.Account, error) {
	f.selectCalls++
	return f.all, nil
}

func (f *fakeScheduler) RecomputeTiers(ctx context.Context) (int64, error) {
	return f.reclassified, nil
}

type fakeCrawler struct {
	result crawler.Result
	calls  int
}

func (f *fakeCrawler) Crawl(ctx context.Context, accounts []*models.Account) crawler.Result {
	f.calls++
	res := f.result
	res.Processed = len(accounts)
	return res
}

type fakeEnricher struct {
	result insights.Result
	err    error
	calls  int
}

func (f *fakeEnricher) Run(ctx context.Context, limit, hoursBack int) (insights.Result, error) {
	f.calls++
	return f.result, f.err
}

type fakeAnalyzer struct {
	result profiling.Result
	err    error
	calls  int
}

func (f *fakeAnalyzer) Run(ctx context.Context, limit, days int) (profiling.Result, error) {
	f.calls++
	return f.result, f.err
}

type fakeReporter struct {
	result    report.Result
	runErr    error
	kolResult *report.KOLResult
	kolErr    error
	runCalls  int
}

func (f *fakeReporter) Run(ctx context.Context, opts report.Options) (report.Result, error) {
	f.runCalls++
	return f.result, f.runErr
}

func (f *fakeReporter) KOLReport(ctx context.Context, accountID int64, days int) (*report.KOLResult, error) {
	return f.kolResult, f.kolErr
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func schedulerConfig() config.SchedulerConfig {
	return config.SchedulerConfig{
		HighLimit:      50,
		MediumLimit:    200,
		LowLimit:       300,
		QuietStartHour: 17,
		QuietEndHour:   22,
	}
}

func newTestRunner(sched *fakeScheduler, crawl *fakeCrawler, enrich *fakeEnricher, analyze *fakeAnalyzer, rep *fakeReporter) *Runner {
	return NewRunner(sched, crawl, enrich, analyze, rep, nil, schedulerConfig(), testLogger())
}

func TestTierCrawlQuietWindowSkips(t *testing.T) {
	sched := &fakeScheduler{quiet: true}
	crawl := &fakeCrawler{}

	r := newTestRunner(sched, crawl, &fakeEnricher{}, &fakeAnalyzer{}, &fakeReporter{})
	result := r.HighFreq(context.Background())

	if !result.Success || !result.QuietWindow {
		t.Errorf("quiet window should be a zero-work success: %+v", result)
	}
	if sched.selectCalls != 0 || crawl.calls != 0 {
		t.Error("quiet window must not select or crawl")
	}
	if result.Crawl.Processed != 0 {
		t.Errorf("expected zero counters, got %+v", result.Crawl)
	}
}

func TestTierCrawlRuns(t *testing.T) {
	sched := &fakeScheduler{due: []*models.Account{{ID: 1, Handle: "a"}, {ID: 2, Handle: "b"}}}
	crawl := &fakeCrawler{result: crawler.Result{Succeeded: 2, PostsInserted: 5}}

	r := newTestRunner(sched, crawl, &fakeEnricher{}, &fakeAnalyzer{}, &fakeReporter{})
	result := r.MediumFreq(context.Background())

	if !result.Success || result.Selected != 2 {
		t.Errorf("unexpected result: %+v", result)
	}
	if result.Tier != "medium" {
		t.Errorf("expected medium tier, got %q", result.Tier)
	}
	if result.Crawl.PostsInserted != 5 {
		t.Errorf("crawl counters not propagated: %+v", result.Crawl)
	}
	if result.RunID == "" || result.Task != "medium_freq" {
		t.Errorf("missing run metadata: %+v", result.Run)
	}
}

func TestTierCrawlSelectError(t *testing.T) {
	sched := &fakeScheduler{selectErr: errors.New("db down")}

	r := newTestRunner(sched, &fakeCrawler{}, &fakeEnricher{}, &fakeAnalyzer{}, &fakeReporter{})
	result := r.LowFreq(context.Background())

	if result.Success || result.Error == "" {
		t.Errorf("expected failure: %+v", result)
	}
}

func TestScavengerIgnoresQuietWindow(t *testing.T) {
	sched := &fakeScheduler{quiet: true, stale: []*models.Account{{ID: 1, Handle: "late"}}}
	crawl := &fakeCrawler{}

	r := newTestRunner(sched, crawl, &fakeEnricher{}, &fakeAnalyzer{}, &fakeReporter{})
	result := r.Scavenger(context.Background(), 36, 50)

	if !result.Success || result.Selected != 1 || crawl.calls != 1 {
		t.Errorf("scavenger should run inside the quiet window: %+v", result)
	}
}

func TestFullCrawlQuietWindowSkips(t *testing.T) {
	sched := &fakeScheduler{quiet: true, all: []*models.Account{{ID: 1}}}
	crawl := &fakeCrawler{}

	r := newTestRunner(sched, crawl, &fakeEnricher{}, &fakeAnalyzer{}, &fakeReporter{})
	result := r.FullCrawl(context.Background())

	if !result.Success || !result.QuietWindow || crawl.calls != 0 {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestUserProfilingRunsTierRecompute(t *testing.T) {
	sched := &fakeScheduler{reclassified: 17}
	analyze := &fakeAnalyzer{}

	r := newTestRunner(sched, &fakeCrawler{}, &fakeEnricher{}, analyze, &fakeReporter{})
	result := r.UserProfiling(context.Background())

	if !result.Success || result.Reclassified != 17 {
		t.Errorf("unexpected result: %+v", result)
	}
	if result.Task != "user_profiling" {
		t.Errorf("expected task user_profiling, got %q", result.Task)
	}
	if analyze.calls != 0 {
		t.Errorf("user_profiling must not run the profile analyzer (%d calls)", analyze.calls)
	}
}

func TestUserAnalysisRunsProfileAnalyzer(t *testing.T) {
	analyze := &fakeAnalyzer{result: profiling.Result{Selected: 3, Profiled: 2, Failed: 1}}

	r := newTestRunner(&fakeScheduler{}, &fakeCrawler{}, &fakeEnricher{}, analyze, &fakeReporter{})
	result := r.UserAnalysis(context.Background(), 50, 30)

	if !result.Success || result.Profiling.Profiled != 2 {
		t.Errorf("unexpected result: %+v", result)
	}
	if result.Task != "user_analysis" {
		t.Errorf("expected task user_analysis, got %q", result.Task)
	}
	if analyze.calls != 1 {
		t.Errorf("expected one analyzer run, got %d", analyze.calls)
	}
}

func TestPostInsights(t *testing.T) {
	enrich := &fakeEnricher{result: insights.Result{Claimed: 10, Completed: 8, Failed: 2}}

	r := newTestRunner(&fakeScheduler{}, &fakeCrawler{}, enrich, &fakeAnalyzer{}, &fakeReporter{})
	result := r.PostInsights(context.Background(), 1000, 36)

	if !result.Success || result.Insights.Completed != 8 {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestIntelligenceReportAllModelsFailed(t *testing.T) {
	rep := &fakeReporter{result: report.Result{
		Outcomes: []report.Outcome{{Model: "a", Error: "x"}},
		Failed:   1,
	}}

	r := newTestRunner(&fakeScheduler{}, &fakeCrawler{}, &fakeEnricher{}, &fakeAnalyzer{}, rep)
	result := r.IntelligenceReport(context.Background(), 24, 300, report.FlowDual, nil)

	if result.Success {
		t.Errorf("expected failure when every model failed: %+v", result)
	}
}

func TestKOLReport(t *testing.T) {
	rep := &fakeReporter{kolResult: &report.KOLResult{AccountID: 7, Handle: "alice", ReportID: 3}}

	r := newTestRunner(&fakeScheduler{}, &fakeCrawler{}, &fakeEnricher{}, &fakeAnalyzer{}, rep)
	result := r.KOLReport(context.Background(), 7, 30)

	if !result.Success || result.Report.ReportID != 3 {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestFullAnalysisAbortsOnEnrichmentFailure(t *testing.T) {
	enrich := &fakeEnricher{err: errors.New("claim failed")}
	analyze := &fakeAnalyzer{}
	rep := &fakeReporter{}

	r := newTestRunner(&fakeScheduler{}, &fakeCrawler{}, enrich, analyze, rep)
	result := r.FullAnalysis(context.Background(), AnalysisParams{Flow: report.FlowDual})

	if result.Success {
		t.Error("expected pipeline failure")
	}
	if analyze.calls != 0 || rep.runCalls != 0 {
		t.Error("enrichment failure must abort the pipeline")
	}
}

func TestFullAnalysisContinuesPastProfilingFailure(t *testing.T) {
	enrich := &fakeEnricher{result: insights.Result{Completed: 1}}
	analyze := &fakeAnalyzer{err: errors.New("profiling down")}
	rep := &fakeReporter{result: report.Result{
		Outcomes:  []report.Outcome{{Model: "a", ReportID: 1}},
		Succeeded: 1,
	}}

	r := newTestRunner(&fakeScheduler{}, &fakeCrawler{}, enrich, analyze, rep)
	result := r.FullAnalysis(context.Background(), AnalysisParams{Flow: report.FlowDual})

	if !result.Success {
		t.Errorf("profiling failure must not fail the pipeline: %+v", result)
	}
	if rep.runCalls != 1 {
		t.Error("expected report stage to run")
	}
	if result.Profiling == nil || result.Profiling.Success {
		t.Error("expected recorded profiling failure")
	}
}

func TestRunIDsAreUnique(t *testing.T) {
	r := newTestRunner(&fakeScheduler{}, &fakeCrawler{}, &fakeEnricher{}, &fakeAnalyzer{}, &fakeReporter{})

	first := r.UserProfiling(context.Background())
	second := r.UserProfiling(context.Background())

	if first.RunID == "" || first.RunID == second.RunID {
		t.Errorf("expected unique run ids, got %q and %q", first.RunID, second.RunID)
	}
}
