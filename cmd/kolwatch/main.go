package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/kolwatch/kolwatch/internal/config"
	"github.com/kolwatch/kolwatch/internal/crawler"
	"github.com/kolwatch/kolwatch/internal/database"
	"github.com/kolwatch/kolwatch/internal/gateway"
	"github.com/kolwatch/kolwatch/internal/imaging"
	"github.com/kolwatch/kolwatch/internal/insights"
	"github.com/kolwatch/kolwatch/internal/llm"
	"github.com/kolwatch/kolwatch/internal/logging"
	"github.com/kolwatch/kolwatch/internal/metrics"
	"github.com/kolwatch/kolwatch/internal/notion"
	"github.com/kolwatch/kolwatch/internal/profiling"
	"github.com/kolwatch/kolwatch/internal/report"
	"github.com/kolwatch/kolwatch/internal/scheduler"
	"github.com/kolwatch/kolwatch/internal/tasks"
	_ "github.com/lib/pq"
	"log/slog"
)

var knownTasks = []string{
	"high_freq", "medium_freq", "low_freq", "full_crawl", "scavenger",
	"user_profiling", "post_insights", "user_analysis",
	"intelligence_report", "kol_report", "full_analysis",
}

func main() {
	os.Exit(run())
}

func run() int {
	var (
		task        = flag.String("task", "", "task to run: "+strings.Join(knownTasks, ", "))
		output      = flag.String("output", "json", "result format: json or text")
		recreateDB  = flag.Bool("recreate-db", false, "drop and re-create the schema before running")
		maxWorkers  = flag.Int("max-workers", 0, "override the crawl worker count")
		limit       = flag.Int("limit", 0, "override the per-tier account cap for crawl tasks")
		batchSize   = flag.Int("batch-size", 1000, "max posts to enrich per run")
		userLimit   = flag.Int("user-limit", 50, "max accounts per analysis or scavenger run")
		days        = flag.Int("days", 30, "lookback window in days for user analysis and kol reports")
		hours       = flag.Int("hours", 24, "report window in hours")
		reportLimit = flag.Int("report-limit", 300, "max posts packed into a report")
		flow        = flag.String("flow", report.FlowDual, "report flow: dual, light, deep or intelligence")
		hoursBack   = flag.Int("hours-back", 36, "enrichment claim and scavenger lookback in hours")
		userID      = flag.Int64("user-id", 0, "account id for kol_report")
		excludeTags = flag.String("exclude-tags", "", "comma-separated tags excluded from reports")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to load config", "error", err)
		return 1
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to init logger", "error", err)
		return 1
	}

	if *task == "" || !isKnownTask(*task) {
		logger.Error("unknown or missing --task", "task", *task, "available", knownTasks)
		return 1
	}
	if *task == "kol_report" && *userID <= 0 {
		logger.Error("kol_report requires --user-id")
		return 1
	}

	// CLI beats environment and file for worker sizing and tier caps.
	if *maxWorkers > 0 {
		cfg.Workers.CrawlWorkers = *maxWorkers
	}
	applyTierLimit(&cfg.Scheduler, *limit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbCfg := database.DefaultConfig()
	dbCfg.URL = cfg.Database.URL()
	db, err := database.Connect(ctx, dbCfg)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return 1
	}
	defer db.Close()

	if *recreateDB {
		logger.Warn("recreating database schema")
		if err := database.RecreateSchema(ctx, db); err != nil {
			logger.Error("failed to recreate schema", "error", err)
			return 1
		}
	}
	if err := database.InitializeSchema(ctx, db); err != nil {
		logger.Error("failed to initialize schema", "error", err)
		return 1
	}

	accountRepo := database.NewAccountRepository(db)
	postRepo := database.NewPostRepository(db)
	enrichmentRepo := database.NewEnrichmentRepository(db)
	profileRepo := database.NewProfileRepository(db)
	reportRepo := database.NewReportRepository(db)

	sched := scheduler.New(accountRepo, cfg.Scheduler, logger)
	feed := gateway.NewClient(cfg.Gateway, logger)
	fetcher := crawler.New(feed, postRepo, sched, cfg.Workers, logger)

	collector, err := metrics.NewJobCollector()
	if err != nil {
		logger.Error("failed to build metrics collector", "error", err)
		return 1
	}
	if cfg.Metrics.ListenAddr != "" {
		go collector.Serve(ctx, cfg.Metrics.ListenAddr, logger)
	}

	// Model-backed stages are wired only for the tasks that use them, so
	// crawl-only runs do not require an API key.
	var (
		enricher tasks.Enriching
		analyzer tasks.Profiling
		reporter tasks.Reporting
	)
	if needsModels(*task) {
		model, err := llm.NewClient(cfg.LLM, logger)
		if err != nil {
			logger.Error("failed to build model client", "error", err)
			return 1
		}

		images := imaging.NewProcessor(cfg.Workers.ImageWorkers, cfg.Gateway.RequestTimeout, logger)
		enricher = insights.NewEnricher(enrichmentRepo, model, images, cfg.LLM, cfg.Workers, logger)
		analyzer = profiling.NewAnalyzer(profileRepo, enrichmentRepo, model, logger)

		var publisher report.Publisher
		if notionClient := notion.NewClient(cfg.Notion, logger); notionClient != nil {
			publisher = notionClient
		}
		reporter = report.NewSynthesizer(enrichmentRepo, accountRepo, profileRepo, reportRepo,
			model, publisher, cfg.LLM, cfg.Scoring, logger)
	}

	runner := tasks.NewRunner(sched, fetcher, enricher, analyzer, reporter, collector, cfg.Scheduler, logger)

	var (
		result  any
		success bool
	)
	switch *task {
	case "high_freq":
		res := runner.HighFreq(ctx)
		result, success = res, res.Success
	case "medium_freq":
		res := runner.MediumFreq(ctx)
		result, success = res, res.Success
	case "low_freq":
		res := runner.LowFreq(ctx)
		result, success = res, res.Success
	case "full_crawl":
		res := runner.FullCrawl(ctx)
		result, success = res, res.Success
	case "scavenger":
		res := runner.Scavenger(ctx, *hoursBack, *userLimit)
		result, success = res, res.Success
	case "user_profiling":
		res := runner.UserProfiling(ctx)
		result, success = res, res.Success
	case "post_insights":
		res := runner.PostInsights(ctx, *batchSize, *hoursBack)
		result, success = res, res.Success
	case "user_analysis":
		res := runner.UserAnalysis(ctx, *userLimit, *days)
		result, success = res, res.Success
	case "intelligence_report":
		res := runner.IntelligenceReport(ctx, *hours, *reportLimit, *flow, splitTags(*excludeTags))
		result, success = res, res.Success
	case "kol_report":
		res := runner.KOLReport(ctx, *userID, *days)
		result, success = res, res.Success
	case "full_analysis":
		res := runner.FullAnalysis(ctx, tasks.AnalysisParams{
			BatchSize:   *batchSize,
			HoursBack:   *hoursBack,
			UserLimit:   *userLimit,
			Days:        *days,
			Hours:       *hours,
			ReportLimit: *reportLimit,
			Flow:        *flow,
			ExcludeTags: splitTags(*excludeTags),
		})
		result, success = res, res.Success
	}

	if err := printResult(*output, result); err != nil {
		logger.Error("failed to print result", "error", err)
		return 1
	}
	if !success {
		return 1
	}
	return 0
}

func isKnownTask(task string) bool {
	for _, known := range knownTasks {
		if task == known {
			return true
		}
	}
	return false
}

func needsModels(task string) bool {
	switch task {
	case "post_insights", "user_analysis", "intelligence_report", "kol_report", "full_analysis":
		return true
	}
	return false
}

// applyTierLimit caps every tier's per-run account count when the --limit
// flag is set.
func applyTierLimit(s *config.SchedulerConfig, limit int) {
	if limit <= 0 {
		return
	}
	s.HighLimit = limit
	s.MediumLimit = limit
	s.LowLimit = limit
}

func splitTags(raw string) []string {
	if raw == "" {
		return nil
	}
	var tags []string
	for _, tag := range strings.Split(raw, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

func printResult(format string, result any) error {
	switch format {
	case "json":
		encoded, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(encoded))
		return nil
	case "text":
		fmt.Printf("%+v\n", result)
		return nil
	}
	return fmt.Errorf("unknown output format %q", format)
}
