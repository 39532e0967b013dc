package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents runtime configuration. Values resolve with precedence
// environment > config file > default.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Workers   WorkerConfig    `yaml:"workers"`
	LLM       LLMConfig       `yaml:"llm"`
	Scoring   ScoringConfig   `yaml:"scoring"`
	Notion    NotionConfig    `yaml:"notion"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// DatabaseConfig holds relational store connection parameters.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

// URL renders the connection string for the postgres driver.
func (c DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

// GatewayConfig points at the RSS gateway. Durations come in from yaml as
// integer fields in the same units the environment variables use.
type GatewayConfig struct {
	BaseURL        string        `yaml:"base_url"`
	Token          string        `yaml:"token"`
	RequestTimeout time.Duration `yaml:"-"`

	// RequestTimeoutSeconds is the yaml-facing form of RequestTimeout.
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds"`
}

// SchedulerConfig drives the per-account fetch cadence and failure isolation.
type SchedulerConfig struct {
	HighInterval   time.Duration `yaml:"-"`
	MediumInterval time.Duration `yaml:"-"`
	LowInterval    time.Duration `yaml:"-"`

	HighLimit   int `yaml:"high_limit"`
	MediumLimit int `yaml:"medium_limit"`
	LowLimit    int `yaml:"low_limit"`

	MaxFailures   int           `yaml:"max_failures"`
	RetryDelayMin time.Duration `yaml:"-"`
	RetryDelayMax time.Duration `yaml:"-"`

	// Quiet window, inclusive UTC hours during which no fetching happens.
	QuietStartHour int `yaml:"quiet_start_hour"`
	QuietEndHour   int `yaml:"quiet_end_hour"`

	// Yaml-facing minute forms of the durations above.
	HighIntervalMinutes   int `yaml:"high_interval_minutes"`
	MediumIntervalMinutes int `yaml:"medium_interval_minutes"`
	LowIntervalMinutes    int `yaml:"low_interval_minutes"`
	RetryDelayMinMinutes  int `yaml:"retry_delay_min_minutes"`
	RetryDelayMaxMinutes  int `yaml:"retry_delay_max_minutes"`
}

// WorkerConfig sizes the worker pools and the anti-burst jitter.
type WorkerConfig struct {
	CrawlWorkers  int `yaml:"crawl_workers"`
	TextWorkers   int `yaml:"text_workers"`
	VisionWorkers int `yaml:"vision_workers"`
	ImageWorkers  int `yaml:"image_workers"`

	SerialJitterMin time.Duration `yaml:"-"`
	SerialJitterMax time.Duration `yaml:"-"`
	BatchJitterMin  time.Duration `yaml:"-"`
	BatchJitterMax  time.Duration `yaml:"-"`

	// Yaml-facing second forms of the jitter bounds above.
	SerialJitterMinSeconds int `yaml:"serial_jitter_min_seconds"`
	SerialJitterMaxSeconds int `yaml:"serial_jitter_max_seconds"`
	BatchJitterMinSeconds  int `yaml:"batch_jitter_min_seconds"`
	BatchJitterMaxSeconds  int `yaml:"batch_jitter_max_seconds"`
}

// LLMConfig names the model endpoints and context budgets.
type LLMConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`

	FastModel      string   `yaml:"fast_model"`
	VisionModel    string   `yaml:"vision_model"`
	VisionFallback string   `yaml:"vision_fallback"`
	SmartModel     string   `yaml:"smart_model"`
	ReportModels   []string `yaml:"report_models"`

	MaxContentChars       int `yaml:"max_content_chars"`
	ReportMaxContentChars int `yaml:"report_max_content_chars"`
	MaxRetries            int `yaml:"max_retries"`
}

// ScoringConfig parameterizes the deterministic value scorer.
type ScoringConfig struct {
	Base               float64            `yaml:"base"`
	ContentTypeScores  map[string]float64 `yaml:"content_type_scores"`
	TagScores          map[string]float64 `yaml:"tag_scores"`
	BodyLengthWeight   float64            `yaml:"body_length_weight"`
	InterpLengthWeight float64            `yaml:"interp_length_weight"`
	MediaBonus         float64            `yaml:"media_bonus"`
	LinkBonus          float64            `yaml:"link_bonus"`
}

// NotionConfig configures the best-effort note-service publisher.
type NotionConfig struct {
	Token      string `yaml:"token"`
	DatabaseID string `yaml:"database_id"`
}

// LoggingConfig represents structured logging configuration.
type LoggingConfig struct {
	Level  slog.Level `yaml:"-"`
	Format string     `yaml:"format"`
	File   string     `yaml:"file"`

	// LevelName is the yaml-facing form of Level.
	LevelName string `yaml:"level"`
}

// MetricsConfig controls the optional Prometheus listener.
type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

const defaultGatewayBaseURL = "https://xman1024-info.hf.space"

func defaults() Config {
	return Config{
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			User:    "kolwatch",
			Name:    "kolwatch",
			SSLMode: "disable",
		},
		Gateway: GatewayConfig{
			BaseURL:        defaultGatewayBaseURL,
			RequestTimeout: 30 * time.Second,
		},
		Scheduler: SchedulerConfig{
			HighInterval:   20 * time.Minute,
			MediumInterval: 90 * time.Minute,
			LowInterval:    5 * time.Hour,
			HighLimit:      50,
			MediumLimit:    200,
			LowLimit:       300,
			MaxFailures:    5,
			RetryDelayMin:  15 * time.Minute,
			RetryDelayMax:  25 * time.Minute,
			QuietStartHour: 17,
			QuietEndHour:   22,
		},
		Workers: WorkerConfig{
			CrawlWorkers:    1,
			TextWorkers:     8,
			VisionWorkers:   8,
			ImageWorkers:    12,
			SerialJitterMin: 6 * time.Second,
			SerialJitterMax: 12 * time.Second,
			BatchJitterMin:  60 * time.Second,
			BatchJitterMax:  120 * time.Second,
		},
		LLM: LLMConfig{
			FastModel:             "gpt-3.5-turbo-16k",
			VisionModel:           "gpt-4-vision-preview",
			VisionFallback:        "gpt-4-turbo",
			SmartModel:            "gpt-4-turbo",
			ReportModels:          []string{"gpt-4-turbo"},
			MaxContentChars:       100000,
			ReportMaxContentChars: 380000,
			MaxRetries:            3,
		},
		Scoring: ScoringConfig{
			Base:               1.0,
			ContentTypeScores:  DefaultContentTypeScores(),
			TagScores:          DefaultTagScores(),
			BodyLengthWeight:   0.002,
			InterpLengthWeight: 0.001,
			MediaBonus:         0.5,
			LinkBonus:          0.3,
		},
		Logging: LoggingConfig{
			Level:     slog.LevelInfo,
			LevelName: "info",
			Format:    "json",
		},
	}
}

// DefaultContentTypeScores weights the closed content-type vocabulary.
func DefaultContentTypeScores() map[string]float64 {
	return map[string]float64{
		"教程/指南":   2.0,
		"观点/评论":   1.5,
		"读书/学习笔记": 1.8,
		"项目更新":    1.2,
		"提问/求助":   0.5,
		"新闻/快讯":   1.0,
	}
}

// DefaultTagScores weights the closed tag vocabulary.
func DefaultTagScores() map[string]float64 {
	return map[string]float64{
		"技术讨论": 1.5,
		"产品发布": 1.3,
		"行业观察": 1.2,
		"投资分析": 1.2,
		"创业心路": 0.8,
		"工具推荐": 1.0,
		"资源分享": 1.0,
		"生活感悟": 0.3,
		"时事评论": 0.6,
	}
}

// Load resolves configuration from an optional YAML file (CONFIG_FILE, or
// ./config.yaml if present) overlaid by environment variables.
func Load() (Config, error) {
	cfg := defaults()

	path := getEnv("CONFIG_FILE", "config.yaml")
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	} else if os.Getenv("CONFIG_FILE") != "" {
		// An explicitly named file must exist.
		return Config{}, fmt.Errorf("read config file %s: %w", path, err)
	}

	if err := applyFileDurations(&cfg); err != nil {
		return Config{}, err
	}

	if cfg.Logging.LevelName != "" {
		level, err := parseLogLevel(cfg.Logging.LevelName)
		if err != nil {
			return Config{}, fmt.Errorf("invalid logging.level: %w", err)
		}
		cfg.Logging.Level = level
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// applyFileDurations converts the yaml-facing integer duration fields into
// their time.Duration counterparts. Absent fields (zero) keep the defaults.
func applyFileDurations(cfg *Config) error {
	fields := []struct {
		key  string
		src  int
		unit time.Duration
		dst  *time.Duration
	}{
		{"gateway.request_timeout_seconds", cfg.Gateway.RequestTimeoutSeconds, time.Second, &cfg.Gateway.RequestTimeout},
		{"scheduler.high_interval_minutes", cfg.Scheduler.HighIntervalMinutes, time.Minute, &cfg.Scheduler.HighInterval},
		{"scheduler.medium_interval_minutes", cfg.Scheduler.MediumIntervalMinutes, time.Minute, &cfg.Scheduler.MediumInterval},
		{"scheduler.low_interval_minutes", cfg.Scheduler.LowIntervalMinutes, time.Minute, &cfg.Scheduler.LowInterval},
		{"scheduler.retry_delay_min_minutes", cfg.Scheduler.RetryDelayMinMinutes, time.Minute, &cfg.Scheduler.RetryDelayMin},
		{"scheduler.retry_delay_max_minutes", cfg.Scheduler.RetryDelayMaxMinutes, time.Minute, &cfg.Scheduler.RetryDelayMax},
		{"workers.serial_jitter_min_seconds", cfg.Workers.SerialJitterMinSeconds, time.Second, &cfg.Workers.SerialJitterMin},
		{"workers.serial_jitter_max_seconds", cfg.Workers.SerialJitterMaxSeconds, time.Second, &cfg.Workers.SerialJitterMax},
		{"workers.batch_jitter_min_seconds", cfg.Workers.BatchJitterMinSeconds, time.Second, &cfg.Workers.BatchJitterMin},
		{"workers.batch_jitter_max_seconds", cfg.Workers.BatchJitterMaxSeconds, time.Second, &cfg.Workers.BatchJitterMax},
	}
	for _, f := range fields {
		if f.src < 0 {
			return fmt.Errorf("invalid %s: must be non-negative", f.key)
		}
		if f.src > 0 {
			*f.dst = time.Duration(f.src) * f.unit
		}
	}
	return nil
}

func applyEnv(cfg *Config) error {
	cfg.Database.Host = getEnv("DB_HOST", cfg.Database.Host)
	cfg.Database.User = getEnv("DB_USER", cfg.Database.User)
	cfg.Database.Name = getEnv("DB_NAME", cfg.Database.Name)
	cfg.Database.SSLMode = getEnv("DB_SSL_MODE", cfg.Database.SSLMode)
	if v := os.Getenv("DB_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 {
			return fmt.Errorf("invalid DB_PORT: %s", v)
		}
		cfg.Database.Port = port
	}
	// MYSQL_PASSWORD is honored for legacy deployments.
	if v := getEnv("DB_PASSWORD", os.Getenv("MYSQL_PASSWORD")); v != "" {
		cfg.Database.Password = v
	}

	cfg.Gateway.BaseURL = strings.TrimRight(getEnv("RSS_HUB_URL", cfg.Gateway.BaseURL), "/")
	cfg.Gateway.Token = getEnv("RSS_HUB_TOKEN", cfg.Gateway.Token)
	if v := os.Getenv("REQUEST_TIMEOUT_SECONDS"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return fmt.Errorf("invalid REQUEST_TIMEOUT_SECONDS: %w", err)
		}
		cfg.Gateway.RequestTimeout = d
	}

	if err := applySchedulerEnv(&cfg.Scheduler); err != nil {
		return err
	}
	if err := applyWorkerEnv(&cfg.Workers); err != nil {
		return err
	}
	if err := applyLLMEnv(&cfg.LLM); err != nil {
		return err
	}
	if err := applyScoringEnv(&cfg.Scoring); err != nil {
		return err
	}

	cfg.Notion.Token = getEnv("NOTION_TOKEN", cfg.Notion.Token)
	cfg.Notion.DatabaseID = getEnv("NOTION_DATABASE_ID", cfg.Notion.DatabaseID)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		level, err := parseLogLevel(v)
		if err != nil {
			return fmt.Errorf("invalid LOG_LEVEL: %w", err)
		}
		cfg.Logging.Level = level
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		switch v {
		case "json", "text":
			cfg.Logging.Format = v
		default:
			return fmt.Errorf("invalid LOG_FORMAT: must be 'json' or 'text'")
		}
	}
	cfg.Logging.File = getEnv("LOG_FILE", cfg.Logging.File)

	cfg.Metrics.ListenAddr = getEnv("METRICS_LISTEN_ADDR", cfg.Metrics.ListenAddr)

	return nil
}

func applySchedulerEnv(s *SchedulerConfig) error {
	intervals := []struct {
		key string
		dst *time.Duration
	}{
		{"TIER_HIGH_INTERVAL_MINUTES", &s.HighInterval},
		{"TIER_MEDIUM_INTERVAL_MINUTES", &s.MediumInterval},
		{"TIER_LOW_INTERVAL_MINUTES", &s.LowInterval},
		{"RETRY_DELAY_MIN_MINUTES", &s.RetryDelayMin},
		{"RETRY_DELAY_MAX_MINUTES", &s.RetryDelayMax},
	}
	for _, iv := range intervals {
		if v := os.Getenv(iv.key); v != "" {
			minutes, err := strconv.Atoi(v)
			if err != nil || minutes <= 0 {
				return fmt.Errorf("invalid %s: %s", iv.key, v)
			}
			*iv.dst = time.Duration(minutes) * time.Minute
		}
	}

	limits := []struct {
		key string
		dst *int
	}{
		{"TASK_HIGH_LIMIT", &s.HighLimit},
		{"TASK_MEDIUM_LIMIT", &s.MediumLimit},
		{"TASK_LOW_LIMIT", &s.LowLimit},
		{"MAX_FAILED_ATTEMPTS", &s.MaxFailures},
		{"QUIET_START_HOUR", &s.QuietStartHour},
		{"QUIET_END_HOUR", &s.QuietEndHour},
	}
	for _, lim := range limits {
		if v := os.Getenv(lim.key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return fmt.Errorf("invalid %s: %s", lim.key, v)
			}
			*lim.dst = n
		}
	}

	if s.QuietStartHour > 23 || s.QuietEndHour > 23 {
		return fmt.Errorf("quiet window hours must be within 0-23")
	}

	return nil
}

func applyWorkerEnv(w *WorkerConfig) error {
	pools := []struct {
		key string
		dst *int
	}{
		{"CRAWL_WORKERS", &w.CrawlWorkers},
		{"TEXT_LLM_WORKERS", &w.TextWorkers},
		{"VISION_LLM_WORKERS", &w.VisionWorkers},
		{"IMAGE_WORKERS", &w.ImageWorkers},
	}
	for _, p := range pools {
		if v := os.Getenv(p.key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				return fmt.Errorf("invalid %s: %s", p.key, v)
			}
			*p.dst = n
		}
	}
	return nil
}

func applyLLMEnv(l *LLMConfig) error {
	l.APIKey = getEnv("OPENAI_API_KEY", l.APIKey)
	l.BaseURL = getEnv("OPENAI_BASE_URL", l.BaseURL)
	l.FastModel = getEnv("FAST_LLM_MODEL", l.FastModel)
	l.VisionModel = getEnv("VISION_LLM_MODEL", l.VisionModel)
	l.VisionFallback = getEnv("VISION_LLM_FALLBACK", l.VisionFallback)
	l.SmartModel = getEnv("SMART_LLM_MODEL", l.SmartModel)

	if v := os.Getenv("REPORT_LLM_MODELS"); v != "" {
		var names []string
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				names = append(names, name)
			}
		}
		if len(names) == 0 {
			return fmt.Errorf("invalid REPORT_LLM_MODELS: no model names")
		}
		l.ReportModels = names
	}

	caps := []struct {
		key string
		dst *int
	}{
		{"MAX_CONTENT_CHARS", &l.MaxContentChars},
		{"REPORT_MAX_CONTENT_CHARS", &l.ReportMaxContentChars},
		{"LLM_MAX_RETRIES", &l.MaxRetries},
	}
	for _, c := range caps {
		if v := os.Getenv(c.key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				return fmt.Errorf("invalid %s: %s", c.key, v)
			}
			*c.dst = n
		}
	}

	return nil
}

func applyScoringEnv(s *ScoringConfig) error {
	// Score tables arrive as JSON-encoded env strings.
	if v := os.Getenv("SCORE_CONTENT_TYPE_TABLE"); v != "" {
		table := map[string]float64{}
		if err := json.Unmarshal([]byte(v), &table); err != nil {
			return fmt.Errorf("invalid SCORE_CONTENT_TYPE_TABLE: %w", err)
		}
		s.ContentTypeScores = table
	}
	if v := os.Getenv("SCORE_TAG_TABLE"); v != "" {
		table := map[string]float64{}
		if err := json.Unmarshal([]byte(v), &table); err != nil {
			return fmt.Errorf("invalid SCORE_TAG_TABLE: %w", err)
		}
		s.TagScores = table
	}

	weights := []struct {
		key string
		dst *float64
	}{
		{"SCORE_BASE", &s.Base},
		{"SCORE_BODY_LENGTH_WEIGHT", &s.BodyLengthWeight},
		{"SCORE_INTERP_LENGTH_WEIGHT", &s.InterpLengthWeight},
		{"SCORE_MEDIA_BONUS", &s.MediaBonus},
		{"SCORE_LINK_BONUS", &s.LinkBonus},
	}
	for _, w := range weights {
		if v := os.Getenv(w.key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("invalid %s: %s", w.key, v)
			}
			*w.dst = f
		}
	}

	return nil
}

// TierInterval returns the nominal fetch interval for a tier name.
func (s SchedulerConfig) TierInterval(tier string) time.Duration {
	switch tier {
	case "high":
		return s.HighInterval
	case "medium":
		return s.MediumInterval
	default:
		return s.LowInterval
	}
}

// TierLimit returns the per-job account cap for a tier name.
func (s SchedulerConfig) TierLimit(tier string) int {
	switch tier {
	case "high":
		return s.HighLimit
	case "medium":
		return s.MediumLimit
	default:
		return s.LowLimit
	}
}

func parseSeconds(raw string) (time.Duration, error) {
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds < 0 {
		return 0, fmt.Errorf("must be a non-negative integer")
	}
	return time.Duration(seconds) * time.Second, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch raw {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("must be one of debug, info, warn, error")
	}
}
