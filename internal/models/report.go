package models

import "time"

// ReportKind distinguishes the persisted report variants.
type ReportKind string

const (
	ReportKindDailyLight ReportKind = "daily_light"
	ReportKindDailyDeep  ReportKind = "daily_deep"
	ReportKindMonthlyKOL ReportKind = "monthly_kol"
)

// Report is an append-only synthesized report.
type Report struct {
	ID          int64
	Kind        ReportKind
	Title       string
	Body        string
	ModelName   string
	WindowStart time.Time
	WindowEnd   time.Time
	AccountID   *int64
	CreatedAt   time.Time
}
