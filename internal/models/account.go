package models

import "time"

// Tier buckets an account by observed posting rate and fixes its nominal
// fetch cadence.
type Tier string

const (
	TierHigh   Tier = "high"
	TierMedium Tier = "medium"
	TierLow    Tier = "low"
)

// CrawlStatus is the per-account fetch lifecycle state. The column values
// match the legacy schema strings.
type CrawlStatus string

const (
	CrawlStatusPending     CrawlStatus = "pending"
	CrawlStatusOK          CrawlStatus = "success"
	CrawlStatusFailed      CrawlStatus = "failed"
	CrawlStatusQuarantined CrawlStatus = "quarantined"
)

// Account is one monitored social-media identity, keyed by its public handle.
type Account struct {
	ID                  int64
	Handle              string
	Nickname            string
	Tier                Tier
	Status              CrawlStatus
	ConsecutiveFailures int
	AvgPostsPerDay      float64
	LastFetchedAt       *time.Time
	NextFetchAt         time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Quarantined reports whether the account is isolated from scheduling.
func (a *Account) Quarantined() bool {
	return a.Status == CrawlStatusQuarantined
}
