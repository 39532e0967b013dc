package scheduler

import (
	"context"
	"math/rand"
	"time"

	"github.com/kolwatch/kolwatch/internal/config"
	"github.com/kolwatch/kolwatch/internal/database"
	"github.com/kolwatch/kolwatch/internal/models"
	"log/slog"
)

// Scheduler decides who gets fetched when: due selection per tier, the
// stale-account safety net, the quiet window, and the success/failure state
// transitions with their timing.
type Scheduler struct {
	accounts *database.AccountRepository
	cfg      config.SchedulerConfig
	logger   *slog.Logger
	now      func() time.Time
}

func New(accounts *database.AccountRepository, cfg config.SchedulerConfig, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		accounts: accounts,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// InQuietWindow reports whether the instant falls inside the configured UTC
// quiet hours, bounds inclusive. A window with start > end wraps past
// midnight.
func (s *Scheduler) InQuietWindow(t time.Time) bool {
	return inQuietWindow(t.UTC().Hour(), s.cfg.QuietStartHour, s.cfg.QuietEndHour)
}

func inQuietWindow(hour, start, end int) bool {
	if start <= end {
		return hour >= start && hour <= end
	}
	return hour >= start || hour <= end
}

// SelectDue returns up to limit due accounts of the tier, in random order.
func (s *Scheduler) SelectDue(ctx context.Context, tier models.Tier, limit int) ([]*models.Account, error) {
	return s.accounts.SelectDue(ctx, tier, limit)
}

// SelectStale returns accounts whose schedule drifted more than hoursBack
// into the past while PENDING.
func (s *Scheduler) SelectStale(ctx context.Context, hoursBack, limit int) ([]*models.Account, error) {
	return s.accounts.SelectStale(ctx, hoursBack, limit)
}

// SelectAll returns every non-quarantined account, for the full crawl.
func (s *Scheduler) SelectAll(ctx context.Context) ([]*models.Account, error) {
	return s.accounts.SelectActive(ctx)
}

// MarkSuccess records a successful fetch and schedules the next one a tier
// interval out.
func (s *Scheduler) MarkSuccess(ctx context.Context, account *models.Account) error {
	next := s.now().Add(s.cfg.TierInterval(string(account.Tier)))
	return s.accounts.MarkFetchSuccess(ctx, account.ID, next)
}

// MarkFailure records a failed fetch. The retry lands a jittered delay out;
// crossing the failure threshold quarantines the account instead.
func (s *Scheduler) MarkFailure(ctx context.Context, account *models.Account) (models.CrawlStatus, error) {
	retryAt := s.now().Add(s.retryDelay())
	status, err := s.accounts.MarkFetchFailure(ctx, account.ID, retryAt, s.cfg.MaxFailures)
	if err != nil {
		return "", err
	}

	if status == models.CrawlStatusQuarantined {
		s.logger.Warn("account quarantined after repeated failures",
			"handle", account.Handle,
			"failures", account.ConsecutiveFailures+1)
	}
	return status, nil
}

// RecomputeTiers reclassifies accounts from their 7-day posting rate.
func (s *Scheduler) RecomputeTiers(ctx context.Context) (int64, error) {
	return s.accounts.RecomputeTiers(ctx)
}

func (s *Scheduler) retryDelay() time.Duration {
	return jitterBetween(s.cfg.RetryDelayMin, s.cfg.RetryDelayMax)
}

// jitterBetween returns a uniformly random duration in [min, max].
func jitterBetween(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)+1))
}
