package crawler

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/kolwatch/kolwatch/internal/config"
	"github.com/kolwatch/kolwatch/internal/models"
	"log/slog"
)

// FeedSource fetches the latest posts for a handle.
type FeedSource interface {
	FetchPosts(ctx context.Context, handle string) ([]models.Post, error)
}

// PostStore persists fetched posts and reports how many were new.
type PostStore interface {
	InsertPosts(ctx context.Context, accountID int64, posts []models.Post) (int, error)
}

// Schedule records fetch outcomes and computes the follow-up timing.
type Schedule interface {
	MarkSuccess(ctx context.Context, account *models.Account) error
	MarkFailure(ctx context.Context, account *models.Account) (models.CrawlStatus, error)
}

// Result aggregates one crawl batch.
type Result struct {
	Processed     int           `json:"processed"`
	Succeeded     int           `json:"succeeded"`
	Failed        int           `json:"failed"`
	PostsInserted int           `json:"posts_inserted"`
	Elapsed       time.Duration `json:"-"`
}

// Crawler drains a set of accounts through the feed gateway. A single worker
// runs serially with a short pause between accounts so requests do not land
// in bursts; multiple workers run in batches with a longer pause between
// batches.
type Crawler struct {
	feed     FeedSource
	posts    PostStore
	schedule Schedule
	cfg      config.WorkerConfig
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration)
}

func New(feed FeedSource, posts PostStore, schedule Schedule, cfg config.WorkerConfig, logger *slog.Logger) *Crawler {
	return &Crawler{
		feed:     feed,
		posts:    posts,
		schedule: schedule,
		cfg:      cfg,
		logger:   logger,
		sleep:    sleepContext,
	}
}

// Crawl processes every account and returns the aggregate outcome. A failed
// account never stops the batch.
func (c *Crawler) Crawl(ctx context.Context, accounts []*models.Account) Result {
	start := time.Now()

	var result Result
	if c.cfg.CrawlWorkers <= 1 {
		result = c.crawlSerial(ctx, accounts)
	} else {
		result = c.crawlBatched(ctx, accounts)
	}
	result.Elapsed = time.Since(start)

	c.logger.Info("crawl batch finished",
		"processed", result.Processed,
		"succeeded", result.Succeeded,
		"failed", result.Failed,
		"posts_inserted", result.PostsInserted,
		"elapsed", result.Elapsed)
	return result
}

func (c *Crawler) crawlSerial(ctx context.Context, accounts []*models.Account) Result {
	var result Result
	for i, account := range accounts {
		inserted, ok := c.processOne(ctx, account)
		result.record(inserted, ok)

		if i < len(accounts)-1 {
			c.sleep(ctx, jitterBetween(c.cfg.SerialJitterMin, c.cfg.SerialJitterMax))
		}
	}
	return result
}

func (c *Crawler) crawlBatched(ctx context.Context, accounts []*models.Account) Result {
	var (
		mu     sync.Mutex
		result Result
	)

	for offset := 0; offset < len(accounts); offset += c.cfg.CrawlWorkers {
		end := offset + c.cfg.CrawlWorkers
		if end > len(accounts) {
			end = len(accounts)
		}

		var wg sync.WaitGroup
		for _, account := range accounts[offset:end] {
			wg.Add(1)
			go func(account *models.Account) {
				defer wg.Done()
				inserted, ok := c.processOne(ctx, account)

				mu.Lock()
				result.record(inserted, ok)
				mu.Unlock()
			}(account)
		}
		wg.Wait()

		if end < len(accounts) {
			c.sleep(ctx, jitterBetween(c.cfg.BatchJitterMin, c.cfg.BatchJitterMax))
		}
	}
	return result
}

// processOne fetches one account and records the outcome. Returns the number
// of newly inserted posts and whether the fetch succeeded.
func (c *Crawler) processOne(ctx context.Context, account *models.Account) (int, bool) {
	posts, err := c.feed.FetchPosts(ctx, account.Handle)
	if err != nil {
		c.logger.Warn("fetch failed", "handle", account.Handle, "error", err)
		if _, markErr := c.schedule.MarkFailure(ctx, account); markErr != nil {
			c.logger.Error("record fetch failure", "handle", account.Handle, "error", markErr)
		}
		return 0, false
	}

	inserted, err := c.posts.InsertPosts(ctx, account.ID, posts)
	if err != nil {
		c.logger.Error("store posts", "handle", account.Handle, "error", err)
		if _, markErr := c.schedule.MarkFailure(ctx, account); markErr != nil {
			c.logger.Error("record fetch failure", "handle", account.Handle, "error", markErr)
		}
		return 0, false
	}

	if err := c.schedule.MarkSuccess(ctx, account); err != nil {
		c.logger.Error("record fetch success", "handle", account.Handle, "error", err)
	}

	c.logger.Debug("account fetched",
		"handle", account.Handle,
		"fetched", len(posts),
		"inserted", inserted)
	return inserted, true
}

func (r *Result) record(inserted int, ok bool) {
	r.Processed++
	if ok {
		r.Succeeded++
		r.PostsInserted += inserted
	} else {
		r.Failed++
	}
}

func jitterBetween(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)+1))
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
