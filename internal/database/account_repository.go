package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kolwatch/kolwatch/internal/models"
)

// AccountRepository persists accounts and drives their scheduling state.
type AccountRepository struct {
	db *sql.DB
}

func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

const accountColumns = `id, handle, nickname, tier, status, consecutive_failures,
	avg_posts_per_day, last_fetched_at, next_fetch_at, created_at, updated_at`

// Insert creates a new account in PENDING state. Used by bootstrap and tests.
func (r *AccountRepository) Insert(ctx context.Context, handle, nickname string, tier models.Tier) (*models.Account, error) {
	query := `
		INSERT INTO accounts (handle, nickname, tier)
		VALUES ($1, $2, $3)
		ON CONFLICT (handle) DO UPDATE SET nickname = EXCLUDED.nickname, updated_at = NOW()
		RETURNING ` + accountColumns

	return r.scanOne(r.db.QueryRowContext(ctx, query, handle, nickname, tier))
}

// GetByID returns the account or (nil, nil) when absent.
func (r *AccountRepository) GetByID(ctx context.Context, id int64) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

// GetByHandle returns the account or (nil, nil) when absent.
func (r *AccountRepository) GetByHandle(ctx context.Context, handle string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE handle = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, handle))
}

// SelectDue returns up to n accounts of the given tier whose next fetch time
// has passed. Quarantined accounts are excluded; order is randomized so no
// account starves under the per-job cap.
func (r *AccountRepository) SelectDue(ctx context.Context, tier models.Tier, n int) ([]*models.Account, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE tier = $1
		  AND next_fetch_at <= NOW()
		  AND status != 'quarantined'
		ORDER BY RANDOM()
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, tier, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanAccounts(rows)
}

// SelectStale returns accounts whose next fetch time slipped more than
// hoursBack into the past while still PENDING, oldest first. Safety net for
// accounts the tiered selection keeps missing.
func (r *AccountRepository) SelectStale(ctx context.Context, hoursBack, n int) ([]*models.Account, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE next_fetch_at < NOW() - make_interval(hours => $1)
		  AND status = 'pending'
		ORDER BY next_fetch_at ASC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, hoursBack, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanAccounts(rows)
}

// SelectActive returns all non-quarantined accounts, for the full crawl.
func (r *AccountRepository) SelectActive(ctx context.Context) ([]*models.Account, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE status != 'quarantined'
		ORDER BY RANDOM()
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanAccounts(rows)
}

// MarkFetchSuccess records a successful fetch: status OK, failures cleared,
// next fetch scheduled.
func (r *AccountRepository) MarkFetchSuccess(ctx context.Context, id int64, nextFetchAt time.Time) error {
	query := `
		UPDATE accounts
		SET status = 'success',
		    consecutive_failures = 0,
		    last_fetched_at = NOW(),
		    next_fetch_at = $2,
		    updated_at = NOW()
		WHERE id = $1
	`

	res, err := r.db.ExecContext(ctx, query, id, nextFetchAt)
	if err != nil {
		return err
	}
	return requireRow(res, id)
}

// MarkFetchFailure increments the failure counter in a single statement.
// Reaching maxFailures quarantines the account and leaves its schedule
// untouched; otherwise the account goes FAILED and retries at retryAt.
// Returns the resulting status.
func (r *AccountRepository) MarkFetchFailure(ctx context.Context, id int64, retryAt time.Time, maxFailures int) (models.CrawlStatus, error) {
	query := `
		UPDATE accounts
		SET consecutive_failures = consecutive_failures + 1,
		    status = CASE WHEN consecutive_failures + 1 >= $3 THEN 'quarantined' ELSE 'failed' END,
		    next_fetch_at = CASE WHEN consecutive_failures + 1 >= $3 THEN next_fetch_at ELSE $2 END,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING status
	`

	var status models.CrawlStatus
	err := r.db.QueryRowContext(ctx, query, id, retryAt, maxFailures).Scan(&status)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("account %d not found", id)
	}
	if err != nil {
		return "", err
	}
	return status, nil
}

// RecomputeTiers reclassifies every non-quarantined account from its posting
// rate over the last 7 days in one aggregate statement. Accounts younger
// than 3 days with no posts are pinned to MEDIUM. Returns the number of
// accounts updated.
func (r *AccountRepository) RecomputeTiers(ctx context.Context) (int64, error) {
	query := `
		WITH stats AS (
			SELECT a.id,
			       a.created_at,
			       COUNT(p.id) AS post_count,
			       LEAST(7, GREATEST(1, COALESCE(CURRENT_DATE - MIN(p.published_at)::date, 0) + 1)) AS days_observed
			FROM accounts a
			LEFT JOIN posts p
			       ON p.account_id = a.id
			      AND p.published_at >= NOW() - INTERVAL '7 days'
			WHERE a.status != 'quarantined'
			GROUP BY a.id, a.created_at
		)
		UPDATE accounts a
		SET avg_posts_per_day = s.post_count::float / s.days_observed,
		    tier = CASE
		        WHEN s.post_count = 0 AND s.created_at > NOW() - INTERVAL '3 days' THEN 'medium'
		        WHEN s.post_count::float / s.days_observed > 10 THEN 'high'
		        WHEN s.post_count::float / s.days_observed > 1 THEN 'medium'
		        ELSE 'low'
		    END,
		    updated_at = NOW()
		FROM stats s
		WHERE a.id = s.id
	`

	res, err := r.db.ExecContext(ctx, query)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *AccountRepository) scanOne(row *sql.Row) (*models.Account, error) {
	var account models.Account
	err := row.Scan(
		&account.ID,
		&account.Handle,
		&account.Nickname,
		&account.Tier,
		&account.Status,
		&account.ConsecutiveFailures,
		&account.AvgPostsPerDay,
		&account.LastFetchedAt,
		&account.NextFetchAt,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *AccountRepository) scanAccounts(rows *sql.Rows) ([]*models.Account, error) {
	var accounts []*models.Account

	for rows.Next() {
		var account models.Account
		err := rows.Scan(
			&account.ID,
			&account.Handle,
			&account.Nickname,
			&account.Tier,
			&account.Status,
			&account.ConsecutiveFailures,
			&account.AvgPostsPerDay,
			&account.LastFetchedAt,
			&account.NextFetchAt,
			&account.CreatedAt,
			&account.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, &account)
	}

	return accounts, rows.Err()
}

func requireRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("account %d not found", id)
	}
	return nil
}
