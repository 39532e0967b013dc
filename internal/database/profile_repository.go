package database

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/kolwatch/kolwatch/internal/models"
)

// ProfileRepository persists per-account dossier documents.
type ProfileRepository struct {
	db *sql.DB
}

func NewProfileRepository(db *sql.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// Upsert overwrites the account's profile document.
func (r *ProfileRepository) Upsert(ctx context.Context, accountID int64, document json.RawMessage) error {
	query := `
		INSERT INTO profiles (account_id, document, generated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (account_id) DO UPDATE SET
			document = EXCLUDED.document,
			generated_at = NOW()
	`

	_, err := r.db.ExecContext(ctx, query, accountID, []byte(document))
	return err
}

// Get returns the account's profile or (nil, nil) when absent.
func (r *ProfileRepository) Get(ctx context.Context, accountID int64) (*models.Profile, error) {
	query := `SELECT account_id, document, generated_at FROM profiles WHERE account_id = $1`

	var profile models.Profile
	var doc []byte
	err := r.db.QueryRowContext(ctx, query, accountID).Scan(
		&profile.AccountID, &doc, &profile.GeneratedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	profile.Document = json.RawMessage(doc)
	return &profile, nil
}

// SelectAccountsForProfiling returns non-quarantined accounts with at least
// three completed enrichments in the last 30 days whose profile is missing
// or older than 7 days, busiest first.
func (r *ProfileRepository) SelectAccountsForProfiling(ctx context.Context, limit int) ([]*models.Account, error) {
	query := `
		SELECT a.id, a.handle, a.nickname, a.tier, a.status, a.consecutive_failures,
		       a.avg_posts_per_day, a.last_fetched_at, a.next_fetch_at, a.created_at, a.updated_at
		FROM accounts a
		JOIN posts p ON p.account_id = a.id
		JOIN enrichments e ON e.post_id = p.id
		LEFT JOIN profiles pr ON pr.account_id = a.id
		WHERE e.status = 'completed'
		  AND p.published_at >= NOW() - INTERVAL '30 days'
		  AND (pr.account_id IS NULL OR pr.generated_at < NOW() - INTERVAL '7 days')
		  AND a.status != 'quarantined'
		GROUP BY a.id
		HAVING COUNT(p.id) >= 3
		ORDER BY COUNT(p.id) DESC, a.last_fetched_at DESC NULLS LAST
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

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
