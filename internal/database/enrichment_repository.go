package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lib/pq"

	"github.com/kolwatch/kolwatch/internal/models"
)

// EnrichmentRepository persists per-post analysis rows and implements the
// claim protocol that keeps concurrent enrichment runners from colliding.
type EnrichmentRepository struct {
	db *sql.DB
}

func NewEnrichmentRepository(db *sql.DB) *EnrichmentRepository {
	return &EnrichmentRepository{db: db}
}

// ClaimPending selects up to n posts published within the last hoursBack
// hours that have no enrichment row or a stale PENDING one, and inserts
// PENDING placeholders for them in the same transaction. Row locks with
// SKIP LOCKED keep two concurrent runners from claiming the same post.
func (r *EnrichmentRepository) ClaimPending(ctx context.Context, n, hoursBack int) ([]models.EnrichedPost, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	query := `
		SELECT p.id, p.account_id, p.post_url, p.title, p.content, p.kind,
		       p.media_urls, p.published_at, p.created_at, a.handle, a.nickname
		FROM posts p
		JOIN accounts a ON a.id = p.account_id
		LEFT JOIN enrichments e ON e.post_id = p.id
		WHERE (e.post_id IS NULL OR e.status = 'pending')
		  AND p.published_at >= NOW() - make_interval(hours => $2)
		ORDER BY p.published_at DESC
		LIMIT $1
		FOR UPDATE OF p SKIP LOCKED
	`

	rows, err := tx.QueryContext(ctx, query, n, hoursBack)
	if err != nil {
		return nil, err
	}

	var claimed []models.EnrichedPost
	for rows.Next() {
		var ep models.EnrichedPost
		var mediaJSON []byte

		err := rows.Scan(
			&ep.ID,
			&ep.AccountID,
			&ep.PostURL,
			&ep.Title,
			&ep.Content,
			&ep.Kind,
			&mediaJSON,
			&ep.PublishedAt,
			&ep.CreatedAt,
			&ep.Handle,
			&ep.Nickname,
		)
		if err != nil {
			rows.Close()
			return nil, err
		}

		if len(mediaJSON) > 0 {
			if err := json.Unmarshal(mediaJSON, &ep.MediaURLs); err != nil {
				rows.Close()
				return nil, err
			}
		}

		claimed = append(claimed, ep)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, ep := range claimed {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO enrichments (post_id, status)
			VALUES ($1, 'pending')
			ON CONFLICT (post_id) DO NOTHING
		`, ep.ID)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return claimed, nil
}

// Commit upserts the final enrichment row for a post.
func (r *EnrichmentRepository) Commit(ctx context.Context, e models.Enrichment) error {
	entitiesJSON, err := json.Marshal(e.Entities)
	if err != nil {
		return err
	}
	if e.Entities == nil {
		entitiesJSON = []byte("[]")
	}

	query := `
		INSERT INTO enrichments
			(post_id, status, summary, tag, content_type, entities,
			 deep_interpretation, image_description, model_name, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (post_id) DO UPDATE SET
			status = EXCLUDED.status,
			summary = EXCLUDED.summary,
			tag = EXCLUDED.tag,
			content_type = EXCLUDED.content_type,
			entities = EXCLUDED.entities,
			deep_interpretation = EXCLUDED.deep_interpretation,
			image_description = EXCLUDED.image_description,
			model_name = EXCLUDED.model_name,
			updated_at = NOW()
	`

	_, err = r.db.ExecContext(ctx, query,
		e.PostID,
		e.Status,
		e.Summary,
		e.Tag,
		e.ContentType,
		entitiesJSON,
		e.DeepInterpretation,
		e.ImageDescription,
		e.ModelName,
	)
	return err
}

// SelectInWindow returns completed enriched posts published inside
// [start, end), newest first, excluding the given tags. Used as the
// candidate set for scoring.
func (r *EnrichmentRepository) SelectInWindow(ctx context.Context, start, end time.Time, cap int, excludeTags []string) ([]models.EnrichedPost, error) {
	if excludeTags == nil {
		excludeTags = []string{}
	}

	query := `
		SELECT p.id, p.account_id, p.post_url, p.title, p.content, p.kind,
		       p.media_urls, p.published_at, p.created_at, a.handle, a.nickname,
		       e.status, e.summary, e.tag, e.content_type, e.entities,
		       e.deep_interpretation, e.image_description, e.model_name
		FROM posts p
		JOIN accounts a ON a.id = p.account_id
		JOIN enrichments e ON e.post_id = p.id
		WHERE e.status = 'completed'
		  AND p.published_at >= $1
		  AND p.published_at < $2
		  AND NOT (e.tag = ANY($3))
		ORDER BY p.published_at DESC
		LIMIT $4
	`

	rows, err := r.db.QueryContext(ctx, query, start, end, pq.Array(excludeTags), cap)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEnrichedPosts(rows)
}

// SelectForAccount returns an account's completed enriched posts over the
// last days days, oldest first, as consumed by profiling and KOL reports.
func (r *EnrichmentRepository) SelectForAccount(ctx context.Context, accountID int64, days, cap int) ([]models.EnrichedPost, error) {
	query := `
		SELECT p.id, p.account_id, p.post_url, p.title, p.content, p.kind,
		       p.media_urls, p.published_at, p.created_at, a.handle, a.nickname,
		       e.status, e.summary, e.tag, e.content_type, e.entities,
		       e.deep_interpretation, e.image_description, e.model_name
		FROM posts p
		JOIN accounts a ON a.id = p.account_id
		JOIN enrichments e ON e.post_id = p.id
		WHERE e.status = 'completed'
		  AND p.account_id = $1
		  AND p.published_at >= NOW() - make_interval(days => $2)
		ORDER BY p.published_at ASC
		LIMIT $3
	`

	rows, err := r.db.QueryContext(ctx, query, accountID, days, cap)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEnrichedPosts(rows)
}

func scanEnrichedPosts(rows *sql.Rows) ([]models.EnrichedPost, error) {
	var posts []models.EnrichedPost

	for rows.Next() {
		var ep models.EnrichedPost
		var mediaJSON, entitiesJSON []byte

		err := rows.Scan(
			&ep.ID,
			&ep.AccountID,
			&ep.PostURL,
			&ep.Title,
			&ep.Content,
			&ep.Kind,
			&mediaJSON,
			&ep.PublishedAt,
			&ep.CreatedAt,
			&ep.Handle,
			&ep.Nickname,
			&ep.Enrichment.Status,
			&ep.Enrichment.Summary,
			&ep.Enrichment.Tag,
			&ep.Enrichment.ContentType,
			&entitiesJSON,
			&ep.Enrichment.DeepInterpretation,
			&ep.Enrichment.ImageDescription,
			&ep.Enrichment.ModelName,
		)
		if err != nil {
			return nil, err
		}

		ep.Enrichment.PostID = ep.ID
		if len(mediaJSON) > 0 {
			if err := json.Unmarshal(mediaJSON, &ep.MediaURLs); err != nil {
				return nil, err
			}
		}
		if len(entitiesJSON) > 0 {
			if err := json.Unmarshal(entitiesJSON, &ep.Enrichment.Entities); err != nil {
				return nil, err
			}
		}

		posts = append(posts, ep)
	}

	return posts, rows.Err()
}
