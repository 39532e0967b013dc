package database

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/kolwatch/kolwatch/internal/models"
)

// PostRepository persists ingested posts.
type PostRepository struct {
	db *sql.DB
}

func NewPostRepository(db *sql.DB) *PostRepository {
	return &PostRepository{db: db}
}

// InsertPosts inserts a fetch's posts in one transaction, skipping rows
// whose post_url already exists. Returns the number of novel rows.
func (r *PostRepository) InsertPosts(ctx context.Context, accountID int64, posts []models.Post) (int, error) {
	if len(posts) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO posts (account_id, post_url, title, content, kind, media_urls, published_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (post_url) DO NOTHING
	`

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	inserted := 0
	for _, post := range posts {
		mediaJSON, err := json.Marshal(post.MediaURLs)
		if err != nil {
			return 0, err
		}

		res, err := stmt.ExecContext(ctx,
			accountID,
			post.PostURL,
			post.Title,
			post.Content,
			post.Kind,
			mediaJSON,
			post.PublishedAt,
		)
		if err != nil {
			return 0, err
		}

		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

// CountForAccount returns the number of stored posts for an account.
func (r *PostRepository) CountForAccount(ctx context.Context, accountID int64) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM posts WHERE account_id = $1`, accountID).Scan(&count)
	return count, err
}
