package database

import (
	"context"
	"database/sql"

	"github.com/kolwatch/kolwatch/internal/models"
)

// ReportRepository persists synthesized reports. Append-only.
type ReportRepository struct {
	db *sql.DB
}

func NewReportRepository(db *sql.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

// Insert stores a report and fills in its generated ID and timestamp.
func (r *ReportRepository) Insert(ctx context.Context, report *models.Report) error {
	query := `
		INSERT INTO reports (kind, title, body, model_name, window_start, window_end, account_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`

	return r.db.QueryRowContext(ctx, query,
		report.Kind,
		report.Title,
		report.Body,
		report.ModelName,
		report.WindowStart,
		report.WindowEnd,
		report.AccountID,
	).Scan(&report.ID, &report.CreatedAt)
}
