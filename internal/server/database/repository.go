package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Repository stores finished downloads.
type Repository struct {
	db *DB
}

func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// SaveDownload inserts d, or overwrites the stored row with the same id.
func (r *Repository) SaveDownload(ctx context.Context, d *Download) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO share_downloads (
			id, name, archive, bytes_transferred, total_bytes,
			completed, started_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			bytes_transferred = EXCLUDED.bytes_transferred,
			completed         = EXCLUDED.completed,
			finished_at       = EXCLUDED.finished_at
	`,
		d.ID,
		d.Name,
		d.Archive,
		d.BytesTransferred,
		d.TotalBytes,
		d.Completed,
		d.StartedAt,
		d.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save download: %w", err)
	}
	return nil
}

// ListDownloads returns the most recent downloads first. A non-positive
// limit returns everything.
func (r *Repository) ListDownloads(ctx context.Context, limit int) ([]*Download, error) {
	query := `
		SELECT id::text, name, archive, bytes_transferred, total_bytes,
			   completed, started_at, finished_at
		FROM share_downloads
		ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query downloads: %w", err)
	}

	downloads, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*Download, error) {
		d := &Download{}
		err := row.Scan(
			&d.ID,
			&d.Name,
			&d.Archive,
			&d.BytesTransferred,
			&d.TotalBytes,
			&d.Completed,
			&d.StartedAt,
			&d.FinishedAt,
		)
		return d, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan downloads: %w", err)
	}
	return downloads, nil
}

// GetStats returns aggregate download statistics.
func (r *Repository) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	err := r.db.Pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE completed),
			COUNT(*) FILTER (WHERE NOT completed),
			COALESCE(SUM(bytes_transferred), 0)
		FROM share_downloads
	`).Scan(
		&stats.TotalDownloads,
		&stats.CompletedDownloads,
		&stats.CanceledDownloads,
		&stats.BytesServed,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return stats, nil
}
