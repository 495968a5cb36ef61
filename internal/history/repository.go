package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"video-search-bot/internal/cleanup"
	"video-search-bot/internal/domain"
)

// Record is one finished job as stored in history.
type Record struct {
	JobID      string           `json:"jobId"`
	BVID       string           `json:"bvid"`
	Title      string           `json:"title,omitempty"`
	Status     domain.JobStatus `json:"status"`
	OutputPath string           `json:"outputPath,omitempty"`
	Error      string           `json:"error,omitempty"`
	Cleanup    cleanup.Report   `json:"cleanup,omitempty"`
	CreatedAt  time.Time        `json:"createdAt"`
	FinishedAt time.Time        `json:"finishedAt"`
}

// Repository persists job records.
type Repository struct {
	db *sql.DB
}

// NewRepository wraps an open history database.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Save inserts or replaces the record for rec.JobID.
func (r *Repository) Save(ctx context.Context, rec Record) error {
	report := rec.Cleanup
	if report == nil {
		report = cleanup.Report{}
	}
	cleanupJSON, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode cleanup report: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO jobs (id, bvid, title, status, output_path, error, cleanup, created_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			bvid = excluded.bvid,
			title = excluded.title,
			status = excluded.status,
			output_path = excluded.output_path,
			error = excluded.error,
			cleanup = excluded.cleanup,
			finished_at = excluded.finished_at`,
		rec.JobID,
		rec.BVID,
		rec.Title,
		string(rec.Status),
		rec.OutputPath,
		rec.Error,
		string(cleanupJSON),
		rec.CreatedAt.UnixMilli(),
		rec.FinishedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save job %s: %w", rec.JobID, err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (r *Repository) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, bvid, title, status, output_path, error, cleanup, created_at, finished_at
		FROM jobs
		ORDER BY finished_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec         Record
			status      string
			cleanupJSON string
			createdAt   int64
			finishedAt  int64
		)
		if err := rows.Scan(&rec.JobID, &rec.BVID, &rec.Title, &status, &rec.OutputPath,
			&rec.Error, &cleanupJSON, &createdAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		rec.Status = domain.JobStatus(status)
		rec.CreatedAt = time.UnixMilli(createdAt).UTC()
		rec.FinishedAt = time.UnixMilli(finishedAt).UTC()
		if err := json.Unmarshal([]byte(cleanupJSON), &rec.Cleanup); err != nil {
			return nil, fmt.Errorf("decode cleanup report for %s: %w", rec.JobID, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
