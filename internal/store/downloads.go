package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mmcdole/lull/internal/domain"
)

const downloadColumns = `track_id, status, progress, local_path, file_size, downloaded_size, created_at, completed_at, error`

func scanDownload(row scanner) (domain.DownloadRecord, error) {
	var rec domain.DownloadRecord
	var status string
	var localPath, errMsg sql.NullString
	var createdAt int64
	var completedAt sql.NullInt64
	err := row.Scan(&rec.TrackID, &status, &rec.Progress, &localPath, &rec.FileSize,
		&rec.DownloadedSize, &createdAt, &completedAt, &errMsg)
	if err != nil {
		return domain.DownloadRecord{}, err
	}
	rec.Status = domain.DownloadStatus(status)
	rec.LocalPath = localPath.String
	rec.Error = errMsg.String
	rec.CreatedAt = fromMillis(createdAt)
	if completedAt.Valid {
		rec.CompletedAt = fromMillis(completedAt.Int64)
	}
	return rec, nil
}

// GetDownload returns the record for trackID or domain.ErrNotFound.
func (s *SQLiteStore) GetDownload(ctx context.Context, trackID string) (domain.DownloadRecord, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+downloadColumns+" FROM downloads WHERE track_id = ?", trackID)
	rec, err := scanDownload(row)
	if err != nil {
		return domain.DownloadRecord{}, notFound(err)
	}
	return rec, nil
}

// ListDownloads returns every record, newest first.
func (s *SQLiteStore) ListDownloads(ctx context.Context) ([]domain.DownloadRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+downloadColumns+" FROM downloads ORDER BY created_at DESC, track_id")
	if err != nil {
		return nil, fmt.Errorf("query downloads: %w", err)
	}
	defer rows.Close()

	var out []domain.DownloadRecord
	for rows.Next() {
		rec, err := scanDownload(rows)
		if err != nil {
			return nil, fmt.Errorf("scan download: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PutDownload inserts or fully replaces the record for rec.TrackID.
// The original created_at survives replacement.
func (s *SQLiteStore) PutDownload(ctx context.Context, rec domain.DownloadRecord) error {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	var completedAt sql.NullInt64
	if !rec.CompletedAt.IsZero() {
		completedAt = sql.NullInt64{Int64: toMillis(rec.CompletedAt), Valid: true}
	}

	_, err := s.exec(ctx, `
		INSERT INTO downloads (track_id, status, progress, local_path, file_size, downloaded_size, created_at, completed_at, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(track_id) DO UPDATE SET
			status = excluded.status,
			progress = excluded.progress,
			local_path = excluded.local_path,
			file_size = excluded.file_size,
			downloaded_size = excluded.downloaded_size,
			completed_at = excluded.completed_at,
			error = excluded.error`,
		rec.TrackID, string(rec.Status), clampProgress(rec.Progress), nullString(rec.LocalPath),
		rec.FileSize, rec.DownloadedSize, toMillis(createdAt), completedAt, nullString(rec.Error))
	if err != nil {
		return fmt.Errorf("put download %s: %w", rec.TrackID, err)
	}
	return nil
}

// UpdateDownloadProgress records transfer progress for an active download.
// Progress never moves backwards and rows that are no longer downloading are left alone.
func (s *SQLiteStore) UpdateDownloadProgress(ctx context.Context, trackID string, progress int, downloaded, total int64) error {
	progress = clampProgress(progress)
	_, err := s.exec(ctx, `
		UPDATE downloads
		SET progress = ?, downloaded_size = ?, file_size = ?
		WHERE track_id = ? AND status = ? AND progress <= ?`,
		progress, downloaded, total, trackID, string(domain.StatusDownloading), progress)
	if err != nil {
		return fmt.Errorf("update download progress %s: %w", trackID, err)
	}
	return nil
}

// DeleteDownload removes the record. Removing a missing record is not an error.
func (s *SQLiteStore) DeleteDownload(ctx context.Context, trackID string) error {
	if _, err := s.exec(ctx, "DELETE FROM downloads WHERE track_id = ?", trackID); err != nil {
		return fmt.Errorf("delete download %s: %w", trackID, err)
	}
	return nil
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
