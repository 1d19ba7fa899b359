package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/workforce-ai/compute/internal/domain"
)

// ─── Job Operations ─────────────────────────────────────────────────────────

// InsertJob implements domain.JobStore.
func (db *DB) InsertJob(job domain.Job) error {
	input, err := encodeInput(job.Input)
	if err != nil {
		return err
	}
	_, err = db.db.Exec(`
		INSERT INTO jobs (id, identity, feature, tier, input, status, reservation_id,
			points_charged, result_hash, result, error, created_at, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, job.ID, job.Identity, job.Feature, job.Tier, input, string(job.Status), job.ReservationID,
		job.PointsCharged, job.ResultHash, job.Result, job.Error, formatTime(job.CreatedAt),
		formatTimePtr(job.StartedAt), formatTimePtr(job.CompletedAt))
	if err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	return nil
}

// UpdateJob implements domain.JobStore. Identity, feature, tier, input and
// creation time are fixed at insert.
func (db *DB) UpdateJob(job domain.Job) error {
	res, err := db.db.Exec(`
		UPDATE jobs SET
			status         = ?,
			reservation_id = ?,
			points_charged = ?,
			result_hash    = ?,
			result         = ?,
			error          = ?,
			started_at     = ?,
			completed_at   = ?
		WHERE id = ?
	`, string(job.Status), job.ReservationID, job.PointsCharged, job.ResultHash, job.Result, job.Error,
		formatTimePtr(job.StartedAt), formatTimePtr(job.CompletedAt), job.ID)
	if err != nil {
		return fmt.Errorf("update job %s: %w", job.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

// GetJob implements domain.JobStore.
func (db *DB) GetJob(id string) (*domain.Job, error) {
	var (
		job                    domain.Job
		input                  sql.NullString
		status, createdAt      string
		startedAt, completedAt sql.NullString
	)
	err := db.db.QueryRow(`
		SELECT id, identity, feature, tier, input, status, reservation_id,
		       points_charged, result_hash, result, error, created_at, started_at, completed_at
		FROM jobs WHERE id = ?
	`, id).Scan(&job.ID, &job.Identity, &job.Feature, &job.Tier, &input, &status, &job.ReservationID,
		&job.PointsCharged, &job.ResultHash, &job.Result, &job.Error, &createdAt, &startedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query job %s: %w", id, err)
	}

	job.Status = domain.JobStatus(status)
	if input.Valid && input.String != "" {
		if err := json.Unmarshal([]byte(input.String), &job.Input); err != nil {
			return nil, fmt.Errorf("decode input of %s: %w", id, err)
		}
	}
	if job.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if job.StartedAt, err = parseTimePtr(startedAt); err != nil {
		return nil, err
	}
	if job.CompletedAt, err = parseTimePtr(completedAt); err != nil {
		return nil, err
	}
	return &job, nil
}

// CountJobsByStatus returns the number of jobs in each status.
func (db *DB) CountJobsByStatus() (map[domain.JobStatus]int, error) {
	rows, err := db.db.Query(`SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[domain.JobStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[domain.JobStatus(status)] = n
	}
	return out, rows.Err()
}

// FailStaleJobs marks jobs left QUEUED or RUNNING by a previous process as
// FAILED. Their reservations died with that process, so no points were taken.
func (db *DB) FailStaleJobs(now time.Time) (int64, error) {
	res, err := db.db.Exec(`
		UPDATE jobs SET status = ?, error = 'interrupted', completed_at = ?
		WHERE status IN (?, ?)
	`, string(domain.JobFailed), formatTime(now), string(domain.JobQueued), string(domain.JobRunning))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func encodeInput(in map[string]any) (sql.NullString, error) {
	if len(in) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(in)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode job input: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
