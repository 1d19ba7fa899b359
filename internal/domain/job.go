package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// ─── Job Types ──────────────────────────────────────────────────────────────
// A job is one paid feature invocation: points are reserved on submit and
// committed only when the backend succeeds.

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobQueued    JobStatus = "QUEUED"
	JobRunning   JobStatus = "RUNNING"
	JobCompleted JobStatus = "COMPLETED"
	JobFailed    JobStatus = "FAILED"
)

// Terminal reports whether no further transitions can happen.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Job is a feature invocation paid for with points.
type Job struct {
	ID            string         `json:"id"`
	Identity      string         `json:"identity"`
	Feature       string         `json:"feature"`
	Tier          string         `json:"tier,omitempty"`
	Input         map[string]any `json:"input,omitempty"`
	Status        JobStatus      `json:"status"`
	ReservationID string         `json:"reservation_id,omitempty"`
	PointsCharged int64          `json:"points_charged"`
	ResultHash    string         `json:"result_hash,omitempty"`
	Result        []byte         `json:"result,omitempty"`
	Error         string         `json:"error,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
}

// SHA256Hex computes SHA-256 hash and returns hex string.
func SHA256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
