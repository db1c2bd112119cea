package models

import (
	"encoding/json"
	"time"
)

// Job statuses stored in the schedule_jobs ledger.
// "skipped" is a logged outcome for dropped firings, never a stored state.
const (
	JobStatusIdle      = "idle"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// Job types
const (
	JobTypeMaintenance = "maintenance"
	JobTypeCompilation = "compilation"
)

// ScheduleJob is one row of the persisted job ledger. Identity is the
// (job_type, job_name) pair; rows are seeded once and never deleted.
type ScheduleJob struct {
	ID             int64          `json:"id"`
	JobType        string         `json:"jobType"`
	JobName        string         `json:"jobName"`
	CronExpression string         `json:"cronExpression"`
	Timezone       string         `json:"timezone"`
	Enabled        bool           `json:"enabled"`
	Status         string         `json:"status"`
	LastRunAt      *time.Time     `json:"lastRunAt,omitempty"`
	NextRunAt      *time.Time     `json:"nextRunAt,omitempty"`
	LastResult     *RunResult     `json:"lastResult,omitempty"`
	LastError      string         `json:"lastError,omitempty"`
	Config         map[string]any `json:"config,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// RunResult is the structured payload recorded in last_result after a
// completed run: per-stage counters plus timing.
type RunResult struct {
	StartedAt  time.Time             `json:"startedAt"`
	FinishedAt time.Time             `json:"finishedAt"`
	DurationMS int64                 `json:"durationMs"`
	Stages     map[string]StageStats `json:"stages"`
}

// StageStats summarizes one pipeline stage inside a run.
type StageStats struct {
	Processed int    `json:"processed"`
	Applied   int    `json:"applied"`
	Skipped   int    `json:"skipped"`
	Failed    int    `json:"failed"`
	Note      string `json:"note,omitempty"`
}

// Marshal returns the JSON encoding stored in the ledger's last_result column.
func (r *RunResult) Marshal() string {
	if r == nil {
		return ""
	}
	b, err := json.Marshal(r)
	if err != nil {
		return ""
	}
	return string(b)
}

// ParseRunResult decodes a last_result column value. Empty input yields nil.
func ParseRunResult(raw string) *RunResult {
	if raw == "" {
		return nil
	}
	var r RunResult
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil
	}
	return &r
}
