package store

import (
	"encoding/json"
	"time"

	"github.com/rendis/actionkit/pkg/schema"
)

// Invocation is one settled action invocation.
type Invocation struct {
	ID       string                  `json:"id"`
	Action   string                  `json:"action"`
	Status   schema.InvocationStatus `json:"status"`
	Code     string                  `json:"code,omitempty"`
	State    schema.State            `json:"state"`
	Attempts int                     `json:"attempts"`

	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`

	// Error is the normalized error as JSON, nil on success.
	Error     json.RawMessage `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// InvocationFilter narrows ListInvocations. Zero fields match everything.
type InvocationFilter struct {
	Action string
	Status schema.InvocationStatus
	Code   string
	Since  *time.Time
	Limit  int
	Offset int
}

// ActionStat aggregates invocations of one action.
type ActionStat struct {
	Action      string        `json:"action"`
	Total       int64         `json:"total"`
	Failed      int64         `json:"failed"`
	AvgDuration time.Duration `json:"avg_duration"`
}

// ScheduledRun is the latest run of a scheduled job.
type ScheduledRun struct {
	JobName      string                  `json:"job_name"`
	InvocationID string                  `json:"invocation_id,omitempty"`
	LastRunAt    time.Time               `json:"last_run_at"`
	LastStatus   schema.InvocationStatus `json:"last_status"`
	RunCount     int64                   `json:"run_count"`
}
