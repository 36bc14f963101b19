package model

import (
	"encoding/json"
	"time"
)

// ExecutionStatus represents the outcome of one execution attempt
type ExecutionStatus string

const (
	ExecutionStatusSuccess ExecutionStatus = "success"
	ExecutionStatusFailed  ExecutionStatus = "failed"
)

// ExecutionRecord is the log entry for one execution attempt that started.
// It is finalized before it is persisted and never mutated after.
type ExecutionRecord struct {
	ID         string          `json:"id"`
	ScheduleID string          `json:"schedule_id"`
	Status     ExecutionStatus `json:"status"`
	Error      string          `json:"error,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// TriggerResult is the outcome reported to a manual trigger caller
type TriggerResult struct {
	Status      ExecutionStatus `json:"status"`
	Error       string          `json:"error,omitempty"`
	ExecutionID string          `json:"execution_id,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
}
