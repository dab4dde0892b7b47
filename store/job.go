// Package store provides transactional persistence for jobs, executions,
// and system flags. It is the single source of truth for job state shared
// by every worker process on the same database.
package store

import (
	"encoding/json"
	"time"

	"github.com/teranos/flowd/errors"
)

// JobStatus represents the current state of a job
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// IsValidStatus returns true if the status string is a valid JobStatus
func IsValidStatus(s string) bool {
	switch JobStatus(s) {
	case JobStatusQueued, JobStatusProcessing, JobStatusCompleted,
		JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// ValidTransition reports whether moving a job from one status to another
// follows the lifecycle graph:
//
//	queued     -> processing, cancelled
//	processing -> completed, failed, queued
//	failed     -> queued
//	cancelled  -> queued
//	completed  -> (terminal)
//
// Callers log invalid transitions but still apply them: a worker resolving
// a previously timed-out job may legitimately write a terminal state over
// a row the recoverer already reset.
func ValidTransition(from, to JobStatus) bool {
	switch from {
	case JobStatusQueued:
		return to == JobStatusProcessing || to == JobStatusCancelled
	case JobStatusProcessing:
		return to == JobStatusCompleted || to == JobStatusFailed || to == JobStatusQueued
	case JobStatusFailed, JobStatusCancelled:
		return to == JobStatusQueued
	default:
		return false
	}
}

// Job represents a unit of work submitted by the frontend (or enqueued
// locally for batch processing). WorkerID is empty exactly when no worker
// owns the job; a claim sets status and ownership in one transaction.
type Job struct {
	ID          string                 `json:"id"`
	SessionID   string                 `json:"session_id"`
	Mode        string                 `json:"mode"`
	Responses   Input                  `json:"responses,omitempty"`
	UserData    map[string]interface{} `json:"user_data,omitempty"`
	Status      JobStatus              `json:"status"`
	WorkerID    string                 `json:"worker_id,omitempty"`
	Error       string                 `json:"error,omitempty"`
	BatchID     string                 `json:"batch_id,omitempty"`
	FileName    string                 `json:"file_name,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
}

// IsBatch reports whether this is a batch job sourced from the local store
// rather than the frontend. Batch results are written to a filesystem
// directory instead of being mirrored over HTTP.
func (j *Job) IsBatch() bool {
	return j.BatchID != ""
}

// Input holds the opaque pipeline payload submitted with a job. The
// frontend sends either a structured JSON object or a plain string; batch
// jobs carry raw document text. Raw takes precedence when both are set.
type Input struct {
	Fields map[string]interface{}
	Raw    string
}

// IsZero reports whether no payload was provided.
func (in Input) IsZero() bool {
	return in.Fields == nil && in.Raw == ""
}

// MarshalJSON encodes the structured form when present, otherwise the raw
// string.
func (in Input) MarshalJSON() ([]byte, error) {
	if in.Fields != nil {
		return json.Marshal(in.Fields)
	}
	return json.Marshal(in.Raw)
}

// UnmarshalJSON accepts either a JSON object or a JSON string. Any other
// literal (array, number) is preserved verbatim in Raw so nothing the
// frontend sends is lost.
func (in *Input) UnmarshalJSON(data []byte) error {
	text := string(data)
	if text == "" || text == "null" {
		*in = Input{}
		return nil
	}

	if text[0] == '{' {
		var fields map[string]interface{}
		if err := json.Unmarshal(data, &fields); err != nil {
			return errors.Wrap(err, "failed to unmarshal responses object")
		}
		*in = Input{Fields: fields}
		return nil
	}

	var raw string
	if err := json.Unmarshal(data, &raw); err == nil {
		*in = Input{Raw: raw}
		return nil
	}

	*in = Input{Raw: text}
	return nil
}

// JSONString returns the payload as JSON text, the form the pipeline
// receives in its questionnaire_responses variable.
func (in Input) JSONString() (string, error) {
	data, err := json.Marshal(in)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal responses")
	}
	return string(data), nil
}

// RawText returns the primary text input of a batch job: the raw string
// form if present, otherwise a raw_text field inside the structured form.
func (in Input) RawText() string {
	if in.Raw != "" {
		return in.Raw
	}
	if s, ok := in.Fields["raw_text"].(string); ok {
		return s
	}
	return ""
}
