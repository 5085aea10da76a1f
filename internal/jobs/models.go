package jobs

import (
	"time"

	"pharma-orchestrator/internal/orchestrator"
)

type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// Job is one asynchronous query. Result is set once Status is done.
// ProcessInstanceKey is set once the job has been started as a BPMN process.
type Job struct {
	ID                 string                 `json:"jobId"`
	Status             Status                 `json:"status"`
	Request            orchestrator.Request   `json:"request"`
	Result             *orchestrator.Response `json:"result,omitempty"`
	Error              string                 `json:"error,omitempty"`
	ProcessInstanceKey int64                  `json:"processInstanceKey,omitempty"`
	CreatedAt          time.Time              `json:"createdAt"`
	StartedAt          *time.Time             `json:"startedAt,omitempty"`
	FinishedAt         *time.Time             `json:"finishedAt,omitempty"`
	DurationMs         int64                  `json:"durationMs,omitempty"`
}

// CompletedEvent is published as agent.completed when a job finishes.
type CompletedEvent struct {
	JobID      string    `json:"jobId"`
	Status     Status    `json:"status"`
	UserID     string    `json:"userId,omitempty"`
	DurationMs int64     `json:"durationMs"`
	Summary    string    `json:"summary"`
	AgentsUsed []string  `json:"agentsUsed,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
