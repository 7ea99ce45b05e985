package engine

import "time"

// ExecutionStatus tracks the lifecycle of one stage evaluation.
type ExecutionStatus string

const (
	ExecRunning   ExecutionStatus = "running"
	ExecCompleted ExecutionStatus = "completed"
	ExecFailed    ExecutionStatus = "failed"
	ExecBlocked   ExecutionStatus = "blocked"
)

// ExecutionRecord is the persisted trace of one decision applied to a stage.
type ExecutionRecord struct {
	ID           string          `json:"id"`
	RunID        string          `json:"run_id"`
	Stage        Stage           `json:"stage"`
	Decision     DecisionKind    `json:"decision"`
	Status       ExecutionStatus `json:"status"`
	TokensIn     int64           `json:"tokens_in"`
	TokensOut    int64           `json:"tokens_out"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// ExecutionRecorder persists execution records.
type ExecutionRecorder interface {
	CreateExecution(rec ExecutionRecord) error
	UpdateExecution(rec ExecutionRecord) error
}
