package store

import (
	"time"

	"github.com/yalochat/sdlc-assistant/internal/engine"
)

// RunSummary is a lightweight representation for listing runs.
type RunSummary struct {
	ID            string    `json:"id"`
	Stage         string    `json:"stage"`
	Status        string    `json:"stage_status"`
	ArtifactCount int       `json:"artifact_count"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Store is the per-run journal. The engine keeps working state in memory;
// the journal only mirrors it.
type Store interface {
	// Run lifecycle
	CreateRun(state *engine.State) error
	GetRun(runID string) (*RunSummary, error)
	ListRuns() ([]RunSummary, error)
	DeleteRun(runID string) error
	SaveRunMeta(runID string, stage engine.Stage, status engine.StageStatus) error

	// Artifacts
	SaveArtifact(runID string, key, value string) error
	LoadArtifacts(runID string) (map[string]string, error)

	// Metrics
	RecordMetric(runID string, entry engine.MetricsEntry) error
	RecordStageTiming(runID string, stage engine.Stage, durationMs int64) error
	LoadMetricsAggregate(runID string) (engine.MetricsState, error)

	// Executions
	CreateExecution(rec engine.ExecutionRecord) error
	UpdateExecution(rec engine.ExecutionRecord) error
	ListExecutions(runID string) ([]engine.ExecutionRecord, error)

	Close() error
}

var _ engine.RunStore = (Store)(nil)
