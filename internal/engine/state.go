package engine

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Stage is one node of the delivery workflow.
type Stage string

const (
	StageRequirements Stage = "Requirements"
	StageUserStories  Stage = "User Stories"
	StageDesign       Stage = "Design Document"
	StageCode         Stage = "Code Generation"
	StageTestCases    Stage = "Write & Review Test Cases"
	StageQA           Stage = "QA Testing"
	StageDeployment   Stage = "Deployment"
	StageMonitoring   Stage = "Monitoring"
	StageMaintenance  Stage = "Maintenance"
)

// StageStatus represents the status of the current stage.
type StageStatus string

const (
	StatusPending   StageStatus = "pending"
	StatusRunning   StageStatus = "running"
	StatusGate      StageStatus = "gate"
	StatusBlocked   StageStatus = "blocked"
	StatusFailed    StageStatus = "failed"
	StatusCompleted StageStatus = "completed"
)

// State is the mutable session of one workflow run. The Artifacts store is
// owned exclusively by the run.
type State struct {
	RunID       string       `json:"run_id"`
	Stage       Stage        `json:"stage"`
	StageStatus StageStatus  `json:"stage_status"`
	Artifacts   *Artifacts   `json:"-"`
	Metrics     MetricsState `json:"metrics"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// MetricsState holds aggregate metrics.
type MetricsState struct {
	TokensIn     int64            `json:"tokens_in"`
	TokensOut    int64            `json:"tokens_out"`
	ByAgent      map[string]Usage `json:"by_agent"`
	StageTimings map[string]int64 `json:"stage_timings"`
}

// Usage tracks token usage for a single agent task.
type Usage struct {
	TokensIn  int64 `json:"tokens_in"`
	TokensOut int64 `json:"tokens_out"`
	Calls     int   `json:"calls"`
}

// NewState creates a fresh state positioned on the first stage.
func NewState(runID string, first Stage) *State {
	if runID == "" {
		runID = uuid.New().String()[:8]
	}
	now := time.Now()
	return &State{
		RunID:       runID,
		Stage:       first,
		StageStatus: StatusPending,
		Artifacts:   NewArtifacts(runID, nil),
		Metrics: MetricsState{
			ByAgent:      make(map[string]Usage),
			StageTimings: make(map[string]int64),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Manifest seeds a run from a file instead of the interactive surface.
type Manifest struct {
	Input  string `yaml:"input"`
	GitHub struct {
		Repo   string `yaml:"repo"`
		Branch string `yaml:"branch"`
	} `yaml:"github"`
}

// LoadManifest reads a run manifest (YAML).
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if m.Input == "" {
		return nil, fmt.Errorf("manifest must define input")
	}
	return &m, nil
}
