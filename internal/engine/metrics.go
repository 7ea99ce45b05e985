package engine

import (
	"sync"
	"time"
)

// MetricsEntry is a single agent invocation.
type MetricsEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Agent     string    `json:"agent"`
	Model     string    `json:"model"`
	TokensIn  int64     `json:"tokens_in"`
	TokensOut int64     `json:"tokens_out"`
	Duration  int64     `json:"duration_ms"`
	Stage     Stage     `json:"stage"`
}

// MetricRecorder is the interface the MetricsCollector uses to persist entries.
type MetricRecorder interface {
	RecordMetric(runID string, entry MetricsEntry) error
	RecordStageTiming(runID string, stage Stage, durationMs int64) error
}

// MetricsCollector collects and persists agent metrics.
type MetricsCollector struct {
	mu    sync.Mutex
	store MetricRecorder
	runID string
	state *MetricsState
	bus   *EventBus
}

// NewMetricsCollector creates a collector backed by a store (may be nil).
func NewMetricsCollector(st MetricRecorder, runID string, state *MetricsState, bus *EventBus) *MetricsCollector {
	return &MetricsCollector{
		store: st,
		runID: runID,
		state: state,
		bus:   bus,
	}
}

// Record logs a single agent invocation.
func (mc *MetricsCollector) Record(entry MetricsEntry) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.state.TokensIn += entry.TokensIn
	mc.state.TokensOut += entry.TokensOut

	usage := mc.state.ByAgent[entry.Agent]
	usage.TokensIn += entry.TokensIn
	usage.TokensOut += entry.TokensOut
	usage.Calls++
	mc.state.ByAgent[entry.Agent] = usage

	var err error
	if mc.store != nil {
		err = mc.store.RecordMetric(mc.runID, entry)
	}

	mc.bus.Publish(Event{
		Type: EventMetricsUpdated,
		Data: entry,
	})

	return err
}

// RecordStageTiming records how long the last evaluation of a stage took.
func (mc *MetricsCollector) RecordStageTiming(stage Stage, durationMs int64) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.state.StageTimings[string(stage)] = durationMs

	if mc.store != nil {
		return mc.store.RecordStageTiming(mc.runID, stage, durationMs)
	}
	return nil
}

// Snapshot returns a copy of the aggregate.
func (mc *MetricsCollector) Snapshot() MetricsState {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	cp := MetricsState{
		TokensIn:     mc.state.TokensIn,
		TokensOut:    mc.state.TokensOut,
		ByAgent:      make(map[string]Usage, len(mc.state.ByAgent)),
		StageTimings: make(map[string]int64, len(mc.state.StageTimings)),
	}
	for k, v := range mc.state.ByAgent {
		cp.ByAgent[k] = v
	}
	for k, v := range mc.state.StageTimings {
		cp.StageTimings[k] = v
	}
	return cp
}
