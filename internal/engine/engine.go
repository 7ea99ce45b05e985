package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Gateway invokes one named agent task. Implementations make exactly one
// external call and never retry.
type Gateway interface {
	Invoke(ctx context.Context, task string, input map[string]string) (*AgentResult, error)
}

// AgentResult is the output context of one agent task.
type AgentResult struct {
	Outputs   map[string]string
	Model     string
	TokensIn  int64
	TokensOut int64
}

// RunStore is the subset of store.Store that Engine needs (avoids import cycle).
type RunStore interface {
	ArtifactWriter
	MetricRecorder
	ExecutionRecorder
	CreateRun(state *State) error
	SaveRunMeta(runID string, stage Stage, status StageStatus) error
}

// Options configures a new Engine. Only Registry defaults; a nil Gateway
// yields an engine that reports a configuration condition on every decision.
type Options struct {
	RunID     string
	Registry  *Registry
	Gateway   Gateway
	Publisher Publisher
	Store     RunStore
	Logger    *slog.Logger
}

// Engine is the workflow controller of a single run. Decisions are applied
// one at a time.
type Engine struct {
	State   *State
	Events  *EventBus
	Metrics *MetricsCollector
	Store   RunStore

	registry  *Registry
	gateway   Gateway
	publisher Publisher
	logger    *slog.Logger
	mu        sync.Mutex
}

// New creates a run positioned on the first stage with an empty store.
func New(opts Options) (*Engine, error) {
	reg := opts.Registry
	if reg == nil {
		reg = DefaultRegistry()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	state := NewState(opts.RunID, reg.First().Name)
	if opts.Store != nil {
		state.Artifacts = NewArtifacts(state.RunID, opts.Store)
	}

	eng := &Engine{
		State:     state,
		Events:    NewEventBus(),
		Store:     opts.Store,
		registry:  reg,
		gateway:   opts.Gateway,
		publisher: opts.Publisher,
		logger:    logger.With("run_id", state.RunID),
	}
	var recorder MetricRecorder
	if opts.Store != nil {
		recorder = opts.Store
	}
	eng.Metrics = NewMetricsCollector(recorder, state.RunID, &eng.State.Metrics, eng.Events)

	if opts.Store != nil {
		if err := opts.Store.CreateRun(state); err != nil {
			return nil, fmt.Errorf("create run in store: %w", err)
		}
	}
	return eng, nil
}

// Registry returns the stage table driving this run.
func (e *Engine) Registry() *Registry { return e.registry }

// Configured reports whether stages can execute.
func (e *Engine) Configured() bool { return e.gateway != nil }

// View returns the current render snapshot.
func (e *Engine) View() *View {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.view(nil)
}

// Export lists every artifact as a downloadable file. Only available once
// the run sits on the terminal stage.
func (e *Engine) Export() ([]ExportFile, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.State.Stage != e.registry.Terminal().Name {
		return nil, ErrExportUnavailable
	}
	return ExportFiles(e.State.Artifacts.Snapshot()), nil
}

// Decide applies one decision: at most one stage evaluation follows. Every
// failure is returned as an error and also rendered as View.Condition; the
// run itself stays usable.
func (e *Engine) Decide(ctx context.Context, d Decision) (*View, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	logger := e.logger.With("stage", e.State.Stage, "decision", d.Kind)
	logger.Info("decision received")

	now := time.Now()
	rec := ExecutionRecord{
		ID:        uuid.New().String()[:12],
		RunID:     e.State.RunID,
		Stage:     e.State.Stage,
		Decision:  d.Kind,
		Status:    ExecRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if e.Store != nil {
		if err := e.Store.CreateExecution(rec); err != nil {
			logger.Warn("record execution", "error", err)
		}
	}

	tally := &AgentResult{}
	err := e.apply(ctx, d, tally)

	rec.Stage = e.State.Stage
	rec.TokensIn = tally.TokensIn
	rec.TokensOut = tally.TokensOut
	rec.UpdatedAt = time.Now()
	var missing *MissingArtifactError
	switch {
	case err == nil:
		rec.Status = ExecCompleted
	case errors.As(err, &missing):
		rec.Status = ExecBlocked
		rec.ErrorMessage = err.Error()
	default:
		rec.Status = ExecFailed
		rec.ErrorMessage = err.Error()
	}
	if e.Store != nil {
		if uerr := e.Store.UpdateExecution(rec); uerr != nil {
			logger.Warn("update execution", "error", uerr)
		}
	}

	if err != nil {
		logger.Warn("decision reported condition", "error", err)
		e.Events.Publish(Event{Type: EventError, Data: ConditionFor(err)})
	} else {
		e.Events.Publish(Event{
			Type: EventDecision,
			Data: map[string]string{"decision": string(d.Kind), "stage": string(e.State.Stage)},
		})
	}
	return e.view(err), err
}

func (e *Engine) apply(ctx context.Context, d Decision, tally *AgentResult) error {
	if e.gateway == nil {
		return &ConfigurationError{Reason: "select a model provider and enter its API key to proceed"}
	}
	spec, err := e.registry.Lookup(e.State.Stage)
	if err != nil {
		return err
	}

	switch d.Kind {
	case DecisionSubmitInput:
		if !spec.AcceptsInput {
			return notAllowed(spec, d.Kind)
		}
		if strings.TrimSpace(d.Text) == "" {
			return fmt.Errorf("%w: describe the software requirement", ErrEmptyText)
		}
		e.put(ArtifactInput, d.Text)
		return e.enter(ctx, spec, OnSubmit, nil, tally)

	case DecisionApprove:
		next := e.registry.Next(spec.Name)
		if next == nil {
			return fmt.Errorf("%w: %s", ErrTerminalStage, spec.Name)
		}
		if err := e.requireGate(spec, d.Kind); err != nil {
			return err
		}
		keys := make([]string, 0, len(spec.OnApprove))
		for k := range spec.OnApprove {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			e.put(k, spec.OnApprove[k])
		}
		return e.enter(ctx, next, OnEntry, nil, tally)

	case DecisionFeedback:
		if !spec.AllowsFeedbackLoop() {
			return notAllowed(spec, d.Kind)
		}
		if err := e.requireGate(spec, d.Kind); err != nil {
			return err
		}
		if strings.TrimSpace(d.Text) == "" {
			return fmt.Errorf("%w: feedback is empty", ErrEmptyText)
		}
		return e.feedback(ctx, spec, d.Text, tally)

	case DecisionNavigate:
		target, err := e.registry.Lookup(d.Target)
		if err != nil {
			return err
		}
		return e.enter(ctx, target, OnEntry, nil, tally)

	case DecisionRetry:
		// A failed evaluation committed nothing, so it is replayed in full.
		mode := OnEntry
		if e.State.StageStatus == StatusFailed {
			mode = OnSubmit
		}
		return e.enter(ctx, spec, mode, nil, tally)

	case DecisionPublish:
		if !spec.Publishes {
			return notAllowed(spec, d.Kind)
		}
		if err := e.requireGate(spec, d.Kind); err != nil {
			return err
		}
		return e.publish(ctx, spec, d.Publish, tally)
	}
	return fmt.Errorf("%w: unknown decision %q", ErrTransitionNotAllowed, d.Kind)
}

// enter evaluates a stage: guard, agent steps, then a single commit of the
// staged outputs. Nothing is written when any step fails. Values already in
// staged are committed together with the steps' outputs.
func (e *Engine) enter(ctx context.Context, spec *StageSpec, mode StepWhen, staged map[string]string, tally *AgentResult) error {
	start := time.Now()
	e.setStage(spec.Name, StatusRunning)
	e.Events.Publish(Event{
		Type: EventStageEntered,
		Data: map[string]string{"stage": string(spec.Name), "mode": string(mode)},
	})

	if missing := e.missing(spec); len(missing) > 0 {
		e.setStage(spec.Name, StatusBlocked)
		e.Events.Publish(Event{
			Type: EventStageBlocked,
			Data: map[string]interface{}{"stage": spec.Name, "missing": missing},
		})
		return &MissingArtifactError{Stage: spec.Name, Keys: missing}
	}

	if staged == nil {
		staged = make(map[string]string)
	}
	order := make([]string, 0, len(staged)+len(spec.Steps))
	for k := range staged {
		order = append(order, k)
	}
	sort.Strings(order)
	for _, step := range spec.Steps {
		if !e.shouldRun(step, mode, staged) {
			continue
		}
		out, err := e.invoke(ctx, spec.Name, step, e.contextFor(step.Inputs, staged), tally)
		if err != nil {
			e.setStage(spec.Name, StatusFailed)
			e.Events.Publish(Event{
				Type: EventStageFailed,
				Data: map[string]string{"stage": string(spec.Name), "task": step.Task, "error": err.Error()},
			})
			return err
		}
		if _, seen := staged[step.Key()]; !seen {
			order = append(order, step.Key())
		}
		staged[step.Key()] = out
	}
	for _, k := range order {
		e.put(k, staged[k])
	}

	if err := e.Metrics.RecordStageTiming(spec.Name, time.Since(start).Milliseconds()); err != nil {
		e.logger.Warn("record stage timing", "stage", spec.Name, "error", err)
	}

	if e.awaitingInput(spec) {
		e.setStage(spec.Name, StatusPending)
		return nil
	}
	if spec.Name == e.registry.Terminal().Name {
		e.setStage(spec.Name, StatusCompleted)
		e.Events.Publish(Event{Type: EventRunCompleted, Data: map[string]string{"run_id": e.State.RunID}})
		e.logger.Info("workflow complete")
		return nil
	}
	e.setStage(spec.Name, StatusGate)
	e.Events.Publish(Event{Type: EventStageGate, Data: map[string]string{"stage": string(spec.Name)}})
	return nil
}

func (e *Engine) feedback(ctx context.Context, spec *StageSpec, text string, tally *AgentResult) error {
	p := spec.Feedback
	var staged map[string]string
	switch p.Kind {
	case FeedbackReplace, FeedbackIgnore:
		for _, k := range p.Targets {
			e.put(k, text)
		}
	case FeedbackAppend:
		for _, k := range p.Targets {
			prev, _ := e.State.Artifacts.Lookup(k)
			e.put(k, prev+p.Prefix+text)
		}
	case FeedbackRegenerate:
		step := *p.Step
		var keys []string
		for _, k := range step.Inputs {
			if k != ContextFeedback {
				keys = append(keys, k)
			}
		}
		input := e.contextFor(keys, nil)
		input[ContextFeedback] = text
		out, err := e.invoke(ctx, spec.Name, step, input, tally)
		if err != nil {
			return err
		}
		staged = map[string]string{step.Key(): out}
	default:
		return notAllowed(spec, DecisionFeedback)
	}
	e.logger.Info("feedback applied", "stage", spec.Name, "policy", p.Kind)

	if p.Rerender {
		return e.enter(ctx, spec, OnRender, staged, tally)
	}
	for k, v := range staged {
		e.put(k, v)
	}
	return nil
}

func (e *Engine) publish(ctx context.Context, spec *StageSpec, target *PublishTarget, tally *AgentResult) error {
	if target == nil || strings.TrimSpace(target.Repo) == "" {
		return &PublishError{Err: errors.New("repository is required")}
	}
	if e.publisher == nil {
		return &PublishError{Target: target.Repo, Err: errors.New("no publisher configured")}
	}

	files := Bundle(e.legibleSnapshot(spec))
	location, err := e.publisher.Publish(ctx, *target, files)
	if err != nil {
		var pubErr *PublishError
		if errors.As(err, &pubErr) {
			return err
		}
		return &PublishError{Target: target.Repo, Err: err}
	}
	e.logger.Info("bundle published", "repo", target.Repo, "location", location, "files", len(files))

	e.put(ArtifactDeploymentStatus, deployedStatus(target.Repo))
	next := e.registry.Next(spec.Name)
	if next == nil {
		return nil
	}
	return e.enter(ctx, next, OnEntry, nil, tally)
}

func (e *Engine) invoke(ctx context.Context, stage Stage, step TaskStep, input map[string]string, tally *AgentResult) (string, error) {
	e.Events.Publish(Event{
		Type: EventAgentSpawned,
		Data: map[string]string{"agent": step.Task, "stage": string(stage)},
	})
	e.logger.Debug("invoking agent", "task", step.Task, "inputs", len(input))

	start := time.Now()
	res, err := e.gateway.Invoke(ctx, step.Task, input)
	elapsed := time.Since(start)
	if err != nil {
		var cfgErr *ConfigurationError
		if errors.As(err, &cfgErr) {
			return "", err
		}
		if errors.Is(err, ErrAgentUnavailable) {
			return "", &ConfigurationError{Reason: err.Error()}
		}
		var agentErr *AgentInvocationError
		if errors.As(err, &agentErr) {
			return "", err
		}
		return "", &AgentInvocationError{Task: step.Task, Err: err}
	}
	if res == nil {
		return "", &AgentInvocationError{Task: step.Task, Err: errors.New("empty agent result")}
	}
	out, ok := res.Outputs[step.Output]
	if !ok {
		return "", &AgentInvocationError{Task: step.Task, Err: fmt.Errorf("agent output has no %q", step.Output)}
	}

	tally.TokensIn += res.TokensIn
	tally.TokensOut += res.TokensOut
	if err := e.Metrics.Record(MetricsEntry{
		Timestamp: time.Now(),
		Agent:     step.Task,
		Model:     res.Model,
		TokensIn:  res.TokensIn,
		TokensOut: res.TokensOut,
		Duration:  elapsed.Milliseconds(),
		Stage:     stage,
	}); err != nil {
		e.logger.Warn("record metric", "task", step.Task, "error", err)
	}

	e.Events.Publish(Event{
		Type: EventAgentCompleted,
		Data: map[string]string{"agent": step.Task, "stage": string(stage)},
	})
	return out, nil
}

func (e *Engine) shouldRun(step TaskStep, mode StepWhen, staged map[string]string) bool {
	switch step.When {
	case OnRender:
		return true
	case OnSubmit:
		return mode == OnSubmit
	case IfAbsent:
		if _, ok := staged[step.Key()]; ok {
			return false
		}
		return !e.State.Artifacts.Has(step.Key())
	default:
		return mode == OnEntry || mode == OnSubmit
	}
}

// awaitingInput reports a stage whose submit-only output was never produced.
func (e *Engine) awaitingInput(spec *StageSpec) bool {
	for _, step := range spec.Steps {
		if step.When == OnSubmit && !e.State.Artifacts.Has(step.Key()) {
			return true
		}
	}
	return false
}

// contextFor builds an agent context from declared keys only; staged values
// from earlier steps of the same evaluation win over the store.
func (e *Engine) contextFor(keys []string, staged map[string]string) map[string]string {
	input := make(map[string]string, len(keys)+1)
	for _, k := range keys {
		if v, ok := staged[k]; ok {
			input[k] = v
			continue
		}
		if v, ok := e.State.Artifacts.Lookup(k); ok {
			input[k] = v
		}
	}
	return input
}

func (e *Engine) legibleSnapshot(spec *StageSpec) map[string]string {
	snap := make(map[string]string)
	for k := range spec.Legible() {
		if v, ok := e.State.Artifacts.Lookup(k); ok {
			snap[k] = v
		}
	}
	return snap
}

func (e *Engine) missing(spec *StageSpec) []string {
	var missing []string
	for _, k := range spec.Requires {
		if !e.State.Artifacts.Has(k) {
			missing = append(missing, k)
		}
	}
	return missing
}

func (e *Engine) requireGate(spec *StageSpec, kind DecisionKind) error {
	if e.State.StageStatus != StatusGate {
		return fmt.Errorf("%w: %s while stage %q is %s", ErrTransitionNotAllowed, kind, spec.Name, e.State.StageStatus)
	}
	return nil
}

func (e *Engine) put(key, value string) {
	if err := e.State.Artifacts.Put(key, value); err != nil {
		e.logger.Warn("artifact journal write failed", "key", key, "error", err)
	}
	e.Events.Publish(Event{Type: EventArtifact, Data: map[string]string{"key": key}})
}

func (e *Engine) setStage(stage Stage, status StageStatus) {
	e.State.Stage = stage
	e.State.StageStatus = status
	e.State.UpdatedAt = time.Now()
	if e.Store != nil {
		if err := e.Store.SaveRunMeta(e.State.RunID, stage, status); err != nil {
			e.logger.Warn("save run meta", "error", err)
		}
	}
}

func (e *Engine) view(err error) *View {
	v := &View{
		RunID:     e.State.RunID,
		Stage:     e.State.Stage,
		Status:    e.State.StageStatus,
		Artifacts: e.State.Artifacts.Snapshot(),
		Condition: ConditionFor(err),
	}
	if spec, lerr := e.registry.Lookup(e.State.Stage); lerr == nil {
		v.Available = e.available(spec)
		v.Complete = e.complete(spec)
	}
	return v
}

func (e *Engine) available(spec *StageSpec) []DecisionKind {
	var kinds []DecisionKind
	status := e.State.StageStatus
	if spec.AcceptsInput {
		kinds = append(kinds, DecisionSubmitInput)
	}
	if status == StatusGate {
		if e.registry.Next(spec.Name) != nil {
			kinds = append(kinds, DecisionApprove)
		}
		if spec.AllowsFeedbackLoop() {
			kinds = append(kinds, DecisionFeedback)
		}
		if spec.Publishes {
			kinds = append(kinds, DecisionPublish)
		}
	}
	if status != StatusPending {
		kinds = append(kinds, DecisionRetry)
	}
	return append(kinds, DecisionNavigate)
}

func (e *Engine) complete(spec *StageSpec) bool {
	if spec.Name != e.registry.Terminal().Name || e.State.StageStatus != StatusCompleted {
		return false
	}
	for _, k := range spec.Produces {
		if !e.State.Artifacts.Has(k) {
			return false
		}
	}
	return true
}

func notAllowed(spec *StageSpec, kind DecisionKind) error {
	return fmt.Errorf("%w: %s at stage %q", ErrTransitionNotAllowed, kind, spec.Name)
}
