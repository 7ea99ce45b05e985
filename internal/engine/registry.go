package engine

import (
	"fmt"
	"sort"
)

// Agent task names understood by the gateway.
const (
	TaskRequirement        = "requirement"
	TaskProductOwnerReview = "product_owner_review"
	TaskDesign             = "design"
	TaskDesignReview       = "design_review"
	TaskCodeGeneration     = "code_generation"
	TaskCodeReview         = "code_review"
	TaskSecurityReview     = "security_review"
	TaskTestCaseGeneration = "test_case_generation"
	TaskTestCaseReview     = "test_case_review"
	TaskQATesting          = "qa_testing"
	TaskMonitoring         = "monitoring"
	TaskMaintenance        = "maintenance"
)

// StepWhen decides on which evaluations a task step runs.
type StepWhen string

const (
	// OnEntry runs when the stage is entered (advance, navigate, retry),
	// not when it is re-rendered after feedback.
	OnEntry StepWhen = "entry"
	// OnRender runs on entry and on every re-render after feedback.
	OnRender StepWhen = "render"
	// IfAbsent runs only while the step's artifact is missing.
	IfAbsent StepWhen = "if_absent"
	// OnSubmit runs only when the operator submits new input. Navigating to
	// or retrying a settled stage leaves its output alone.
	OnSubmit StepWhen = "submit"
)

// TaskStep is one agent call inside a stage.
type TaskStep struct {
	Task   string   `yaml:"task" json:"task"`
	Inputs []string `yaml:"inputs" json:"inputs"`
	// Output is the key the gateway returns; StoreAs overrides where it lands.
	Output  string   `yaml:"output" json:"output"`
	StoreAs string   `yaml:"store_as,omitempty" json:"store_as,omitempty"`
	When    StepWhen `yaml:"when" json:"when"`
}

// Key returns the artifact key the step writes.
func (s TaskStep) Key() string {
	if s.StoreAs != "" {
		return s.StoreAs
	}
	return s.Output
}

// FeedbackKind tags how a stage revises its artifacts.
type FeedbackKind string

const (
	FeedbackNone       FeedbackKind = "none"
	FeedbackReplace    FeedbackKind = "replace"
	FeedbackAppend     FeedbackKind = "append"
	FeedbackRegenerate FeedbackKind = "regenerate_with_context"
	FeedbackIgnore     FeedbackKind = "ignore"
)

// FeedbackPolicy is attached to each stage and dispatched by the engine.
//
//   - Replace writes the feedback text verbatim into every target.
//   - Append adds Prefix+text to the single target.
//   - RegenerateWithContext re-invokes Step with the feedback in context and
//     replaces its artifact.
//   - Ignore leaves the stage's artifacts untouched and only records the text
//     under the targets.
type FeedbackPolicy struct {
	Kind    FeedbackKind `yaml:"kind" json:"kind"`
	Targets []string     `yaml:"targets,omitempty" json:"targets,omitempty"`
	Prefix  string       `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	Step    *TaskStep    `yaml:"step,omitempty" json:"step,omitempty"`
	// Rerender re-runs OnRender steps after the feedback is applied.
	Rerender bool `yaml:"rerender" json:"rerender"`
}

// Loops reports whether the stage has a feedback self-loop.
func (p FeedbackPolicy) Loops() bool {
	return p.Kind != "" && p.Kind != FeedbackNone
}

// StageSpec is one row of the stage registry.
type StageSpec struct {
	Name     Stage    `yaml:"name" json:"name"`
	Order    int      `yaml:"order" json:"order"`
	Requires []string `yaml:"requires,omitempty" json:"requires,omitempty"`
	// Optional keys are legible when present but never block the stage.
	Optional  []string          `yaml:"optional,omitempty" json:"optional,omitempty"`
	Steps     []TaskStep        `yaml:"steps,omitempty" json:"steps,omitempty"`
	Produces  []string          `yaml:"produces,omitempty" json:"produces,omitempty"`
	Feedback  FeedbackPolicy    `yaml:"feedback" json:"feedback"`
	OnApprove map[string]string `yaml:"on_approve,omitempty" json:"on_approve,omitempty"`
	// AcceptsInput marks the stage that takes the free-text problem statement.
	AcceptsInput bool `yaml:"accepts_input,omitempty" json:"accepts_input,omitempty"`
	// Publishes marks the stage whose alternative branch calls the publisher.
	Publishes bool `yaml:"publishes,omitempty" json:"publishes,omitempty"`
}

// AllowsFeedbackLoop reports whether SubmitFeedback is a legal decision.
func (s *StageSpec) AllowsFeedbackLoop() bool {
	return s.Feedback.Loops()
}

// Legible returns every key the stage may read.
func (s *StageSpec) Legible() map[string]bool {
	keys := make(map[string]bool)
	for _, k := range s.Requires {
		keys[k] = true
	}
	for _, k := range s.Optional {
		keys[k] = true
	}
	for _, st := range s.Steps {
		keys[st.Key()] = true
	}
	return keys
}

// Registry is the ordered, static table of stages.
type Registry struct {
	stages []*StageSpec
	byName map[Stage]*StageSpec
}

// NewRegistry builds a registry from specs and validates it.
func NewRegistry(specs []StageSpec) (*Registry, error) {
	r := &Registry{byName: make(map[Stage]*StageSpec, len(specs))}
	for i := range specs {
		spec := specs[i]
		if _, dup := r.byName[spec.Name]; dup {
			return nil, fmt.Errorf("duplicate stage %q", spec.Name)
		}
		r.stages = append(r.stages, &spec)
		r.byName[spec.Name] = &spec
	}
	sort.SliceStable(r.stages, func(i, j int) bool { return r.stages[i].Order < r.stages[j].Order })
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Validate checks ordering and that every step only reads legible keys.
func (r *Registry) Validate() error {
	if len(r.stages) == 0 {
		return fmt.Errorf("registry has no stages")
	}
	for i, s := range r.stages {
		if i > 0 && r.stages[i-1].Order == s.Order {
			return fmt.Errorf("stages %q and %q share order %d", r.stages[i-1].Name, s.Name, s.Order)
		}
		legible := make(map[string]bool)
		for _, k := range s.Requires {
			legible[k] = true
		}
		for _, k := range s.Optional {
			legible[k] = true
		}
		for _, st := range s.Steps {
			if st.When == OnSubmit && !s.AcceptsInput {
				return fmt.Errorf("stage %q step %s waits for input the stage never accepts", s.Name, st.Task)
			}
			for _, in := range st.Inputs {
				if !legible[in] {
					return fmt.Errorf("stage %q step %s reads undeclared key %q", s.Name, st.Task, in)
				}
			}
			legible[st.Key()] = true
		}
		if s.Feedback.Kind == FeedbackRegenerate {
			if s.Feedback.Step == nil {
				return fmt.Errorf("stage %q regenerates without a step", s.Name)
			}
			for _, in := range s.Feedback.Step.Inputs {
				if in != ContextFeedback && !legible[in] {
					return fmt.Errorf("stage %q feedback step reads undeclared key %q", s.Name, in)
				}
			}
		}
		if (s.Feedback.Kind == FeedbackReplace || s.Feedback.Kind == FeedbackAppend || s.Feedback.Kind == FeedbackIgnore) && len(s.Feedback.Targets) == 0 {
			return fmt.Errorf("stage %q feedback policy %s has no targets", s.Name, s.Feedback.Kind)
		}
	}
	return nil
}

// Stages returns the specs in order.
func (r *Registry) Stages() []*StageSpec {
	out := make([]*StageSpec, len(r.stages))
	copy(out, r.stages)
	return out
}

// First returns the initial stage.
func (r *Registry) First() *StageSpec { return r.stages[0] }

// Terminal returns the last stage.
func (r *Registry) Terminal() *StageSpec { return r.stages[len(r.stages)-1] }

// Lookup returns the spec for a stage name.
func (r *Registry) Lookup(name Stage) (*StageSpec, error) {
	s, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStage, name)
	}
	return s, nil
}

// Next returns the immediate successor, or nil at the terminal stage.
func (r *Registry) Next(name Stage) *StageSpec {
	for i, s := range r.stages {
		if s.Name == name && i+1 < len(r.stages) {
			return r.stages[i+1]
		}
	}
	return nil
}

// DefaultStages is the SDLC stage table.
func DefaultStages() []StageSpec {
	return []StageSpec{
		{
			Name:         StageRequirements,
			Order:        1,
			Optional:     []string{ArtifactInput},
			AcceptsInput: true,
			Steps: []TaskStep{
				{Task: TaskRequirement, Inputs: []string{ArtifactInput}, Output: ArtifactUserStories, When: OnSubmit},
			},
			Produces: []string{ArtifactUserStories},
			Feedback: FeedbackPolicy{Kind: FeedbackNone},
		},
		{
			Name:     StageUserStories,
			Order:    2,
			Requires: []string{ArtifactUserStories},
			Steps: []TaskStep{
				{Task: TaskProductOwnerReview, Inputs: []string{ArtifactUserStories}, Output: ArtifactPOReview, StoreAs: ArtifactPOSuggestion, When: OnRender},
			},
			Produces:  []string{ArtifactPOSuggestion, ArtifactPOReview},
			OnApprove: map[string]string{ArtifactPOReview: approvedValue},
			Feedback: FeedbackPolicy{
				Kind:     FeedbackReplace,
				Targets:  []string{ArtifactUserStories, ArtifactPOReview},
				Rerender: true,
			},
		},
		{
			Name:     StageDesign,
			Order:    3,
			Requires: []string{ArtifactInput, ArtifactUserStories, ArtifactPOReview},
			Steps: []TaskStep{
				{Task: TaskDesign, Inputs: []string{ArtifactInput, ArtifactUserStories, ArtifactPOReview}, Output: ArtifactDesignDoc, When: OnEntry},
				{Task: TaskDesignReview, Inputs: []string{ArtifactDesignDoc}, Output: ArtifactDesignReview, When: OnEntry},
			},
			Produces:  []string{ArtifactDesignDoc, ArtifactDesignReview},
			OnApprove: map[string]string{ArtifactDesignReviewStatus: approvedValue},
			Feedback: FeedbackPolicy{
				Kind:    FeedbackIgnore,
				Targets: []string{ArtifactDesignReviewStatus},
			},
		},
		{
			Name:     StageCode,
			Order:    4,
			Requires: []string{ArtifactDesignDoc},
			Steps: []TaskStep{
				{Task: TaskCodeGeneration, Inputs: []string{ArtifactDesignDoc}, Output: ArtifactCode, When: OnEntry},
				{Task: TaskCodeReview, Inputs: []string{ArtifactCode}, Output: ArtifactCodeReview, When: OnEntry},
				{Task: TaskSecurityReview, Inputs: []string{ArtifactCode}, Output: ArtifactSecurityReview, When: OnEntry},
			},
			Produces:  []string{ArtifactCode, ArtifactCodeReview, ArtifactSecurityReview},
			OnApprove: map[string]string{ArtifactCodeReview: approvedValue},
			Feedback: FeedbackPolicy{
				Kind:    FeedbackReplace,
				Targets: []string{ArtifactCodeReview, ArtifactSecurityReview},
			},
		},
		{
			Name:     StageTestCases,
			Order:    5,
			Requires: []string{ArtifactCode},
			Steps: []TaskStep{
				{Task: TaskTestCaseGeneration, Inputs: []string{ArtifactCode}, Output: ArtifactTestCases, When: IfAbsent},
				{Task: TaskTestCaseReview, Inputs: []string{ArtifactTestCases}, Output: ArtifactTestCaseReview, When: OnRender},
			},
			Produces: []string{ArtifactTestCases, ArtifactTestCaseReview},
			Feedback: FeedbackPolicy{
				Kind: FeedbackRegenerate,
				Step: &TaskStep{
					Task:   TaskTestCaseGeneration,
					Inputs: []string{ArtifactCode, ContextFeedback},
					Output: ArtifactTestCases,
				},
				Rerender: true,
			},
		},
		{
			Name:     StageQA,
			Order:    6,
			Requires: []string{ArtifactTestCases, ArtifactCode},
			Steps: []TaskStep{
				{Task: TaskQATesting, Inputs: []string{ArtifactTestCases, ArtifactCode}, Output: ArtifactQAResult, When: OnEntry},
			},
			Produces: []string{ArtifactQAResult},
			Feedback: FeedbackPolicy{
				Kind:    FeedbackAppend,
				Targets: []string{ArtifactQAResult},
				Prefix:  "\n\nUser QA Feedback: ",
			},
		},
		{
			Name:      StageDeployment,
			Order:     7,
			Optional:  []string{ArtifactCode, ArtifactDesignDoc, ArtifactTestCases, ArtifactQAResult},
			Produces:  []string{ArtifactDeploymentStatus},
			Publishes: true,
			OnApprove: map[string]string{ArtifactDeploymentStatus: "Code marked as deployed (not pushed)."},
			Feedback:  FeedbackPolicy{Kind: FeedbackNone},
		},
		{
			Name:  StageMonitoring,
			Order: 8,
			Steps: []TaskStep{
				{Task: TaskMonitoring, Output: ArtifactMonitoring, When: OnEntry},
			},
			Produces: []string{ArtifactMonitoring},
			Feedback: FeedbackPolicy{Kind: FeedbackNone},
		},
		{
			Name:     StageMaintenance,
			Order:    9,
			Requires: []string{ArtifactMonitoring},
			Steps: []TaskStep{
				{Task: TaskMaintenance, Inputs: []string{ArtifactMonitoring}, Output: ArtifactMaintenance, When: OnEntry},
			},
			Produces: []string{ArtifactMaintenance},
			Feedback: FeedbackPolicy{Kind: FeedbackNone},
		},
	}
}

// DefaultRegistry returns the validated SDLC registry.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultStages())
	if err != nil {
		panic(fmt.Sprintf("default registry: %v", err))
	}
	return r
}
