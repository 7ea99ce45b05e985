package engine

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrArtifactNotFound     = errors.New("artifact not found")
	ErrAgentUnavailable     = errors.New("no language model configured")
	ErrTransitionNotAllowed = errors.New("transition not allowed")
	ErrTerminalStage        = errors.New("terminal stage has no outgoing transition")
	ErrUnknownStage         = errors.New("unknown stage")
	ErrExportUnavailable    = errors.New("artifacts are exportable at the terminal stage only")
	ErrEmptyText            = errors.New("text is required")
)

// ConfigurationError blocks all stage execution until a model and credential
// are configured.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration: " + e.Reason
}

func (e *ConfigurationError) Unwrap() error { return ErrAgentUnavailable }

// MissingArtifactError means a stage guard failed; the upstream stage that
// produces the keys has to run first.
type MissingArtifactError struct {
	Stage Stage
	Keys  []string
}

func (e *MissingArtifactError) Error() string {
	return fmt.Sprintf("stage %q is missing required artifacts: %s", e.Stage, strings.Join(e.Keys, ", "))
}

// AgentInvocationError wraps a provider-side failure of one agent task.
type AgentInvocationError struct {
	Task string
	Err  error
}

func (e *AgentInvocationError) Error() string {
	return fmt.Sprintf("agent task %s failed: %v", e.Task, e.Err)
}

func (e *AgentInvocationError) Unwrap() error { return e.Err }

// PublishError means the deployment push failed and no file counts as pushed.
type PublishError struct {
	Target string
	Err    error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish to %s failed: %v", e.Target, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// ConditionKind classifies a reported condition for the decision surface.
type ConditionKind string

const (
	ConditionConfiguration   ConditionKind = "configuration"
	ConditionMissingArtifact ConditionKind = "missing_artifact"
	ConditionAgent           ConditionKind = "agent_invocation"
	ConditionPublish         ConditionKind = "publish"
	ConditionInvalid         ConditionKind = "invalid_decision"
)

// Condition is an error turned into something the surface can render.
type Condition struct {
	Kind    ConditionKind `json:"kind"`
	Message string        `json:"message"`
	Missing []string      `json:"missing,omitempty"`
}

// ConditionFor classifies err. It returns nil for a nil error.
func ConditionFor(err error) *Condition {
	if err == nil {
		return nil
	}
	c := &Condition{Kind: ConditionInvalid, Message: err.Error()}
	var cfgErr *ConfigurationError
	var missErr *MissingArtifactError
	var agentErr *AgentInvocationError
	var pubErr *PublishError
	switch {
	case errors.As(err, &cfgErr), errors.Is(err, ErrAgentUnavailable):
		c.Kind = ConditionConfiguration
	case errors.As(err, &missErr):
		c.Kind = ConditionMissingArtifact
		c.Missing = missErr.Keys
	case errors.As(err, &agentErr):
		c.Kind = ConditionAgent
	case errors.As(err, &pubErr):
		c.Kind = ConditionPublish
	}
	return c
}
