// Package agent turns agent task invocations into language-model calls.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/yalochat/sdlc-assistant/internal/engine"
	"github.com/yalochat/sdlc-assistant/internal/prompts"
)

// Completion is one provider response.
type Completion struct {
	Text      string
	Model     string
	TokensIn  int64
	TokensOut int64
}

// Provider sends a single prompt to a language model.
type Provider interface {
	Name() string
	Complete(ctx context.Context, prompt string) (*Completion, error)
}

// taskOutputs maps each task to the context key it returns.
var taskOutputs = map[string]string{
	engine.TaskRequirement:        engine.ArtifactUserStories,
	engine.TaskProductOwnerReview: engine.ArtifactPOReview,
	engine.TaskDesign:             engine.ArtifactDesignDoc,
	engine.TaskDesignReview:       engine.ArtifactDesignReview,
	engine.TaskCodeGeneration:     engine.ArtifactCode,
	engine.TaskCodeReview:         engine.ArtifactCodeReview,
	engine.TaskSecurityReview:     engine.ArtifactSecurityReview,
	engine.TaskTestCaseGeneration: engine.ArtifactTestCases,
	engine.TaskTestCaseReview:     engine.ArtifactTestCaseReview,
	engine.TaskQATesting:          engine.ArtifactQAResult,
	engine.TaskMonitoring:         engine.ArtifactMonitoring,
	engine.TaskMaintenance:        engine.ArtifactMaintenance,
}

// OutputKey returns the context key a task produces.
func OutputKey(task string) (string, bool) {
	k, ok := taskOutputs[task]
	return k, ok
}

// Gateway implements engine.Gateway on top of a Provider. It makes exactly
// one provider call per invocation.
type Gateway struct {
	provider Provider
	timeout  time.Duration
	logger   *slog.Logger
}

// NewGateway wraps p. A zero timeout leaves the caller's deadline alone.
func NewGateway(p Provider, timeout time.Duration, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Gateway{provider: p, timeout: timeout, logger: logger}
}

// Provider returns the wrapped provider.
func (g *Gateway) Provider() Provider { return g.provider }

// Invoke runs one agent task.
func (g *Gateway) Invoke(ctx context.Context, task string, input map[string]string) (*engine.AgentResult, error) {
	if g == nil || g.provider == nil {
		return nil, engine.ErrAgentUnavailable
	}
	key, ok := taskOutputs[task]
	if !ok {
		return nil, &engine.AgentInvocationError{Task: task, Err: errors.New("unknown task")}
	}
	prompt, err := prompts.Build(task, input)
	if err != nil {
		return nil, &engine.AgentInvocationError{Task: task, Err: err}
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	c, err := g.provider.Complete(ctx, prompt)
	if err != nil {
		if errors.Is(err, engine.ErrAgentUnavailable) {
			return nil, err
		}
		return nil, &engine.AgentInvocationError{Task: task, Err: err}
	}
	g.logger.Debug("agent task completed",
		"task", task,
		"provider", g.provider.Name(),
		"model", c.Model,
		"tokens_in", c.TokensIn,
		"tokens_out", c.TokensOut,
		"duration", time.Since(start),
	)

	text := strings.TrimSpace(c.Text)
	if text == "" {
		return nil, &engine.AgentInvocationError{Task: task, Err: fmt.Errorf("%s returned no text", g.provider.Name())}
	}
	if task == engine.TaskCodeGeneration {
		text = ExtractCodeBlock(text)
	}

	return &engine.AgentResult{
		Outputs:   map[string]string{key: text},
		Model:     c.Model,
		TokensIn:  c.TokensIn,
		TokensOut: c.TokensOut,
	}, nil
}
