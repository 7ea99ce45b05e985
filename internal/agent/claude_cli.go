package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/yalochat/sdlc-assistant/internal/engine"
)

// ClaudeCLIProvider runs the claude CLI in print mode and parses its
// stream-json output.
type ClaudeCLIProvider struct {
	path  string
	model string
}

// NewClaudeCLIProvider creates a provider; an empty CLIPath means "claude"
// on PATH.
func NewClaudeCLIProvider(cfg Config) *ClaudeCLIProvider {
	path := cfg.CLIPath
	if path == "" {
		path = "claude"
	}
	return &ClaudeCLIProvider{path: path, model: cfg.Model}
}

// Name implements Provider.
func (p *ClaudeCLIProvider) Name() string { return ProviderClaudeCLI }

// Complete implements Provider.
func (p *ClaudeCLIProvider) Complete(ctx context.Context, prompt string) (*Completion, error) {
	args := []string{
		"-p", prompt,
		"--output-format", "stream-json",
		"--verbose",
		"--max-turns", "1",
	}
	if p.model != "" {
		args = append(args, "--model", p.model)
	}

	cmd := exec.CommandContext(ctx, p.path, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	var stderrBuf strings.Builder
	cmd.Stderr = &stderrBuf

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s not found on PATH", engine.ErrAgentUnavailable, p.path)
		}
		return nil, fmt.Errorf("start claude: %w", err)
	}

	c := parseStream(stdout)

	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("wait claude: %w", err)
		}
		stderr := stderrBuf.String()
		if len(stderr) > 2000 {
			stderr = stderr[:2000] + "... (truncated)"
		}
		return nil, fmt.Errorf("claude exited with code %d: %s", exitErr.ExitCode(), strings.TrimSpace(stderr))
	}
	if c.Model == "" {
		c.Model = p.model
	}
	return c, nil
}

// parseStream aggregates assistant text and usage from stream-json lines.
// A final "result" line is authoritative for both.
func parseStream(r io.Reader) *Completion {
	c := &Completion{}
	var text strings.Builder

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var obj map[string]interface{}
		if err := json.Unmarshal(line, &obj); err != nil {
			text.Write(line)
			text.WriteString("\n")
			continue
		}

		switch obj["type"] {
		case "system":
			if model, ok := obj["model"].(string); ok {
				c.Model = model
			}
		case "assistant":
			msg, ok := obj["message"].(map[string]interface{})
			if !ok {
				continue
			}
			if contents, ok := msg["content"].([]interface{}); ok {
				for _, block := range contents {
					cb, ok := block.(map[string]interface{})
					if !ok || cb["type"] != "text" {
						continue
					}
					if s, ok := cb["text"].(string); ok {
						text.WriteString(s)
					}
				}
			}
			in, out := usageOf(msg)
			c.TokensIn += in
			c.TokensOut += out
		case "result":
			if s, ok := obj["result"].(string); ok && s != "" {
				text.Reset()
				text.WriteString(s)
			}
			if _, ok := obj["usage"]; ok {
				c.TokensIn, c.TokensOut = usageOf(obj)
			}
		}
	}

	c.Text = text.String()
	return c
}

func usageOf(obj map[string]interface{}) (in, out int64) {
	usage, ok := obj["usage"].(map[string]interface{})
	if !ok {
		return 0, 0
	}
	if v, ok := usage["input_tokens"].(float64); ok {
		in = int64(v)
	}
	if v, ok := usage["output_tokens"].(float64); ok {
		out = int64(v)
	}
	return in, out
}
