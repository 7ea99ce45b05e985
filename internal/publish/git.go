package publish

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/yalochat/sdlc-assistant/internal/engine"
)

// GitPublisher writes the bundle into a local checkout, commits it and
// pushes to origin. The target repo is the checkout directory.
type GitPublisher struct {
	message string
	push    bool
}

// NewGitPublisher creates a publisher. With push false the commit stays local.
func NewGitPublisher(message string, push bool) *GitPublisher {
	if message == "" {
		message = "Deploy from SDLC assistant"
	}
	return &GitPublisher{message: message, push: push}
}

var _ engine.Publisher = (*GitPublisher)(nil)

// Publish implements engine.Publisher.
func (g *GitPublisher) Publish(ctx context.Context, target engine.PublishTarget, files map[string]string) (string, error) {
	dir, err := filepath.Abs(target.Repo)
	if err != nil {
		return "", fmt.Errorf("resolve checkout: %w", err)
	}
	if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
		return "", fmt.Errorf("%s is not a git checkout", dir)
	}

	if target.Branch != "" {
		if err := gitRun(ctx, dir, "checkout", "-B", target.Branch); err != nil {
			return "", err
		}
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(files[name]), 0644); err != nil {
			return "", fmt.Errorf("write %s: %w", name, err)
		}
	}

	if err := commitAll(ctx, dir, g.message, names); err != nil {
		return "", err
	}
	if g.push {
		if err := gitRun(ctx, dir, "push", "-u", "origin", "HEAD"); err != nil {
			return "", err
		}
	}
	return dir, nil
}

// hasChanges checks if there are uncommitted changes.
func hasChanges(ctx context.Context, dir string) (bool, error) {
	cmd := exec.CommandContext(ctx, "git", "status", "--porcelain")
	cmd.Dir = dir
	output, err := cmd.Output()
	if err != nil {
		return false, fmt.Errorf("git status: %w", err)
	}
	return len(strings.TrimSpace(string(output))) > 0, nil
}

// commitAll stages the given files and commits them if anything changed.
func commitAll(ctx context.Context, dir, message string, names []string) error {
	if err := gitRun(ctx, dir, append([]string{"add", "--"}, names...)...); err != nil {
		return err
	}
	changed, err := hasChanges(ctx, dir)
	if err != nil || !changed {
		return err
	}
	return gitRun(ctx, dir, "commit", "-m", message)
}

func gitRun(ctx context.Context, dir string, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git %s: %s", args[0], strings.TrimSpace(string(out)))
	}
	return nil
}
