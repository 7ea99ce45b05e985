package publish

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"

	"github.com/google/go-github/v74/github"

	"github.com/yalochat/sdlc-assistant/internal/engine"
)

const githubAPIBase = "https://api.github.com/"

// GitHubPublisher writes files to an existing repository through the REST
// contents API, one commit per file.
type GitHubPublisher struct {
	baseURL    string
	token      string
	message    string
	httpClient *http.Client
}

// GitHubOption customises a GitHubPublisher.
type GitHubOption func(*GitHubPublisher)

// WithBaseURL points the publisher at a different API host (GitHub Enterprise, tests).
func WithBaseURL(u string) GitHubOption {
	return func(p *GitHubPublisher) { p.baseURL = strings.TrimRight(u, "/") + "/" }
}

// WithToken sets the fallback token used when a target carries no credential.
func WithToken(token string) GitHubOption {
	return func(p *GitHubPublisher) { p.token = token }
}

// WithCommitMessage overrides the per-file commit message.
func WithCommitMessage(msg string) GitHubOption {
	return func(p *GitHubPublisher) { p.message = msg }
}

// NewGitHubPublisher creates a publisher. The fallback token defaults to GITHUB_TOKEN.
func NewGitHubPublisher(opts ...GitHubOption) *GitHubPublisher {
	p := &GitHubPublisher{
		baseURL:    githubAPIBase,
		token:      os.Getenv("GITHUB_TOKEN"),
		message:    "Deploy from SDLC assistant",
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

var _ engine.Publisher = (*GitHubPublisher)(nil)

// Publish implements engine.Publisher. Files are written in name order and
// the first failure stops the push.
func (p *GitHubPublisher) Publish(ctx context.Context, target engine.PublishTarget, files map[string]string) (string, error) {
	owner, repo, err := splitRepo(target.Repo)
	if err != nil {
		return "", err
	}
	token := target.Credential
	if token == "" {
		token = p.token
	}
	if token == "" {
		return "", fmt.Errorf("github token is required")
	}
	client, err := p.client(token)
	if err != nil {
		return "", err
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := p.putFile(ctx, client, owner, repo, target.Branch, name, files[name]); err != nil {
			return "", fmt.Errorf("push %s: %w", name, err)
		}
	}
	return fmt.Sprintf("https://github.com/%s/%s", owner, repo), nil
}

// client is built per publish so every target can carry its own token.
func (p *GitHubPublisher) client(token string) (*github.Client, error) {
	c := github.NewClient(p.httpClient).WithAuthToken(token)
	if p.baseURL != githubAPIBase {
		u, err := url.Parse(p.baseURL)
		if err != nil {
			return nil, fmt.Errorf("parse github base url: %w", err)
		}
		c.BaseURL = u
	}
	return c, nil
}

func (p *GitHubPublisher) putFile(ctx context.Context, client *github.Client, owner, repo, branch, path, content string) error {
	sha, err := fileSHA(ctx, client, owner, repo, branch, path)
	if err != nil {
		return err
	}

	opts := &github.RepositoryContentFileOptions{
		Message: github.Ptr(p.message),
		Content: []byte(content),
	}
	if branch != "" {
		opts.Branch = github.Ptr(branch)
	}
	if sha == "" {
		_, _, err = client.Repositories.CreateFile(ctx, owner, repo, path, opts)
	} else {
		opts.SHA = github.Ptr(sha)
		_, _, err = client.Repositories.UpdateFile(ctx, owner, repo, path, opts)
	}
	if err != nil {
		return fmt.Errorf("github: %w", err)
	}
	return nil
}

// fileSHA returns the blob sha of an existing file, or "" when it does not exist.
func fileSHA(ctx context.Context, client *github.Client, owner, repo, branch, path string) (string, error) {
	var opts *github.RepositoryContentGetOptions
	if branch != "" {
		opts = &github.RepositoryContentGetOptions{Ref: branch}
	}
	file, _, resp, err := client.Repositories.GetContents(ctx, owner, repo, path, opts)
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("github: %w", err)
	}
	if file == nil {
		return "", fmt.Errorf("github: %s is a directory", path)
	}
	return file.GetSHA(), nil
}

// splitRepo accepts "owner/repo" or a github.com URL.
func splitRepo(repo string) (owner, name string, err error) {
	r := strings.TrimSpace(repo)
	r = strings.TrimPrefix(r, "https://")
	r = strings.TrimPrefix(r, "http://")
	r = strings.TrimPrefix(r, "github.com/")
	r = strings.TrimSuffix(strings.TrimSuffix(r, "/"), ".git")

	parts := strings.Split(r, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("repo must look like owner/name, got %q", repo)
	}
	return parts[0], parts[1], nil
}
