// Package publish pushes a deployment bundle to a repository.
package publish

import (
	"context"
	"os"
	"path/filepath"

	"github.com/yalochat/sdlc-assistant/internal/engine"
)

// Router sends targets that name a local git checkout to the local
// publisher and everything else to the remote one.
type Router struct {
	Remote engine.Publisher
	Local  engine.Publisher
}

var _ engine.Publisher = (*Router)(nil)

// Publish implements engine.Publisher.
func (r *Router) Publish(ctx context.Context, target engine.PublishTarget, files map[string]string) (string, error) {
	if r.Local != nil && isCheckout(target.Repo) {
		return r.Local.Publish(ctx, target, files)
	}
	return r.Remote.Publish(ctx, target, files)
}

func isCheckout(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(filepath.Join(path, ".git"))
	return err == nil && info.IsDir()
}
