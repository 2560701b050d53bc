package snapshot

import (
	"context"
	"errors"
	"time"
)

// defaultRemoteTimeout bounds each HTTP request of the remotes when the
// caller supplies no client timeout.
const defaultRemoteTimeout = 30 * time.Second

// ErrNoSnapshot reports that a source holds no snapshot to restore.
var ErrNoSnapshot = errors.New("snapshot: no snapshot available")

// Source is a place snapshots can be restored from.
type Source interface {
	Name() string
	// List returns snapshot names, newest first.
	List(ctx context.Context) ([]string, error)
	Fetch(ctx context.Context, name string) (Bundle, error)
}

// Publisher receives a copy of every exported snapshot.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, bundle Bundle) (string, error)
}

var (
	_ Source    = (*LocalArchive)(nil)
	_ Publisher = (*LocalArchive)(nil)
	_ Source    = (*GitHubRemote)(nil)
	_ Publisher = (*GitHubRemote)(nil)
	_ Source    = (*URLSource)(nil)
)
