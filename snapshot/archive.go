package snapshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goliatone/go-relay/core"
)

const DefaultRetain = 24

// LocalArchive keeps snapshots as backup-* directories under one root.
type LocalArchive struct {
	dir    string
	retain int
}

func NewLocalArchive(dir string, retain int) (*LocalArchive, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("snapshot: archive directory is required")
	}
	if retain <= 0 {
		retain = DefaultRetain
	}
	return &LocalArchive{dir: dir, retain: retain}, nil
}

func (a *LocalArchive) Name() string {
	return "local"
}

func (a *LocalArchive) Dir() string {
	return a.dir
}

// Save writes the bundle to <dir>/<name>. Files are staged in a hidden
// directory and renamed into place so readers never see a partial snapshot.
func (a *LocalArchive) Save(_ context.Context, bundle Bundle) (string, error) {
	if err := validateBackupName(bundle.Name); err != nil {
		return "", err
	}
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return "", fmt.Errorf("snapshot: create archive directory: %w", err)
	}
	target := filepath.Join(a.dir, bundle.Name)
	staging, err := os.MkdirTemp(a.dir, "."+bundle.Name+"-")
	if err != nil {
		return "", fmt.Errorf("snapshot: create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	for _, file := range Files() {
		data, ok := bundle.file(file)
		if !ok {
			continue
		}
		if err := os.WriteFile(filepath.Join(staging, file), data, 0o644); err != nil {
			return "", fmt.Errorf("snapshot: write %s: %w", file, err)
		}
	}
	if err := os.Rename(staging, target); err != nil {
		return "", fmt.Errorf("snapshot: publish %s: %w", bundle.Name, err)
	}
	return target, nil
}

// Publish lets the archive act as a snapshot publisher.
func (a *LocalArchive) Publish(ctx context.Context, bundle Bundle) (string, error) {
	return a.Save(ctx, bundle)
}

// List returns backup names, newest first.
func (a *LocalArchive) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("snapshot: read archive directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() && isBackupName(entry.Name()) {
			names = append(names, entry.Name())
		}
	}
	SortNewestFirst(names)
	return names, nil
}

func (a *LocalArchive) Latest(ctx context.Context) (string, bool, error) {
	names, err := a.List(ctx)
	if err != nil || len(names) == 0 {
		return "", false, err
	}
	return names[0], true, nil
}

func (a *LocalArchive) Fetch(_ context.Context, name string) (Bundle, error) {
	if err := validateBackupName(name); err != nil {
		return Bundle{}, err
	}
	root := filepath.Join(a.dir, name)
	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Bundle{}, fmt.Errorf("snapshot: backup %s: %w", name, ErrNoSnapshot)
		}
		return Bundle{}, fmt.Errorf("snapshot: stat backup %s: %w", name, err)
	}
	if !info.IsDir() {
		return Bundle{}, fmt.Errorf("snapshot: backup %s is not a directory", name)
	}

	bundle := Bundle{Name: name, Files: map[string][]byte{}}
	for _, file := range Files() {
		data, err := os.ReadFile(filepath.Join(root, file))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return Bundle{}, fmt.Errorf("snapshot: read %s/%s: %w", name, file, err)
		}
		bundle.Files[file] = data
	}
	return bundle, nil
}

// Details describes one archived snapshot.
type Details struct {
	Name      string
	Timestamp time.Time
	Metadata  *core.SnapshotMetadata
	FileSizes map[string]int64
}

func (a *LocalArchive) Details(ctx context.Context, name string) (Details, error) {
	bundle, err := a.Fetch(ctx, name)
	if err != nil {
		return Details{}, err
	}
	details := Details{Name: name, FileSizes: map[string]int64{}}
	if at, ok := ParseBackupName(name); ok {
		details.Timestamp = at
	}
	for file, data := range bundle.Files {
		details.FileSizes[file] = int64(len(data))
	}
	meta, ok, err := bundle.Metadata()
	if err != nil {
		return Details{}, err
	}
	if ok {
		details.Metadata = &meta
	}
	return details, nil
}

// Prune removes all but the newest retain backups and returns the removed
// names.
func (a *LocalArchive) Prune(ctx context.Context) ([]string, error) {
	names, err := a.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(names) <= a.retain {
		return nil, nil
	}
	removed := make([]string, 0, len(names)-a.retain)
	for _, name := range names[a.retain:] {
		if err := os.RemoveAll(filepath.Join(a.dir, name)); err != nil {
			return removed, fmt.Errorf("snapshot: remove %s: %w", name, err)
		}
		removed = append(removed, name)
	}
	return removed, nil
}

func validateBackupName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("snapshot: invalid backup name %q", name)
	}
	return nil
}
