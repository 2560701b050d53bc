package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"

	relay "github.com/goliatone/go-relay"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"

	defaultLabel = "go-relay"
	upSuffix     = ".up.sql"
	downSuffix   = ".down.sql"
)

// schemaDirs locates each dialect's registry schema inside the embedded tree.
// Postgres owns the top level directory; sqlite variants live one level down.
var schemaDirs = []struct {
	dialect string
	dir     string
}{
	{dialect: DialectPostgres, dir: "data/sql/migrations"},
	{dialect: DialectSQLite, dir: "data/sql/migrations/sqlite"},
}

// SchemaSet is the registry schema for one dialect.
type SchemaSet struct {
	Dialect  string
	Dir      string
	FS       fs.FS
	Versions []string
}

type Registration struct {
	Label    string
	Dialects []string
	Sets     []SchemaSet
}

type RegisterFunc func(ctx context.Context, dialect string, label string, fsys fs.FS) error

type Option func(*registerOptions)

type registerOptions struct {
	label    string
	dialects []string
	root     fs.FS
}

// WithDialects limits registration to the named dialects.
func WithDialects(dialects ...string) Option {
	return func(o *registerOptions) {
		if next := normalizeDialects(dialects); len(next) > 0 {
			o.dialects = next
		}
	}
}

func WithLabel(label string) Option {
	return func(o *registerOptions) {
		if trimmed := strings.TrimSpace(label); trimmed != "" {
			o.label = trimmed
		}
	}
}

// WithRoot swaps the embedded schema tree, mostly for tests.
func WithRoot(root fs.FS) Option {
	return func(o *registerOptions) {
		if root != nil {
			o.root = root
		}
	}
}

// SchemaSets resolves every dialect directory under root and checks that
// each version ships both an up and a down file.
func SchemaSets(root fs.FS) ([]SchemaSet, error) {
	if root == nil {
		root = relay.GetMigrationsFS()
	}
	sets := make([]SchemaSet, 0, len(schemaDirs))
	for _, entry := range schemaDirs {
		sub, err := fs.Sub(root, entry.dir)
		if err != nil {
			return nil, fmt.Errorf("migrations: resolve %s schema: %w", entry.dialect, err)
		}
		versions, err := schemaVersions(sub)
		if err != nil {
			return nil, fmt.Errorf("migrations: %s schema in %s: %w", entry.dialect, entry.dir, err)
		}
		sets = append(sets, SchemaSet{
			Dialect:  entry.dialect,
			Dir:      entry.dir,
			FS:       sub,
			Versions: versions,
		})
	}
	return sets, nil
}

func schemaVersions(fsys fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, err
	}
	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		switch {
		case strings.HasSuffix(name, upSuffix):
			ups[strings.TrimSuffix(name, upSuffix)] = true
		case strings.HasSuffix(name, downSuffix):
			downs[strings.TrimSuffix(name, downSuffix)] = true
		}
	}
	if len(ups) == 0 {
		return nil, fmt.Errorf("no %s files", "*"+upSuffix)
	}
	versions := make([]string, 0, len(ups))
	for version := range ups {
		if !downs[version] {
			return nil, fmt.Errorf("version %s has no %s file", version, downSuffix)
		}
		versions = append(versions, version)
	}
	for version := range downs {
		if !ups[version] {
			return nil, fmt.Errorf("version %s has no %s file", version, upSuffix)
		}
	}
	slices.Sort(versions)
	return versions, nil
}

// Register hands the schema of every selected dialect to registerFn,
// typically persistence.Client.RegisterSQLMigrations.
func Register(ctx context.Context, registerFn RegisterFunc, opts ...Option) (Registration, error) {
	options := registerOptions{
		label:    defaultLabel,
		dialects: []string{DialectPostgres, DialectSQLite},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	reg := Registration{Label: options.label, Dialects: options.dialects}
	if registerFn == nil {
		return reg, fmt.Errorf("migrations: register function is required")
	}

	sets, err := SchemaSets(options.root)
	if err != nil {
		return reg, err
	}
	for _, set := range sets {
		if !slices.Contains(options.dialects, set.Dialect) {
			continue
		}
		if err := registerFn(ctx, set.Dialect, reg.Label, set.FS); err != nil {
			return reg, fmt.Errorf("migrations: register %s (%s): %w", set.Dialect, path.Clean(set.Dir), err)
		}
		reg.Sets = append(reg.Sets, set)
	}
	if len(reg.Sets) == 0 {
		return reg, fmt.Errorf("migrations: no schema matches dialects %v", options.dialects)
	}
	return reg, nil
}

func normalizeDialects(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		dialect := strings.ToLower(strings.TrimSpace(value))
		if dialect == "" || slices.Contains(out, dialect) {
			continue
		}
		out = append(out, dialect)
	}
	return out
}
