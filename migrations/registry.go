package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"

	mailflow "github.com/goliatone/go-mailflow"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"

	SourceLabel = "go-mailflow"
	rootDir     = "data/sql/migrations"
)

// Set is the migration directory for one dialect. Versions are the numeric
// prefixes of its up files, in order.
type Set struct {
	Dialect  string
	Dir      string
	FS       fs.FS
	Versions []string
}

// ApplyFunc receives each selected set, typically to hand it to a
// persistence client.
type ApplyFunc func(ctx context.Context, dialect string, source string, fsys fs.FS) error

type Option func(*registerOptions)

type registerOptions struct {
	root     fs.FS
	dialects []string
}

// WithDialects limits registration to the named dialects.
func WithDialects(dialects ...string) Option {
	return func(o *registerOptions) {
		selected := make([]string, 0, len(dialects))
		for _, dialect := range dialects {
			dialect = strings.ToLower(strings.TrimSpace(dialect))
			if dialect != "" && !slices.Contains(selected, dialect) {
				selected = append(selected, dialect)
			}
		}
		if len(selected) > 0 {
			o.dialects = selected
		}
	}
}

func WithRoot(root fs.FS) Option {
	return func(o *registerOptions) {
		if root != nil {
			o.root = root
		}
	}
}

// Sets reads the postgres set from data/sql/migrations and the sqlite set
// from its sqlite subdirectory. Both must carry the same versions and every
// up file needs a down file.
func Sets(root fs.FS) ([]Set, error) {
	if root == nil {
		root = mailflow.GetMigrationsFS()
	}
	postgres, err := readSet(root, DialectPostgres, rootDir)
	if err != nil {
		return nil, err
	}
	sqlite, err := readSet(root, DialectSQLite, path.Join(rootDir, "sqlite"))
	if err != nil {
		return nil, err
	}
	if !slices.Equal(postgres.Versions, sqlite.Versions) {
		return nil, fmt.Errorf("migrations: postgres versions %v do not match sqlite versions %v",
			postgres.Versions, sqlite.Versions)
	}
	return []Set{postgres, sqlite}, nil
}

func readSet(root fs.FS, dialect string, dir string) (Set, error) {
	sub, err := fs.Sub(root, dir)
	if err != nil {
		return Set{}, fmt.Errorf("migrations: open %s: %w", dir, err)
	}
	ups, err := fs.Glob(sub, "*.up.sql")
	if err != nil {
		return Set{}, fmt.Errorf("migrations: list %s: %w", dir, err)
	}
	if len(ups) == 0 {
		return Set{}, fmt.Errorf("migrations: %s has no up migrations", dir)
	}
	slices.Sort(ups)

	set := Set{Dialect: dialect, Dir: dir, FS: sub}
	for _, up := range ups {
		down := strings.TrimSuffix(up, ".up.sql") + ".down.sql"
		if _, err := fs.Stat(sub, down); err != nil {
			return Set{}, fmt.Errorf("migrations: %s/%s has no down migration", dir, up)
		}
		version, _, ok := strings.Cut(up, "_")
		if !ok || version == "" {
			return Set{}, fmt.Errorf("migrations: %s/%s has no version prefix", dir, up)
		}
		if slices.Contains(set.Versions, version) {
			return Set{}, fmt.Errorf("migrations: %s version %s is duplicated", dir, version)
		}
		set.Versions = append(set.Versions, version)
	}
	return set, nil
}

// Register validates every set and passes the selected dialects to apply.
// It returns the sets that were applied.
func Register(ctx context.Context, apply ApplyFunc, opts ...Option) ([]Set, error) {
	if apply == nil {
		return nil, fmt.Errorf("migrations: apply function is required")
	}
	options := registerOptions{dialects: []string{DialectPostgres, DialectSQLite}}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	sets, err := Sets(options.root)
	if err != nil {
		return nil, err
	}

	applied := make([]Set, 0, len(options.dialects))
	for _, set := range sets {
		if !slices.Contains(options.dialects, set.Dialect) {
			continue
		}
		if err := apply(ctx, set.Dialect, SourceLabel, set.FS); err != nil {
			return applied, fmt.Errorf("migrations: apply %s: %w", set.Dialect, err)
		}
		applied = append(applied, set)
	}
	if len(applied) == 0 {
		return nil, fmt.Errorf("migrations: no migration set for dialects %v", options.dialects)
	}
	return applied, nil
}
