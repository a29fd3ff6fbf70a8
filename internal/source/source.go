// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package source resolves logical query names to SQL text stored as files in a
// single directory.
//
// Files ending in ".sql" are either ordinary named queries (name = file name
// without extension) or, when the file name starts with MigrationPrefix,
// migrations. Migrations are never addressable by name; they are listed in
// lexicographic file-name order for the migration runner.
//
// In cached mode the directory is read once by Load and every Resolve is a map
// lookup. In live mode every Resolve reads the file again, so edits take effect
// without a restart.
package source

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"sqlgate/cli/internal/logging"

	"github.com/pterm/pterm"
	"github.com/spf13/afero"
)

const (
	// Ext is the file extension of SQL sources.
	Ext = ".sql"
	// MigrationPrefix marks a file as a migration.
	MigrationPrefix = "_"
)

// ErrNotFound is returned when no source exists for a name.
var ErrNotFound = errors.New("sql source not found")

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.\-]*$`)

// File is a migration file in the SQL directory.
type File struct {
	// Name is the full file name, e.g. "_0001_create_users.sql".
	Name string
	Path string
}

// Options configures a Resolver.
type Options struct {
	Dir string
	// Fs defaults to the OS filesystem.
	Fs afero.Fs
	// Cache selects cached mode; false selects live mode.
	Cache  bool
	Logger *pterm.Logger
}

// Resolver maps query names to SQL text.
type Resolver struct {
	fs     afero.Fs
	dir    string
	cached bool
	logger *pterm.Logger

	mu         sync.RWMutex
	queries    map[string]string
	migrations []File
}

// New creates a Resolver. In cached mode the directory is loaded immediately.
func New(opts Options) (*Resolver, error) {
	if strings.TrimSpace(opts.Dir) == "" {
		return nil, errors.New("sql directory is required")
	}
	fs := opts.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	r := &Resolver{
		fs:      fs,
		dir:     opts.Dir,
		cached:  opts.Cache,
		logger:  logging.OrDiscard(opts.Logger),
		queries: make(map[string]string),
	}
	if r.cached {
		if err := r.Load(); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Dir returns the SQL directory.
func (r *Resolver) Dir() string { return r.dir }

// Cached reports whether the resolver runs in cached mode.
func (r *Resolver) Cached() bool { return r.cached }

// IsMigration reports whether a file name denotes a migration.
func IsMigration(fileName string) bool {
	return strings.HasPrefix(fileName, MigrationPrefix) && isSQLFile(fileName)
}

func isSQLFile(fileName string) bool {
	return strings.EqualFold(filepath.Ext(fileName), Ext)
}

// queryName returns the query name for a file, or "" if the file is not an
// addressable query.
func queryName(fileName string) string {
	if !isSQLFile(fileName) || strings.HasPrefix(fileName, MigrationPrefix) {
		return ""
	}
	name := strings.TrimSuffix(fileName, filepath.Ext(fileName))
	if !validName(name) {
		return ""
	}
	return name
}

func validName(name string) bool {
	return namePattern.MatchString(name) && !strings.Contains(name, "..")
}

// scan enumerates the directory and classifies its files.
func (r *Resolver) scan() (queries []File, migrations []File, err error) {
	entries, err := afero.ReadDir(r.fs, r.dir)
	if err != nil {
		return nil, nil, fmt.Errorf("read sql dir %s: %w", r.dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		f := File{Name: entry.Name(), Path: filepath.Join(r.dir, entry.Name())}
		switch {
		case IsMigration(f.Name):
			migrations = append(migrations, f)
		case queryName(f.Name) != "":
			queries = append(queries, f)
		}
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Name < migrations[j].Name })
	return queries, migrations, nil
}

// Load reads the directory into the cache, replacing its previous contents.
// It is safe to call while other goroutines Resolve.
func (r *Resolver) Load() error {
	files, migrations, err := r.scan()
	if err != nil {
		return err
	}
	queries := make(map[string]string, len(files))
	for _, f := range files {
		data, err := afero.ReadFile(r.fs, f.Path)
		if err != nil {
			return fmt.Errorf("read %s: %w", f.Name, err)
		}
		queries[queryName(f.Name)] = string(data)
	}

	r.mu.Lock()
	r.queries = queries
	r.migrations = migrations
	r.mu.Unlock()

	r.logger.Debug("loaded sql sources", r.logger.Args("dir", r.dir, "queries", len(queries), "migrations", len(migrations)))
	return nil
}

// Resolve returns the SQL text for a query name.
func (r *Resolver) Resolve(name string) (string, error) {
	if !validName(name) || strings.HasPrefix(name, MigrationPrefix) {
		return "", fmt.Errorf("%w: %q", ErrNotFound, name)
	}

	if r.cached {
		r.mu.RLock()
		text, ok := r.queries[name]
		r.mu.RUnlock()
		if !ok {
			return "", fmt.Errorf("%w: %q", ErrNotFound, name)
		}
		return text, nil
	}

	data, err := afero.ReadFile(r.fs, filepath.Join(r.dir, name+Ext))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %q", ErrNotFound, name)
		}
		return "", fmt.Errorf("read %s: %w", name, err)
	}
	return string(data), nil
}

// Names returns the addressable query names in sorted order.
func (r *Resolver) Names() ([]string, error) {
	var names []string
	if r.cached {
		r.mu.RLock()
		for name := range r.queries {
			names = append(names, name)
		}
		r.mu.RUnlock()
	} else {
		files, _, err := r.scan()
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			names = append(names, queryName(f.Name))
		}
	}
	sort.Strings(names)
	return names, nil
}

// Migrations returns migration files ordered by file name ascending.
func (r *Resolver) Migrations() ([]File, error) {
	if r.cached {
		r.mu.RLock()
		defer r.mu.RUnlock()
		return append([]File(nil), r.migrations...), nil
	}
	_, migrations, err := r.scan()
	return migrations, err
}

// ReadMigration returns the SQL text of a migration file.
func (r *Resolver) ReadMigration(f File) (string, error) {
	data, err := afero.ReadFile(r.fs, f.Path)
	if err != nil {
		return "", fmt.Errorf("read migration %s: %w", f.Name, err)
	}
	return string(data), nil
}
