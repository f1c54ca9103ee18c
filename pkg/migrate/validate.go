package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/multierr"
)

var sqlFileRe = regexp.MustCompile(`^(\d{14})_([a-z0-9_]+)\.sql$`)

// File is one goose SQL migration on disk.
type File struct {
	Version int64
	Name    string
	Path    string
}

// Scan lists the SQL migrations in dir in version order. Every malformed
// file is reported, not only the first.
func Scan(dir string) ([]File, error) {
	if dir == "" {
		return nil, fmt.Errorf("dir is required")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %q: %w", dir, err)
	}

	var (
		files []File
		errs  error
		seen  = map[int64]string{}
	)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		file, err := parseName(dir, e.Name())
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if prev, ok := seen[file.Version]; ok {
			errs = multierr.Append(errs, fmt.Errorf("duplicate migration version %d in %q and %q", file.Version, prev, e.Name()))
			continue
		}
		seen[file.Version] = e.Name()
		if err := checkAnnotations(file); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		files = append(files, file)
	}
	if errs != nil {
		return nil, errs
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Version < files[j].Version })
	return files, nil
}

// ValidateDir checks filenames and goose annotations in dir.
func ValidateDir(dir string) error {
	_, err := Scan(dir)
	return err
}

func parseName(dir, name string) (File, error) {
	m := sqlFileRe.FindStringSubmatch(name)
	if m == nil {
		return File{}, fmt.Errorf("invalid migration filename %q (expected YYYYMMDDHHMMSS_name.sql)", name)
	}
	version, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return File{}, fmt.Errorf("migration %q version: %w", name, err)
	}
	return File{Version: version, Name: m[2], Path: filepath.Join(dir, name)}, nil
}

func checkAnnotations(file File) error {
	b, err := os.ReadFile(file.Path)
	if err != nil {
		return fmt.Errorf("read file %q: %w", file.Path, err)
	}
	txt := string(b)
	name := filepath.Base(file.Path)

	var errs error
	up := strings.Index(txt, "-- +goose Up")
	down := strings.Index(txt, "-- +goose Down")
	switch {
	case up < 0:
		errs = multierr.Append(errs, fmt.Errorf("migration %q missing \"-- +goose Up\"", name))
	case down < 0:
		errs = multierr.Append(errs, fmt.Errorf("migration %q missing \"-- +goose Down\"", name))
	case down < up:
		errs = multierr.Append(errs, fmt.Errorf("migration %q has Down before Up", name))
	}
	// Enum and trigger DDL needs explicit statement blocks.
	begins := strings.Count(txt, "-- +goose StatementBegin")
	ends := strings.Count(txt, "-- +goose StatementEnd")
	if begins != ends {
		errs = multierr.Append(errs, fmt.Errorf("migration %q has %d StatementBegin but %d StatementEnd", name, begins, ends))
	}
	return errs
}
