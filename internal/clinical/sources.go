package clinical

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"bidsmeta/internal/fs"
	"bidsmeta/internal/table"
)

// Sources locates and parses clinical CSV files by glob pattern.
//
// Parsed tables are cached per pattern for the lifetime of the Sources value.
// A [Converter] keeps one Sources for all the tables it writes, so each
// export is parsed (and repaired) once per run.
type Sources struct {
	fsys  fs.FS
	dir   string
	stats *Stats
	cache map[string]*table.Table
}

// NewSources returns a Sources reading from the clinical data directory dir.
// stats may be nil.
func NewSources(fsys fs.FS, dir string, stats *Stats) *Sources {
	if stats == nil {
		stats = &Stats{}
	}

	return &Sources{
		fsys:  fsys,
		dir:   dir,
		stats: stats,
		cache: make(map[string]*table.Table),
	}
}

// Resolve returns the path of the file in the clinical directory matching
// pattern. The match is single level. When several files match, the first in
// name order is used.
func (s *Sources) Resolve(pattern string) (string, error) {
	if _, err := filepath.Match(pattern, ""); err != nil {
		return "", fmt.Errorf("pattern %q: %w", pattern, err)
	}

	entries, err := s.fsys.ReadDir(s.dir)
	if err != nil {
		return "", fmt.Errorf("list clinical data %s: %w", s.dir, err)
	}

	var matches []string

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		if ok, _ := filepath.Match(pattern, entry.Name()); ok {
			matches = append(matches, entry.Name())
		}
	}

	if len(matches) == 0 {
		return "", fmt.Errorf("%w: no file matching %q in %s", ErrSourceNotFound, pattern, s.dir)
	}

	slices.Sort(matches)

	return filepath.Join(s.dir, matches[0]), nil
}

// Load returns the parsed table for pattern, reading it on first use.
func (s *Sources) Load(pattern string) (*table.Table, error) {
	if tbl, ok := s.cache[pattern]; ok {
		return tbl, nil
	}

	path, err := s.Resolve(pattern)
	if err != nil {
		return nil, err
	}

	data, err := s.fsys.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var opts table.ReadOptions
	if isFlutemeta(pattern) {
		opts.BadLine = func(fields []string) ([]string, bool) {
			fixed, ok := RepairFlutemeta(fields)
			if ok {
				s.stats.RepairedRows++
			}

			return fixed, ok
		}
	}

	tbl, err := table.ReadCSV(bytes.NewReader(data), opts)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	s.stats.SourcesRead++
	s.cache[pattern] = tbl

	return tbl, nil
}

// LoadOptional is Load, but a pattern that matches no file yields ok=false
// instead of an error.
func (s *Sources) LoadOptional(pattern string) (*table.Table, bool, error) {
	tbl, err := s.Load(pattern)
	if errors.Is(err, ErrSourceNotFound) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, err
	}

	return tbl, true, nil
}

func isFlutemeta(pattern string) bool {
	return strings.Contains(pattern, "flutemeta")
}

// Known malformation of the AIBL flutemeta export: a free-text field holding
// a comma splits into "measured" and the scanner name, shifting the last
// column right by one.
const (
	flutemetaSplitHead = "measured"
	flutemetaSplitTail = "AUSTIN AC CT Brain  H19s"
)

// RepairFlutemeta collapses the split free-text field of a malformed
// flutemeta row into the missing code:
//
//	[..., "1", "measured", "AUSTIN AC CT Brain  H19s", "0"] -> [..., "1", "-4", "0"]
//
// Rows of any other shape are not repaired.
func RepairFlutemeta(fields []string) ([]string, bool) {
	n := len(fields)
	if n < 3 || fields[n-3] != flutemetaSplitHead || fields[n-2] != flutemetaSplitTail {
		return nil, false
	}

	fixed := make([]string, 0, n-1)
	fixed = append(fixed, fields[:n-3]...)
	fixed = append(fixed, MissingCode, fields[n-1])

	return fixed, true
}
