// Package mapping loads the clinical specification tables that map a study's
// source columns to BIDS field names.
//
// A specification table is tab separated and covers several studies at once.
// For a study named S the relevant columns are:
//
//	BIDS CLINICA        target BIDS field name
//	S location          glob pattern of the source CSV
//	S                   column name in that CSV
//	Modalities related  modality group (scans table only)
//
// Rows where any of these is empty do not apply to S and are skipped.
package mapping

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"bidsmeta/internal/bids"
	"bidsmeta/internal/fs"
	"bidsmeta/internal/table"
)

// ErrSpecificationNotFound is returned when a specification table is missing.
var ErrSpecificationNotFound = errors.New("clinical specification not found")

// Category selects one of the three specification tables.
type Category string

// Specification tables, named after their file.
const (
	Participants Category = "participant.tsv"
	Sessions     Category = "sessions.tsv"
	Scans        Category = "scans.tsv"
)

// Column names of the specification tables.
const (
	ColumnBIDS     = "BIDS CLINICA"
	ColumnModality = "Modalities related"
)

// Row maps one source column to one BIDS field.
type Row struct {
	Field    string // BIDS field name
	Location string // glob pattern of the source file
	Source   string // column name in the source file
	Modality string // modality group; scans table only
}

// Load reads the specification table for category from dir and returns the
// rows that apply to study, in file order.
func Load(fsys fs.FS, dir string, category Category, study bids.Study) ([]Row, error) {
	path := filepath.Join(dir, string(category))

	data, err := fsys.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s should be located at %s", ErrSpecificationNotFound, category, path)
		}

		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	tbl, err := table.ReadCSV(bytes.NewReader(data), table.ReadOptions{Comma: '\t'})
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	locationCol := string(study) + " location"
	sourceCol := string(study)

	required := []string{ColumnBIDS, locationCol, sourceCol}
	if category == Scans {
		required = append(required, ColumnModality)
	}

	if err := tbl.Require(required...); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	var rows []Row

	for i, n := 0, tbl.Len(); i < n; i++ {
		r := tbl.Row(i)

		row := Row{
			Field:    r.Get(ColumnBIDS),
			Location: r.Get(locationCol),
			Source:   r.Get(sourceCol),
			Modality: r.Get(ColumnModality),
		}

		if table.IsNA(row.Field) || table.IsNA(row.Location) || table.IsNA(row.Source) {
			continue
		}

		if category == Scans && table.IsNA(row.Modality) {
			continue
		}

		if category != Scans {
			row.Modality = ""
		}

		rows = append(rows, row)
	}

	return rows, nil
}
