// Package clinical reconciles AIBL clinical exports with a converted BIDS
// tree and writes the participants, sessions and scans tables.
//
// The BIDS directory is the source of truth for which subjects and sessions
// exist. Clinical data only ever adds columns to rows the tree already has;
// clinical-only subjects and sessions are dropped.
package clinical

import (
	"fmt"

	"bidsmeta/internal/bids"
	"bidsmeta/internal/fs"
	"bidsmeta/internal/table"
)

const tablePerms = 0o644

// Warner receives non-fatal notices, such as a BIDS subject without clinical
// data.
type Warner interface {
	Warn(issue string, action string)
}

// Stats counts what a conversion did.
type Stats struct {
	SourcesRead         int
	RepairedRows        int
	ParticipantRows     int
	MissingParticipants int
	SessionFiles        int
	SessionRows         int
	ExamDatesRecovered  int
	ScanFiles           int
	ScanRows            int
}

// FilesWritten returns the number of TSV files written.
func (s Stats) FilesWritten() int {
	files := s.SessionFiles + s.ScanFiles
	if s.ParticipantRows > 0 {
		files++
	}

	return files
}

// Converter writes the BIDS phenotype tables of one dataset.
type Converter struct {
	FS          fs.FS
	BIDSDir     string
	ClinicalDir string
	SpecsDir    string
	Study       bids.Study

	// DeleteNonBIDSInfo restricts participants.tsv to the subjects present
	// in the BIDS tree.
	DeleteNonBIDSInfo bool

	Warner Warner
	Stats  Stats

	src *Sources
}

// Convert writes participants.tsv, every sessions table and every scans
// table, in that order. The first error aborts the run.
func (c *Converter) Convert() error {
	if err := c.WriteParticipants(); err != nil {
		return fmt.Errorf("participants: %w", err)
	}

	if err := c.WriteSessions(); err != nil {
		return fmt.Errorf("sessions: %w", err)
	}

	if err := c.WriteScans(); err != nil {
		return fmt.Errorf("scans: %w", err)
	}

	return nil
}

// sources returns the converter's clinical file cache, so each export is
// parsed once per run.
func (c *Converter) sources() *Sources {
	if c.src == nil {
		c.src = NewSources(c.FS, c.ClinicalDir, &c.Stats)
	}

	return c.src
}

func (c *Converter) warn(issue, action string) {
	if c.Warner != nil {
		c.Warner.Warn(issue, action)
	}
}

func (c *Converter) write(path string, tbl *table.Table) error {
	data, err := table.EncodeTSV(tbl)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	if err := c.FS.WriteFileAtomic(path, data, tablePerms); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	return nil
}
