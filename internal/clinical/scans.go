package clinical

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"bidsmeta/internal/bids"
	"bidsmeta/internal/mapping"
	"bidsmeta/internal/table"
)

// Scans tables are built only for AIBL-named subjects and month-labelled
// sessions.
const (
	scanSubjectPrefix = "sub-AIBL"
	scanSessionPrefix = "ses-M"
)

// WriteScans writes <sub>/<ses>/<sub>_<ses>_scans.tsv for every session of
// the BIDS tree that holds at least one scan.
func (c *Converter) WriteScans() error {
	store, err := c.BuildScanStore()
	if err != nil {
		return err
	}

	for _, subject := range store.Subjects() {
		for _, session := range store.Sessions(subject) {
			if err := c.writeSessionScans(store, subject, session); err != nil {
				return fmt.Errorf("%s/%s: %w", subject, session, err)
			}
		}
	}

	return nil
}

// BuildScanStore seeds a store from the BIDS tree and fills it from the
// scans mapping.
func (c *Converter) BuildScanStore() (*ScanStore, error) {
	rows, err := mapping.Load(c.FS, c.SpecsDir, mapping.Scans, c.Study)
	if err != nil {
		return nil, err
	}

	store, err := c.seedScanStore()
	if err != nil {
		return nil, err
	}

	rids := make(map[int]string)

	for _, subject := range store.Subjects() {
		rid, err := c.Study.OriginalFromSubject(subject)
		if err != nil {
			return nil, err
		}

		rids[rid] = subject
	}

	src := c.sources()

	for _, row := range rows {
		if !slices.Contains(ScanGroups, row.Modality) {
			return nil, fmt.Errorf("%s: %w: %q", row.Field, ErrUnknownModalityGroup, row.Modality)
		}

		if err := applyScanMapping(src, store, rids, row); err != nil {
			return nil, fmt.Errorf("%s from %s: %w", row.Field, row.Location, err)
		}
	}

	return store, nil
}

func (c *Converter) seedScanStore() (*ScanStore, error) {
	store := NewScanStore()

	subjects, err := bids.Dirs(c.FS, c.BIDSDir, scanSubjectPrefix)
	if err != nil {
		return nil, err
	}

	for _, subject := range subjects {
		sessions, err := bids.Dirs(c.FS, filepath.Join(c.BIDSDir, subject), scanSessionPrefix)
		if err != nil {
			return nil, err
		}

		for _, session := range sessions {
			store.Seed(subject, session)
		}
	}

	return store, nil
}

type subjectSession struct {
	subject string
	session string
}

func applyScanMapping(src *Sources, store *ScanStore, rids map[int]string, row mapping.Row) error {
	tbl, err := src.Load(row.Location)
	if err != nil {
		return err
	}

	if err := tbl.Require(columnRID, columnVisitCode, row.Source); err != nil {
		return err
	}

	matches := make(map[subjectSession][]int)

	for i, n := 0, tbl.Len(); i < n; i++ {
		r := tbl.Row(i)

		rid, ok := bids.ParseRID(r.Get(columnRID))
		if !ok {
			continue
		}

		subject, ok := rids[rid]
		if !ok {
			continue
		}

		ses, ok, err := rowSession(r, rid)
		if err != nil {
			return err
		}

		if ok {
			key := subjectSession{subject, ses}
			matches[key] = append(matches[key], i)
		}
	}

	for _, subject := range store.Subjects() {
		for _, session := range store.Sessions(subject) {
			value := table.Missing

			if found := matches[subjectSession{subject, session}]; len(found) == 1 {
				value = scanValue(row.Field, tbl.Row(found[0]).Get(row.Source))
			}

			if _, err := store.Set(subject, session, row.Modality, row.Field, value); err != nil {
				return err
			}
		}
	}

	return nil
}

// scanValue normalizes a source value for a scans field. Acquisition times
// that cannot be read as dates are treated as missing.
func scanValue(field, v string) string {
	if table.IsMissing(v, MissingCode) {
		return table.Missing
	}

	if field != fieldAcqTime {
		return v
	}

	formatted, err := formatAcqTime(v)
	if errors.Is(err, ErrInvalidDate) {
		return table.Missing
	}

	return formatted
}

func (c *Converter) writeSessionScans(store *ScanStore, subject, session string) error {
	path := bids.ScansPath(c.BIDSDir, subject, session)

	exists, err := c.FS.Exists(path)
	if err != nil {
		return err
	}

	if exists {
		if err := c.FS.Remove(path); err != nil {
			return fmt.Errorf("remove %s: %w", path, err)
		}
	}

	header := []string{fieldFilename}

	var records []map[string]string

	for _, modality := range bids.ModalityDirs {
		dir := filepath.Join(c.BIDSDir, subject, session, modality)

		ok, err := c.FS.Exists(dir)
		if err != nil {
			return err
		}

		if !ok {
			continue
		}

		entries, err := c.FS.ReadDir(dir)
		if err != nil {
			return fmt.Errorf("list %s: %w", dir, err)
		}

		for _, entry := range entries {
			if entry.IsDir() || strings.HasSuffix(entry.Name(), ".json") {
				continue
			}

			group, err := scanGroup(modality, entry.Name())
			if err != nil {
				return err
			}

			keys, value := store.Fields(subject, session, group)
			record := map[string]string{fieldFilename: modality + "/" + entry.Name()}

			for _, key := range keys {
				if !slices.Contains(header, key) {
					header = append(header, key)
				}

				record[key] = value(key)
			}

			records = append(records, record)
		}
	}

	if len(records) == 0 {
		return nil
	}

	rows := make([][]string, 0, len(records))

	for _, record := range records {
		row := make([]string, len(header))
		for i, col := range header {
			row[i] = table.OrMissing(record[col])
		}

		rows = append(rows, row)
	}

	tbl, err := table.New(header, rows)
	if err != nil {
		return err
	}

	if err := c.write(path, tbl); err != nil {
		return err
	}

	c.Stats.ScanFiles++
	c.Stats.ScanRows += tbl.Len()

	return nil
}

func scanGroup(modality, filename string) (string, error) {
	if modality != "pet" {
		return GroupMRI, nil
	}

	tracer, err := bids.TracerFromFilename(filename)
	if err != nil {
		return "", err
	}

	return string(tracer), nil
}
