// Package index keeps a SQLite catalogue of the tables written into a BIDS
// tree, so emitted values can be queried without parsing every TSV.
//
// The catalogue is derived data. [Index.Rebuild] drops and recreates it from
// the TSVs on disk; only the run history in index_runs survives rebuilds.
package index

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"bidsmeta/internal/bids"
	"bidsmeta/internal/fs"
	"bidsmeta/internal/table"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("not found in index")

const (
	columnParticipantID = "participant_id"
	columnSessionID     = "session_id"
	columnFilename      = "filename"
)

// Index is an open catalogue database.
type Index struct {
	path string
	db   *sql.DB
}

// Run describes one rebuild of the catalogue.
type Run struct {
	ID           string
	At           time.Time
	Participants int
	Sessions     int
	Scans        int
}

// Open opens or creates the catalogue at path, creating parent directories
// through fsys.
func Open(ctx context.Context, fsys fs.FS, path string) (*Index, error) {
	if path == "" {
		return nil, errors.New("open index: path is empty")
	}

	err := fsys.MkdirAll(filepath.Dir(path), 0o750)
	if err != nil {
		return nil, fmt.Errorf("open index: create directory: %w", err)
	}

	db, err := openSQLite(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}

	return &Index{path: path, db: db}, nil
}

// Close releases the database handle.
func (ix *Index) Close() error {
	if ix == nil || ix.db == nil {
		return nil
	}

	err := ix.db.Close()
	if err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}

	return nil
}

// Current reports whether the catalogue schema matches this version of the
// tool. A stale catalogue must be rebuilt before it is queried.
func (ix *Index) Current(ctx context.Context) (bool, error) {
	version, err := userVersion(ctx, ix.db)
	if err != nil {
		return false, err
	}

	return version == schemaVersion, nil
}

// Rebuild replaces the catalogue with the tables currently under bidsDir and
// records the run.
func (ix *Index) Rebuild(ctx context.Context, fsys fs.FS, bidsDir, runID string, now time.Time) (Run, error) {
	snap, err := scan(fsys, bidsDir)
	if err != nil {
		return Run{}, fmt.Errorf("rebuild index: %w", err)
	}

	run := Run{
		ID:           runID,
		At:           now,
		Participants: len(snap.participants),
		Sessions:     len(snap.sessions),
		Scans:        len(snap.scans),
	}

	err = rebuildInTxn(ctx, ix.db, snap, run)
	if err != nil {
		return Run{}, fmt.Errorf("rebuild index: %w", err)
	}

	return run, nil
}

// SessionValue returns a field of a subject's session.
func (ix *Index) SessionValue(ctx context.Context, subject, session, field string) (string, error) {
	row := ix.db.QueryRowContext(ctx, `
		SELECT value FROM sessions WHERE participant_id = ? AND session_id = ? AND field = ?`,
		subject, session, field)

	return scanValue(row, subject+"/"+session+"/"+field)
}

// ParticipantValue returns a field of a participant.
func (ix *Index) ParticipantValue(ctx context.Context, subject, field string) (string, error) {
	row := ix.db.QueryRowContext(ctx, `
		SELECT value FROM participants WHERE participant_id = ? AND field = ?`,
		subject, field)

	return scanValue(row, subject+"/"+field)
}

// ScanFiles returns the scan filenames catalogued for a session, sorted.
func (ix *Index) ScanFiles(ctx context.Context, subject, session string) ([]string, error) {
	rows, err := ix.db.QueryContext(ctx, `
		SELECT DISTINCT filename FROM scans
		WHERE participant_id = ? AND session_id = ?
		ORDER BY filename`, subject, session)
	if err != nil {
		return nil, fmt.Errorf("query scans: %w", err)
	}

	defer func() { _ = rows.Close() }()

	var files []string

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan filename: %w", err)
		}

		files = append(files, name)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scans: %w", err)
	}

	return files, nil
}

// Runs returns the recorded rebuilds, oldest first.
func (ix *Index) Runs(ctx context.Context) ([]Run, error) {
	rows, err := ix.db.QueryContext(ctx, `
		SELECT run_id, indexed_at, participants, sessions, scans
		FROM index_runs ORDER BY indexed_at, run_id`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}

	defer func() { _ = rows.Close() }()

	var runs []Run

	for rows.Next() {
		var (
			r  Run
			ns int64
		)

		if err := rows.Scan(&r.ID, &ns, &r.Participants, &r.Sessions, &r.Scans); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}

		r.At = time.Unix(0, ns)
		runs = append(runs, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	return runs, nil
}

func scanValue(row *sql.Row, what string) (string, error) {
	var value string

	err := row.Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, what)
	}

	if err != nil {
		return "", fmt.Errorf("query %s: %w", what, err)
	}

	return value, nil
}

type field struct {
	name  string
	value string
}

type participantEntry struct {
	subject string
	fields  []field
}

type sessionEntry struct {
	subject string
	session string
	fields  []field
}

type scanEntry struct {
	subject  string
	session  string
	filename string
	fields   []field
}

type snapshot struct {
	participants []participantEntry
	sessions     []sessionEntry
	scans        []scanEntry
}

// scan reads every emitted table under bidsDir. Missing tables are skipped.
func scan(fsys fs.FS, bidsDir string) (*snapshot, error) {
	snap := &snapshot{}

	participants, ok, err := readTSV(fsys, bids.ParticipantsPath(bidsDir), columnParticipantID)
	if err != nil {
		return nil, err
	}

	if ok {
		for i, n := 0, participants.Len(); i < n; i++ {
			r := participants.Row(i)
			snap.participants = append(snap.participants, participantEntry{
				subject: r.Get(columnParticipantID),
				fields:  fieldsOf(participants, r, columnParticipantID),
			})
		}
	}

	subjects, err := bids.Subjects(fsys, bidsDir)
	if err != nil {
		return nil, err
	}

	for _, subject := range subjects {
		sessions, ok, err := readTSV(fsys, bids.SessionsPath(bidsDir, subject), columnSessionID)
		if err != nil {
			return nil, err
		}

		if ok {
			for i, n := 0, sessions.Len(); i < n; i++ {
				r := sessions.Row(i)
				snap.sessions = append(snap.sessions, sessionEntry{
					subject: subject,
					session: r.Get(columnSessionID),
					fields:  fieldsOf(sessions, r, columnSessionID),
				})
			}
		}

		dirs, err := bids.Sessions(fsys, bidsDir, subject)
		if err != nil {
			return nil, err
		}

		for _, session := range dirs {
			scans, ok, err := readTSV(fsys, bids.ScansPath(bidsDir, subject, session), columnFilename)
			if err != nil {
				return nil, err
			}

			if !ok {
				continue
			}

			for i, n := 0, scans.Len(); i < n; i++ {
				r := scans.Row(i)
				snap.scans = append(snap.scans, scanEntry{
					subject:  subject,
					session:  session,
					filename: r.Get(columnFilename),
					fields:   fieldsOf(scans, r, columnFilename),
				})
			}
		}
	}

	return snap, nil
}

func readTSV(fsys fs.FS, path, key string) (*table.Table, bool, error) {
	exists, err := fsys.Exists(path)
	if err != nil {
		return nil, false, err
	}

	if !exists {
		return nil, false, nil
	}

	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", path, err)
	}

	tbl, err := table.ReadCSV(bytes.NewReader(data), table.ReadOptions{Comma: '\t'})
	if err != nil {
		return nil, false, fmt.Errorf("parse %s: %w", path, err)
	}

	if err := tbl.Require(key); err != nil {
		return nil, false, fmt.Errorf("%s: %w", path, err)
	}

	return tbl, true, nil
}

func fieldsOf(tbl *table.Table, r table.Row, key string) []field {
	var out []field

	for _, name := range tbl.Header() {
		if name != key {
			out = append(out, field{name: name, value: r.Get(name)})
		}
	}

	return out
}
