package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite" // sqlite driver
)

const schemaVersion = 1

func openSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, errors.New("open sqlite: path is empty")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	err = db.PingContext(ctx)
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	err = applyPragmas(ctx, db)
	if err != nil {
		_ = db.Close()

		return nil, err
	}

	return db, nil
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	statements := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 2000",
		"PRAGMA temp_store = MEMORY",
	}

	for _, stmt := range statements {
		_, err := db.ExecContext(ctx, stmt)
		if err != nil {
			return fmt.Errorf("apply pragma %q: %w", stmt, err)
		}
	}

	return nil
}

func userVersion(ctx context.Context, db *sql.DB) (int, error) {
	row := db.QueryRowContext(ctx, "PRAGMA user_version")

	var version int

	err := row.Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("read user_version: %w", err)
	}

	return version, nil
}

// rebuildInTxn replaces the catalogue tables with the given snapshot and
// appends run to index_runs.
func rebuildInTxn(ctx context.Context, db *sql.DB, snap *snapshot, run Run) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rebuild txn: %w", err)
	}

	committed := false

	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	err = createSchema(ctx, tx)
	if err != nil {
		return err
	}

	insertParticipant, err := tx.PrepareContext(ctx, `
		INSERT INTO participants (participant_id, field, value) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare participant insert: %w", err)
	}

	defer func() { _ = insertParticipant.Close() }()

	insertSession, err := tx.PrepareContext(ctx, `
		INSERT INTO sessions (participant_id, session_id, field, value) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare session insert: %w", err)
	}

	defer func() { _ = insertSession.Close() }()

	insertScan, err := tx.PrepareContext(ctx, `
		INSERT INTO scans (participant_id, session_id, filename, field, value) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare scan insert: %w", err)
	}

	defer func() { _ = insertScan.Close() }()

	for _, p := range snap.participants {
		for _, f := range p.fields {
			_, err = insertParticipant.ExecContext(ctx, p.subject, f.name, f.value)
			if err != nil {
				return fmt.Errorf("insert participant %s: %w", p.subject, err)
			}
		}
	}

	for _, s := range snap.sessions {
		for _, f := range s.fields {
			_, err = insertSession.ExecContext(ctx, s.subject, s.session, f.name, f.value)
			if err != nil {
				return fmt.Errorf("insert session %s/%s: %w", s.subject, s.session, err)
			}
		}
	}

	for _, s := range snap.scans {
		for _, f := range s.fields {
			_, err = insertScan.ExecContext(ctx, s.subject, s.session, s.filename, f.name, f.value)
			if err != nil {
				return fmt.Errorf("insert scan %s: %w", s.filename, err)
			}
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO index_runs (run_id, indexed_at, participants, sessions, scans)
		VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.At.UnixNano(), run.Participants, run.Sessions, run.Scans)
	if err != nil {
		return fmt.Errorf("record run %s: %w", run.ID, err)
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion))
	if err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("commit rebuild txn: %w", err)
	}

	committed = true

	return nil
}

func createSchema(ctx context.Context, tx *sql.Tx) error {
	statements := []string{
		"DROP TABLE IF EXISTS scans",
		"DROP TABLE IF EXISTS sessions",
		"DROP TABLE IF EXISTS participants",
		`CREATE TABLE participants (
			participant_id TEXT NOT NULL,
			field TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (participant_id, field)
		) WITHOUT ROWID`,
		`CREATE TABLE sessions (
			participant_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			field TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (participant_id, session_id, field)
		) WITHOUT ROWID`,
		`CREATE TABLE scans (
			participant_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			filename TEXT NOT NULL,
			field TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (participant_id, session_id, filename, field)
		) WITHOUT ROWID`,
		`CREATE TABLE IF NOT EXISTS index_runs (
			run_id TEXT PRIMARY KEY,
			indexed_at INTEGER NOT NULL,
			participants INTEGER NOT NULL,
			sessions INTEGER NOT NULL,
			scans INTEGER NOT NULL
		)`,
		"CREATE INDEX idx_sessions_field ON sessions(field, value)",
		"CREATE INDEX idx_scans_session ON scans(participant_id, session_id)",
	}

	for _, stmt := range statements {
		_, err := tx.ExecContext(ctx, stmt)
		if err != nil {
			return fmt.Errorf("apply schema statement %q: %w", stmt, err)
		}
	}

	return nil
}
