package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	flag "github.com/spf13/pflag"

	"bidsmeta/internal/bids"
	"bidsmeta/internal/clinical"
	"bidsmeta/internal/config"
	"bidsmeta/internal/fs"
	"bidsmeta/internal/index"
	"bidsmeta/internal/metrics"
)

// lockName is the advisory lock taken in the BIDS root by write commands.
const lockName = ".bidsmeta.lock"

var errBIDSDirNotFound = errors.New("BIDS directory not found")

// ConvertCmd returns the convert command.
func ConvertCmd(cfg *config.Config) *Command {
	return tableCmd(cfg, tableCmdSpec{
		name:         "convert",
		short:        "Write participants, sessions and scans tables",
		long:         "Write participants.tsv, every sub-*_sessions.tsv and every sub-*_ses-*_scans.tsv\nfrom the clinical exports. The first error aborts the run.",
		participants: true,
		step:         (*clinical.Converter).Convert,
	})
}

// ParticipantsCmd returns the participants command.
func ParticipantsCmd(cfg *config.Config) *Command {
	return tableCmd(cfg, tableCmdSpec{
		name:         "participants",
		short:        "Write participants.tsv",
		long:         "Write participants.tsv, one row per BIDS subject. Subjects without clinical\ndata get a row of n/a and a warning.",
		participants: true,
		step:         (*clinical.Converter).WriteParticipants,
	})
}

// SessionsCmd returns the sessions command.
func SessionsCmd(cfg *config.Config) *Command {
	return tableCmd(cfg, tableCmdSpec{
		name:  "sessions",
		short: "Write the per-subject sessions tables",
		long:  "Write sub-<label>/sub-<label>_sessions.tsv for every BIDS subject, with diagnosis,\nexamination date and age at exam.",
		step:  (*clinical.Converter).WriteSessions,
	})
}

// ScansCmd returns the scans command.
func ScansCmd(cfg *config.Config) *Command {
	return tableCmd(cfg, tableCmdSpec{
		name:  "scans",
		short: "Write the per-session scans tables",
		long:  "Write sub-<label>_ses-<label>_scans.tsv for every BIDS session that holds image\nfiles. Previous scans tables are replaced.",
		step:  (*clinical.Converter).WriteScans,
	})
}

type tableCmdSpec struct {
	name  string
	short string
	long  string

	// participants adds --keep-clinical-only.
	participants bool
	step         func(*clinical.Converter) error
}

func tableConfigKeys(participants bool) []string {
	keys := []string{"bids_dir", "clinical_data_dir", "specifications_dir", "study"}
	if participants {
		keys = append(keys, "delete_non_bids_info")
	}

	return append(keys, "index_db", "metrics_file")
}

func tableCmd(cfg *config.Config, spec tableCmdSpec) *Command {
	flags := flag.NewFlagSet(spec.name, flag.ContinueOnError)

	var keepClinicalOnly *bool
	if spec.participants {
		keepClinicalOnly = flags.Bool("keep-clinical-only", false,
			"Keep participants that have clinical data but no BIDS folder")
	}

	return &Command{
		Flags:  flags,
		Usage:  spec.name + " [flags]",
		Short:  spec.short,
		Long:   spec.long,
		Config: tableConfigKeys(spec.participants),
		Locks:  true,
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			reconcile := cfg.DeleteNonBIDSInfo
			if keepClinicalOnly != nil && *keepClinicalOnly {
				reconcile = false
			}

			return execTables(ctx, o, *cfg, spec, reconcile)
		},
	}
}

func execTables(ctx context.Context, o *IO, cfg config.Config, spec tableCmdSpec, reconcile bool) error {
	if err := cfg.Require(); err != nil {
		return err
	}

	study, err := bids.ParseStudy(cfg.Study)
	if err != nil {
		return err
	}

	fsys := fs.NewReal()

	lock, err := lockBIDS(fsys, cfg.BIDSDir)
	if err != nil {
		return err
	}

	defer func() { _ = lock.Close() }()

	if err := ctx.Err(); err != nil {
		return err
	}

	run := startRun(spec.name)

	conv := &clinical.Converter{
		FS:                fsys,
		BIDSDir:           cfg.BIDSDir,
		ClinicalDir:       cfg.ClinicalDataDir,
		SpecsDir:          cfg.SpecificationsDir,
		Study:             study,
		DeleteNonBIDSInfo: reconcile,
		Warner:            o,
	}

	if err := spec.step(conv); err != nil {
		return err
	}

	printStats(o, spec.name, conv.Stats)

	return run.finish(ctx, o, cfg, fsys, conv.Stats)
}

// lockBIDS takes the write lock of a BIDS root that must already exist.
func lockBIDS(fsys *fs.Real, dir string) (io.Closer, error) {
	ok, err := fsys.Exists(dir)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", dir, err)
	}

	if !ok {
		return nil, fmt.Errorf("%w: %s", errBIDSDirNotFound, dir)
	}

	lock, err := fsys.Lock(filepath.Join(dir, lockName))
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", dir, err)
	}

	return lock, nil
}

func printStats(o *IO, command string, s clinical.Stats) {
	all := command == "convert"

	if all || command == "participants" {
		o.Printf("participants.tsv: %d rows", s.ParticipantRows)

		if s.MissingParticipants > 0 {
			o.Printf(" (%d without clinical data)", s.MissingParticipants)
		}

		o.Println()
	}

	if all || command == "sessions" {
		o.Printf("sessions: %d files, %d rows", s.SessionFiles, s.SessionRows)

		if s.ExamDatesRecovered > 0 {
			o.Printf(" (%d exam dates recovered)", s.ExamDatesRecovered)
		}

		o.Println()
	}

	if all || command == "scans" {
		o.Printf("scans: %d files, %d rows\n", s.ScanFiles, s.ScanRows)
	}

	if s.RepairedRows > 0 {
		o.Printf("repaired %d malformed clinical rows\n", s.RepairedRows)
	}
}

// run identifies one invocation of a write command.
type run struct {
	id      string
	command string
	started time.Time
}

func startRun(command string) run {
	return run{id: uuid.NewString(), command: command, started: time.Now()}
}

// finish reports the run id and refreshes the configured metrics textfile
// and index.
func (r run) finish(ctx context.Context, o *IO, cfg config.Config, fsys fs.FS, stats clinical.Stats) error {
	o.Println("run:", r.id)

	if cfg.IndexDB != "" {
		ix, err := index.Open(ctx, fsys, cfg.IndexDB)
		if err != nil {
			return err
		}

		_, err = ix.Rebuild(ctx, fsys, cfg.BIDSDir, r.id, time.Now().UTC())
		closeErr := ix.Close()

		if err != nil {
			return err
		}

		if closeErr != nil {
			return closeErr
		}

		o.Println("index:", cfg.IndexDB)
	}

	if cfg.MetricsFile != "" {
		m := metrics.New()
		m.Observe(r.command, stats, r.started, time.Now())

		if err := m.WriteFile(fsys, cfg.MetricsFile); err != nil {
			return err
		}
	}

	return nil
}
