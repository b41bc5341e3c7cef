package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	flag "github.com/spf13/pflag"

	"bidsmeta/internal/config"
	"bidsmeta/internal/fs"
	"bidsmeta/internal/index"
)

var (
	errIndexNotBuilt = errors.New("index has not been built (run 'bidsmeta index')")
	errQueryArgs     = errors.New("query takes <subject> <field> or <subject> <session> <field>")
	errScansArgs     = errors.New("--scans takes <subject> <session>")
)

// indexPath returns the configured catalogue path, defaulting to
// .bidsmeta/index.sqlite in the working directory.
func indexPath(cfg config.Config) string {
	if cfg.IndexDB != "" {
		return cfg.IndexDB
	}

	return filepath.Join(cfg.EffectiveCwd, ".bidsmeta", "index.sqlite")
}

// IndexCmd returns the index command.
func IndexCmd(cfg *config.Config) *Command {
	flags := flag.NewFlagSet("index", flag.ContinueOnError)
	runs := flags.Bool("runs", false, "List previous index runs instead of rebuilding")

	return &Command{
		Flags: flags,
		Usage: "index [--runs]",
		Short: "Rebuild the SQLite catalogue of emitted tables",
		Long: "Read participants.tsv and every sessions and scans table under the BIDS root into\n" +
			"a SQLite catalogue (index_db, default .bidsmeta/index.sqlite).",
		Config: []string{"bids_dir", "index_db"},
		Locks:  true,
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			if *runs {
				return execIndexRuns(ctx, o, *cfg)
			}

			return execIndex(ctx, o, *cfg)
		},
	}
}

func execIndex(ctx context.Context, o *IO, cfg config.Config) error {
	if err := cfg.RequireBIDS(); err != nil {
		return err
	}

	fsys := fs.NewReal()

	lock, err := lockBIDS(fsys, cfg.BIDSDir)
	if err != nil {
		return err
	}

	defer func() { _ = lock.Close() }()

	path := indexPath(cfg)

	ix, err := index.Open(ctx, fsys, path)
	if err != nil {
		return err
	}

	defer func() { _ = ix.Close() }()

	run, err := ix.Rebuild(ctx, fsys, cfg.BIDSDir, uuid.NewString(), time.Now().UTC())
	if err != nil {
		return err
	}

	o.Printf("indexed %d participants, %d sessions, %d scans into %s\n",
		run.Participants, run.Sessions, run.Scans, path)
	o.Println("run:", run.ID)

	return nil
}

func execIndexRuns(ctx context.Context, o *IO, cfg config.Config) error {
	ix, err := openBuiltIndex(ctx, cfg)
	if err != nil {
		return err
	}

	defer func() { _ = ix.Close() }()

	runs, err := ix.Runs(ctx)
	if err != nil {
		return err
	}

	for _, r := range runs {
		o.Printf("%s\t%s\tparticipants=%d\tsessions=%d\tscans=%d\n",
			r.ID, r.At.UTC().Format(time.RFC3339), r.Participants, r.Sessions, r.Scans)
	}

	return nil
}

func openBuiltIndex(ctx context.Context, cfg config.Config) (*index.Index, error) {
	path := indexPath(cfg)

	fsys := fs.NewReal()

	ok, err := fsys.Exists(path)
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, errIndexNotBuilt
	}

	ix, err := index.Open(ctx, fsys, path)
	if err != nil {
		return nil, err
	}

	current, err := ix.Current(ctx)
	if err != nil {
		_ = ix.Close()

		return nil, err
	}

	if !current {
		_ = ix.Close()

		return nil, errIndexNotBuilt
	}

	return ix, nil
}

// QueryCmd returns the query command.
func QueryCmd(cfg *config.Config) *Command {
	flags := flag.NewFlagSet("query", flag.ContinueOnError)
	scans := flags.Bool("scans", false, "List the scan files of <subject> <session>")

	return &Command{
		Flags: flags,
		Usage: "query <subject> [<session>] <field>",
		Short: "Look up an emitted value in the index",
		Long: "Print one value from the catalogue built by 'bidsmeta index'.\n\n" +
			"  query sub-AIBL1 sex                 participants.tsv value\n" +
			"  query sub-AIBL1 ses-M000 age        sessions table value\n" +
			"  query --scans sub-AIBL1 ses-M000    scan filenames of a session",
		Config: []string{"index_db"},
		Exec: func(ctx context.Context, o *IO, args []string) error {
			return execQuery(ctx, o, *cfg, args, *scans)
		},
	}
}

func execQuery(ctx context.Context, o *IO, cfg config.Config, args []string, scans bool) error {
	if scans && len(args) != 2 {
		return errScansArgs
	}

	if !scans && len(args) != 2 && len(args) != 3 {
		return errQueryArgs
	}

	ix, err := openBuiltIndex(ctx, cfg)
	if err != nil {
		return err
	}

	defer func() { _ = ix.Close() }()

	if scans {
		files, err := ix.ScanFiles(ctx, args[0], args[1])
		if err != nil {
			return err
		}

		if len(files) == 0 {
			return fmt.Errorf("scans of %s/%s: %w", args[0], args[1], index.ErrNotFound)
		}

		for _, f := range files {
			o.Println(f)
		}

		return nil
	}

	var value string

	if len(args) == 2 {
		value, err = ix.ParticipantValue(ctx, args[0], args[1])
	} else {
		value, err = ix.SessionValue(ctx, args[0], args[1], args[2])
	}

	if err != nil {
		return err
	}

	o.Println(value)

	return nil
}
