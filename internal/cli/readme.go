package cli

import (
	"bytes"
	"context"
	"path/filepath"

	flag "github.com/spf13/pflag"

	"bidsmeta/internal/bids"
	"bidsmeta/internal/config"
	"bidsmeta/internal/fs"
)

const readmePerms = 0o644

// ReadmeCmd returns the readme command.
func ReadmeCmd(cfg *config.Config) *Command {
	return &Command{
		Flags:  flag.NewFlagSet("readme", flag.ContinueOnError),
		Usage:  "readme",
		Short:  "Write the dataset README",
		Long:   "Write <bids_dir>/README describing the study and the tool that generated the tree.",
		Config: []string{"bids_dir", "study"},
		Locks:  true,
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			return execReadme(ctx, o, *cfg)
		},
	}
}

func execReadme(ctx context.Context, o *IO, cfg config.Config) error {
	if err := cfg.RequireBIDS(); err != nil {
		return err
	}

	study, err := bids.ParseStudy(cfg.Study)
	if err != nil {
		return err
	}

	readme, err := bids.ReadmeFor(study, "bidsmeta "+Version)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := readme.Write(&buf); err != nil {
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

	path := filepath.Join(cfg.BIDSDir, "README")
	if err := fsys.WriteFileAtomic(path, buf.Bytes(), readmePerms); err != nil {
		return err
	}

	o.Println("wrote", path)

	return nil
}
