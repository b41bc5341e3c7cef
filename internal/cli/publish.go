package cli

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	flag "github.com/spf13/pflag"

	"bidsmeta/internal/bids"
	"bidsmeta/internal/config"
	"bidsmeta/internal/fs"
	"bidsmeta/internal/publish"
)

// PublishCmd returns the publish command.
func PublishCmd(cfg *config.Config) *Command {
	flags := flag.NewFlagSet("publish", flag.ContinueOnError)
	bucket := flags.String("bucket", "", "Destination bucket (overrides publish.bucket)")
	prefix := flags.String("prefix", "", "Key prefix (overrides publish.prefix)")
	endpoint := flags.String("endpoint", "", "S3-compatible endpoint URL (overrides publish.endpoint)")

	return &Command{
		Flags: flags,
		Usage: "publish [flags]",
		Short: "Upload the emitted tables to S3",
		Long: "Upload README, participants.tsv and every sessions and scans table to an\n" +
			"S3-compatible bucket under <prefix>/<path relative to bids_dir>. Credentials come\n" +
			"from the standard AWS chain (environment, shared config, instance role).",
		Config: []string{
			"bids_dir", "study",
			"publish.bucket", "publish.prefix", "publish.region", "publish.endpoint", "publish.path_style",
		},
		Locks: true,
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			dest := publish.Config{
				Bucket:    cfg.Publish.Bucket,
				Prefix:    cfg.Publish.Prefix,
				Region:    cfg.Publish.Region,
				Endpoint:  cfg.Publish.Endpoint,
				PathStyle: cfg.Publish.PathStyle,
			}

			if flags.Changed("bucket") {
				dest.Bucket = *bucket
			}

			if flags.Changed("prefix") {
				dest.Prefix = *prefix
			}

			if flags.Changed("endpoint") {
				dest.Endpoint = *endpoint
			}

			return execPublish(ctx, o, *cfg, dest)
		},
	}
}

func execPublish(ctx context.Context, o *IO, cfg config.Config, dest publish.Config) error {
	if err := cfg.RequireBIDS(); err != nil {
		return err
	}

	if dest.Bucket == "" {
		return fmt.Errorf("%w (set publish.bucket or pass --bucket)", publish.ErrBucketRequired)
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

	p, err := publish.New(ctx, dest)
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	uploads, err := p.Publish(ctx, fsys, cfg.BIDSDir, runID, study)

	for _, u := range uploads {
		o.Printf("uploaded s3://%s/%s (%d bytes)\n", dest.Bucket, u.Key, u.Size)
	}

	if err != nil {
		return err
	}

	o.Println("run:", runID)

	return nil
}
