package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	flag "github.com/spf13/pflag"

	"bidsmeta/internal/config"
)

// Command defines a CLI command with unified help generation.
type Command struct {
	// Flags defines command-specific flags.
	// The FlagSet name is not used - command identity comes from Usage.
	Flags *flag.FlagSet

	// Usage is the freeform usage string shown after "bidsmeta" in help.
	// Includes the command name and arguments/flags.
	// Examples: "convert [flags]", "index [--runs]"
	Usage string

	// Short is a one-line description for the global help listing.
	Short string

	// Long is the full description shown in command help.
	// If empty, Short is used instead.
	Long string

	// Config lists the .bidsmeta.json keys the command reads, in help order.
	// Keys must be present in configKeyHelp.
	Config []string

	// Locks marks commands that hold the BIDS lock file while they run.
	Locks bool

	// Exec runs the command after flags are parsed.
	Exec func(ctx context.Context, o *IO, args []string) error
}

// Name returns the command name (first word of Usage).
func (c *Command) Name() string {
	name, _, _ := strings.Cut(c.Usage, " ")

	return name
}

// HelpLine returns the short help line for the main usage display.
func (c *Command) HelpLine() string {
	return fmt.Sprintf("  %-22s %s", c.Usage, c.Short)
}

// PrintHelp prints the full help output for "bidsmeta <cmd> --help".
func (c *Command) PrintHelp(o *IO) {
	o.Println("Usage: bidsmeta", c.Usage)
	o.Println()

	desc := c.Long
	if desc == "" {
		desc = c.Short
	}

	o.Println(desc)

	if c.Flags != nil && c.Flags.HasFlags() {
		o.Println()
		o.Println("Flags:")
		o.Printf("%s", c.Flags.FlagUsages())
	}

	if len(c.Config) > 0 {
		o.Println()
		o.Println("Config keys (" + config.FileName + "):")

		for _, key := range c.Config {
			o.Printf("  %-24s %s\n", key, configKeyHelp[key])
		}
	}

	if c.Locks {
		o.Println()
		o.Printf("Holds <bids_dir>/%s while running; a second writer waits, then fails.\n", lockName)
	}
}

// configKeyHelp describes the config keys named in [Command.Config].
var configKeyHelp = map[string]string{
	"bids_dir":             "BIDS root to reconcile (required)",
	"clinical_data_dir":    "Folder of AIBL clinical CSV exports (required)",
	"specifications_dir":   "Folder of participant.tsv, sessions.tsv, scans.tsv mappings (required)",
	"study":                "Source study; only AIBL (default AIBL)",
	"delete_non_bids_info": "Drop clinical-only participants (default true)",
	"index_db":             "SQLite catalogue refreshed after each run",
	"metrics_file":         "Prometheus textfile rewritten after each run",
	"publish.bucket":       "Destination bucket (required for publish)",
	"publish.prefix":       "Key prefix inside the bucket",
	"publish.region":       "AWS region",
	"publish.endpoint":     "S3-compatible endpoint URL, e.g. MinIO",
	"publish.path_style":   "Use path-style bucket addressing",
}

// Run parses flags and executes the command. Returns exit code.
// Handles error printing internally for consistent output ordering.
func (c *Command) Run(ctx context.Context, o *IO, args []string) int {
	c.Flags.SetOutput(&strings.Builder{}) // discard pflag output

	err := c.Flags.Parse(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			c.PrintHelp(o)

			return 0
		}

		o.ErrPrintln("error:", err)
		o.ErrPrintln()
		c.PrintHelp(o)

		return 1
	}

	if err := c.Exec(ctx, o, c.Flags.Args()); err != nil {
		o.ErrPrintln("error:", err)

		return 1
	}

	return 0
}
