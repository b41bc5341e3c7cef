package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	flag "github.com/spf13/pflag"

	"bidsmeta/internal/config"
)

var (
	errNoCommand      = errors.New("no command provided")
	errUnknownCommand = errors.New("unknown command")
	errEmptyFlag      = errors.New("cannot be empty")
)

// Version is reported in generated READMEs. Set at build time with
// -ldflags "-X bidsmeta/internal/cli.Version=...".
var Version = "dev"

type globalOptions struct {
	workDir     string
	configPath  string
	bidsDir     string
	clinicalDir string
	specsDir    string
	strict      bool
	help        bool
}

func newGlobalFlags(opts *globalOptions) *flag.FlagSet {
	set := flag.NewFlagSet("bidsmeta", flag.ContinueOnError)
	set.SetInterspersed(false)
	set.SetOutput(io.Discard)
	set.SortFlags = false

	set.BoolVarP(&opts.help, "help", "h", false, "Show help")
	set.StringVarP(&opts.workDir, "cwd", "C", "", "Run as if started in `dir`")
	set.StringVarP(&opts.configPath, "config", "c", "", "Use specified config `file`")
	set.StringVar(&opts.bidsDir, "bids-dir", "", "BIDS dataset `dir` (overrides config)")
	set.StringVar(&opts.clinicalDir, "clinical-dir", "", "Clinical CSV export `dir` (overrides config)")
	set.StringVar(&opts.specsDir, "specs-dir", "", "Mapping specification `dir` (overrides config)")
	set.BoolVar(&opts.strict, "strict", false, "Exit 1 when any warning was reported")

	return set
}

// Run is the main entry point. Returns exit code.
// sigCh may be nil; a signal on it cancels the running command.
func Run(_ io.Reader, out io.Writer, errOut io.Writer, args []string, env map[string]string, sigCh <-chan os.Signal) int {
	var (
		opts globalOptions
		cfg  config.Config
	)

	globals := newGlobalFlags(&opts)
	commands := newCommands(&cfg)

	if len(args) < 2 {
		printUsage(out, globals, commands)

		return 0
	}

	if err := globals.Parse(args[1:]); err != nil {
		return usageError(errOut, err, globals, commands)
	}

	if opts.help {
		printUsage(out, globals, commands)

		return 0
	}

	if err := checkEmptyOverrides(globals); err != nil {
		return usageError(errOut, err, globals, commands)
	}

	rest := globals.Args()
	if len(rest) == 0 {
		return usageError(errOut, errNoCommand, globals, commands)
	}

	cmd := findCommand(commands, rest[0])
	if cmd == nil {
		return usageError(errOut, fmt.Errorf("%w: %s", errUnknownCommand, rest[0]), globals, commands)
	}

	loaded, err := config.Load(config.LoadInput{
		WorkDirOverride: opts.workDir,
		ConfigPath:      opts.configPath,
		Overrides: config.Overrides{
			BIDSDir:           opts.bidsDir,
			ClinicalDataDir:   opts.clinicalDir,
			SpecificationsDir: opts.specsDir,
		},
		Env: env,
	})
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	cfg = loaded

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if sigCh != nil {
		go func() {
			select {
			case <-sigCh:
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	o := NewIO(out, errOut, opts.strict)

	if code := cmd.Run(ctx, o, rest[1:]); code != 0 {
		return code
	}

	return o.Finish()
}

func usageError(errOut io.Writer, err error, globals *flag.FlagSet, commands []*Command) int {
	fprintln(errOut, "error:", err)
	fprintln(errOut)
	printUsage(errOut, globals, commands)

	return 1
}

// checkEmptyOverrides rejects path flags given with an empty value, such
// as --bids-dir="".
func checkEmptyOverrides(globals *flag.FlagSet) error {
	for _, name := range []string{"bids-dir", "clinical-dir", "specs-dir"} {
		f := globals.Lookup(name)
		if f.Changed && f.Value.String() == "" {
			return fmt.Errorf("%s %w", name, errEmptyFlag)
		}
	}

	return nil
}

func newCommands(cfg *config.Config) []*Command {
	return []*Command{
		ConvertCmd(cfg),
		ParticipantsCmd(cfg),
		SessionsCmd(cfg),
		ScansCmd(cfg),
		IndexCmd(cfg),
		QueryCmd(cfg),
		PublishCmd(cfg),
		ReadmeCmd(cfg),
		PrintConfigCmd(cfg),
	}
}

func findCommand(commands []*Command, name string) *Command {
	for _, c := range commands {
		if c.Name() == name {
			return c
		}
	}

	return nil
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}

func printUsage(w io.Writer, globals *flag.FlagSet, commands []*Command) {
	fprintln(w, `bidsmeta - reconcile clinical metadata into BIDS tables

Usage: bidsmeta [global flags] <command> [args]

Global flags:`)
	fprintln(w, strings.TrimRight(globals.FlagUsages(), "\n"))
	fprintln(w)
	fprintln(w, "Commands:")

	for _, c := range commands {
		fprintln(w, c.HelpLine())
	}
}
