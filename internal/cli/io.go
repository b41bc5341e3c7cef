package cli

import (
	"fmt"
	"io"
)

// IO handles command output with warnings that stay visible.
//
// Warnings are printed to stderr at both the START and END of output,
// ensuring visibility regardless of truncation or piping (head/tail).
type IO struct {
	out      io.Writer
	errOut   io.Writer
	strict   bool
	warnings []string
	started  bool
}

// NewIO creates a new IO instance. With strict set, any warning makes
// [IO.Finish] return exit code 1.
func NewIO(out, errOut io.Writer, strict bool) *IO {
	return &IO{out: out, errOut: errOut, strict: strict}
}

// Warn records a non-fatal issue and what the user should do about it.
//
// Output to stdout (via Println) still occurs - warnings don't suppress
// normal output. This allows partial results with issues flagged.
func (o *IO) Warn(issue string, action string) {
	o.warnings = append(o.warnings, fmt.Sprintf("%s: %s", issue, action))
}

// Println writes to stdout. On first call, any collected warnings
// are printed to stderr first.
func (o *IO) Println(a ...any) {
	o.flushWarningsStart()
	_, _ = fmt.Fprintln(o.out, a...)
}

// Printf writes formatted output to stdout. On first call, any collected
// warnings are printed to stderr first.
func (o *IO) Printf(format string, a ...any) {
	o.flushWarningsStart()
	_, _ = fmt.Fprintf(o.out, format, a...)
}

// ErrPrintln writes to stderr.
func (o *IO) ErrPrintln(a ...any) {
	_, _ = fmt.Fprintln(o.errOut, a...)
}

// Warnings returns the number of warnings recorded so far.
func (o *IO) Warnings() int {
	return len(o.warnings)
}

// Finish prints warnings to stderr and returns exit code.
// Returns 1 if strict and any warnings were recorded, 0 otherwise.
func (o *IO) Finish() int {
	// If no output happened but we have warnings, print them at "start" position
	if !o.started {
		o.flushWarningsStart()

		return o.exitCode()
	}

	for _, w := range o.warnings {
		_, _ = fmt.Fprintln(o.errOut, "warning:", w)
	}

	return o.exitCode()
}

func (o *IO) exitCode() int {
	if o.strict && len(o.warnings) > 0 {
		return 1
	}

	return 0
}

func (o *IO) flushWarningsStart() {
	if !o.started && len(o.warnings) > 0 {
		for _, w := range o.warnings {
			_, _ = fmt.Fprintln(o.errOut, "warning:", w)
		}

		o.started = true
	}
}
