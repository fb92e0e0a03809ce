package report

import (
	"fmt"
	"io"
	"os"

	"stdinfuzz/internal/campaign"
	"stdinfuzz/internal/types"

	"github.com/fatih/color"
)

var (
	crashColor   = color.New(color.FgRed, color.Bold)
	successColor = color.New(color.FgGreen, color.Bold)
	warnColor    = color.New(color.FgYellow)
)

// Console prints the user facing campaign report. Logs go to stderr, the
// report goes here.
type Console struct {
	out io.Writer
}

func NewConsole() *Console {
	return New(color.Output)
}

func New(out io.Writer) *Console {
	if out == nil {
		out = os.Stdout
	}
	return &Console{out}
}

// Command prints the resolved command line before fuzzing starts.
func (c *Console) Command(target types.TargetCommand) {
	fmt.Fprintf(c.out, "Command: %s\n", target)
}

// Crash prints the triggering input, the target's output and its exit status.
func (c *Console) Crash(report *types.CrashReport) {
	fmt.Fprintf(c.out, "Input: %s\n", report.Mutant.Data)
	fmt.Fprintf(c.out, "Output: %s\n", report.Output)
	crashColor.Fprintln(c.out, "Non-zero exit code detected!")
	fmt.Fprintf(c.out, "Exit code: %d\n", report.ExitCode)
}

// Outcome prints the crash report of a halted campaign or a one-line summary
// otherwise.
func (c *Console) Outcome(outcome *campaign.Outcome) {
	switch outcome.State {
	case campaign.Halted:
		c.Crash(outcome.Crash)
		return
	case campaign.Interrupted:
		warnColor.Fprintf(c.out, "Interrupted after %d of %d mutants\n", outcome.Executed+len(outcome.Failures), outcome.Mutants)
	default:
		successColor.Fprintf(c.out, "No crash found in %d mutants\n", outcome.Mutants)
	}
	if n := len(outcome.Failures); n > 0 {
		warnColor.Fprintf(c.out, "%d of them could not be executed, see the log for details\n", n)
	}
}
