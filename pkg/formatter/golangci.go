package formatter

import (
	"fmt"
	"io"

	"github.com/johnsaigle/zombie-detector/pkg/analyzer"
	"github.com/johnsaigle/zombie-detector/pkg/health"
)

// GolangciLintFormatter formats output like a golangci-lint linter so that
// editors and CI problem matchers can pick it up.
type GolangciLintFormatter struct {
	opts Options
}

// Format writes results in golangci-lint compatible format
// Format: {filename}:{line}:{column}: {message} ({linter})
func (f *GolangciLintFormatter) Format(w io.Writer, results []analyzer.Result, summary analyzer.SummaryStats) error {
	file := f.opts.manifest()
	for _, result := range results {
		if result.Verdict.Status != health.StatusWarning {
			continue
		}
		fmt.Fprintf(w, "%s:1:1: %s (zombie)\n", file, f.formatMessage(result))
	}
	return nil
}

func (f *GolangciLintFormatter) formatMessage(result analyzer.Result) string {
	msg := fmt.Sprintf("dependency `%s` looks abandoned: no activity for %d days", result.Dependency.Name, result.Verdict.Days)
	if result.Record != nil && result.Record.Archived {
		msg += ", repository archived"
	}
	return msg + "."
}

// ShouldExit returns the exit code
// golangci-lint expects exit code 0 always (issues are reported via stdout)
func (f *GolangciLintFormatter) ShouldExit(results []analyzer.Result) int {
	return 0
}
