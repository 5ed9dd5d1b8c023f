package formatter

import (
	"fmt"
	"io"
	"strings"

	"github.com/johnsaigle/zombie-detector/pkg/analyzer"
	"github.com/johnsaigle/zombie-detector/pkg/health"
)

// GitHubActionsFormatter formats output for GitHub Actions annotations
type GitHubActionsFormatter struct {
	opts Options
}

// escapeData escapes a workflow command message.
func escapeData(s string) string {
	return strings.NewReplacer("%", "%25", "\r", "%0D", "\n", "%0A").Replace(s)
}

// Format writes results in GitHub Actions annotations format
// https://docs.github.com/en/actions/using-workflows/workflow-commands-for-github-actions
func (f *GitHubActionsFormatter) Format(w io.Writer, results []analyzer.Result, summary analyzer.SummaryStats) error {
	file := f.opts.manifest()
	for _, result := range results {
		switch {
		case result.Verdict.Status == health.StatusWarning:
		case f.opts.Verbose && result.Verdict.Status == health.StatusUnknown:
			fmt.Fprintf(w, "::notice file=%s,title=Unknown Dependency Status::%s\n",
				file, escapeData(result.Dependency.Name+": "+result.Details))
			continue
		default:
			continue
		}

		message := fmt.Sprintf("%s: %s", result.Dependency.Name, result.Details)
		if url := repositoryURL(result); url != "" {
			message += fmt.Sprintf(" - %s", url)
		}

		// Format: ::{severity} file={name},title={title}::{message}
		fmt.Fprintf(w, "::warning file=%s,title=Zombie Dependency::%s\n", file, escapeData(message))
	}

	fmt.Fprintf(w, "::notice::Scanned %d packages: %d safe, %d warning, %d unknown\n",
		summary.Total, summary.Safe, summary.Warning, summary.Unknown)
	return nil
}

// ShouldExit returns the exit code based on results
func (f *GitHubActionsFormatter) ShouldExit(results []analyzer.Result) int {
	return exitCode(f.opts, results)
}
