package formatter

import (
	"fmt"
	"io"
	"time"

	"github.com/johnsaigle/zombie-detector/pkg/analyzer"
	"github.com/johnsaigle/zombie-detector/pkg/health"
	"github.com/samber/lo"
)

// Version is reported in machine-readable output.
const Version = "1.0.0"

// Formatter defines the interface for output formatters
type Formatter interface {
	// Format writes results to output in the specific format
	Format(w io.Writer, results []analyzer.Result, summary analyzer.SummaryStats) error

	// ShouldExit returns the exit code based on results
	// 0 = no zombies, 1 = at least one WARNING
	ShouldExit(results []analyzer.Result) int
}

// Options holds configuration options for formatters
type Options struct {
	Verbose    bool
	NoExitCode bool
	// Manifest is the scanned file, used by annotation formats.
	Manifest string
	// Now stamps JSON output. Defaults to time.Now.
	Now func() time.Time
}

func (o Options) now() time.Time {
	if o.Now == nil {
		return time.Now()
	}
	return o.Now()
}

func (o Options) manifest() string {
	if o.Manifest == "" {
		return "requirements.txt"
	}
	return o.Manifest
}

// New creates a formatter based on the format string
func New(format string, opts Options) (Formatter, error) {
	switch format {
	case "console", "":
		return &ConsoleFormatter{opts: opts}, nil
	case "json":
		return &JSONFormatter{opts: opts}, nil
	case "github-actions":
		return &GitHubActionsFormatter{opts: opts}, nil
	case "golangci-lint":
		return &GolangciLintFormatter{opts: opts}, nil
	default:
		return nil, fmt.Errorf("unknown format: %s", format)
	}
}

// exitCode is shared by every formatter that fails the build on zombies.
func exitCode(opts Options, results []analyzer.Result) int {
	if opts.NoExitCode {
		return 0
	}
	if lo.ContainsBy(results, func(r analyzer.Result) bool { return r.Verdict.Status == health.StatusWarning }) {
		return 1
	}
	return 0
}

// repositoryURL returns the browsable URL of the resolved repository, if any.
func repositoryURL(result analyzer.Result) string {
	if result.Repo == nil {
		return ""
	}
	return result.Repo.URL()
}
