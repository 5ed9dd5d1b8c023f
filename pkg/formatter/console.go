package formatter

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/fatih/color"
	"github.com/johnsaigle/zombie-detector/pkg/analyzer"
	"github.com/johnsaigle/zombie-detector/pkg/health"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	warningColor = color.New(color.FgRed, color.Bold)
	safeColor    = color.New(color.FgGreen, color.Bold)
	unknownColor = color.New(color.FgYellow, color.Bold)

	titleCase = cases.Title(language.English)
)

// ConsoleFormatter formats output for human-readable console display
type ConsoleFormatter struct {
	opts Options
}

func statusColor(s health.Status) *color.Color {
	switch s {
	case health.StatusWarning:
		return warningColor
	case health.StatusSafe:
		return safeColor
	default:
		return unknownColor
	}
}

// Format writes a summary followed by a table: zombies first, then healthy
// packages, then unknowns, each group sorted by name.
func (f *ConsoleFormatter) Format(w io.Writer, results []analyzer.Result, summary analyzer.SummaryStats) error {
	sorted := make([]analyzer.Result, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool {
		ri, rj := sorted[i].Verdict.Status.Rank(), sorted[j].Verdict.Status.Rank()
		if ri != rj {
			return ri < rj
		}
		return sorted[i].Dependency.Name < sorted[j].Dependency.Name
	})

	fmt.Fprintln(w, "Scan Summary")
	fmt.Fprintln(w, "============")
	fmt.Fprintf(w, "Scanned: %d packages\n", summary.Total)
	fmt.Fprintf(w, "%s %d\n", safeColor.Sprint("✓ "+titleCase.String(string(health.StatusSafe))+":"), summary.Safe)
	fmt.Fprintf(w, "%s %d\n", warningColor.Sprint("⚠ "+titleCase.String(string(health.StatusWarning))+":"), summary.Warning)
	fmt.Fprintf(w, "%s %d\n", unknownColor.Sprint("? "+titleCase.String(string(health.StatusUnknown))+":"), summary.Unknown)
	if f.opts.Verbose {
		fmt.Fprintf(w, "From cache: %d, fetched: %d\n", summary.FromCache, summary.Fetched)
	}
	fmt.Fprintln(w)

	if len(sorted) == 0 {
		fmt.Fprintln(w, "No packages to report.")
		return nil
	}

	table := tablewriter.NewWriter(w)
	headers := []string{"Package", "Status", "Days Since Activity", "Repository", "Details"}
	if f.opts.Verbose {
		headers = append(headers, "Source")
	}
	table.Header(headers)
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignLeft
	})

	var data [][]string
	for _, r := range sorted {
		days := "-"
		if r.Verdict.Known {
			days = strconv.Itoa(r.Verdict.Days)
		}
		repo := repositoryURL(r)
		if repo == "" {
			repo = "N/A"
		}
		details := r.Details
		if details == "" {
			details = "No information"
		}
		row := []string{
			r.Dependency.Name,
			statusColor(r.Verdict.Status).Sprint(string(r.Verdict.Status)),
			days,
			repo,
			details,
		}
		if f.opts.Verbose {
			row = append(row, sourceLabel(r))
		}
		data = append(data, row)
	}

	if err := table.Bulk(data); err != nil {
		return err
	}
	return table.Render()
}

func sourceLabel(r analyzer.Result) string {
	switch {
	case r.Repo == nil || r.Record == nil:
		return "-"
	case r.FromCache:
		return "cache"
	default:
		return "api"
	}
}

// ShouldExit returns the exit code based on results
func (f *ConsoleFormatter) ShouldExit(results []analyzer.Result) int {
	return exitCode(f.opts, results)
}
