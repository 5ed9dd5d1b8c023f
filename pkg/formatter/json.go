package formatter

import (
	"encoding/json"
	"io"
	"time"

	"github.com/johnsaigle/zombie-detector/pkg/analyzer"
)

// JSONFormatter formats output as JSON
type JSONFormatter struct {
	opts Options
}

// JSONOutput represents the JSON output structure
type JSONOutput struct {
	Timestamp time.Time             `json:"timestamp"`
	Version   string                `json:"version"`
	Results   []JSONResult          `json:"results"`
	Summary   analyzer.SummaryStats `json:"summary"`
}

// JSONResult represents a single dependency result in JSON format
type JSONResult struct {
	Package           string     `json:"package"`
	Version           string     `json:"version,omitempty"`
	Ecosystem         string     `json:"ecosystem"`
	Status            string     `json:"status"`
	Details           string     `json:"details"`
	Repository        string     `json:"repository,omitempty"`
	URL               string     `json:"url,omitempty"`
	DaysSinceActivity *int       `json:"days_since_activity,omitempty"`
	LastActivityAt    *time.Time `json:"last_activity_at,omitempty"`
	FetchStatus       string     `json:"fetch_status,omitempty"`
	Archived          bool       `json:"archived,omitempty"`
	FromCache         bool       `json:"from_cache"`
	UsedLastGood      bool       `json:"used_last_good,omitempty"`
}

// Format writes results in input order as one JSON document
func (f *JSONFormatter) Format(w io.Writer, results []analyzer.Result, summary analyzer.SummaryStats) error {
	jsonResults := make([]JSONResult, len(results))
	for i, result := range results {
		jr := JSONResult{
			Package:      result.Dependency.Name,
			Version:      result.Dependency.Version,
			Ecosystem:    string(result.Dependency.Ecosystem),
			Status:       string(result.Verdict.Status),
			Details:      result.Details,
			FromCache:    result.FromCache,
			UsedLastGood: result.UsedLastGood,
		}
		if result.Repo != nil {
			jr.Repository = result.Repo.String()
			jr.URL = result.Repo.URL()
		}
		if result.Verdict.Known {
			days := result.Verdict.Days
			jr.DaysSinceActivity = &days
		}
		if result.Record != nil {
			jr.LastActivityAt = result.Record.LastActivityAt
			jr.FetchStatus = string(result.Record.Status)
			jr.Archived = result.Record.Archived
		}
		jsonResults[i] = jr
	}

	output := JSONOutput{
		Summary:   summary,
		Results:   jsonResults,
		Timestamp: f.opts.now().UTC(),
		Version:   Version,
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(output)
}

// ShouldExit returns the exit code based on results
func (f *JSONFormatter) ShouldExit(results []analyzer.Result) int {
	return exitCode(f.opts, results)
}
