// Package health turns an activity record into a SAFE/WARNING/UNKNOWN verdict.
package health

import (
	"fmt"
	"time"

	"github.com/johnsaigle/zombie-detector/pkg/types"
)

// DefaultThresholdDays is the inactivity age at which a dependency is
// flagged. Exactly this many days is already a WARNING.
const DefaultThresholdDays = 730

// Status is the health verdict category.
type Status string

const (
	StatusSafe    Status = "SAFE"
	StatusWarning Status = "WARNING"
	StatusUnknown Status = "UNKNOWN"
)

// Rank orders statuses for reports: WARNING first, then SAFE, then UNKNOWN.
func (s Status) Rank() int {
	switch s {
	case StatusWarning:
		return 0
	case StatusSafe:
		return 1
	default:
		return 2
	}
}

// Verdict is the classification of one record at one instant.
type Verdict struct {
	Status Status `json:"status"`
	// Days since last activity; meaningful only when Known is true.
	Days   int    `json:"days_since_activity,omitempty"`
	Known  bool   `json:"-"`
	Detail string `json:"detail,omitempty"`
}

// Classifier applies an inactivity threshold.
type Classifier struct {
	ThresholdDays int
}

// New returns a classifier with the given threshold, or the default when
// days is not positive.
func New(days int) Classifier {
	if days <= 0 {
		days = DefaultThresholdDays
	}
	return Classifier{ThresholdDays: days}
}

// Classify is a pure function of rec and now. A nil record means resolution
// failed or no fetch was attempted.
func (c Classifier) Classify(rec *types.ActivityRecord, now time.Time) Verdict {
	if rec == nil {
		return Verdict{Status: StatusUnknown, Detail: "no repository information"}
	}

	switch rec.Status {
	case types.StatusOK:
	case types.StatusNotFound:
		return Verdict{Status: StatusUnknown, Detail: "repository not found or private"}
	case types.StatusRateLimited:
		d := "API rate limit exceeded"
		if rec.RateLimitReset != nil {
			d += " (resets " + rec.RateLimitReset.UTC().Format(time.RFC3339) + ")"
		}
		return Verdict{Status: StatusUnknown, Detail: d}
	default:
		d := "fetch failed"
		if rec.Detail != "" {
			d += ": " + rec.Detail
		}
		return Verdict{Status: StatusUnknown, Detail: d}
	}

	if rec.LastActivityAt == nil {
		return Verdict{Status: StatusUnknown, Detail: "no activity timestamp"}
	}

	days := DaysSince(*rec.LastActivityAt, now)
	threshold := c.ThresholdDays
	if threshold <= 0 {
		threshold = DefaultThresholdDays
	}

	v := Verdict{Status: StatusSafe, Days: days, Known: true}
	if days >= threshold {
		v.Status = StatusWarning
	}
	v.Detail = fmt.Sprintf("last activity %d days ago", days)
	if rec.Archived {
		v.Detail += ", archived"
	}
	return v
}

// DaysSince returns whole days elapsed from t to now, never negative.
func DaysSince(t, now time.Time) int {
	d := now.Sub(t)
	if d < 0 {
		return 0
	}
	return int(d / (24 * time.Hour))
}
