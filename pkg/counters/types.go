package counters

import (
	"sort"
	"time"
)

// DateFormat is the day key used for counter history.
const DateFormat = "2006-01-02"

const (
	// viewDedupTTL bounds "already counted a view" membership.
	viewDedupTTL = 24 * time.Hour
	// likeMembershipTTL bounds "has an active like" membership.
	likeMembershipTTL = 90 * 24 * time.Hour
)

// DailyStat is one day's worth of counter movement.
type DailyStat struct {
	Date  string `json:"date"`
	Views int64  `json:"views"`
	Likes int64  `json:"likes"`
}

// Snapshot is the full counter state for one slug.
type Snapshot struct {
	Views   int64       `json:"views"`
	Likes   int64       `json:"likes"`
	History []DailyStat `json:"history,omitempty"`
}

// RangeTotals sums history rows between two inclusive day keys.
type RangeTotals struct {
	Views int64 `json:"views"`
	Likes int64 `json:"likes"`
}

// MetricsResult is the read-path response.
type MetricsResult struct {
	Views       int64        `json:"views"`
	Likes       int64        `json:"likes"`
	Liked       *bool        `json:"liked,omitempty"`
	History     []DailyStat  `json:"history"`
	RangeTotals *RangeTotals `json:"rangeTotals,omitempty"`
}

// BumpResult is the view-bump response.
type BumpResult struct {
	Views   int64 `json:"views"`
	Likes   int64 `json:"likes"`
	Liked   bool  `json:"liked"`
	Deduped bool  `json:"deduped"`
}

// LikeResult is the like-toggle response.
type LikeResult struct {
	Views int64 `json:"views"`
	Likes int64 `json:"likes"`
	Liked bool  `json:"liked"`
}

// GetOptions narrow a metrics read.
type GetOptions struct {
	ViewerID  string
	StartDate time.Time
	EndDate   time.Time
}

// OverwriteInput is the admin absolute-set payload. Nil fields keep the
// existing value.
type OverwriteInput struct {
	Views   *int64      `json:"views"`
	Likes   *int64      `json:"likes"`
	History []DailyStat `json:"history"`
}

// ValidationError reports per-field failures for admin writes. The write is
// rejected whole; nothing is partially applied.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string { return "invalid metrics payload" }

// Validate checks an overwrite payload.
func (in *OverwriteInput) Validate() error {
	fields := make(map[string]string)
	if in.Views != nil && *in.Views < 0 {
		fields["views"] = "must be a non-negative integer"
	}
	if in.Likes != nil && *in.Likes < 0 {
		fields["likes"] = "must be a non-negative integer"
	}
	for _, h := range in.History {
		if _, err := time.Parse(DateFormat, h.Date); err != nil {
			fields["history"] = "entry " + h.Date + " has an invalid date"
			break
		}
		if h.Views < 0 || h.Likes < 0 {
			fields["history"] = "entries must carry non-negative counts"
			break
		}
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func sortHistory(history []DailyStat) {
	sort.Slice(history, func(i, j int) bool {
		return history[i].Date < history[j].Date
	})
}

// rangeTotals sums history rows inside [start, end] (inclusive day keys).
func rangeTotals(history []DailyStat, start, end time.Time) *RangeTotals {
	startKey := start.Format(DateFormat)
	endKey := end.Format(DateFormat)

	totals := &RangeTotals{}
	for _, h := range history {
		if h.Date >= startKey && h.Date <= endKey {
			totals.Views += h.Views
			totals.Likes += h.Likes
		}
	}
	return totals
}
