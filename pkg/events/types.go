package events

import (
	"sort"
	"time"
)

const (
	// BucketWindow is the fixed rollup window.
	BucketWindow = 10 * time.Minute
	// maxBatchSize caps events accepted per ingest call.
	maxBatchSize = 200
	// DefaultFlushLimit bounds one flush; also the hard cap.
	DefaultFlushLimit = 500
	// ringCapacity bounds the in-process fallback buffer.
	ringCapacity = 100000
	// ServerContextKey is the reserved payload key carrying server-observed
	// request context.
	ServerContextKey = "_server"
)

// knownEventNames is the ingestion allow-list. Anything else is dropped
// silently; the client side is untrusted.
var knownEventNames = map[string]bool{
	"page_visit":   true,
	"scroll_depth": true,
	"link_click":   true,
	"share":        true,
	"search":       true,
	"media_play":   true,
}

// KnownEventNames returns the allow-list, sorted.
func KnownEventNames() []string {
	names := make([]string, 0, len(knownEventNames))
	for name := range knownEventNames {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IncomingEvent is one client-submitted row, pre-validation.
type IncomingEvent struct {
	EventName string                 `json:"eventName"`
	Slug      string                 `json:"slug"`
	Timestamp string                 `json:"timestamp"`
	SessionID string                 `json:"sessionId"`
	Payload   map[string]interface{} `json:"payload"`
}

// EventRecord is one accepted, normalized occurrence.
type EventRecord struct {
	EventName  string                 `json:"eventName"`
	Slug       string                 `json:"slug"`
	OccurredAt time.Time              `json:"occurredAt"`
	SessionID  string                 `json:"sessionId,omitempty"`
	Payload    map[string]interface{} `json:"payload"`
}

// RequestContext is the server-observed side of an ingest call, merged into
// each accepted payload under ServerContextKey.
type RequestContext struct {
	IP         string    `json:"ip,omitempty"`
	Referrer   string    `json:"referrer,omitempty"`
	Origin     string    `json:"origin,omitempty"`
	UserAgent  string    `json:"userAgent,omitempty"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// IngestResult reports how many rows were accepted.
type IngestResult struct {
	Ingested int `json:"ingested"`
}

// FlushResult reports how many queued rows were folded into the rollups.
type FlushResult struct {
	Flushed int `json:"flushed"`
}

// Rollup is one 10-minute aggregate row.
type Rollup struct {
	BucketStart    time.Time `json:"bucketStart"`
	EventName      string    `json:"eventName"`
	Slug           string    `json:"slug"`
	VisitCount     int64     `json:"visitCount"`
	UniqueSessions int64     `json:"uniqueSessions"`
	LastSeenAt     time.Time `json:"lastSeenAt"`
}

// Granularity selects the summary series bucketing.
type Granularity string

const (
	GranularityTenMinute Granularity = "10m"
	GranularityDay       Granularity = "day"
	GranularityWeek      Granularity = "week"
	GranularityMonth     Granularity = "month"
)

// SummaryQuery narrows a summary read.
type SummaryQuery struct {
	EventNames  []string
	Slugs       []string
	Start       time.Time
	End         time.Time
	Granularity Granularity
}

// SeriesPoint is one time-series entry of a summary.
type SeriesPoint struct {
	Key            string `json:"key"`
	VisitCount     int64  `json:"visitCount"`
	UniqueSessions int64  `json:"uniqueSessions"`
}

// Catalog lists the known event names and the slugs seen so far.
type Catalog struct {
	EventNames []string `json:"eventNames"`
	Slugs      []string `json:"slugs"`
}

// SummaryResult is the summary response.
type SummaryResult struct {
	TotalsByEvent map[string]int64 `json:"totalsByEvent"`
	TotalsBySlug  map[string]int64 `json:"totalsBySlug"`
	Series        []SeriesPoint    `json:"series"`
	Catalog       Catalog          `json:"catalog"`
}

// bucketStart truncates t to its 10-minute window in UTC.
func bucketStart(t time.Time) time.Time {
	return t.UTC().Truncate(BucketWindow)
}

// groupKey identifies one (window, event, slug) aggregate.
type groupKey struct {
	bucket time.Time
	event  string
	slug   string
}

// group is one flush-local aggregate before it merges into the rollups.
type group struct {
	visitCount int64
	lastSeen   time.Time
	sessions   map[string]bool
}

// groupRecords folds records into per-(window, event, slug) aggregates.
func groupRecords(records []EventRecord) map[groupKey]*group {
	groups := make(map[groupKey]*group)
	for _, rec := range records {
		key := groupKey{bucket: bucketStart(rec.OccurredAt), event: rec.EventName, slug: rec.Slug}
		g, ok := groups[key]
		if !ok {
			g = &group{sessions: make(map[string]bool)}
			groups[key] = g
		}
		g.visitCount++
		if rec.OccurredAt.After(g.lastSeen) {
			g.lastSeen = rec.OccurredAt
		}
		if rec.SessionID != "" {
			g.sessions[rec.SessionID] = true
		}
	}
	return groups
}
