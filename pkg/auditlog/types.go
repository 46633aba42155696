package auditlog

import (
	"encoding/json"
	"strings"
)

const (
	// MaxEntries caps the retained log.
	MaxEntries = 500
	// DefaultListLimit is returned when the caller asks for no specific
	// amount.
	DefaultListLimit = 50
	// maxFieldLen bounds free-text entry fields.
	maxFieldLen = 128
)

// Entry is one recorded override.
type Entry struct {
	ID        string          `json:"id"`
	Slug      string          `json:"slug"`
	ChangedBy string          `json:"changedBy"`
	ChangedAt string          `json:"changedAt"`
	Before    json.RawMessage `json:"before"`
	After     json.RawMessage `json:"after"`
}

// ListQuery narrows a log read.
type ListQuery struct {
	Slugs []string
	Limit int
}

func truncateField(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxFieldLen {
		return s[:maxFieldLen]
	}
	return s
}
