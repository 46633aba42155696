package heatmap

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// GridCols is the fixed column width of rendered grids.
	GridCols = 12
	// maxMergedCells caps distinct cells accepted per recorded batch.
	maxMergedCells = 30
	// maxPartLen caps sanitized key part length.
	maxPartLen = 32
	// topCellCount is the length of the per-bucket top list.
	topCellCount = 20
)

// Key part fallbacks for missing or fully-invalid values.
const (
	DefaultBucket  = "default"
	DefaultSection = "root"
	DefaultType    = "generic"
)

// FieldKey identifies one accumulator cell. Parts are sanitized before a key
// is built, so the encoded form is delimiter-safe.
type FieldKey struct {
	Bucket  string
	Section string
	Type    string
	Cell    int
}

// Encode renders the hash-field form "bucket|section|type|cell".
func (k FieldKey) Encode() string {
	return k.Bucket + "|" + k.Section + "|" + k.Type + "|" + strconv.Itoa(k.Cell)
}

// DecodeFieldKey parses an encoded field back into its parts.
func DecodeFieldKey(field string) (FieldKey, error) {
	parts := strings.Split(field, "|")
	if len(parts) != 4 {
		return FieldKey{}, fmt.Errorf("malformed heatmap field %q", field)
	}
	cell, err := strconv.Atoi(parts[3])
	if err != nil || cell < 0 {
		return FieldKey{}, fmt.Errorf("malformed heatmap cell in %q", field)
	}
	return FieldKey{Bucket: parts[0], Section: parts[1], Type: parts[2], Cell: cell}, nil
}

// sanitizePart lowercases, strips everything outside [a-z0-9_-], and caps
// length. A value with nothing left falls back.
func sanitizePart(value, fallback string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(value) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			b.WriteRune(r)
			if b.Len() == maxPartLen {
				break
			}
		}
	}
	if b.Len() == 0 {
		return fallback
	}
	return b.String()
}

// CellSample is one client-submitted cell hit.
type CellSample struct {
	Cell    int    `json:"cell"`
	Count   int64  `json:"count"`
	Section string `json:"section"`
	Type    string `json:"type"`
}

// RecordInput is one recording batch for a slug.
type RecordInput struct {
	Bucket string       `json:"bucket"`
	Cells  []CellSample `json:"cells"`
}

// RecordResult reports how many merged cells were applied.
type RecordResult struct {
	Recorded int `json:"recorded"`
}

// CellCount is one parsed accumulator entry.
type CellCount struct {
	Section string `json:"section"`
	Type    string `json:"type"`
	Cell    int    `json:"cell"`
	Count   int64  `json:"count"`
}

// BucketView is the rendered grid for one bucket.
type BucketView struct {
	Bucket        string           `json:"bucket"`
	Rows          int              `json:"rows"`
	Cols          int              `json:"cols"`
	Total         int64            `json:"total"`
	Max           int64            `json:"max"`
	Counts        [][]int64        `json:"counts"`
	Ratio         [][]float64      `json:"ratio"`
	Intensity     [][]float64      `json:"intensity"`
	SectionTotals map[string]int64 `json:"sectionTotals"`
	TypeTotals    map[string]int64 `json:"typeTotals"`
	TopCells      []CellCount      `json:"topCells"`
}

// Snapshot is the full rendered heatmap for a slug.
type Snapshot struct {
	Slug    string       `json:"slug"`
	Buckets []BucketView `json:"buckets"`
}

// Summary is the per-slug roll-up used by the listing endpoint.
type Summary struct {
	Slug         string   `json:"slug"`
	TotalSamples int64    `json:"totalSamples"`
	Buckets      []string `json:"buckets"`
}
