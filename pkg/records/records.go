// Package records defines the row shape exchanged between feeds and the sync engine.
package records

import (
	"sort"
	"time"
)

// SourceRow is one external record as delivered by a feed.
//
// Fields maps the raw field name (question text, view column label) to its
// raw value. Values are whatever the feed decoded: string, json.Number,
// float64, int64, bool, time.Time or nil.
//
// Order optionally carries the feed's native field order. It only affects the
// order in which new columns are appended; lookups always go through Fields.
type SourceRow struct {
	Key         string
	Fields      map[string]any
	Order       []string
	Email       string
	Name        string
	SubmittedAt *time.Time
}

// FieldNames returns the row's field names: Order first (skipping names that
// are not in Fields), then any remaining names sorted.
func (r SourceRow) FieldNames() []string {
	out := make([]string, 0, len(r.Fields))
	seen := make(map[string]bool, len(r.Fields))
	for _, n := range r.Order {
		if _, ok := r.Fields[n]; !ok || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	var rest []string
	for n := range r.Fields {
		if !seen[n] {
			rest = append(rest, n)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}
