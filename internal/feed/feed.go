// Package feed fetches SourceRows from file or HTTP exports (CSV, JSON, HTML
// tables). Each source is bound to one Fetcher in a Registry.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"schemasync/internal/probe"
	"schemasync/internal/storage"
	"schemasync/pkg/records"
)

// Fetcher returns the rows of one source. A non-nil since asks for rows
// submitted after it; rows without a submission time are always returned.
type Fetcher interface {
	Fetch(ctx context.Context, src storage.Source, since *time.Time) ([]records.SourceRow, error)
}

// Fields names the raw fields that feed the system columns. Those fields are
// removed from SourceRow.Fields.
type Fields struct {
	Key       string `yaml:"key"`
	Email     string `yaml:"email"`
	Name      string `yaml:"name"`
	Submitted string `yaml:"submitted"`
}

// rowBuilder turns one decoded record into a SourceRow.
type rowBuilder struct {
	fields Fields
	since  *time.Time
}

// build returns the row and whether it passes the since filter. names is the
// record's native field order.
func (b rowBuilder) build(values map[string]any, names []string) (records.SourceRow, bool) {
	row := records.SourceRow{Fields: make(map[string]any, len(values))}
	for _, n := range names {
		v, ok := values[n]
		if !ok {
			continue
		}
		switch {
		case b.fields.Key != "" && n == b.fields.Key:
			row.Key = scalar(v)
		case b.fields.Email != "" && n == b.fields.Email:
			row.Email = scalar(v)
		case b.fields.Name != "" && n == b.fields.Name:
			row.Name = scalar(v)
		case b.fields.Submitted != "" && n == b.fields.Submitted:
			row.SubmittedAt = submittedAt(v)
		default:
			row.Fields[n] = v
			row.Order = append(row.Order, n)
		}
	}

	if b.since != nil && row.SubmittedAt != nil && !row.SubmittedAt.After(*b.since) {
		return row, false
	}
	return row, true
}

// scalar renders a system field value as trimmed text.
func scalar(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

func submittedAt(v any) *time.Time {
	switch t := v.(type) {
	case time.Time:
		u := t.UTC()
		return &u
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return nil
		}
		u := probe.SerialToTime(f)
		return &u
	}
	if ts, ok := probe.ParseDate(scalar(v)); ok {
		return &ts
	}
	return nil
}
