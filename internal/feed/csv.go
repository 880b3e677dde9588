package feed

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"schemasync/internal/storage"
	"schemasync/pkg/records"
)

// CSVFetcher reads a CSV export with a header row. Blank cells are nil; other
// cells are trimmed strings.
type CSVFetcher struct {
	Location string
	Fields   Fields
	// Comma defaults to ','.
	Comma  rune
	Loader *Loader
}

// Fetch implements Fetcher.
func (f CSVFetcher) Fetch(ctx context.Context, _ storage.Source, since *time.Time) ([]records.SourceRow, error) {
	b, err := loaderOrDefault(f.Loader).Load(ctx, f.Location)
	if err != nil {
		return nil, err
	}
	return parseCSV(ctx, bytes.NewReader(b), f.Comma, rowBuilder{fields: f.Fields, since: since})
}

func parseCSV(ctx context.Context, r io.Reader, comma rune, b rowBuilder) ([]records.SourceRow, error) {
	cr := csv.NewReader(r)
	if comma != 0 {
		cr.Comma = comma
	}
	cr.FieldsPerRecord = -1

	hdr, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("csv: read header: %w", err)
	}
	names := make([]string, len(hdr))
	for i, h := range hdr {
		if i == 0 {
			h = strings.TrimPrefix(h, "\uFEFF")
		}
		names[i] = strings.TrimSpace(h)
	}

	var out []records.SourceRow
	for line := 2; ; line++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := cr.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("csv: line %d: %w", line, err)
		}

		values := make(map[string]any, len(names))
		for i, n := range names {
			if n == "" {
				continue
			}
			if _, dup := values[n]; dup {
				continue
			}
			var v any
			if i < len(rec) {
				if s := strings.TrimSpace(rec[i]); s != "" {
					v = s
				}
			}
			values[n] = v
		}
		if row, ok := b.build(values, names); ok {
			out = append(out, row)
		}
	}
}

func loaderOrDefault(l *Loader) *Loader {
	if l == nil {
		return NewLoader(nil, 0)
	}
	return l
}
