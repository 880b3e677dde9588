package feed

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"schemasync/internal/storage"
	"schemasync/pkg/records"
)

// HTMLFetcher reads the first table matched by Selector (default "table") of
// an HTML export, such as a ticketing view saved as a web page.
//
// Headers come from the <th> cells of the table's first row that has any;
// every later row with <td> cells is a record. Blank cells are nil.
type HTMLFetcher struct {
	Location string
	Selector string
	Fields   Fields
	Loader   *Loader
}

// Fetch implements Fetcher.
func (f HTMLFetcher) Fetch(ctx context.Context, _ storage.Source, since *time.Time) ([]records.SourceRow, error) {
	b, err := loaderOrDefault(f.Loader).Load(ctx, f.Location)
	if err != nil {
		return nil, err
	}
	return parseHTML(b, f.Selector, rowBuilder{fields: f.Fields, since: since})
}

func parseHTML(data []byte, selector string, b rowBuilder) ([]records.SourceRow, error) {
	if strings.TrimSpace(selector) == "" {
		selector = "table"
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	table := doc.Find(selector).First()
	if table.Length() == 0 {
		return nil, fmt.Errorf("html: no element matches %q", selector)
	}

	var (
		names []string
		out   []records.SourceRow
	)
	table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		if names == nil {
			if th := tr.Find("th"); th.Length() > 0 {
				th.Each(func(_ int, c *goquery.Selection) {
					names = append(names, cellText(c))
				})
			}
			return
		}

		cells := tr.Find("td")
		if cells.Length() == 0 {
			return
		}
		values := make(map[string]any, len(names))
		cells.Each(func(i int, c *goquery.Selection) {
			if i >= len(names) || names[i] == "" {
				return
			}
			if _, dup := values[names[i]]; dup {
				return
			}
			var v any
			if s := cellText(c); s != "" {
				v = s
			}
			values[names[i]] = v
		})
		if row, ok := b.build(values, names); ok {
			out = append(out, row)
		}
	})
	if names == nil {
		return nil, fmt.Errorf("html: table %q has no header row", selector)
	}
	return out, nil
}

// cellText is the cell's text with whitespace runs collapsed.
func cellText(c *goquery.Selection) string {
	return strings.Join(strings.Fields(c.Text()), " ")
}
