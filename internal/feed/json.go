package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"schemasync/internal/storage"
	"schemasync/pkg/records"
)

// JSONFetcher reads a JSON export. The root may be an array of objects, an
// object whose first array-of-objects field holds the records (envelope), or a
// single object. Numbers stay json.Number so no precision is lost; nested
// arrays of scalars are joined with ", " and nested objects are kept as JSON
// text.
type JSONFetcher struct {
	Location string
	Fields   Fields
	Loader   *Loader
}

// Fetch implements Fetcher.
func (f JSONFetcher) Fetch(ctx context.Context, _ storage.Source, since *time.Time) ([]records.SourceRow, error) {
	b, err := loaderOrDefault(f.Loader).Load(ctx, f.Location)
	if err != nil {
		return nil, err
	}
	return parseJSON(ctx, b, rowBuilder{fields: f.Fields, since: since})
}

// object is one decoded record with its key order.
type object struct {
	values map[string]any
	names  []string
}

func parseJSON(ctx context.Context, data []byte, b rowBuilder) ([]records.SourceRow, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	dec := newDecoder(data)

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("json: read first token: %w", err)
	}

	var objs []object
	switch tok {
	case json.Delim('['):
		objs, err = readArray(ctx, dec)
	case json.Delim('{'):
		objs, err = readEnvelope(ctx, dec)
	default:
		return nil, fmt.Errorf("json: unsupported root token %v (want object or array)", tok)
	}
	if err != nil {
		return nil, err
	}

	out := make([]records.SourceRow, 0, len(objs))
	for _, o := range objs {
		if row, ok := b.build(o.values, o.names); ok {
			out = append(out, row)
		}
	}
	return out, nil
}

func newDecoder(data []byte) *json.Decoder {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec
}

// readArray reads array elements after the opening '['.
func readArray(ctx context.Context, dec *json.Decoder) ([]object, error) {
	var out []object
	for dec.More() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("json: record %d: %w", len(out)+1, err)
		}
		if tok != json.Delim('{') {
			return nil, fmt.Errorf("json: record %d is %v, want object", len(out)+1, tok)
		}
		o, err := readObject(dec)
		if err != nil {
			return nil, fmt.Errorf("json: record %d: %w", len(out)+1, err)
		}
		out = append(out, o)
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("json: read array end: %w", err)
	}
	return out, nil
}

// readObject reads key/value pairs after the opening '{', keeping key order.
func readObject(dec *json.Decoder) (object, error) {
	o := object{values: make(map[string]any)}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return o, err
		}
		key, ok := tok.(string)
		if !ok {
			return o, fmt.Errorf("unexpected token %v", tok)
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return o, fmt.Errorf("field %q: %w", key, err)
		}
		if _, dup := o.values[key]; !dup {
			o.names = append(o.names, key)
		}
		o.values[key] = flatten(v)
	}
	if _, err := dec.Token(); err != nil {
		return o, err
	}
	return o, nil
}

// readEnvelope reads a root object after its '{'. The first field holding an
// array of objects becomes the record list; without one, the root object is
// the only record.
func readEnvelope(ctx context.Context, dec *json.Decoder) ([]object, error) {
	root := object{values: make(map[string]any)}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("json: read envelope: %w", err)
		}
		key, _ := tok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("json: field %q: %w", key, err)
		}
		if isArrayOfObjects(raw) {
			inner := newDecoder(raw)
			if _, err := inner.Token(); err != nil {
				return nil, fmt.Errorf("json: field %q: %w", key, err)
			}
			return readArray(ctx, inner)
		}

		var v any
		if err := newDecoder(raw).Decode(&v); err != nil {
			return nil, fmt.Errorf("json: field %q: %w", key, err)
		}
		root.names = append(root.names, key)
		root.values[key] = flatten(v)
	}
	return []object{root}, nil
}

func isArrayOfObjects(raw json.RawMessage) bool {
	s := bytes.TrimSpace(raw)
	if len(s) == 0 || s[0] != '[' {
		return false
	}
	s = bytes.TrimSpace(s[1:])
	return len(s) > 0 && s[0] == '{'
}

// flatten turns nested values into a scalar column value.
func flatten(v any) any {
	switch t := v.(type) {
	case []any:
		parts := make([]string, 0, len(t))
		for _, e := range t {
			switch e.(type) {
			case map[string]any, []any:
				b, _ := json.Marshal(e)
				parts = append(parts, string(b))
			default:
				if s := scalar(e); s != "" {
					parts = append(parts, s)
				}
			}
		}
		if len(parts) == 0 {
			return nil
		}
		return strings.Join(parts, ", ")
	case map[string]any:
		b, err := json.Marshal(t)
		if err != nil {
			return nil
		}
		return string(b)
	default:
		return v
	}
}
