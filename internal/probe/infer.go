// Package probe infers storage types from sampled field values.
//
// Inference is all-or-nothing: a single non-conforming sample degrades a
// column to text. Columns are typed once, at creation, and never re-inferred.
package probe

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"schemasync/internal/storage"
)

// minDateLen is the shortest string accepted as a calendar date.
const minDateLen = 7

// sample is one non-empty value prepared for inference.
type sample struct {
	text    string
	numeric bool // a native number; qualifies as a date serial
	instant bool // already a time.Time
}

// InferType infers a column type from string samples. Empty samples are
// ignored; no non-empty samples means text.
//
// Decision order:
//   - integer: every sample is a base-10 integer with |n| <= MaxInt32
//   - decimal: every sample is a decimal number that fits lim; numeric
//     columns that do not fit stay text
//   - datetime: every sample parses as a calendar date of at least 7 characters
//   - text otherwise
func InferType(samples []string, lim storage.Limits) storage.ColumnType {
	prepared := make([]sample, 0, len(samples))
	for _, s := range samples {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		prepared = append(prepared, sample{text: s})
	}
	return infer(prepared, lim)
}

// InferValues is InferType for raw feed values. Native numbers (float64,
// int, json.Number, ...) additionally count as date serials.
func InferValues(values []any, lim storage.Limits) storage.ColumnType {
	prepared := make([]sample, 0, len(values))
	for _, v := range values {
		if s, ok := toSample(v); ok {
			prepared = append(prepared, s)
		}
	}
	return infer(prepared, lim)
}

func infer(samples []sample, lim storage.Limits) storage.ColumnType {
	if len(samples) == 0 {
		return storage.TypeText
	}
	switch {
	case all(samples, isInt32):
		return storage.TypeInteger
	case all(samples, isDecimal):
		if !all(samples, fitsDecimal(lim)) {
			return storage.TypeText
		}
		return storage.TypeDecimal
	case all(samples, isDateLike):
		return storage.TypeDatetime
	default:
		return storage.TypeText
	}
}

func all(samples []sample, pred func(sample) bool) bool {
	for _, s := range samples {
		if !pred(s) {
			return false
		}
	}
	return true
}

func isInt32(s sample) bool {
	if s.instant {
		return false
	}
	n, err := strconv.ParseInt(s.text, 10, 64)
	return err == nil && n >= -math.MaxInt32 && n <= math.MaxInt32
}

func isDecimal(s sample) bool {
	if s.instant {
		return false
	}
	_, err := decimal.NewFromString(s.text)
	return err == nil
}

func fitsDecimal(lim storage.Limits) func(sample) bool {
	return func(s sample) bool {
		d, err := decimal.NewFromString(s.text)
		return err == nil && lim.FitDecimal(d) == nil
	}
}

func isDateLike(s sample) bool {
	if s.instant || s.numeric {
		return true
	}
	if len(s.text) < minDateLen {
		return false
	}
	_, ok := ParseDate(s.text)
	return ok
}

// toSample normalizes a feed value. nil and blank strings are skipped.
func toSample(v any) (sample, bool) {
	switch t := v.(type) {
	case nil:
		return sample{}, false
	case string:
		t = strings.TrimSpace(t)
		return sample{text: t}, t != ""
	case []byte:
		return toSample(string(t))
	case json.Number:
		return sample{text: t.String(), numeric: true}, true
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return sample{text: strconv.FormatFloat(t, 'f', -1, 64)}, true
		}
		return sample{text: strconv.FormatFloat(t, 'f', -1, 64), numeric: true}, true
	case float32:
		return toSample(float64(t))
	case int:
		return sample{text: strconv.Itoa(t), numeric: true}, true
	case int32:
		return sample{text: strconv.FormatInt(int64(t), 10), numeric: true}, true
	case int64:
		return sample{text: strconv.FormatInt(t, 10), numeric: true}, true
	case decimal.Decimal:
		return sample{text: t.String(), numeric: true}, true
	case time.Time:
		return sample{text: t.Format(time.RFC3339Nano), instant: true}, true
	case *time.Time:
		if t == nil {
			return sample{}, false
		}
		return toSample(*t)
	case bool:
		return sample{text: strconv.FormatBool(t)}, true
	default:
		return sample{}, false
	}
}
