package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"schemasync/internal/probe"
	"schemasync/internal/storage"
)

// Coerce converts a raw feed value to the representation stored in a column
// of type typ. Blank strings and nil become NULL (nil, nil).
//
// Integers come back as int64, decimals as their exact decimal string,
// datetimes as UTC time.Time and text as string. Decimals that do not fit the
// backend's fixed scale or precision are rejected rather than rounded.
func Coerce(v any, typ storage.ColumnType, lim storage.Limits) (any, error) {
	if v == nil {
		return nil, nil
	}
	if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
		return nil, nil
	}

	switch typ {
	case storage.TypeInteger:
		return coerceInteger(v)
	case storage.TypeDecimal:
		return coerceDecimal(v, lim)
	case storage.TypeDatetime:
		return coerceDatetime(v)
	default:
		return coerceText(v), nil
	}
}

func coerceInteger(v any) (any, error) {
	d, err := toDecimal(v)
	if err != nil {
		return nil, err
	}
	if !d.IsInteger() {
		return nil, fmt.Errorf("integer: %s is not whole", d)
	}
	if d.GreaterThan(decimal.NewFromInt(math.MaxInt32)) || d.LessThan(decimal.NewFromInt(-math.MaxInt32)) {
		return nil, fmt.Errorf("integer: %s: %w", d, storage.ErrOutOfRange)
	}
	return d.IntPart(), nil
}

func coerceDecimal(v any, lim storage.Limits) (any, error) {
	d, err := toDecimal(v)
	if err != nil {
		return nil, err
	}
	if err := lim.FitDecimal(d); err != nil {
		return nil, fmt.Errorf("decimal: %s: %w", d, err)
	}
	return d.String(), nil
}

func coerceDatetime(v any) (any, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case *time.Time:
		if t == nil {
			return nil, nil
		}
		return t.UTC(), nil
	case string:
		s := strings.TrimSpace(t)
		if ts, ok := probe.ParseDate(s); ok {
			return ts, nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return probe.SerialToTime(f), nil
		}
		return nil, fmt.Errorf("datetime: cannot parse %q", s)
	}

	d, err := toDecimal(v)
	if err != nil {
		return nil, fmt.Errorf("datetime: %w", err)
	}
	f, _ := d.Float64()
	return probe.SerialToTime(f), nil
}

func coerceText(v any) any {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(v)
	}
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch t := v.(type) {
	case decimal.Decimal:
		return t, nil
	case string:
		return parseDecimal(t)
	case []byte:
		return parseDecimal(string(t))
	case json.Number:
		return parseDecimal(t.String())
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return decimal.Decimal{}, fmt.Errorf("not a finite number: %v", t)
		}
		return decimal.NewFromFloat(t), nil
	case float32:
		return toDecimal(float64(t))
	case int:
		return decimal.NewFromInt(int64(t)), nil
	case int32:
		return decimal.NewFromInt(int64(t)), nil
	case int64:
		return decimal.NewFromInt(t), nil
	default:
		return decimal.Decimal{}, fmt.Errorf("not a number: %T", v)
	}
}

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("not a number: %q", s)
	}
	return d, nil
}
