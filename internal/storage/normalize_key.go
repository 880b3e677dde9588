package storage

import (
	"fmt"
	"strings"
)

// NormalizeKey renders a scanned natural key or resolver value as trimmed
// text ("ALJ01", "8429529"). Drivers return []byte, string or int64 for the
// same column.
func NormalizeKey(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case int64:
		return fmt.Sprintf("%d", t)
	case []byte:
		return strings.TrimSpace(string(t))
	case int:
		return fmt.Sprintf("%d", t)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}
