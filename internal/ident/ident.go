// Package ident derives safe, bounded storage identifiers from display text
// such as source aliases and question labels.
//
// All functions are pure and deterministic: the same input always yields the
// same identifier, across processes and releases. Table and column names
// derived here are persisted, so changing any rule in this file moves data.
package ident

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Style selects how words are joined.
type Style int

const (
	// TitleConcat upper-cases the first letter of each word and concatenates
	// ("visita operativa" -> "VisitaOperativa"). Used for table names.
	TitleConcat Style = iota
	// Underscore joins words with "_" and keeps their case. Used for columns.
	Underscore
)

const (
	// Fallback is returned by Sanitize when nothing survives sanitization.
	Fallback = "Col_Unknown"

	// MaxSchemaSlug caps the alias part of a table name.
	MaxSchemaSlug = 50
	// MaxColumnName caps column names before any backend limit applies.
	MaxColumnName = 100

	// CollisionPrefix is prepended to column names that collide with a
	// reserved name.
	CollisionPrefix = "Q_"
	// ResolverPrefix starts every resolver column; dynamic columns may not use it.
	ResolverPrefix = "_ref_"
)

// Sanitize strips diacritics, drops characters outside [A-Za-z0-9_ ], collapses
// whitespace, joins words per style and truncates to maxLen bytes.
//
// Edge cases:
//   - maxLen <= 0 means no truncation.
//   - If nothing remains, Fallback is returned.
func Sanitize(raw string, maxLen int, style Style) string {
	s := slug(raw, maxLen, style)
	if s == "" {
		return Fallback
	}
	return s
}

// SchemaName composes the table name for a source: "<prefix>_<id>_<Slug>",
// or "<prefix>_<id>" when the alias has no usable characters.
func SchemaName(prefix string, sourceID int, alias string) string {
	s := slug(alias, MaxSchemaSlug, TitleConcat)
	if s == "" {
		return fmt.Sprintf("%s_%d", prefix, sourceID)
	}
	return fmt.Sprintf("%s_%d_%s", prefix, sourceID, s)
}

// SafeColumnName derives a column name from raw field text.
//
// The name is capped at maxLen (or MaxColumnName when maxLen is out of range).
// A case-insensitive match against reserved, or a name that starts with the
// resolver prefix, gets CollisionPrefix.
func SafeColumnName(raw string, reserved Reserved, maxLen int) string {
	if maxLen <= 0 || maxLen > MaxColumnName {
		maxLen = MaxColumnName
	}
	name := Sanitize(raw, maxLen, Underscore)
	if reserved.Contains(name) || strings.HasPrefix(strings.ToLower(name), ResolverPrefix) {
		name = truncate(CollisionPrefix+name, maxLen)
	}
	return name
}

// Reserved is a case-insensitive set of names dynamic columns must not take.
type Reserved map[string]struct{}

// NewReserved builds a Reserved set.
func NewReserved(names ...string) Reserved {
	r := make(Reserved, len(names))
	for _, n := range names {
		r[strings.ToLower(n)] = struct{}{}
	}
	return r
}

// Add reserves names.
func (r Reserved) Add(names ...string) {
	for _, n := range names {
		r[strings.ToLower(n)] = struct{}{}
	}
}

// Contains reports whether name is reserved, ignoring case.
func (r Reserved) Contains(name string) bool {
	_, ok := r[strings.ToLower(name)]
	return ok
}

func slug(raw string, maxLen int, style Style) string {
	ws := words(raw)
	if len(ws) == 0 {
		return ""
	}
	var out string
	switch style {
	case TitleConcat:
		var b strings.Builder
		for _, w := range ws {
			b.WriteString(strings.ToUpper(w[:1]))
			b.WriteString(w[1:])
		}
		out = b.String()
	default:
		out = strings.Join(ws, "_")
	}
	return truncate(out, maxLen)
}

// words returns the ASCII words left after removing diacritics and
// disallowed characters. Any Unicode space separates words.
func words(raw string) []string {
	// transform.Chain is stateful, so build one per call.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	s, _, err := transform.String(t, raw)
	if err != nil {
		s = raw
	}

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r < utf8.RuneSelf && isWordByte(byte(r)):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		}
	}
	return strings.Fields(b.String())
}

func isWordByte(c byte) bool {
	return c == '_' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}

// truncate cuts s to maxLen bytes. Sanitized names are ASCII, so any cut is
// a rune boundary.
func truncate(s string, maxLen int) string {
	if maxLen > 0 && len(s) > maxLen {
		return s[:maxLen]
	}
	return s
}
