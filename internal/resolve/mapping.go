// Package resolve turns free-text field values (store names, people) into
// canonical references and writes them back next to the source column.
package resolve

import (
	"errors"
	"fmt"
	"strings"

	"schemasync/internal/ident"
	"schemasync/internal/storage"
)

var (
	// ErrUnknownMappingType is returned for a mapping type outside the closed set.
	ErrUnknownMappingType = errors.New("unknown mapping type")

	// ErrMappingColumnMissing reports a field mapping whose column is not in the table.
	ErrMappingColumnMissing = errors.New("mapped column not found in table")
)

// NoMap is the column value that marks a mapping type as deliberately
// disabled for a source. AutoDetect never overrides it.
const NoMap = "__NO_MAP__"

// MappingType is a kind of reference a column can hold.
type MappingType int

const (
	StoreReference MappingType = iota + 1
	PersonReference
)

// MappingTypes lists every mapping type in resolution order.
var MappingTypes = []MappingType{StoreReference, PersonReference}

// String returns the persisted name ("store-reference", "person-reference").
func (t MappingType) String() string {
	switch t {
	case StoreReference:
		return "store-reference"
	case PersonReference:
		return "person-reference"
	default:
		return fmt.Sprintf("MappingType(%d)", int(t))
	}
}

// ParseMappingType accepts the persisted names and the legacy CODALMACEN /
// PERSONA names, ignoring case and surrounding space.
func ParseMappingType(s string) (MappingType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "store-reference", "store", "codalmacen":
		return StoreReference, nil
	case "person-reference", "person", "persona":
		return PersonReference, nil
	}
	return 0, fmt.Errorf("%q: %w", s, ErrUnknownMappingType)
}

func (t MappingType) slug() string {
	return strings.ReplaceAll(t.String(), "-", "_")
}

// IDColumn is the resolver column holding the resolved id.
func (t MappingType) IDColumn() string {
	return ident.ResolverPrefix + t.slug() + "_id"
}

// LabelColumn is the resolver column holding the resolved label.
func (t MappingType) LabelColumn() string {
	return ident.ResolverPrefix + t.slug() + "_label"
}

// Columns returns the resolver column specs for t.
func (t MappingType) Columns() []storage.ColumnSpec {
	return []storage.ColumnSpec{
		{Name: t.IDColumn(), Type: storage.TypeText, Size: 50, Nullable: true},
		{Name: t.LabelColumn(), Type: storage.TypeText, Size: 200, Nullable: true},
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t MappingType) MarshalText() ([]byte, error) {
	if t != StoreReference && t != PersonReference {
		return nil, fmt.Errorf("%d: %w", int(t), ErrUnknownMappingType)
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *MappingType) UnmarshalText(b []byte) error {
	v, err := ParseMappingType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}
