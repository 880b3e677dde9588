// Package seed loads catalog and lookup data from a YAML file: sources,
// field mappings, store aliases, personnel and dictionary entries.
//
// Applying a file is idempotent; every entry is an upsert on its natural key.
package seed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"schemasync/internal/resolve"
	"schemasync/internal/storage"
)

// File is the seed document.
type File struct {
	Sources       []Source       `yaml:"sources"`
	FieldMappings []FieldMapping `yaml:"field_mappings"`
	StoreAliases  []StoreAlias   `yaml:"store_aliases"`
	Personnel     []Person       `yaml:"personnel"`
	ValueMappings []ValueMapping `yaml:"value_mappings"`
}

// Source seeds a sync source. Active defaults to true.
type Source struct {
	ID      int    `yaml:"id"`
	Profile string `yaml:"profile"`
	Alias   string `yaml:"alias"`
	Active  *bool  `yaml:"active"`
}

// FieldMapping seeds a column mapping.
type FieldMapping struct {
	SourceID int                 `yaml:"source_id"`
	Type     resolve.MappingType `yaml:"type"`
	Column   string              `yaml:"column"`
}

// StoreAlias seeds a store alias. Active defaults to true.
type StoreAlias struct {
	Alias     string `yaml:"alias"`
	StoreCode string `yaml:"store_code"`
	Label     string `yaml:"label"`
	Scope     string `yaml:"scope"`
	Active    *bool  `yaml:"active"`
}

// Person seeds a personnel record. Active defaults to true.
type Person struct {
	ID          int64  `yaml:"id"`
	DisplayName string `yaml:"display_name"`
	Email       string `yaml:"email"`
	Active      *bool  `yaml:"active"`
}

// ValueMapping seeds a dictionary entry.
type ValueMapping struct {
	Value string              `yaml:"value"`
	Type  resolve.MappingType `yaml:"type"`
	ID    string              `yaml:"id"`
	Label string              `yaml:"label"`
}

// Store is what Apply writes to.
type Store interface {
	PutSource(ctx context.Context, s storage.Source) error
	PutFieldMapping(ctx context.Context, m storage.FieldMapping) error
	PutStoreAlias(ctx context.Context, a storage.StoreAlias) error
	PutPerson(ctx context.Context, p storage.Person) error
	PutValueMapping(ctx context.Context, m storage.ValueMapping) error
}

// Counts reports how many entries of each kind were applied.
type Counts struct {
	Sources       int
	FieldMappings int
	StoreAliases  int
	Personnel     int
	ValueMappings int
}

// Load reads and validates a seed file.
func Load(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed %s: %w", path, err)
	}
	f, err := Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("seed %s: %w", path, err)
	}
	return f, nil
}

// Parse decodes and validates a seed document. Unknown keys are rejected.
func Parse(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate reports every invalid entry at once.
func (f *File) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	for i, s := range f.Sources {
		if s.ID <= 0 {
			add("sources[%d]: id must be positive", i)
		}
		if strings.TrimSpace(s.Profile) == "" {
			add("sources[%d]: profile is required", i)
		}
	}
	for i, m := range f.FieldMappings {
		if m.SourceID <= 0 {
			add("field_mappings[%d]: source_id must be positive", i)
		}
		if strings.TrimSpace(m.Column) == "" {
			add("field_mappings[%d]: column is required", i)
		}
		if !knownType(m.Type) {
			add("field_mappings[%d]: type is required", i)
		}
	}
	for i, a := range f.StoreAliases {
		if strings.TrimSpace(a.Alias) == "" || strings.TrimSpace(a.StoreCode) == "" {
			add("store_aliases[%d]: alias and store_code are required", i)
		}
	}
	for i, p := range f.Personnel {
		if p.ID <= 0 {
			add("personnel[%d]: id must be positive", i)
		}
		if strings.TrimSpace(p.DisplayName) == "" {
			add("personnel[%d]: display_name is required", i)
		}
	}
	for i, v := range f.ValueMappings {
		if strings.TrimSpace(v.Value) == "" || strings.TrimSpace(v.ID) == "" {
			add("value_mappings[%d]: value and id are required", i)
		}
		if !knownType(v.Type) {
			add("value_mappings[%d]: type is required", i)
		}
	}
	return errors.Join(errs...)
}

// Apply upserts every entry of f. Sources go first so that field mappings
// can reference them. It stops at the first store error.
func Apply(ctx context.Context, st Store, f *File, updatedBy string, log *zap.Logger) (Counts, error) {
	if log == nil {
		log = zap.NewNop()
	}
	var c Counts

	for _, s := range f.Sources {
		src := storage.Source{ID: s.ID, Profile: strings.TrimSpace(s.Profile), Alias: strings.TrimSpace(s.Alias), Active: active(s.Active)}
		if err := st.PutSource(ctx, src); err != nil {
			return c, fmt.Errorf("source %d: %w", s.ID, err)
		}
		c.Sources++
	}
	for _, m := range f.FieldMappings {
		fm := storage.FieldMapping{SourceID: m.SourceID, MappingType: m.Type.String(), Column: strings.TrimSpace(m.Column), UpdatedBy: updatedBy}
		if err := st.PutFieldMapping(ctx, fm); err != nil {
			return c, fmt.Errorf("field mapping %d/%s: %w", m.SourceID, m.Type, err)
		}
		c.FieldMappings++
	}
	for _, a := range f.StoreAliases {
		sa := storage.StoreAlias{
			Alias:     strings.TrimSpace(a.Alias),
			StoreCode: strings.TrimSpace(a.StoreCode),
			Label:     strings.TrimSpace(a.Label),
			Scope:     strings.ToUpper(strings.TrimSpace(a.Scope)),
			Active:    active(a.Active),
		}
		if err := st.PutStoreAlias(ctx, sa); err != nil {
			return c, fmt.Errorf("store alias %q: %w", a.Alias, err)
		}
		c.StoreAliases++
	}
	for _, p := range f.Personnel {
		per := storage.Person{ID: p.ID, DisplayName: strings.TrimSpace(p.DisplayName), Email: strings.TrimSpace(p.Email), Active: active(p.Active)}
		if err := st.PutPerson(ctx, per); err != nil {
			return c, fmt.Errorf("person %d: %w", p.ID, err)
		}
		c.Personnel++
	}
	for _, v := range f.ValueMappings {
		vm := storage.ValueMapping{
			SourceValue:   strings.TrimSpace(v.Value),
			MappingType:   v.Type.String(),
			ResolvedID:    strings.TrimSpace(v.ID),
			ResolvedLabel: strings.TrimSpace(v.Label),
			UpdatedBy:     updatedBy,
		}
		if err := st.PutValueMapping(ctx, vm); err != nil {
			return c, fmt.Errorf("value mapping %q: %w", v.Value, err)
		}
		c.ValueMappings++
	}

	log.Info("seed applied",
		zap.Int("sources", c.Sources),
		zap.Int("field_mappings", c.FieldMappings),
		zap.Int("store_aliases", c.StoreAliases),
		zap.Int("personnel", c.Personnel),
		zap.Int("value_mappings", c.ValueMappings))
	return c, nil
}

func knownType(t resolve.MappingType) bool {
	for _, k := range resolve.MappingTypes {
		if t == k {
			return true
		}
	}
	return false
}

func active(b *bool) bool { return b == nil || *b }
