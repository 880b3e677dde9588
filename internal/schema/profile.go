// Package schema owns the per-source tables: it derives their names, creates
// them, evolves them additively and upserts rows into them.
package schema

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"schemasync/internal/ident"
	"schemasync/internal/storage"
)

// ErrUnknownProfile is returned by LookupProfile.
var ErrUnknownProfile = errors.New("unknown profile")

const (
	keySize     = 100
	contactSize = 200
)

// Profile describes one family of sources (form responses, ticket views).
// Everything that differs between families lives here; the engine is the same.
type Profile struct {
	Name        string
	TablePrefix string
	// Scope selects scoped store aliases for this family.
	Scope string

	Surrogate       string
	KeyColumn       string
	EmailColumn     string
	NameColumn      string
	SubmittedColumn string
	SyncedColumn    string
}

var (
	// Forms is the profile for form responses.
	Forms = Profile{
		Name:            "forms",
		TablePrefix:     "Frm",
		Scope:           "FORMS",
		Surrogate:       "ID",
		KeyColumn:       "ResponseID",
		EmailColumn:     "RespondentEmail",
		NameColumn:      "RespondentName",
		SubmittedColumn: "SubmittedAt",
		SyncedColumn:    "SyncedAt",
	}

	// Tickets is the profile for ticketing-system views.
	Tickets = Profile{
		Name:            "tickets",
		TablePrefix:     "TicketView",
		Scope:           "TICKETS",
		Surrogate:       "ID",
		KeyColumn:       "TicketID",
		EmailColumn:     "RequesterEmail",
		NameColumn:      "RequesterName",
		SubmittedColumn: "CreatedAt",
		SyncedColumn:    "SyncedAt",
	}
)

var profiles = map[string]Profile{
	Forms.Name:   Forms,
	Tickets.Name: Tickets,
}

// LookupProfile returns the built-in profile with the given name.
func LookupProfile(name string) (Profile, error) {
	p, ok := profiles[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Profile{}, fmt.Errorf("profile %q: %w", name, ErrUnknownProfile)
	}
	return p, nil
}

// ProfileNames lists the built-in profiles, sorted.
func ProfileNames() []string {
	out := make([]string, 0, len(profiles))
	for n := range profiles {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// SystemColumns returns the fixed columns every table of this profile has,
// excluding the surrogate key.
func (p Profile) SystemColumns() []storage.ColumnSpec {
	return []storage.ColumnSpec{
		{Name: p.KeyColumn, Type: storage.TypeText, Size: keySize},
		{Name: p.EmailColumn, Type: storage.TypeText, Size: contactSize, Nullable: true},
		{Name: p.NameColumn, Type: storage.TypeText, Size: contactSize, Nullable: true},
		{Name: p.SubmittedColumn, Type: storage.TypeDatetime, Nullable: true},
		{Name: p.SyncedColumn, Type: storage.TypeDatetime, Nullable: true},
	}
}

// Reserved returns the names dynamic columns may not take.
func (p Profile) Reserved() ident.Reserved {
	names := []string{p.Surrogate}
	for _, c := range p.SystemColumns() {
		names = append(names, c.Name)
	}
	return ident.NewReserved(names...)
}

// IsSystem reports whether col is the surrogate or a system column.
func (p Profile) IsSystem(col string) bool {
	return p.Reserved().Contains(col)
}

// TableName returns the table for src: the cached name when one is recorded,
// otherwise the derived one. maxLen > 0 caps a derived name.
func (p Profile) TableName(src storage.Source, maxLen int) string {
	if src.TableName != "" {
		return src.TableName
	}
	name := ident.SchemaName(p.TablePrefix, src.ID, src.Alias)
	if maxLen > 0 && len(name) > maxLen {
		name = name[:maxLen]
	}
	return name
}

// TableSpec returns the CREATE spec for a new table with the given dynamic columns.
func (p Profile) TableSpec(table string, dynamic []storage.ColumnSpec) storage.TableSpec {
	cols := append(p.SystemColumns(), dynamic...)
	return storage.TableSpec{
		Name:      table,
		Surrogate: p.Surrogate,
		Key:       p.KeyColumn,
		Columns:   cols,
	}
}
