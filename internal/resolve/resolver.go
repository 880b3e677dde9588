package resolve

import (
	"context"
	"strconv"

	"schemasync/internal/storage"
)

// Status says whether a value was resolved.
type Status int

const (
	Unresolved Status = iota
	Resolved
)

func (s Status) String() string {
	if s == Resolved {
		return "resolved"
	}
	return "unresolved"
}

// Tier names the lookup that produced a resolution.
type Tier string

const (
	TierDictionary   Tier = "dictionary"
	TierAlias        Tier = "alias"
	TierExactName    Tier = "exact-name"
	TierNameContains Tier = "name-contains"
	TierEmail        Tier = "email"
)

// Outcome is the result of resolving one value. An unresolved outcome never
// carries an ID.
type Outcome struct {
	Status Status
	ID     string
	Label  string
	Tier   Tier
}

// Resolved reports whether o carries a reference.
func (o Outcome) Resolved() bool { return o.Status == Resolved }

func resolved(id, label string, tier Tier) Outcome {
	return Outcome{Status: Resolved, ID: id, Label: label, Tier: tier}
}

// Resolver resolves one trimmed, non-empty value of a single mapping type.
type Resolver interface {
	Resolve(ctx context.Context, value, scope string) (Outcome, error)
}

// Lookups is the read side of the canonical tables and the dictionary.
type Lookups interface {
	ValueMapping(ctx context.Context, value, mappingType string) (storage.ValueMapping, bool, error)
	StoreAlias(ctx context.Context, alias, scope string) (storage.StoreAlias, bool, error)
	FindPerson(ctx context.Context, match storage.PersonMatch, value string) (storage.Person, bool, error)
}

// dictionaryResolver consults the manual dictionary before next. A dictionary
// entry always wins.
type dictionaryResolver struct {
	lookups Lookups
	typ     MappingType
	next    Resolver
}

func (r dictionaryResolver) Resolve(ctx context.Context, value, scope string) (Outcome, error) {
	vm, ok, err := r.lookups.ValueMapping(ctx, value, r.typ.String())
	if err != nil {
		return Outcome{}, err
	}
	if ok && vm.ResolvedID != "" {
		return resolved(vm.ResolvedID, vm.ResolvedLabel, TierDictionary), nil
	}
	return r.next.Resolve(ctx, value, scope)
}

// storeResolver matches store aliases, preferring the caller's scope.
type storeResolver struct {
	lookups Lookups
}

func (r storeResolver) Resolve(ctx context.Context, value, scope string) (Outcome, error) {
	a, ok, err := r.lookups.StoreAlias(ctx, value, scope)
	if err != nil || !ok {
		return Outcome{}, err
	}
	label := a.Label
	if label == "" {
		label = a.Alias
	}
	return resolved(a.StoreCode, label, TierAlias), nil
}

// personResolver tries an exact display name, then the shortest display name
// containing the value, then the email.
type personResolver struct {
	lookups Lookups
}

var personTiers = []struct {
	match storage.PersonMatch
	tier  Tier
}{
	{storage.MatchExactName, TierExactName},
	{storage.MatchNameContains, TierNameContains},
	{storage.MatchEmail, TierEmail},
}

func (r personResolver) Resolve(ctx context.Context, value, _ string) (Outcome, error) {
	for _, t := range personTiers {
		p, ok, err := r.lookups.FindPerson(ctx, t.match, value)
		if err != nil {
			return Outcome{}, err
		}
		if ok {
			return resolved(strconv.FormatInt(p.ID, 10), p.DisplayName, t.tier), nil
		}
	}
	return Outcome{}, nil
}

// newResolver builds the resolver chain for t.
func newResolver(t MappingType, l Lookups) Resolver {
	var base Resolver
	switch t {
	case PersonReference:
		base = personResolver{lookups: l}
	default:
		base = storeResolver{lookups: l}
	}
	return dictionaryResolver{lookups: l, typ: t, next: base}
}
