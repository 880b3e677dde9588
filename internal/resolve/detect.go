package resolve

import (
	"context"
	"strings"

	"schemasync/internal/ident"
	"schemasync/internal/storage"
)

// detectPatterns are lower-case column name fragments per mapping type,
// in priority order.
var detectPatterns = map[MappingType][]string{
	StoreReference:  {"restaurante", "local", "sucursal", "almacen", "tienda", "store", "punto_de_venta", "pdv"},
	PersonReference: {"cliente", "agente", "creador", "usuario", "persona", "responsable", "asignado", "operador", "customer"},
}

// AutoDetect maps, for every type src has no mapping for yet, the first
// column whose name contains one of the type's patterns. System and resolver
// columns are never candidates, and a column is used for one type at most.
// It returns the mappings it created.
func (s *Service) AutoDetect(ctx context.Context, src storage.Source, updatedBy string) ([]Mapping, error) {
	existing, err := s.Mappings(ctx, src.ID)
	if err != nil {
		return nil, err
	}
	t, err := s.target(ctx, src)
	if err != nil {
		return nil, err
	}

	taken := ident.NewReserved()
	mapped := make(map[MappingType]bool, len(existing))
	for _, m := range existing {
		mapped[m.Type] = true
		taken.Add(m.Column)
	}

	var out []Mapping
	for _, mt := range MappingTypes {
		if mapped[mt] {
			continue
		}
		col, ok := detectColumn(t, mt, taken)
		if !ok {
			continue
		}
		m, err := s.SetMapping(ctx, src, mt, col, updatedBy)
		if err != nil {
			return out, err
		}
		taken.Add(col)
		out = append(out, m)
	}
	return out, nil
}

func detectColumn(t target, mt MappingType, taken ident.Reserved) (string, bool) {
	for _, pattern := range detectPatterns[mt] {
		for _, c := range t.columns {
			if t.profile.IsSystem(c.Name) || isResolverColumn(c.Name) || taken.Contains(c.Name) {
				continue
			}
			if strings.Contains(strings.ToLower(c.Name), pattern) {
				return c.Name, true
			}
		}
	}
	return "", false
}

func isResolverColumn(name string) bool {
	return strings.HasPrefix(strings.ToLower(name), ident.ResolverPrefix)
}
