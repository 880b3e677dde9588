package feed

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schemasync/internal/storage"
	"schemasync/pkg/records"
)

var formFields = Fields{Key: "Id", Email: "Correo", Name: "Nombre", Submitted: "Fecha"}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

//
// CSV
//

func TestCSVFetcher(t *testing.T) {
	t.Parallel()

	p := writeFile(t, "visita.csv", "\uFEFFId,Correo,Nombre,Fecha,Tienda, Cantidad \n"+
		"r1,ana@example.com,Ana,2024-03-01T10:00:00Z,Centro,3\n"+
		"r2,,,,  ,\n")

	rows, err := CSVFetcher{Location: p, Fields: formFields}.Fetch(context.Background(), storage.Source{ID: 1}, nil)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	r1 := rows[0]
	assert.Equal(t, "r1", r1.Key)
	assert.Equal(t, "ana@example.com", r1.Email)
	assert.Equal(t, "Ana", r1.Name)
	require.NotNil(t, r1.SubmittedAt)
	assert.True(t, r1.SubmittedAt.Equal(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)))
	assert.Equal(t, map[string]any{"Tienda": "Centro", "Cantidad": "3"}, r1.Fields)
	assert.Equal(t, []string{"Tienda", "Cantidad"}, r1.Order)

	r2 := rows[1]
	assert.Equal(t, "r2", r2.Key)
	assert.Nil(t, r2.SubmittedAt)
	assert.Equal(t, map[string]any{"Tienda": nil, "Cantidad": nil}, r2.Fields)
}

func TestCSVFetcher_SinceFilter(t *testing.T) {
	t.Parallel()

	p := writeFile(t, "v.csv", "Id;Fecha\nold;2024-01-01\nnew;2024-02-01\nundated;\n")
	since := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	rows, err := CSVFetcher{Location: p, Fields: formFields, Comma: ';'}.Fetch(context.Background(), storage.Source{}, &since)
	require.NoError(t, err)
	keys := make([]string, 0, len(rows))
	for _, r := range rows {
		keys = append(keys, r.Key)
	}
	assert.Equal(t, []string{"new", "undated"}, keys)
}

func TestCSVFetcher_EmptyFile(t *testing.T) {
	t.Parallel()

	p := writeFile(t, "empty.csv", "")
	rows, err := CSVFetcher{Location: p}.Fetch(context.Background(), storage.Source{}, nil)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

//
// JSON
//

func TestParseJSON_RootArray(t *testing.T) {
	t.Parallel()

	data := `[
		{"Id": 17, "Tienda": "Centro", "Monto": 10.50, "Tags": ["a", "b"], "Extra": {"x": 1}, "Nada": null},
		{"Id": "r2", "Tienda": "Norte"}
	]`
	rows, err := parseJSON(context.Background(), []byte(data), rowBuilder{fields: formFields})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	r1 := rows[0]
	assert.Equal(t, "17", r1.Key)
	assert.Equal(t, []string{"Tienda", "Monto", "Tags", "Extra", "Nada"}, r1.Order)
	assert.Equal(t, json.Number("10.50"), r1.Fields["Monto"])
	assert.Equal(t, "a, b", r1.Fields["Tags"])
	assert.Equal(t, `{"x":1}`, r1.Fields["Extra"])
	assert.Nil(t, r1.Fields["Nada"])
	assert.Equal(t, "r2", rows[1].Key)
}

func TestParseJSON_Envelope(t *testing.T) {
	t.Parallel()

	data := `{"count": 2, "tags": [1, 2], "value": [{"Id": "a"}, {"Id": "b"}]}`
	rows, err := parseJSON(context.Background(), []byte(data), rowBuilder{fields: formFields})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "a", rows[0].Key)
	assert.Equal(t, "b", rows[1].Key)
}

func TestParseJSON_SingleObject(t *testing.T) {
	t.Parallel()

	rows, err := parseJSON(context.Background(), []byte(`{"Id": "only", "Fecha": 45292}`), rowBuilder{fields: formFields})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "only", rows[0].Key)
	require.NotNil(t, rows[0].SubmittedAt)
	assert.True(t, rows[0].SubmittedAt.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestParseJSON_Errors(t *testing.T) {
	t.Parallel()

	for _, data := range []string{`"text"`, `[1, 2]`, `[{"a": 1}`} {
		_, err := parseJSON(context.Background(), []byte(data), rowBuilder{})
		assert.Error(t, err, data)
	}

	rows, err := parseJSON(context.Background(), []byte("  "), rowBuilder{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

//
// HTML
//

const ticketView = `<html><body>
<table id="other"><tr><td>ignored</td></tr></table>
<table class="view">
  <thead><tr><th>Id</th><th>Solicitante</th><th> Estado </th><th>Agente</th></tr></thead>
  <tbody>
    <tr><td>T-1</td><td>Ana</td><td>Abierto</td><td>  Luis
      Mora </td></tr>
    <tr><td>T-2</td><td>Beto</td><td></td><td>Ana</td></tr>
  </tbody>
</table></body></html>`

func TestParseHTML(t *testing.T) {
	t.Parallel()

	rows, err := parseHTML([]byte(ticketView), "table.view", rowBuilder{fields: Fields{Key: "Id", Name: "Solicitante"}})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "T-1", rows[0].Key)
	assert.Equal(t, "Ana", rows[0].Name)
	assert.Equal(t, []string{"Estado", "Agente"}, rows[0].Order)
	assert.Equal(t, "Luis Mora", rows[0].Fields["Agente"])
	assert.Nil(t, rows[1].Fields["Estado"])
}

func TestParseHTML_NoTable(t *testing.T) {
	t.Parallel()

	_, err := parseHTML([]byte("<p>nothing</p>"), "", rowBuilder{})
	assert.Error(t, err)
}

//
// Registry
//

type staticFetcher []records.SourceRow

func (s staticFetcher) Fetch(context.Context, storage.Source, *time.Time) ([]records.SourceRow, error) {
	return s, nil
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Register(1, staticFetcher{{Key: "a"}})

	rows, err := r.Fetch(context.Background(), storage.Source{ID: 1}, nil)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	_, err = r.Fetch(context.Background(), storage.Source{ID: 2}, nil)
	assert.True(t, errors.Is(err, ErrNoFeed))
}

func TestFromSpecs(t *testing.T) {
	t.Parallel()

	p := writeFile(t, "v.json", `[{"Id": "x"}]`)
	r, err := FromSpecs([]Spec{{SourceID: 3, Kind: "JSON", Location: p, Fields: Fields{Key: "Id"}}}, nil)
	require.NoError(t, err)

	rows, err := r.Fetch(context.Background(), storage.Source{ID: 3}, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "x", rows[0].Key)

	_, err = FromSpecs([]Spec{{SourceID: 4, Kind: "xml"}}, nil)
	assert.Error(t, err)
	_, err = New(Spec{Kind: "csv", Comma: ";;"}, nil)
	assert.True(t, err != nil && strings.Contains(err.Error(), "one character"))
}
