package schema

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schemasync/internal/storage"
)

func TestLookupProfile(t *testing.T) {
	t.Parallel()

	p, err := LookupProfile(" Forms ")
	require.NoError(t, err)
	assert.Equal(t, "ResponseID", p.KeyColumn)

	p, err = LookupProfile("tickets")
	require.NoError(t, err)
	assert.Equal(t, "TicketID", p.KeyColumn)

	_, err = LookupProfile("surveys")
	assert.ErrorIs(t, err, ErrUnknownProfile)
	assert.Equal(t, []string{"forms", "tickets"}, ProfileNames())
}

func TestProfile_TableName(t *testing.T) {
	t.Parallel()

	src := storage.Source{ID: 1, Alias: "Visita Operativa Ops (3)"}
	assert.Equal(t, "Frm_1_VisitaOperativaOps3", Forms.TableName(src, 0))

	src.TableName = "Frm_1_Legacy"
	assert.Equal(t, "Frm_1_Legacy", Forms.TableName(src, 0), "a cached name always wins")

	long := storage.Source{ID: 123, Alias: strings.Repeat("Soporte ", 10)}
	assert.Len(t, Tickets.TableName(long, 63), 63)
}

func TestProfile_SystemColumnsAreReserved(t *testing.T) {
	t.Parallel()

	r := Tickets.Reserved()
	for _, c := range append(Tickets.SystemColumns(), storage.ColumnSpec{Name: "id"}) {
		assert.True(t, r.Contains(c.Name), c.Name)
	}
	assert.False(t, Tickets.IsSystem("Asunto"))

	spec := Forms.TableSpec("Frm_1", []storage.ColumnSpec{{Name: "Tienda", Type: storage.TypeText, Nullable: true}})
	require.NoError(t, spec.Validate())
	assert.Equal(t, "ID", spec.Surrogate)
	assert.Len(t, spec.Columns, 6)
}
