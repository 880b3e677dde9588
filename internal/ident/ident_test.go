package ident

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

//
// Sanitize
//

func TestSanitize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		raw    string
		maxLen int
		style  Style
		want   string
	}{
		{"title concat", "Visita operativa OPS3", 50, TitleConcat, "VisitaOperativaOPS3"},
		{"title keeps inner case", "iPhone store", 50, TitleConcat, "IPhoneStore"},
		{"underscore", "Nombre del cliente", 100, Underscore, "Nombre_del_cliente"},
		{"diacritics stripped", "¿Cuál es tu número de teléfono?", 100, Underscore, "Cual_es_tu_numero_de_telefono"},
		{"tilde n", "Señal / Calidad", 100, Underscore, "Senal_Calidad"},
		{"punctuation removed not split", "Nombre/Apellido", 100, Underscore, "NombreApellido"},
		{"underscores kept", "campo_interno x", 100, Underscore, "campo_interno_x"},
		{"whitespace collapsed", "  Line one\n\tline  two ", 100, Underscore, "Line_one_line_two"},
		{"empty falls back", "", 100, Underscore, Fallback},
		{"only symbols falls back", "¿¡?! --- ###", 100, TitleConcat, Fallback},
		{"non latin falls back", "测试", 100, Underscore, Fallback},
		{"truncated", strings.Repeat("a", 120), 100, Underscore, strings.Repeat("a", 100)},
		{"zero max means no cap", strings.Repeat("b", 130), 0, Underscore, strings.Repeat("b", 130)},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Sanitize(tt.raw, tt.maxLen, tt.style))
		})
	}
}

func TestSanitize_Deterministic(t *testing.T) {
	t.Parallel()

	raw := "Évaluation du Service Après-vente"
	first := Sanitize(raw, 100, Underscore)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Sanitize(raw, 100, Underscore))
	}
	assert.Equal(t, "Evaluation_du_Service_Apresvente", first)
}

//
// SchemaName
//

func TestSchemaName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Frm_12_VisitaOperativa", SchemaName("Frm", 12, "visita operativa"))
	assert.Equal(t, "TicketView_3_SoporteTi", SchemaName("TicketView", 3, "Soporte ti"))
	assert.Equal(t, "Frm_7", SchemaName("Frm", 7, "!!!"))
	assert.Equal(t, "Frm_7", SchemaName("Frm", 7, ""))

	long := SchemaName("Frm", 1, strings.Repeat("palabra ", 20))
	assert.Equal(t, "Frm_1_"+strings.Repeat("Palabra", 8)[:MaxSchemaSlug], long)
}

//
// SafeColumnName
//

func TestSafeColumnName(t *testing.T) {
	t.Parallel()

	reserved := NewReserved("ID", "ResponseID", "RespondentEmail", "SyncedAt")

	tests := []struct {
		name   string
		raw    string
		maxLen int
		want   string
	}{
		{"plain", "Tienda", 100, "Tienda"},
		{"collision exact", "ResponseID", 100, "Q_ResponseID"},
		{"collision ignores case", "responseid", 100, "Q_responseid"},
		{"collision after sanitizing", "Synced  At", 100, "Synced_At"},
		{"id collides", "id", 100, "Q_id"},
		{"resolver prefix is reserved", "_ref_store_reference_id", 100, "Q__ref_store_reference_id"},
		{"backend limit", strings.Repeat("x", 90), 63, strings.Repeat("x", 63)},
		{"out of range limit uses default", strings.Repeat("y", 150), 500, strings.Repeat("y", 100)},
		{"fallback is not reserved", "???", 100, Fallback},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, SafeColumnName(tt.raw, reserved, tt.maxLen))
		})
	}
}

func TestReserved_Contains(t *testing.T) {
	t.Parallel()

	r := NewReserved("SubmittedAt")
	assert.True(t, r.Contains("submittedat"))
	assert.True(t, r.Contains("SUBMITTEDAT"))
	assert.False(t, r.Contains("Submitted"))

	var empty Reserved
	assert.False(t, empty.Contains("anything"))
}
