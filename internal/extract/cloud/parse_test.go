package cloud

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invoicator-app/invoicator/internal/extract"
)

var testLogger = slog.Default()

func TestParseResponseBareJSON(t *testing.T) {
	raw := `{
		"is_invoice": true,
		"provider": "ACME SARL",
		"invoice_number": "FA-2024-0042",
		"date": "2024-03-15",
		"currency": "eur",
		"total_ht": 1000,
		"total_ttc": "1200,00",
		"vat_amount": 200,
		"line_items": [
			{"designation": "Prestation conseil", "quantity": 2, "unit_price": 500, "total_ht": 1000}
		]
	}`

	doc := parseResponse(raw, testLogger)
	require.Equal(t, extract.KindInvoice, doc.Kind)

	f := doc.Invoice
	assert.Equal(t, "ACME SARL", f.Provider)
	assert.Equal(t, "FA-2024-0042", f.InvoiceNumber)
	assert.Equal(t, "EUR", f.CurrencyCode)
	assert.InDelta(t, 1000, f.TotalHT, 1e-9)
	assert.InDelta(t, 1200, f.TotalTTC, 1e-9, "comma decimal in quoted number")
	require.Len(t, f.LineItems, 1)
	assert.Equal(t, "Prestation conseil", f.LineItems[0].Designation)
	assert.InDelta(t, 500, f.LineItems[0].UnitPrice, 1e-9)
}

func TestParseResponseMarkdownFence(t *testing.T) {
	raw := "Here is the extraction:\n```json\n{\"is_invoice\": true, \"provider\": \"Garage Martin\"}\n```\nLet me know if you need anything else."

	doc := parseResponse(raw, testLogger)
	require.Equal(t, extract.KindInvoice, doc.Kind)
	assert.Equal(t, "Garage Martin", doc.Invoice.Provider)
}

func TestParseResponseEmbeddedObject(t *testing.T) {
	raw := `The document parses as {"is_invoice": true, "provider": "Dupont {et fils}", "note": "brace \"inside\" string"} based on the scan.`

	doc := parseResponse(raw, testLogger)
	require.Equal(t, extract.KindInvoice, doc.Kind)
	assert.Equal(t, "Dupont {et fils}", doc.Invoice.Provider)
}

func TestParseResponseNotAnInvoice(t *testing.T) {
	raw := `{"is_invoice": false, "raw_text": "attestation de domicile"}`

	doc := parseResponse(raw, testLogger)
	assert.Equal(t, extract.KindOther, doc.Kind)
	assert.Equal(t, "attestation de domicile", doc.RawText)
}

func TestParseResponseMalformedBecomesFailureDoc(t *testing.T) {
	doc := parseResponse("I could not read the image, sorry.", testLogger)

	require.Equal(t, extract.KindParseFailure, doc.Kind)
	assert.Contains(t, doc.Reason, "parse_error")
	require.NotNil(t, doc.Partial)
}

func TestParseResponseTruncatedJSON(t *testing.T) {
	doc := parseResponse(`{"is_invoice": true, "provider": "ACME`, testLogger)

	assert.Equal(t, extract.KindParseFailure, doc.Kind)
}

func TestFirstBalancedObject(t *testing.T) {
	assert.Equal(t, `{"a": 1}`, firstBalancedObject(`noise {"a": 1} trailing {"b": 2}`))
	assert.Equal(t, `{"a": {"b": 2}}`, firstBalancedObject(`{"a": {"b": 2}}`))
	assert.Equal(t, `{"a": "}"}`, firstBalancedObject(`{"a": "}"} rest`))
	assert.Equal(t, "", firstBalancedObject("no braces here"))
	assert.Equal(t, "", firstBalancedObject(`{"unterminated": 1`))
}

func TestNormalizeCurrency(t *testing.T) {
	assert.Equal(t, "EUR", normalizeCurrency("EUR"))
	assert.Equal(t, "EUR", normalizeCurrency(" eur "))
	assert.Equal(t, "XXX", normalizeCurrency("euros"))
	assert.Equal(t, "XXX", normalizeCurrency("€"))
	assert.Equal(t, "XXX", normalizeCurrency(""))
}

func TestAsNumber(t *testing.T) {
	assert.InDelta(t, 12.5, asNumber(12.5), 1e-9)
	assert.InDelta(t, 12.5, asNumber("12.5"), 1e-9)
	assert.InDelta(t, 12.5, asNumber("12,5"), 1e-9)
	assert.Equal(t, 0.0, asNumber("n/a"))
	assert.Equal(t, 0.0, asNumber(nil))
	assert.Equal(t, 0.0, asNumber(true))
}
