package local

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invoicator-app/invoicator/internal/ocr"
)

func row(y float64, cells ...ocr.Token) []ocr.Token {
	out := make([]ocr.Token, len(cells))
	for i, c := range cells {
		c.Y = y
		out[i] = c
	}
	return out
}

func TestFindLineItemsThreeColumnRow(t *testing.T) {
	tokens := row(0.40,
		ocr.Token{Text: "Prestation", X: 0.05},
		ocr.Token{Text: "conseil", X: 0.18},
		ocr.Token{Text: "2", X: 0.55},
		ocr.Token{Text: "500,00", X: 0.70},
		ocr.Token{Text: "1000,00", X: 0.85},
	)

	items := findLineItems(tokens)
	require.Len(t, items, 1)
	assert.Equal(t, "Prestation conseil", items[0].Designation)
	assert.InDelta(t, 2, items[0].Quantity, 1e-9)
	assert.InDelta(t, 500, items[0].UnitPrice, 1e-9)
	assert.InDelta(t, 1000, items[0].TotalHT, 1e-9)
}

func TestFindLineItemsTwoNumbersDerivesUnitPrice(t *testing.T) {
	tokens := row(0.45,
		ocr.Token{Text: "Maintenance", X: 0.05},
		ocr.Token{Text: "annuelle", X: 0.20},
		ocr.Token{Text: "3", X: 0.60},
		ocr.Token{Text: "300,00", X: 0.85},
	)

	items := findLineItems(tokens)
	require.Len(t, items, 1)
	assert.InDelta(t, 3, items[0].Quantity, 1e-9)
	assert.InDelta(t, 300, items[0].TotalHT, 1e-9)
	assert.InDelta(t, 100, items[0].UnitPrice, 1e-9)
}

func TestFindLineItemsReconcilesAgainstRowTotal(t *testing.T) {
	// OCR misread the unit price; the printed total wins
	tokens := row(0.50,
		ocr.Token{Text: "Fournitures", X: 0.05},
		ocr.Token{Text: "4", X: 0.55},
		ocr.Token{Text: "10,00", X: 0.70},
		ocr.Token{Text: "200,00", X: 0.85},
	)

	items := findLineItems(tokens)
	require.Len(t, items, 1)
	assert.InDelta(t, 4, items[0].Quantity, 1e-9)
	assert.InDelta(t, 50, items[0].UnitPrice, 1e-9)
	assert.InDelta(t, 200, items[0].TotalHT, 1e-9)
}

func TestFindLineItemsSkipsHeadersAndBands(t *testing.T) {
	var tokens []ocr.Token
	// a table header inside the band
	tokens = append(tokens, row(0.35,
		ocr.Token{Text: "Désignation", X: 0.05},
		ocr.Token{Text: "Quantité", X: 0.55},
		ocr.Token{Text: "Prix", X: 0.75},
	)...)
	// letterhead above the band
	tokens = append(tokens, row(0.05,
		ocr.Token{Text: "ACME", X: 0.05},
		ocr.Token{Text: "10", X: 0.60},
		ocr.Token{Text: "20,00", X: 0.80},
	)...)
	// totals block below the band
	tokens = append(tokens, row(0.92,
		ocr.Token{Text: "Divers", X: 0.05},
		ocr.Token{Text: "5", X: 0.60},
		ocr.Token{Text: "60,00", X: 0.80},
	)...)

	assert.Empty(t, findLineItems(tokens))
}

func TestFindLineItemsIgnoresVATRateTokens(t *testing.T) {
	tokens := row(0.40,
		ocr.Token{Text: "Transport", X: 0.05},
		ocr.Token{Text: "20%", X: 0.50},
		ocr.Token{Text: "1", X: 0.60},
		ocr.Token{Text: "45,00", X: 0.75},
		ocr.Token{Text: "45,00", X: 0.88},
	)

	items := findLineItems(tokens)
	require.Len(t, items, 1)
	assert.InDelta(t, 1, items[0].Quantity, 1e-9)
	assert.InDelta(t, 45, items[0].UnitPrice, 1e-9)
	assert.InDelta(t, 45, items[0].TotalHT, 1e-9)
}

func TestGroupRowsBaselineTolerance(t *testing.T) {
	tokens := []ocr.Token{
		{Text: "a", Y: 0.400},
		{Text: "b", Y: 0.408}, // same baseline, OCR jitter
		{Text: "c", Y: 0.430}, // next row
	}

	lines := groupRows(tokens)
	require.Len(t, lines, 2)
	assert.Len(t, lines[0].tokens, 2)
	assert.Len(t, lines[1].tokens, 1)
}

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"1 234,56", 1234.56, true},
		{"1.234,56", 1234.56, true},
		{"1,234.56", 1234.56, true},
		{"1234,56", 1234.56, true},
		{"1234.56", 1234.56, true},
		{"12,345", 12345, true}, // 3-digit comma group is thousands
		{"1.234.567", 1234567, true},
		{"120,00€", 120, true},
		{"42", 42, true},
		{"20%", 0, false},
		{"abc", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got, ok := parseAmount(tc.in)
		assert.Equal(t, tc.ok, ok, "input %q", tc.in)
		if tc.ok {
			assert.InDelta(t, tc.want, got, 1e-9, "input %q", tc.in)
		}
	}
}

func TestMaxAmount(t *testing.T) {
	require.NoError(t, compilePatterns())

	assert.InDelta(t, 1200.50, maxAmount("Total TTC : 1 200,50 € (dont TVA 200,08)"), 1e-9)
	assert.Equal(t, 0.0, maxAmount("aucun montant"))
}
