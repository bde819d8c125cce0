package local

import (
	"math"
	"sort"
	"strings"

	"github.com/invoicator-app/invoicator/internal/extract"
	"github.com/invoicator-app/invoicator/internal/ocr"
)

const (
	itemYTolerance = 0.012
	itemBandTop    = 0.20 // above this is letterhead and invoice metadata
	itemBandBottom = 0.85 // below this are the totals and footer blocks
	maxLineItems   = 30
)

// skipItemPatterns filters rows that live inside the item band but are not
// items: table headers, totals, payment terms.
var skipItemPatterns = []string{
	"total", "sous-total", "tva", "ttc", "montant ht",
	"désignation", "designation", "description", "quantité", "quantite",
	"prix unitaire", "unité", "unite", "référence", "reference",
	"conditions", "paiement", "règlement", "reglement", "échéance", "echeance",
	"iban", "bic", "siret", "siren", "facture", "invoice", "page",
}

type tokenLine struct {
	y      float64
	tokens []ocr.Token
}

// findLineItems reconstructs the items table from token geometry: rows are
// tokens sharing a baseline, designations sit in the left half, numbers in
// the right.
func findLineItems(tokens []ocr.Token) []extract.LineItem {
	lines := groupRows(tokens)

	var items []extract.LineItem
	for _, ln := range lines {
		if ln.y < itemBandTop || ln.y > itemBandBottom {
			continue
		}
		item, ok := parseItemRow(ln)
		if !ok {
			continue
		}
		items = append(items, item)
		if len(items) == maxLineItems {
			break
		}
	}
	return items
}

func groupRows(tokens []ocr.Token) []tokenLine {
	if len(tokens) == 0 {
		return nil
	}
	sorted := make([]ocr.Token, len(tokens))
	copy(sorted, tokens)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Y < sorted[j].Y })

	var lines []tokenLine
	cur := tokenLine{y: sorted[0].Y}
	for _, t := range sorted {
		if t.Y-cur.y > itemYTolerance {
			lines = append(lines, cur)
			cur = tokenLine{y: t.Y}
		}
		cur.tokens = append(cur.tokens, t)
	}
	lines = append(lines, cur)
	for i := range lines {
		sort.Slice(lines[i].tokens, func(a, b int) bool { return lines[i].tokens[a].X < lines[i].tokens[b].X })
	}
	return lines
}

func parseItemRow(ln tokenLine) (extract.LineItem, bool) {
	var (
		words    []string
		text     strings.Builder
		numerics []float64
	)
	for _, t := range ln.tokens {
		text.WriteString(t.Text)
		text.WriteByte(' ')
		if strings.HasSuffix(t.Text, "%") {
			continue // VAT rates are noise inside item rows
		}
		if v, ok := parseAmount(t.Text); ok {
			numerics = append(numerics, v)
			continue
		}
		if t.X < 0.50 {
			words = append(words, t.Text)
		}
	}

	row := strings.TrimSpace(text.String())
	if len(row) < 5 || rowMatchesSkipPattern(row) {
		return extract.LineItem{}, false
	}
	if len(words) == 0 || len(numerics) < 2 {
		return extract.LineItem{}, false
	}

	item := extract.LineItem{Designation: strings.Join(words, " ")}
	switch {
	case len(numerics) >= 3:
		item.Quantity = numerics[0]
		item.UnitPrice = numerics[1]
		item.TotalHT = numerics[len(numerics)-1]
	case numerics[0] < 100 && numerics[1] > numerics[0]:
		item.Quantity = numerics[0]
		item.TotalHT = numerics[1]
		item.UnitPrice = round2(numerics[1] / numerics[0])
	default:
		item.Quantity = 1
		item.UnitPrice = numerics[0]
		item.TotalHT = numerics[1]
	}
	reconcile(&item)
	return item, true
}

// reconcile trusts the printed row total: when quantity times unit price
// disagrees with it by more than 1.0, the unit price is recomputed.
func reconcile(item *extract.LineItem) {
	if item.Quantity <= 0 || item.UnitPrice <= 0 || item.TotalHT <= 0 {
		return
	}
	if math.Abs(item.Quantity*item.UnitPrice-item.TotalHT) > 1.0 {
		item.UnitPrice = round2(item.TotalHT / item.Quantity)
	}
}

func rowMatchesSkipPattern(row string) bool {
	lower := strings.ToLower(row)
	for _, p := range skipItemPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
