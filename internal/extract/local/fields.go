package local

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/invoicator-app/invoicator/internal/ocr"
)

// The pattern tables are compiled once by Engine.ensureReady so a bad table
// surfaces as an engine error instead of a package init panic.
var (
	reAddressLine   *regexp.Regexp
	rePostalCode    *regexp.Regexp
	reMetadataLine  *regexp.Regexp
	reCompanySuffix *regexp.Regexp
	reCapitalized   *regexp.Regexp

	reInvoiceNumber []*regexp.Regexp
	reLabeledDate   *regexp.Regexp
	reAnyDate       *regexp.Regexp

	reTTCLabel *regexp.Regexp
	reHTLabel  *regexp.Regexp
	reVATLabel *regexp.Regexp

	reCurrencyCode *regexp.Regexp
	reAmount       *regexp.Regexp

	reStrongKeyword  *regexp.Regexp
	reSupportKeyword *regexp.Regexp
)

func compilePatterns() error {
	specs := []struct {
		dst  **regexp.Regexp
		expr string
	}{
		{&reAddressLine, `(?i)\b(rue|avenue|av\.|boulevard|bd\.?|chemin|route|impasse|all[ée]e|place|cedex)\b`},
		{&rePostalCode, `\b\d{5}\b`},
		{&reMetadataLine, `(?i)(siret|siren|r\.?c\.?s|tva intra|t[ée]l|fax|e-?mail|@|www\.|https?:|capital|page \d)`},
		{&reCompanySuffix, `(?i)\b(sarl|sasu|sas|sa|eurl|sci|snc|gmbh|ltd|inc)\b`},
		{&reCapitalized, `^[A-ZÀ-Ý][A-Za-zÀ-ÿ0-9&' .-]{3,}$`},
		{&reLabeledDate, `(?i)(?:date(?:\s+de\s+facturation)?|[ée]mise?\s+le|le|du)\s*[:\-]?\s*(\d{1,2}[/.\-]\d{1,2}[/.\-]\d{2,4}|\d{4}-\d{2}-\d{2})`},
		{&reAnyDate, `(\d{1,2}[/.\-]\d{1,2}[/.\-]\d{2,4}|\d{4}-\d{2}-\d{2})`},
		{&reTTCLabel, `(?i)\b(total\s*t\.?t\.?c|t\.?t\.?c|net\s+[àa]\s+payer|total\s+g[ée]n[ée]ral|[àa]\s+payer|montant\s+total|total)\b`},
		{&reHTLabel, `(?i)\b(total\s*h\.?t|h\.?t|sous[\s-]?total|subtotal|montant\s+h\.?t)\b`},
		{&reVATLabel, `(?i)\b(t\.?v\.?a|vat|taxe)\b`},
		{&reCurrencyCode, `\b(EUR|USD|GBP|CHF|JPY|CAD|AUD|INR|RUB|KRW|UAH|TRY)\b`},
		{&reAmount, `\d{1,3}(?:[ \x{00a0}.]\d{3})+(?:[.,]\d{1,2})?|\d+[.,]\d{1,2}|\d+`},
		{&reStrongKeyword, `(?i)\b(facture|invoice)\b`},
		{&reSupportKeyword, `(?i)\b(total|ttc|ht|tva)\b`},
	}
	for _, s := range specs {
		re, err := regexp.Compile(s.expr)
		if err != nil {
			return fmt.Errorf("compiling pattern %q: %w", s.expr, err)
		}
		*s.dst = re
	}

	// Ordered alternatives: explicit invoice labels first, bare references last.
	numberExprs := []string{
		`(?i)(?:facture|invoice)\s*(?:n[°o]?\.?|#|num(?:[ée]ro)?\.?)?\s*[:\-]?\s*([A-Z0-9][A-Z0-9\-/]{2,})`,
		`(?i)\b(?:n[°o]|#)\s*[:\-]?\s*([A-Z0-9][A-Z0-9\-/]{2,})`,
		`(?i)\b(?:ref|r[ée]f[ée]rence)\.?\s*[:\-]?\s*([A-Z0-9][A-Z0-9\-/]{2,})`,
	}
	reInvoiceNumber = reInvoiceNumber[:0]
	for _, expr := range numberExprs {
		re, err := regexp.Compile(expr)
		if err != nil {
			return fmt.Errorf("compiling pattern %q: %w", expr, err)
		}
		reInvoiceNumber = append(reInvoiceNumber, re)
	}
	return nil
}

const providerScanLines = 10

// findProvider looks for the issuing company near the top of the page:
// company-suffix lines first, then any capitalized line, then the raw tokens
// of the top band when the text lines give nothing.
func findProvider(lines []string, tokens []ocr.Token) string {
	limit := len(lines)
	if limit > providerScanLines {
		limit = providerScanLines
	}

	for _, ln := range lines[:limit] {
		if skipProviderLine(ln) {
			continue
		}
		if reCompanySuffix.MatchString(ln) {
			return strings.TrimSpace(ln)
		}
	}
	for _, ln := range lines[:limit] {
		if skipProviderLine(ln) {
			continue
		}
		if reCapitalized.MatchString(ln) {
			return strings.TrimSpace(ln)
		}
	}

	// Header band fallback: whatever sits in the top 12% of the page.
	var top []ocr.Token
	for _, t := range tokens {
		if t.Y < 0.12 {
			top = append(top, t)
		}
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Y != top[j].Y {
			return top[i].Y < top[j].Y
		}
		return top[i].X < top[j].X
	})
	words := make([]string, 0, len(top))
	for _, t := range top {
		words = append(words, t.Text)
		if len(words) == 6 {
			break
		}
	}
	return strings.Join(words, " ")
}

func skipProviderLine(ln string) bool {
	return reAddressLine.MatchString(ln) ||
		rePostalCode.MatchString(ln) ||
		reMetadataLine.MatchString(ln) ||
		reAnyDate.MatchString(ln)
}

func findInvoiceNumber(text string) string {
	for _, re := range reInvoiceNumber {
		if m := re.FindStringSubmatch(text); m != nil {
			return strings.TrimRight(m[1], ".,;:")
		}
	}
	return ""
}

const dateScanLines = 20

// findDate prefers an explicitly labeled date, then the first date-looking
// string in the top of the document. The date is kept exactly as printed;
// scanned invoices mix enough layouts that rewriting them loses information.
func findDate(lines []string) string {
	for _, ln := range lines {
		if m := reLabeledDate.FindStringSubmatch(ln); m != nil {
			return m[1]
		}
	}
	limit := len(lines)
	if limit > dateScanLines {
		limit = dateScanLines
	}
	for _, ln := range lines[:limit] {
		if m := reAnyDate.FindStringSubmatch(ln); m != nil {
			return m[1]
		}
	}
	return ""
}

const totalsScanLines = 30

// findTotals walks the last lines bottom-up, because French invoices close
// with their totals block. For each labeled line it keeps the largest amount
// above 1.0; VAT is derived from TTC-HT when not printed.
func findTotals(lines []string) (ht, ttc, vat float64) {
	start := len(lines) - totalsScanLines
	if start < 0 {
		start = 0
	}
	tail := lines[start:]

	for i := len(tail) - 1; i >= 0; i-- {
		ln := tail[i]
		amount := maxAmount(ln)
		if amount <= 1.0 {
			continue
		}
		switch {
		case reVATLabel.MatchString(ln):
			if vat == 0 {
				vat = amount
			}
		case reHTLabel.MatchString(ln):
			if ht == 0 {
				ht = amount
			}
		case reTTCLabel.MatchString(ln):
			if ttc == 0 {
				ttc = amount
			}
		}
	}

	if vat == 0 && ttc > 0 && ht > 0 && ttc > ht {
		vat = math.Round((ttc-ht)*100) / 100
	}
	return ht, ttc, vat
}

var currencySymbols = []struct {
	symbol string
	code   string
}{
	{"€", "EUR"},
	{"$", "USD"},
	{"£", "GBP"},
	{"¥", "JPY"},
	{"₣", "CHF"},
	{"₹", "INR"},
	{"₽", "RUB"},
	{"₩", "KRW"},
	{"₴", "UAH"},
	{"₺", "TRY"},
	{"₿", "BTC"},
}

var currencyNames = []struct {
	pattern string
	code    string
}{
	{"euro", "EUR"},
	{"dollar", "USD"},
	{"livre", "GBP"},
	{"pound", "GBP"},
	{"franc", "CHF"},
	{"yen", "JPY"},
}

// findCurrency resolves the invoice currency: symbols first, then ISO codes,
// then spelled-out names. Unresolvable invoices get the ISO "unknown" code.
func findCurrency(text string) string {
	for _, c := range currencySymbols {
		if strings.Contains(text, c.symbol) {
			return c.code
		}
	}
	if m := reCurrencyCode.FindString(text); m != "" {
		return m
	}
	lower := strings.ToLower(text)
	for _, c := range currencyNames {
		if strings.Contains(lower, c.pattern) {
			return c.code
		}
	}
	return "XXX"
}
