package cloud

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/invoicator-app/invoicator/internal/extract"
)

var reJSONFence = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// parseResponse turns the model output into a Document. Models wrap JSON in
// markdown fences or prose more often than they should, so we try the fenced
// block first, then the first brace-balanced object, then the raw text.
// Nothing here returns an error: unusable output becomes a parse failure
// document the caller stores for manual review.
func parseResponse(raw string, logger *slog.Logger) extract.Document {
	candidate := raw
	if m := reJSONFence.FindStringSubmatch(raw); m != nil {
		candidate = m[1]
	} else if obj := firstBalancedObject(raw); obj != "" {
		candidate = obj
	}

	var m map[string]any
	if err := json.Unmarshal([]byte(candidate), &m); err != nil {
		logger.Warn("extract.cloud_malformed_json", "error", err, "raw_len", len(raw))
		return extract.FailureDoc(&extract.InvoiceFields{}, fmt.Sprintf("parse_error: %v", err))
	}

	if warn := validateResponse(m); warn != "" {
		logger.Warn("extract.cloud_schema_mismatch", "detail", warn)
	}

	if is, ok := m["is_invoice"].(bool); ok && !is {
		return extract.OtherDoc(asString(m["raw_text"]))
	}

	fields := &extract.InvoiceFields{
		Provider:      asString(m["provider"]),
		InvoiceNumber: asString(m["invoice_number"]),
		Date:          asString(m["date"]),
		CurrencyCode:  normalizeCurrency(asString(m["currency"])),
		TotalHT:       asNumber(m["total_ht"]),
		TotalTTC:      asNumber(m["total_ttc"]),
		VATAmount:     asNumber(m["vat_amount"]),
	}
	if items, ok := m["line_items"].([]any); ok {
		for _, it := range items {
			entry, ok := it.(map[string]any)
			if !ok {
				continue
			}
			fields.LineItems = append(fields.LineItems, extract.LineItem{
				Designation: asString(entry["designation"]),
				Quantity:    asNumber(entry["quantity"]),
				UnitPrice:   asNumber(entry["unit_price"]),
				TotalHT:     asNumber(entry["total_ht"]),
			})
		}
	}
	return extract.InvoiceDoc(fields)
}

// firstBalancedObject scans for the first top-level {...} in the text.
func firstBalancedObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// responseSchema mirrors the prompt contract. Validation is advisory: a
// mismatch is logged and the usable fields are still extracted.
var responseSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"is_invoice":     map[string]any{"type": "boolean"},
		"provider":       map[string]any{"type": "string"},
		"invoice_number": map[string]any{"type": "string"},
		"date":           map[string]any{"type": "string"},
		"currency":       map[string]any{"type": "string"},
		"total_ht":       map[string]any{"type": []any{"number", "string"}},
		"total_ttc":      map[string]any{"type": []any{"number", "string"}},
		"vat_amount":     map[string]any{"type": []any{"number", "string"}},
		"line_items":     map[string]any{"type": "array"},
	},
	"required": []any{"is_invoice"},
}

func validateResponse(m map[string]any) string {
	b, err := json.Marshal(responseSchema)
	if err != nil {
		return err.Error()
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("response.json", bytes.NewReader(b)); err != nil {
		return err.Error()
	}
	schema, err := compiler.Compile("response.json")
	if err != nil {
		return err.Error()
	}
	if err := schema.Validate(any(m)); err != nil {
		return err.Error()
	}
	return ""
}

var reCurrency = regexp.MustCompile(`^[A-Z]{3}$`)

func normalizeCurrency(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if reCurrency.MatchString(s) {
		return s
	}
	return "XXX"
}

func asString(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

// asNumber coerces the number layouts models actually emit: JSON numbers,
// quoted numbers, and quoted numbers with a comma decimal separator.
func asNumber(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		s := strings.TrimSpace(strings.ReplaceAll(t, ",", "."))
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return 0
}
