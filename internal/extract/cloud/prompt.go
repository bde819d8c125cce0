package cloud

import (
	"strings"

	"github.com/invoicator-app/invoicator/internal/extract"
)

const promptHeader = `You are an invoice data extraction system. Analyze the attached scanned document and return ONLY a JSON object, no prose, with exactly these keys:

{
  "is_invoice": true or false,
  "provider": "issuing company name or empty string",
  "invoice_number": "invoice number or empty string",
  "date": "invoice date exactly as printed, or empty string",
  "currency": "ISO 4217 code or XXX",
  "total_ht": number (total before tax, 0 if unknown),
  "total_ttc": number (total including tax, 0 if unknown),
  "vat_amount": number (0 if unknown),
  "line_items": [
    {"designation": "string", "quantity": number, "unit_price": number, "total_ht": number}
  ]
}

Rules:
- If the document is not an invoice, set is_invoice to false and leave the other fields empty.
- Amounts use a dot as decimal separator.
- Keep the date exactly as printed; do not reformat it.
- Do not invent line items that are not printed on the document.`

// buildPrompt appends a capped OCR excerpt so the model can cross-check its
// own reading against what the OCR engine saw.
func buildPrompt(in extract.PageInput, maxContext int) string {
	var b strings.Builder
	b.WriteString(promptHeader)

	context := in.SpatialGrid
	if context == "" {
		context = in.OCRText
	}
	if context != "" {
		if len(context) > maxContext {
			context = context[:maxContext]
		}
		b.WriteString("\n\nOCR output for reference (may contain recognition errors):\n")
		b.WriteString(context)
	}
	return b.String()
}
