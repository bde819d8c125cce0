// Package extract defines the engine contract shared by the local heuristic
// parser and the cloud vision extractor, and the document result types the
// orchestrator switches on.
package extract

import (
	"context"

	"github.com/invoicator-app/invoicator/constants"
	"github.com/invoicator-app/invoicator/internal/ocr"
)

// PageInput is everything an engine gets about one document page.
type PageInput struct {
	ImagePath   string
	OCRText     string
	SpatialGrid string
	Tokens      []ocr.Token
}

// Engine turns a page into a structured document.
type Engine interface {
	Extract(ctx context.Context, in PageInput) (Document, error)
	Method() constants.ExtractionMethod
}

// Kind discriminates the Document union.
type Kind int

const (
	KindInvoice Kind = iota
	KindOther
	KindParseFailure
)

// Document is a tagged union: exactly one of Invoice, RawText or Partial is
// meaningful, selected by Kind. Callers must handle all three.
type Document struct {
	Kind    Kind
	Invoice *InvoiceFields
	// RawText carries the page text when the document is not an invoice.
	RawText string
	// Partial holds whatever fields survived a malformed model response,
	// with Reason describing what went wrong.
	Partial *InvoiceFields
	Reason  string
}

// InvoiceFields is the normalized shape both engines produce.
type InvoiceFields struct {
	Provider      string     `json:"provider"`
	InvoiceNumber string     `json:"invoice_number"`
	Date          string     `json:"date"` // as printed on the document
	CurrencyCode  string     `json:"currency"`
	TotalHT       float64    `json:"total_ht"`
	TotalTTC      float64    `json:"total_ttc"`
	VATAmount     float64    `json:"vat_amount"`
	LineItems     []LineItem `json:"line_items"`
}

type LineItem struct {
	Designation string  `json:"designation"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	TotalHT     float64 `json:"total_ht"`
}

// InvoiceDoc wraps fields as a completed invoice result.
func InvoiceDoc(f *InvoiceFields) Document {
	return Document{Kind: KindInvoice, Invoice: f}
}

// OtherDoc marks a page that is readable but not an invoice.
func OtherDoc(text string) Document {
	return Document{Kind: KindOther, RawText: text}
}

// FailureDoc records a malformed extraction output without failing the job.
func FailureDoc(partial *InvoiceFields, reason string) Document {
	return Document{Kind: KindParseFailure, Partial: partial, Reason: reason}
}
