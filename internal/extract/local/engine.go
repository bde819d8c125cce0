// Package local extracts invoice fields from OCR output with layout-aware
// heuristics. It needs no network and no credentials, which makes it the
// preferred engine for clean machine-printed scans.
package local

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/invoicator-app/invoicator/constants"
	"github.com/invoicator-app/invoicator/internal/extract"
)

type Engine struct {
	logger *slog.Logger

	initOnce sync.Once
	initErr  error

	// The parsing pass keeps per-call scratch state in package tables that
	// are not safe for concurrent passes, so inference is serialized.
	inferMu sync.Mutex
}

func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger}
}

func (e *Engine) Method() constants.ExtractionMethod {
	return constants.MethodLocal
}

// init compiles the pattern tables on first use. Failures are sticky: a
// broken engine keeps returning the same error instead of retrying the load.
func (e *Engine) ensureReady() error {
	e.initOnce.Do(func() {
		e.initErr = compilePatterns()
		if e.initErr != nil {
			e.logger.Error("extract.local_init_failed", "error", e.initErr)
		} else {
			e.logger.Info("extract.local_ready")
		}
	})
	return e.initErr
}

func (e *Engine) Extract(ctx context.Context, in extract.PageInput) (extract.Document, error) {
	if err := e.ensureReady(); err != nil {
		return extract.Document{}, err
	}
	if err := ctx.Err(); err != nil {
		return extract.Document{}, err
	}

	// One parse at a time; a second caller waits rather than interleaving.
	e.inferMu.Lock()
	defer e.inferMu.Unlock()

	text := in.OCRText
	if !containsInvoiceKeyword(text) {
		e.logger.Info("extract.not_an_invoice", "text_len", len(text))
		return extract.OtherDoc(text), nil
	}

	lines := splitLines(text)
	fields := &extract.InvoiceFields{
		Provider:      findProvider(lines, in.Tokens),
		InvoiceNumber: findInvoiceNumber(text),
		Date:          findDate(lines),
		CurrencyCode:  findCurrency(text),
		LineItems:     findLineItems(in.Tokens),
	}
	fields.TotalHT, fields.TotalTTC, fields.VATAmount = findTotals(lines)

	e.logger.Info("extract.local_done",
		"provider", fields.Provider,
		"invoice_number", fields.InvoiceNumber,
		"total_ttc", fields.TotalTTC,
		"line_items", len(fields.LineItems),
	)
	return extract.InvoiceDoc(fields), nil
}

// containsInvoiceKeyword gates extraction. "facture"/"invoice" is conclusive
// on its own; accounting terms like "ht" or "total" show up in plenty of
// non-invoice text, so at least two distinct ones must appear as whole words.
func containsInvoiceKeyword(text string) bool {
	if reStrongKeyword.MatchString(text) {
		return true
	}
	seen := map[string]struct{}{}
	for _, m := range reSupportKeyword.FindAllString(text, -1) {
		seen[strings.ToLower(m)] = struct{}{}
	}
	return len(seen) >= 2
}

func splitLines(text string) []string {
	raw := strings.Split(text, "\n")
	lines := make([]string, 0, len(raw))
	for _, ln := range raw {
		if s := strings.TrimSpace(ln); s != "" {
			lines = append(lines, s)
		}
	}
	return lines
}
