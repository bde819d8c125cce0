// Package export produces XLSX workbooks from stored invoices.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/invoicator-app/invoicator/internal/extract"
	"github.com/invoicator-app/invoicator/internal/store"
)

// Service is a tiny façade over the invoice store that produces XLSX bytes.
type Service struct {
	invoices store.InvoiceStore
	logger   *slog.Logger
}

func NewService(invoices store.InvoiceStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{invoices: invoices, logger: logger}
}

// ExportInvoicesXLSX returns an XLSX workbook (as bytes) with one summary
// sheet of all invoices and one detail sheet of their line items.
func (s *Service) ExportInvoicesXLSX(ctx context.Context) ([]byte, error) {
	start := time.Now()

	invs, err := s.invoices.ListInvoices(ctx)
	if err != nil {
		return nil, fmt.Errorf("query invoices: %w", err)
	}

	f := excelize.NewFile()
	const sheet = "Invoices"
	const itemsSheet = "Line Items"
	if index, _ := f.GetSheetIndex(sheet); index == -1 {
		if _, err := f.NewSheet(sheet); err != nil {
			return nil, err
		}
	}
	if _, err := f.NewSheet(itemsSheet); err != nil {
		return nil, err
	}
	activeIndex, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(activeIndex)
	// excelize seeds workbooks with "Sheet1"
	_ = f.DeleteSheet("Sheet1")

	headers := []string{
		"Date",
		"Provider",
		"Invoice Number",
		"Currency",
		"Total excl. VAT",
		"VAT",
		"Total incl. VAT",
		"Method",
		"Needs Review",
		"Archive Path",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	itemHeaders := []string{"Invoice Number", "Provider", "Designation", "Quantity", "Unit Price", "Total excl. VAT"}
	for i, h := range itemHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(itemsSheet, cell, h)
	}

	row := 2
	itemRow := 2
	for _, inv := range invs {
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
		write(1, inv.Date)
		write(2, inv.Provider)
		write(3, inv.InvoiceNumber)
		write(4, inv.CurrencyCode)
		write(5, inv.TotalHT)
		write(6, inv.VATAmount)
		write(7, inv.TotalTTC)
		write(8, string(inv.Method))
		write(9, inv.NeedsReview)
		write(10, inv.ArchivePath)
		row++

		var items []extract.LineItem
		if len(inv.LineItemsJSON) > 0 {
			if err := json.Unmarshal(inv.LineItemsJSON, &items); err != nil {
				s.logger.Warn("export.items_decode_failed", "invoice_id", inv.ID, "error", err)
			}
		}
		for _, it := range items {
			writeItem := func(col int, v any) {
				cell, _ := excelize.CoordinatesToCellName(col, itemRow)
				_ = f.SetCellValue(itemsSheet, cell, v)
			}
			writeItem(1, inv.InvoiceNumber)
			writeItem(2, inv.Provider)
			writeItem(3, truncate(it.Designation, 140))
			writeItem(4, it.Quantity)
			writeItem(5, it.UnitPrice)
			writeItem(6, it.TotalHT)
			itemRow++
		}
	}

	_ = f.SetColWidth(sheet, "A", "A", 12) // date
	_ = f.SetColWidth(sheet, "B", "B", 28) // provider
	_ = f.SetColWidth(sheet, "C", "C", 20) // number
	_ = f.SetColWidth(sheet, "E", "G", 16) // amounts
	_ = f.SetColWidth(sheet, "J", "J", 60) // path
	_ = f.SetColWidth(itemsSheet, "C", "C", 48)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"invoices", len(invs),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
