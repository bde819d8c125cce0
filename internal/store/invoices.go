package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/invoicator-app/invoicator/constants"
	"github.com/invoicator-app/invoicator/internal/common"
)

const invoiceColumns = `id, job_id, provider, invoice_number, invoice_date,
	currency_code, total_ht, total_ttc, vat_amount, line_items_json, method,
	needs_review, parse_error, archive_path, created_at`

func (s *sqlStore) CreateInvoice(ctx context.Context, inv *Invoice) error {
	_, err := s.exec(ctx, `INSERT INTO invoices (`+invoiceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.JobID, inv.Provider, inv.InvoiceNumber, inv.Date,
		inv.CurrencyCode, inv.TotalHT, inv.TotalTTC, inv.VATAmount,
		inv.LineItemsJSON, string(inv.Method), inv.NeedsReview,
		inv.ParseError, inv.ArchivePath, inv.CreatedAt.UTC())
	if err != nil {
		s.log.Error("store.invoice_create_failed", "invoice_id", inv.ID, "error", err)
		return common.WrapError(err, "creating invoice")
	}
	s.log.Info("store.invoice_created", "invoice_id", inv.ID, "job_id", inv.JobID, "method", inv.Method)
	return nil
}

func (s *sqlStore) GetInvoice(ctx context.Context, id string) (*Invoice, error) {
	row := s.queryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = ?`, id)
	inv, err := scanInvoice(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NewAppError("INVOICE_NOT_FOUND", "no such invoice", common.ErrNotFound)
	}
	return inv, err
}

func (s *sqlStore) ListInvoices(ctx context.Context) ([]*Invoice, error) {
	rows, err := s.query(ctx, `SELECT `+invoiceColumns+` FROM invoices ORDER BY created_at`)
	if err != nil {
		return nil, common.WrapError(err, "listing invoices")
	}
	defer rows.Close()

	var invoices []*Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows.Scan)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

func scanInvoice(scan func(...any) error) (*Invoice, error) {
	var (
		inv    Invoice
		method string
	)
	err := scan(&inv.ID, &inv.JobID, &inv.Provider, &inv.InvoiceNumber,
		&inv.Date, &inv.CurrencyCode, &inv.TotalHT, &inv.TotalTTC,
		&inv.VATAmount, &inv.LineItemsJSON, &method, &inv.NeedsReview,
		&inv.ParseError, &inv.ArchivePath, &inv.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, common.WrapError(err, "reading invoice")
	}
	inv.Method = constants.ExtractionMethod(method)
	return &inv, nil
}

func (s *sqlStore) CreateOtherDocument(ctx context.Context, doc *OtherDocument) error {
	_, err := s.exec(ctx, `INSERT INTO other_documents (id, job_id, filename, raw_text, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		doc.ID, doc.JobID, doc.Filename, doc.RawText, doc.CreatedAt.UTC())
	if err != nil {
		return common.WrapError(err, "creating other document")
	}
	s.log.Info("store.other_document_created", "document_id", doc.ID, "job_id", doc.JobID)
	return nil
}

func (s *sqlStore) GetOtherDocument(ctx context.Context, id string) (*OtherDocument, error) {
	var doc OtherDocument
	err := s.queryRow(ctx, `SELECT id, job_id, filename, raw_text, created_at
		FROM other_documents WHERE id = ?`, id).
		Scan(&doc.ID, &doc.JobID, &doc.Filename, &doc.RawText, &doc.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NewAppError("DOCUMENT_NOT_FOUND", "no such document", common.ErrNotFound)
	}
	if err != nil {
		return nil, common.WrapError(err, "reading other document")
	}
	return &doc, nil
}
