// Package docstore keeps the permanent copies of processed invoice
// documents, separate from the sweepable scratch space.
package docstore

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

type Archive struct {
	dir    string
	logger *slog.Logger
}

func NewArchive(dir string, logger *slog.Logger) *Archive {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archive{dir: dir, logger: logger}
}

// InvoicePath is where a completed invoice's original document lives.
func (a *Archive) InvoicePath(invoiceID, ext string) string {
	return filepath.Join(a.dir, fmt.Sprintf("invoice_%s.%s", invoiceID, strings.TrimPrefix(ext, ".")))
}

// StoreInvoiceDocument copies the original upload into the archive and
// returns the archive path.
func (a *Archive) StoreInvoiceDocument(invoiceID, srcPath string) (string, error) {
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return "", err
	}
	ext := strings.TrimPrefix(filepath.Ext(srcPath), ".")
	dst := a.InvoicePath(invoiceID, ext)

	src, err := os.Open(srcPath)
	if err != nil {
		return "", err
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	defer out.Close()

	if _, err := io.Copy(out, src); err != nil {
		os.Remove(dst)
		return "", err
	}
	a.logger.Info("docstore.archived", "invoice_id", invoiceID, "path", dst)
	return dst, nil
}
