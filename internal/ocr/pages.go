package ocr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

// RenderPDFPages rasterizes a PDF into per-page PNGs inside dir, named
// {jobID}_page_{n}.png with n starting at 1. Returns the page paths in order.
func (e *Extractor) RenderPDFPages(ctx context.Context, pdfPath, dir, jobID string) ([]string, error) {
	prefix := filepath.Join(dir, jobID+"_pg")
	// pdftoppm -r <dpi> -png <in.pdf> <prefix>
	_, _, err := e.runner.Run(ctx, e.cfg.Pdftoppm, "-r", strconv.Itoa(e.cfg.DPI), "-png", pdfPath, prefix)
	if err != nil {
		return nil, fmt.Errorf("pdftoppm: %w", err)
	}

	// pdftoppm writes prefix-1.png, prefix-2.png, ... (zero-padded on some
	// versions), so glob and sort before renaming into the job naming scheme.
	matches, _ := filepath.Glob(prefix + "-*.png")
	sort.Strings(matches)
	if e.cfg.MaxPages > 0 && len(matches) > e.cfg.MaxPages {
		for _, extra := range matches[e.cfg.MaxPages:] {
			_ = os.Remove(extra)
		}
		matches = matches[:e.cfg.MaxPages]
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("pdftoppm produced no pages for %s", pdfPath)
	}

	pages := make([]string, 0, len(matches))
	for i, m := range matches {
		dst := filepath.Join(dir, fmt.Sprintf("%s_page_%d.png", jobID, i+1))
		if err := os.Rename(m, dst); err != nil {
			return nil, fmt.Errorf("naming page %d: %w", i+1, err)
		}
		pages = append(pages, dst)
	}
	return pages, nil
}
