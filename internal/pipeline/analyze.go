package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/invoicator-app/invoicator/constants"
	"github.com/invoicator-app/invoicator/internal/common"
	"github.com/invoicator-app/invoicator/internal/quality"
	"github.com/invoicator-app/invoicator/internal/store"
)

// Analyze ingests an uploaded document: it lands the bytes in the job scratch
// space, renders pages, runs OCR, grades the first page and records an
// analysis job with a routing suggestion. The file is not extracted yet; that
// is the caller's next, separate call once the suggestion is accepted.
func (p *Processor) Analyze(ctx context.Context, filename string, r io.Reader) (*store.AnalysisJob, error) {
	ext := constants.NormalizeExt(filepath.Ext(filename))
	if !constants.IsAllowedExt(ext) {
		return nil, common.NewAppError("UNSUPPORTED_FILE", fmt.Sprintf("unsupported file type %q", ext), common.ErrInvalidInput)
	}

	jobID := uuid.NewString()
	originalPath, err := p.files.SaveOriginal(jobID, ext, r)
	if err != nil {
		return nil, fmt.Errorf("saving upload: %w", err)
	}

	job, err := p.analyzeSaved(ctx, jobID, filename, ext, originalPath)
	if err != nil {
		p.files.DeleteJobFiles(jobID)
		return nil, err
	}
	return job, nil
}

func (p *Processor) analyzeSaved(ctx context.Context, jobID, filename, ext, originalPath string) (*store.AnalysisJob, error) {
	pages, err := p.renderPages(ctx, jobID, ext, originalPath)
	if err != nil {
		return nil, err
	}

	// The first page drives quality grading and routing; later pages only
	// contribute text.
	first, err := p.ocr.RecognizePage(ctx, pages[0])
	if err != nil {
		return nil, fmt.Errorf("ocr page 1: %w", err)
	}
	texts := []string{first.Text}
	for i, page := range pages[1:] {
		res, err := p.ocr.RecognizePage(ctx, page)
		if err != nil {
			p.logger.Warn("pipeline.page_ocr_failed", "job_id", jobID, "page", i+2, "error", err)
			continue
		}
		texts = append(texts, res.Text)
	}

	img, err := quality.LoadImage(pages[0])
	if err != nil {
		p.logger.Warn("pipeline.page_decode_failed", "job_id", jobID, "error", err)
	}
	report := p.quality.Analyze(img, first.Tokens, first.Aggregate)

	tokensJSON, err := json.Marshal(first.Tokens)
	if err != nil {
		return nil, fmt.Errorf("encoding tokens: %w", err)
	}
	qualityJSON, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("encoding quality report: %w", err)
	}

	now := time.Now().UTC()
	job := &store.AnalysisJob{
		ID:                jobID,
		Filename:          filename,
		FileExt:           ext,
		PageCount:         len(pages),
		Status:            constants.JobStatusAnalyzed,
		ConfidenceScore:   report.Score,
		QualityClass:      report.Class,
		Handwritten:       report.Handwritten,
		SuggestedPipeline: report.Pipeline,
		OCRText:           strings.Join(texts, "\f"),
		TokensJSON:        tokensJSON,
		SpatialGrid:       first.SpatialGrid,
		QualityJSON:       qualityJSON,
		CreatedAt:         now,
		ExpiresAt:         now.Add(p.ttl),
	}
	if err := p.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	p.logger.Info("pipeline.analyzed",
		"job_id", jobID,
		"file", filename,
		"pages", len(pages),
		"class", report.Class,
		"score", report.Score,
		"pipeline", report.Pipeline,
	)
	return job, nil
}

// renderPages resolves the page images for OCR. PDFs are rasterized into the
// scratch space; single-image uploads are used in place.
func (p *Processor) renderPages(ctx context.Context, jobID, ext, originalPath string) ([]string, error) {
	if ext != "pdf" {
		return []string{originalPath}, nil
	}
	pages, err := p.ocr.RenderPDFPages(ctx, originalPath, p.files.TempDir(), jobID)
	if err != nil {
		return nil, fmt.Errorf("rendering pdf: %w", err)
	}
	if len(pages) == 0 {
		return nil, common.NewAppError("EMPTY_DOCUMENT", "pdf produced no pages", common.ErrInvalidInput)
	}
	return pages, nil
}
