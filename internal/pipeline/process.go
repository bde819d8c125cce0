package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/invoicator-app/invoicator/constants"
	"github.com/invoicator-app/invoicator/internal/common"
	"github.com/invoicator-app/invoicator/internal/extract"
	"github.com/invoicator-app/invoicator/internal/store"
	"github.com/invoicator-app/invoicator/internal/vault"
)

// ProcessOptions lets the caller override the suggested routing.
type ProcessOptions struct {
	// Pipeline forces an engine; empty means follow the job's suggestion.
	Pipeline constants.Pipeline
	// Confirmed acknowledges a local override on a page graded for cloud.
	// Without it, the override is rejected with RequiresConfirmation set.
	Confirmed bool
}

// ProcessResult reports the outcome of one process call.
type ProcessResult struct {
	Job             *store.AnalysisJob         `json:"job,omitempty"`
	InvoiceID       string                     `json:"invoice_id,omitempty"`
	OtherDocumentID string                     `json:"other_document_id,omitempty"`
	Method          constants.ExtractionMethod `json:"method,omitempty"`
	NeedsReview     bool                       `json:"needs_review,omitempty"`
	// RequiresConfirmation means no extraction happened: the caller asked for
	// the local engine on a page graded for cloud and must confirm.
	RequiresConfirmation bool   `json:"requires_confirmation,omitempty"`
	Warning              string `json:"warning,omitempty"`
}

// Process runs extraction for an analyzed job. Expired jobs are swept on
// access; credential failures put the job back to analyzed so the call can be
// retried after the key is fixed.
func (p *Processor) Process(ctx context.Context, jobID string, opts ProcessOptions) (*ProcessResult, error) {
	job, err := p.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if job.Status == constants.JobStatusExpired || job.Expired(now) {
		if job.Status != constants.JobStatusExpired {
			if err := p.store.MarkExpired(ctx, jobID); err != nil {
				p.logger.Warn("pipeline.expire_failed", "job_id", jobID, "error", err)
			}
			p.files.DeleteJobFiles(jobID)
		}
		return nil, common.NewAppError("JOB_EXPIRED",
			fmt.Sprintf("job %s has expired, upload and analyze the document again", jobID),
			common.ErrExpired)
	}
	if job.Status.Terminal() {
		return nil, common.InvalidTransitionError(jobID, string(job.Status), string(constants.JobStatusProcessing))
	}

	chosen := job.SuggestedPipeline
	if opts.Pipeline != "" {
		chosen = opts.Pipeline
	}
	if chosen == constants.PipelineLocal && job.SuggestedPipeline == constants.PipelineCloud && !opts.Confirmed {
		return &ProcessResult{
			Job:                  job,
			RequiresConfirmation: true,
			Warning:              fmt.Sprintf("page is graded %s, local extraction will likely be unreliable", job.QualityClass),
		}, nil
	}

	if err := p.store.StartProcessing(ctx, jobID); err != nil {
		return nil, err
	}

	doc, method, err := p.runEngine(ctx, job, chosen)
	if err != nil {
		return nil, p.handleEngineError(ctx, jobID, err)
	}

	result, err := p.persistDocument(ctx, job, doc, method)
	if err != nil {
		if ferr := p.store.FailJob(ctx, jobID, err.Error()); ferr != nil {
			p.logger.Error("pipeline.fail_mark_failed", "job_id", jobID, "error", ferr)
		}
		return nil, err
	}

	p.files.DeleteJobFiles(jobID)
	if job, err := p.store.GetJob(ctx, jobID); err == nil {
		result.Job = job
	}
	p.logger.Info("pipeline.processed",
		"job_id", jobID,
		"method", method,
		"invoice_id", result.InvoiceID,
		"other_document_id", result.OtherDocumentID,
		"needs_review", result.NeedsReview,
	)
	return result, nil
}

func (p *Processor) runEngine(ctx context.Context, job *store.AnalysisJob, chosen constants.Pipeline) (extract.Document, constants.ExtractionMethod, error) {
	in := extract.PageInput{
		ImagePath:   p.pageImagePath(job),
		OCRText:     job.OCRText,
		SpatialGrid: job.SpatialGrid,
	}
	if len(job.TokensJSON) > 0 {
		if err := json.Unmarshal(job.TokensJSON, &in.Tokens); err != nil {
			p.logger.Warn("pipeline.tokens_decode_failed", "job_id", job.ID, "error", err)
		}
	}

	engine := p.local
	if chosen == constants.PipelineCloud {
		engine = p.cloud
	}
	doc, err := engine.Extract(ctx, in)
	return doc, engine.Method(), err
}

// pageImagePath locates the first page image for the cloud engine. PDF pages
// were rasterized during analysis; image uploads are sent as stored.
func (p *Processor) pageImagePath(job *store.AnalysisJob) string {
	if job.FileExt == "pdf" {
		return p.files.PagePath(job.ID, 1)
	}
	return p.files.OriginalPath(job.ID, job.FileExt)
}

// handleEngineError decides whether the job stays retryable. Credential
// problems are the caller's to fix, so the job goes back to analyzed instead
// of burning its one processing attempt. An undecryptable credential counts
// as absent: the key material is gone until the operator re-stores it.
func (p *Processor) handleEngineError(ctx context.Context, jobID string, err error) error {
	if errors.Is(err, common.ErrCredentialMissing) || errors.Is(err, common.ErrCredentialInvalid) || errors.Is(err, common.ErrDecryptionFailed) {
		if errors.Is(err, common.ErrCredentialInvalid) && p.vault != nil {
			if merr := p.vault.MarkInvalid(ctx, vault.ProviderAnthropic); merr != nil {
				p.logger.Warn("pipeline.mark_invalid_failed", "job_id", jobID, "error", merr)
			}
		}
		if rerr := p.store.RevertToAnalyzed(ctx, jobID); rerr != nil {
			p.logger.Error("pipeline.revert_failed", "job_id", jobID, "error", rerr)
		}
		return err
	}
	if ferr := p.store.FailJob(ctx, jobID, err.Error()); ferr != nil {
		p.logger.Error("pipeline.fail_mark_failed", "job_id", jobID, "error", ferr)
	}
	return err
}

func (p *Processor) persistDocument(ctx context.Context, job *store.AnalysisJob, doc extract.Document, method constants.ExtractionMethod) (*ProcessResult, error) {
	switch doc.Kind {
	case extract.KindInvoice:
		return p.persistInvoice(ctx, job, doc.Invoice, method, false, "")

	case extract.KindParseFailure:
		fields := doc.Partial
		if fields == nil {
			fields = &extract.InvoiceFields{}
		}
		return p.persistInvoice(ctx, job, fields, method, true, doc.Reason)

	case extract.KindOther:
		docID := uuid.NewString()
		other := &store.OtherDocument{
			ID:        docID,
			JobID:     job.ID,
			Filename:  job.Filename,
			RawText:   doc.RawText,
			CreatedAt: time.Now().UTC(),
		}
		if err := p.store.CreateOtherDocument(ctx, other); err != nil {
			return nil, err
		}
		if err := p.store.CompleteJob(ctx, job.ID, "", docID, method); err != nil {
			return nil, err
		}
		return &ProcessResult{OtherDocumentID: docID, Method: method}, nil

	default:
		return nil, common.NewAppError("INTERNAL", fmt.Sprintf("unknown document kind %d", doc.Kind), common.ErrInternal)
	}
}

func (p *Processor) persistInvoice(ctx context.Context, job *store.AnalysisJob, fields *extract.InvoiceFields, method constants.ExtractionMethod, needsReview bool, parseError string) (*ProcessResult, error) {
	invoiceID := uuid.NewString()

	archivePath := ""
	if p.archive != nil {
		src := p.files.OriginalPath(job.ID, job.FileExt)
		path, err := p.archive.StoreInvoiceDocument(invoiceID, src)
		if err != nil {
			p.logger.Warn("pipeline.archive_failed", "job_id", job.ID, "invoice_id", invoiceID, "error", err)
		} else {
			archivePath = path
		}
	}

	itemsJSON, err := json.Marshal(fields.LineItems)
	if err != nil {
		return nil, fmt.Errorf("encoding line items: %w", err)
	}
	inv := &store.Invoice{
		ID:            invoiceID,
		JobID:         job.ID,
		Provider:      fields.Provider,
		InvoiceNumber: fields.InvoiceNumber,
		Date:          fields.Date,
		CurrencyCode:  fields.CurrencyCode,
		TotalHT:       fields.TotalHT,
		TotalTTC:      fields.TotalTTC,
		VATAmount:     fields.VATAmount,
		LineItemsJSON: itemsJSON,
		Method:        method,
		NeedsReview:   needsReview,
		ParseError:    parseError,
		ArchivePath:   archivePath,
		CreatedAt:     time.Now().UTC(),
	}
	if err := p.store.CreateInvoice(ctx, inv); err != nil {
		return nil, err
	}
	if err := p.store.CompleteJob(ctx, job.ID, invoiceID, "", method); err != nil {
		return nil, err
	}
	return &ProcessResult{InvoiceID: invoiceID, Method: method, NeedsReview: needsReview}, nil
}
