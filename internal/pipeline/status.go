package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/invoicator-app/invoicator/constants"
	"github.com/invoicator-app/invoicator/internal/quality"
)

// StatusSnapshot is the externally visible view of one job.
type StatusSnapshot struct {
	JobID             string                     `json:"job_id"`
	Filename          string                     `json:"filename"`
	Status            constants.JobStatus        `json:"status"`
	PageCount         int                        `json:"page_count"`
	Quality           *quality.Report            `json:"quality,omitempty"`
	SuggestedPipeline constants.Pipeline         `json:"suggested_pipeline"`
	InvoiceID         string                     `json:"invoice_id,omitempty"`
	OtherDocumentID   string                     `json:"other_document_id,omitempty"`
	Method            constants.ExtractionMethod `json:"method,omitempty"`
	ErrorMessage      string                     `json:"error,omitempty"`
	CreatedAt         time.Time                  `json:"created_at"`
	ExpiresAt         time.Time                  `json:"expires_at"`
	CompletedAt       *time.Time                 `json:"completed_at,omitempty"`
	// SecondsToExpiry is zero for terminal jobs.
	SecondsToExpiry int64 `json:"seconds_to_expiry"`
}

// Status reports where a job stands. Reading the status of a job past its
// TTL flips it to expired and releases its scratch files, so pollers see the
// expiry as soon as it happens.
func (p *Processor) Status(ctx context.Context, jobID string) (*StatusSnapshot, error) {
	job, err := p.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if job.Expired(now) {
		if err := p.store.MarkExpired(ctx, jobID); err != nil {
			p.logger.Warn("pipeline.expire_failed", "job_id", jobID, "error", err)
		} else {
			job.Status = constants.JobStatusExpired
		}
		p.files.DeleteJobFiles(jobID)
	}

	snap := &StatusSnapshot{
		JobID:             job.ID,
		Filename:          job.Filename,
		Status:            job.Status,
		PageCount:         job.PageCount,
		SuggestedPipeline: job.SuggestedPipeline,
		InvoiceID:         job.InvoiceID,
		OtherDocumentID:   job.OtherDocumentID,
		Method:            constants.ExtractionMethod(job.Method),
		ErrorMessage:      job.ErrorMessage,
		CreatedAt:         job.CreatedAt,
		ExpiresAt:         job.ExpiresAt,
		CompletedAt:       job.CompletedAt,
	}
	if len(job.QualityJSON) > 0 {
		var rep quality.Report
		if err := json.Unmarshal(job.QualityJSON, &rep); err == nil {
			snap.Quality = &rep
		}
	}
	if !job.Status.Terminal() {
		if left := job.ExpiresAt.Sub(now); left > 0 {
			snap.SecondsToExpiry = int64(left.Seconds())
		}
	}
	return snap, nil
}
