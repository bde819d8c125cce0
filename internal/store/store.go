// Package store persists analysis jobs, extracted invoices and encrypted
// credentials. Both backends (SQLite and Postgres) run the same portable SQL
// through a shared core; the driver only picks placeholders and DDL.
package store

import (
	"context"
	"time"

	"github.com/invoicator-app/invoicator/constants"
)

// AnalysisJob is one uploaded document moving through the two-step pipeline.
type AnalysisJob struct {
	ID                string
	Filename          string
	FileExt           string
	PageCount         int
	Status            constants.JobStatus
	ConfidenceScore   float64
	QualityClass      constants.QualityClass
	Handwritten       bool
	SuggestedPipeline constants.Pipeline
	OCRText           string
	TokensJSON        []byte
	SpatialGrid       string
	QualityJSON       []byte
	ErrorMessage      string
	// Exactly one of InvoiceID / OtherDocumentID is set on completion.
	InvoiceID       string
	OtherDocumentID string
	Method          string
	CreatedAt       time.Time
	ExpiresAt       time.Time
	CompletedAt     *time.Time
}

// Expired reports whether the job's TTL has elapsed at the given time.
// Terminal jobs never expire retroactively.
func (j *AnalysisJob) Expired(now time.Time) bool {
	return !j.Status.Terminal() && now.After(j.ExpiresAt)
}

// Invoice is the structured record produced by a completed extraction.
type Invoice struct {
	ID            string
	JobID         string
	Provider      string
	InvoiceNumber string
	Date          string
	CurrencyCode  string
	TotalHT       float64
	TotalTTC      float64
	VATAmount     float64
	LineItemsJSON []byte
	Method        constants.ExtractionMethod
	// NeedsReview marks records built from malformed extraction output.
	NeedsReview bool
	ParseError  string
	ArchivePath string
	CreatedAt   time.Time
}

// OtherDocument stores the text of a processed page that was not an invoice.
type OtherDocument struct {
	ID        string
	JobID     string
	Filename  string
	RawText   string
	CreatedAt time.Time
}

// Credential is one encrypted provider API key.
type Credential struct {
	Provider      string
	Ciphertext    []byte
	KeyVersion    int
	Source        string // "manual" | "env_migrated"
	Valid         *bool  // nil until validated
	LastValidated *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type JobStore interface {
	CreateJob(ctx context.Context, job *AnalysisJob) error
	GetJob(ctx context.Context, id string) (*AnalysisJob, error)
	// StartProcessing moves analyzed -> processing, failing with the
	// transition error when the job is in any other state.
	StartProcessing(ctx context.Context, id string) error
	// RevertToAnalyzed undoes StartProcessing after a credential failure so
	// the job stays retryable.
	RevertToAnalyzed(ctx context.Context, id string) error
	CompleteJob(ctx context.Context, id, invoiceID, otherDocID string, method constants.ExtractionMethod) error
	FailJob(ctx context.Context, id, message string) error
	MarkExpired(ctx context.Context, id string) error
	ListExpired(ctx context.Context, now time.Time) ([]*AnalysisJob, error)
	ListJobIDs(ctx context.Context) ([]string, error)
	DeleteJob(ctx context.Context, id string) error
	DeleteAllJobs(ctx context.Context) (int, error)
}

type InvoiceStore interface {
	CreateInvoice(ctx context.Context, inv *Invoice) error
	GetInvoice(ctx context.Context, id string) (*Invoice, error)
	ListInvoices(ctx context.Context) ([]*Invoice, error)
	CreateOtherDocument(ctx context.Context, doc *OtherDocument) error
	GetOtherDocument(ctx context.Context, id string) (*OtherDocument, error)
}

type CredentialStore interface {
	UpsertCredential(ctx context.Context, cred *Credential) error
	GetCredential(ctx context.Context, provider string) (*Credential, error)
	ListCredentials(ctx context.Context) ([]*Credential, error)
	SetCredentialValidity(ctx context.Context, provider string, valid bool) error
	DeleteCredential(ctx context.Context, provider string) error
	// RewrapCredentials atomically replaces every ciphertext during key
	// rotation. Either all rows move to the new key version or none do.
	RewrapCredentials(ctx context.Context, ciphertexts map[string][]byte, keyVersion int) error
}

// Store is the full persistence surface.
type Store interface {
	JobStore
	InvoiceStore
	CredentialStore
	Migrate(ctx context.Context) error
	Close() error
}
