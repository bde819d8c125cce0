package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invoicator-app/invoicator/constants"
	"github.com/invoicator-app/invoicator/internal/common"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	st, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestJob(id string, ttl time.Duration) *AnalysisJob {
	now := time.Now().UTC()
	return &AnalysisJob{
		ID:                id,
		Filename:          "scan.pdf",
		FileExt:           "pdf",
		PageCount:         1,
		Status:            constants.JobStatusAnalyzed,
		ConfidenceScore:   0.91,
		QualityClass:      constants.QualityGood,
		SuggestedPipeline: constants.PipelineLocal,
		OCRText:           "FACTURE N° 2024-001",
		CreatedAt:         now,
		ExpiresAt:         now.Add(ttl),
	}
}

func TestCreateAndGetJob(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	job := newTestJob("job-1", time.Hour)
	job.TokensJSON = []byte(`[{"text":"FACTURE"}]`)
	require.NoError(t, st.CreateJob(ctx, job))

	got, err := st.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "scan.pdf", got.Filename)
	assert.Equal(t, constants.JobStatusAnalyzed, got.Status)
	assert.Equal(t, constants.PipelineLocal, got.SuggestedPipeline)
	assert.InDelta(t, 0.91, got.ConfidenceScore, 1e-9)
	assert.JSONEq(t, `[{"text":"FACTURE"}]`, string(got.TokensJSON))
	assert.Empty(t, got.InvoiceID)
	assert.Nil(t, got.CompletedAt)
}

func TestGetJobNotFound(t *testing.T) {
	st := newTestStore(t)

	_, err := st.GetJob(context.Background(), "nope")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestCreateJobRejectsBackwardsTTL(t *testing.T) {
	st := newTestStore(t)

	job := newTestJob("job-ttl", time.Hour)
	job.ExpiresAt = job.CreatedAt
	err := st.CreateJob(context.Background(), job)
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestJobLifecycleToInvoice(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateJob(ctx, newTestJob("job-2", time.Hour)))
	require.NoError(t, st.StartProcessing(ctx, "job-2"))
	require.NoError(t, st.CompleteJob(ctx, "job-2", "inv-1", "", constants.MethodLocal))

	got, err := st.GetJob(ctx, "job-2")
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusCompleted, got.Status)
	assert.Equal(t, "inv-1", got.InvoiceID)
	assert.Empty(t, got.OtherDocumentID)
	assert.Equal(t, string(constants.MethodLocal), got.Method)
	require.NotNil(t, got.CompletedAt)
}

func TestStartProcessingTwiceFails(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateJob(ctx, newTestJob("job-3", time.Hour)))
	require.NoError(t, st.StartProcessing(ctx, "job-3"))

	err := st.StartProcessing(ctx, "job-3")
	require.ErrorIs(t, err, common.ErrInvalidTransition)
	// the error names the actual current state
	assert.Contains(t, err.Error(), "processing")
}

func TestCompletedJobIsImmutable(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateJob(ctx, newTestJob("job-4", time.Hour)))
	require.NoError(t, st.StartProcessing(ctx, "job-4"))
	require.NoError(t, st.CompleteJob(ctx, "job-4", "inv-1", "", constants.MethodLocal))

	assert.ErrorIs(t, st.StartProcessing(ctx, "job-4"), common.ErrInvalidTransition)
	assert.ErrorIs(t, st.FailJob(ctx, "job-4", "too late"), common.ErrInvalidTransition)
	assert.ErrorIs(t, st.MarkExpired(ctx, "job-4"), common.ErrInvalidTransition)
}

func TestRevertToAnalyzed(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateJob(ctx, newTestJob("job-5", time.Hour)))
	require.NoError(t, st.StartProcessing(ctx, "job-5"))
	require.NoError(t, st.RevertToAnalyzed(ctx, "job-5"))

	got, err := st.GetJob(ctx, "job-5")
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusAnalyzed, got.Status)
	// still processable afterwards
	assert.NoError(t, st.StartProcessing(ctx, "job-5"))
}

func TestFailJobRecordsMessage(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateJob(ctx, newTestJob("job-6", time.Hour)))
	require.NoError(t, st.StartProcessing(ctx, "job-6"))
	require.NoError(t, st.FailJob(ctx, "job-6", "tesseract exploded"))

	got, err := st.GetJob(ctx, "job-6")
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusFailed, got.Status)
	assert.Equal(t, "tesseract exploded", got.ErrorMessage)
}

func TestListExpiredAndMarkExpired(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateJob(ctx, newTestJob("live", time.Hour)))
	require.NoError(t, st.CreateJob(ctx, newTestJob("stale", time.Millisecond)))

	expired, err := st.ListExpired(ctx, time.Now().UTC().Add(time.Second))
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "stale", expired[0].ID)

	require.NoError(t, st.MarkExpired(ctx, "stale"))
	got, err := st.GetJob(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusExpired, got.Status)

	// second sweep sees nothing
	expired, err = st.ListExpired(ctx, time.Now().UTC().Add(time.Second))
	require.NoError(t, err)
	assert.Empty(t, expired)
}

func TestDeleteAllJobs(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateJob(ctx, newTestJob("a", time.Hour)))
	require.NoError(t, st.CreateJob(ctx, newTestJob("b", time.Hour)))

	n, err := st.DeleteAllJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ids, err := st.ListJobIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestInvoiceRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	inv := &Invoice{
		ID:            "inv-1",
		JobID:         "job-1",
		Provider:      "ACME SARL",
		InvoiceNumber: "2024-001",
		Date:          "2024-03-15",
		CurrencyCode:  "EUR",
		TotalHT:       100,
		TotalTTC:      120,
		VATAmount:     20,
		LineItemsJSON: []byte(`[]`),
		Method:        constants.MethodLocal,
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, st.CreateInvoice(ctx, inv))

	got, err := st.GetInvoice(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, "ACME SARL", got.Provider)
	assert.Equal(t, "EUR", got.CurrencyCode)
	assert.InDelta(t, 120, got.TotalTTC, 1e-9)
	assert.False(t, got.NeedsReview)

	all, err := st.ListInvoices(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestOtherDocumentRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateOtherDocument(ctx, &OtherDocument{
		ID:        "doc-1",
		JobID:     "job-1",
		Filename:  "attestation.pdf",
		RawText:   "attestation sur l'honneur",
		CreatedAt: time.Now().UTC(),
	}))

	got, err := st.GetOtherDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "attestation sur l'honneur", got.RawText)
	assert.Equal(t, "attestation.pdf", got.Filename)
}

func TestCredentialUpsertResetsValidity(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	cred := &Credential{
		Provider:   "anthropic",
		Ciphertext: []byte{1, 2, 3},
		KeyVersion: 1,
		Source:     "manual",
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, st.UpsertCredential(ctx, cred))
	require.NoError(t, st.SetCredentialValidity(ctx, "anthropic", false))

	// replacing the key wipes the old verdict: the new key is presumed
	// valid until the next validation run
	valid := true
	cred.Ciphertext = []byte{4, 5, 6}
	cred.Valid = &valid
	require.NoError(t, st.UpsertCredential(ctx, cred))

	got, err := st.GetCredential(ctx, "anthropic")
	require.NoError(t, err)
	require.NotNil(t, got.Valid)
	assert.True(t, *got.Valid)
	assert.Nil(t, got.LastValidated)
	assert.Equal(t, []byte{4, 5, 6}, got.Ciphertext)
}

func TestGetCredentialMissing(t *testing.T) {
	st := newTestStore(t)

	_, err := st.GetCredential(context.Background(), "anthropic")
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrCredentialMissing)
}

func TestRewrapCredentials(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, p := range []string{"anthropic", "other"} {
		require.NoError(t, st.UpsertCredential(ctx, &Credential{
			Provider:   p,
			Ciphertext: []byte("old-" + p),
			KeyVersion: 1,
			Source:     "manual",
			CreatedAt:  now,
			UpdatedAt:  now,
		}))
	}

	require.NoError(t, st.RewrapCredentials(ctx, map[string][]byte{
		"anthropic": []byte("new-anthropic"),
		"other":     []byte("new-other"),
	}, 2))

	for _, p := range []string{"anthropic", "other"} {
		got, err := st.GetCredential(ctx, p)
		require.NoError(t, err)
		assert.Equal(t, []byte("new-"+p), got.Ciphertext)
		assert.Equal(t, 2, got.KeyVersion)
	}
}

func TestExpiredHelper(t *testing.T) {
	now := time.Now().UTC()
	job := &AnalysisJob{Status: constants.JobStatusAnalyzed, ExpiresAt: now.Add(-time.Minute)}
	assert.True(t, job.Expired(now))

	job.Status = constants.JobStatusCompleted
	assert.False(t, job.Expired(now), "terminal jobs do not expire retroactively")

	job.Status = constants.JobStatusAnalyzed
	job.ExpiresAt = now.Add(time.Minute)
	assert.False(t, job.Expired(now))
}

func TestErrorsAreWrapped(t *testing.T) {
	st := newTestStore(t)
	_, err := st.GetJob(context.Background(), "missing")

	var appErr *common.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "JOB_NOT_FOUND", appErr.Code)
}
