package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/invoicator-app/invoicator/constants"
	"github.com/invoicator-app/invoicator/internal/common"
)

// sqlStore is the driver-independent core. Queries are written with ?
// placeholders and rebound for Postgres.
type sqlStore struct {
	db        *sql.DB
	dialect   string
	migration string
	log       *slog.Logger
}

func (s *sqlStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.migration); err != nil {
		return common.WrapError(err, s.dialect+": migrate")
	}
	s.log.Info("store.migrated", "dialect", s.dialect)
	return nil
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders to $1..$n for Postgres.
func (s *sqlStore) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *sqlStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *sqlStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

func (s *sqlStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

// --- jobs ---

const jobColumns = `id, filename, file_ext, page_count, status, confidence_score,
	quality_class, handwritten, suggested_pipeline, ocr_text, tokens_json,
	spatial_grid, quality_json, error_message, invoice_id, other_document_id,
	method, created_at, expires_at, completed_at`

func (s *sqlStore) CreateJob(ctx context.Context, job *AnalysisJob) error {
	if !job.ExpiresAt.After(job.CreatedAt) {
		return common.NewAppError("INVALID_JOB", "expires_at must be after created_at", common.ErrInvalidInput)
	}
	_, err := s.exec(ctx, `INSERT INTO analysis_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Filename, job.FileExt, job.PageCount, string(job.Status),
		job.ConfidenceScore, string(job.QualityClass), job.Handwritten,
		string(job.SuggestedPipeline), job.OCRText, job.TokensJSON,
		job.SpatialGrid, job.QualityJSON, job.ErrorMessage,
		nullStr(job.InvoiceID), nullStr(job.OtherDocumentID), job.Method,
		job.CreatedAt.UTC(), job.ExpiresAt.UTC(), nullTime(job.CompletedAt),
	)
	if err != nil {
		s.log.Error("store.job_create_failed", "job_id", job.ID, "error", err)
		return common.WrapError(err, "creating job")
	}
	s.log.Info("store.job_created", "job_id", job.ID, "pipeline", job.SuggestedPipeline, "expires_at", job.ExpiresAt)
	return nil
}

func (s *sqlStore) GetJob(ctx context.Context, id string) (*AnalysisJob, error) {
	row := s.queryRow(ctx, `SELECT `+jobColumns+` FROM analysis_jobs WHERE id = ?`, id)
	return scanJob(row)
}

func scanJob(row *sql.Row) (*AnalysisJob, error) {
	var (
		job         AnalysisJob
		status      string
		class       string
		pipeline    string
		invoiceID   sql.NullString
		otherDocID  sql.NullString
		completedAt sql.NullTime
	)
	err := row.Scan(&job.ID, &job.Filename, &job.FileExt, &job.PageCount,
		&status, &job.ConfidenceScore, &class, &job.Handwritten, &pipeline,
		&job.OCRText, &job.TokensJSON, &job.SpatialGrid, &job.QualityJSON,
		&job.ErrorMessage, &invoiceID, &otherDocID, &job.Method,
		&job.CreatedAt, &job.ExpiresAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NewAppError("JOB_NOT_FOUND", "no such analysis job", common.ErrNotFound)
	}
	if err != nil {
		return nil, common.WrapError(err, "reading job")
	}
	job.Status = constants.JobStatus(status)
	job.QualityClass = constants.QualityClass(class)
	job.SuggestedPipeline = constants.Pipeline(pipeline)
	job.InvoiceID = invoiceID.String
	job.OtherDocumentID = otherDocID.String
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	return &job, nil
}

// transition performs a guarded status move. The WHERE clause carries the
// expected current status, so concurrent callers race on the database row
// rather than on in-process state.
func (s *sqlStore) transition(ctx context.Context, id string, from, to constants.JobStatus, set string, args ...any) error {
	query := `UPDATE analysis_jobs SET status = ?` + set + ` WHERE id = ? AND status = ?`
	allArgs := append([]any{string(to)}, args...)
	allArgs = append(allArgs, id, string(from))

	res, err := s.exec(ctx, query, allArgs...)
	if err != nil {
		return common.WrapError(err, "updating job status")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return common.WrapError(err, "updating job status")
	}
	if n == 1 {
		s.log.Info("store.job_transition", "job_id", id, "from", from, "to", to)
		return nil
	}

	job, err := s.GetJob(ctx, id)
	if err != nil {
		return err
	}
	return common.InvalidTransitionError(id, string(job.Status), string(to))
}

func (s *sqlStore) StartProcessing(ctx context.Context, id string) error {
	return s.transition(ctx, id, constants.JobStatusAnalyzed, constants.JobStatusProcessing, "")
}

func (s *sqlStore) RevertToAnalyzed(ctx context.Context, id string) error {
	return s.transition(ctx, id, constants.JobStatusProcessing, constants.JobStatusAnalyzed, "")
}

func (s *sqlStore) CompleteJob(ctx context.Context, id, invoiceID, otherDocID string, method constants.ExtractionMethod) error {
	return s.transition(ctx, id, constants.JobStatusProcessing, constants.JobStatusCompleted,
		", invoice_id = ?, other_document_id = ?, method = ?, completed_at = ?",
		nullStr(invoiceID), nullStr(otherDocID), string(method), time.Now().UTC())
}

func (s *sqlStore) FailJob(ctx context.Context, id, message string) error {
	return s.transition(ctx, id, constants.JobStatusProcessing, constants.JobStatusFailed,
		", error_message = ?, completed_at = ?", message, time.Now().UTC())
}

func (s *sqlStore) MarkExpired(ctx context.Context, id string) error {
	// Expiry applies from either live state; terminal states stay put.
	res, err := s.exec(ctx, `UPDATE analysis_jobs SET status = ? WHERE id = ? AND status IN (?, ?)`,
		string(constants.JobStatusExpired), id,
		string(constants.JobStatusAnalyzed), string(constants.JobStatusProcessing))
	if err != nil {
		return common.WrapError(err, "marking job expired")
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		job, err := s.GetJob(ctx, id)
		if err != nil {
			return err
		}
		return common.InvalidTransitionError(id, string(job.Status), string(constants.JobStatusExpired))
	}
	s.log.Info("store.job_expired", "job_id", id)
	return nil
}

func (s *sqlStore) ListExpired(ctx context.Context, now time.Time) ([]*AnalysisJob, error) {
	rows, err := s.query(ctx, `SELECT id FROM analysis_jobs
		WHERE status IN (?, ?) AND expires_at < ?`,
		string(constants.JobStatusAnalyzed), string(constants.JobStatusProcessing), now.UTC())
	if err != nil {
		return nil, common.WrapError(err, "listing expired jobs")
	}
	defer rows.Close()

	var jobs []*AnalysisJob
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, common.WrapError(err, "listing expired jobs")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, common.WrapError(err, "listing expired jobs")
	}
	for _, id := range ids {
		job, err := s.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (s *sqlStore) ListJobIDs(ctx context.Context) ([]string, error) {
	rows, err := s.query(ctx, `SELECT id FROM analysis_jobs`)
	if err != nil {
		return nil, common.WrapError(err, "listing job ids")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, common.WrapError(err, "listing job ids")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *sqlStore) DeleteJob(ctx context.Context, id string) error {
	_, err := s.exec(ctx, `DELETE FROM analysis_jobs WHERE id = ?`, id)
	return common.WrapError(err, "deleting job")
}

func (s *sqlStore) DeleteAllJobs(ctx context.Context) (int, error) {
	res, err := s.exec(ctx, `DELETE FROM analysis_jobs`)
	if err != nil {
		return 0, common.WrapError(err, "deleting all jobs")
	}
	n, _ := res.RowsAffected()
	s.log.Warn("store.all_jobs_deleted", "count", n)
	return int(n), nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
