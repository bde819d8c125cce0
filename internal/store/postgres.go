package store

import (
	"database/sql"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/invoicator-app/invoicator/internal/common"
)

// NewPostgres opens a Postgres database through the pgx stdlib driver.
func NewPostgres(dsn string, maxConns int, connLifetime time.Duration, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, common.WrapError(err, "postgres: open")
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
	}
	if connLifetime > 0 {
		db.SetConnMaxLifetime(connLifetime)
	}
	return &sqlStore{db: db, dialect: "postgres", migration: postgresMigration, log: logger}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS analysis_jobs (
	id                 TEXT PRIMARY KEY,
	filename           TEXT NOT NULL,
	file_ext           TEXT NOT NULL,
	page_count         INTEGER NOT NULL DEFAULT 1,
	status             TEXT NOT NULL,
	confidence_score   DOUBLE PRECISION NOT NULL DEFAULT 0,
	quality_class      TEXT NOT NULL DEFAULT '',
	handwritten        BOOLEAN NOT NULL DEFAULT FALSE,
	suggested_pipeline TEXT NOT NULL DEFAULT '',
	ocr_text           TEXT NOT NULL DEFAULT '',
	tokens_json        BYTEA,
	spatial_grid       TEXT NOT NULL DEFAULT '',
	quality_json       BYTEA,
	error_message      TEXT NOT NULL DEFAULT '',
	invoice_id         TEXT,
	other_document_id  TEXT,
	method             TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMPTZ NOT NULL,
	expires_at         TIMESTAMPTZ NOT NULL,
	completed_at       TIMESTAMPTZ,
	CHECK (expires_at > created_at)
);

CREATE TABLE IF NOT EXISTS invoices (
	id              TEXT PRIMARY KEY,
	job_id          TEXT NOT NULL,
	provider        TEXT NOT NULL DEFAULT '',
	invoice_number  TEXT NOT NULL DEFAULT '',
	invoice_date    TEXT NOT NULL DEFAULT '',
	currency_code   TEXT NOT NULL DEFAULT 'XXX',
	total_ht        DOUBLE PRECISION NOT NULL DEFAULT 0,
	total_ttc       DOUBLE PRECISION NOT NULL DEFAULT 0,
	vat_amount      DOUBLE PRECISION NOT NULL DEFAULT 0,
	line_items_json BYTEA,
	method          TEXT NOT NULL DEFAULT '',
	needs_review    BOOLEAN NOT NULL DEFAULT FALSE,
	parse_error     TEXT NOT NULL DEFAULT '',
	archive_path    TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS other_documents (
	id         TEXT PRIMARY KEY,
	job_id     TEXT NOT NULL,
	filename   TEXT NOT NULL DEFAULT '',
	raw_text   TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS credentials (
	provider       TEXT PRIMARY KEY,
	ciphertext     BYTEA NOT NULL,
	key_version    INTEGER NOT NULL DEFAULT 1,
	source         TEXT NOT NULL DEFAULT 'manual',
	valid          BOOLEAN,
	last_validated TIMESTAMPTZ,
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON analysis_jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_expires_at ON analysis_jobs(expires_at);
CREATE INDEX IF NOT EXISTS idx_invoices_job_id ON invoices(job_id);
CREATE INDEX IF NOT EXISTS idx_other_documents_job_id ON other_documents(job_id);
`
