package store

import (
	"database/sql"
	"log/slog"

	_ "modernc.org/sqlite"

	"github.com/invoicator-app/invoicator/internal/common"
)

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, common.WrapError(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, common.WrapError(err, "sqlite: exec "+pragma)
		}
	}
	return &sqlStore{db: db, dialect: "sqlite", migration: sqliteMigration, log: logger}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS analysis_jobs (
	id                 TEXT PRIMARY KEY,
	filename           TEXT NOT NULL,
	file_ext           TEXT NOT NULL,
	page_count         INTEGER NOT NULL DEFAULT 1,
	status             TEXT NOT NULL,
	confidence_score   REAL NOT NULL DEFAULT 0,
	quality_class      TEXT NOT NULL DEFAULT '',
	handwritten        BOOLEAN NOT NULL DEFAULT 0,
	suggested_pipeline TEXT NOT NULL DEFAULT '',
	ocr_text           TEXT NOT NULL DEFAULT '',
	tokens_json        BLOB,
	spatial_grid       TEXT NOT NULL DEFAULT '',
	quality_json       BLOB,
	error_message      TEXT NOT NULL DEFAULT '',
	invoice_id         TEXT,
	other_document_id  TEXT,
	method             TEXT NOT NULL DEFAULT '',
	created_at         DATETIME NOT NULL,
	expires_at         DATETIME NOT NULL,
	completed_at       DATETIME,
	CHECK (expires_at > created_at)
);

CREATE TABLE IF NOT EXISTS invoices (
	id              TEXT PRIMARY KEY,
	job_id          TEXT NOT NULL,
	provider        TEXT NOT NULL DEFAULT '',
	invoice_number  TEXT NOT NULL DEFAULT '',
	invoice_date    TEXT NOT NULL DEFAULT '',
	currency_code   TEXT NOT NULL DEFAULT 'XXX',
	total_ht        REAL NOT NULL DEFAULT 0,
	total_ttc       REAL NOT NULL DEFAULT 0,
	vat_amount      REAL NOT NULL DEFAULT 0,
	line_items_json BLOB,
	method          TEXT NOT NULL DEFAULT '',
	needs_review    BOOLEAN NOT NULL DEFAULT 0,
	parse_error     TEXT NOT NULL DEFAULT '',
	archive_path    TEXT NOT NULL DEFAULT '',
	created_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS other_documents (
	id         TEXT PRIMARY KEY,
	job_id     TEXT NOT NULL,
	filename   TEXT NOT NULL DEFAULT '',
	raw_text   TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS credentials (
	provider       TEXT PRIMARY KEY,
	ciphertext     BLOB NOT NULL,
	key_version    INTEGER NOT NULL DEFAULT 1,
	source         TEXT NOT NULL DEFAULT 'manual',
	valid          BOOLEAN,
	last_validated DATETIME,
	created_at     DATETIME NOT NULL,
	updated_at     DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON analysis_jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_expires_at ON analysis_jobs(expires_at);
CREATE INDEX IF NOT EXISTS idx_invoices_job_id ON invoices(job_id);
CREATE INDEX IF NOT EXISTS idx_other_documents_job_id ON other_documents(job_id);
`
