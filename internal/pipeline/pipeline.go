// Package pipeline coordinates the two-step flow: analyze grades an upload
// and parks it as a job, process runs the chosen extraction engine over it.
package pipeline

import (
	"log/slog"
	"time"

	"github.com/invoicator-app/invoicator/internal/docstore"
	"github.com/invoicator-app/invoicator/internal/extract"
	"github.com/invoicator-app/invoicator/internal/jobfiles"
	"github.com/invoicator-app/invoicator/internal/ocr"
	"github.com/invoicator-app/invoicator/internal/quality"
	"github.com/invoicator-app/invoicator/internal/store"
	"github.com/invoicator-app/invoicator/internal/vault"
)

type Processor struct {
	logger  *slog.Logger
	ocr     *ocr.Extractor
	quality *quality.Analyzer
	store   store.Store
	files   *jobfiles.Manager
	archive *docstore.Archive
	local   extract.Engine
	cloud   extract.Engine
	vault   *vault.Vault
	ttl     time.Duration
}

func NewProcessor(
	logger *slog.Logger,
	ocrExtractor *ocr.Extractor,
	analyzer *quality.Analyzer,
	st store.Store,
	files *jobfiles.Manager,
	archive *docstore.Archive,
	localEngine extract.Engine,
	cloudEngine extract.Engine,
	v *vault.Vault,
	ttl time.Duration,
) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Processor{
		logger:  logger,
		ocr:     ocrExtractor,
		quality: analyzer,
		store:   st,
		files:   files,
		archive: archive,
		local:   localEngine,
		cloud:   cloudEngine,
		vault:   v,
		ttl:     ttl,
	}
}
