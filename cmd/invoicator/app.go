package main

import (
	"context"
	"fmt"

	"github.com/invoicator-app/invoicator/internal/docstore"
	"github.com/invoicator-app/invoicator/internal/export"
	"github.com/invoicator-app/invoicator/internal/extract/cloud"
	"github.com/invoicator-app/invoicator/internal/extract/local"
	"github.com/invoicator-app/invoicator/internal/jobfiles"
	"github.com/invoicator-app/invoicator/internal/ocr"
	"github.com/invoicator-app/invoicator/internal/pipeline"
	"github.com/invoicator-app/invoicator/internal/quality"
	"github.com/invoicator-app/invoicator/internal/store"
	"github.com/invoicator-app/invoicator/internal/vault"
)

// app wires every component once; commands pick what they need.
type app struct {
	store     store.Store
	vault     *vault.Vault
	files     *jobfiles.Manager
	sweeper   *jobfiles.Sweeper
	processor *pipeline.Processor
	export    *export.Service
}

func buildApp(ctx context.Context) (*app, error) {
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrating store: %w", err)
	}

	v, err := vault.Open(vault.Config{
		KeyDir:      cfg.Paths.ConfigDir,
		RotationAge: cfg.Vault.KeyRotationAge,
	}, st, cloud.KeyValidator(cfg.Cloud.Model), logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("opening vault: %w", err)
	}

	files := jobfiles.NewManager(cfg.Paths.TempDir, logger)
	ocrExtractor := ocr.NewExtractor(ocr.Config{
		Tesseract:     cfg.OCR.TesseractBin,
		Pdftoppm:      cfg.OCR.PdftoppmBin,
		Languages:     cfg.OCR.Languages,
		PSM:           cfg.OCR.PageSegMode,
		DPI:           cfg.OCR.DPI,
		MinConfidence: cfg.OCR.MinConfidence,
		TessdataDir:   cfg.OCR.TessdataDir,
	}, logger)
	analyzer := quality.NewAnalyzer(quality.Config{
		ConfidenceThreshold: cfg.Quality.ConfidenceThreshold,
		BlurThreshold:       cfg.Quality.BlurThreshold,
		ContrastThreshold:   cfg.Quality.ContrastThreshold,
	}, logger)
	cloudEngine := cloud.NewEngine(cloud.Config{
		Model:         cfg.Cloud.Model,
		MaxTokens:     cfg.Cloud.MaxTokens,
		Timeout:       cfg.Cloud.Timeout,
		MaxImageEdge:  cfg.Cloud.MaxImageEdge,
		MaxOCRContext: cfg.Cloud.MaxOCRContext,
	}, v, logger)

	processor := pipeline.NewProcessor(
		logger,
		ocrExtractor,
		analyzer,
		st,
		files,
		docstore.NewArchive(cfg.Paths.DocumentsDir, logger),
		local.NewEngine(logger),
		cloudEngine,
		v,
		cfg.Jobs.TTL,
	)

	return &app{
		store:     st,
		vault:     v,
		files:     files,
		sweeper:   jobfiles.NewSweeper(files, st),
		processor: processor,
		export:    export.NewService(st, logger),
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		logger.Warn("store.close_failed", "error", err)
	}
}
