// Package ocr runs Tesseract over scanned invoice pages and exposes the
// recognized words with their positions, so downstream extraction can reason
// about page layout instead of a flat text blob.
package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"
)

type Config struct {
	Tesseract string // binary name or absolute path; if empty -> "tesseract"
	Pdftoppm  string // binary name or absolute path; if empty -> "pdftoppm"

	Languages string // default "fra+eng"
	PSM       int    // page segmentation mode, default 6 (uniform block)
	DPI       int    // rasterization DPI for PDFs, default 300
	MaxPages  int    // 0 = no limit

	// Words below MinConfidence are dropped from the token list but still
	// counted in the aggregate statistics.
	MinConfidence float64 // default 30

	TessdataDir string
}

// Token is one recognized word with its bounding box normalized to [0,1]
// of the page dimensions, rounded to 3 decimals.
type Token struct {
	Text       string  `json:"text"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	W          float64 `json:"w"`
	H          float64 `json:"h"`
	Confidence float64 `json:"confidence"` // 0-100 as reported by Tesseract
}

// Aggregate summarizes recognition quality over all words on a page,
// including the low-confidence ones dropped from the token list.
type Aggregate struct {
	AverageConfidence  float64 `json:"average_confidence"` // 0-100
	TokenCount         int     `json:"word_count"`
	LowConfidenceRatio float64 `json:"low_conf_ratio"`
	IsLowQuality       bool    `json:"is_low_quality"`
}

// PageResult is the spatial OCR output for one page.
type PageResult struct {
	Text        string
	Tokens      []Token
	Aggregate   Aggregate
	SpatialGrid string
	Duration    time.Duration
}

type Extractor struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

func NewExtractor(cfg Config, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.Languages == "" {
		cfg.Languages = "fra+eng"
	}
	if cfg.PSM <= 0 {
		cfg.PSM = 6
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = 30
	}
	return &Extractor{cfg: cfg, runner: execRunner{}, logger: logger}
}

// WithRunner swaps the command runner; used by tests.
func (e *Extractor) WithRunner(r Runner) *Extractor {
	e.runner = r
	return e
}

// RecognizePage runs Tesseract twice over one page image: TSV mode for the
// positioned tokens and plain mode for the readable full text.
func (e *Extractor) RecognizePage(ctx context.Context, path string) (PageResult, error) {
	start := time.Now()

	tokens, agg, err := e.tesseractTSV(ctx, path)
	if err != nil {
		return PageResult{}, err
	}

	text, err := e.tesseractText(ctx, path)
	if err != nil {
		return PageResult{}, err
	}

	res := PageResult{
		Text:        Normalize(text),
		Tokens:      tokens,
		Aggregate:   agg,
		SpatialGrid: BuildSpatialGrid(tokens),
		Duration:    time.Since(start),
	}
	e.logger.Debug("ocr.page_recognized",
		"path", path,
		"tokens", agg.TokenCount,
		"avg_confidence", agg.AverageConfidence,
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

func (e *Extractor) baseArgs(path string) []string {
	args := []string{path, "stdout", "-l", e.cfg.Languages, "--psm", strconv.Itoa(e.cfg.PSM)}
	if e.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", e.cfg.TessdataDir)
	}
	return args
}

func (e *Extractor) tesseractText(ctx context.Context, path string) (string, error) {
	out, _, err := e.runner.Run(ctx, e.cfg.Tesseract, e.baseArgs(path)...)
	if err != nil {
		return "", fmt.Errorf("tesseract: %w", err)
	}
	return string(out), nil
}
