package cloud

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/invoicator-app/invoicator/constants"
	"github.com/invoicator-app/invoicator/internal/common"
	"github.com/invoicator-app/invoicator/internal/extract"
)

type Config struct {
	Model     string
	MaxTokens int
	Timeout   time.Duration
	// MaxImageEdge caps the longer page dimension before upload.
	MaxImageEdge int
	// MaxOCRContext caps the OCR excerpt embedded in the prompt.
	MaxOCRContext int
}

// KeySource supplies the API key at call time, so a key stored or rotated
// after startup is picked up without restarting.
type KeySource interface {
	AnthropicKey(ctx context.Context) (string, error)
}

type Engine struct {
	cfg       Config
	keys      KeySource
	newClient func(apiKey string) Client
	logger    *slog.Logger
}

func NewEngine(cfg Config, keys KeySource, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-20250514"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxImageEdge <= 0 {
		cfg.MaxImageEdge = 2048
	}
	if cfg.MaxOCRContext <= 0 {
		cfg.MaxOCRContext = 1500
	}
	return &Engine{cfg: cfg, keys: keys, newClient: NewClient, logger: logger}
}

// WithClientFactory swaps the SDK client constructor; used by tests.
func (e *Engine) WithClientFactory(f func(apiKey string) Client) *Engine {
	e.newClient = f
	return e
}

func (e *Engine) Method() constants.ExtractionMethod {
	return constants.MethodCloud
}

func (e *Engine) Extract(ctx context.Context, in extract.PageInput) (extract.Document, error) {
	key, err := e.keys.AnthropicKey(ctx)
	if err != nil {
		return extract.Document{}, err
	}
	if key == "" {
		return extract.Document{}, fmt.Errorf("%w: no anthropic API key configured", common.ErrCredentialMissing)
	}

	encoded, err := encodePageImage(in.ImagePath, e.cfg.MaxImageEdge)
	if err != nil {
		return extract.Document{}, fmt.Errorf("preparing page image: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	start := time.Now()
	raw, err := e.newClient(key).CreateVisionMessage(ctx, VisionRequest{
		Model:     e.cfg.Model,
		MaxTokens: int64(e.cfg.MaxTokens),
		Prompt:    buildPrompt(in, e.cfg.MaxOCRContext),
		PNGBase64: encoded,
	})
	if err != nil {
		return extract.Document{}, err
	}

	doc := parseResponse(raw, e.logger)
	e.logger.Info("extract.cloud_done",
		"model", e.cfg.Model,
		"duration_ms", time.Since(start).Milliseconds(),
		"kind", doc.Kind,
	)
	return doc, nil
}
