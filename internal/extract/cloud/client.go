// Package cloud extracts invoice fields by sending the page image to the
// Claude vision API along with the OCR text as layout context.
package cloud

import (
	"context"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/invoicator-app/invoicator/internal/common"
)

// Client is the narrow slice of the Anthropic API the engine needs.
type Client interface {
	CreateVisionMessage(ctx context.Context, req VisionRequest) (string, error)
}

// VisionRequest carries one page image plus the instruction prompt.
type VisionRequest struct {
	Model     string
	MaxTokens int64
	Prompt    string
	// PNGBase64 is the standard-base64 encoding of the (downscaled) page.
	PNGBase64 string
}

// sdkClient implements Client using the official anthropic-sdk-go.
type sdkClient struct {
	client sdk.Client
}

// NewClient creates an Anthropic client backed by the SDK.
func NewClient(apiKey string) Client {
	return &sdkClient{
		client: sdk.NewClient(
			option.WithAPIKey(apiKey),
		),
	}
}

func (c *sdkClient) CreateVisionMessage(ctx context.Context, req VisionRequest) (string, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: req.MaxTokens,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(
				sdk.NewImageBlockBase64("image/png", req.PNGBase64),
				sdk.NewTextBlock(req.Prompt),
			),
		},
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", classifyAPIError(err)
	}

	for _, block := range msg.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("%w: response carried no text content", common.ErrExtractionUnavailable)
}

// classifyAPIError maps authentication failures to the credential error so
// the orchestrator can flag the stored key, and everything else to the
// transient unavailability error.
func classifyAPIError(err error) error {
	var apierr *sdk.Error
	if errors.As(err, &apierr) {
		if apierr.StatusCode == 401 || apierr.StatusCode == 403 {
			return fmt.Errorf("%w: %v", common.ErrCredentialInvalid, err)
		}
	}
	return fmt.Errorf("%w: %v", common.ErrExtractionUnavailable, err)
}
