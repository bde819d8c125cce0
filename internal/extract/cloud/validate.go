package cloud

import (
	"context"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// KeyValidator returns a vault-compatible validator that makes the cheapest
// possible messages call. Authentication failures come back as the
// credential-invalid sentinel; anything else (rate limits, outages) as the
// transient one, which the vault treats as presumed valid.
func KeyValidator(model string) func(ctx context.Context, apiKey string) error {
	return func(ctx context.Context, apiKey string) error {
		client := sdk.NewClient(option.WithAPIKey(apiKey))
		_, err := client.Messages.New(ctx, sdk.MessageNewParams{
			Model:     sdk.Model(model),
			MaxTokens: 1,
			Messages: []sdk.MessageParam{
				sdk.NewUserMessage(sdk.NewTextBlock("ping")),
			},
		})
		if err != nil {
			return classifyAPIError(err)
		}
		return nil
	}
}
