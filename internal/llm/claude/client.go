// Package claude implements the analysis Provider interface on the Anthropic
// API.
package claude

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/reliefnet/beacon/internal/analyze"
)

// Client calls the Anthropic Messages API for structured analysis.
type Client struct {
	client anthropic.Client
	model  string
}

// New creates a Claude client with the given API key and model name.
func New(apiKey, model string) *Client {
	return &Client{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// Complete sends a single system+user turn and returns the text completion.
// Credential faults surface as analyze.ErrUnauthorized so the pipeline can
// distinguish a misconfigured deployment from a transient upstream failure.
func (c *Client) Complete(ctx context.Context, req *analyze.Request) (*analyze.Response, error) {
	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(req.MaxTokens),
		System:    []anthropic.TextBlockParam{{Text: req.System}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	})
	if err != nil {
		var apierr *anthropic.Error
		if errors.As(err, &apierr) &&
			(apierr.StatusCode == http.StatusUnauthorized || apierr.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: %v", analyze.ErrUnauthorized, err)
		}
		return nil, fmt.Errorf("claude: %w", err)
	}

	return &analyze.Response{
		Text:         textContent(msg),
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}, nil
}

// textContent concatenates the text blocks of a response.
func textContent(msg *anthropic.Message) string {
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}
