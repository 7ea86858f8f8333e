// Package slack pushes case notifications to a rescuer channel via Slack
// incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/reliefnet/beacon/internal/triage"
)

const (
	maxSummaryLen = 3000
	httpTimeout   = 10 * time.Second
)

// Notifier sends cases to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
}

// New creates a new Slack notifier. If webhookURL is empty, Send is a no-op.
func New(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
	}
}

// Send posts a case to the configured Slack webhook.
// If no webhook URL is configured, it returns nil immediately.
func (n *Notifier) Send(ctx context.Context, c *triage.Case) error {
	if n.webhookURL == "" {
		return nil
	}

	msg := buildMessage(c)

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func buildMessage(c *triage.Case) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(c),
			{"type": "divider"},
			fieldsBlock(c),
			{"type": "divider"},
			summaryBlock(c),
			{"type": "divider"},
			contextBlock(c),
		},
	}
}

func headerBlock(c *triage.Case) map[string]any {
	emoji := urgencyEmoji(c)
	title := "New Case"
	switch {
	case c.Status == triage.StatusFailed:
		title = "Case Failed Processing"
	case c.Validation != nil && c.Validation.ManualReview:
		title = "Case Needs Manual Review"
	}
	text := fmt.Sprintf("%s %s: %s", emoji, title, eventType(c))

	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func fieldsBlock(c *triage.Case) map[string]any {
	urgency := "unknown"
	confidence := "-"
	if c.Analysis != nil {
		urgency = string(c.Analysis.Urgency)
		confidence = fmt.Sprintf("%.2f", c.Analysis.Confidence)
	}
	review := "no"
	if c.Validation != nil && c.Validation.ManualReview {
		review = "yes"
	}

	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Status:* %s", c.Status),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Urgency:* %s", urgency),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Event:* %s", eventType(c)),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Kind:* %s", c.Kind),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Confidence:* %s", confidence),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Manual review:* %s", review),
		},
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func summaryBlock(c *triage.Case) map[string]any {
	var text string
	switch {
	case c.Analysis != nil && c.Analysis.Summary != "":
		text = truncate(c.Analysis.Summary, maxSummaryLen)
	case len(c.ProcessingErrors) > 0:
		text = truncate(c.ProcessingErrors[len(c.ProcessingErrors)-1], maxSummaryLen)
	default:
		text = "_No summary available._"
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Summary*\n\n%s", text),
		},
	}
}

func contextBlock(c *triage.Case) map[string]any {
	ts := c.ProcessedAt
	if ts.IsZero() {
		ts = c.ReceivedAt
	}

	elements := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("beacon • case %s • %.5f,%.5f • %s",
				c.ID, c.Location.Lat, c.Location.Lon, ts.UTC().Format("2006-01-02 15:04 UTC")),
		},
	}

	return map[string]any{
		"type":     "context",
		"elements": elements,
	}
}

func urgencyEmoji(c *triage.Case) string {
	if c.Status == triage.StatusFailed {
		return "\U0001f534" // red circle
	}
	if c.Analysis == nil {
		return "⚪" // white circle
	}
	switch c.Analysis.Urgency {
	case triage.UrgencyCritical:
		return "\U0001f534" // red circle
	case triage.UrgencyHigh:
		return "\U0001f7e0" // orange circle
	case triage.UrgencyMedium:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

func eventType(c *triage.Case) string {
	if c.Analysis == nil || strings.TrimSpace(c.Analysis.EventType) == "" {
		return triage.EventTypeUnknown
	}
	return c.Analysis.EventType
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
