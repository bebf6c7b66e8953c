// Package notify publishes finished run summaries to the channels
// operators watch. Channels are best-effort: a delivery failure never
// affects the run outcome, callers decide whether to log or abort.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ribera-group/coordina-cli/internal/model"
)

// Notifier receives finished run summaries.
type Notifier interface {
	RunFinished(ctx context.Context, summary *model.RunSummary) error
}

// Nop discards every notification.
type Nop struct{}

func (Nop) RunFinished(context.Context, *model.RunSummary) error { return nil }

// Webhook POSTs the run summary as JSON to a configured endpoint.
type Webhook struct {
	url    string
	client *http.Client
}

// WebhookOption configures a Webhook notifier.
type WebhookOption func(*Webhook)

// WithHTTPClient replaces the default 10s-timeout HTTP client.
func WithHTTPClient(c *http.Client) WebhookOption {
	return func(w *Webhook) { w.client = c }
}

func NewWebhook(url string, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Webhook) RunFinished(ctx context.Context, summary *model.RunSummary) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "notify: marshal run summary")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "notify: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "notify: webhook request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return eris.Errorf("notify: webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// PageCreator is the slice of the Notion client run publishing uses.
type PageCreator interface {
	CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error)
}

// Notion creates one page per finished run in an operations database.
type Notion struct {
	client     PageCreator
	databaseID string
}

func NewNotion(client PageCreator, databaseID string) *Notion {
	return &Notion{client: client, databaseID: databaseID}
}

func (n *Notion) RunFinished(ctx context.Context, summary *model.RunSummary) error {
	status := "Success"
	switch {
	case summary.Execution.DryRun:
		status = "Dry Run"
	case summary.Counts.Failed > 0:
		status = "Failed"
	}

	finished := notionapi.Date(summary.CreatedAt)
	if summary.Execution.FinishedAt != nil {
		finished = notionapi.Date(*summary.Execution.FinishedAt)
	}

	req := &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(n.databaseID),
		},
		Properties: notionapi.Properties{
			"Name": notionapi.TitleProperty{
				Type: notionapi.PropertyTypeTitle,
				Title: []notionapi.RichText{
					{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{
						Content: fmt.Sprintf("%s run %s", summary.Platform, summary.RunID),
					}},
				},
			},
			"Status": notionapi.StatusProperty{
				Status: notionapi.Status{Name: status},
			},
			"Plan": notionapi.RichTextProperty{
				Type: notionapi.PropertyTypeRichText,
				RichText: []notionapi.RichText{
					{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{
						Content: summary.Execution.PlanID,
					}},
				},
			},
			"Total":   notionapi.NumberProperty{Number: float64(summary.Counts.Total)},
			"Success": notionapi.NumberProperty{Number: float64(summary.Counts.Success)},
			"Failed":  notionapi.NumberProperty{Number: float64(summary.Counts.Failed)},
			"Skipped": notionapi.NumberProperty{Number: float64(summary.Counts.Skipped)},
			"Finished": notionapi.DateProperty{
				Date: &notionapi.DateObject{Start: &finished},
			},
		},
	}

	if _, err := n.client.CreatePage(ctx, req); err != nil {
		return eris.Wrapf(err, "notify: create run page for %s", summary.RunID)
	}
	return nil
}

// Multi fans a notification out to every channel. All channels are
// attempted even when earlier ones fail.
type Multi []Notifier

func (m Multi) RunFinished(ctx context.Context, summary *model.RunSummary) error {
	var failed []string
	for _, n := range m {
		if err := n.RunFinished(ctx, summary); err != nil {
			zap.L().Warn("notify: channel failed",
				zap.String("run_id", summary.RunID),
				zap.Error(err))
			failed = append(failed, err.Error())
		}
	}
	if len(failed) > 0 {
		return eris.Errorf("notify: %d of %d channels failed: %s",
			len(failed), len(m), strings.Join(failed, "; "))
	}
	return nil
}
