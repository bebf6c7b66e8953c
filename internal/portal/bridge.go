package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/ribera-group/coordina-cli/internal/resilience"
)

// Default base URL of the local browser bridge service.
const defaultBridgeURL = "http://127.0.0.1:8377"

// APIError is returned when the bridge responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("portal: bridge HTTP %d: %s", e.StatusCode, e.Body)
}

// BridgeOption configures the bridge client.
type BridgeOption func(*Bridge)

// WithBridgeURL overrides the default bridge base URL.
func WithBridgeURL(url string) BridgeOption {
	return func(b *Bridge) {
		b.baseURL = url
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) BridgeOption {
	return func(b *Bridge) {
		b.http = hc
	}
}

// WithBreaker routes every bridge call through a circuit breaker. When
// the bridge process is down, the breaker fails calls fast instead of
// burning the full HTTP timeout on each one.
func WithBreaker(br *resilience.Breaker) BridgeOption {
	return func(b *Bridge) {
		b.breaker = br
	}
}

// Bridge implements GridClient and Uploader against the browser bridge,
// the local service that drives the platform UI and exposes the scraped
// grid and upload actions over plain HTTP.
type Bridge struct {
	baseURL string
	http    *http.Client
	breaker *resilience.Breaker
}

// NewBridge creates a bridge client.
func NewBridge(opts ...BridgeOption) *Bridge {
	b := &Bridge{
		baseURL: defaultBridgeURL,
		http: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type gridSearchRequest struct {
	GridQuery
	Page int `json:"page"`
}

// FetchPage scrapes one page of the pending-documents grid.
func (b *Bridge) FetchPage(ctx context.Context, q GridQuery, page int) (*GridPage, error) {
	var resp GridPage
	if err := b.post(ctx, "/grid/search", gridSearchRequest{GridQuery: q, Page: page}, &resp); err != nil {
		return nil, eris.Wrapf(err, "portal: fetch grid page %d", page)
	}
	return &resp, nil
}

// Upload submits one document against a pending obligation.
func (b *Bridge) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	var resp UploadResult
	if err := b.post(ctx, "/upload", req, &resp); err != nil {
		return nil, eris.Wrapf(err, "portal: upload doc %s", req.DocID)
	}
	return &resp, nil
}

func (b *Bridge) post(ctx context.Context, path string, body any, out any) error {
	if b.breaker == nil {
		return b.send(ctx, path, body, out)
	}
	return b.breaker.Execute(ctx, func(ctx context.Context) error {
		return b.send(ctx, path, body, out)
	})
}

func (b *Bridge) send(ctx context.Context, path string, body any, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return eris.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")

	return b.do(req, out)
}

func (b *Bridge) do(req *http.Request, out any) error {
	resp, err := b.http.Do(req)
	if err != nil {
		return resilience.Transient(eris.Wrap(err, "execute request"))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return eris.Wrap(err, "read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(data)}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return resilience.Transient(apiErr)
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrap(err, "decode response")
	}
	return nil
}
