package notify

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/xenking/foodorder/internal/domain/notify"
	"github.com/xenking/foodorder/pkg/httpmiddleware"
	"github.com/xenking/foodorder/pkg/metrics"
)

// APIKeyHeader carries the service API key on internal requests.
const APIKeyHeader = "X-API-Key"

// PublishPath is the internal endpoint served next to the Hub.
const PublishPath = "/internal/notify"

var _ notify.Sender = (*Client)(nil)

// Client publishes messages to a remote Hub over HTTP.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
	metrics  *metrics.Metrics
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// BaseURL of the api server, e.g. http://api:8080.
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// NewClient returns a Client with an instrumented transport.
func NewClient(cfg ClientConfig, tp trace.TracerProvider, m *metrics.Metrics) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	return &Client{
		endpoint: strings.TrimRight(cfg.BaseURL, "/") + PublishPath,
		apiKey:   cfg.APIKey,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport, otelhttp.WithTracerProvider(tp)),
		},
		metrics: m,
	}
}

// Send posts msg for branchID.
func (c *Client) Send(ctx context.Context, branchID int64, msg notify.Message) error {
	var e jx.Encoder
	notify.Envelope{BranchID: branchID, Message: msg}.Encode(&e)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(e.Bytes()))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(APIKeyHeader, c.apiKey)
	if id := httpmiddleware.RequestIDFromContext(ctx); id != "" {
		req.Header.Set(httpmiddleware.HeaderRequestID, id)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.Notification("failed")
		return errors.Wrap(err, "post notification")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.metrics.Notification("failed")
		return errors.Errorf("post notification: status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	c.metrics.Notification("sent")
	return nil
}
