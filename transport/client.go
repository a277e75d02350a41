// Package transport provides the default HTTP plumbing of the upload
// pipeline: an instrumented HTTP client and a stock request builder remote
// features can use instead of hand-rolling intake requests.
package transport

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/beaconlabs/beacon/api"
)

// defaultRequestTimeout bounds every upload request end to end.
const defaultRequestTimeout = 30 * time.Second

// Client is the default api.HTTPClient: net/http with a per-request timeout
// and optional OpenTelemetry instrumentation.
type Client struct {
	httpClient *http.Client
}

// ClientOption customizes the default client.
type ClientOption func(*clientOptions)

type clientOptions struct {
	timeout time.Duration
	tracing bool
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(o *clientOptions) { o.timeout = d }
}

// WithTracing wraps the transport with otelhttp so upload requests appear in
// the host's traces.
func WithTracing() ClientOption {
	return func(o *clientOptions) { o.tracing = true }
}

// NewClient builds the default upload HTTP client.
func NewClient(opts ...ClientOption) *Client {
	o := clientOptions{timeout: defaultRequestTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	var rt http.RoundTripper = http.DefaultTransport
	if o.tracing {
		rt = otelhttp.NewTransport(rt)
	}
	return &Client{
		httpClient: &http.Client{
			Timeout:   o.timeout,
			Transport: rt,
		},
	}
}

// Send submits the request and returns the response status. The body is
// drained and discarded so connections can be reused; transport failures are
// returned as errors with status 0.
func (c *Client) Send(ctx context.Context, req api.HTTPRequest) (int, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return 0, err
	}
	for k, vs := range req.Headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}
