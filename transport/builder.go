package transport

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"github.com/beaconlabs/beacon/api"
)

// compressThreshold is the body size above which the builder gzips the
// payload. Small payloads are not worth the CPU on device.
const compressThreshold = 1 << 10

// URLRequestBuilder is a stock api.RequestBuilder: events joined with
// newlines, intake headers derived from the context, gzip above a size
// threshold. Features with bespoke wire formats bring their own builder;
// everything else uses this one.
type URLRequestBuilder struct {
	url         string
	contentType string
	compress    bool
}

// BuilderOption customizes a URLRequestBuilder.
type BuilderOption func(*URLRequestBuilder)

// WithContentType overrides the Content-Type header (default
// application/json).
func WithContentType(ct string) BuilderOption {
	return func(b *URLRequestBuilder) { b.contentType = ct }
}

// WithoutCompression disables gzip regardless of payload size.
func WithoutCompression() BuilderOption {
	return func(b *URLRequestBuilder) { b.compress = false }
}

// NewURLRequestBuilder builds requests against the given intake URL.
func NewURLRequestBuilder(intakeURL string, opts ...BuilderOption) *URLRequestBuilder {
	b := &URLRequestBuilder{
		url:         intakeURL,
		contentType: "application/json",
		compress:    true,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build joins the batch events with newlines and materializes the POST
// request. Each call sets a fresh X-Request-Id, so a retried batch, which is
// rebuilt for every attempt, is sent under a new ID each time.
func (b *URLRequestBuilder) Build(ctx api.Context, events [][]byte) (api.HTTPRequest, error) {
	if b.url == "" {
		return api.HTTPRequest{}, fmt.Errorf("request builder: intake URL not configured")
	}

	body := bytes.Join(events, []byte("\n"))
	headers := http.Header{}
	headers.Set("Content-Type", b.contentType)
	headers.Set("X-Api-Key", ctx.ClientToken)
	headers.Set("X-Request-Id", uuid.NewString())
	headers.Set("User-Agent", userAgent(ctx))

	if b.compress && len(body) > compressThreshold {
		compressed, err := gzipBody(body)
		if err != nil {
			return api.HTTPRequest{}, fmt.Errorf("compress payload: %w", err)
		}
		body = compressed
		headers.Set("Content-Encoding", "gzip")
	}

	return api.HTTPRequest{
		Method:  http.MethodPost,
		URL:     b.url,
		Headers: headers,
		Body:    body,
	}, nil
}

func gzipBody(body []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(body); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// userAgent renders e.g. "beacon/1.4.0 (ios 17.2; source:ios)".
func userAgent(ctx api.Context) string {
	var sb strings.Builder
	sb.WriteString("beacon/")
	if ctx.SDKVersion != "" {
		sb.WriteString(ctx.SDKVersion)
	} else {
		sb.WriteString("dev")
	}
	if ctx.Device.OSName != "" || ctx.Source != "" {
		sb.WriteString(" (")
		if ctx.Device.OSName != "" {
			sb.WriteString(ctx.Device.OSName)
			if ctx.Device.OSVersion != "" {
				sb.WriteString(" ")
				sb.WriteString(ctx.Device.OSVersion)
			}
		}
		if ctx.Source != "" {
			if ctx.Device.OSName != "" {
				sb.WriteString("; ")
			}
			sb.WriteString("source:")
			sb.WriteString(ctx.Source)
		}
		sb.WriteString(")")
	}
	return sb.String()
}
