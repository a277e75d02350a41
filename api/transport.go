package api

import (
	"context"
	"net/http"
)

// HTTPRequest is one upload request, fully materialized by a RequestBuilder.
type HTTPRequest struct {
	Method  string
	URL     string
	Headers http.Header
	Body    []byte
}

// HTTPClient submits upload requests. The per-request timeout is enforced by
// the client. Implementations return the HTTP status code when a response was
// received, or a non-nil error for transport-level failures (no route, DNS,
// timeout); both are never set at once.
type HTTPClient interface {
	Send(ctx context.Context, req HTTPRequest) (status int, err error)
}

// RequestBuilder turns the events of one batch plus the current context into
// an HTTP request. A build error is unrecoverable for the batch: the batch is
// deleted and telemetry emitted.
type RequestBuilder interface {
	Build(ctx Context, events [][]byte) (HTTPRequest, error)
}

// RequestBuilderFunc adapts a function to the RequestBuilder interface.
type RequestBuilderFunc func(ctx Context, events [][]byte) (HTTPRequest, error)

func (f RequestBuilderFunc) Build(ctx Context, events [][]byte) (HTTPRequest, error) {
	return f(ctx, events)
}
