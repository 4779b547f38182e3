package proxy

import (
	"net/http"

	"github.com/google/uuid"
)

// clientRequestIDHeader correlates a request with Microsoft Graph service logs.
const clientRequestIDHeader = "Client-Request-Id"

// allowedHeaders defines the HTTP headers permitted to pass through to Microsoft Graph.
var allowedHeaders = map[string]bool{
	"Content-Type":     true,
	"Content-Length":   true,
	"Accept":           true,
	"Accept-Encoding":  true,
	"Accept-Language":  true,
	"Authorization":    true,
	"If-Match":         true,
	"If-None-Match":    true,
	"Prefer":           true,
	"Consistencylevel": true,

	clientRequestIDHeader: true,

	// W3C Trace Context for distributed tracing correlation.
	// Baggage is excluded, it carries application-level context rather than tracing data.
	"Traceparent": true,
	"Tracestate":  true,
}

// HeaderFilterTransport is an http.RoundTripper that forwards only allowed
// headers and tags every request with a client-request-id.
type HeaderFilterTransport struct {
	Base http.RoundTripper
}

// Compile-time check that HeaderFilterTransport implements http.RoundTripper.
var _ http.RoundTripper = (*HeaderFilterTransport)(nil)

// RoundTrip implements http.RoundTripper interface.
func (t *HeaderFilterTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	newReq := req.Clone(req.Context())

	// Client-side headers (cookies, user agents, proxy internals) never reach Graph
	originalHeaders := newReq.Header
	newReq.Header = make(http.Header)
	for key, values := range originalHeaders {
		if allowedHeaders[key] {
			newReq.Header[key] = values
		}
	}

	if newReq.Header.Get(clientRequestIDHeader) == "" {
		newReq.Header.Set(clientRequestIDHeader, uuid.NewString())
	}

	return base.RoundTrip(newReq)
}
