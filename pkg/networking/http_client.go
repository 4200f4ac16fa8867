// Package networking builds the outbound HTTP clients the gateway uses to
// talk to the policy service, MCP servers, and OAuth endpoints.
package networking

import (
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// HttpTimeout is the default timeout for outgoing HTTP requests
const HttpTimeout = 30 * time.Second

// ValidatingTransport is for validating URLs prior to request
type ValidatingTransport struct {
	Transport http.RoundTripper
}

// RoundTrip validates the request URL prior to forwarding
func (t *ValidatingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Check for valid URL specification
	parsedUrl, err := url.Parse(req.URL.String())
	if err != nil {
		return nil, fmt.Errorf("the supplied URL %s is malformed", req.URL.String())
	}

	// Check for HTTPS scheme
	if parsedUrl.Scheme != "https" {
		return nil, fmt.Errorf("the supplied URL %s is not HTTPS scheme", req.URL.String())
	}

	return t.Transport.RoundTrip(req)
}

// bearerTransport adds Bearer token authentication to HTTP requests
type bearerTransport struct {
	transport http.RoundTripper
	token     string
}

// RoundTrip adds the Authorization header and forwards the request
func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone the request to avoid modifying the original
	newReq := req.Clone(req.Context())
	newReq.Header.Set("Authorization", "Bearer "+t.token)

	return t.transport.RoundTrip(newReq)
}

// HttpClientBuilder provides a fluent interface for building HTTP clients
type HttpClientBuilder struct {
	clientTimeout         time.Duration
	tlsHandshakeTimeout   time.Duration
	responseHeaderTimeout time.Duration
	bearerToken           string
	allowPlaintext        bool
}

// NewHttpClientBuilder returns a new HttpClientBuilder
func NewHttpClientBuilder() *HttpClientBuilder {
	return &HttpClientBuilder{
		clientTimeout:         HttpTimeout,
		tlsHandshakeTimeout:   10 * time.Second,
		responseHeaderTimeout: 10 * time.Second,
	}
}

// WithTimeout sets the overall client timeout
func (b *HttpClientBuilder) WithTimeout(d time.Duration) *HttpClientBuilder {
	b.clientTimeout = d
	return b
}

// WithBearerToken attaches a bearer token to every request
func (b *HttpClientBuilder) WithBearerToken(token string) *HttpClientBuilder {
	b.bearerToken = token
	return b
}

// WithPlaintextHTTP allows http:// targets. Only tests and local development
// use this; hosted traffic is HTTPS-only.
func (b *HttpClientBuilder) WithPlaintextHTTP(allow bool) *HttpClientBuilder {
	b.allowPlaintext = allow
	return b
}

// Build creates the configured HTTP client
func (b *HttpClientBuilder) Build() *http.Client {
	transport := &http.Transport{
		TLSHandshakeTimeout:   b.tlsHandshakeTimeout,
		ResponseHeaderTimeout: b.responseHeaderTimeout,
	}

	var clientTransport http.RoundTripper = transport
	if !b.allowPlaintext {
		clientTransport = &ValidatingTransport{Transport: clientTransport}
	}

	if b.bearerToken != "" {
		clientTransport = &bearerTransport{
			transport: clientTransport,
			token:     b.bearerToken,
		}
	}

	return &http.Client{
		Transport: clientTransport,
		Timeout:   b.clientTimeout,
	}
}
