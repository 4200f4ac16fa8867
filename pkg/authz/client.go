// Package authz is the gateway's client for the external policy service.
// It turns (bearer, workspaceId, serverId) into a concrete server transport
// descriptor, and resolves share tokens into restricted chat descriptors.
package authz

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/inspectd/mcp-gateway/pkg/errors"
	"github.com/inspectd/mcp-gateway/pkg/logger"
	"github.com/inspectd/mcp-gateway/pkg/networking"
)

// Transport identifies the wire protocol used to reach an MCP server.
type Transport string

// Supported transports
const (
	TransportStreamable Transport = "streamable"
	TransportSSE        Transport = "sse"
)

// ServerDescriptor is the opaque connection handle the policy service
// returns per (workspaceId, serverId).
type ServerDescriptor struct {
	ServerID  string
	Role      string
	Transport Transport
	URL       string
	Headers   map[string]string
	UseOAuth  bool
}

// Client calls the policy service. One instance is shared by all requests;
// the caller bearer travels per call, never on the client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxTries   uint
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the outbound HTTP client. Tests use this to
// target plaintext httptest servers.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithMaxTries overrides the retry budget for transient policy failures.
func WithMaxTries(n uint) Option {
	return func(cl *Client) { cl.maxTries = n }
}

// NewClient creates a policy service client rooted at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: networking.NewHttpClientBuilder().WithTimeout(10 * time.Second).Build(),
		maxTries:   3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type authorizeRequest struct {
	WorkspaceID string `json:"workspaceId"`
	ServerID    string `json:"serverId"`
}

type serverConfig struct {
	TransportType string            `json:"transportType"`
	URL           string            `json:"url,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
	UseOAuth      bool              `json:"useOAuth,omitempty"`
}

type authorizeResponse struct {
	Authorized   bool          `json:"authorized"`
	Role         string        `json:"role"`
	ServerConfig *serverConfig `json:"serverConfig"`
}

type policyError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Authorize asks the policy service whether the caller may use serverId and
// returns the transport descriptor on success.
func (c *Client) Authorize(ctx context.Context, bearer, workspaceID, serverID string) (*ServerDescriptor, error) {
	body, err := c.post(ctx, "/web/authorize", bearer, authorizeRequest{
		WorkspaceID: workspaceID,
		ServerID:    serverID,
	})
	if err != nil {
		return nil, err
	}

	var resp authorizeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.NewInternalError("malformed policy service response", err)
	}
	if !resp.Authorized || resp.ServerConfig == nil {
		return nil, errors.NewForbiddenError(fmt.Sprintf("access denied for server %s", serverID), nil)
	}

	descriptor, err := descriptorFromConfig(serverID, resp.Role, resp.ServerConfig)
	if err != nil {
		return nil, err
	}

	logger.Debugw("authorized server",
		"serverId", serverID,
		"transport", string(descriptor.Transport),
		"role", descriptor.Role,
		"useOAuth", descriptor.UseOAuth)
	return descriptor, nil
}

type resolveShareRequest struct {
	ShareToken string `json:"shareToken"`
}

type resolveShareResponse struct {
	WorkspaceID  string        `json:"workspaceId"`
	ServerID     string        `json:"serverId"`
	ServerName   string        `json:"serverName"`
	ServerConfig *serverConfig `json:"serverConfig"`
}

// SharedSession is the restricted single-server descriptor a share token
// resolves to.
type SharedSession struct {
	WorkspaceID string
	ServerName  string
	Descriptor  *ServerDescriptor
}

// ResolveShare exchanges a short-lived share token for a single-server chat
// descriptor.
func (c *Client) ResolveShare(ctx context.Context, bearer, shareToken string) (*SharedSession, error) {
	body, err := c.post(ctx, "/web/share/resolve", bearer, resolveShareRequest{ShareToken: shareToken})
	if err != nil {
		return nil, err
	}

	var resp resolveShareResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.NewInternalError("malformed policy service response", err)
	}
	if resp.ServerConfig == nil || resp.ServerID == "" {
		return nil, errors.NewNotFoundError("share token not found or expired", nil)
	}

	descriptor, err := descriptorFromConfig(resp.ServerID, "", resp.ServerConfig)
	if err != nil {
		return nil, err
	}
	return &SharedSession{
		WorkspaceID: resp.WorkspaceID,
		ServerName:  resp.ServerName,
		Descriptor:  descriptor,
	}, nil
}

func descriptorFromConfig(serverID, role string, cfg *serverConfig) (*ServerDescriptor, error) {
	transport, err := mapTransport(cfg.TransportType)
	if err != nil {
		return nil, err
	}
	if cfg.URL == "" {
		return nil, errors.NewInternalError("policy service returned a descriptor without a URL", nil)
	}
	return &ServerDescriptor{
		ServerID:  serverID,
		Role:      role,
		Transport: transport,
		URL:       cfg.URL,
		Headers:   cfg.Headers,
		UseOAuth:  cfg.UseOAuth,
	}, nil
}

func mapTransport(transportType string) (Transport, error) {
	switch strings.ToLower(transportType) {
	case "http", "streamable", "streamable-http", "http-streamable":
		return TransportStreamable, nil
	case "sse", "http-sse":
		return TransportSSE, nil
	case "stdio":
		return "", errors.NewFeatureNotSupportedError("hosted cannot spawn subprocesses", nil)
	default:
		return "", errors.NewFeatureNotSupportedError(
			fmt.Sprintf("unsupported transport type %q", transportType), nil)
	}
}

// post sends the payload with the caller bearer, retrying transient
// failures. Non-OK statuses from the policy service are surfaced verbatim
// as taxonomy errors and never retried.
func (c *Client) post(ctx context.Context, path, bearer string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.NewInternalError("encode policy request", err)
	}

	operation := func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
		if err != nil {
			return nil, backoff.Permanent(errors.NewInternalError("build policy request", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+bearer)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(errors.NewTimeoutError("authorization service timed out", err))
			}
			return nil, errors.NewServerUnreachableError("could not reach authorization service", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, errors.NewServerUnreachableError("could not read authorization response", err)
		}

		if resp.StatusCode >= 500 {
			return nil, errors.NewServerUnreachableError(
				fmt.Sprintf("authorization service returned %d", resp.StatusCode), nil)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, backoff.Permanent(policyErrorFrom(resp.StatusCode, body))
		}
		return body, nil
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 100 * time.Millisecond
	body, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(c.maxTries),
		backoff.WithNotify(func(err error, d time.Duration) {
			logger.Debugw("retrying policy service call", "path", path, "delay", d.String(), "error", err.Error())
		}))
	if err != nil {
		return nil, err
	}
	return body, nil
}

// policyErrorFrom maps a non-OK policy response to a typed error, keeping
// the service's own code and message when they parse.
func policyErrorFrom(status int, body []byte) error {
	var pe policyError
	if err := json.Unmarshal(body, &pe); err == nil && pe.Code != "" {
		return errors.NewError(pe.Code, pe.Message, nil)
	}
	switch status {
	case http.StatusUnauthorized:
		return errors.NewUnauthorizedError("authorization service rejected the token", nil)
	case http.StatusForbidden:
		return errors.NewForbiddenError("access denied", nil)
	case http.StatusNotFound:
		return errors.NewNotFoundError("not found", nil)
	default:
		return errors.NewValidationError(fmt.Sprintf("authorization service returned %d", status), nil)
	}
}
