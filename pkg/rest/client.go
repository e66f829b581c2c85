// Package rest provides an HTTP client for the jambonz call-management API.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the hosted jambonz API.
const DefaultBaseURL = "https://jambonz.cloud"

// Client is an HTTP client for the /v1/calls API.
type Client struct {
	baseURL    string
	apiKey     string
	accountSid string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithAccountSid records the account the client acts for.
func WithAccountSid(sid string) Option {
	return func(c *Client) { c.accountSid = sid }
}

// NewClient creates a new client. An empty baseURL selects DefaultBaseURL.
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AccountSid returns the configured account id.
func (c *Client) AccountSid() string { return c.accountSid }

// APIError is returned for any non-2xx response.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api request failed: %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// CreateCallRequest is the body of POST /v1/calls. Extra carries any
// additional fields the API accepts.
type CreateCallRequest struct {
	From           string         `json:"from"`
	To             any            `json:"to"`
	ApplicationSid string         `json:"application_sid,omitempty"`
	CallHook       any            `json:"call_hook,omitempty"`
	CallStatusHook any            `json:"call_status_hook,omitempty"`
	Tag            map[string]any `json:"tag,omitempty"`
	Extra          map[string]any `json:"-"`
}

// MarshalJSON merges Extra into the encoded object.
func (r CreateCallRequest) MarshalJSON() ([]byte, error) {
	type plain CreateCallRequest
	base, err := json.Marshal(plain(r))
	if err != nil || len(r.Extra) == 0 {
		return base, err
	}
	merged := make(map[string]any, len(r.Extra)+4)
	for k, v := range r.Extra {
		merged[k] = v
	}
	var fields map[string]any
	if err := json.Unmarshal(base, &fields); err != nil {
		return nil, err
	}
	for k, v := range fields {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// Call is the call resource as returned by the API. Fields not modelled
// here are kept in Raw.
type Call struct {
	Sid        string          `json:"sid"`
	CallSid    string          `json:"call_sid,omitempty"`
	CallStatus string          `json:"call_status,omitempty"`
	Direction  string          `json:"direction,omitempty"`
	From       string          `json:"from,omitempty"`
	To         string          `json:"to,omitempty"`
	Raw        json.RawMessage `json:"-"`
}

// CreateCall calls POST /v1/calls.
func (c *Client) CreateCall(ctx context.Context, req *CreateCallRequest) (*Call, error) {
	var call Call
	if err := c.do(ctx, http.MethodPost, "/v1/calls", req, &call); err != nil {
		return nil, err
	}
	return &call, nil
}

// UpdateCall calls PATCH /v1/calls/{sid} with an arbitrary update body,
// e.g. {"call_status":"completed"} or {"call_hook":"/new"}.
func (c *Client) UpdateCall(ctx context.Context, callSid string, update map[string]any) (*Call, error) {
	var call Call
	if err := c.do(ctx, http.MethodPatch, callPath(callSid), update, &call); err != nil {
		return nil, err
	}
	return &call, nil
}

// EndCall calls DELETE /v1/calls/{sid}.
func (c *Client) EndCall(ctx context.Context, callSid string) error {
	return c.do(ctx, http.MethodDelete, callPath(callSid), nil, nil)
}

// GetCall calls GET /v1/calls/{sid}.
func (c *Client) GetCall(ctx context.Context, callSid string) (*Call, error) {
	var call Call
	if err := c.do(ctx, http.MethodGet, callPath(callSid), nil, &call); err != nil {
		return nil, err
	}
	return &call, nil
}

func callPath(callSid string) string {
	return "/v1/calls/" + url.PathEscape(callSid)
}

func (c *Client) do(ctx context.Context, method, path string, in any, out *Call) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", path, err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to call %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	out.Raw = append(json.RawMessage(nil), respBody...)
	return nil
}
