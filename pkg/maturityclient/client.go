// Package maturityclient keeps the maturity state of one logged-in user on a
// client device: it hydrates from the backend, records verified actions,
// persists a snapshot locally and answers gating questions offline.
package maturityclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/promorang/maturity/pkg/maturity"
)

const (
	statePath  = "/api/maturity/state"
	actionPath = "/api/maturity/action"
)

var (
	// ErrNetworkFailure means the request did not complete. Cached state is kept.
	ErrNetworkFailure = errors.New("maturityclient: network failure")
	// ErrInvalidPayload means the server answered with something unusable.
	ErrInvalidPayload = errors.New("maturityclient: invalid server payload")
)

// RemoteState is the server view of a user's maturity. Pointer fields are nil
// when the server omitted them.
type RemoteState struct {
	MaturityState        *int                              `json:"maturity_state"`
	VerifiedActionsCount *int                              `json:"verified_actions_count"`
	Visibility           map[maturity.Feature]maturity.Mode `json:"visibility"`
	Source               maturity.Source                   `json:"source"`
	Pending              bool                              `json:"pending"`
}

// ActionRequest is the body posted when the user completes a verified action.
type ActionRequest struct {
	ActionType maturity.Action  `json:"action_type"`
	Metadata   json.RawMessage  `json:"metadata,omitempty"`
	Surface    maturity.Surface `json:"surface"`
}

// API is the backend contract the Session depends on.
type API interface {
	FetchState(ctx context.Context, token string) (*RemoteState, error)
	PostAction(ctx context.Context, token string, req ActionRequest) (*RemoteState, error)
}

type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
	// Dial overrides the dialer, mostly for in-memory listeners in tests.
	Dial fasthttp.DialFunc
}

// Client talks to the maturity endpoints over fasthttp.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *fasthttp.Client
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		timeout: cfg.Timeout,
		http: &fasthttp.Client{
			Name:                "promorang-maturity-client",
			Dial:                cfg.Dial,
			ReadTimeout:         cfg.Timeout,
			WriteTimeout:        cfg.Timeout,
			MaxIdleConnDuration: time.Minute,
		},
	}
}

func (c *Client) FetchState(ctx context.Context, token string) (*RemoteState, error) {
	return c.do(ctx, fasthttp.MethodGet, statePath, token, nil)
}

func (c *Client) PostAction(ctx context.Context, token string, req ActionRequest) (*RemoteState, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, fasthttp.MethodPost, actionPath, token, body)
}

type envelope struct {
	Status string          `json:"status"`
	Code   string          `json:"code"`
	Data   json.RawMessage `json:"data"`
	Error  json.RawMessage `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path, token string, body []byte) (*RemoteState, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.baseURL + path)
	req.Header.SetMethod(method)
	req.Header.Set(fasthttp.HeaderAccept, "application/json")
	if token != "" {
		req.Header.Set(fasthttp.HeaderAuthorization, "Bearer "+token)
	}
	if body != nil {
		req.Header.SetContentType("application/json")
		req.SetBody(body)
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNetworkFailure, err)
	}
	if err := c.http.DoDeadline(req, resp, deadline); err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrNetworkFailure, method, path, err)
	}

	status := resp.StatusCode()
	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		if status >= fasthttp.StatusInternalServerError {
			return nil, fmt.Errorf("%w: %s %s: status %d", ErrNetworkFailure, method, path, status)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	switch {
	case status >= fasthttp.StatusInternalServerError:
		return nil, fmt.Errorf("%w: %s %s: status %d %s", ErrNetworkFailure, method, path, status, env.Code)
	case status >= fasthttp.StatusBadRequest:
		return nil, &StatusError{Status: status, Code: env.Code}
	}

	var state RemoteState
	if len(env.Data) == 0 {
		return nil, fmt.Errorf("%w: missing data", ErrInvalidPayload)
	}
	if err := json.Unmarshal(env.Data, &state); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return &state, nil
}

// StatusError is a 4xx answer from the backend.
type StatusError struct {
	Status int
	Code   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("maturityclient: server answered %d %s", e.Status, e.Code)
}
