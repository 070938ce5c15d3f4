package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	headerAPIKey = "X-API-Key"
	maxErrorBody = 1 << 14
)

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("backend: not found")
	// ErrForbidden indicates the backend refused the call, typically a prior sanction.
	ErrForbidden = errors.New("backend: forbidden")
)

// StatusError is any other non-2xx backend response.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend: unexpected status %d", e.Status)
	}
	return fmt.Sprintf("backend: unexpected status %d: %s", e.Status, e.Message)
}

// Config defines the HTTP client settings for the backend.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client talks to the user, operator and validator backend.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient constructs a client with sane defaults.
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		return nil, fmt.Errorf("backend: base url required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("backend: api key required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &Client{
		baseURL:    strings.TrimRight(base, "/"),
		apiKey:     strings.TrimSpace(cfg.APIKey),
		httpClient: httpClient,
	}, nil
}

// GetUser fetches the user linked to a platform user id.
func (c *Client) GetUser(ctx context.Context, platformUserID string) (User, error) {
	var user User
	err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(platformUserID), nil, &user)
	return user, err
}

// UpsertUser creates or updates the user keyed by PlatformUserID.
func (c *Client) UpsertUser(ctx context.Context, user User) (User, error) {
	var out User
	err := c.do(ctx, http.MethodPut, "/users/"+url.PathEscape(user.PlatformUserID), user, &out)
	return out, err
}

// GetScore returns the reputation score of a wallet.
func (c *Client) GetScore(ctx context.Context, wallet string) (float64, error) {
	var payload Score
	if err := c.do(ctx, http.MethodGet, "/scores/"+url.PathEscape(wallet), nil, &payload); err != nil {
		return 0, err
	}
	return payload.Score, nil
}

// UpdateUserRole records a committed role change for a user.
func (c *Client) UpdateUserRole(ctx context.Context, platformUserID string, update RoleUpdate) error {
	return c.do(ctx, http.MethodPatch, "/users/"+url.PathEscape(platformUserID)+"/roles", update, nil)
}

// GetOperator fetches the operator record of a platform user.
func (c *Client) GetOperator(ctx context.Context, platformUserID string) (Operator, error) {
	var op Operator
	err := c.do(ctx, http.MethodGet, "/operators/"+url.PathEscape(platformUserID), nil, &op)
	return op, err
}

// GetOperatorByAddress fetches the operator owning a validator address.
func (c *Client) GetOperatorByAddress(ctx context.Context, address string) (Operator, error) {
	var op Operator
	err := c.do(ctx, http.MethodGet, "/operators/address/"+url.PathEscape(address), nil, &op)
	return op, err
}

// CreateOperator registers a new operator.
func (c *Client) CreateOperator(ctx context.Context, op Operator) (Operator, error) {
	var out Operator
	err := c.do(ctx, http.MethodPost, "/operators", op, &out)
	return out, err
}

// ApproveOperator marks the operator of a platform user as approved by a moderator.
func (c *Client) ApproveOperator(ctx context.Context, platformUserID, approvedBy string) (Operator, error) {
	var out Operator
	body := map[string]string{"approvedBy": approvedBy}
	err := c.do(ctx, http.MethodPost, "/operators/"+url.PathEscape(platformUserID)+"/approve", body, &out)
	return out, err
}

// ListValidators lists the validators registered to an operator.
func (c *Client) ListValidators(ctx context.Context, operatorID string) ([]Validator, error) {
	var out []Validator
	path := "/validators?operator=" + url.QueryEscape(operatorID)
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// CreateValidator registers a validator address for an operator.
func (c *Client) CreateValidator(ctx context.Context, v Validator) (Validator, error) {
	var out Validator
	err := c.do(ctx, http.MethodPost, "/validators", v, &out)
	return out, err
}

// SendMessage relays a notification to an operator by id or address.
func (c *Client) SendMessage(ctx context.Context, msg Message) error {
	if strings.TrimSpace(msg.OperatorID) == "" && strings.TrimSpace(msg.Address) == "" {
		return fmt.Errorf("backend: message recipient required")
	}
	return c.do(ctx, http.MethodPost, "/messages", msg, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("backend: encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("backend: request: %w", err)
	}
	req.Header.Set(headerAPIKey, c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend: call: %w", err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusForbidden:
		return ErrForbidden
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Status: resp.StatusCode, Message: errorMessage(raw)}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("backend: decode: %w", err)
	}
	return nil
}

func errorMessage(raw []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return strings.TrimSpace(string(raw))
}
