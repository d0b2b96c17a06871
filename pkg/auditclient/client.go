// Package auditclient is a small client for the audit trail write endpoint.
//
// Screens and services call Record after their own mutation has committed.
// RecordBestEffort is the variant most callers want: a failure to audit is
// logged and never surfaces to the user whose action already succeeded.
package auditclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Sentinel errors returned by Record, matched with errors.Is
var (
	ErrUnauthorized    = errors.New("audit: unauthorized")
	ErrValidation      = errors.New("audit: invalid payload")
	ErrProfileNotFound = errors.New("audit: profile not found")
	ErrServer          = errors.New("audit: server error")
)

// Payload is one audited action. Document fields are passed through verbatim.
type Payload struct {
	Action        string                 `json:"action"`
	EntityType    string                 `json:"entityType"`
	EntityID      string                 `json:"entityId,omitempty"`
	SummaryKey    string                 `json:"summaryKey"`
	SummaryParams map[string]interface{} `json:"summaryParams,omitempty"`
	BeforeData    json.RawMessage        `json:"beforeData,omitempty"`
	AfterData     json.RawMessage        `json:"afterData,omitempty"`
	Metadata      json.RawMessage        `json:"metadata,omitempty"`
	BranchID      string                 `json:"branchId,omitempty"`
}

// Origin describes the end user's request when the client runs server side,
// so device and network context reflect the user rather than the caller.
type Origin struct {
	UserAgent string
	ClientIP  string
}

// OriginFromRequest copies the user agent and client address headers of r
func OriginFromRequest(r *http.Request) Origin {
	o := Origin{UserAgent: r.UserAgent()}
	for _, h := range []string{"X-Forwarded-For", "CF-Connecting-IP", "True-Client-IP", "X-Real-IP"} {
		if v := strings.TrimSpace(strings.Split(r.Header.Get(h), ",")[0]); v != "" {
			o.ClientIP = v
			break
		}
	}
	return o
}

// Client posts records to the audit trail service
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customises a Client
type Option func(*Client)

// WithHTTPClient replaces the default instrumented HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout of the default client
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// New creates a client for the service at baseURL
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   5 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type writeResponse struct {
	Success bool   `json:"success"`
	LogID   string `json:"log_id"`
	Error   string `json:"error"`
}

// Record writes p on behalf of the holder of token and returns the record id
func (c *Client) Record(ctx context.Context, token string, origin Origin, p Payload) (string, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to marshal audit payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/audit/logs", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if origin.UserAgent != "" {
		req.Header.Set("User-Agent", origin.UserAgent)
	}
	if origin.ClientIP != "" {
		req.Header.Set("X-Forwarded-For", origin.ClientIP)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send audit record: %w", err)
	}
	defer resp.Body.Close()

	var out writeResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = json.Unmarshal(data, &out)

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d: %s", statusError(resp.StatusCode), resp.StatusCode, out.Error)
	}
	if !out.Success || out.LogID == "" {
		return "", fmt.Errorf("%w: unexpected response %s", ErrServer, strings.TrimSpace(string(data)))
	}
	return out.LogID, nil
}

// RecordBestEffort calls Record and logs any failure instead of returning it
func (c *Client) RecordBestEffort(ctx context.Context, token string, origin Origin, p Payload) {
	if _, err := c.Record(ctx, token, origin, p); err != nil {
		slog.WarnContext(ctx, "failed to record audit event",
			"action", p.Action,
			"entity_type", p.EntityType,
			"summary_key", p.SummaryKey,
			"error", err,
		)
	}
}

func statusError(code int) error {
	switch code {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusBadRequest:
		return ErrValidation
	case http.StatusNotFound:
		return ErrProfileNotFound
	default:
		return ErrServer
	}
}
