// Package remote talks to the contract service over HTTP/JSON: catalog,
// templates, authoritative validation and document generation.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cenkalti/backoff/v4"

	"github.com/mpataki/clerk/internal/models"
	"github.com/mpataki/clerk/internal/templates"
)

// maxBodySize bounds response bodies; generated PDFs arrive base64-encoded.
const maxBodySize = 32 << 20

type Client struct {
	baseURL       string
	httpClient    *http.Client
	timeout       time.Duration
	retries       uint64
	retryInterval time.Duration
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout bounds catalog, template and health calls. Validate and
// Generate use the caller's context.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func WithRetries(n uint64) Option {
	return func(c *Client) { c.retries = n }
}

func WithRetryInterval(d time.Duration) Option {
	return func(c *Client) { c.retryInterval = d }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		httpClient:    &http.Client{},
		timeout:       10 * time.Second,
		retries:       3,
		retryInterval: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type formRequest struct {
	ContractType string           `json:"contract_type"`
	FormData     models.AnswerMap `json:"form_data"`
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ValidationResponse struct {
	Valid  bool         `json:"valid"`
	Errors []FieldError `json:"errors"`
}

type generateResponse struct {
	ContractType     string `json:"contract_type"`
	Title            string `json:"title"`
	ContentMarkdown  string `json:"content_markdown"`
	ContentHTML      string `json:"content_html"`
	ContentPDFBase64 string `json:"content_pdf_base64"`
	GeneratedAt      string `json:"generated_at"`
}

type HealthResponse struct {
	Status          string `json:"status"`
	TemplatesLoaded int    `json:"templates_loaded"`
}

// ListContractTypes fetches the catalog, retrying transient failures.
func (c *Client) ListContractTypes(ctx context.Context) ([]models.ContractType, error) {
	var types []models.ContractType
	err := c.getWithRetry(ctx, "/contracts/types", &types)
	if err != nil {
		return nil, fmt.Errorf("failed to list contract types: %w", err)
	}
	return types, nil
}

// GetTemplate fetches the raw template. A 404 is reported as
// templates.ErrTemplateNotFound and is never retried.
func (c *Client) GetTemplate(ctx context.Context, contractType string) (*models.Template, error) {
	var tmpl models.Template
	err := c.getWithRetry(ctx, "/contracts/"+url.PathEscape(contractType)+"/template", &tmpl)
	if err != nil {
		if se, ok := AsStatusError(err); ok && se.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", templates.ErrTemplateNotFound, se.Message)
		}
		return nil, fmt.Errorf("failed to get template %s: %w", contractType, err)
	}
	return &tmpl, nil
}

func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var health HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &health); err != nil {
		return nil, fmt.Errorf("failed to check health: %w", err)
	}
	return &health, nil
}

// Validate asks the service to validate answers. It is not retried.
func (c *Client) Validate(ctx context.Context, contractType string, answers models.AnswerMap) (*ValidationResponse, error) {
	var resp ValidationResponse
	body := formRequest{ContractType: contractType, FormData: answers}
	if err := c.do(ctx, http.MethodPost, "/contracts/validate", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Generate asks the service to compose the contract. It is not retried.
func (c *Client) Generate(ctx context.Context, contractType string, answers models.AnswerMap) (*models.GenerationResult, error) {
	var resp generateResponse
	body := formRequest{ContractType: contractType, FormData: answers}
	if err := c.do(ctx, http.MethodPost, "/contracts/generate", body, &resp); err != nil {
		return nil, err
	}

	generatedAt, ok := parseTimestamp(resp.GeneratedAt)
	if !ok {
		slog.Warn("unparsable generated_at, using local time", "value", resp.GeneratedAt)
		generatedAt = time.Now()
	}

	return &models.GenerationResult{
		ContractType:    resp.ContractType,
		Title:           resp.Title,
		MarkdownContent: resp.ContentMarkdown,
		HTMLContent:     resp.ContentHTML,
		PDFEncoded:      resp.ContentPDFBase64,
		GeneratedAt:     generatedAt,
	}, nil
}

func (c *Client) getWithRetry(ctx context.Context, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(b, c.retries), ctx)

	attempt := 0
	op := func() error {
		attempt++
		err := c.do(ctx, http.MethodGet, path, nil, out)
		if err == nil {
			return nil
		}
		if !Transient(err) {
			return backoff.Permanent(err)
		}
		slog.Debug("retrying request", "path", path, "attempt", attempt, "error", err)
		return err
	}

	return backoff.Retry(op, policy)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := sonic.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newStatusError(resp.StatusCode, data)
	}

	if err := sonic.Unmarshal(data, out); err != nil {
		return &DecodeError{Err: err}
	}
	return nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// parseTimestamp accepts RFC3339 and the naive ISO timestamps emitted by
// services that serialize local datetimes.
func parseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
