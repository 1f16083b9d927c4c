package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config configures the batch API client.
type Config struct {
	// APIKey is sent as the x-goog-api-key header.
	APIKey string
	// BaseURL including the API version, e.g.
	// https://generativelanguage.googleapis.com/v1beta
	BaseURL string
	// Timeout per HTTP call.
	Timeout time.Duration
	// RateLimitRPS enables client-side rate limiting when positive.
	RateLimitRPS   float64
	RateLimitBurst int
}

// APIError is a structured non-2xx response from the API. Transport-level
// failures are returned as plain wrapped errors instead, so callers can
// tell a rejection from a network problem.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gemini api error: status=%d body=%s", e.Status, e.Body)
}

// Message extracts the human-readable error message from the response body,
// falling back to the raw body.
func (e *APIError) Message() string {
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(e.Body), &payload); err == nil && payload.Error.Message != "" {
		return payload.Error.Message
	}
	return e.Body
}

// Client talks to the Gemini batch and file APIs.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewClient creates a batch API client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		burst := cfg.RateLimitBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), burst)
	}

	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
		logger:  logger.With(zap.String("component", "gemini")),
	}
}

// InlineRequest is one entry of an inline batch submission.
type InlineRequest struct {
	Request  map[string]any    `json:"request"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// CreateInlineBatch creates a batch with requests embedded in the call.
func (c *Client) CreateInlineBatch(ctx context.Context, model string, requests []InlineRequest, displayName string) (map[string]any, error) {
	inputConfig := map[string]any{
		"requests": map[string]any{"requests": requests},
	}
	return c.createBatch(ctx, model, inputConfig, displayName)
}

// CreateFileBatch creates a batch from a previously uploaded JSONL file.
func (c *Client) CreateFileBatch(ctx context.Context, model, fileName, displayName string) (map[string]any, error) {
	inputConfig := map[string]any{"file_name": fileName}
	return c.createBatch(ctx, model, inputConfig, displayName)
}

func (c *Client) createBatch(ctx context.Context, model string, inputConfig map[string]any, displayName string) (map[string]any, error) {
	inner := map[string]any{"input_config": inputConfig}
	if displayName != "" {
		inner["display_name"] = displayName
	}
	payload := map[string]any{"batch": inner}

	endpoint := fmt.Sprintf("%s/models/%s:batchGenerateContent", c.cfg.BaseURL, model)
	return c.postJSON(ctx, endpoint, payload)
}

// GetBatch fetches the current status payload of a batch.
func (c *Client) GetBatch(ctx context.Context, name string) (map[string]any, error) {
	return c.getJSON(ctx, fmt.Sprintf("%s/%s", c.cfg.BaseURL, name))
}

// ListBatches lists batches, optionally paged.
func (c *Client) ListBatches(ctx context.Context, pageSize int, pageToken string) (map[string]any, error) {
	endpoint := c.cfg.BaseURL + "/batches"
	q := url.Values{}
	if pageSize > 0 {
		q.Set("pageSize", strconv.Itoa(pageSize))
	}
	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	return c.getJSON(ctx, endpoint)
}

// CancelBatch asks the API to cancel a running batch.
func (c *Client) CancelBatch(ctx context.Context, name string) error {
	_, err := c.postJSON(ctx, fmt.Sprintf("%s/%s:cancel", c.cfg.BaseURL, name), nil)
	return err
}

// DeleteBatch removes a batch on the API side.
func (c *Client) DeleteBatch(ctx context.Context, name string) error {
	_, err := c.postJSON(ctx, fmt.Sprintf("%s/%s:delete", c.cfg.BaseURL, name), nil)
	return err
}

// DownloadResults fetches the raw content of a results file.
func (c *Client) DownloadResults(ctx context.Context, fileName string) ([]byte, error) {
	downloadBase := strings.Replace(c.cfg.BaseURL, "/v1beta", "/download/v1beta", 1)
	endpoint := fmt.Sprintf("%s/%s:download?alt=media", downloadBase, fileName)

	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil, "")
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read results file: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, &APIError{Status: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// UploadFile uploads raw content through the media upload endpoint and
// returns the file name, e.g. "files/abc123".
func (c *Client) UploadFile(ctx context.Context, content []byte, displayName, mimeType string) (string, error) {
	if mimeType == "" {
		mimeType = "application/jsonl"
	}
	uploadBase := strings.Replace(c.cfg.BaseURL, "/v1beta", "/upload/v1beta", 1)
	endpoint := uploadBase + "/files"

	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(content), mimeType)
	if err != nil {
		return "", err
	}
	req.Header.Set("X-Goog-Upload-Protocol", "raw")
	req.Header.Set("X-Goog-Upload-Command", "upload, finalize")
	req.Header.Set("X-Goog-File-Name", displayName)

	resp, err := c.do(ctx, req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read upload response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return "", &APIError{Status: resp.StatusCode, Body: string(body)}
	}

	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	if file, ok := decoded["file"].(map[string]any); ok {
		if name, ok := file["name"].(string); ok && name != "" {
			return name, nil
		}
	}
	if name, ok := decoded["name"].(string); ok && name != "" {
		return name, nil
	}
	return "", fmt.Errorf("upload response carries no file name")
}

func (c *Client) postJSON(ctx context.Context, endpoint string, payload any) (map[string]any, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := c.newRequest(ctx, http.MethodPost, endpoint, body, "application/json")
	if err != nil {
		return nil, err
	}
	return c.decodeJSON(ctx, req)
}

func (c *Client) getJSON(ctx context.Context, endpoint string) (map[string]any, error) {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil, "")
	if err != nil {
		return nil, err
	}
	return c.decodeJSON(ctx, req)
}

func (c *Client) decodeJSON(ctx context.Context, req *http.Request) (map[string]any, error) {
	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, &APIError{Status: resp.StatusCode, Body: string(body)}
	}

	decoded := map[string]any{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &decoded); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
	}
	return decoded, nil
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader, contentType string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("x-goog-api-key", c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	return resp, nil
}

// IsAPIError reports whether err is a structured API rejection and returns it.
func IsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
