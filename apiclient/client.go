// Package apiclient talks to the indexing service over HTTP. All outbound
// traffic from the engine funnels through this one client.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/presift/presift/models"
)

const (
	maxRetries = 3
	retryBase  = 500 * time.Millisecond
)

// Client is a thin HTTP client for the indexing service. Safe for concurrent
// use; the zero value is not usable, construct with New.
type Client struct {
	baseURL      string
	http         *http.Client
	cleanTimeout time.Duration
	clientID     string
}

// New builds a client for the service at baseURL. requestTimeout bounds normal
// calls; cleanTimeout bounds the slower purge endpoint.
func New(baseURL string, requestTimeout, cleanTimeout time.Duration) *Client {
	return &Client{
		baseURL:      baseURL,
		http:         &http.Client{Timeout: requestTimeout},
		cleanTimeout: cleanTimeout,
		clientID:     uuid.NewString(),
	}
}

// ClientID identifies this process instance to the service.
func (c *Client) ClientID() string { return c.clientID }

// BatchPayload is the body of POST /file-screening/batch.
type BatchPayload struct {
	DataList        []*models.FileMetadata `json:"data_list"`
	AutoCreateTasks bool                   `json:"auto_create_tasks"`
}

// CleanResult is the response of POST /screening/clean-by-path.
type CleanResult struct {
	Deleted int `json:"deleted"`
}

func (c *Client) endpoint(path string) string {
	return c.baseURL + path
}

// doJSON performs one request with a JSON body (may be nil) and decodes the
// response into out (may be nil). Non-2xx responses are errors.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("request %s %s: status %d: %s", method, path, resp.StatusCode, snippet)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response of %s %s: %v", method, path, err)
		}
	}
	return nil
}

// withRetry runs fn up to maxRetries times with linear backoff (500ms * n).
func (c *Client) withRetry(ctx context.Context, what string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt == maxRetries {
			break
		}
		log.Printf("%s failed (attempt %d/%d): %v", what, attempt, maxRetries, lastErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryBase * time.Duration(attempt)):
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %v", what, maxRetries, lastErr)
}

// FetchAllConfig retrieves the full configuration snapshot, retrying on failure.
func (c *Client) FetchAllConfig(ctx context.Context) (*models.AllConfigurations, error) {
	var cfg models.AllConfigurations
	err := c.withRetry(ctx, "fetch configuration", func() error {
		return c.doJSON(ctx, http.MethodGet, "/config/all", nil, &cfg)
	})
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FetchScanningConfig retrieves the narrow scanning snapshot.
func (c *Client) FetchScanningConfig(ctx context.Context) (*models.FileScanningConfig, error) {
	var cfg models.FileScanningConfig
	err := c.withRetry(ctx, "fetch scanning configuration", func() error {
		return c.doJSON(ctx, http.MethodGet, "/file-scanning-config", nil, &cfg)
	})
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SubmitBatch sends a batch of screening records. No retry here; the batcher
// owns delivery policy.
func (c *Client) SubmitBatch(ctx context.Context, records []*models.FileMetadata) error {
	payload := BatchPayload{DataList: records, AutoCreateTasks: true}
	return c.doJSON(ctx, http.MethodPost, "/file-screening/batch", payload, nil)
}

// DeleteByPath removes the screening record for one exact path.
func (c *Client) DeleteByPath(ctx context.Context, path string) error {
	body := map[string]string{"file_path": path}
	return c.doJSON(ctx, http.MethodPost, "/screening/delete-by-path", body, nil)
}

// CleanByPath purges all records at or under path. request_time and client_id
// let the service discard stale or echoed requests. Uses the longer purge
// timeout regardless of the client default.
func (c *Client) CleanByPath(ctx context.Context, path string) (int, error) {
	body := map[string]any{
		"path":         path,
		"request_time": time.Now().UTC().Format(time.RFC3339),
		"client_id":    c.clientID,
	}

	ctx, cancel := context.WithTimeout(ctx, c.cleanTimeout)
	defer cancel()

	var result CleanResult
	// Bypass the default client timeout; purge can be slow on large trees.
	encoded, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("failed to encode clean request: %v", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/screening/clean-by-path"), bytes.NewReader(encoded))
	if err != nil {
		return 0, fmt.Errorf("failed to build clean request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		return 0, fmt.Errorf("clean-by-path failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("clean-by-path: status %d: %s", resp.StatusCode, snippet)
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("failed to decode clean response: %v", err)
	}
	return result.Deleted, nil
}

// Health probes GET /health with a short deadline.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	return c.doJSON(ctx, http.MethodGet, "/health", nil, nil)
}

// AddDirectory registers a new monitored or blacklist root.
func (c *Client) AddDirectory(ctx context.Context, dir models.MonitoredDirectory) error {
	return c.doJSON(ctx, http.MethodPost, "/directories", dir, nil)
}

// DeleteDirectory removes a directory registration by id.
func (c *Client) DeleteDirectory(ctx context.Context, id int) error {
	return c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/directories/%d", id), nil, nil)
}

// ToggleDirectory flips a directory between monitored and blacklisted.
func (c *Client) ToggleDirectory(ctx context.Context, id int, isBlacklist bool) error {
	q := url.Values{}
	q.Set("is_blacklist", fmt.Sprintf("%t", isBlacklist))
	return c.doJSON(ctx, http.MethodPut, fmt.Sprintf("/directories/%d/toggle?%s", id, q.Encode()), nil, nil)
}
