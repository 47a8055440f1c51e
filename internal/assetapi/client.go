// Package assetapi provides an HTTP client for the Asset API: listing and
// patching asset-processing jobs, fetching assets and downloading blobs.
package assetapi

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

	"github.com/assetworks/asset-processing-service/internal/job"
)

// Static errors for Asset API client operations.
var (
	// ErrAPIKeyRequired is returned when no API key is provided.
	ErrAPIKeyRequired = errors.New("assetapi: API key is required")
	// ErrBaseURLRequired is returned when the base URL is not provided.
	ErrBaseURLRequired = errors.New("assetapi: base URL is required")
	// ErrRequestFailed is returned when a request fails with a non-2xx status code.
	ErrRequestFailed = errors.New("assetapi: request failed")
)

// Error is a hard API failure carrying the status code surfaced to the job.
type Error struct {
	Message    string
	StatusCode int
}

func (e *Error) Error() string {
	return fmt.Sprintf("assetapi: %s (status %d)", e.Message, e.StatusCode)
}

// JobUpdate is a sparse patch for an asset-processing job. Nil fields are
// omitted from the request body so the server keeps their current values.
type JobUpdate struct {
	Status        *job.Status `json:"status,omitempty"`
	ErrorMessage  *string     `json:"errorMessage,omitempty"`
	Attempts      *int        `json:"attempts,omitempty"`
	LastHeartBeat *time.Time  `json:"lastHeartBeat,omitempty"`
}

// Ptr returns a pointer to v, for building sparse JobUpdate values.
func Ptr[T any](v T) *T { return &v }

// Client defines the interface for interacting with the Asset API.
type Client interface {
	// ListJobs returns all asset-processing jobs visible to this service.
	// Callers treat a failed poll as an empty one and retry next cycle.
	ListJobs(ctx context.Context) ([]job.Job, error)

	// UpdateJob applies a sparse patch to a job.
	UpdateJob(ctx context.Context, jobID string, update JobUpdate) error

	// Heartbeat patches only the job's lastHeartBeat with the current time.
	Heartbeat(ctx context.Context, jobID string) error

	// GetAsset fetches an asset by ID. A (nil, nil) return means the asset
	// is absent (4xx or undecodable response).
	GetAsset(ctx context.Context, assetID string) (*job.Asset, error)

	// DownloadFile fetches a blob from an absolute URL into memory.
	DownloadFile(ctx context.Context, fileURL string) ([]byte, error)

	// UpdateAssetContent replaces an asset's content field.
	UpdateAssetContent(ctx context.Context, assetID, content string) error
}

// HTTPClient is the HTTP implementation of the Asset API Client interface.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

// ClientOption is a function that configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithAPIKey sets the bearer token used on authenticated calls.
func WithAPIKey(key string) ClientOption {
	return func(hc *HTTPClient) {
		hc.apiKey = key
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(hc *HTTPClient) {
		hc.httpClient = c
	}
}

// WithLogger sets the logger used for soft failures.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(hc *HTTPClient) {
		hc.logger = logger
	}
}

// WithClock sets the time source used for heartbeat timestamps.
func WithClock(now func() time.Time) ClientOption {
	return func(hc *HTTPClient) {
		hc.now = now
	}
}

// NewClient creates a new Asset API HTTP client.
// The default HTTP client carries a 30 second timeout so a slow server
// cannot hang a worker indefinitely.
func NewClient(baseURL string, opts ...ClientOption) (*HTTPClient, error) {
	if baseURL == "" {
		return nil, ErrBaseURLRequired
	}

	c := &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default(),
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.apiKey == "" {
		return nil, ErrAPIKeyRequired
	}

	return c, nil
}

// ListJobs fetches all asset-processing jobs. Jobs whose status is not one
// of the known states are logged and skipped.
func (c *HTTPClient) ListJobs(ctx context.Context) ([]job.Job, error) {
	resp, err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/api/asset-processing-job", nil)
	if err != nil {
		return nil, fmt.Errorf("assetapi: list jobs: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: list jobs: status %d", ErrRequestFailed, resp.StatusCode)
	}

	var jobs []job.Job
	if err := json.NewDecoder(resp.Body).Decode(&jobs); err != nil {
		return nil, fmt.Errorf("assetapi: decode job list: %w", err)
	}

	valid := jobs[:0]
	for _, j := range jobs {
		if !j.Status.IsValid() {
			c.logger.Warn("skipping job with unknown status",
				slog.String("job_id", j.ID),
				slog.String("status", string(j.Status)),
			)
			continue
		}
		valid = append(valid, j)
	}

	return valid, nil
}

// UpdateJob applies a sparse patch to a job. It does not retry.
func (c *HTTPClient) UpdateJob(ctx context.Context, jobID string, update JobUpdate) error {
	if jobID == "" {
		return fmt.Errorf("%w: update job: empty job ID", ErrRequestFailed)
	}

	resp, err := c.doJSON(ctx, http.MethodPatch, c.baseURL+"/asset-processing-job/"+jobID, update)
	if err != nil {
		return fmt.Errorf("assetapi: update job %s: %w", jobID, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: update job %s: status %d: %s",
			ErrRequestFailed, jobID, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return nil
}

// Heartbeat patches the job's lastHeartBeat with the current time.
func (c *HTTPClient) Heartbeat(ctx context.Context, jobID string) error {
	return c.UpdateJob(ctx, jobID, JobUpdate{LastHeartBeat: Ptr(c.now())})
}

// GetAsset fetches an asset by ID. It returns (nil, nil) when the server
// answers 4xx or the payload cannot be decoded; transport and server errors
// are returned to the caller.
func (c *HTTPClient) GetAsset(ctx context.Context, assetID string) (*job.Asset, error) {
	if assetID == "" {
		return nil, fmt.Errorf("%w: get asset: empty asset ID", ErrRequestFailed)
	}

	resp, err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/asset/"+assetID, nil)
	if err != nil {
		return nil, fmt.Errorf("assetapi: get asset %s: %w", assetID, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
		var a job.Asset
		if err := json.NewDecoder(resp.Body).Decode(&a); err != nil {
			c.logger.Warn("undecodable asset payload",
				slog.String("asset_id", assetID),
				slog.String("error", err.Error()),
			)
			return nil, nil
		}
		return &a, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		c.logger.Warn("asset not found",
			slog.String("asset_id", assetID),
			slog.Int("status", resp.StatusCode),
		)
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: get asset %s: status %d", ErrRequestFailed, assetID, resp.StatusCode)
	}
}

// DownloadFile fetches a blob from an absolute URL into memory. Any failure
// surfaces as an *Error with status 500, which fails the owning job.
func (c *HTTPClient) DownloadFile(ctx context.Context, fileURL string) ([]byte, error) {
	if fileURL == "" {
		return nil, &Error{Message: "file URL cannot be empty", StatusCode: http.StatusInternalServerError}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, &Error{Message: fmt.Sprintf("build request for %s: %v", fileURL, err), StatusCode: http.StatusInternalServerError}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Message: fmt.Sprintf("fetch file from %s: %v", fileURL, err), StatusCode: http.StatusInternalServerError}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{
			Message:    fmt.Sprintf("fetch file from %s: status %d", fileURL, resp.StatusCode),
			StatusCode: http.StatusInternalServerError,
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Message: fmt.Sprintf("read file from %s: %v", fileURL, err), StatusCode: http.StatusInternalServerError}
	}

	return data, nil
}

// UpdateAssetContent replaces an asset's content field.
func (c *HTTPClient) UpdateAssetContent(ctx context.Context, assetID, content string) error {
	if assetID == "" {
		return fmt.Errorf("%w: update asset content: empty asset ID", ErrRequestFailed)
	}

	body := map[string]string{"content": content}
	resp, err := c.doJSON(ctx, http.MethodPatch, c.baseURL+"/asset/"+assetID, body)
	if err != nil {
		return fmt.Errorf("assetapi: update asset %s content: %w", assetID, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: update asset %s content: status %d", ErrRequestFailed, assetID, resp.StatusCode)
	}

	return nil
}

// doJSON issues an authenticated request with an optional JSON body.
func (c *HTTPClient) doJSON(ctx context.Context, method, url string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

// Verify interface implementation at compile time.
var _ Client = (*HTTPClient)(nil)
