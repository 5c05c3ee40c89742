package langsmith

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Run is a single trace record as stored by LangSmith.
type Run struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	RunType   string     `json:"run_type"`
	Status    string     `json:"status,omitempty"`
	Error     string     `json:"error,omitempty"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
}

// RunCreate is the payload for creating a run. ID, StartTime, and
// SessionName are filled in by the client when left empty.
type RunCreate struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	RunType     string                 `json:"run_type"`
	SessionName string                 `json:"session_name"`
	StartTime   time.Time              `json:"start_time"`
	EndTime     *time.Time             `json:"end_time,omitempty"`
	Inputs      map[string]interface{} `json:"inputs,omitempty"`
	Outputs     map[string]interface{} `json:"outputs,omitempty"`
	Extra       map[string]interface{} `json:"extra,omitempty"`
}

// Dataset is a LangSmith dataset record.
type Dataset struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// DatasetCreate is the payload for creating a dataset.
type DatasetCreate struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	DataType    string `json:"data_type,omitempty"`
}

// RunQuery selects runs for aggregation queries.
type RunQuery struct {
	Project   string    `json:"session_name,omitempty"`
	RunType   string    `json:"run_type,omitempty"`
	StartTime time.Time `json:"start_time,omitempty"`
	Limit     int       `json:"limit,omitempty"`
}

type runQueryResponse struct {
	Runs []Run `json:"runs"`
}

// Client handles HTTP requests to the LangSmith API.
type Client struct {
	config      Config
	httpClient  *http.Client
	baseURL     string
	maxRetries  int
	backoffBase time.Duration
}

// NewClient creates a new LangSmith API client.
func NewClient(cfg Config) *Client {
	timeout := cfg.APITimeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: time.Duration(timeout) * time.Second,
		},
		baseURL:     cfg.Endpoint,
		maxRetries:  4,
		backoffBase: 2 * time.Second,
	}
}

// CreateRun records a new run. The run ID is generated client-side when not
// supplied so callers know the trace reference before the API acknowledges.
func (c *Client) CreateRun(ctx context.Context, run RunCreate) (*Run, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartTime.IsZero() {
		run.StartTime = time.Now().UTC()
	}
	if run.SessionName == "" {
		run.SessionName = c.config.Project
	}

	if err := c.postJSON(ctx, "/runs", run, nil); err != nil {
		return nil, fmt.Errorf("create run %q: %w", run.Name, err)
	}

	return &Run{
		ID:        run.ID,
		Name:      run.Name,
		RunType:   run.RunType,
		StartTime: run.StartTime,
	}, nil
}

// CreateDataset creates a new dataset.
func (c *Client) CreateDataset(ctx context.Context, ds DatasetCreate) (*Dataset, error) {
	var created Dataset
	if err := c.postJSON(ctx, "/datasets", ds, &created); err != nil {
		return nil, fmt.Errorf("create dataset %q: %w", ds.Name, err)
	}
	if created.Name == "" {
		created.Name = ds.Name
	}
	return &created, nil
}

// QueryRuns fetches runs matching the query for statistics aggregation.
func (c *Client) QueryRuns(ctx context.Context, q RunQuery) ([]Run, error) {
	if q.Project == "" {
		q.Project = c.config.Project
	}
	var resp runQueryResponse
	if err := c.postJSON(ctx, "/runs/query", q, &resp); err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	return resp.Runs, nil
}

// postJSON sends a JSON POST with retry logic: exponential backoff on
// transport errors and 5xx, Retry-After-aware waits on 429, fail-fast on
// other 4xx. The response body is decoded into out when out is non-nil.
func (c *Client) postJSON(ctx context.Context, path string, in, out interface{}) error {
	logger := log.With().
		Str("component", "langsmith_client").
		Str("path", path).
		Logger()

	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode request body: %w", err)
	}

	var lastErr error

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * c.backoffBase
			logger.Warn().
				Int("attempt", attempt+1).
				Dur("backoff", backoff).
				Err(lastErr).
				Msg("Retrying API request after error")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("x-api-key", c.config.APIKey)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn().Err(err).Msg("HTTP request failed")
			lastErr = err
			continue
		}

		// Rate limited (429): honour Retry-After when present.
		if resp.StatusCode == http.StatusTooManyRequests {
			retryAfter := resp.Header.Get("Retry-After")
			var wait time.Duration
			if secs, err := strconv.ParseInt(retryAfter, 10, 64); err == nil {
				wait = time.Duration(secs) * time.Second
			} else {
				wait = time.Duration(1<<uint(attempt)) * c.backoffBase
			}
			resp.Body.Close()
			lastErr = fmt.Errorf("rate limit exceeded (429)")

			logger.Warn().
				Str("retry_after", retryAfter).
				Dur("wait", wait).
				Int("attempt", attempt+1).
				Msg("Rate limit exceeded, waiting before retry")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			continue
		}

		if resp.StatusCode >= 500 {
			logger.Warn().
				Int("status_code", resp.StatusCode).
				Msg("Server error, will retry")
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			defer resp.Body.Close()
			if out == nil {
				return nil
			}
			data, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("failed to read response: %w", err)
			}
			if len(data) == 0 {
				return nil
			}
			if err := json.Unmarshal(data, out); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}
			return nil
		}

		// Client error (4xx): not retryable.
		data, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		logger.Error().
			Int("status_code", resp.StatusCode).
			Str("response_body", string(data)).
			Msg("Client error, not retrying")
		return fmt.Errorf("client error: %d - %s", resp.StatusCode, string(data))
	}

	logger.Error().
		Int("attempts", c.maxRetries).
		Err(lastErr).
		Msg("Max retries exceeded")
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}
