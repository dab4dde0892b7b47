// Package pipeline invokes the internal engine that actually runs a job's
// flow. One Execute call is one full pipeline run: it blocks for as long as
// the engine works, which can be most of the configured pipeline timeout.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/flowd/errors"
	"github.com/teranos/flowd/internal/httpclient"
	"github.com/teranos/flowd/internal/util"
)

const (
	// DefaultTimeout bounds a whole pipeline run
	DefaultTimeout = 90 * time.Minute

	// dialTimeout is longer than usual because the engine may be busy
	// with another run when the connection is opened
	dialTimeout = 60 * time.Second
)

// Client is an HTTP client for the pipeline engine's internal API
type Client struct {
	baseURL    string
	secret     string
	httpClient *http.Client
	timeout    time.Duration
	log        *zap.SugaredLogger
}

// Config holds configuration for the pipeline client
type Config struct {
	// BaseURL is the engine origin, usually on localhost
	BaseURL string
	// Secret is sent as the X-Internal-Api-Key header on every request
	Secret string
	// Timeout bounds a single Execute call (default 90m)
	Timeout time.Duration
	// Logger for API interactions
	Logger *zap.SugaredLogger
}

// NewClient creates a new pipeline engine client
func NewClient(config Config) *Client {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	log := config.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		secret:  config.Secret,
		// No client-level timeout; each call carries its own deadline so
		// cancelling the job context aborts the request immediately
		httpClient: httpclient.NewWithOptions(0, httpclient.Options{
			DialTimeout: util.Ptr(dialTimeout),
		}),
		timeout: config.Timeout,
		log:     log,
	}
}

// SetHTTPClient allows overriding the HTTP client (useful for testing)
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

type executeRequest struct {
	ProjectID       string            `json:"projectId"`
	GlobalVariables map[string]string `json:"globalVariables"`
	ClearResults    bool              `json:"clearResults"`
}

// Stats summarizes the steps of a single pipeline run. Duration is reported
// by the engine in milliseconds.
type Stats struct {
	Executed int   `json:"executed"`
	Failed   int   `json:"failed"`
	Skipped  int   `json:"skipped"`
	Duration int64 `json:"duration"`
}

// Result is the engine's verdict on a flow execution. Success false with a
// nil error means the engine ran the flow and some steps failed; transport
// and protocol problems surface as errors instead.
type Result struct {
	Success     bool   `json:"success"`
	ExecutionID string `json:"executionId"`
	Stats       Stats  `json:"stats"`
}

// Execute runs the project's flow with the given global variables. It blocks
// until the engine finishes, the caller's context is cancelled, or the
// pipeline timeout elapses. Errors are returned unlogged and unsanitized;
// the caller owns scrubbing before anything is persisted or logged.
func (c *Client) Execute(ctx context.Context, projectID string, globalVariables map[string]string, clearResults bool) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(executeRequest{
		ProjectID:       projectID,
		GlobalVariables: globalVariables,
		ClearResults:    clearResults,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal execute request")
	}

	url := c.baseURL + "/api/internal/execute-flow"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create execute request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Internal-Api-Key", c.secret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "pipeline execution request failed")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read pipeline response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("pipeline returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result Result
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, errors.Wrap(err, "failed to parse pipeline response")
	}
	return &result, nil
}
