// Package frontend talks to the frontend's external job API. The frontend
// owns the user-facing job list; workers poll it for queued work and push
// status updates back so the UI stays current. Both directions are
// best-effort from the worker's point of view: the SQLite store, not the
// frontend, is the source of truth for claim and completion state.
package frontend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/flowd/errors"
	"github.com/teranos/flowd/internal/httpclient"
	"github.com/teranos/flowd/logger"
	"github.com/teranos/flowd/store"
)

// DefaultTimeout bounds a single frontend request
const DefaultTimeout = 30 * time.Second

// Client is an HTTP client for the frontend's external job API
type Client struct {
	baseURL    string
	secret     string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *zap.SugaredLogger
}

// Config holds configuration for the frontend client
type Config struct {
	// BaseURL is the frontend origin, e.g. https://app.example.com
	BaseURL string
	// Secret is sent as the X-Api-Key header on every request
	Secret string
	// Timeout bounds each request (default 30s)
	Timeout time.Duration
	// RequestsPerMinute paces outbound calls (default 60)
	RequestsPerMinute int
	// Logger for API interactions
	Logger *zap.SugaredLogger
}

// NewClient creates a new frontend API client
func NewClient(config Config) *Client {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = 60
	}
	log := config.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		secret:     config.Secret,
		httpClient: httpclient.New(config.Timeout),
		limiter:    rate.NewLimiter(rate.Limit(float64(config.RequestsPerMinute)/60.0), 1),
		log:        log,
	}
}

// SetHTTPClient allows overriding the HTTP client (useful for testing)
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// jobEnvelope is the wire form of a job in the frontend's response. Older
// frontend builds send the identifier as "id" rather than "jobId".
type jobEnvelope struct {
	JobID     string                 `json:"jobId"`
	ID        string                 `json:"id"`
	SessionID string                 `json:"sessionId"`
	Mode      string                 `json:"mode"`
	Responses store.Input            `json:"responses"`
	UserData  map[string]interface{} `json:"userData,omitempty"`
	CreatedAt *time.Time             `json:"createdAt,omitempty"`
}

type listResponse struct {
	Jobs []jobEnvelope `json:"jobs"`
}

func (e *jobEnvelope) toJob() *store.Job {
	id := e.JobID
	if id == "" {
		id = e.ID
	}
	job := &store.Job{
		ID:        id,
		SessionID: e.SessionID,
		Mode:      e.Mode,
		Responses: e.Responses,
		UserData:  e.UserData,
		Status:    store.JobStatusQueued,
	}
	if e.CreatedAt != nil {
		job.CreatedAt = e.CreatedAt.UTC()
	}
	return job
}

// ListQueued fetches up to limit queued jobs from the frontend. The returned
// jobs are snapshots; they exist in the local store only once claimed.
func (c *Client) ListQueued(ctx context.Context, limit int) ([]*store.Job, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "rate limiter wait aborted")
	}

	url := fmt.Sprintf("%s/api/external/jobs?status=queued&limit=%d", c.baseURL, limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create jobs request")
	}
	req.Header.Set("X-Api-Key", c.secret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch queued jobs")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read jobs response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("jobs request failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var list listResponse
	if err := json.Unmarshal(respBody, &list); err != nil {
		return nil, errors.Wrap(err, "failed to parse jobs response")
	}

	jobs := make([]*store.Job, 0, len(list.Jobs))
	for i := range list.Jobs {
		job := list.Jobs[i].toJob()
		if job.ID == "" {
			c.log.Warnw("Skipping frontend job without an ID",
				logger.FieldSessionID, job.SessionID)
			continue
		}
		jobs = append(jobs, job)
	}

	c.log.Debugw("Fetched queued jobs from frontend",
		logger.FieldCount, len(jobs))
	return jobs, nil
}

// patchRequest is the wire form of a job status update
type patchRequest struct {
	Status      string     `json:"status"`
	Error       string     `json:"error,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// PatchStatus pushes a job status change to the frontend so the UI reflects
// progress. Callers treat failures as advisory; the local store already
// holds the authoritative state.
func (c *Client) PatchStatus(ctx context.Context, jobID string, status store.JobStatus, errMsg string, completedAt *time.Time) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "rate limiter wait aborted")
	}

	body, err := json.Marshal(patchRequest{
		Status:      string(status),
		Error:       errMsg,
		CompletedAt: completedAt,
	})
	if err != nil {
		return errors.Wrap(err, "failed to marshal status update")
	}

	url := fmt.Sprintf("%s/api/external/jobs/%s", c.baseURL, jobID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, url, bytes.NewBuffer(body))
	if err != nil {
		return errors.Wrap(err, "failed to create status update request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", c.secret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to send status update")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		respBody, _ := io.ReadAll(resp.Body)
		return errors.Newf("status update failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	c.log.Debugw("Pushed job status to frontend",
		logger.FieldJobID, jobID,
		logger.FieldStatus, status)
	return nil
}
