package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/xraph/genqueue/job"
)

// Payload is the generation request.
type Payload struct {
	Prompt         string          `json:"prompt"`
	Workflow       json.RawMessage `json:"workflow"`
	ReferenceImage string          `json:"referenceImage,omitempty"`
}

type submitRequest struct {
	Payload  Payload `json:"payload"`
	Priority *int    `json:"priority,omitempty"`
}

// SubmitOption configures a submission.
type SubmitOption func(*submitRequest)

// WithPriority sets the job priority. Lower values run first.
func WithPriority(priority int) SubmitOption {
	return func(r *submitRequest) { r.Priority = &priority }
}

// QueueStats mirrors GET /stats/queue.
type QueueStats struct {
	Pending   int64 `json:"pending"`
	Running   int64 `json:"running"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Total     int64 `json:"total"`
}

// WorkerStats mirrors GET /stats/workers.
type WorkerStats struct {
	Total   int `json:"total"`
	Running int `json:"running"`
	Idle    int `json:"idle"`
}

// Submit enqueues a job and returns its id.
func (c *Client) Submit(ctx context.Context, payload Payload, opts ...SubmitOption) (string, error) {
	req := submitRequest{Payload: payload}
	for _, opt := range opts {
		opt(&req)
	}

	var resp struct {
		JobID string `json:"jobId"`
	}
	if err := c.do(ctx, http.MethodPost, "/jobs", req, &resp); err != nil {
		return "", err
	}
	return resp.JobID, nil
}

// GetJob returns the current view of a job.
func (c *Client) GetJob(ctx context.Context, jobID string) (*job.View, error) {
	var v job.View
	if err := c.do(ctx, http.MethodGet, "/jobs/"+url.PathEscape(jobID), nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// CancelJob cancels a queued job.
func (c *Client) CancelJob(ctx context.Context, jobID string) error {
	return c.do(ctx, http.MethodDelete, "/jobs/"+url.PathEscape(jobID), nil, nil)
}

// QueueStats returns job counts by state.
func (c *Client) QueueStats(ctx context.Context) (*QueueStats, error) {
	var s QueueStats
	if err := c.do(ctx, http.MethodGet, "/stats/queue", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// WorkerStats returns slot usage.
func (c *Client) WorkerStats(ctx context.Context) (*WorkerStats, error) {
	var s WorkerStats
	if err := c.do(ctx, http.MethodGet, "/stats/workers", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Health reports whether the server answers GET /health.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}
