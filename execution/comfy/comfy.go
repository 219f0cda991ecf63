// Package comfy drives a ComfyUI-style generation server over HTTP. A job
// payload carries the workflow graph; the engine submits it to /prompt
// and polls /history/{id} until outputs appear.
package comfy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/xraph/genqueue/backoff"
	"github.com/xraph/genqueue/execution"
	"github.com/xraph/genqueue/job"
)

// Progress values reported around the polling loop. Poll-based estimates
// climb from submittedProgress towards maxPollProgress.
const (
	submittedProgress = 5
	pollStep          = 5
	maxPollProgress   = 95
)

// Option configures an Engine.
type Option func(*Engine)

// WithHTTPClient sets the HTTP client used for all requests.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) { e.http = c }
}

// WithPollStrategy sets the delay between history polls.
func WithPollStrategy(s backoff.Strategy) Option {
	return func(e *Engine) { e.poll = s }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// Engine is an execution.Engine backed by a ComfyUI server.
type Engine struct {
	baseURL string
	http    *http.Client
	poll    backoff.Strategy
	logger  *slog.Logger
}

var _ execution.Engine = (*Engine)(nil)

// New creates an engine for the server at baseURL.
func New(baseURL string, opts ...Option) *Engine {
	e := &Engine{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		poll:    backoff.DefaultPoll(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type request struct {
	Prompt         string                     `json:"prompt"`
	Workflow       map[string]json.RawMessage `json:"workflow"`
	ReferenceImage string                     `json:"referenceImage,omitempty"`
}

type promptRequest struct {
	Prompt   map[string]json.RawMessage `json:"prompt"`
	ClientID string                     `json:"client_id"`
}

type promptResponse struct {
	PromptID   string          `json:"prompt_id"`
	Error      json.RawMessage `json:"error,omitempty"`
	NodeErrors json.RawMessage `json:"node_errors,omitempty"`
}

// OutputFile is one file produced by the server.
type OutputFile struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder,omitempty"`
	Type      string `json:"type,omitempty"`
	URL       string `json:"url"`
}

type historyEntry struct {
	Outputs map[string]map[string]json.RawMessage `json:"outputs"`
	Status  struct {
		StatusStr string `json:"status_str"`
		Completed bool   `json:"completed"`
	} `json:"status"`
}

// Result is the job result produced by the engine.
type Result struct {
	PromptID  string       `json:"promptId"`
	VideoPath string       `json:"videoPath"`
	Files     []OutputFile `json:"files"`
}

// Generate submits the payload's workflow and waits for its outputs.
func (e *Engine) Generate(ctx context.Context, j *job.Job, report execution.ProgressFunc) (json.RawMessage, error) {
	var req request
	if err := json.Unmarshal(j.Payload, &req); err != nil {
		return nil, fmt.Errorf("comfy: decode payload: %w", err)
	}
	if len(req.Workflow) == 0 {
		return nil, errors.New("comfy: payload has no workflow")
	}

	workflow, err := applyPrompt(req.Workflow, req.Prompt)
	if err != nil {
		return nil, err
	}

	promptID, err := e.submit(ctx, workflow, j.ID.String())
	if err != nil {
		return nil, err
	}
	report(submittedProgress)

	e.logger.Debug("comfy prompt submitted",
		slog.String("job_id", j.ID.String()),
		slog.String("prompt_id", promptID),
	)

	files, err := e.await(ctx, promptID, report)
	if err != nil {
		return nil, err
	}

	return json.Marshal(Result{
		PromptID:  promptID,
		VideoPath: files[0].URL,
		Files:     files,
	})
}

// applyPrompt sets the text input of every CLIPTextEncode node to prompt.
// Other nodes pass through untouched.
func applyPrompt(workflow map[string]json.RawMessage, prompt string) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(workflow))
	for nodeID, raw := range workflow {
		out[nodeID] = raw
		if prompt == "" {
			continue
		}
		var n map[string]any
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, fmt.Errorf("comfy: node %s: %w", nodeID, err)
		}
		if n["class_type"] != "CLIPTextEncode" {
			continue
		}
		inputs, ok := n["inputs"].(map[string]any)
		if !ok {
			continue
		}
		if _, has := inputs["text"]; !has {
			continue
		}
		inputs["text"] = prompt
		b, err := json.Marshal(n)
		if err != nil {
			return nil, fmt.Errorf("comfy: node %s: %w", nodeID, err)
		}
		out[nodeID] = b
	}
	return out, nil
}

func (e *Engine) submit(ctx context.Context, workflow map[string]json.RawMessage, clientID string) (string, error) {
	body, err := json.Marshal(promptRequest{Prompt: workflow, ClientID: clientID})
	if err != nil {
		return "", fmt.Errorf("comfy: encode prompt: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/prompt", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("comfy: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("comfy: submit prompt: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("comfy: read prompt response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("comfy: submit prompt: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var pr promptResponse
	if err := json.Unmarshal(raw, &pr); err != nil {
		return "", fmt.Errorf("comfy: decode prompt response: %w", err)
	}
	if pr.PromptID == "" {
		return "", fmt.Errorf("comfy: server returned no prompt_id: %s", strings.TrimSpace(string(raw)))
	}
	return pr.PromptID, nil
}

// await polls history until the prompt finishes. Progress is estimated
// from the poll count since the history endpoint carries none.
func (e *Engine) await(ctx context.Context, promptID string, report execution.ProgressFunc) ([]OutputFile, error) {
	for attempt := 1; ; attempt++ {
		if err := backoff.Wait(ctx, e.poll, attempt); err != nil {
			return nil, err
		}

		entry, err := e.history(ctx, promptID)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			if entry.Status.StatusStr == "error" {
				return nil, fmt.Errorf("comfy: execution error for prompt %s", promptID)
			}
			if files := e.collectFiles(entry); len(files) > 0 {
				return files, nil
			}
			if entry.Status.Completed {
				return nil, fmt.Errorf("comfy: prompt %s completed without outputs", promptID)
			}
		}

		report(min(submittedProgress+attempt*pollStep, maxPollProgress))
	}
}

func (e *Engine) history(ctx context.Context, promptID string) (*historyEntry, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/history/"+url.PathEscape(promptID), nil)
	if err != nil {
		return nil, fmt.Errorf("comfy: build request: %w", err)
	}

	resp, err := e.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("comfy: poll history: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("comfy: poll history: status %d", resp.StatusCode)
	}

	var all map[string]historyEntry
	if err := json.NewDecoder(resp.Body).Decode(&all); err != nil {
		return nil, fmt.Errorf("comfy: decode history: %w", err)
	}
	entry, ok := all[promptID]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

// outputKinds are the output keys that carry files, in preference order.
var outputKinds = []string{"videos", "gifs", "images"}

func (e *Engine) collectFiles(entry *historyEntry) []OutputFile {
	var files []OutputFile
	nodeIDs := slices.Sorted(maps.Keys(entry.Outputs))
	for _, kind := range outputKinds {
		for _, nodeID := range nodeIDs {
			raw, ok := entry.Outputs[nodeID][kind]
			if !ok {
				continue
			}
			var items []OutputFile
			if err := json.Unmarshal(raw, &items); err != nil {
				continue
			}
			for _, f := range items {
				if f.Filename == "" {
					continue
				}
				f.URL = e.viewURL(f)
				files = append(files, f)
			}
		}
	}
	return files
}

func (e *Engine) viewURL(f OutputFile) string {
	q := url.Values{}
	q.Set("filename", f.Filename)
	q.Set("subfolder", f.Subfolder)
	q.Set("type", f.Type)
	return e.baseURL + "/view?" + q.Encode()
}
