// Package remote drives an out-of-process sandbox worker over HTTP.
//
// The worker exposes a two-endpoint contract: POST /run starts a script
// and returns either a terminal result or an awaiting_llm pause with a
// resume token; POST /resume continues a paused script. Container
// lifecycle, filesystem confinement, and resource caps live on the worker
// side.
package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ComputClaw/airlock/internal/worker"
)

// Backend implements worker.Backend against a remote worker.
type Backend struct {
	baseURL string
	client  *http.Client
}

// New creates a remote Backend for the given worker base URL.
func New(baseURL string) *Backend {
	return &Backend{
		baseURL: baseURL,
		client:  &http.Client{},
	}
}

type runRequest struct {
	Script       string            `json:"script"`
	Settings     map[string]string `json:"settings"`
	Timeout      int               `json:"timeout"`
	AllowedHosts []string          `json:"allowed_hosts,omitempty"`
}

type resumeRequest struct {
	ResumeToken string `json:"resume_token"`
	Response    string `json:"response"`
}

type abortRequest struct {
	ResumeToken string `json:"resume_token"`
	Reason      string `json:"reason"`
}

type llmRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model"`
}

type workerResponse struct {
	Status      string      `json:"status"` // completed | error | timeout | awaiting_llm
	Result      any         `json:"result"`
	Stdout      string      `json:"stdout"`
	Stderr      string      `json:"stderr"`
	Error       string      `json:"error"`
	LLMRequest  *llmRequest `json:"llm_request"`
	ResumeToken string      `json:"resume_token"`
}

// handle carries the worker's resume token plus the remaining budget for
// follow-up HTTP calls.
type handle struct {
	token   string
	timeout time.Duration
}

// Run submits the script to the worker.
func (b *Backend) Run(spec worker.RunSpec) worker.Outcome {
	req := runRequest{
		Script:       spec.Script,
		Settings:     spec.Env,
		Timeout:      int(spec.Timeout / time.Second),
		AllowedHosts: spec.AllowedHosts,
	}
	return b.call("/run", req, spec.Timeout)
}

// Resume continues a paused script.
func (b *Backend) Resume(h worker.ResumeHandle, llmResponse string) worker.Outcome {
	rh, ok := h.(*handle)
	if !ok {
		return worker.Outcome{Kind: worker.OutcomeFailed, Error: "invalid resume handle"}
	}
	return b.call("/resume", resumeRequest{ResumeToken: rh.token, Response: llmResponse}, rh.timeout)
}

// Abort tells the worker to kill a paused script. Best effort; the
// execution fails regardless of the worker's answer.
func (b *Backend) Abort(h worker.ResumeHandle, reason string) worker.Outcome {
	rh, ok := h.(*handle)
	if !ok {
		return worker.Outcome{Kind: worker.OutcomeFailed, Error: "invalid resume handle"}
	}
	out := b.call("/abort", abortRequest{ResumeToken: rh.token, Reason: reason}, 10*time.Second)
	if out.Kind == worker.OutcomeCompleted {
		out.Kind = worker.OutcomeFailed
	}
	if out.Error == "" {
		out.Error = reason
	}
	return out
}

// call POSTs a JSON body and maps the worker's response to an Outcome.
// The HTTP deadline leaves the worker room to report its own timeout.
func (b *Backend) call(path string, body any, budget time.Duration) worker.Outcome {
	payload, err := json.Marshal(body)
	if err != nil {
		return failure(fmt.Errorf("failed to encode worker request: %w", err))
	}

	httpReq, err := http.NewRequest(http.MethodPost, b.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return failure(fmt.Errorf("failed to build worker request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: budget + 10*time.Second}
	if budget <= 0 {
		client = b.client
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return failure(fmt.Errorf("worker request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return failure(fmt.Errorf("worker returned status %d", resp.StatusCode))
	}

	var wr workerResponse
	if err := json.NewDecoder(resp.Body).Decode(&wr); err != nil {
		return failure(fmt.Errorf("failed to decode worker response: %w", err))
	}

	return b.toOutcome(&wr, budget)
}

func (b *Backend) toOutcome(wr *workerResponse, budget time.Duration) worker.Outcome {
	out := worker.Outcome{
		Stdout: wr.Stdout,
		Stderr: wr.Stderr,
		Error:  wr.Error,
	}

	switch wr.Status {
	case "completed":
		out.Kind = worker.OutcomeCompleted
		out.Result = wr.Result
	case "timeout":
		out.Kind = worker.OutcomeTimedOut
	case "awaiting_llm":
		out.Kind = worker.OutcomeSuspended
		if wr.LLMRequest != nil {
			out.Prompt = wr.LLMRequest.Prompt
			out.Model = wr.LLMRequest.Model
		}
		if out.Model == "" {
			out.Model = "default"
		}
		out.Resume = &handle{token: wr.ResumeToken, timeout: budget}
	default:
		out.Kind = worker.OutcomeFailed
		if out.Error == "" {
			out.Error = "worker failure"
		}
	}
	return out
}

func failure(err error) worker.Outcome {
	return worker.Outcome{Kind: worker.OutcomeFailed, Error: "worker failure: " + err.Error()}
}
