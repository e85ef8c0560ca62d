// Package dispatch coordinates in-flight executions: it owns one record
// per execution and drives each through its state machine against the
// worker pool.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ComputClaw/airlock/internal/clock"
	"github.com/ComputClaw/airlock/internal/sanitize"
	"github.com/ComputClaw/airlock/internal/store"
	"github.com/ComputClaw/airlock/internal/worker"
	"github.com/ComputClaw/airlock/pkg/types"
)

var (
	// ErrNotFound indicates an unknown execution id.
	ErrNotFound = errors.New("execution not found")
	// ErrWrongState indicates a respond against a non-awaiting execution.
	ErrWrongState = errors.New("execution is not awaiting an LLM response")
)

// Dispatcher schedules accepted executions onto worker slots and serves
// the polling interface. Terminal records are persisted; non-terminal
// state lives in memory only.
type Dispatcher struct {
	pool    *worker.Pool
	store   *store.Store
	clock   clock.Clock
	llmWait time.Duration

	// AllowedHosts is the network allowlist handed to every sandbox
	// run, for backends that give scripts network access.
	AllowedHosts []string

	// OnTransition, when set, observes every status change. Used for
	// the event feed; must not block.
	OnTransition func(executionID string, status types.ExecutionStatus)

	mu      sync.RWMutex
	records map[string]*record
}

// record is the in-memory state of one execution.
type record struct {
	mu        sync.Mutex
	snapshot  types.ExecutionResult
	awaitDone bool // respond/abort arbitration for the current pause

	sanitizer *sanitize.Sanitizer
	responses chan string
}

// New creates a Dispatcher.
func New(pool *worker.Pool, st *store.Store, clk clock.Clock, llmWait time.Duration) *Dispatcher {
	return &Dispatcher{
		pool:    pool,
		store:   st,
		clock:   clk,
		llmWait: llmWait,
		records: make(map[string]*record),
	}
}

// RecoverStale marks every persisted non-terminal execution as failed.
// Called once at startup; in-flight state is not durable across restarts.
func (d *Dispatcher) RecoverStale() (int64, error) {
	now := d.clock.Now().Format(time.RFC3339)
	return d.store.MarkStaleExecutions("service restarted", now)
}

// Submit accepts an execution whose auth work is already complete. The
// credentials map is injected into the sandbox and scopes the sanitizer;
// it is not retained past the execution.
func (d *Dispatcher) Submit(profileID, script string, credentials map[string]string, timeout time.Duration) (string, error) {
	executionID := "exec_" + strings.ReplaceAll(uuid.NewString(), "-", "")

	row := &store.ExecutionRow{
		ID:        executionID,
		ProfileID: profileID,
		Script:    script,
		Status:    string(types.ExecutionPending),
		CreatedAt: d.clock.Now().Format(time.RFC3339),
	}
	if err := d.store.InsertExecution(row); err != nil {
		return "", err
	}

	rec := &record{
		snapshot: types.ExecutionResult{
			ExecutionID: executionID,
			Status:      types.ExecutionPending,
		},
		sanitizer: sanitize.FromMap(credentials),
		responses: make(chan string, 1),
	}

	d.mu.Lock()
	d.records[executionID] = rec
	d.mu.Unlock()

	d.notify(executionID, types.ExecutionPending)

	env := make(map[string]string, len(credentials))
	for k, v := range credentials {
		env[k] = v
	}
	go d.run(executionID, rec, worker.RunSpec{
		Script:       script,
		Env:          env,
		Timeout:      timeout,
		AllowedHosts: d.AllowedHosts,
	})

	return executionID, nil
}

// Poll returns a deep copy of the current execution state.
func (d *Dispatcher) Poll(executionID string) (*types.ExecutionResult, error) {
	d.mu.RLock()
	rec, ok := d.records[executionID]
	d.mu.RUnlock()
	if ok {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		snap := copySnapshot(&rec.snapshot)
		return snap, nil
	}

	// Terminal records from a previous process live only in the store.
	row, err := d.store.GetExecution(executionID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, executionID)
	}
	return rowToResult(row), nil
}

// Respond delivers an LLM completion to a paused execution.
func (d *Dispatcher) Respond(executionID, llmResponse string) (*types.ExecutionResult, error) {
	d.mu.RLock()
	rec, ok := d.records[executionID]
	d.mu.RUnlock()
	if !ok {
		if row, err := d.store.GetExecution(executionID); err != nil {
			return nil, err
		} else if row != nil {
			return nil, fmt.Errorf("%w: status is %q", ErrWrongState, row.Status)
		}
		return nil, fmt.Errorf("%w: %q", ErrNotFound, executionID)
	}

	rec.mu.Lock()
	if rec.snapshot.Status != types.ExecutionAwaitingLLM || rec.awaitDone {
		status := rec.snapshot.Status
		rec.mu.Unlock()
		return nil, fmt.Errorf("%w: status is %q", ErrWrongState, status)
	}
	rec.awaitDone = true
	rec.snapshot.Status = types.ExecutionRunning
	rec.snapshot.LLMRequest = nil
	snap := copySnapshot(&rec.snapshot)
	rec.mu.Unlock()

	rec.responses <- llmResponse
	d.notify(executionID, types.ExecutionRunning)
	return snap, nil
}

// run drives one execution to a terminal status.
func (d *Dispatcher) run(executionID string, rec *record, spec worker.RunSpec) {
	started := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), spec.Timeout)
	slot, err := d.pool.Acquire(ctx)
	cancel()
	if err != nil {
		d.finalize(executionID, rec, worker.Outcome{
			Kind:  worker.OutcomeTimedOut,
			Error: fmt.Sprintf("timed out waiting for a worker slot after %s", spec.Timeout),
		}, started, 0)
		return
	}
	defer d.pool.Release(slot)

	// The slot wait consumed part of the execution budget.
	spec.Timeout -= time.Since(started)
	if spec.Timeout <= 0 {
		d.finalize(executionID, rec, worker.Outcome{
			Kind:  worker.OutcomeTimedOut,
			Error: "execution budget exhausted while queued",
		}, started, 0)
		return
	}

	d.setRunning(executionID, rec)
	outcome := slot.Run(spec)

	var suspended time.Duration
	for outcome.Kind == worker.OutcomeSuspended {
		pauseStart := time.Now()
		response, ok := d.awaitResponse(executionID, rec, outcome)
		suspended += time.Since(pauseStart)

		if !ok {
			outcome = slot.Abort(outcome.Resume,
				fmt.Sprintf("no LLM response received within %s", d.llmWait))
			continue
		}
		d.setRunning(executionID, rec)
		outcome = slot.Resume(outcome.Resume, response)
	}

	d.finalize(executionID, rec, outcome, started, suspended)
}

// awaitResponse parks the execution in awaiting_llm until Respond or the
// LLM-wait timeout. Returns the response and whether one arrived.
func (d *Dispatcher) awaitResponse(executionID string, rec *record, outcome worker.Outcome) (string, bool) {
	prompt, _ := rec.sanitizer.Apply(outcome.Prompt)
	stdout, _ := rec.sanitizer.Apply(outcome.Stdout)
	stderr, _ := rec.sanitizer.Apply(outcome.Stderr)

	rec.mu.Lock()
	rec.awaitDone = false
	rec.snapshot.Status = types.ExecutionAwaitingLLM
	rec.snapshot.Stdout = stdout
	rec.snapshot.Stderr = stderr
	rec.snapshot.LLMRequest = &types.LLMRequest{Prompt: prompt, Model: outcome.Model}
	rec.mu.Unlock()

	d.notify(executionID, types.ExecutionAwaitingLLM)

	timer := time.NewTimer(d.llmWait)
	defer timer.Stop()

	select {
	case response := <-rec.responses:
		return response, true
	case <-timer.C:
	}

	// The timer fired, but a respond may have won the race. awaitDone
	// arbitrates: whoever sets it first owns this pause.
	rec.mu.Lock()
	if rec.awaitDone {
		rec.mu.Unlock()
		return <-rec.responses, true
	}
	rec.awaitDone = true
	rec.mu.Unlock()
	return "", false
}

func (d *Dispatcher) setRunning(executionID string, rec *record) {
	rec.mu.Lock()
	changed := rec.snapshot.Status != types.ExecutionRunning
	rec.snapshot.Status = types.ExecutionRunning
	rec.snapshot.LLMRequest = nil
	rec.mu.Unlock()
	if changed {
		d.notify(executionID, types.ExecutionRunning)
	}
}

// finalize applies the terminal outcome, sanitizes all outbound fields,
// and persists the record.
func (d *Dispatcher) finalize(executionID string, rec *record, outcome worker.Outcome, started time.Time, suspended time.Duration) {
	status := types.ExecutionError
	switch outcome.Kind {
	case worker.OutcomeCompleted:
		status = types.ExecutionCompleted
	case worker.OutcomeTimedOut:
		status = types.ExecutionTimeout
	}

	elapsed := time.Since(started) - suspended
	if elapsed < 0 {
		elapsed = 0
	}
	execMS := elapsed.Milliseconds()

	stdout, fired1 := rec.sanitizer.Apply(outcome.Stdout)
	stderr, fired2 := rec.sanitizer.Apply(outcome.Stderr)
	errMsg, fired3 := rec.sanitizer.Apply(outcome.Error)
	result, resultJSON, fired4 := d.sanitizeResult(rec, outcome.Result)
	if fired1 || fired2 || fired3 || fired4 {
		log.Printf("Execution %s: redacted secret material from output", executionID)
	}

	rec.mu.Lock()
	rec.snapshot.Status = status
	rec.snapshot.Result = result
	rec.snapshot.Stdout = stdout
	rec.snapshot.Stderr = stderr
	rec.snapshot.Error = errMsg
	rec.snapshot.LLMRequest = nil
	rec.snapshot.ExecutionTimeMS = &execMS
	rec.mu.Unlock()

	row := &store.ExecutionRow{
		ID:              executionID,
		Status:          string(status),
		Result:          resultJSON,
		Stdout:          stdout,
		Stderr:          stderr,
		ExecutionTimeMS: &execMS,
	}
	if errMsg != "" {
		row.Error = &errMsg
	}
	completedAt := d.clock.Now().Format(time.RFC3339)
	row.CompletedAt = &completedAt

	if err := d.store.FinishExecution(row); err != nil {
		log.Printf("Execution %s: failed to persist terminal state: %v", executionID, err)
	}

	d.notify(executionID, status)
}

// sanitizeResult redacts secrets from the serialized result. The value is
// round-tripped through JSON so redaction reaches nested strings.
func (d *Dispatcher) sanitizeResult(rec *record, result any) (any, *string, bool) {
	if result == nil {
		return nil, nil, false
	}

	raw, err := json.Marshal(result)
	if err != nil {
		// Unserializable results are replaced rather than leaked.
		msg := fmt.Sprintf("result not serializable: %v", err)
		return msg, nil, false
	}

	sanitized, fired := rec.sanitizer.Apply(string(raw))

	var out any
	if err := json.Unmarshal([]byte(sanitized), &out); err != nil {
		// Redaction broke the JSON shape; fall back to the string form.
		out = sanitized
	}
	return out, &sanitized, fired
}

func (d *Dispatcher) notify(executionID string, status types.ExecutionStatus) {
	if d.OnTransition != nil {
		d.OnTransition(executionID, status)
	}
}

func copySnapshot(src *types.ExecutionResult) *types.ExecutionResult {
	snap := *src
	if src.LLMRequest != nil {
		req := *src.LLMRequest
		snap.LLMRequest = &req
	}
	if src.ExecutionTimeMS != nil {
		ms := *src.ExecutionTimeMS
		snap.ExecutionTimeMS = &ms
	}
	return &snap
}

func rowToResult(row *store.ExecutionRow) *types.ExecutionResult {
	out := &types.ExecutionResult{
		ExecutionID:     row.ID,
		Status:          types.ExecutionStatus(row.Status),
		Stdout:          row.Stdout,
		Stderr:          row.Stderr,
		ExecutionTimeMS: row.ExecutionTimeMS,
	}
	if row.Error != nil {
		out.Error = *row.Error
	}
	if row.Result != nil {
		var result any
		if err := json.Unmarshal([]byte(*row.Result), &result); err == nil {
			out.Result = result
		}
	}
	return out
}
