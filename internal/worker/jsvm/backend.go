// Package jsvm runs scripts in an in-process JavaScript sandbox.
//
// Each execution gets a fresh goja runtime with no host, filesystem, or
// network access; the only capabilities in scope are the injected
// settings/llm/set_result contract. llm.complete blocks the script's
// goroutine until the host delivers a response, which surfaces to the
// pool as a Suspended outcome carrying a resume handle.
package jsvm

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/ComputClaw/airlock/internal/worker"
)

// Interrupt sentinels. goja surfaces them through InterruptedError.
var (
	errScriptTimeout = errors.New("script execution timeout")
	errLLMAborted    = errors.New("llm wait aborted")
)

// Backend implements worker.Backend over goja runtimes.
type Backend struct {
	maxScriptBytes int
}

// New creates a jsvm Backend. maxScriptBytes of 0 means no limit.
func New(maxScriptBytes int) *Backend {
	return &Backend{maxScriptBytes: maxScriptBytes}
}

// Run starts the script on its own goroutine and waits for the first
// outcome.
func (b *Backend) Run(spec worker.RunSpec) worker.Outcome {
	if b.maxScriptBytes > 0 && len(spec.Script) > b.maxScriptBytes {
		return worker.Outcome{
			Kind:  worker.OutcomeFailed,
			Error: fmt.Sprintf("script exceeds maximum size of %d bytes", b.maxScriptBytes),
		}
	}

	s := newSession(spec)
	go s.run(spec)
	return <-s.outcomes
}

// Resume delivers an LLM response to a suspended session and waits for
// the next outcome.
func (b *Backend) Resume(handle worker.ResumeHandle, llmResponse string) worker.Outcome {
	s, ok := handle.(*session)
	if !ok {
		return worker.Outcome{Kind: worker.OutcomeFailed, Error: "invalid resume handle"}
	}
	s.responses <- llmResponse
	return <-s.outcomes
}

// Abort interrupts a suspended session.
func (b *Backend) Abort(handle worker.ResumeHandle, reason string) worker.Outcome {
	s, ok := handle.(*session)
	if !ok {
		return worker.Outcome{Kind: worker.OutcomeFailed, Error: "invalid resume handle"}
	}
	s.abortReason = reason
	s.vm.Interrupt(errLLMAborted)
	s.aborts <- struct{}{}
	return <-s.outcomes
}

// session is one script invocation. It doubles as the resume handle.
type session struct {
	vm        *goja.Runtime
	outcomes  chan worker.Outcome
	responses chan string
	aborts    chan struct{}

	stdout bytes.Buffer
	stderr bytes.Buffer

	result    any
	resultSet bool

	abortReason string

	// Execution-time budget. The timer runs only while the script is
	// actually executing; time spent suspended at llm.complete is free.
	budget   time.Duration
	timerMu  sync.Mutex
	timer    *time.Timer
	runStart time.Time
	used     time.Duration
}

func newSession(spec worker.RunSpec) *session {
	return &session{
		vm:        goja.New(),
		outcomes:  make(chan worker.Outcome),
		responses: make(chan string),
		aborts:    make(chan struct{}, 1),
		budget:    spec.Timeout,
	}
}

func (s *session) run(spec worker.RunSpec) {
	if err := s.install(spec); err != nil {
		s.outcomes <- worker.Outcome{Kind: worker.OutcomeFailed, Error: err.Error()}
		return
	}

	s.startClock()
	_, err := s.vm.RunString(spec.Script)
	s.stopClock()

	s.outcomes <- s.finalOutcome(err)
}

func (s *session) finalOutcome(err error) worker.Outcome {
	out := worker.Outcome{
		Stdout: s.stdout.String(),
		Stderr: s.stderr.String(),
	}

	if err == nil {
		out.Kind = worker.OutcomeCompleted
		out.Result = s.result
		return out
	}

	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		switch interrupted.Value() {
		case errScriptTimeout:
			out.Kind = worker.OutcomeTimedOut
			out.Error = fmt.Sprintf("script exceeded %s timeout", s.budget)
			return out
		case errLLMAborted:
			out.Kind = worker.OutcomeFailed
			out.Error = s.abortReason
			return out
		}
	}

	out.Kind = worker.OutcomeFailed
	out.Error = err.Error()
	return out
}

// startClock arms the timeout timer with the remaining budget.
func (s *session) startClock() {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()

	if s.budget <= 0 {
		return
	}
	remaining := s.budget - s.used
	if remaining <= 0 {
		s.vm.Interrupt(errScriptTimeout)
		return
	}
	s.runStart = time.Now()
	s.timer = time.AfterFunc(remaining, func() {
		s.vm.Interrupt(errScriptTimeout)
	})
}

// stopClock disarms the timer and accounts the elapsed execution time.
func (s *session) stopClock() {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
		s.used += time.Since(s.runStart)
	}
}

// install wires the script-side contract into the runtime.
func (s *session) install(spec worker.RunSpec) error {
	env := make(map[string]string, len(spec.Env))
	for k, v := range spec.Env {
		env[k] = v
	}

	settings := s.vm.NewObject()
	if err := settings.Set("get", func(call goja.FunctionCall) goja.Value {
		key := call.Argument(0).String()
		if v, ok := env[key]; ok {
			return s.vm.ToValue(v)
		}
		return goja.Null()
	}); err != nil {
		return fmt.Errorf("failed to install settings.get: %w", err)
	}
	if err := settings.Set("keys", func(call goja.FunctionCall) goja.Value {
		keys := make([]string, 0, len(env))
		for k := range env {
			keys = append(keys, k)
		}
		return s.vm.ToValue(keys)
	}); err != nil {
		return fmt.Errorf("failed to install settings.keys: %w", err)
	}
	if err := s.vm.Set("settings", settings); err != nil {
		return fmt.Errorf("failed to install settings: %w", err)
	}

	llm := s.vm.NewObject()
	if err := llm.Set("complete", s.llmComplete); err != nil {
		return fmt.Errorf("failed to install llm.complete: %w", err)
	}
	if err := s.vm.Set("llm", llm); err != nil {
		return fmt.Errorf("failed to install llm: %w", err)
	}

	if err := s.vm.Set("set_result", func(value goja.Value) {
		s.result = value.Export()
		s.resultSet = true
	}); err != nil {
		return fmt.Errorf("failed to install set_result: %w", err)
	}

	if err := s.vm.Set("print", s.printTo(&s.stdout)); err != nil {
		return fmt.Errorf("failed to install print: %w", err)
	}

	console := s.vm.NewObject()
	if err := console.Set("log", s.printTo(&s.stdout)); err != nil {
		return fmt.Errorf("failed to install console.log: %w", err)
	}
	if err := console.Set("error", s.printTo(&s.stderr)); err != nil {
		return fmt.Errorf("failed to install console.error: %w", err)
	}
	if err := s.vm.Set("console", console); err != nil {
		return fmt.Errorf("failed to install console: %w", err)
	}

	return nil
}

// llmComplete suspends the script until the host provides a completion.
// Runs on the script goroutine.
func (s *session) llmComplete(call goja.FunctionCall) goja.Value {
	prompt := call.Argument(0).String()
	model := "default"
	if arg := call.Argument(1); !goja.IsUndefined(arg) && !goja.IsNull(arg) {
		model = arg.String()
	}

	s.stopClock()
	s.outcomes <- worker.Outcome{
		Kind:   worker.OutcomeSuspended,
		Stdout: s.stdout.String(),
		Stderr: s.stderr.String(),
		Prompt: prompt,
		Model:  model,
		Resume: s,
	}

	select {
	case response := <-s.responses:
		s.startClock()
		return s.vm.ToValue(response)
	case <-s.aborts:
		// The pending interrupt fires as soon as control returns to
		// the script.
		return goja.Undefined()
	}
}

func (s *session) printTo(buf *bytes.Buffer) func(call goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		for i, arg := range call.Arguments {
			if i > 0 {
				buf.WriteByte(' ')
			}
			buf.WriteString(arg.String())
		}
		buf.WriteByte('\n')
		return goja.Undefined()
	}
}
