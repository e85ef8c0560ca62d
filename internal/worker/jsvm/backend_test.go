package jsvm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ComputClaw/airlock/internal/worker"
)

func run(t *testing.T, script string, env map[string]string) worker.Outcome {
	t.Helper()
	return New(0).Run(worker.RunSpec{
		Script:  script,
		Env:     env,
		Timeout: 5 * time.Second,
	})
}

func TestCompletedWithResult(t *testing.T) {
	out := run(t, "set_result(1+1)", nil)
	require.Equal(t, worker.OutcomeCompleted, out.Kind)
	assert.EqualValues(t, 2, out.Result)
}

func TestSettingsAccess(t *testing.T) {
	out := run(t,
		`print(settings.get("API_KEY"));
		 print(settings.get("MISSING"));
		 set_result(settings.keys().length)`,
		map[string]string{"API_KEY": "sk-live-abc1234"},
	)
	require.Equal(t, worker.OutcomeCompleted, out.Kind)
	assert.Equal(t, "sk-live-abc1234\nnull\n", out.Stdout)
	assert.EqualValues(t, 1, out.Result)
}

func TestConsoleStreams(t *testing.T) {
	out := run(t, `console.log("a", 1); console.error("bad")`, nil)
	require.Equal(t, worker.OutcomeCompleted, out.Kind)
	assert.Equal(t, "a 1\n", out.Stdout)
	assert.Equal(t, "bad\n", out.Stderr)
}

func TestScriptError(t *testing.T) {
	out := run(t, `throw new Error("boom")`, nil)
	require.Equal(t, worker.OutcomeFailed, out.Kind)
	assert.Contains(t, out.Error, "boom")
}

func TestScriptTimeout(t *testing.T) {
	backend := New(0)
	out := backend.Run(worker.RunSpec{
		Script:  "while (true) {}",
		Timeout: 100 * time.Millisecond,
	})
	require.Equal(t, worker.OutcomeTimedOut, out.Kind)
	assert.Contains(t, out.Error, "timeout")
}

func TestScriptSizeLimit(t *testing.T) {
	backend := New(10)
	out := backend.Run(worker.RunSpec{
		Script:  "set_result('this script is longer than ten bytes')",
		Timeout: time.Second,
	})
	require.Equal(t, worker.OutcomeFailed, out.Kind)
	assert.Contains(t, out.Error, "maximum size")
}

func TestSuspendAndResume(t *testing.T) {
	backend := New(0)

	out := backend.Run(worker.RunSpec{
		Script:  `var x = llm.complete("p"); set_result(x)`,
		Timeout: 5 * time.Second,
	})
	require.Equal(t, worker.OutcomeSuspended, out.Kind)
	assert.Equal(t, "p", out.Prompt)
	assert.Equal(t, "default", out.Model)
	require.NotNil(t, out.Resume)

	final := backend.Resume(out.Resume, "R")
	require.Equal(t, worker.OutcomeCompleted, final.Kind)
	assert.Equal(t, "R", final.Result)
}

func TestSequentialSuspensions(t *testing.T) {
	backend := New(0)

	out := backend.Run(worker.RunSpec{
		Script: `var a = llm.complete("first");
		         var b = llm.complete("second", "gpt");
		         set_result(a + "+" + b)`,
		Timeout: 5 * time.Second,
	})
	require.Equal(t, worker.OutcomeSuspended, out.Kind)
	assert.Equal(t, "first", out.Prompt)

	out = backend.Resume(out.Resume, "A")
	require.Equal(t, worker.OutcomeSuspended, out.Kind)
	assert.Equal(t, "second", out.Prompt)
	assert.Equal(t, "gpt", out.Model)

	final := backend.Resume(out.Resume, "B")
	require.Equal(t, worker.OutcomeCompleted, final.Kind)
	assert.Equal(t, "A+B", final.Result)
}

func TestAbortWhileSuspended(t *testing.T) {
	backend := New(0)

	out := backend.Run(worker.RunSpec{
		Script:  `var x = llm.complete("p"); set_result(x)`,
		Timeout: 5 * time.Second,
	})
	require.Equal(t, worker.OutcomeSuspended, out.Kind)

	final := backend.Abort(out.Resume, "no LLM response received within 5m0s")
	require.Equal(t, worker.OutcomeFailed, final.Kind)
	assert.Contains(t, final.Error, "no LLM response")
}

func TestSuspensionExcludedFromBudget(t *testing.T) {
	backend := New(0)

	out := backend.Run(worker.RunSpec{
		Script:  `var x = llm.complete("p"); set_result(x)`,
		Timeout: 200 * time.Millisecond,
	})
	require.Equal(t, worker.OutcomeSuspended, out.Kind)

	// Far longer than the script budget; the clock is paused while
	// suspended.
	time.Sleep(400 * time.Millisecond)

	final := backend.Resume(out.Resume, "ok")
	require.Equal(t, worker.OutcomeCompleted, final.Kind)
	assert.Equal(t, "ok", final.Result)
}

func TestStdoutBeforeSuspension(t *testing.T) {
	backend := New(0)

	out := backend.Run(worker.RunSpec{
		Script:  `print("before"); var x = llm.complete("p"); print("after"); set_result(x)`,
		Timeout: 5 * time.Second,
	})
	require.Equal(t, worker.OutcomeSuspended, out.Kind)
	assert.Equal(t, "before\n", out.Stdout)

	final := backend.Resume(out.Resume, "done")
	require.Equal(t, worker.OutcomeCompleted, final.Kind)
	assert.Equal(t, "before\nafter\n", final.Stdout)
}

func TestNoResultIsNil(t *testing.T) {
	out := run(t, `var unused = 1`, nil)
	require.Equal(t, worker.OutcomeCompleted, out.Kind)
	assert.Nil(t, out.Result)
}
