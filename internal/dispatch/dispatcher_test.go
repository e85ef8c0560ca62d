package dispatch

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ComputClaw/airlock/internal/clock"
	"github.com/ComputClaw/airlock/internal/store"
	"github.com/ComputClaw/airlock/internal/worker"
	"github.com/ComputClaw/airlock/internal/worker/jsvm"
	"github.com/ComputClaw/airlock/pkg/types"
)

func newFixture(t *testing.T, slots int, llmWait time.Duration) (*Dispatcher, *store.Store) {
	t.Helper()

	st := store.New(filepath.Join(t.TempDir(), "airlock.db"))
	require.NoError(t, st.Initialize())
	t.Cleanup(func() { st.Close() })

	require.NoError(t, st.InsertProfile(&store.ProfileRow{
		ID: "profile-1", CreatedAt: "2025-06-01T00:00:00Z",
	}))

	pool := worker.NewPool(jsvm.New(0), slots)
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return New(pool, st, clk, llmWait), st
}

// pollUntil polls until the predicate holds or the deadline passes.
func pollUntil(t *testing.T, d *Dispatcher, id string, pred func(*types.ExecutionResult) bool) *types.ExecutionResult {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := d.Poll(id)
		require.NoError(t, err)
		if pred(snap) {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("execution %s never reached the expected state", id)
	return nil
}

func terminal(snap *types.ExecutionResult) bool { return snap.Status.Terminal() }

func TestHappyPath(t *testing.T) {
	d, st := newFixture(t, 1, time.Minute)

	id, err := d.Submit("profile-1",
		`print(settings.get("API_KEY")); set_result(1+1)`,
		map[string]string{"API_KEY": "sk-live-abc1234"},
		5*time.Second,
	)
	require.NoError(t, err)
	assert.Regexp(t, `^exec_[0-9a-f]{32}$`, id)

	snap := pollUntil(t, d, id, terminal)
	assert.Equal(t, types.ExecutionCompleted, snap.Status)
	assert.EqualValues(t, 2, snap.Result)
	assert.Equal(t, "[REDACTED...1234]\n", snap.Stdout)
	assert.NotContains(t, snap.Stdout, "sk-live-abc1234")
	require.NotNil(t, snap.ExecutionTimeMS)

	// Terminal state is persisted.
	row, err := st.GetExecution(id)
	require.NoError(t, err)
	assert.Equal(t, "completed", row.Status)
	assert.NotContains(t, row.Stdout, "sk-live-abc1234")
	require.NotNil(t, row.CompletedAt)
}

func TestScriptErrorOutcome(t *testing.T) {
	d, _ := newFixture(t, 1, time.Minute)

	id, err := d.Submit("profile-1", `throw new Error("bad input")`, nil, 5*time.Second)
	require.NoError(t, err)

	snap := pollUntil(t, d, id, terminal)
	assert.Equal(t, types.ExecutionError, snap.Status)
	assert.Contains(t, snap.Error, "bad input")
}

func TestScriptTimeoutOutcome(t *testing.T) {
	d, _ := newFixture(t, 1, time.Minute)

	id, err := d.Submit("profile-1", "while (true) {}", nil, 150*time.Millisecond)
	require.NoError(t, err)

	snap := pollUntil(t, d, id, terminal)
	assert.Equal(t, types.ExecutionTimeout, snap.Status)
}

func TestLLMPauseAndRespond(t *testing.T) {
	d, _ := newFixture(t, 1, time.Minute)

	id, err := d.Submit("profile-1", `var x = llm.complete("p"); set_result(x)`, nil, 5*time.Second)
	require.NoError(t, err)

	waiting := pollUntil(t, d, id, func(s *types.ExecutionResult) bool {
		return s.Status == types.ExecutionAwaitingLLM
	})
	require.NotNil(t, waiting.LLMRequest)
	assert.Equal(t, "p", waiting.LLMRequest.Prompt)
	assert.Equal(t, "default", waiting.LLMRequest.Model)

	snap, err := d.Respond(id, "R")
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionRunning, snap.Status)
	assert.Nil(t, snap.LLMRequest)

	final := pollUntil(t, d, id, terminal)
	assert.Equal(t, types.ExecutionCompleted, final.Status)
	assert.Equal(t, "R", final.Result)
}

func TestRespondWrongState(t *testing.T) {
	d, _ := newFixture(t, 1, time.Minute)

	id, err := d.Submit("profile-1", "set_result(1)", nil, 5*time.Second)
	require.NoError(t, err)
	pollUntil(t, d, id, terminal)

	_, err = d.Respond(id, "R")
	assert.ErrorIs(t, err, ErrWrongState)

	_, err = d.Respond("exec_missing", "R")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLLMWaitTimeout(t *testing.T) {
	d, _ := newFixture(t, 1, 100*time.Millisecond)

	id, err := d.Submit("profile-1", `var x = llm.complete("p"); set_result(x)`, nil, 5*time.Second)
	require.NoError(t, err)

	snap := pollUntil(t, d, id, terminal)
	assert.Equal(t, types.ExecutionError, snap.Status)
	assert.Contains(t, snap.Error, "no LLM response")
}

func TestPromptIsSanitized(t *testing.T) {
	d, _ := newFixture(t, 1, time.Minute)

	id, err := d.Submit("profile-1",
		`var x = llm.complete("use " + settings.get("TOKEN")); set_result(x)`,
		map[string]string{"TOKEN": "super-secret-token"},
		5*time.Second,
	)
	require.NoError(t, err)

	waiting := pollUntil(t, d, id, func(s *types.ExecutionResult) bool {
		return s.Status == types.ExecutionAwaitingLLM
	})
	assert.NotContains(t, waiting.LLMRequest.Prompt, "super-secret-token")
	assert.Contains(t, waiting.LLMRequest.Prompt, "[REDACTED...oken]")

	_, err = d.Respond(id, "ok")
	require.NoError(t, err)
	pollUntil(t, d, id, terminal)
}

func TestResultSanitized(t *testing.T) {
	d, _ := newFixture(t, 1, time.Minute)

	id, err := d.Submit("profile-1",
		`set_result({leaked: settings.get("TOKEN")})`,
		map[string]string{"TOKEN": "super-secret-token"},
		5*time.Second,
	)
	require.NoError(t, err)

	snap := pollUntil(t, d, id, terminal)
	require.Equal(t, types.ExecutionCompleted, snap.Status)
	result, ok := snap.Result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "[REDACTED...oken]", result["leaked"])
}

func TestPollMonotonicity(t *testing.T) {
	d, _ := newFixture(t, 1, time.Minute)

	id, err := d.Submit("profile-1", "set_result(1)", nil, 5*time.Second)
	require.NoError(t, err)

	var statuses []types.ExecutionStatus
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := d.Poll(id)
		require.NoError(t, err)
		statuses = append(statuses, snap.Status)
		if snap.Status.Terminal() {
			break
		}
	}

	rank := map[types.ExecutionStatus]int{
		types.ExecutionPending:     0,
		types.ExecutionRunning:     1,
		types.ExecutionAwaitingLLM: 1, // may alternate with running
		types.ExecutionCompleted:   2,
		types.ExecutionError:       2,
		types.ExecutionTimeout:     2,
	}
	for i := 1; i < len(statuses); i++ {
		assert.GreaterOrEqual(t, rank[statuses[i]], rank[statuses[i-1]],
			"status regressed from %s to %s", statuses[i-1], statuses[i])
	}

	// Once terminal, later polls never change.
	final, err := d.Poll(id)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := d.Poll(id)
		require.NoError(t, err)
		assert.Equal(t, final.Status, again.Status)
	}
}

func TestPollUnknown(t *testing.T) {
	d, _ := newFixture(t, 1, time.Minute)
	_, err := d.Poll("exec_unknown")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestQueueingBeyondSlots(t *testing.T) {
	d, _ := newFixture(t, 1, time.Minute)

	// Two long-ish scripts on one slot: both must complete.
	first, err := d.Submit("profile-1", "set_result('one')", nil, 5*time.Second)
	require.NoError(t, err)
	second, err := d.Submit("profile-1", "set_result('two')", nil, 5*time.Second)
	require.NoError(t, err)

	a := pollUntil(t, d, first, terminal)
	b := pollUntil(t, d, second, terminal)
	assert.Equal(t, types.ExecutionCompleted, a.Status)
	assert.Equal(t, types.ExecutionCompleted, b.Status)
}

func TestRecoverStale(t *testing.T) {
	d, st := newFixture(t, 1, time.Minute)

	require.NoError(t, st.InsertExecution(&store.ExecutionRow{
		ID: "exec_orphan", ProfileID: "profile-1", Script: "x",
		Status: "running", CreatedAt: "2025-06-01T00:00:00Z",
	}))

	n, err := d.RecoverStale()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// The orphan is pollable from the store with a terminal error.
	snap, err := d.Poll("exec_orphan")
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionError, snap.Status)
	assert.Equal(t, "service restarted", snap.Error)
}
