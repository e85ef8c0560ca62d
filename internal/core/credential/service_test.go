package credential

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ComputClaw/airlock/internal/clock"
	"github.com/ComputClaw/airlock/internal/core/profile"
	"github.com/ComputClaw/airlock/internal/crypto"
	"github.com/ComputClaw/airlock/internal/store"
	"github.com/ComputClaw/airlock/pkg/types"
)

func newFixture(t *testing.T) (*Service, *profile.Service) {
	t.Helper()
	dir := t.TempDir()

	key, err := crypto.LoadOrCreateMasterKey(filepath.Join(dir, ".secret"))
	require.NoError(t, err)

	st := store.New(filepath.Join(dir, "airlock.db"))
	require.NoError(t, st.Initialize())
	t.Cleanup(func() { st.Close() })

	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return NewService(st, key, clk), profile.NewService(st, key, clk)
}

func strPtr(s string) *string { return &s }

func optSet(s string) types.OptionalString {
	return types.OptionalString{Set: true, Value: &s}
}

func optNull() types.OptionalString {
	return types.OptionalString{Set: true}
}

func TestValidateName(t *testing.T) {
	valid := []string{"API_KEY", "_private", "a", "Mixed_Case_123"}
	for _, name := range valid {
		assert.NoError(t, ValidateName(name), name)
	}

	invalid := []string{"", "123bad", "has space", "dash-name", strings.Repeat("x", 129)}
	for _, name := range invalid {
		assert.ErrorIs(t, ValidateName(name), ErrInvalidName, name)
	}

	// 128 chars is the inclusive limit.
	assert.NoError(t, ValidateName(strings.Repeat("x", 128)))
}

func TestCreateAndList(t *testing.T) {
	svc, _ := newFixture(t)

	info, err := svc.Create("API_KEY", "deploy key", strPtr("sk-live-abc1234"))
	require.NoError(t, err)
	assert.Equal(t, "API_KEY", info.Name)
	assert.True(t, info.ValueExists)

	// Slots without values report value_exists=false.
	slot, err := svc.Create("EMPTY_SLOT", "", nil)
	require.NoError(t, err)
	assert.False(t, slot.ValueExists)

	// Names are unique and case-sensitive.
	_, err = svc.Create("API_KEY", "", nil)
	assert.ErrorIs(t, err, ErrNameTaken)
	_, err = svc.Create("api_key", "", nil)
	require.NoError(t, err)

	all, err := svc.List()
	require.NoError(t, err)
	require.Len(t, all, 3)
	// Plaintext never appears in metadata.
	for _, c := range all {
		assert.NotContains(t, c.Name, "sk-live")
		assert.NotContains(t, c.Description, "sk-live")
	}
}

func TestUpdateSentinelSemantics(t *testing.T) {
	svc, _ := newFixture(t)

	_, err := svc.Create("TOKEN", "original", strPtr("first-value"))
	require.NoError(t, err)

	// Absent fields leave everything unchanged.
	info, err := svc.Update("TOKEN", types.OptionalString{}, types.OptionalString{})
	require.NoError(t, err)
	assert.True(t, info.ValueExists)
	assert.Equal(t, "original", info.Description)

	// Updating only the description keeps the value.
	info, err = svc.Update("TOKEN", types.OptionalString{}, optSet("renamed"))
	require.NoError(t, err)
	assert.True(t, info.ValueExists)
	assert.Equal(t, "renamed", info.Description)

	// Explicit null clears the stored secret.
	info, err = svc.Update("TOKEN", optNull(), types.OptionalString{})
	require.NoError(t, err)
	assert.False(t, info.ValueExists)

	// Setting a new value restores it.
	info, err = svc.Update("TOKEN", optSet("second-value"), types.OptionalString{})
	require.NoError(t, err)
	assert.True(t, info.ValueExists)

	_, err = svc.Update("MISSING", optSet("x"), types.OptionalString{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteGuardedByLockedProfiles(t *testing.T) {
	svc, profiles := newFixture(t)

	_, err := svc.Create("K", "", strPtr("guarded-value"))
	require.NoError(t, err)

	p1, err := profiles.Create("unlocked holder")
	require.NoError(t, err)
	_, err = profiles.AddCredentials(p1.ID, []string{"K"})
	require.NoError(t, err)

	p2, err := profiles.Create("locked holder")
	require.NoError(t, err)
	_, err = profiles.AddCredentials(p2.ID, []string{"K"})
	require.NoError(t, err)
	_, err = profiles.Lock(p2.ID)
	require.NoError(t, err)

	// Blocked while the locked profile references it; the error names it.
	err = svc.Delete("K")
	var inUse *InUseError
	require.ErrorAs(t, err, &inUse)
	assert.Contains(t, inUse.ProfileIDs, p2.ID)
	assert.NotContains(t, inUse.ProfileIDs, p1.ID)

	// After revoking the locked holder, delete succeeds and the
	// unlocked profile loses its binding silently.
	_, err = profiles.Revoke(p2.ID)
	require.NoError(t, err)
	require.NoError(t, svc.Delete("K"))

	got, err := profiles.Get(p1.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Credentials)

	assert.ErrorIs(t, svc.Delete("K"), ErrNotFound)
}

func TestResolveForProfile(t *testing.T) {
	svc, profiles := newFixture(t)

	_, err := svc.Create("API_KEY", "", strPtr("sk-live-abc1234"))
	require.NoError(t, err)
	_, err = svc.Create("EMPTY", "", nil)
	require.NoError(t, err)

	p, err := profiles.Create("")
	require.NoError(t, err)
	_, err = profiles.AddCredentials(p.ID, []string{"API_KEY", "EMPTY"})
	require.NoError(t, err)

	// Not locked yet: refused.
	_, err = svc.ResolveForProfile(p.ID)
	assert.ErrorIs(t, err, ErrProfileNotLocked)

	_, err = profiles.Lock(p.ID)
	require.NoError(t, err)

	resolved, err := svc.ResolveForProfile(p.ID)
	require.NoError(t, err)
	// Only credentials with a set value are included.
	assert.Equal(t, map[string]string{"API_KEY": "sk-live-abc1234"}, resolved)

	_, err = svc.ResolveForProfile("no-such-profile")
	assert.ErrorIs(t, err, ErrProfileNotFound)
}
