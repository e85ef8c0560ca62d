package sanitize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApplyRedactsLongSecret(t *testing.T) {
	s := New([]string{"sk-live-abc1234"})

	out, fired := s.Apply("key is sk-live-abc1234\n")
	assert.True(t, fired)
	assert.Equal(t, "key is [REDACTED...1234]\n", out)
	assert.NotContains(t, out, "sk-live-abc1234")
}

func TestApplyShortSecret(t *testing.T) {
	s := New([]string{"ab12"})

	out, fired := s.Apply("token ab12 here")
	assert.True(t, fired)
	assert.Equal(t, "token [REDACTED] here", out)
}

func TestApplyLongestFirst(t *testing.T) {
	// The short secret is a substring of the long one; the long one must
	// win so its tail is not left behind.
	long := "prefix-shared-tail"
	short := "shared"
	s := New([]string{short, long})

	out, fired := s.Apply("value: " + long)
	assert.True(t, fired)
	assert.NotContains(t, out, long)
	assert.NotContains(t, out, short)
}

func TestApplyMultipleOccurrences(t *testing.T) {
	s := New([]string{"topsecret"})

	out, fired := s.Apply("topsecret and again topsecret")
	assert.True(t, fired)
	assert.Equal(t, 2, strings.Count(out, "[REDACTED...cret]"))
}

func TestApplyNoMatch(t *testing.T) {
	s := New([]string{"topsecret"})

	out, fired := s.Apply("nothing to see")
	assert.False(t, fired)
	assert.Equal(t, "nothing to see", out)
}

func TestApplyEmptyInputs(t *testing.T) {
	s := New(nil)
	out, fired := s.Apply("text")
	assert.False(t, fired)
	assert.Equal(t, "text", out)

	s = New([]string{"", "x"})
	out, fired = s.Apply("")
	assert.False(t, fired)
	assert.Equal(t, "", out)
}

func TestFromMap(t *testing.T) {
	s := FromMap(map[string]string{
		"API_KEY": "sk-live-abc1234",
		"TOKEN":   "tk-9999",
	})

	out, fired := s.Apply("sk-live-abc1234 tk-9999")
	assert.True(t, fired)
	assert.Equal(t, "[REDACTED...1234] [REDACTED...9999]", out)
}

func TestNoExactSecretSurvives(t *testing.T) {
	secrets := []string{"alpha-secret-1", "beta22", "c3", "delta-very-long-secret-value"}
	s := New(secrets)

	text := "alpha-secret-1 beta22 c3 delta-very-long-secret-value mixed alpha-secret-1"
	out, _ := s.Apply(text)
	for _, secret := range secrets {
		if len(secret) > 4 {
			assert.NotContains(t, out, secret)
		}
	}
}
