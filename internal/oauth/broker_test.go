package oauth

import (
	"strings"
	"testing"
	"time"

	"calsync/internal/config"
	"calsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBroker() *Broker {
	return NewBroker(config.GoogleConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURI:  "https://app.example.com/api/v1/calendar/callback",
	}, "test-state-secret")
}

func TestStateRoundTrip(t *testing.T) {
	b := testBroker()

	state, err := b.CreateState("user-42")
	require.NoError(t, err)
	require.Contains(t, state, ".")

	userID, err := b.ParseState(state)
	require.NoError(t, err)
	assert.Equal(t, "user-42", userID)
}

func TestStateUniquePerCall(t *testing.T) {
	b := testBroker()

	a, err := b.CreateState("user-42")
	require.NoError(t, err)
	c, err := b.CreateState("user-42")
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestParseStateRejectsTampering(t *testing.T) {
	b := testBroker()

	state, err := b.CreateState("user-42")
	require.NoError(t, err)
	parts := strings.SplitN(state, ".", 2)

	// Payload swapped for another user but signature untouched.
	other, err := b.CreateState("attacker")
	require.NoError(t, err)
	otherParts := strings.SplitN(other, ".", 2)

	_, err = b.ParseState(otherParts[0] + "." + parts[1])
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestParseStateRejectsWrongSecret(t *testing.T) {
	b := testBroker()
	state, err := b.CreateState("user-42")
	require.NoError(t, err)

	other := NewBroker(config.GoogleConfig{}, "different-secret")
	_, err = other.ParseState(state)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestParseStateRejectsGarbage(t *testing.T) {
	b := testBroker()

	for _, state := range []string{"", "nodot", "a.b.c", "!!!.sig"} {
		_, err := b.ParseState(state)
		assert.ErrorIs(t, err, ErrInvalidState, "state %q", state)
	}
}

func TestParseStateExpired(t *testing.T) {
	b := testBroker()
	b.now = func() time.Time { return time.Now().Add(-models.StateTTL - time.Minute) }

	state, err := b.CreateState("user-42")
	require.NoError(t, err)

	b.now = time.Now
	_, err = b.ParseState(state)
	assert.ErrorIs(t, err, ErrExpiredState)
}

func TestConsentURL(t *testing.T) {
	b := testBroker()
	state, err := b.CreateState("user-42")
	require.NoError(t, err)

	url := b.ConsentURL(state)
	assert.Contains(t, url, "access_type=offline")
	assert.Contains(t, url, "prompt=consent")
	assert.Contains(t, url, "client_id=client-id")
}
