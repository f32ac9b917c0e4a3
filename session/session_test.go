package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSessionAndValidate(t *testing.T) {
	v := NewValidator("secret", DefaultConfig())
	s, err := v.CreateSession("agent_a", "1.2.3.4", "test-ua")
	require.NoError(t, err)

	ok := v.ValidateSession(s.SessionToken, "agent_a", "1.2.3.4", "test-ua")
	assert.True(t, ok)
}

func TestValidateSessionRejectsWrongAgent(t *testing.T) {
	v := NewValidator("secret", DefaultConfig())
	s, err := v.CreateSession("agent_a", "1.2.3.4", "ua")
	require.NoError(t, err)

	assert.False(t, v.ValidateSession(s.SessionToken, "agent_b", "1.2.3.4", "ua"))
}

func TestValidateSessionRejectsTamperedToken(t *testing.T) {
	v := NewValidator("secret", DefaultConfig())
	s, err := v.CreateSession("agent_a", "1.2.3.4", "ua")
	require.NoError(t, err)

	tampered := s.SessionToken + "ff"
	assert.False(t, v.ValidateSession(tampered, "agent_a", "1.2.3.4", "ua"))
}

func TestValidateSessionDetectsIPChange(t *testing.T) {
	v := NewValidator("secret", DefaultConfig())
	s, err := v.CreateSession("agent_a", "1.2.3.4", "ua")
	require.NoError(t, err)

	assert.False(t, v.ValidateSession(s.SessionToken, "agent_a", "9.9.9.9", "ua"))
}

func TestValidateSessionDetectsUserAgentChange(t *testing.T) {
	v := NewValidator("secret", DefaultConfig())
	s, err := v.CreateSession("agent_a", "1.2.3.4", "ua-1")
	require.NoError(t, err)

	assert.False(t, v.ValidateSession(s.SessionToken, "agent_a", "1.2.3.4", "ua-2"))
}

func TestConcurrentSessionCapEvictsOldest(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrentPerAgent = 2
	v := NewValidator("secret", cfg)

	s1, err := v.CreateSession("agent_a", "", "")
	require.NoError(t, err)
	_, err = v.CreateSession("agent_a", "", "")
	require.NoError(t, err)
	_, err = v.CreateSession("agent_a", "", "")
	require.NoError(t, err)

	assert.False(t, v.ValidateSession(s1.SessionToken, "agent_a", "", ""))
}

func TestSessionExpiresAfterTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SessionTimeout = 10 * time.Millisecond
	v := NewValidator("secret", cfg)

	s, err := v.CreateSession("agent_a", "", "")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	assert.False(t, v.ValidateSession(s.SessionToken, "agent_a", "", ""))
}

func TestRevokeSessionRejectsFurtherValidation(t *testing.T) {
	v := NewValidator("secret", DefaultConfig())
	s, err := v.CreateSession("agent_a", "", "")
	require.NoError(t, err)

	v.RevokeSession(s.SessionID, "manual")
	assert.False(t, v.ValidateSession(s.SessionToken, "agent_a", "", ""))
}

func TestCleanupExpiredCountsTransitioned(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SessionTimeout = 10 * time.Millisecond
	v := NewValidator("secret", cfg)

	_, err := v.CreateSession("agent_a", "", "")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	n := v.CleanupExpired()
	assert.Equal(t, 1, n)
}

func TestValidateMessageInterceptionRejectsReplayWithinWindow(t *testing.T) {
	v := NewValidator("secret", DefaultConfig())

	assert.True(t, v.ValidateMessageInterception("hello", "agent_a"))
	assert.False(t, v.ValidateMessageInterception("hello", "agent_a"))
}

func TestValidateMessageInterceptionAllowsDifferentAgents(t *testing.T) {
	v := NewValidator("secret", DefaultConfig())

	assert.True(t, v.ValidateMessageInterception("hello", "agent_a"))
	assert.True(t, v.ValidateMessageInterception("hello", "agent_b"))
}
