package elicitation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lighthouse/bridge/core"
	"github.com/lighthouse/bridge/eventstore"
	"github.com/lighthouse/bridge/ratelimit"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	dir := t.TempDir()
	store, err := eventstore.Open(eventstore.Options{Dir: dir, Secret: "store-secret"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	nonces := ratelimit.NewNonceStore()
	limiter := ratelimit.NewLimiter(ratelimit.DefaultConfig())

	return NewManager(store, nonces, limiter, NoOpAuditor{}, "store-secret")
}

func TestCreateElicitationSucceeds(t *testing.T) {
	m := newTestManager(t)

	req, err := m.CreateElicitation(context.Background(), "agent_a", "agent_b", "need input", nil, time.Minute)
	require.NoError(t, err)

	assert.Equal(t, StatusPending, req.Status)
	assert.NotEmpty(t, req.RequestSignature)
	assert.NotEmpty(t, req.ExpectedResponseKey)
	assert.Contains(t, req.ID, "elicit_")

	pending := m.GetPendingElicitations("agent_b")
	require.Len(t, pending, 1)
	assert.Equal(t, req.ID, pending[0].ID)
}

func TestCreateElicitationRefusedDuringEmergencyRollback(t *testing.T) {
	dir := t.TempDir()
	store, err := eventstore.Open(eventstore.Options{Dir: dir, Secret: "store-secret"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	flags, err := core.NewFeatureFlags("")
	require.NoError(t, err)
	require.NoError(t, flags.SetRolloutPercentage("elicitation_enabled", 100))
	require.NoError(t, flags.EmergencyRollback("elicitation_enabled"))

	m := NewManager(store, ratelimit.NewNonceStore(), ratelimit.NewLimiter(ratelimit.DefaultConfig()),
		NoOpAuditor{}, "store-secret", WithFeatureFlags(flags))

	_, err = m.CreateElicitation(context.Background(), "agent_a", "agent_b", "need input", nil, time.Minute)
	require.Error(t, err)
	assert.Equal(t, core.KindShutdown, core.KindOf(err))
}

func TestRespondAcceptByCorrectResponderSucceeds(t *testing.T) {
	m := newTestManager(t)
	req, err := m.CreateElicitation(context.Background(), "agent_a", "agent_b", "need input", nil, time.Minute)
	require.NoError(t, err)

	err = m.RespondToElicitation(context.Background(), req.ID, "agent_b", ResponseAccept, map[string]interface{}{"answer": "yes"})
	require.NoError(t, err)

	status, ok := m.GetElicitationStatus(req.ID)
	require.True(t, ok)
	assert.Equal(t, StatusAccepted, status.Status)
}

func TestRespondByWrongAgentFailsUnauthorized(t *testing.T) {
	m := newTestManager(t)
	req, err := m.CreateElicitation(context.Background(), "agent_a", "agent_b", "need input", nil, time.Minute)
	require.NoError(t, err)

	err = m.RespondToElicitation(context.Background(), req.ID, "agent_c", ResponseAccept, map[string]interface{}{"answer": "yes"})
	require.Error(t, err)

	status, ok := m.GetElicitationStatus(req.ID)
	require.True(t, ok)
	assert.Equal(t, StatusPending, status.Status)
}

func TestRespondReplayFailsOnSecondAttempt(t *testing.T) {
	m := newTestManager(t)
	req, err := m.CreateElicitation(context.Background(), "agent_a", "agent_b", "need input", nil, time.Minute)
	require.NoError(t, err)

	require.NoError(t, m.RespondToElicitation(context.Background(), req.ID, "agent_b", ResponseAccept, nil))

	// The request is already terminal, so a second attempt is rejected
	// as not_found before the nonce is even re-checked.
	err = m.RespondToElicitation(context.Background(), req.ID, "agent_b", ResponseAccept, nil)
	require.Error(t, err)
}

func TestRespondAfterExpiryFails(t *testing.T) {
	m := newTestManager(t)
	req, err := m.CreateElicitation(context.Background(), "agent_a", "agent_b", "need input", nil, 10*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	err = m.RespondToElicitation(context.Background(), req.ID, "agent_b", ResponseAccept, nil)
	require.Error(t, err)

	status, ok := m.GetElicitationStatus(req.ID)
	require.True(t, ok)
	assert.Equal(t, StatusExpired, status.Status)
}

func TestCancelByRequesterSucceeds(t *testing.T) {
	m := newTestManager(t)
	req, err := m.CreateElicitation(context.Background(), "agent_a", "agent_b", "need input", nil, time.Minute)
	require.NoError(t, err)

	err = m.RespondToElicitation(context.Background(), req.ID, "agent_a", ResponseCancel, nil)
	require.NoError(t, err)

	status, ok := m.GetElicitationStatus(req.ID)
	require.True(t, ok)
	assert.Equal(t, StatusCancelled, status.Status)
}

func TestCancelByNonRequesterFails(t *testing.T) {
	m := newTestManager(t)
	req, err := m.CreateElicitation(context.Background(), "agent_a", "agent_b", "need input", nil, time.Minute)
	require.NoError(t, err)

	err = m.RespondToElicitation(context.Background(), req.ID, "agent_b", ResponseCancel, nil)
	require.Error(t, err)
}

func TestRunExpirySweepExpiresDueRequests(t *testing.T) {
	m := newTestManager(t)
	req, err := m.CreateElicitation(context.Background(), "agent_a", "agent_b", "need input", nil, 5*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	n := m.RunExpirySweep()
	assert.Equal(t, 1, n)

	status, ok := m.GetElicitationStatus(req.ID)
	require.True(t, ok)
	assert.Equal(t, StatusExpired, status.Status)
}

func TestSubscribeToNotificationsDeliversRequestAndResponse(t *testing.T) {
	m := newTestManager(t)
	req, err := m.CreateElicitation(context.Background(), "agent_a", "agent_b", "need input", nil, time.Minute)
	require.NoError(t, err)

	notesForB := m.SubscribeToNotifications("agent_b")
	require.Len(t, notesForB, 1)
	assert.Equal(t, NotificationRequest, notesForB[0].Type)

	require.NoError(t, m.RespondToElicitation(context.Background(), req.ID, "agent_b", ResponseAccept, nil))

	notesForA := m.SubscribeToNotifications("agent_a")
	require.Len(t, notesForA, 1)
	assert.Equal(t, NotificationResponse, notesForA[0].Type)
}

func TestGetMetricsReflectsActivityAfterResponses(t *testing.T) {
	m := newTestManager(t)
	req, err := m.CreateElicitation(context.Background(), "agent_a", "agent_b", "need input", nil, time.Minute)
	require.NoError(t, err)
	require.NoError(t, m.RespondToElicitation(context.Background(), req.ID, "agent_b", ResponseAccept, nil))

	snap := m.GetMetrics()
	assert.Equal(t, 1.0, snap.DeliveryRate)
}

func TestRespondEnforcesRateLimit(t *testing.T) {
	dir := t.TempDir()
	store, err := eventstore.Open(eventstore.Options{Dir: dir, Secret: "store-secret"})
	require.NoError(t, err)
	defer store.Close()

	cfg := ratelimit.DefaultConfig()
	cfg.RespondRatePerMinute = 0
	cfg.RespondBurst = 1
	limiter := ratelimit.NewLimiter(cfg)
	nonces := ratelimit.NewNonceStore()
	m := NewManager(store, nonces, limiter, NoOpAuditor{}, "store-secret")

	req1, err := m.CreateElicitation(context.Background(), "agent_a", "agent_b", "m1", nil, time.Minute)
	require.NoError(t, err)
	req2, err := m.CreateElicitation(context.Background(), "agent_a", "agent_b", "m2", nil, time.Minute)
	require.NoError(t, err)

	require.NoError(t, m.RespondToElicitation(context.Background(), req1.ID, "agent_b", ResponseAccept, nil))
	err = m.RespondToElicitation(context.Background(), req2.ID, "agent_b", ResponseAccept, nil)
	require.Error(t, err)
}
