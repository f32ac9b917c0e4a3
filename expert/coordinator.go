package expert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lighthouse/bridge/core"
	"github.com/lighthouse/bridge/eventstore"
	"github.com/lighthouse/bridge/ratelimit"
)

// heartbeatTimeout is how long an authenticated expert may go without a
// heartbeat and still count as available to join a collaboration session
// (heartbeatFresh). Eviction by the heartbeat monitor uses
// staleEvictionThreshold instead.
const heartbeatTimeout = 5 * time.Minute

// staleEvictionThreshold is the heartbeat age the background monitor acts
// on; it is wider than heartbeatTimeout so a single missed heartbeat
// under load doesn't evict an otherwise-healthy expert.
const staleEvictionThreshold = 10 * time.Minute

// sessionIdleTimeout is how long a collaboration session may sit without
// activity before the session-cleanup sweep ends it.
const sessionIdleTimeout = 24 * time.Hour

const defaultAuthSecret = "lighthouse-expert-coordination"

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger attaches a structured logger.
func WithLogger(logger core.Logger) Option {
	return func(c *Coordinator) {
		if cal, ok := logger.(core.ComponentAwareLogger); ok {
			c.logger = cal.WithComponent("expert")
			return
		}
		c.logger = logger
	}
}

// WithEventStore attaches the bridge event store; when set, expert
// registrations, authentication failures, DelegateCommand/
// CompleteDelegation, StartCollaborationSession/EndCollaborationSession
// and heartbeat evictions are appended as coordination events for the
// audit trail. Delegate and Complete append nothing. Coordination
// logging is entirely optional — a nil store (the default) just skips it.
func WithEventStore(store *eventstore.Store) Option {
	return func(c *Coordinator) { c.store = store }
}

// WithAuthSecret overrides the HMAC secret used to verify registration
// challenges and mint session tokens. Defaults to a fixed fallback
// constant, matching the original coordinator's behavior when no secret
// is configured; production deployments should always set one.
func WithAuthSecret(secret string) Option {
	return func(c *Coordinator) { c.authSecret = []byte(secret) }
}

// Coordinator matches delegation requests to registered experts, tracks
// the resulting collaboration sessions end to end, and authenticates
// experts before letting them receive delegated commands or join
// collaboration sessions.
type Coordinator struct {
	registry        Registry
	security        CommandSecurity
	logger          core.Logger
	store           *eventstore.Store
	authSecret      []byte
	registerLimiter *ratelimit.Limiter

	mu            sync.RWMutex
	sessions      map[string]*CollaborationSession
	authenticated map[string]*AuthenticatedExpert
	tokens        map[string]string // auth token -> agent id
	delegations   map[string]*Delegation
	expertSessions map[string]map[string]bool // expert id -> set of session ids it's currently busy in
	stats         Stats

	shutdown chan struct{}
}

// NewCoordinator builds a Coordinator over the given Registry.
func NewCoordinator(registry Registry, logger core.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("expert")
	}

	registerCfg := ratelimit.DefaultConfig()
	registerCfg.CreateRatePerMinute = 60
	registerCfg.CreateBurst = 0

	c := &Coordinator{
		registry:        registry,
		security:        CommandSecurity{},
		logger:          logger,
		authSecret:      []byte(defaultAuthSecret),
		registerLimiter: ratelimit.NewLimiter(registerCfg),
		sessions:        make(map[string]*CollaborationSession),
		authenticated:   make(map[string]*AuthenticatedExpert),
		tokens:          make(map[string]string),
		delegations:     make(map[string]*Delegation),
		expertSessions:  make(map[string]map[string]bool),
		shutdown:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GenerateAuthChallenge produces the HMAC challenge an expert must echo
// back to RegisterExpert within core.HMACTokenSkew to prove it holds the
// coordinator's auth secret.
func (c *Coordinator) GenerateAuthChallenge(agentID string) string {
	return core.SignAuthToken(c.authSecret, agentID, time.Now())
}

// RegisterExpert verifies authChallenge, mints a session auth token, and
// adds e to the registry. The returned token authenticates every
// subsequent DelegateCommand/StartCollaborationSession call the expert
// makes.
func (c *Coordinator) RegisterExpert(ctx context.Context, e *Expert, authChallenge string) (string, error) {
	const op = "expert.RegisterExpert"
	if e.ID == "" {
		return "", core.NewFrameworkError(op, core.KindInvalidInput, fmt.Errorf("expert id required"))
	}

	if !c.registerLimiter.Allow(e.ID, ratelimit.BucketCreate) {
		c.recordAuthFailure(e.ID, "rate_limited")
		return "", core.NewFrameworkErrorWithID(op, core.KindRateLimited, e.ID, fmt.Errorf("registration rate limit exceeded"))
	}

	if !core.VerifyAuthToken(c.authSecret, e.ID, authChallenge, time.Now()) {
		c.recordAuthFailure(e.ID, "invalid_challenge")
		return "", core.NewFrameworkErrorWithID(op, core.KindAuth, e.ID, fmt.Errorf("authentication challenge failed"))
	}

	now := time.Now()
	if e.RegisteredAt.IsZero() {
		e.RegisteredAt = now
	}
	e.LastSeen = now
	if e.Status == "" {
		e.Status = StatusAvailable
	}

	if err := c.registry.Register(ctx, e); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	token := core.SignAuthToken(c.authSecret, e.ID, now)

	c.mu.Lock()
	c.authenticated[e.ID] = &AuthenticatedExpert{AgentID: e.ID, AuthToken: token, RegisteredAt: now, LastHeartbeat: now}
	c.tokens[token] = e.ID
	c.stats.TotalExperts = len(c.authenticated)
	c.mu.Unlock()

	c.logEvent(eventstore.EventExpertRegistered, e.ID, map[string]interface{}{
		"capabilities": e.Capabilities,
	})
	c.logger.Info("expert registered", map[string]interface{}{"expert_id": e.ID, "capabilities": e.Capabilities})
	return token, nil
}

// AuthenticateExpert resolves an auth token to its registered Expert,
// refreshing the expert's last-heartbeat timestamp on success.
func (c *Coordinator) AuthenticateExpert(ctx context.Context, authToken string) (*Expert, bool) {
	c.mu.Lock()
	agentID, ok := c.tokens[authToken]
	if !ok {
		c.mu.Unlock()
		return nil, false
	}
	auth, ok := c.authenticated[agentID]
	if !ok {
		c.mu.Unlock()
		return nil, false
	}
	auth.LastHeartbeat = time.Now()
	c.mu.Unlock()

	expert, err := c.registry.Get(ctx, agentID)
	if err != nil {
		return nil, false
	}
	return expert, true
}

func (c *Coordinator) recordAuthFailure(agentID, reason string) {
	c.mu.Lock()
	c.stats.AuthFailures++
	c.mu.Unlock()
	c.logEvent(eventstore.EventExpertDisconnected, agentID, map[string]interface{}{"auth_failure_reason": reason})
	c.logger.Warn("expert authentication failure", map[string]interface{}{"expert_id": agentID, "reason": reason})
}

// Delegate matches requestingAgent's elicitation to the best available
// expert for capability, opens a CollaborationSession, and returns it.
// It does not dispatch the elicitation itself — that is the caller's
// (elicitation.Manager's) job; Delegate only answers "who". Unlike
// DelegateCommand, this path carries no command payload to validate, so
// it does not consult CommandSecurity.
func (c *Coordinator) Delegate(ctx context.Context, elicitationID, requestingAgent, capability string) (*CollaborationSession, error) {
	experts, err := c.registry.ByCapability(ctx, capability)
	if err != nil {
		return nil, fmt.Errorf("expert.Delegate: %w", err)
	}

	best := Best(experts, capability)
	if best == nil {
		return nil, core.NewFrameworkError("expert.Delegate", core.KindNotFound,
			fmt.Errorf("no available expert advertises capability %q", capability))
	}

	now := time.Now()
	session := &CollaborationSession{
		ID:              "collab_" + uuid.NewString(),
		ElicitationID:   elicitationID,
		RequestingAgent: requestingAgent,
		ExpertID:        best.ID,
		Capability:      capability,
		Score:           Score(best),
		Status:          "active",
		StartedAt:       now,
		LastActivity:    now,
	}

	c.mu.Lock()
	c.sessions[session.ID] = session
	c.mu.Unlock()

	best.CurrentContexts++
	if err := c.registry.Register(ctx, best); err != nil {
		c.logger.Warn("failed to persist expert load increment", map[string]interface{}{
			"expert_id": best.ID, "error": err.Error(),
		})
	}

	c.logger.Info("delegated elicitation to expert", map[string]interface{}{
		"session_id": session.ID, "expert_id": best.ID, "capability": capability, "score": session.Score,
	})
	return session, nil
}

// Complete records the outcome of a collaboration session and releases
// the expert's load slot, updating its rolling success rate.
func (c *Coordinator) Complete(ctx context.Context, sessionID string, success bool) error {
	c.mu.Lock()
	session, ok := c.sessions[sessionID]
	c.mu.Unlock()
	if !ok {
		return core.NewFrameworkErrorWithID("expert.Complete", core.KindNotFound, sessionID, fmt.Errorf("collaboration session not found"))
	}

	now := time.Now()
	c.mu.Lock()
	session.CompletedAt = &now
	session.Success = &success
	if success {
		session.Status = "completed"
	} else {
		session.Status = "failed"
	}
	c.mu.Unlock()

	expert, err := c.registry.Get(ctx, session.ExpertID)
	if err != nil {
		return fmt.Errorf("expert.Complete: %w", err)
	}

	if expert.CurrentContexts > 0 {
		expert.CurrentContexts--
	}
	expert.AvgResponseTime = updateAverage(expert.AvgResponseTime, now.Sub(session.StartedAt).Seconds())
	expert.SuccessRate = updateEMA(expert.SuccessRate, success)

	return c.registry.Register(ctx, expert)
}

// Session returns a collaboration session by id.
func (c *Coordinator) Session(sessionID string) (*CollaborationSession, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sessions[sessionID]
	return s, ok
}

// DelegateCommand authenticates the requester, validates commandData
// against CommandSecurity's denylist/path/permission checks, selects the
// best expert advertising every capability in requiredCapabilities, and
// opens a Delegation against it.
func (c *Coordinator) DelegateCommand(ctx context.Context, requesterToken, commandType string, commandData map[string]interface{}, requiredCapabilities []string, timeout time.Duration) (*Delegation, error) {
	const op = "expert.DelegateCommand"

	requester, ok := c.AuthenticateExpert(ctx, requesterToken)
	if !ok {
		return nil, core.NewFrameworkError(op, core.KindAuth, fmt.Errorf("authentication failed"))
	}

	if ok, reason := c.security.Validate(commandType, commandData, requester.Permissions); !ok {
		return nil, core.NewFrameworkError(op, core.KindSecurity, fmt.Errorf("security validation failed: %s", reason))
	}

	if len(requiredCapabilities) == 0 {
		return nil, core.NewFrameworkError(op, core.KindInvalidInput, fmt.Errorf("required_capabilities must not be empty"))
	}

	candidates, err := c.registry.ByCapability(ctx, requiredCapabilities[0])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	candidates = filterHasAllCapabilities(candidates, requiredCapabilities)

	selected := Best(candidates, requiredCapabilities[0])
	if selected == nil {
		return nil, core.NewFrameworkError(op, core.KindNotFound, fmt.Errorf("no capable expert available for %v", requiredCapabilities))
	}

	now := time.Now()
	delegation := &Delegation{
		ID:                   "deleg_" + uuid.NewString(),
		RequesterID:          requester.ID,
		ExpertID:             selected.ID,
		CommandType:          commandType,
		CommandData:          commandData,
		RequiredCapabilities: requiredCapabilities,
		Status:               "pending",
		CreatedAt:            now,
		TimeoutAt:            now.Add(timeout),
	}

	c.mu.Lock()
	c.delegations[delegation.ID] = delegation
	c.stats.CommandsDelegated++
	c.mu.Unlock()

	selected.Status = StatusBusy
	if err := c.registry.Register(ctx, selected); err != nil {
		c.logger.Warn("failed to mark expert busy", map[string]interface{}{"expert_id": selected.ID, "error": err.Error()})
	}

	c.logEvent(eventstore.EventCommandDelegated, delegation.ID, map[string]interface{}{
		"requester_id": requester.ID, "expert_id": selected.ID, "command_type": commandType, "capabilities": requiredCapabilities,
	})
	c.logger.Info("command delegated", map[string]interface{}{
		"delegation_id": delegation.ID, "expert_id": selected.ID, "command_type": commandType,
	})
	return delegation, nil
}

// CompleteDelegation records a delegated command's outcome and frees the
// expert it was assigned to back to StatusAvailable.
func (c *Coordinator) CompleteDelegation(ctx context.Context, delegationID string, success bool) error {
	const op = "expert.CompleteDelegation"

	c.mu.Lock()
	delegation, ok := c.delegations[delegationID]
	c.mu.Unlock()
	if !ok {
		return core.NewFrameworkErrorWithID(op, core.KindNotFound, delegationID, fmt.Errorf("delegation not found"))
	}

	c.mu.Lock()
	if success {
		delegation.Status = "completed"
		c.stats.CommandsCompleted++
	} else {
		delegation.Status = "failed"
	}
	c.mu.Unlock()

	expert, err := c.registry.Get(ctx, delegation.ExpertID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	expert.Status = StatusAvailable
	expert.SuccessRate = updateEMA(expert.SuccessRate, success)
	if err := c.registry.Register(ctx, expert); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	c.logEvent(eventstore.EventCommandCompleted, delegationID, map[string]interface{}{
		"expert_id": delegation.ExpertID, "success": success,
	})
	return nil
}

// StartCollaborationSession authenticates coordinatorToken, validates
// that every participant is registered and authenticated, and opens a
// multi-participant CollaborationSession with one logical communication
// channel per participant.
func (c *Coordinator) StartCollaborationSession(ctx context.Context, coordinatorToken string, participantIDs []string, sharedContext map[string]interface{}) (*CollaborationSession, error) {
	const op = "expert.StartCollaborationSession"

	coordinator, ok := c.AuthenticateExpert(ctx, coordinatorToken)
	if !ok {
		return nil, core.NewFrameworkError(op, core.KindAuth, fmt.Errorf("coordinator authentication failed"))
	}

	participants := make([]string, 0, len(participantIDs))
	for _, pid := range participantIDs {
		expert, err := c.registry.Get(ctx, pid)
		if err != nil {
			return nil, core.NewFrameworkErrorWithID(op, core.KindNotFound, pid, fmt.Errorf("participant %s not registered", pid))
		}
		if !c.heartbeatFresh(pid) || expert.Status == StatusOffline {
			return nil, core.NewFrameworkErrorWithID(op, core.KindForbidden, pid, fmt.Errorf("participant %s not available", pid))
		}
		participants = append(participants, pid)
	}

	now := time.Now()
	sessionID := "collab_" + uuid.NewString()
	channels := make(map[string]string, len(participants))
	for _, pid := range participants {
		channels[pid] = fmt.Sprintf("sessions/%s/%s", sessionID, pid)
	}

	session := &CollaborationSession{
		ID:                    sessionID,
		CoordinatorID:         coordinator.ID,
		Participants:          participants,
		SharedContext:         sharedContext,
		CommunicationChannels: channels,
		Status:                "active",
		StartedAt:             now,
		LastActivity:          now,
	}

	c.mu.Lock()
	c.sessions[sessionID] = session
	for _, pid := range participants {
		if c.expertSessions[pid] == nil {
			c.expertSessions[pid] = make(map[string]bool)
		}
		c.expertSessions[pid][sessionID] = true
	}
	c.stats.ActiveSessions++
	c.mu.Unlock()

	for _, pid := range participants {
		expert, err := c.registry.Get(ctx, pid)
		if err != nil {
			continue
		}
		expert.Status = StatusBusy
		c.registry.Register(ctx, expert)
	}

	c.logEvent(eventstore.EventCollaborationStarted, sessionID, map[string]interface{}{
		"coordinator_id": coordinator.ID, "participants": participants,
	})
	c.logger.Info("collaboration session started", map[string]interface{}{
		"session_id": sessionID, "participants": participants,
	})
	return session, nil
}

// EndCollaborationSession closes a multi-participant session, releasing
// any participant not busy in another session back to StatusAvailable.
func (c *Coordinator) EndCollaborationSession(ctx context.Context, sessionID, reason string) error {
	c.mu.Lock()
	session, ok := c.sessions[sessionID]
	if !ok {
		c.mu.Unlock()
		return core.NewFrameworkErrorWithID("expert.EndCollaborationSession", core.KindNotFound, sessionID, fmt.Errorf("collaboration session not found"))
	}

	var released []string
	for _, pid := range session.Participants {
		if set := c.expertSessions[pid]; set != nil {
			delete(set, sessionID)
			if len(set) == 0 {
				delete(c.expertSessions, pid)
				released = append(released, pid)
			}
		}
	}
	session.Status = "completed"
	now := time.Now()
	session.CompletedAt = &now
	if c.stats.ActiveSessions > 0 {
		c.stats.ActiveSessions--
	}
	c.mu.Unlock()

	for _, pid := range released {
		expert, err := c.registry.Get(ctx, pid)
		if err != nil {
			continue
		}
		expert.Status = StatusAvailable
		c.registry.Register(ctx, expert)
	}

	c.logEvent(eventstore.EventCollaborationEnded, sessionID, map[string]interface{}{
		"reason": reason, "duration_seconds": now.Sub(session.StartedAt).Seconds(),
	})
	c.logger.Info("collaboration session ended", map[string]interface{}{"session_id": sessionID, "reason": reason})
	return nil
}

// Stats returns a snapshot of coordinator load. ActiveExperts,
// SystemLoad and PendingDelegations are as of the last RunStatsRefresh
// (zero if it never ran); TotalExperts, ActiveSessions and the command
// and auth-failure counters are also updated as operations happen.
func (c *Coordinator) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// RunHeartbeatSweep evicts experts whose last heartbeat is older than
// staleEvictionThreshold, ending any collaboration session they're still
// holding open. Returns the number of experts evicted.
func (c *Coordinator) RunHeartbeatSweep(ctx context.Context) int {
	cutoff := time.Now().Add(-staleEvictionThreshold)

	c.mu.Lock()
	var stale []string
	for agentID, auth := range c.authenticated {
		if auth.LastHeartbeat.Before(cutoff) {
			stale = append(stale, agentID)
		}
	}
	c.mu.Unlock()

	for _, agentID := range stale {
		c.mu.Lock()
		sessions := make([]string, 0, len(c.expertSessions[agentID]))
		for sid := range c.expertSessions[agentID] {
			sessions = append(sessions, sid)
		}
		delete(c.authenticated, agentID)
		for token, id := range c.tokens {
			if id == agentID {
				delete(c.tokens, token)
			}
		}
		c.mu.Unlock()

		for _, sid := range sessions {
			c.EndCollaborationSession(ctx, sid, "expert_disconnected")
		}

		if err := c.registry.Unregister(ctx, agentID); err != nil {
			c.logger.Warn("failed to unregister stale expert", map[string]interface{}{"expert_id": agentID, "error": err.Error()})
		}
		c.logEvent(eventstore.EventExpertDisconnected, agentID, map[string]interface{}{"reason": "heartbeat_timeout"})
		c.logger.Info("evicted stale expert", map[string]interface{}{"expert_id": agentID})
	}
	return len(stale)
}

// RunSessionCleanupSweep ends every collaboration session that has been
// idle past sessionIdleTimeout. Returns the number of sessions ended.
func (c *Coordinator) RunSessionCleanupSweep(ctx context.Context) int {
	cutoff := time.Now().Add(-sessionIdleTimeout)

	c.mu.RLock()
	var expired []string
	for id, session := range c.sessions {
		if session.CompletedAt == nil && session.LastActivity.Before(cutoff) {
			expired = append(expired, id)
		}
	}
	c.mu.RUnlock()

	for _, id := range expired {
		c.EndCollaborationSession(ctx, id, "session_expired")
	}
	return len(expired)
}

// RunStatsRefresh recomputes the registry-derived fields of Stats
// (TotalExperts, ActiveExperts, SystemLoad, PendingDelegations).
func (c *Coordinator) RunStatsRefresh(ctx context.Context) int {
	experts, err := c.registry.ListAll(ctx)
	if err != nil {
		c.logger.Warn("stats refresh failed to list experts", map[string]interface{}{"error": err.Error()})
		return 0
	}

	active, busy := 0, 0
	for _, e := range experts {
		if e.Status != StatusOffline {
			active++
		}
		if e.Status == StatusBusy {
			busy++
		}
	}
	load := 0.0
	if len(experts) > 0 {
		load = float64(busy) / float64(len(experts))
	}

	c.mu.Lock()
	c.stats.TotalExperts = len(experts)
	c.stats.ActiveExperts = active
	c.stats.SystemLoad = load
	c.stats.PendingDelegations = len(c.delegations)
	c.mu.Unlock()
	return len(experts)
}

// Start launches the coordinator's cooperative background sweeps
// (heartbeat monitor, session cleanup, stats refresh) until Stop is
// called. Each loop is "while !shutdown { sleep(interval); try_work() }"
// with no internal retry, matching the rest of the bridge's background
// task shape.
func (c *Coordinator) Start(ctx context.Context) {
	go c.sweepLoop(ctx, time.Minute, func() int { return c.RunHeartbeatSweep(ctx) })
	go c.sweepLoop(ctx, time.Hour, func() int { return c.RunSessionCleanupSweep(ctx) })
	go c.sweepLoop(ctx, 30*time.Second, func() int { return c.RunStatsRefresh(ctx) })
}

func (c *Coordinator) sweepLoop(ctx context.Context, interval time.Duration, work func() int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdown:
			return
		case <-ticker.C:
			work()
		}
	}
}

// Stop signals every background sweep to exit.
func (c *Coordinator) Stop() {
	close(c.shutdown)
}

// heartbeatFresh reports whether agentID is authenticated and its last
// heartbeat is within heartbeatTimeout, the availability bar a
// collaboration-session participant must clear.
func (c *Coordinator) heartbeatFresh(agentID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	auth, ok := c.authenticated[agentID]
	if !ok {
		return false
	}
	return time.Since(auth.LastHeartbeat) <= heartbeatTimeout
}

func (c *Coordinator) logEvent(eventType eventstore.EventType, aggregateID string, data map[string]interface{}) {
	if c.store == nil {
		return
	}
	// The event validator accepts lists only as []interface{}.
	for k, v := range data {
		if list, ok := v.([]string); ok {
			items := make([]interface{}, len(list))
			for i, s := range list {
				items[i] = s
			}
			data[k] = items
		}
	}
	event := &eventstore.Event{
		EventType:       eventType,
		AggregateID:     aggregateID,
		AggregateType:   "expert_coordination",
		SourceComponent: "expert-coordinator",
		Data:            data,
	}
	if err := c.store.Append(event); err != nil {
		c.logger.Error("coordination event append failed", map[string]interface{}{"error": err.Error(), "event_type": string(eventType)})
	}
}

// filterHasAllCapabilities narrows candidates to experts advertising
// every capability in required, not just the one ByCapability indexed on.
func filterHasAllCapabilities(candidates []*Expert, required []string) []*Expert {
	out := make([]*Expert, 0, len(candidates))
	for _, e := range candidates {
		has := make(map[string]bool, len(e.Capabilities))
		for _, c := range e.Capabilities {
			has[c] = true
		}
		all := true
		for _, req := range required {
			if !has[req] {
				all = false
				break
			}
		}
		if all {
			out = append(out, e)
		}
	}
	return out
}

// updateAverage is a simple exponential smoothing of response time
// (alpha = 0.3), avoiding the need to store a full history per expert.
func updateAverage(current, sample float64) float64 {
	if current == 0 {
		return sample
	}
	const alpha = 0.3
	return alpha*sample + (1-alpha)*current
}

// updateEMA smooths a 0..1 success rate toward the latest outcome.
func updateEMA(current float64, success bool) float64 {
	const alpha = 0.2
	outcome := 0.0
	if success {
		outcome = 1.0
	}
	if current == 0 {
		return outcome
	}
	return alpha*outcome + (1-alpha)*current
}
