package elicitation

import (
	"context"
	"fmt"
	"time"

	"github.com/lighthouse/bridge/core"
	"github.com/lighthouse/bridge/eventstore"
	"github.com/lighthouse/bridge/ratelimit"
)

// Auditor is the narrow surface the manager needs from the audit logger:
// record a classified violation with a severity, and record a lifecycle
// event (created/response/expired) to the audit trail (spec §4.4). The
// manager never decides whether a violation also becomes a standalone
// security event — that policy lives entirely in the audit package.
type Auditor interface {
	RecordViolation(kind, severity, elicitationID string, details map[string]interface{})
	RecordLifecycle(eventType eventstore.EventType, elicitationID string, details map[string]interface{})
}

// NoOpAuditor discards every violation and lifecycle event. Useful for
// tests and for a manager running with audit disabled.
type NoOpAuditor struct{}

func (NoOpAuditor) RecordViolation(kind, severity, elicitationID string, details map[string]interface{}) {
}

func (NoOpAuditor) RecordLifecycle(eventType eventstore.EventType, elicitationID string, details map[string]interface{}) {
}

// ResponseType is the closed set of terminal response actions a
// responder or requester may take against a pending request.
type ResponseType string

const (
	ResponseAccept  ResponseType = "accept"
	ResponseDecline ResponseType = "decline"
	ResponseCancel  ResponseType = "cancel"
)

// Option configures a Manager.
type Option func(*Manager)

// WithDefaultTimeout overrides the elicitation timeout used when a
// caller does not specify one.
func WithDefaultTimeout(d time.Duration) Option {
	return func(m *Manager) { m.defaultTimeout = d }
}

// WithNotificationQueueDepth overrides the bounded per-agent
// notification queue depth.
func WithNotificationQueueDepth(depth int) Option {
	return func(m *Manager) { m.hub = newNotificationHub(depth) }
}

// WithLogger attaches a structured logger.
func WithLogger(logger core.Logger) Option {
	return func(m *Manager) {
		if cal, ok := logger.(core.ComponentAwareLogger); ok {
			m.logger = cal.WithComponent("elicitation")
			return
		}
		m.logger = logger
	}
}

// WithTelemetry attaches a span/metric emitter around RespondToElicitation.
func WithTelemetry(telemetry core.Telemetry) Option {
	return func(m *Manager) {
		if telemetry == nil {
			telemetry = &core.NoOpTelemetry{}
		}
		m.telemetry = telemetry
	}
}

// WithFeatureFlags gates CreateElicitation on the "elicitation_enabled"
// flag's emergency_rollback status (spec §6): while it is set,
// CreateElicitation refuses every new request with a shutdown-kind
// error.
func WithFeatureFlags(flags *core.FeatureFlags) Option {
	return func(m *Manager) { m.flags = flags }
}

// Manager is the Elicitation Manager hub: it holds no long-lived lock of
// its own — every mutation goes through the event store append followed
// by a short projection critical section (spec §5).
type Manager struct {
	store   *eventstore.Store
	nonces  *ratelimit.NonceStore
	limiter *ratelimit.Limiter
	auditor Auditor
	secret  []byte

	proj    *projection
	hub     *notificationHub
	metrics *metrics

	defaultTimeout time.Duration
	logger         core.Logger
	telemetry      core.Telemetry
	flags          *core.FeatureFlags

	shutdown chan struct{}
}

// NewManager wires a Manager from its required collaborators. secret is
// the store-wide HMAC secret used for request_signature and
// expected_response_key derivation (spec §4.2).
func NewManager(store *eventstore.Store, nonces *ratelimit.NonceStore, limiter *ratelimit.Limiter, auditor Auditor, secret string, opts ...Option) *Manager {
	if auditor == nil {
		auditor = NoOpAuditor{}
	}
	m := &Manager{
		store:          store,
		nonces:         nonces,
		limiter:        limiter,
		auditor:        auditor,
		secret:         []byte(secret),
		proj:           newProjection(),
		hub:            newNotificationHub(defaultQueueDepth),
		metrics:        newMetrics(),
		defaultTimeout: core.DefaultElicitationTimeout,
		logger:         &core.NoOpLogger{},
		telemetry:      &core.NoOpTelemetry{},
		shutdown:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateElicitation implements create_elicitation (spec §4.2).
func (m *Manager) CreateElicitation(ctx context.Context, fromAgent, toAgent, message string, schema map[string]interface{}, timeout time.Duration) (*Request, error) {
	const op = "elicitation.CreateElicitation"

	if m.flags != nil && m.flags.IsRolledBack("elicitation_enabled") {
		return nil, core.NewFrameworkError(op, core.KindShutdown, fmt.Errorf("elicitation disabled by emergency rollback"))
	}

	if fromAgent == "" || toAgent == "" || message == "" {
		return nil, core.NewFrameworkError(op, core.KindInvalidInput, fmt.Errorf("from_agent, to_agent, and message are required"))
	}
	if timeout <= 0 {
		timeout = m.defaultTimeout
	}

	if !m.limiter.Allow(fromAgent, ratelimit.BucketCreate) {
		m.metrics.recordSecurity(&m.metrics.rateLimited)
		return nil, core.NewFrameworkError(op, core.KindRateLimited, core.ErrRateLimited)
	}

	id, err := newElicitationID()
	if err != nil {
		return nil, core.NewFrameworkError(op, core.KindInvalidInput, err)
	}
	nonce, err := newNonce(core.MinNonceBits)
	if err != nil {
		return nil, core.NewFrameworkError(op, core.KindInvalidInput, err)
	}

	now := time.Now()
	req := &Request{
		ID:        id,
		FromAgent: fromAgent,
		ToAgent:   toAgent,
		Message:   message,
		Schema:    schema,
		Nonce:     nonce,
		CreatedAt: now,
		ExpiresAt: now.Add(timeout),
		Status:    StatusPending,
	}

	sig, err := signRequest(m.secret, req)
	if err != nil {
		return nil, core.NewFrameworkError(op, core.KindInvalidInput, err)
	}
	req.RequestSignature = sig
	req.ExpectedResponseKey = expectedResponseKey(m.secret, id, toAgent, nonce)

	if m.nonces.StoreNonce(nonce, id, timeout) == ratelimit.NonceDuplicate {
		return nil, core.NewFrameworkErrorWithID(op, core.KindResource, id, fmt.Errorf("nonce_store_failure: collision on generated nonce"))
	}

	event := &eventstore.Event{
		EventType:       eventstore.EventElicitationCreated,
		AggregateID:     id,
		AggregateType:   "elicitation",
		SourceAgent:     fromAgent,
		SourceComponent: "elicitation-manager",
		Data: map[string]interface{}{
			"to_agent":   toAgent,
			"message":    message,
			"expires_at": req.ExpiresAt.UTC().Format(time.RFC3339Nano),
		},
	}
	if err := m.store.Append(event); err != nil {
		return nil, err
	}

	m.proj.add(req)
	m.auditor.RecordLifecycle(eventstore.EventElicitationCreated, id, map[string]interface{}{
		"from_agent": fromAgent,
		"to_agent":   toAgent,
	})
	m.hub.publish(toAgent, Notification{Type: NotificationRequest, ElicitationID: id, Timestamp: now})

	return req, nil
}

// RespondToElicitation implements respond_to_elicitation (spec §4.2):
// accept/decline must come from to_agent, cancel must come from
// from_agent, and every path is nonce-gated and rate-limited.
func (m *Manager) RespondToElicitation(ctx context.Context, id, responder string, kind ResponseType, data map[string]interface{}) error {
	const op = "elicitation.RespondToElicitation"

	start := time.Now()
	_, span := m.telemetry.StartSpan(ctx, "elicitation.respond")
	span.SetAttribute("response_type", string(kind))
	defer span.End()
	defer func() {
		m.telemetry.RecordMetric("elicitation.response.duration_ms", float64(time.Since(start).Milliseconds()), map[string]string{
			"response_type": string(kind),
		})
	}()

	req, ok := m.proj.get(id)
	if !ok {
		m.metrics.recordSecurity(&m.metrics.notFound)
		err := core.NewFrameworkErrorWithID(op, core.KindNotFound, id, core.ErrNotFound)
		span.RecordError(err)
		return err
	}
	if req.Status.Terminal() {
		m.metrics.recordSecurity(&m.metrics.notFound)
		return core.NewFrameworkErrorWithID(op, core.KindNotFound, id, fmt.Errorf("elicitation already terminal"))
	}

	now := time.Now()
	if now.After(req.ExpiresAt) {
		m.expireOne(req, now)
		m.metrics.recordTimedOut()
		return core.NewFrameworkErrorWithID(op, core.KindExpired, id, core.ErrExpired)
	}

	if err := m.checkResponderIdentity(req, responder, kind); err != nil {
		return err
	}

	bucketKind := ratelimit.BucketRespond
	if !m.limiter.Allow(responder, bucketKind) {
		m.metrics.recordSecurity(&m.metrics.rateLimited)
		return core.NewFrameworkErrorWithID(op, core.KindRateLimited, id, core.ErrRateLimited)
	}

	if kind == ResponseAccept {
		if err := validateAgainstSchema(req.Schema, data); err != nil {
			m.metrics.recordSecurity(&m.metrics.schemaViolations)
			m.auditor.RecordViolation("SCHEMA_VIOLATION", "medium", id, map[string]interface{}{"error": err.Error()})
			return core.NewFrameworkErrorWithID(op, core.KindInvalidInput, id, err)
		}
	}

	switch m.nonces.ConsumeNonce(req.Nonce) {
	case ratelimit.ConsumeAlreadyUsed:
		m.metrics.recordSecurity(&m.metrics.replayAttempts)
		m.auditor.RecordViolation("REPLAY_ATTACK_PREVENTED", "critical", id, map[string]interface{}{"responder": responder})
		return core.NewFrameworkErrorWithID(op, core.KindReplayAttack, id, core.ErrReplayAttack)
	case ratelimit.ConsumeUnknown:
		m.metrics.recordSecurity(&m.metrics.notFound)
		return core.NewFrameworkErrorWithID(op, core.KindNotFound, id, core.ErrNotFound)
	}

	sig, err := signResponse(req.ExpectedResponseKey, id, responder, string(kind), data, req.Nonce, now)
	if err != nil {
		return core.NewFrameworkErrorWithID(op, core.KindInvalidInput, id, err)
	}

	status := statusFor(kind)
	event := &eventstore.Event{
		EventType:       eventTypeFor(kind),
		AggregateID:     id,
		AggregateType:   "elicitation",
		SourceAgent:     responder,
		SourceComponent: "elicitation-manager",
		Data: map[string]interface{}{
			"response_type":      string(kind),
			"response_signature": sig,
			"data":               data,
		},
	}
	if err := m.store.Append(event); err != nil {
		return err
	}

	req.ResponseType = string(kind)
	req.ResponseData = data
	req.RespondedAt = now
	m.proj.complete(id, status)
	m.auditor.RecordLifecycle(eventTypeFor(kind), id, map[string]interface{}{
		"responder":     responder,
		"response_type": string(kind),
	})

	m.metrics.recordDelivered()
	m.metrics.recordLatency(now.Sub(req.CreatedAt))

	notifyTarget := req.FromAgent
	m.hub.publish(notifyTarget, Notification{Type: NotificationResponse, ElicitationID: id, Timestamp: now})

	return nil
}

func (m *Manager) checkResponderIdentity(req *Request, responder string, kind ResponseType) error {
	const op = "elicitation.RespondToElicitation"
	switch kind {
	case ResponseAccept, ResponseDecline:
		if responder != req.ToAgent {
			m.metrics.recordSecurity(&m.metrics.unauthorizedResponses)
			m.auditor.RecordViolation("UNAUTHORIZED_ELICITATION_RESPONSE", "critical", req.ID, map[string]interface{}{
				"expected": req.ToAgent, "actual": responder,
			})
			return core.NewFrameworkErrorWithID(op, core.KindUnauthorized, req.ID, fmt.Errorf("unauthorized_response"))
		}
	case ResponseCancel:
		if responder != req.FromAgent {
			m.metrics.recordSecurity(&m.metrics.unauthorizedCancels)
			m.auditor.RecordViolation("UNAUTHORIZED_CANCEL", "high", req.ID, map[string]interface{}{
				"expected": req.FromAgent, "actual": responder,
			})
			return core.NewFrameworkErrorWithID(op, core.KindUnauthorized, req.ID, fmt.Errorf("unauthorized_cancel"))
		}
	default:
		return core.NewFrameworkErrorWithID(op, core.KindInvalidInput, req.ID, fmt.Errorf("unknown response kind %q", kind))
	}
	return nil
}

func statusFor(kind ResponseType) Status {
	switch kind {
	case ResponseAccept:
		return StatusAccepted
	case ResponseDecline:
		return StatusDeclined
	case ResponseCancel:
		return StatusCancelled
	}
	return StatusPending
}

func eventTypeFor(kind ResponseType) eventstore.EventType {
	switch kind {
	case ResponseAccept:
		return eventstore.EventElicitationAccepted
	case ResponseDecline:
		return eventstore.EventElicitationDeclined
	case ResponseCancel:
		return eventstore.EventElicitationCanceled
	}
	return eventstore.EventCustom
}

// GetPendingElicitations implements get_pending_elicitations.
func (m *Manager) GetPendingElicitations(agentID string) []SafeView {
	return m.proj.pendingFor(agentID)
}

// GetElicitationStatus implements get_elicitation_status.
func (m *Manager) GetElicitationStatus(id string) (SafeView, bool) {
	req, ok := m.proj.get(id)
	if !ok {
		return SafeView{}, false
	}
	return req.SafeView(), true
}

// SubscribeToNotifications implements subscribe_to_notifications: it
// drains whatever is currently queued for agentID. Callers poll or wrap
// this in their own push transport; the hub itself holds no long-lived
// per-subscriber connection state.
func (m *Manager) SubscribeToNotifications(agentID string) []Notification {
	return m.hub.drain(agentID)
}

// GetMetrics implements get_metrics.
func (m *Manager) GetMetrics() Snapshot {
	active, _ := m.proj.counts()
	pendingCount := active
	return m.metrics.snapshot(active, pendingCount)
}

func (m *Manager) expireOne(req *Request, now time.Time) {
	event := &eventstore.Event{
		EventType:       eventstore.EventElicitationExpired,
		AggregateID:     req.ID,
		AggregateType:   "elicitation",
		SourceComponent: "elicitation-manager",
		Data: map[string]interface{}{
			"expired_at": now.UTC().Format(time.RFC3339Nano),
		},
	}
	if err := m.store.Append(event); err != nil {
		m.logger.Error("failed to append expiry event", map[string]interface{}{"id": req.ID, "error": err.Error()})
		return
	}
	m.proj.complete(req.ID, StatusExpired)
	m.auditor.RecordLifecycle(eventstore.EventElicitationExpired, req.ID, map[string]interface{}{
		"from_agent": req.FromAgent,
		"to_agent":   req.ToAgent,
	})
}

// RunExpirySweep scans for pending requests past their deadline and
// expires them. Intended to run every 10s per spec §4.2.
func (m *Manager) RunExpirySweep() int {
	now := time.Now()
	due := m.proj.expiredSince(now)
	for _, req := range due {
		m.expireOne(req, now)
	}
	return len(due)
}

// Start launches the manager's cooperative background sweeps (expiry
// every 10s) until Stop is called. Each loop is "while !shutdown {
// sleep(interval); try_work() }" with no internal retry (spec §5's
// background task shape).
func (m *Manager) Start(ctx context.Context) {
	go m.sweepLoop(ctx, 10*time.Second, m.RunExpirySweep)
}

func (m *Manager) sweepLoop(ctx context.Context, interval time.Duration, work func() int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.shutdown:
			return
		case <-ticker.C:
			n := work()
			if n > 0 {
				m.logger.Debug("sweep completed", map[string]interface{}{"count": n})
			}
		}
	}
}

// Stop signals every background sweep to exit.
func (m *Manager) Stop() {
	close(m.shutdown)
}
