// Package session implements the Session Security Validator: HMAC
// session tokens bound to an agent, hijacking and replay detection, and
// bounded session lifetime (spec §3/§4.5).
package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lighthouse/bridge/core"
)

// State is the closed set of session states.
type State string

const (
	StateActive    State = "active"
	StateExpired   State = "expired"
	StateRevoked   State = "revoked"
	StateSuspicious State = "suspicious"
	StateHijacked  State = "hijacked"
)

// Session is the full session record (spec §3).
type Session struct {
	SessionID     string
	AgentID       string
	SessionToken  string
	CreatedAt     time.Time
	LastActivity  time.Time
	IP            string
	UserAgent     string
	CommandCount  int
	State         State
	SecurityFlags []string

	commandTimestamps []time.Time
}

// Config tunes the validator's bounds (spec §4.5 defaults).
type Config struct {
	MaxConcurrentPerAgent int
	SessionTimeout        time.Duration
	SuspiciousCommandRate int           // commands/minute sustained
	MaxLifetime           time.Duration
	ReplayWindow          time.Duration
}

// DefaultConfig matches spec §4.5's stated defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentPerAgent: 3,
		SessionTimeout:        3600 * time.Second,
		SuspiciousCommandRate: 100,
		MaxLifetime:           8 * time.Hour,
		ReplayWindow:          5 * time.Minute,
	}
}

// Validator is the Session Security Validator.
type Validator struct {
	mu       sync.Mutex
	cfg      Config
	secret   []byte
	byID     map[string]*Session
	byAgent  map[string][]string // agent -> session ids, oldest first

	messageMu  sync.Mutex
	seenHashes map[string]time.Time // message hash -> observed-at, for replay detection
}

// NewValidator constructs a Validator keyed by secret (the same
// store-wide HMAC secret used elsewhere, per spec §6).
func NewValidator(secret string, cfg Config) *Validator {
	return &Validator{
		cfg:        cfg,
		secret:     []byte(secret),
		byID:       make(map[string]*Session),
		byAgent:    make(map[string][]string),
		seenHashes: make(map[string]time.Time),
	}
}

// CreateSession implements create_session. If agentID already has
// MaxConcurrentPerAgent active sessions, the oldest is evicted.
func (v *Validator) CreateSession(agentID, ip, ua string) (*Session, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	ids := v.byAgent[agentID][:0]
	for _, id := range v.byAgent[agentID] {
		if s, ok := v.byID[id]; ok && s.State == StateActive {
			ids = append(ids, id)
		}
	}
	v.byAgent[agentID] = ids
	if len(ids) >= v.cfg.MaxConcurrentPerAgent {
		oldest := ids[0]
		if s, ok := v.byID[oldest]; ok {
			s.State = StateRevoked
		}
		v.byAgent[agentID] = ids[1:]
	}

	now := time.Now()
	sessionID := uuid.New().String()
	token, err := v.issueToken(sessionID, agentID, now)
	if err != nil {
		return nil, core.NewFrameworkError("session.CreateSession", core.KindInvalidInput, err)
	}

	s := &Session{
		SessionID:    sessionID,
		AgentID:      agentID,
		SessionToken: token,
		CreatedAt:    now,
		LastActivity: now,
		IP:           ip,
		UserAgent:    ua,
		State:        StateActive,
	}
	v.byID[sessionID] = s
	v.byAgent[agentID] = append(v.byAgent[agentID], sessionID)
	return s, nil
}

// issueToken produces "{session_id}:{agent_id}:{issued_ts}:{hmac}".
func (v *Validator) issueToken(sessionID, agentID string, issuedAt time.Time) (string, error) {
	ts := issuedAt.Unix()
	mac := v.signToken(sessionID, agentID, ts)
	return fmt.Sprintf("%s:%s:%d:%s", sessionID, agentID, ts, mac), nil
}

func (v *Validator) signToken(sessionID, agentID string, ts int64) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(fmt.Sprintf("%s:%s:%d", sessionID, agentID, ts)))
	return hex.EncodeToString(mac.Sum(nil))
}

// ValidateSession implements validate_session: parses the token, checks
// the HMAC in constant time, confirms it binds to agentID, and applies
// hijacking/expiry/suspicious-state checks.
func (v *Validator) ValidateSession(token, agentID, ip, ua string) bool {
	parts := strings.SplitN(token, ":", 4)
	if len(parts) != 4 {
		return false
	}
	sessionID, tokenAgent, tsStr, mac := parts[0], parts[1], parts[2], parts[3]
	if tokenAgent != agentID {
		return false
	}
	ts, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return false
	}
	expected := v.signToken(sessionID, tokenAgent, ts)
	if !hmac.Equal([]byte(expected), []byte(mac)) {
		return false
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	s, ok := v.byID[sessionID]
	if !ok || s.AgentID != agentID {
		return false
	}
	if s.State != StateActive {
		return false
	}

	now := time.Now()
	if now.Sub(s.LastActivity) > v.cfg.SessionTimeout {
		s.State = StateExpired
		return false
	}
	if now.Sub(s.CreatedAt) > v.cfg.MaxLifetime {
		s.State = StateExpired
		s.SecurityFlags = append(s.SecurityFlags, "lifetime_exceeded")
		return false
	}

	if s.IP != "" && ip != "" && s.IP != ip {
		s.State = StateHijacked
		s.SecurityFlags = append(s.SecurityFlags, "ip_changed")
		return false
	}
	if s.UserAgent != "" && ua != "" && s.UserAgent != ua {
		s.State = StateSuspicious
		s.SecurityFlags = append(s.SecurityFlags, "user_agent_changed")
		return false
	}

	s.commandTimestamps = append(s.commandTimestamps, now)
	s.commandTimestamps = pruneOlderThan(s.commandTimestamps, now.Add(-time.Minute))
	if len(s.commandTimestamps) > v.cfg.SuspiciousCommandRate {
		s.State = StateSuspicious
		s.SecurityFlags = append(s.SecurityFlags, "command_rate_exceeded")
		return false
	}

	s.LastActivity = now
	s.CommandCount++
	return true
}

func pruneOlderThan(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	return ts[i:]
}

// RevokeSession implements revoke_session.
func (v *Validator) RevokeSession(sessionID, reason string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if s, ok := v.byID[sessionID]; ok {
		s.State = StateRevoked
		if reason != "" {
			s.SecurityFlags = append(s.SecurityFlags, "revoked:"+reason)
		}
	}
}

// CleanupExpired implements cleanup_expired, returning how many sessions
// were transitioned to expired.
func (v *Validator) CleanupExpired() int {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := time.Now()
	n := 0
	for _, s := range v.byID {
		if s.State != StateActive {
			continue
		}
		if now.Sub(s.LastActivity) > v.cfg.SessionTimeout || now.Sub(s.CreatedAt) > v.cfg.MaxLifetime {
			s.State = StateExpired
			n++
		}
	}
	return n
}

// ValidateWebsocketHijacking implements validate_websocket_hijacking: it
// reports whether agentID holds at least one active session. url is not
// inspected; no origin or host check is made here, and full origin
// policy enforcement belongs to the transport layer.
func (v *Validator) ValidateWebsocketHijacking(url, agentID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, id := range v.byAgent[agentID] {
		s, ok := v.byID[id]
		if ok && s.State == StateActive {
			return true
		}
	}
	return false
}

// ValidateMessageInterception implements validate_message_interception:
// rejects a message if its (agent, content) hash was already observed
// within the replay window (spec §4.5).
func (v *Validator) ValidateMessageInterception(msg, agentID string) bool {
	h := sha256.Sum256([]byte(agentID + "|" + msg))
	key := hex.EncodeToString(h[:])

	v.messageMu.Lock()
	defer v.messageMu.Unlock()

	now := time.Now()
	if seenAt, ok := v.seenHashes[key]; ok && now.Sub(seenAt) <= v.cfg.ReplayWindow {
		return false
	}
	v.seenHashes[key] = now
	return true
}
