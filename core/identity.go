package core

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Role is the closed set of agent roles (spec §3).
type Role string

const (
	RoleGuest        Role = "guest"
	RoleAgent        Role = "agent"
	RoleExpertAgent  Role = "expert_agent"
	RoleSystemAgent  Role = "system_agent"
	RoleAdmin        Role = "admin"
)

// Identity is the authenticated agent record the rest of the bridge
// authorizes against (spec §3's "Agent identity").
type Identity struct {
	AgentID             string
	Role                Role
	Permissions         map[string]bool
	AllowedAggregates   []string
	AllowedStreams      []string
	MaxRequestsPerMinute int
	MaxBatchSize        int
	AuthenticatedAt     time.Time
	ExpiresAt           time.Time
}

// HasPermission reports whether the identity carries perm.
func (id *Identity) HasPermission(perm string) bool {
	return id.Permissions[perm]
}

// Expired reports whether the identity's grant has lapsed.
func (id *Identity) Expired(now time.Time) bool {
	return !id.ExpiresAt.IsZero() && now.After(id.ExpiresAt)
}

// SignAuthToken produces the bridge-wide HMAC token format
// "{unix_ts}:{hex_hmac_sha256}", accepted within ±5 minutes (spec §6).
func SignAuthToken(secret []byte, agentID string, issuedAt time.Time) string {
	ts := issuedAt.Unix()
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(fmt.Sprintf("%s:%d", agentID, ts)))
	return fmt.Sprintf("%d:%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

// VerifyAuthToken checks token against agentID and secret, enforcing the
// ±HMACTokenSkew window.
func VerifyAuthToken(secret []byte, agentID, token string, now time.Time) bool {
	parts := strings.SplitN(token, ":", 2)
	if len(parts) != 2 {
		return false
	}
	ts, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return false
	}
	issued := time.Unix(ts, 0)
	if now.Sub(issued) > HMACTokenSkew || issued.Sub(now) > HMACTokenSkew {
		return false
	}
	expected := SignAuthToken(secret, agentID, issued)
	expectedMAC := expected[strings.IndexByte(expected, ':')+1:]
	return hmac.Equal([]byte(expectedMAC), []byte(parts[1]))
}

// IdentityRegistry is the one process-wide piece of shared state the
// bridge permits outside explicit DI (spec §5's "no global singleton
// state other than the authenticator coordinator"): an identity cache
// with an explicit new → share → close lifecycle, never a package-level
// var.
type IdentityRegistry struct {
	mu       sync.RWMutex
	byAgent  map[string]*Identity
	lifecycle string // "new" | "steady" | "shutdown"
}

// NewIdentityRegistry constructs a registry in the "new" lifecycle
// state. Call Share to transition it to "steady" before use, and Close
// to transition to "shutdown".
func NewIdentityRegistry() *IdentityRegistry {
	return &IdentityRegistry{
		byAgent:   make(map[string]*Identity),
		lifecycle: "new",
	}
}

// Share transitions the registry to "steady", after which Put/Get are
// valid. Share is idempotent.
func (r *IdentityRegistry) Share() *IdentityRegistry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lifecycle == "new" {
		r.lifecycle = "steady"
	}
	return r
}

// Close transitions the registry to "shutdown"; subsequent Put/Get calls
// fail closed.
func (r *IdentityRegistry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lifecycle = "shutdown"
	r.byAgent = nil
}

// Put registers or replaces identity for its AgentID.
func (r *IdentityRegistry) Put(identity *Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lifecycle != "steady" {
		return NewFrameworkError("core.IdentityRegistry.Put", KindShutdown, ErrNotInitialized)
	}
	r.byAgent[identity.AgentID] = identity
	return nil
}

// Get looks up agentID's identity.
func (r *IdentityRegistry) Get(agentID string) (*Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.lifecycle != "steady" {
		return nil, false
	}
	id, ok := r.byAgent[agentID]
	return id, ok
}

// Remove evicts agentID's identity, e.g. on revocation.
func (r *IdentityRegistry) Remove(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byAgent, agentID)
}
