package ratelimit

import (
	"sync"
	"time"

	"github.com/lighthouse/bridge/core"
)

// nonceRecord is the metadata kept per stored nonce (spec §3's Nonce
// record). Consumed nonces stay in the map until TTL expiry so a replay
// after consumption is still rejected as a duplicate, not accepted as
// unknown.
type nonceRecord struct {
	elicitationID string
	storedAt      time.Time
	expiresAt     time.Time
	consumed      bool
}

// NonceResult is the outcome of StoreNonce.
type NonceResult int

const (
	NonceStored NonceResult = iota
	NonceDuplicate
)

// ConsumeResult is the outcome of ConsumeNonce.
type ConsumeResult int

const (
	ConsumeOK ConsumeResult = iota
	ConsumeUnknown
	ConsumeAlreadyUsed
)

// NonceStore is the in-memory single-use nonce guard described in spec
// §4.3: one lock protects both set membership and TTL metadata, so
// store/consume never race.
type NonceStore struct {
	mu     sync.Mutex
	nonces map[string]*nonceRecord
}

// NewNonceStore constructs an empty store.
func NewNonceStore() *NonceStore {
	return &NonceStore{nonces: make(map[string]*nonceRecord)}
}

// StoreNonce records nonce against elicitationID with the given ttl. It
// reports NonceDuplicate if nonce is already tracked (stored or
// consumed), never silently overwriting it — nonce uniqueness across all
// active requests (spec §8 property 7) depends on this.
func (s *NonceStore) StoreNonce(nonce, elicitationID string, ttl time.Duration) NonceResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.nonces[nonce]; exists {
		return NonceDuplicate
	}
	now := time.Now()
	s.nonces[nonce] = &nonceRecord{
		elicitationID: elicitationID,
		storedAt:      now,
		expiresAt:     now.Add(ttl),
	}
	return NonceStored
}

// ConsumeNonce marks nonce as consumed, the single-use gate that forecloses
// replay (spec §8 property 6). A nonce that is unknown, expired, or
// already consumed all fail — callers classify "already consumed" as a
// replay attack and "unknown"/"expired" as not_found.
func (s *NonceStore) ConsumeNonce(nonce string) ConsumeResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.nonces[nonce]
	if !ok {
		return ConsumeUnknown
	}
	if time.Now().After(rec.expiresAt) {
		return ConsumeUnknown
	}
	if rec.consumed {
		return ConsumeAlreadyUsed
	}
	rec.consumed = true
	return ConsumeOK
}

// Sweep removes nonces past their TTL (consumed or not) and reports the
// count removed. Intended to run hourly per spec §4.3.
func (s *NonceStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	removed := 0
	for nonce, rec := range s.nonces {
		if now.After(rec.expiresAt) {
			delete(s.nonces, nonce)
			removed++
		}
	}
	return removed
}

// Size returns the number of tracked nonces, for metrics.
func (s *NonceStore) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nonces)
}

// classifyConsumeError maps a ConsumeResult onto the core error taxonomy
// for callers (the elicitation manager) that just want a FrameworkError.
func classifyConsumeError(op, elicitationID string, result ConsumeResult) error {
	switch result {
	case ConsumeOK:
		return nil
	case ConsumeAlreadyUsed:
		return core.NewFrameworkErrorWithID(op, core.KindReplayAttack, elicitationID, core.ErrReplayAttack)
	default:
		return core.NewFrameworkErrorWithID(op, core.KindNotFound, elicitationID, core.ErrNotFound)
	}
}
