// Package eventstore implements the append-only, HMAC-authenticated,
// segmented event log that backs the elicitation core's projection,
// audit trail, and replay/recovery. Every other package observes state
// changes only through events appended here.
package eventstore

import (
	"fmt"
	"sync"
	"time"
)

// EventType is a closed tagged variant: the event taxonomy never uses
// inheritance, only a sum over known kinds plus a reserved Custom kind
// that carries its own inner tag in Data["elicitation_type"].
type EventType string

const (
	EventElicitationCreated  EventType = "elicitation_created"
	EventElicitationAccepted EventType = "elicitation_accepted"
	EventElicitationDeclined EventType = "elicitation_declined"
	EventElicitationCanceled EventType = "elicitation_cancelled"
	EventElicitationExpired  EventType = "elicitation_expired"
	EventValidationFailure   EventType = "validation_failure"
	EventSecurityViolation   EventType = "security_violation"

	EventExpertRegistered     EventType = "expert_registered"
	EventExpertDisconnected   EventType = "expert_disconnected"
	EventCollaborationStarted EventType = "collaboration_started"
	EventCollaborationEnded   EventType = "collaboration_ended"
	EventCommandDelegated     EventType = "command_delegated"
	EventCommandCompleted     EventType = "command_completed"

	EventCustom EventType = "custom"
)

// EventID is the monotonic, totally ordered identifier assigned to every
// event at generation time: (timestamp_ns, sequence, node_id) compared as
// a lexicographic tuple, never as strings (spec §6/§8 property 2).
type EventID struct {
	TimestampNs int64
	Seq         int64 // per-timestamp tie-breaker, not the store's global sequence
	NodeID      string
}

// String renders the canonical wire form "{timestamp_ns}_{sequence}_{node_id}".
func (id EventID) String() string {
	return fmt.Sprintf("%d_%d_%s", id.TimestampNs, id.Seq, id.NodeID)
}

// Less orders two EventIDs by the (timestamp_ns, seq, node_id) tuple.
func (id EventID) Less(other EventID) bool {
	if id.TimestampNs != other.TimestampNs {
		return id.TimestampNs < other.TimestampNs
	}
	if id.Seq != other.Seq {
		return id.Seq < other.Seq
	}
	return id.NodeID < other.NodeID
}

// Event is the canonical unit of the log.
type Event struct {
	ID              EventID                `json:"id"`
	Sequence        int64                  `json:"sequence"` // global 1-based append position
	EventType       EventType              `json:"event_type"`
	AggregateID     string                 `json:"aggregate_id"`
	AggregateType   string                 `json:"aggregate_type"`
	Timestamp       time.Time              `json:"timestamp"` // wall-clock, informational only
	CorrelationID   string                 `json:"correlation_id,omitempty"`
	CausationID     string                 `json:"causation_id,omitempty"`
	Data            map[string]interface{} `json:"data"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	SourceAgent     string                 `json:"source_agent"`
	SourceComponent string                 `json:"source_component"`
	SchemaVersion   int                    `json:"schema_version"`
}

// idGenerator produces EventIDs whose timestamp component never moves
// backward or repeats without a bumped sequence, even if the monotonic
// clock itself stalls or goes briefly backward (spec §4.1).
type idGenerator struct {
	mu       sync.Mutex
	nodeID   string
	lastTs   int64
	lastSeq  int64
	seqByTs  map[int64]int64 // per-timestamp counter, reaped past the most recent 1000 timestamps
	tsOrder  []int64
}

func newIDGenerator(nodeID string) *idGenerator {
	return &idGenerator{
		nodeID:  nodeID,
		seqByTs: make(map[int64]int64),
	}
}

const maxTrackedTimestamps = 1000

func (g *idGenerator) next(nowNs int64) EventID {
	g.mu.Lock()
	defer g.mu.Unlock()

	if nowNs <= g.lastTs {
		nowNs = g.lastTs + 1
	}

	var seq int64
	if nowNs == g.lastTs {
		seq = g.seqByTs[nowNs] + 1
	} else {
		seq = 0
		g.tsOrder = append(g.tsOrder, nowNs)
		if len(g.tsOrder) > maxTrackedTimestamps {
			stale := g.tsOrder[0]
			g.tsOrder = g.tsOrder[1:]
			delete(g.seqByTs, stale)
		}
	}
	g.seqByTs[nowNs] = seq
	g.lastTs = nowNs
	g.lastSeq = seq

	return EventID{TimestampNs: nowNs, Seq: seq, NodeID: g.nodeID}
}
