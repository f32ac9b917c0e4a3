// Package expert implements the Expert Coordinator: a directory of
// specialized agents ("experts") each advertising a set of capabilities,
// matched against incoming delegation requests by a weighted score, plus
// the collaboration-session bookkeeping and token-authenticated command
// delegation used once an expert is registered.
package expert

import "time"

// Status is the lifecycle state of a registered expert.
type Status string

const (
	StatusAvailable Status = "available"
	StatusBusy      Status = "busy"
	StatusOffline   Status = "offline"
)

// Expert is a specialized agent that can be delegated elicitation work by
// the coordinator. CurrentContexts counts the delegations the expert is
// presently handling; the matcher uses it to penalize an already-loaded
// expert in favor of an idle one with a similar capability set.
// Permissions gates which command types DelegateCommand may hand the
// expert (see CommandSecurity.Validate).
type Expert struct {
	ID              string             `json:"id"`
	Name            string             `json:"name"`
	Capabilities    []string           `json:"capabilities"`
	Permissions     map[Permission]bool `json:"permissions,omitempty"`
	Status          Status             `json:"status"`
	SuccessRate     float64            `json:"success_rate"`      // 0..1, exponential moving average
	AvgResponseTime float64            `json:"avg_response_time"` // seconds
	CurrentContexts int                `json:"current_contexts"`
	Metadata        map[string]string  `json:"metadata,omitempty"`
	RegisteredAt    time.Time          `json:"registered_at"`
	LastSeen        time.Time          `json:"last_seen"`
}

// CollaborationSession tracks a delegation from request to completion. A
// session created by Delegate binds a single requesting agent to a
// single matched expert (ExpertID/Capability/Score); a session created by
// StartCollaborationSession binds a coordinator to an arbitrary number of
// Participants sharing a context and per-participant communication
// channels. Both shapes share the same struct so callers that only care
// about start/end/outcome bookkeeping don't need to branch on which path
// created the session.
type CollaborationSession struct {
	ID              string  `json:"id"`
	ElicitationID   string  `json:"elicitation_id,omitempty"`
	CoordinatorID   string  `json:"coordinator_id,omitempty"`
	RequestingAgent string  `json:"requesting_agent,omitempty"`
	ExpertID        string  `json:"expert_id,omitempty"`
	Capability      string  `json:"capability,omitempty"`
	Score           float64 `json:"score,omitempty"`

	Participants          []string               `json:"participants,omitempty"`
	SharedContext         map[string]interface{} `json:"shared_context,omitempty"`
	CommunicationChannels map[string]string      `json:"communication_channels,omitempty"`

	DelegatedCommands []string `json:"delegated_commands,omitempty"`
	CompletedCommands []string `json:"completed_commands,omitempty"`
	FailedCommands    []string `json:"failed_commands,omitempty"`

	Status       string     `json:"status"` // active, completed, failed
	StartedAt    time.Time  `json:"started_at"`
	LastActivity time.Time  `json:"last_activity"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Success      *bool      `json:"success,omitempty"`
}

// AuthenticatedExpert is the coordinator-local authentication record
// minted by RegisterExpert: the auth token and last-heartbeat timestamp
// that gate DelegateCommand/StartCollaborationSession, kept separate
// from the Registry's Expert record since registration's token state is
// coordinator-local even when the Registry itself is shared (Redis).
type AuthenticatedExpert struct {
	AgentID       string
	AuthToken     string
	RegisteredAt  time.Time
	LastHeartbeat time.Time
}

// Delegation tracks one DelegateCommand call from creation through
// completion or timeout.
type Delegation struct {
	ID                   string                 `json:"id"`
	RequesterID          string                 `json:"requester_id"`
	ExpertID             string                 `json:"expert_id"`
	CommandType          string                 `json:"command_type"`
	CommandData          map[string]interface{} `json:"command_data"`
	RequiredCapabilities []string               `json:"required_capabilities"`
	Status               string                 `json:"status"` // pending, completed, failed, timed_out
	CreatedAt            time.Time              `json:"created_at"`
	TimeoutAt            time.Time              `json:"timeout_at"`
}

// Stats is a point-in-time snapshot of the coordinator's load, refreshed
// periodically by RunStatsRefresh and readable via Coordinator.Stats.
type Stats struct {
	TotalExperts       int
	ActiveExperts      int
	ActiveSessions     int
	PendingDelegations int
	CommandsDelegated  int64
	CommandsCompleted  int64
	AuthFailures       int64
	SystemLoad         float64 // fraction of registered experts currently busy
}
