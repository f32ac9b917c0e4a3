package expert

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestCoordinator(t *testing.T) (*Coordinator, *RedisRegistry) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	reg, err := NewRedisRegistryWithNamespace("redis://"+mr.Addr(), "test:coord")
	if err != nil {
		t.Fatalf("NewRedisRegistryWithNamespace: %v", err)
	}
	t.Cleanup(func() { reg.Close() })

	return NewCoordinator(reg, nil), reg
}

func TestCoordinatorDelegatePicksBestExpert(t *testing.T) {
	c, reg := newTestCoordinator(t)
	ctx := context.Background()

	reg.Register(ctx, &Expert{ID: "weak", Capabilities: []string{"triage"}, Status: StatusAvailable, SuccessRate: 0.2, AvgResponseTime: 5})
	reg.Register(ctx, &Expert{ID: "strong", Capabilities: []string{"triage"}, Status: StatusAvailable, SuccessRate: 0.95, AvgResponseTime: 0.5})

	session, err := c.Delegate(ctx, "elicit_1", "agent-a", "triage")
	if err != nil {
		t.Fatalf("Delegate: %v", err)
	}
	if session.ExpertID != "strong" {
		t.Fatalf("ExpertID = %q, want strong", session.ExpertID)
	}
}

func TestCoordinatorDelegateNoCapableExpert(t *testing.T) {
	c, _ := newTestCoordinator(t)
	if _, err := c.Delegate(context.Background(), "elicit_1", "agent-a", "nonexistent"); err == nil {
		t.Fatal("expected an error when no expert advertises the capability")
	}
}

func TestCoordinatorCompleteUpdatesExpertStats(t *testing.T) {
	c, reg := newTestCoordinator(t)
	ctx := context.Background()

	reg.Register(ctx, &Expert{ID: "e1", Capabilities: []string{"triage"}, Status: StatusAvailable, SuccessRate: 0.5, AvgResponseTime: 1})

	session, err := c.Delegate(ctx, "elicit_1", "agent-a", "triage")
	if err != nil {
		t.Fatalf("Delegate: %v", err)
	}

	loaded, _ := reg.Get(ctx, "e1")
	if loaded.CurrentContexts != 1 {
		t.Fatalf("CurrentContexts = %d, want 1", loaded.CurrentContexts)
	}

	if err := c.Complete(ctx, session.ID, true); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	after, _ := reg.Get(ctx, "e1")
	if after.CurrentContexts != 0 {
		t.Fatalf("CurrentContexts after Complete = %d, want 0", after.CurrentContexts)
	}
	if after.SuccessRate <= 0.5 {
		t.Fatalf("SuccessRate should rise after a success, got %v", after.SuccessRate)
	}
}

func TestCoordinatorCompleteUnknownSession(t *testing.T) {
	c, _ := newTestCoordinator(t)
	if err := c.Complete(context.Background(), "missing", true); err == nil {
		t.Fatal("expected an error for an unknown session")
	}
}

func registerTestExpert(t *testing.T, c *Coordinator, e *Expert) string {
	t.Helper()
	challenge := c.GenerateAuthChallenge(e.ID)
	token, err := c.RegisterExpert(context.Background(), e, challenge)
	if err != nil {
		t.Fatalf("RegisterExpert: %v", err)
	}
	return token
}

func TestRegisterExpertRejectsBadChallenge(t *testing.T) {
	c, _ := newTestCoordinator(t)
	_, err := c.RegisterExpert(context.Background(), &Expert{ID: "e1", Capabilities: []string{"triage"}}, "not-a-real-challenge")
	if err == nil {
		t.Fatal("expected an error for an invalid auth challenge")
	}
}

func TestRegisterExpertThenAuthenticateSucceeds(t *testing.T) {
	c, _ := newTestCoordinator(t)
	e := &Expert{ID: "e1", Capabilities: []string{"triage"}, Permissions: map[Permission]bool{PermissionCommandExecute: true}}
	token := registerTestExpert(t, c, e)

	got, ok := c.AuthenticateExpert(context.Background(), token)
	if !ok || got.ID != "e1" {
		t.Fatalf("AuthenticateExpert failed: ok=%v got=%+v", ok, got)
	}
}

func TestAuthenticateExpertRejectsUnknownToken(t *testing.T) {
	c, _ := newTestCoordinator(t)
	if _, ok := c.AuthenticateExpert(context.Background(), "bogus"); ok {
		t.Fatal("expected authentication to fail for an unregistered token")
	}
}

func TestDelegateCommandHappyPath(t *testing.T) {
	c, reg := newTestCoordinator(t)
	ctx := context.Background()

	requesterToken := registerTestExpert(t, c, &Expert{ID: "requester", Capabilities: []string{"orchestration"}, Permissions: map[Permission]bool{PermissionCommandExecute: true}})
	registerTestExpert(t, c, &Expert{ID: "worker", Capabilities: []string{"triage"}})

	delegation, err := c.DelegateCommand(ctx, requesterToken, "command_execution", map[string]interface{}{"command": "ls"}, []string{"triage"}, time.Minute)
	if err != nil {
		t.Fatalf("DelegateCommand: %v", err)
	}
	if delegation.ExpertID != "worker" {
		t.Fatalf("ExpertID = %q, want worker", delegation.ExpertID)
	}

	if err := c.CompleteDelegation(ctx, delegation.ID, true); err != nil {
		t.Fatalf("CompleteDelegation: %v", err)
	}
	worker, err := reg.Get(ctx, "worker")
	if err != nil {
		t.Fatalf("Get worker: %v", err)
	}
	if worker.Status != StatusAvailable {
		t.Fatalf("worker status after completion = %v, want available", worker.Status)
	}
}

func TestDelegateCommandRejectsUnauthenticatedRequester(t *testing.T) {
	c, _ := newTestCoordinator(t)
	_, err := c.DelegateCommand(context.Background(), "bogus-token", "command_execution", nil, []string{"triage"}, time.Minute)
	if err == nil {
		t.Fatal("expected an error for an unauthenticated requester")
	}
}

func TestDelegateCommandRejectsDangerousCommand(t *testing.T) {
	c, _ := newTestCoordinator(t)
	token := registerTestExpert(t, c, &Expert{ID: "requester", Capabilities: []string{"orchestration"}})

	_, err := c.DelegateCommand(context.Background(), token, "file_write", map[string]interface{}{"command": "sudo rm -rf /"}, []string{"triage"}, time.Minute)
	if err == nil {
		t.Fatal("expected CommandSecurity to reject a dangerous command")
	}
}

func TestDelegateCommandRequiresAllCapabilities(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()
	token := registerTestExpert(t, c, &Expert{ID: "requester", Capabilities: []string{"orchestration"}})
	registerTestExpert(t, c, &Expert{ID: "partial", Capabilities: []string{"triage"}})

	_, err := c.DelegateCommand(ctx, token, "analysis", nil, []string{"triage", "summarize"}, time.Minute)
	if err == nil {
		t.Fatal("expected no expert to satisfy both required capabilities")
	}
}

func TestStartAndEndCollaborationSession(t *testing.T) {
	c, reg := newTestCoordinator(t)
	ctx := context.Background()

	coordToken := registerTestExpert(t, c, &Expert{ID: "coord", Capabilities: []string{"orchestration"}})
	registerTestExpert(t, c, &Expert{ID: "p1", Capabilities: []string{"triage"}})
	registerTestExpert(t, c, &Expert{ID: "p2", Capabilities: []string{"summarize"}})

	session, err := c.StartCollaborationSession(ctx, coordToken, []string{"p1", "p2"}, map[string]interface{}{"goal": "investigate"})
	if err != nil {
		t.Fatalf("StartCollaborationSession: %v", err)
	}
	if len(session.Participants) != 2 || len(session.CommunicationChannels) != 2 {
		t.Fatalf("expected 2 participants with channels, got %+v", session)
	}

	p1, _ := reg.Get(ctx, "p1")
	if p1.Status != StatusBusy {
		t.Fatalf("participant status = %v, want busy", p1.Status)
	}

	if err := c.EndCollaborationSession(ctx, session.ID, "completed"); err != nil {
		t.Fatalf("EndCollaborationSession: %v", err)
	}
	p1After, _ := reg.Get(ctx, "p1")
	if p1After.Status != StatusAvailable {
		t.Fatalf("participant status after end = %v, want available", p1After.Status)
	}
}

func TestStartCollaborationSessionRejectsUnregisteredParticipant(t *testing.T) {
	c, _ := newTestCoordinator(t)
	coordToken := registerTestExpert(t, c, &Expert{ID: "coord", Capabilities: []string{"orchestration"}})

	_, err := c.StartCollaborationSession(context.Background(), coordToken, []string{"ghost"}, nil)
	if err == nil {
		t.Fatal("expected an error for an unregistered participant")
	}
}

func TestRunHeartbeatSweepEvictsStaleExpert(t *testing.T) {
	c, reg := newTestCoordinator(t)
	ctx := context.Background()
	registerTestExpert(t, c, &Expert{ID: "stale", Capabilities: []string{"triage"}})

	c.mu.Lock()
	c.authenticated["stale"].LastHeartbeat = time.Now().Add(-staleEvictionThreshold - time.Minute)
	c.mu.Unlock()

	n := c.RunHeartbeatSweep(ctx)
	if n != 1 {
		t.Fatalf("RunHeartbeatSweep evicted %d, want 1", n)
	}
	if _, err := reg.Get(ctx, "stale"); err == nil {
		t.Fatal("expected stale expert to be unregistered")
	}
}

func TestRunStatsRefreshReflectsRegistry(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()
	registerTestExpert(t, c, &Expert{ID: "a", Capabilities: []string{"triage"}, Status: StatusBusy})
	registerTestExpert(t, c, &Expert{ID: "b", Capabilities: []string{"triage"}})

	c.RunStatsRefresh(ctx)
	stats := c.Stats()
	if stats.TotalExperts != 2 {
		t.Fatalf("TotalExperts = %d, want 2", stats.TotalExperts)
	}
	if stats.SystemLoad != 0.5 {
		t.Fatalf("SystemLoad = %v, want 0.5", stats.SystemLoad)
	}
}
