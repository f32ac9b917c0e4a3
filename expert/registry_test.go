package expert

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestRegistry(t *testing.T) (*RedisRegistry, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	reg, err := NewRedisRegistryWithNamespace("redis://"+mr.Addr(), "test:expert")
	if err != nil {
		t.Fatalf("NewRedisRegistryWithNamespace: %v", err)
	}
	t.Cleanup(func() {
		reg.Close()
		mr.Close()
	})
	return reg, mr
}

func TestRegistryRegisterAndGet(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	e := &Expert{ID: "expert-1", Name: "triage-bot", Capabilities: []string{"triage", "summarize"}, Status: StatusAvailable}
	if err := reg.Register(ctx, e); err != nil {
		t.Fatalf("Register: %v", err)
	}

	got, err := reg.Get(ctx, "expert-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "triage-bot" {
		t.Errorf("Name = %q, want triage-bot", got.Name)
	}
}

func TestRegistryByCapability(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	must(reg.Register(ctx, &Expert{ID: "e1", Capabilities: []string{"triage"}, Status: StatusAvailable}))
	must(reg.Register(ctx, &Expert{ID: "e2", Capabilities: []string{"triage", "summarize"}, Status: StatusAvailable}))
	must(reg.Register(ctx, &Expert{ID: "e3", Capabilities: []string{"summarize"}, Status: StatusAvailable}))

	experts, err := reg.ByCapability(ctx, "triage")
	if err != nil {
		t.Fatalf("ByCapability: %v", err)
	}
	if len(experts) != 2 {
		t.Fatalf("len(experts) = %d, want 2", len(experts))
	}
}

func TestRegistryGetNotFound(t *testing.T) {
	reg, _ := newTestRegistry(t)
	if _, err := reg.Get(context.Background(), "missing"); err == nil {
		t.Fatal("expected an error for a missing expert")
	}
}

func TestRegistryUnregisterRemovesCapabilityIndex(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	if err := reg.Register(ctx, &Expert{ID: "e1", Capabilities: []string{"triage"}, Status: StatusAvailable}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.Unregister(ctx, "e1"); err != nil {
		t.Fatalf("Unregister: %v", err)
	}

	experts, err := reg.ByCapability(ctx, "triage")
	if err != nil {
		t.Fatalf("ByCapability: %v", err)
	}
	if len(experts) != 0 {
		t.Fatalf("expected no experts after unregister, got %d", len(experts))
	}
}

func TestRegistryHeartbeatRecoversAfterExpiry(t *testing.T) {
	reg, mr := newTestRegistry(t)
	ctx := context.Background()

	e := &Expert{ID: "e1", Capabilities: []string{"triage"}, Status: StatusAvailable}
	if err := reg.Register(ctx, e); err != nil {
		t.Fatalf("Register: %v", err)
	}

	// Simulate the key expiring out from under the expert.
	mr.FastForward(31 * time.Second)

	if err := reg.Heartbeat(ctx, "e1", StatusAvailable); err != nil {
		t.Fatalf("Heartbeat after expiry should self-heal, got: %v", err)
	}

	if _, err := reg.Get(ctx, "e1"); err != nil {
		t.Fatalf("expected expert to be re-registered, got: %v", err)
	}
}

func TestRegistryHeartbeatUnknownExpertFails(t *testing.T) {
	reg, _ := newTestRegistry(t)
	if err := reg.Heartbeat(context.Background(), "never-registered", StatusAvailable); err == nil {
		t.Fatal("expected an error for an unregistered expert")
	}
}

func TestRegistryListAllReturnsEveryExpert(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	must(reg.Register(ctx, &Expert{ID: "e1", Capabilities: []string{"triage"}, Status: StatusAvailable}))
	must(reg.Register(ctx, &Expert{ID: "e2", Capabilities: []string{"summarize"}, Status: StatusBusy}))

	all, err := reg.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("len(all) = %d, want 2", len(all))
	}
}

func TestRegistryListAllOmitsUnregistered(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	if err := reg.Register(ctx, &Expert{ID: "e1", Capabilities: []string{"triage"}, Status: StatusAvailable}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.Unregister(ctx, "e1"); err != nil {
		t.Fatalf("Unregister: %v", err)
	}

	all, err := reg.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("expected no experts after unregister, got %d", len(all))
	}
}
