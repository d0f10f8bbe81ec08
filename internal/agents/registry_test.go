package agents

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/warrenlabs/warren/pkg/permission"
)

// fakeClock is a manually advanced clock for liveness tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestRegisterAndGet(t *testing.T) {
	r := NewRegistry()

	a, err := r.Register("a1", []string{"go", "review", "go", ""}, permission.Sandboxed)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if a.ID != "a1" {
		t.Errorf("ID = %q, want a1", a.ID)
	}
	if len(a.Capabilities) != 2 {
		t.Errorf("Capabilities = %v, want deduplicated pair", a.Capabilities)
	}
	if a.Capabilities[0] != "go" || a.Capabilities[1] != "review" {
		t.Errorf("Capabilities = %v, want sorted [go review]", a.Capabilities)
	}
	if a.RegisteredAt.IsZero() || a.LastHeartbeat.IsZero() {
		t.Error("registration should stamp RegisteredAt and LastHeartbeat")
	}

	got, ok := r.Get("a1")
	if !ok {
		t.Fatal("Get should find the registered agent")
	}
	if got.PermissionLevel != permission.Sandboxed {
		t.Errorf("PermissionLevel = %q, want sandboxed", got.PermissionLevel)
	}

	if _, ok := r.Get("missing"); ok {
		t.Error("Get should miss an unregistered id")
	}
}

func TestRegisterDuplicate(t *testing.T) {
	r := NewRegistry()

	if _, err := r.Register("a1", nil, permission.Isolated); err != nil {
		t.Fatalf("first Register failed: %v", err)
	}
	_, err := r.Register("a1", nil, permission.Trusted)
	if !errors.Is(err, ErrDuplicateAgent) {
		t.Errorf("second Register error = %v, want ErrDuplicateAgent", err)
	}

	// The original registration must be untouched.
	a, _ := r.Get("a1")
	if a.PermissionLevel != permission.Isolated {
		t.Errorf("duplicate Register overwrote level: %q", a.PermissionLevel)
	}
}

func TestRegisterRejectsBadInput(t *testing.T) {
	r := NewRegistry()

	if _, err := r.Register("", nil, permission.Isolated); err == nil {
		t.Error("empty id should be rejected")
	}
	if _, err := r.Register("a1", nil, permission.Level("root")); err == nil {
		t.Error("invalid level should be rejected")
	}
	if r.Count() != 0 {
		t.Errorf("Count = %d after rejected registrations, want 0", r.Count())
	}
}

func TestHeartbeatUnknownAgent(t *testing.T) {
	r := NewRegistry()
	err := r.Heartbeat("unknown-agent")
	if !errors.Is(err, ErrUnknownAgent) {
		t.Errorf("Heartbeat error = %v, want ErrUnknownAgent", err)
	}
}

func TestIsHealthyWindow(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(WithNowFunc(clock.Now))

	if _, err := r.Register("a1", nil, permission.Isolated); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if !r.IsHealthy("a1", 5*time.Second) {
		t.Error("freshly registered agent should be healthy")
	}

	clock.Advance(5 * time.Second)
	if !r.IsHealthy("a1", 5*time.Second) {
		t.Error("agent at exactly the timeout boundary should still be healthy")
	}

	clock.Advance(time.Second)
	if r.IsHealthy("a1", 5*time.Second) {
		t.Error("agent past the timeout without a heartbeat should be stale")
	}

	if err := r.Heartbeat("a1"); err != nil {
		t.Fatalf("Heartbeat failed: %v", err)
	}
	if !r.IsHealthy("a1", 5*time.Second) {
		t.Error("heartbeat should restore health")
	}

	if r.IsHealthy("never-registered", 5*time.Second) {
		t.Error("unknown agent should never be healthy")
	}
}

func TestHeartbeatAdvancesLastSeen(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(WithNowFunc(clock.Now))

	a, _ := r.Register("a1", nil, permission.Isolated)
	registered := a.LastHeartbeat

	clock.Advance(3 * time.Second)
	if err := r.Heartbeat("a1"); err != nil {
		t.Fatalf("Heartbeat failed: %v", err)
	}

	got, _ := r.Get("a1")
	if !got.LastHeartbeat.After(registered) {
		t.Errorf("LastHeartbeat = %v, want later than %v", got.LastHeartbeat, registered)
	}
	if !got.RegisteredAt.Equal(a.RegisteredAt) {
		t.Error("Heartbeat must not touch RegisteredAt")
	}
}

func TestGetOrCreate(t *testing.T) {
	r := NewRegistry()

	first := r.GetOrCreate("a1", []string{"go"}, permission.Sandboxed)
	if first.ID != "a1" || first.PermissionLevel != permission.Sandboxed {
		t.Fatalf("GetOrCreate created %+v", first)
	}

	// Second call returns the existing agent regardless of new defaults.
	second := r.GetOrCreate("a1", []string{"rust"}, permission.Trusted)
	if second.PermissionLevel != permission.Sandboxed {
		t.Errorf("existing agent level = %q, want sandboxed", second.PermissionLevel)
	}
	if len(second.Capabilities) != 1 || second.Capabilities[0] != "go" {
		t.Errorf("existing agent capabilities = %v, want [go]", second.Capabilities)
	}
	if r.Count() != 1 {
		t.Errorf("Count = %d, want 1", r.Count())
	}

	// An invalid default level degrades to the most restrictive tier.
	fallback := r.GetOrCreate("a2", nil, permission.Level("bogus"))
	if fallback.PermissionLevel != permission.Isolated {
		t.Errorf("fallback level = %q, want isolated", fallback.PermissionLevel)
	}
}

func TestConcurrentHeartbeatsAndRegistrations(t *testing.T) {
	r := NewRegistry()
	ids := []string{"a1", "a2", "a3", "a4", "a5"}
	for _, id := range ids {
		if _, err := r.Register(id, nil, permission.Isolated); err != nil {
			t.Fatalf("Register %s failed: %v", id, err)
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		for _, id := range ids {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				if err := r.Heartbeat(id); err != nil {
					t.Errorf("Heartbeat %s failed: %v", id, err)
				}
				r.IsHealthy(id, time.Minute)
			}(id)
		}
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			r.GetOrCreate("extra", nil, permission.Isolated)
			r.All()
		}(i)
	}
	wg.Wait()

	if r.Count() != len(ids)+1 {
		t.Errorf("Count = %d, want %d", r.Count(), len(ids)+1)
	}
}

func TestAllSortedByID(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"c", "a", "b"} {
		if _, err := r.Register(id, nil, permission.Isolated); err != nil {
			t.Fatalf("Register %s failed: %v", id, err)
		}
	}

	all := r.All()
	if len(all) != 3 {
		t.Fatalf("All returned %d agents, want 3", len(all))
	}
	for i, want := range []string{"a", "b", "c"} {
		if all[i].ID != want {
			t.Errorf("All[%d].ID = %q, want %q", i, all[i].ID, want)
		}
	}
}

func TestSnapshotIsIndependent(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Register("a1", []string{"go"}, permission.Isolated); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	a, _ := r.Get("a1")
	a.Capabilities[0] = "mutated"

	fresh, _ := r.Get("a1")
	if fresh.Capabilities[0] != "go" {
		t.Error("mutating a snapshot reached the registry")
	}
}

func TestPulserKeepsAgentFresh(t *testing.T) {
	r := NewRegistry()
	a, err := r.Register("a1", nil, permission.Isolated)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	p := NewPulser(r, "a1", 10*time.Millisecond)
	p.Start()
	time.Sleep(60 * time.Millisecond)
	p.Stop()

	got, _ := r.Get("a1")
	if !got.LastHeartbeat.After(a.LastHeartbeat) {
		t.Error("pulser should have advanced LastHeartbeat")
	}

	// Stop is idempotent and safe after the loop exits.
	p.Stop()
}

func TestPulserStopWithoutStart(t *testing.T) {
	r := NewRegistry()
	p := NewPulser(r, "a1", time.Second)
	done := make(chan struct{})
	go func() {
		p.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop without Start should not block")
	}
}
