package registry_test

import (
	"errors"
	"testing"

	"github.com/torosent/loadpilot/internal/config"
	"github.com/torosent/loadpilot/internal/metrics"
	"github.com/torosent/loadpilot/internal/registry"
)

func spec() *config.TestSpec {
	s := &config.TestSpec{URL: "http://example.com", Users: 1, Duration: 1}
	s.Normalize()
	return s
}

func TestCreateAssignsUniqueIDs(t *testing.T) {
	r := registry.New(10)
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		rec := r.Create(spec())
		if rec.ID == "" {
			t.Fatal("empty id")
		}
		if seen[rec.ID] {
			t.Fatalf("duplicate id %s", rec.ID)
		}
		seen[rec.ID] = true
		if rec.Status != registry.StatusPending {
			t.Fatalf("expected pending, got %s", rec.Status)
		}
	}
}

func TestLifecycleTransitions(t *testing.T) {
	r := registry.New(10)
	rec := r.Create(spec())

	if err := r.SetRunning(rec.ID, func() {}); err != nil {
		t.Fatalf("set running: %v", err)
	}
	got, _ := r.Get(rec.ID)
	if got.Status != registry.StatusRunning {
		t.Fatalf("expected running, got %s", got.Status)
	}

	sum := &metrics.Summary{TotalRequests: 5}
	if err := r.Finish(rec.ID, registry.StatusCompleted, sum, ""); err != nil {
		t.Fatalf("finish: %v", err)
	}

	got, _ = r.Get(rec.ID)
	if got.Status != registry.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	if got.EndTime == nil {
		t.Fatal("expected end time")
	}
	if got.Results.TotalRequests != 5 {
		t.Fatalf("results not attached")
	}
}

func TestTerminalStatesAreFinal(t *testing.T) {
	r := registry.New(10)
	rec := r.Create(spec())
	_ = r.SetRunning(rec.ID, func() {})
	_ = r.Finish(rec.ID, registry.StatusStopped, nil, "")

	if err := r.Finish(rec.ID, registry.StatusCompleted, nil, ""); !errors.Is(err, registry.ErrBadTransition) {
		t.Fatalf("expected ErrBadTransition, got %v", err)
	}
	if err := r.SetRunning(rec.ID, func() {}); !errors.Is(err, registry.ErrBadTransition) {
		t.Fatalf("expected ErrBadTransition, got %v", err)
	}
}

func TestFinishRequiresTerminalStatus(t *testing.T) {
	r := registry.New(10)
	rec := r.Create(spec())
	if err := r.Finish(rec.ID, registry.StatusRunning, nil, ""); !errors.Is(err, registry.ErrBadTransition) {
		t.Fatalf("expected ErrBadTransition, got %v", err)
	}
}

func TestStopErrors(t *testing.T) {
	r := registry.New(10)

	if err := r.Stop("missing"); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	rec := r.Create(spec())
	if err := r.Stop(rec.ID); !errors.Is(err, registry.ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning for pending test, got %v", err)
	}

	stopped := false
	_ = r.SetRunning(rec.ID, func() { stopped = true })
	if err := r.Stop(rec.ID); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !stopped {
		t.Fatal("stop hook not invoked")
	}

	_ = r.Finish(rec.ID, registry.StatusStopped, nil, "")
	if err := r.Stop(rec.ID); !errors.Is(err, registry.ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning after finish, got %v", err)
	}
}

func TestGetReturnsSnapshot(t *testing.T) {
	r := registry.New(10)
	rec := r.Create(spec())

	snap, _ := r.Get(rec.ID)
	snap.Status = registry.StatusFailed

	fresh, _ := r.Get(rec.ID)
	if fresh.Status != registry.StatusPending {
		t.Fatal("snapshot mutation leaked into the registry")
	}
}

func TestEvictionKeepsRunningTests(t *testing.T) {
	r := registry.New(3)

	var running []string
	for i := 0; i < 3; i++ {
		rec := r.Create(spec())
		_ = r.SetRunning(rec.ID, func() {})
		running = append(running, rec.ID)
	}
	// Terminal records beyond the cap are evicted; running ones survive.
	for i := 0; i < 5; i++ {
		rec := r.Create(spec())
		_ = r.SetRunning(rec.ID, func() {})
		_ = r.Finish(rec.ID, registry.StatusCompleted, nil, "")
	}
	r.Create(spec())

	for _, id := range running {
		if _, err := r.Get(id); err != nil {
			t.Fatalf("running test %s was evicted", id)
		}
	}
}

func TestListOrderedByStartTime(t *testing.T) {
	r := registry.New(10)
	first := r.Create(spec())
	second := r.Create(spec())

	list := r.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 records, got %d", len(list))
	}
	if list[0].ID != first.ID || list[1].ID != second.ID {
		t.Fatal("records out of order")
	}
}
