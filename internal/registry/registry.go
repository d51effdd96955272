// Package registry is the process-wide map of test records.
package registry

import (
	"crypto/rand"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/torosent/loadpilot/internal/config"
	"github.com/torosent/loadpilot/internal/metrics"
)

// Status is a test lifecycle state. Transitions are one-way along
// pending -> running -> (completed | stopped | failed).
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusStopped   Status = "stopped"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status ends the lifecycle.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusStopped || s == StatusFailed
}

// Record is one test's registry entry. Mutated only through Registry methods.
type Record struct {
	ID        string
	Spec      *config.TestSpec
	Status    Status
	StartTime time.Time
	EndTime   *time.Time
	Results   *metrics.Summary
	Error     string
}

var (
	ErrNotFound      = errors.New("test not found")
	ErrNotRunning    = errors.New("test is not running")
	ErrBadTransition = errors.New("invalid status transition")
)

// Registry maps test ids to records. All mutations are serialised under one
// mutex. Terminal records beyond maxRecords are evicted oldest-first;
// running tests are never evicted.
type Registry struct {
	mu         sync.Mutex
	records    map[string]*Record
	order      []string
	stoppers   map[string]func()
	maxRecords int
}

func New(maxRecords int) *Registry {
	if maxRecords <= 0 {
		maxRecords = 200
	}
	return &Registry{
		records:    make(map[string]*Record),
		stoppers:   make(map[string]func()),
		maxRecords: maxRecords,
	}
}

// NewID returns a unique, lexically sortable test id.
func NewID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

// Create registers a pending record and returns a snapshot of it.
func (r *Registry) Create(spec *config.TestSpec) *Record {
	rec := &Record{
		ID:        NewID(),
		Spec:      spec,
		Status:    StatusPending,
		StartTime: time.Now(),
	}
	r.mu.Lock()
	r.records[rec.ID] = rec
	r.order = append(r.order, rec.ID)
	r.evictLocked()
	snapshot := rec.snapshot()
	r.mu.Unlock()
	return snapshot
}

func (r *Registry) evictLocked() {
	if len(r.records) <= r.maxRecords {
		return
	}
	kept := r.order[:0]
	excess := len(r.records) - r.maxRecords
	for _, id := range r.order {
		rec := r.records[id]
		if excess > 0 && rec != nil && rec.Status.Terminal() {
			delete(r.records, id)
			delete(r.stoppers, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	r.order = kept
}

// Get returns a snapshot of the record.
func (r *Registry) Get(id string) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.snapshot(), nil
}

// List returns snapshots of every record, oldest first.
func (r *Registry) List() []*Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Record, 0, len(r.records))
	for _, id := range r.order {
		if rec, ok := r.records[id]; ok {
			out = append(out, rec.snapshot())
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

// SetRunning moves a pending record to running and binds its stop hook.
func (r *Registry) SetRunning(id string, stop func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return ErrNotFound
	}
	if rec.Status != StatusPending {
		return ErrBadTransition
	}
	rec.Status = StatusRunning
	rec.StartTime = time.Now()
	r.stoppers[id] = stop
	return nil
}

// Finish moves a running (or pending, for early failures) record to a
// terminal state, attaching results or the failure message.
func (r *Registry) Finish(id string, status Status, results *metrics.Summary, errMsg string) error {
	if !status.Terminal() {
		return ErrBadTransition
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return ErrNotFound
	}
	if rec.Status.Terminal() {
		return ErrBadTransition
	}
	now := time.Now()
	rec.Status = status
	rec.EndTime = &now
	rec.Results = results
	rec.Error = errMsg
	delete(r.stoppers, id)
	return nil
}

// Stop invokes the stop hook of a running test.
func (r *Registry) Stop(id string) error {
	r.mu.Lock()
	rec, ok := r.records[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	stop := r.stoppers[id]
	running := rec.Status == StatusRunning
	r.mu.Unlock()

	if !running || stop == nil {
		return ErrNotRunning
	}
	stop()
	return nil
}

func (rec *Record) snapshot() *Record {
	out := *rec
	if rec.EndTime != nil {
		end := *rec.EndTime
		out.EndTime = &end
	}
	return &out
}
