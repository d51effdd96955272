// Package runner owns test lifecycles: pacing, execution, telemetry and
// finalisation.
package runner

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/torosent/loadpilot/internal/bus"
	"github.com/torosent/loadpilot/internal/config"
	"github.com/torosent/loadpilot/internal/httpclient"
	"github.com/torosent/loadpilot/internal/metrics"
	"github.com/torosent/loadpilot/internal/obs"
	"github.com/torosent/loadpilot/internal/registry"
)

// TestRunner drives one test from running to a terminal state.
type TestRunner interface {
	// Run blocks until the test reaches a terminal state. The terminal
	// event and registry transition happen exactly once, inside Run.
	Run(ctx context.Context)
	// Stop requests a clean cutoff: no new launches, in-flight requests
	// drain under the grace window.
	Stop()
}

// Update is the per-second progress payload pushed to observers.
type Update struct {
	TestID          string  `json:"test_id"`
	Progress        float64 `json:"progress"`
	Elapsed         float64 `json:"elapsed"`
	Total           int64   `json:"total"`
	Passed          int64   `json:"passed"`
	Failed          int64   `json:"failed"`
	RPS             int     `json:"requests_per_second"`
	AvgResponseTime float64 `json:"avg_response_time"`
	Timestamp       string  `json:"timestamp"`
}

// Terminal event payloads.
type completedPayload struct {
	TestID    string           `json:"test_id"`
	Status    string           `json:"status"`
	Results   *metrics.Summary `json:"results"`
	Timestamp string           `json:"timestamp"`
}

type failedPayload struct {
	TestID    string `json:"test_id"`
	Status    string `json:"status"`
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
}

// ResultSink persists a final summary. Absence of persistence is not an
// error; a nil sink is valid.
type ResultSink interface {
	Write(id string, summary *metrics.Summary) error
}

// Deps are the collaborators shared by runner implementations.
type Deps struct {
	Registry *registry.Registry
	Bus      *bus.Bus
	Results  ResultSink
	Log      *zap.Logger
	Tracer   trace.Tracer

	RequestTimeout time.Duration
	DrainGrace     time.Duration
}

func (d *Deps) normalize() {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.RequestTimeout <= 0 {
		d.RequestTimeout = 30 * time.Second
	}
	if d.DrainGrace <= 0 {
		d.DrainGrace = 30 * time.Second
	}
}

// LoadRunner is the HTTP load-generation implementation of TestRunner.
type LoadRunner struct {
	id   string
	spec *config.TestSpec
	deps Deps
	agg  *metrics.Aggregator

	stopReq  atomic.Bool
	launched atomic.Int64
	inflight atomic.Int64

	mu        sync.Mutex
	stopSched context.CancelFunc
}

func NewLoadRunner(id string, spec *config.TestSpec, deps Deps) *LoadRunner {
	deps.normalize()
	return &LoadRunner{id: id, spec: spec, deps: deps, agg: metrics.NewAggregator()}
}

// Stop flags the scheduler to cut the loop before its next acquire or sleep.
func (r *LoadRunner) Stop() {
	r.stopReq.Store(true)
	r.mu.Lock()
	cancel := r.stopSched
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Run executes the whole lifecycle: session setup, pacing, ticking, drain,
// finalisation, registry transition and the terminal event.
func (r *LoadRunner) Run(ctx context.Context) {
	log := r.deps.Log.With(zap.String("test_id", r.id))

	if err := r.deps.Registry.SetRunning(r.id, r.Stop); err != nil {
		log.Error("cannot start test", zap.Error(err))
		return
	}
	obs.TestsActive.Inc()
	defer obs.TestsActive.Dec()

	started := time.Now()

	builder, err := httpclient.NewRequestBuilder(r.spec)
	if err != nil {
		r.fail(log, err)
		return
	}
	client := httpclient.NewClient(r.spec.Timeout(r.deps.RequestTimeout), r.spec.Users)
	defer client.CloseIdleConnections()

	exec := &executor{client: client, builder: builder, agg: r.agg, tracer: r.deps.Tracer}

	// runCtx covers in-flight requests; schedCtx only gates new launches.
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	schedCtx, cancelSched := context.WithCancel(runCtx)
	r.mu.Lock()
	r.stopSched = cancelSched
	r.mu.Unlock()
	defer cancelSched()

	if !r.spec.IterationMode() {
		deadlineCtx, cancelDeadline := context.WithTimeout(schedCtx, r.spec.RunDuration())
		schedCtx = deadlineCtx
		defer cancelDeadline()
	}

	tickerDone := make(chan struct{})
	go r.runTicker(runCtx, started, tickerDone)

	wg := r.schedule(schedCtx, runCtx, exec)

	r.drain(wg, cancelRun, log)

	cancelRun()
	<-tickerDone

	summary := r.agg.Finalize(started)

	status := registry.StatusCompleted
	event := bus.EventCompleted
	if r.stopReq.Load() {
		status = registry.StatusStopped
		event = bus.EventStopped
	}

	if err := r.deps.Registry.Finish(r.id, status, summary, ""); err != nil {
		log.Warn("finish transition rejected", zap.Error(err))
	}
	if r.deps.Results != nil {
		if err := r.deps.Results.Write(r.id, summary); err != nil {
			log.Warn("result file not written", zap.Error(err))
		}
	}

	r.deps.Bus.Publish(bus.Event{
		Name:   event,
		TestID: r.id,
		Data: completedPayload{
			TestID:    r.id,
			Status:    string(status),
			Results:   summary,
			Timestamp: time.Now().Format(time.RFC3339),
		},
	})
	log.Info("test finished",
		zap.String("status", string(status)),
		zap.Int64("total", summary.TotalRequests),
		zap.Float64("achieved_tps", summary.RequestsPerSecond))
}

// schedule runs the pacing loop: acquire a permit, launch, wait for the
// next slot. Cancellation is checked before each acquire and each sleep.
func (r *LoadRunner) schedule(schedCtx, runCtx context.Context, exec *executor) *sync.WaitGroup {
	permits := make(chan struct{}, r.spec.Users)
	wg := &sync.WaitGroup{}

	ramp := r.spec.RampDuration()
	pace := newPacer(r.spec.TargetTPS, ramp, time.Now())

	for {
		if schedCtx.Err() != nil || r.stopReq.Load() {
			break
		}
		if r.spec.IterationMode() && r.launched.Load() >= int64(r.spec.LoopCount) {
			break
		}

		select {
		case permits <- struct{}{}:
		case <-schedCtx.Done():
		}
		if schedCtx.Err() != nil {
			break
		}

		r.launched.Add(1)
		wg.Add(1)
		r.inflight.Add(1)
		obs.InFlight.Inc()
		go func() {
			defer wg.Done()
			defer func() {
				<-permits
				r.inflight.Add(-1)
				obs.InFlight.Dec()
			}()
			exec.Do(runCtx)
		}()

		if err := pace.Wait(schedCtx); err != nil {
			break
		}
	}

	return wg
}

// drain waits for in-flight requests, bounded by the grace window so a
// missing client timeout cannot deadlock the runner.
func (r *LoadRunner) drain(wg *sync.WaitGroup, cancelRun context.CancelFunc, log *zap.Logger) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(r.deps.DrainGrace)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		log.Warn("drain grace elapsed, cancelling in-flight requests",
			zap.Duration("grace", r.deps.DrainGrace),
			zap.Int64("in_flight", r.inflight.Load()))
		cancelRun()
		<-done
	}
}

// runTicker publishes one progress event per second for the just-closed
// second until the run context ends.
func (r *LoadRunner) runTicker(ctx context.Context, started time.Time, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			pt := r.agg.Tick(now.Unix() - 1)
			total, passed, failed := r.agg.Counters()
			elapsed := time.Since(started).Seconds()

			r.deps.Bus.Publish(bus.Event{
				Name:   bus.EventUpdate,
				TestID: r.id,
				Data: Update{
					TestID:          r.id,
					Progress:        r.progress(elapsed),
					Elapsed:         elapsed,
					Total:           total,
					Passed:          passed,
					Failed:          failed,
					RPS:             pt.RPS,
					AvgResponseTime: pt.AvgResponseTime,
					Timestamp:       time.Now().Format(time.RFC3339),
				},
			})
		}
	}
}

func (r *LoadRunner) progress(elapsed float64) float64 {
	if r.spec.IterationMode() {
		p := float64(r.launched.Load()) / float64(r.spec.LoopCount) * 100
		if p > 100 {
			p = 100
		}
		return p
	}
	p := elapsed / float64(r.spec.Duration) * 100
	if p > 100 {
		p = 100
	}
	return p
}

// fail transitions the test to failed and publishes the failure event.
// Used for unrecoverable errors, never for per-request failures.
func (r *LoadRunner) fail(log *zap.Logger, err error) {
	log.Error("test failed", zap.Error(err))
	if ferr := r.deps.Registry.Finish(r.id, registry.StatusFailed, nil, err.Error()); ferr != nil {
		log.Warn("finish transition rejected", zap.Error(ferr))
	}
	r.deps.Bus.Publish(bus.Event{
		Name:   bus.EventFailed,
		TestID: r.id,
		Data: failedPayload{
			TestID:    r.id,
			Status:    string(registry.StatusFailed),
			Error:     err.Error(),
			Timestamp: time.Now().Format(time.RFC3339),
		},
	})
}
