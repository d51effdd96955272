package runner

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/torosent/loadpilot/internal/bus"
	"github.com/torosent/loadpilot/internal/config"
	"github.com/torosent/loadpilot/internal/metrics"
	"github.com/torosent/loadpilot/internal/obs"
	"github.com/torosent/loadpilot/internal/registry"
)

// SimRunner is the stand-in for the external load-testing binary. It drives
// the same lifecycle, registry transitions and telemetry as LoadRunner but
// synthesises samples instead of issuing requests.
type SimRunner struct {
	id   string
	spec *config.TestSpec
	deps Deps
	agg  *metrics.Aggregator

	stopReq chan struct{}
	once    sync.Once
	rnd     *rand.Rand
}

func NewSimRunner(id string, spec *config.TestSpec, deps Deps) *SimRunner {
	deps.normalize()
	return &SimRunner{
		id:      id,
		spec:    spec,
		deps:    deps,
		agg:     metrics.NewAggregator(),
		stopReq: make(chan struct{}),
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *SimRunner) Stop() {
	r.once.Do(func() { close(r.stopReq) })
}

func (r *SimRunner) stopped() bool {
	select {
	case <-r.stopReq:
		return true
	default:
		return false
	}
}

func (r *SimRunner) Run(ctx context.Context) {
	log := r.deps.Log.With(zap.String("test_id", r.id), zap.String("backend", "simulated"))

	if err := r.deps.Registry.SetRunning(r.id, r.Stop); err != nil {
		log.Error("cannot start test", zap.Error(err))
		return
	}
	obs.TestsActive.Inc()
	defer obs.TestsActive.Dec()

	started := time.Now()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	tickerDone := make(chan struct{})
	go r.runTicker(runCtx, started, tickerDone)

	r.generate(runCtx, started)

	cancel()
	<-tickerDone

	summary := r.agg.Finalize(started)

	status := registry.StatusCompleted
	event := bus.EventCompleted
	if r.stopped() {
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
	log.Info("simulated test finished", zap.String("status", string(status)))
}

// generate emits synthetic samples at the target rate (or a nominal rate
// when unpaced) for the configured duration or loop count.
func (r *SimRunner) generate(ctx context.Context, started time.Time) {
	rate := r.spec.TargetTPS
	if rate <= 0 {
		rate = float64(r.spec.Users) * 10
	}

	pace := newPacer(rate, r.spec.RampDuration(), started)
	launched := 0
	for {
		if ctx.Err() != nil || r.stopped() {
			return
		}
		if r.spec.IterationMode() {
			if launched >= r.spec.LoopCount {
				return
			}
		} else if time.Since(started) >= r.spec.RunDuration() {
			return
		}

		if err := pace.Wait(ctx); err != nil {
			return
		}
		r.agg.Record(r.sample())
		launched++
	}
}

// sample draws a synthetic outcome: ~98% passes with a 20-80ms latency.
func (r *SimRunner) sample() metrics.Sample {
	latency := 20 + r.rnd.Float64()*60
	status := 200
	ok := true
	if r.rnd.Float64() < 0.02 {
		status = 500
		ok = false
	}
	s := metrics.Sample{
		Timestamp:    time.Now().UnixMilli(),
		Status:       status,
		OK:           ok,
		ResponseTime: latency,
	}
	if !ok {
		s.Message = "simulated server error"
	}
	return s
}

func (r *SimRunner) runTicker(ctx context.Context, started time.Time, done chan<- struct{}) {
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

			progress := 100.0
			if r.spec.IterationMode() {
				progress = float64(total) / float64(r.spec.LoopCount) * 100
			} else if r.spec.Duration > 0 {
				progress = elapsed / float64(r.spec.Duration) * 100
			}
			if progress > 100 {
				progress = 100
			}

			r.deps.Bus.Publish(bus.Event{
				Name:   bus.EventUpdate,
				TestID: r.id,
				Data: Update{
					TestID:          r.id,
					Progress:        progress,
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
