// Package metrics aggregates per-request outcomes into rolling one-second
// buckets and a final summary document.
package metrics

import (
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

const (
	maxErrorEntries  = 200
	maxSampleEntries = 500
)

// Sample is one completed request outcome. Timestamp is the completion
// instant in UNIX milliseconds; a transport failure carries Status 0.
type Sample struct {
	Timestamp    int64   `json:"timestamp"`
	Status       int     `json:"status"`
	OK           bool    `json:"ok"`
	ResponseTime float64 `json:"responseTime"`
	Message      string  `json:"-"`
}

// ErrorEntry is one failed request retained in the capped error log.
type ErrorEntry struct {
	Time    int64  `json:"time"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// TimePoint is one second of the derived time series.
type TimePoint struct {
	Second          int64   `json:"second"`
	RPS             int     `json:"requestsPerSecond"`
	AvgResponseTime float64 `json:"avgResponseTime"`
}

// Summary is the final aggregated result document.
type Summary struct {
	TotalRequests      int64            `json:"totalRequests"`
	SuccessfulRequests int64            `json:"successfulRequests"`
	FailedRequests     int64            `json:"failedRequests"`
	SuccessRate        float64          `json:"successRate"`
	AvgResponseTime    float64          `json:"avgResponseTime"`
	Percentile95       float64          `json:"percentile95"`
	PeakRPS            float64          `json:"peakRPS"`
	RequestsPerSecond  float64          `json:"requestsPerSecond"`
	Duration           float64          `json:"duration"`
	Timestamp          string           `json:"timestamp"`
	Codes              map[string]int64 `json:"codes"`
	Errors             []ErrorEntry     `json:"errors"`
	Samples            []Sample         `json:"samples"`
	Timeseries         []TimePoint      `json:"timeseries"`

	MinResponseTime float64 `json:"minResponseTime"`
	MaxResponseTime float64 `json:"maxResponseTime"`
	Percentile50    float64 `json:"percentile50"`
	Percentile99    float64 `json:"percentile99"`
}

// Aggregator records samples for a single test. All access is serialised
// under one mutex; it is owned by one runner and its tasks.
type Aggregator struct {
	mu          sync.Mutex
	hist        *hdrhistogram.Histogram
	total       int64
	passed      int64
	failed      int64
	latencies   []float64
	codes       map[string]int64
	errors      []ErrorEntry
	samples     []Sample
	perSecCount map[int64]int
	perSecSum   map[int64]float64
	series      []TimePoint
	ticked      int64
}

func NewAggregator() *Aggregator {
	// Latencies tracked from 1µs to 60s at 3 significant figures.
	return &Aggregator{
		hist:        hdrhistogram.New(1, 60_000_000, 3),
		codes:       make(map[string]int64),
		perSecCount: make(map[int64]int),
		perSecSum:   make(map[int64]float64),
	}
}

// Record applies one sample. passed+failed == total holds after every call.
func (a *Aggregator) Record(s Sample) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.total++
	a.latencies = append(a.latencies, s.ResponseTime)
	a.codes[strconv.Itoa(s.Status)]++

	us := int64(s.ResponseTime * 1000)
	if us < a.hist.LowestTrackableValue() {
		us = a.hist.LowestTrackableValue()
	}
	if us > a.hist.HighestTrackableValue() {
		us = a.hist.HighestTrackableValue()
	}
	_ = a.hist.RecordValue(us)

	if s.OK {
		a.passed++
	} else {
		a.failed++
		if len(a.errors) < maxErrorEntries {
			a.errors = append(a.errors, ErrorEntry{Time: s.Timestamp, Code: s.Status, Message: s.Message})
		}
	}

	sec := s.Timestamp / 1000
	a.perSecCount[sec]++
	a.perSecSum[sec] += s.ResponseTime

	if len(a.samples) < maxSampleEntries {
		sample := s
		sample.Message = ""
		a.samples = append(a.samples, sample)
	}
}

// Tick closes the given second: appends its bucket to the time series and
// returns the point for the progress event. Seconds must be ticked in
// ascending order; a second is never ticked twice.
func (a *Aggregator) Tick(sec int64) TimePoint {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tickLocked(sec)
}

func (a *Aggregator) tickLocked(sec int64) TimePoint {
	cnt := a.perSecCount[sec]
	avg := 0.0
	if cnt > 0 {
		avg = a.perSecSum[sec] / float64(cnt)
	}
	pt := TimePoint{Second: sec, RPS: cnt, AvgResponseTime: avg}
	a.series = append(a.series, pt)
	a.ticked = sec
	return pt
}

// Counters returns the running totals for progress events.
func (a *Aggregator) Counters() (total, passed, failed int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.total, a.passed, a.failed
}

// Finalize freezes the aggregator into a Summary. Buckets the ticker has not
// yet emitted are flushed first so that sum(timeseries.rps) == totalRequests.
func (a *Aggregator) Finalize(startedAt time.Time) *Summary {
	a.mu.Lock()
	defer a.mu.Unlock()

	var pending []int64
	for sec := range a.perSecCount {
		if a.ticked == 0 || sec > a.ticked {
			pending = append(pending, sec)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i] < pending[j] })
	for _, sec := range pending {
		a.tickLocked(sec)
	}

	duration := math.Max(0.001, time.Since(startedAt).Seconds())
	achieved := float64(a.total) / duration

	var avg, p95 float64
	if n := len(a.latencies); n > 0 {
		sorted := append([]float64(nil), a.latencies...)
		sort.Float64s(sorted)
		var sum float64
		for _, v := range sorted {
			sum += v
		}
		avg = sum / float64(n)
		p95 = sorted[int(0.95*float64(n-1))]
	}

	peak := achieved
	for _, pt := range a.series {
		if float64(pt.RPS) > peak {
			peak = float64(pt.RPS)
		}
	}

	rate := 0.0
	if a.total > 0 {
		rate = float64(a.passed) / float64(a.total) * 100
	}

	sum := &Summary{
		TotalRequests:      a.total,
		SuccessfulRequests: a.passed,
		FailedRequests:     a.failed,
		SuccessRate:        rate,
		AvgResponseTime:    avg,
		Percentile95:       p95,
		PeakRPS:            peak,
		RequestsPerSecond:  achieved,
		Duration:           duration,
		Timestamp:          time.Now().Format(time.RFC3339),
		Codes:              make(map[string]int64, len(a.codes)),
		Errors:             append([]ErrorEntry(nil), a.errors...),
		Samples:            append([]Sample(nil), a.samples...),
		Timeseries:         append([]TimePoint(nil), a.series...),
	}
	for k, v := range a.codes {
		sum.Codes[k] = v
	}

	if a.hist.TotalCount() > 0 {
		sum.MinResponseTime = float64(a.hist.Min()) / 1000
		sum.MaxResponseTime = float64(a.hist.Max()) / 1000
		sum.Percentile50 = float64(a.hist.ValueAtQuantile(50)) / 1000
		sum.Percentile99 = float64(a.hist.ValueAtQuantile(99)) / 1000
	}

	return sum
}
