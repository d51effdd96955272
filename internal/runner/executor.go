package runner

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/torosent/loadpilot/internal/httpclient"
	"github.com/torosent/loadpilot/internal/metrics"
	"github.com/torosent/loadpilot/internal/obs"
	"github.com/torosent/loadpilot/internal/tracing"
)

// maxPreviewBytes caps the response-body preview kept in error messages.
const maxPreviewBytes = 4096

// executor issues one HTTP request per Do call and records exactly one
// sample. It never returns an error to the scheduler; per-request failures
// are counted, not propagated.
type executor struct {
	client  *http.Client
	builder *httpclient.RequestBuilder
	agg     *metrics.Aggregator
	tracer  trace.Tracer
}

// Do executes one request. Latency spans send through the preview read on a
// monotonic clock.
func (e *executor) Do(ctx context.Context) {
	var span trace.Span
	if e.tracer != nil {
		ctx, span = tracing.StartRequestSpan(ctx, e.tracer, "http", "")
	}

	start := time.Now()
	req, err := e.builder.Build(ctx)
	if err != nil {
		e.record(span, start, 0, false, err.Error())
		return
	}

	resp, err := e.client.Do(req)
	if err != nil {
		e.record(span, start, 0, false, transportError(err))
		return
	}

	preview, _ := io.ReadAll(io.LimitReader(resp.Body, maxPreviewBytes))
	_ = resp.Body.Close()

	ok := resp.StatusCode >= 200 && resp.StatusCode < 400
	message := ""
	if !ok {
		message = string(preview)
	}
	e.record(span, start, resp.StatusCode, ok, message)
}

func (e *executor) record(span trace.Span, start time.Time, status int, ok bool, message string) {
	latency := time.Since(start)
	sample := metrics.Sample{
		Timestamp:    time.Now().UnixMilli(),
		Status:       status,
		OK:           ok,
		ResponseTime: float64(latency) / float64(time.Millisecond),
		Message:      message,
	}
	e.agg.Record(sample)

	outcome := "passed"
	if !ok {
		outcome = "failed"
	}
	obs.RequestsTotal.WithLabelValues(outcome).Inc()

	if span != nil {
		var err error
		if !ok {
			err = &statusError{status: status, message: message}
		}
		tracing.EndSpan(span, err, attribute.String("http.status", strconv.Itoa(status)))
	}
}

// statusError adapts a failed outcome for span recording.
type statusError struct {
	status  int
	message string
}

func (e *statusError) Error() string {
	if e.status == 0 {
		return e.message
	}
	return "status " + strconv.Itoa(e.status)
}

// transportError trims transport failure text to the preview cap.
func transportError(err error) string {
	msg := strings.TrimSpace(err.Error())
	if len(msg) > maxPreviewBytes {
		msg = msg[:maxPreviewBytes]
	}
	return msg
}
