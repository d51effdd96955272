// Package runner coordinates one test's execution.
//
// The scheduler loop acquires a semaphore permit, launches the request in
// its own goroutine and then sleeps to the next pacing slot. Slots advance
// by 1/current_tps from the previous slot with no catch-up clamp: while the
// semaphore is saturated the achieved rate falls, and once permits free up
// the missed slots launch back to back, never beyond the concurrency cap.
// During ramp-up the effective rate scales linearly from zero.
//
// Two implementations share the lifecycle contract: LoadRunner issues real
// HTTP requests; SimRunner synthesises samples and stands in for an
// external load-generation binary. Both publish one progress event per
// second and exactly one terminal event, and both leave their record in
// the registry with the frozen summary attached.
//
// Per-request failures are recorded and never propagate; only a setup error
// (a request that cannot be built from the spec) fails the test itself.
package runner
