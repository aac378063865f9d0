package service

import (
	"context"
	"sync"
	"time"

	"github.com/asimthahaazeez/hiveweather/internal/models"
	"github.com/asimthahaazeez/hiveweather/internal/observability"
)

// inFlight tracks a single shared fetch that multiple callers wait on.
// refs counts joined callers; when the last one abandons before completion
// the shared fetch context is cancelled.
type inFlight struct {
	mu      sync.Mutex
	result  models.WeatherSnapshot
	err     error
	done    bool
	refs    int
	waiters []chan struct{}
	cancel  context.CancelFunc
}

// release drops one caller's interest in the flight. Cancels the shared
// fetch only when no callers remain and the fetch has not completed.
func (req *inFlight) release() {
	req.mu.Lock()
	req.refs--
	lastOut := req.refs <= 0 && !req.done
	req.mu.Unlock()
	if lastOut {
		req.cancel()
	}
}

// requestCoalescer guarantees at most one concurrent upstream fetch per
// location key within this process. Concurrent callers for the same key join
// the in-flight fetch and all observe the identical result or error.
type requestCoalescer struct {
	mu       sync.Mutex
	inFlight map[string]*inFlight
	timeout  time.Duration
}

// newRequestCoalescer creates a requestCoalescer. timeout bounds how long a
// caller waits on a joined flight (0 = wait until the caller's own context
// expires).
func newRequestCoalescer(timeout time.Duration) *requestCoalescer {
	return &requestCoalescer{
		inFlight: make(map[string]*inFlight),
		timeout:  timeout,
	}
}

// GetOrDo returns the result of an in-flight fetch for key, starting one
// with fn if none exists. fn receives a context detached from any single
// caller: it is cancelled only when every joined caller has abandoned.
// The in-flight entry is removed on completion, success or failure.
func (rc *requestCoalescer) GetOrDo(ctx context.Context, key string, fn func(context.Context) (models.WeatherSnapshot, error)) (models.WeatherSnapshot, error) {
	rc.mu.Lock()
	req, exists := rc.inFlight[key]
	if !exists {
		// Values (correlation ID, logger) survive; the first caller's
		// deadline does not, so joined callers are not cut off by it.
		fetchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		req = &inFlight{cancel: cancel}
		rc.inFlight[key] = req
		go rc.run(key, req, fetchCtx, fn)
	} else {
		observability.CoalescedRequestsTotal.Inc()
	}

	req.mu.Lock()
	if req.done {
		result, err := req.result, req.err
		req.mu.Unlock()
		rc.mu.Unlock()
		return result, err
	}
	req.refs++
	notify := make(chan struct{})
	req.waiters = append(req.waiters, notify)
	req.mu.Unlock()
	rc.mu.Unlock()

	waitCtx := ctx
	if rc.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, rc.timeout)
		defer cancel()
	}

	select {
	case <-notify:
		req.mu.Lock()
		result, err := req.result, req.err
		req.mu.Unlock()
		return result, err
	case <-waitCtx.Done():
		req.release()
		return models.WeatherSnapshot{}, waitCtx.Err()
	}
}

// run executes the shared fetch, publishes the result to every waiter, and
// removes the map entry. Runs on both success and failure paths so the map
// never retains a completed flight.
func (rc *requestCoalescer) run(key string, req *inFlight, fetchCtx context.Context, fn func(context.Context) (models.WeatherSnapshot, error)) {
	result, err := fn(fetchCtx)

	req.mu.Lock()
	req.result = result
	req.err = err
	req.done = true
	waiters := req.waiters
	req.waiters = nil
	req.mu.Unlock()

	for _, notify := range waiters {
		close(notify)
	}
	req.cancel()

	rc.mu.Lock()
	delete(rc.inFlight, key)
	rc.mu.Unlock()
}
