package bridge

import (
	"context"
	"errors"
	"sync"
	"time"
)

// errStaleGeneration is returned by the probe once the generation a loop was
// armed for has been replaced. The loop ends on it.
var errStaleGeneration = errors.New("worker generation is gone")

// healthMonitor probes a running worker on a fixed interval. It is armed
// for one worker generation at a time: the Manager arms it when a worker
// reaches Running and disarms it before the worker goes away, so no probe is
// ever scheduled against a process that no longer exists.
type healthMonitor struct {
	interval time.Duration
	probe    func(ctx context.Context, generation uint64) error
	report   func(generation uint64, err error)

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newHealthMonitor(interval time.Duration,
	probe func(context.Context, uint64) error,
	report func(uint64, error),
) *healthMonitor {
	return &healthMonitor{
		interval: interval,
		probe:    probe,
		report:   report,
	}
}

// enabled reports whether periodic probing is configured.
func (h *healthMonitor) enabled() bool {
	return h.interval > 0
}

// arm starts probing generation, replacing any previous loop.
func (h *healthMonitor) arm(generation uint64) {
	if !h.enabled() {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())

	h.mu.Lock()
	if h.cancel != nil {
		h.cancel()
	}
	h.cancel = cancel
	h.mu.Unlock()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.run(ctx, generation)
	}()
}

// disarm stops the current loop without waiting for it. A probe already in
// flight is abandoned and its result is not reported.
func (h *healthMonitor) disarm() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// wait blocks until every loop has returned.
func (h *healthMonitor) wait() {
	h.wg.Wait()
}

func (h *healthMonitor) run(ctx context.Context, generation uint64) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		err := h.probe(ctx, generation)
		if ctx.Err() != nil || errors.Is(err, errStaleGeneration) {
			return
		}
		h.report(generation, err)
	}
}
