package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"ragbridge/pkg/protocol"
)

// Call is the handle returned for one outstanding request. It settles
// exactly once: with the worker's result or error, with a *TimeoutError, or
// with an *UnavailableError.
type Call struct {
	ID      int64
	Method  string
	Started time.Time
	Timeout time.Duration

	done   chan struct{}
	result json.RawMessage
	err    error
}

// Done is closed when the call has settled.
func (c *Call) Done() <-chan struct{} { return c.done }

// Result returns the settled outcome. It must only be called after Done is
// closed; before that it returns (nil, nil).
func (c *Call) Result() (json.RawMessage, error) {
	select {
	case <-c.done:
		return c.result, c.err
	default:
		return nil, nil
	}
}

// Wait blocks until the call settles or ctx is done. Abandoning the wait
// does not cancel the call: it still settles by response or timeout.
func (c *Call) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-c.done:
		return c.result, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Call) settle(result json.RawMessage, err error) {
	c.result = result
	c.err = err
	close(c.done)
}

// pendingEntry is owned by the Router's table. Its timer is stopped in the
// same critical section that removes it.
type pendingEntry struct {
	call  *Call
	timer *time.Timer
}

// Router correlates responses with calls by id. All id allocation and table
// mutation happens under mu; settlement always begins by removing the entry,
// so whichever of response, timer or broadcast gets there first wins and the
// others find nothing to do.
type Router struct {
	defaultTimeout time.Duration
	maxPending     int
	nowFunc        func() time.Time

	mu      sync.Mutex
	nextID  int64
	pending map[int64]*pendingEntry
}

// NewRouter creates a Router. maxPending <= 0 means unbounded.
func NewRouter(defaultTimeout time.Duration, maxPending int) *Router {
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultCallTimeout
	}
	return &Router{
		defaultTimeout: defaultTimeout,
		maxPending:     maxPending,
		nowFunc:        time.Now,
		pending:        make(map[int64]*pendingEntry),
	}
}

// Register allocates the next id, arms the call's timer and inserts it in the
// pending table. The returned request is ready to hand to the Transport.
// timeout <= 0 selects the default.
func (r *Router) Register(method string, params map[string]any, timeout time.Duration) (*Call, protocol.Request, error) {
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.maxPending > 0 && len(r.pending) >= r.maxPending {
		return nil, protocol.Request{}, ErrPendingLimit
	}

	r.nextID++
	id := r.nextID
	call := &Call{
		ID:      id,
		Method:  method,
		Started: r.nowFunc(),
		Timeout: timeout,
		done:    make(chan struct{}),
	}
	entry := &pendingEntry{call: call}
	entry.timer = time.AfterFunc(timeout, func() { r.expire(id) })
	r.pending[id] = entry

	return call, protocol.NewRequest(id, method, params), nil
}

// Resolve settles the call matching resp.ID. It returns false when no entry
// exists (already timed out, already failed, or an id never issued); the
// response is then an orphan and has no effect.
func (r *Router) Resolve(resp protocol.Response) bool {
	if resp.ID == nil {
		return false
	}
	entry := r.take(*resp.ID)
	if entry == nil {
		return false
	}
	if resp.Error != nil {
		entry.call.settle(nil, resp.Error)
		return true
	}
	entry.call.settle(resp.Result, nil)
	return true
}

// Fail settles one pending call with err. It is a no-op when the entry is
// already gone.
func (r *Router) Fail(id int64, err error) bool {
	entry := r.take(id)
	if entry == nil {
		return false
	}
	entry.call.settle(nil, err)
	return true
}

// FailAll settles every pending call with err and leaves the table empty.
// It returns how many calls were failed.
func (r *Router) FailAll(err error) int {
	r.mu.Lock()
	entries := r.pending
	r.pending = make(map[int64]*pendingEntry)
	for _, e := range entries {
		e.timer.Stop()
	}
	r.mu.Unlock()

	for _, e := range entries {
		e.call.settle(nil, err)
	}
	return len(entries)
}

// Pending returns the number of outstanding calls.
func (r *Router) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Router) expire(id int64) {
	entry := r.take(id)
	if entry == nil {
		return
	}
	call := entry.call
	call.settle(nil, &TimeoutError{
		ID:      call.ID,
		Method:  call.Method,
		Timeout: call.Timeout,
		Elapsed: r.nowFunc().Sub(call.Started),
	})
}

// take removes the entry for id and stops its timer in one critical section.
func (r *Router) take(id int64) *pendingEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.pending[id]
	if !ok {
		return nil
	}
	delete(r.pending, id)
	entry.timer.Stop()
	return entry
}
