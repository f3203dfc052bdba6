package bridge_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"ragbridge/pkg/bridge"
	"ragbridge/pkg/protocol"
)

func resultFor(t *testing.T, id int64, v any) protocol.Response {
	t.Helper()
	resp, err := protocol.NewResult(id, v)
	if err != nil {
		t.Fatalf("NewResult: %v", err)
	}
	return resp
}

// TestRouter_ResolveSettlesOnce verifies that a response settles its call
// and a duplicate response for the same id is an orphan.
func TestRouter_ResolveSettlesOnce(t *testing.T) {
	t.Parallel()

	r := bridge.NewRouter(time.Minute, 0)
	call, req, err := r.Register("ping", nil, 0)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if req.ID != call.ID || req.Method != "ping" || req.JSONRPC != protocol.Version {
		t.Fatalf("unexpected request %+v for call %d", req, call.ID)
	}

	if !r.Resolve(resultFor(t, call.ID, "pong")) {
		t.Fatal("expected first response to resolve the call")
	}
	if r.Resolve(resultFor(t, call.ID, "again")) {
		t.Fatal("expected duplicate response to be an orphan")
	}

	res, err := call.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if string(res) != `"pong"` {
		t.Fatalf("expected first result to win, got %s", res)
	}
	if r.Pending() != 0 {
		t.Fatalf("expected empty table, got %d", r.Pending())
	}
}

// TestRouter_ErrorResponse verifies that a worker error settles the call
// with the *protocol.RPCError.
func TestRouter_ErrorResponse(t *testing.T) {
	t.Parallel()

	r := bridge.NewRouter(time.Minute, 0)
	call, _, _ := r.Register("boom", nil, 0)

	id := call.ID
	r.Resolve(protocol.NewErrorResponse(&id, protocol.NewRPCError(protocol.CodeInternalError, "failed", nil)))

	_, err := call.Wait(context.Background())
	var rpcErr *protocol.RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Message != "failed" {
		t.Fatalf("expected RPCError \"failed\", got %v", err)
	}
}

// TestRouter_Timeout verifies that an unanswered call fails with a
// TimeoutError and a late response for it is ignored.
func TestRouter_Timeout(t *testing.T) {
	t.Parallel()

	r := bridge.NewRouter(time.Minute, 0)
	call, _, _ := r.Register("slow_op", nil, 30*time.Millisecond)

	select {
	case <-call.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("call did not time out")
	}
	_, err := call.Result()
	var timeoutErr *bridge.TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if timeoutErr.ID != call.ID || timeoutErr.Timeout != 30*time.Millisecond {
		t.Fatalf("unexpected timeout error %+v", timeoutErr)
	}
	if timeoutErr.Elapsed < 30*time.Millisecond {
		t.Fatalf("expected elapsed >= timeout, got %v", timeoutErr.Elapsed)
	}

	if r.Resolve(resultFor(t, call.ID, "late")) {
		t.Fatal("expected late response to be an orphan")
	}
	if _, err := call.Result(); !errors.As(err, &timeoutErr) {
		t.Fatalf("expected outcome to stay a timeout, got %v", err)
	}
}

// TestRouter_TimeoutIsolated verifies that one call timing out leaves other
// calls pending.
func TestRouter_TimeoutIsolated(t *testing.T) {
	t.Parallel()

	r := bridge.NewRouter(time.Minute, 0)
	short, _, _ := r.Register("short", nil, 20*time.Millisecond)
	long, _, _ := r.Register("long", nil, time.Minute)

	<-short.Done()
	select {
	case <-long.Done():
		t.Fatal("expected the long call to stay pending")
	default:
	}
	if !r.Resolve(resultFor(t, long.ID, 1)) {
		t.Fatal("expected long call to resolve")
	}
}

// TestRouter_LateResponseAfterTimeout verifies that a response arriving for
// an id that already timed out is discarded and changes nothing for the
// calls still pending.
func TestRouter_LateResponseAfterTimeout(t *testing.T) {
	t.Parallel()

	r := bridge.NewRouter(time.Minute, 0)
	short, _, _ := r.Register("short", nil, 20*time.Millisecond)
	long, _, _ := r.Register("long", nil, time.Minute)

	select {
	case <-short.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("short call did not time out")
	}

	if r.Resolve(resultFor(t, short.ID, "late")) {
		t.Fatal("expected the late response to be discarded")
	}
	if r.Pending() != 1 {
		t.Fatalf("expected only the long call pending, got %d", r.Pending())
	}
	select {
	case <-long.Done():
		t.Fatal("expected the late response to leave the long call pending")
	default:
	}
	var timeoutErr *bridge.TimeoutError
	if _, err := short.Result(); !errors.As(err, &timeoutErr) {
		t.Fatalf("expected the short call to stay timed out, got %v", err)
	}

	if !r.Resolve(resultFor(t, long.ID, "answer")) {
		t.Fatal("expected the long call to resolve")
	}
	res, err := long.Wait(context.Background())
	if err != nil || string(res) != `"answer"` {
		t.Fatalf("expected \"answer\", got %s (%v)", res, err)
	}
}

// TestRouter_FailAll verifies that every pending call is settled with the
// given error and the table is left empty.
func TestRouter_FailAll(t *testing.T) {
	t.Parallel()

	r := bridge.NewRouter(time.Minute, 0)
	calls := make([]*bridge.Call, 3)
	for i := range calls {
		calls[i], _, _ = r.Register("x", nil, 0)
	}

	cause := errors.New("worker gone")
	if n := r.FailAll(cause); n != 3 {
		t.Fatalf("expected 3 failed calls, got %d", n)
	}
	for i, call := range calls {
		if _, err := call.Wait(context.Background()); !errors.Is(err, cause) {
			t.Fatalf("call %d: expected cause, got %v", i, err)
		}
	}
	if r.Pending() != 0 {
		t.Fatalf("expected empty table, got %d", r.Pending())
	}
	if n := r.FailAll(cause); n != 0 {
		t.Fatalf("expected second FailAll to find nothing, got %d", n)
	}
}

// TestRouter_ConcurrentRegisterUniqueIDs verifies that ids stay unique and
// increasing under concurrent registration.
func TestRouter_ConcurrentRegisterUniqueIDs(t *testing.T) {
	t.Parallel()

	r := bridge.NewRouter(time.Minute, 0)
	const n = 200

	var (
		mu  sync.Mutex
		ids = make(map[int64]bool, n)
		wg  sync.WaitGroup
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			call, _, err := r.Register("x", nil, 0)
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			ids[call.ID] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(ids) != n {
		t.Fatalf("expected %d unique ids, got %d", n, len(ids))
	}
	for id := int64(1); id <= n; id++ {
		if !ids[id] {
			t.Fatalf("expected ids 1..%d, missing %d", n, id)
		}
	}
	r.FailAll(errors.New("done"))
}

// TestRouter_PendingLimit verifies the backpressure bound and that a slot
// frees up once a call settles.
func TestRouter_PendingLimit(t *testing.T) {
	t.Parallel()

	r := bridge.NewRouter(time.Minute, 2)
	first, _, _ := r.Register("a", nil, 0)
	if _, _, err := r.Register("b", nil, 0); err != nil {
		t.Fatalf("second Register: %v", err)
	}
	if _, _, err := r.Register("c", nil, 0); !errors.Is(err, bridge.ErrPendingLimit) {
		t.Fatalf("expected ErrPendingLimit, got %v", err)
	}

	r.Resolve(resultFor(t, first.ID, json.RawMessage(`null`)))
	if _, _, err := r.Register("c", nil, 0); err != nil {
		t.Fatalf("expected a free slot after resolve, got %v", err)
	}
	r.FailAll(errors.New("done"))
}

// TestCall_WaitContext verifies that abandoning a wait does not settle the
// call.
func TestCall_WaitContext(t *testing.T) {
	t.Parallel()

	r := bridge.NewRouter(time.Minute, 0)
	call, _, _ := r.Register("x", nil, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := call.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if r.Pending() != 1 {
		t.Fatalf("expected call to stay pending, got %d", r.Pending())
	}
	if !r.Resolve(resultFor(t, call.ID, "ok")) {
		t.Fatal("expected call to resolve after abandoned wait")
	}
}
