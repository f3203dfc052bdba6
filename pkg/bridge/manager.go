// Package bridge supervises a long-lived worker subprocess and exposes its
// JSON-RPC methods as ordinary calls. It owns the process lifecycle (spawn,
// readiness, graceful termination, automatic restart with backoff), the
// request router that correlates responses by id, and the health monitor.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ragbridge/pkg/protocol"
)

// State is the lifecycle state of a Manager.
type State string

// Lifecycle states.
const (
	StateStopped    State = "stopped"
	StateStarting   State = "starting"
	StateRunning    State = "running"
	StateStopping   State = "stopping"
	StateRestarting State = "restarting"
)

// readyProbeInterval spaces readiness probes while waiting in probe mode.
const readyProbeInterval = 100 * time.Millisecond

// Status is a point-in-time snapshot of a Manager.
type Status struct {
	State               State     `json:"state"`
	InstanceID          string    `json:"instance_id"`
	PID                 int       `json:"pid,omitempty"`
	Generation          uint64    `json:"generation"`
	StartedAt           time.Time `json:"started_at,omitzero"`
	Restarts            int       `json:"restarts"`
	ConsecutiveRestarts int       `json:"consecutive_restarts"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	MaxRestarts         int       `json:"max_restarts"`
	AutoRestart         bool      `json:"auto_restart"`
	Pending             int       `json:"pending"`
	BudgetExhausted     bool      `json:"budget_exhausted,omitempty"`
	LastExit            string    `json:"last_exit,omitempty"`
}

// Manager owns one worker subprocess at a time.
//
// All lifecycle fields are guarded by mu. Each spawn, stop and restart bumps
// generation; exit and health callbacks carry the generation they were
// created for and are ignored once it is stale.
type Manager struct {
	cfg        *config
	logger     *zap.Logger
	bus        *Bus
	ownsBus    bool
	router     *Router
	health     *healthMonitor
	instanceID string

	mu                  sync.Mutex
	command             WorkerCommand
	state               State
	proc                *workerProc
	generation          uint64
	autoRestart         bool
	restarts            int
	consecutiveRestarts int
	consecutiveFailures int
	lastExit            error
	halted              *RestartBudgetExceededError
	restartTimer        *time.Timer

	// wg tracks stream readers and exit watchers.
	wg sync.WaitGroup
}

// New creates a stopped Manager for command.
func New(command WorkerCommand, opts ...Option) *Manager {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.healthMethod == "" {
		cfg.healthMethod = protocol.MethodPing
	}
	if cfg.instanceID == "" {
		cfg.instanceID = uuid.NewString()
	}

	m := &Manager{
		cfg:         cfg,
		logger:      cfg.logger.With(zap.String("instance", cfg.instanceID)),
		bus:         cfg.bus,
		router:      NewRouter(cfg.callTimeout, cfg.maxPending),
		instanceID:  cfg.instanceID,
		command:     command,
		state:       StateStopped,
		autoRestart: cfg.policy.AutoRestart,
	}
	if m.bus == nil {
		m.bus = NewBus()
		m.ownsBus = true
	}
	m.health = newHealthMonitor(cfg.healthInterval, m.probeGeneration, m.recordHealth)
	return m
}

// InstanceID identifies this Manager in events.
func (m *Manager) InstanceID() string { return m.instanceID }

// Subscribe returns a channel of lifecycle events and a function that ends
// the subscription.
func (m *Manager) Subscribe(buffer int) (<-chan Event, func()) {
	return m.bus.Subscribe(buffer)
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsRunning reports whether calls are currently accepted.
func (m *Manager) IsRunning() bool {
	return m.State() == StateRunning
}

// Status returns a snapshot of the lifecycle counters.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{
		State:               m.state,
		InstanceID:          m.instanceID,
		Generation:          m.generation,
		Restarts:            m.restarts,
		ConsecutiveRestarts: m.consecutiveRestarts,
		ConsecutiveFailures: m.consecutiveFailures,
		MaxRestarts:         m.cfg.policy.MaxRestarts,
		AutoRestart:         m.autoRestart,
		Pending:             m.router.Pending(),
		BudgetExhausted:     m.halted != nil,
	}
	if m.proc != nil {
		st.PID = m.proc.pid
		st.StartedAt = m.proc.startedAt
	}
	if m.lastExit != nil {
		st.LastExit = m.lastExit.Error()
	}
	return st
}

// Start spawns the worker and waits until it is ready. Starting a running
// Manager is a no-op. An explicit Start re-arms auto-restart and resets the
// consecutive-restart budget.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateRunning:
		m.mu.Unlock()
		return nil
	case StateStarting:
		m.mu.Unlock()
		return ErrAlreadyStarting
	case StateRestarting:
		m.mu.Unlock()
		return ErrRestartInFlight
	case StateStopping:
		m.mu.Unlock()
		return unavailable("stop in progress")
	}
	m.state = StateStarting
	m.autoRestart = m.cfg.policy.AutoRestart
	m.consecutiveRestarts = 0
	m.consecutiveFailures = 0
	m.halted = nil
	m.mu.Unlock()

	return m.launch(ctx)
}

// Stop terminates the worker: stdin is closed, the process group gets
// SIGTERM and, after the grace period, SIGKILL. Every pending call fails
// with an unavailable error. Stop is idempotent and cancels any scheduled
// automatic restart.
func (m *Manager) Stop(ctx context.Context) error {
	return m.stop(ctx, 0)
}

// stop implements Stop. A non-zero gen stops only that worker generation
// and is a no-op once another stop, start or restart has taken over.
func (m *Manager) stop(ctx context.Context, gen uint64) error {
	m.mu.Lock()
	if m.state == StateStopped || m.state == StateStopping || (gen != 0 && m.generation != gen) {
		m.mu.Unlock()
		return nil
	}
	if m.restartTimer != nil {
		m.restartTimer.Stop()
		m.restartTimer = nil
	}
	m.state = StateStopping
	m.generation++
	proc := m.detachLocked()
	m.mu.Unlock()

	m.health.disarm()

	var err error
	if proc != nil {
		err = proc.terminate(ctx, m.cfg.stopGrace)
	}
	if n := m.router.FailAll(unavailable("bridge stopped")); n > 0 {
		m.logger.Debug("failed pending calls on stop", zap.Int("count", n))
	}

	m.mu.Lock()
	m.state = StateStopped
	stopped := m.generation
	m.mu.Unlock()

	m.publish(Event{Type: EventStopped, Generation: stopped, Message: "bridge stopped"})
	return err
}

// Restart stops the current worker and starts a fresh one. Operator
// restarts are counted in Status.Restarts but do not spend the restart
// budget, which covers automatic recovery only. A stopped bridge is not
// restarted: Restart reports why it stopped and Start brings it back.
func (m *Manager) Restart(ctx context.Context) error {
	return m.restart(ctx, "restart requested", 0)
}

// Reconfigure replaces the worker environment snapshot. The running worker
// keeps its old environment until the next restart.
func (m *Manager) Reconfigure(env []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.command.Env = append([]string(nil), env...)
}

// Call sends method to the worker and returns a handle that settles exactly
// once. timeout <= 0 selects the default call timeout. Calls are only
// accepted while the bridge is running. After the restart budget is spent
// calls fail with the *RestartBudgetExceededError until the next Start.
func (m *Manager) Call(method string, params map[string]any, timeout time.Duration) (*Call, error) {
	m.mu.Lock()
	if m.state != StateRunning || m.proc == nil {
		state, halted := m.state, m.halted
		m.mu.Unlock()
		if state == StateStopped && halted != nil {
			return nil, halted
		}
		return nil, unavailable("bridge is %s", state)
	}
	proc := m.proc
	m.mu.Unlock()

	return m.send(proc, method, params, timeout)
}

// Invoke is Call followed by Wait.
func (m *Manager) Invoke(ctx context.Context, method string, params map[string]any, timeout time.Duration) (json.RawMessage, error) {
	call, err := m.Call(method, params, timeout)
	if err != nil {
		return nil, err
	}
	return call.Wait(ctx)
}

// Close stops the worker, waits for background goroutines and closes the
// event bus if the Manager created it.
func (m *Manager) Close(ctx context.Context) error {
	err := m.Stop(ctx)
	m.health.wait()
	m.wg.Wait()
	if m.ownsBus {
		m.bus.Close()
	}
	return err
}

// send registers a call and writes it to proc. A write failure settles the
// call immediately; the caller always receives a handle.
func (m *Manager) send(proc *workerProc, method string, params map[string]any, timeout time.Duration) (*Call, error) {
	call, req, err := m.router.Register(method, params, timeout)
	if err != nil {
		return nil, err
	}
	if err := proc.transport.Send(req); err != nil {
		m.router.Fail(call.ID, unavailable("send to worker: %v", err))
	}
	return call, nil
}

// launch spawns a worker and drives it from Starting to Running. The caller
// has already moved the state to Starting or Restarting.
func (m *Manager) launch(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateStarting && m.state != StateRestarting {
		state := m.state
		m.mu.Unlock()
		return unavailable("bridge is %s", state)
	}
	m.state = StateStarting
	m.generation++
	gen := m.generation
	command := m.command
	m.mu.Unlock()

	m.publish(Event{Type: EventStarting, Generation: gen, Message: "starting " + command.Path})

	proc, stdout, stderr, err := spawnProcess(command, gen)
	if err != nil {
		startErr := &StartError{Command: command.Path, Err: err}
		m.abortStart(gen, nil, startErr)
		return startErr
	}

	m.mu.Lock()
	if m.generation != gen || m.state != StateStarting {
		m.mu.Unlock()
		proc.retired.Store(true)
		m.watch(proc, stdout, stderr)
		_ = proc.terminate(context.Background(), m.cfg.stopGrace)
		return unavailable("stopped while starting")
	}
	m.proc = proc
	m.mu.Unlock()

	m.watch(proc, stdout, stderr)
	m.logger.Info("worker spawned", zap.Int("pid", proc.pid), zap.Uint64("generation", gen))

	if err := m.waitReady(ctx, proc); err != nil {
		startErr := &StartError{Command: command.Path, Err: err}
		m.abortStart(gen, proc, startErr)
		return startErr
	}

	m.mu.Lock()
	if m.proc != proc || m.state != StateStarting {
		m.mu.Unlock()
		return unavailable("worker lost while starting")
	}
	m.state = StateRunning
	m.consecutiveFailures = 0
	// Armed under mu so a concurrent stop either sees the loop and
	// disarms it, or has already moved the state and nothing is armed.
	m.health.arm(gen)
	m.mu.Unlock()

	m.publish(Event{Type: EventRunning, Generation: gen, PID: proc.pid, Message: "worker running"})
	return nil
}

// abortStart moves a failed launch back to Stopped when it still owns the
// lifecycle, terminating proc if it was spawned.
func (m *Manager) abortStart(gen uint64, proc *workerProc, cause error) {
	m.mu.Lock()
	owned := m.generation == gen && m.state == StateStarting
	if owned {
		m.state = StateStopped
		if proc != nil && m.proc == proc {
			m.detachLocked()
		}
	}
	m.mu.Unlock()

	if proc != nil {
		proc.retired.Store(true)
		_ = proc.terminate(context.Background(), m.cfg.stopGrace)
	}
	if !owned {
		return
	}

	m.router.FailAll(unavailable("worker failed to start"))
	m.publish(Event{Type: EventError, Generation: gen, Message: "worker failed to start", Err: cause})
	m.publish(Event{Type: EventStopped, Generation: gen, Message: "bridge stopped"})
}

// waitReady waits the fixed ready delay, or in probe mode until the first
// successful probe. Either way it fails early if the worker exits.
func (m *Manager) waitReady(ctx context.Context, proc *workerProc) error {
	if !m.cfg.readyProbe {
		timer := time.NewTimer(m.cfg.readyDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
			return nil
		case <-proc.exited:
			return fmt.Errorf("worker exited during startup: %s", exitDescription(proc.exitErr))
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	deadline := time.Now().Add(m.cfg.readyTimeout)
	for {
		err := m.probe(ctx, proc)
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("no successful %s within %s: %w", m.cfg.healthMethod, m.cfg.readyTimeout, err)
		}

		timer := time.NewTimer(readyProbeInterval)
		select {
		case <-timer.C:
		case <-proc.exited:
			timer.Stop()
			return fmt.Errorf("worker exited during startup: %s", exitDescription(proc.exitErr))
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// probe sends one health request to proc and waits for its answer.
func (m *Manager) probe(ctx context.Context, proc *workerProc) error {
	call, err := m.send(proc, m.cfg.healthMethod, nil, m.cfg.healthTimeout)
	if err != nil {
		return err
	}
	_, err = call.Wait(ctx)
	return err
}

// probeGeneration is the health monitor's probe. It refuses to probe a
// generation that is no longer current.
func (m *Manager) probeGeneration(ctx context.Context, gen uint64) error {
	m.mu.Lock()
	if m.generation != gen || m.proc == nil {
		m.mu.Unlock()
		return errStaleGeneration
	}
	proc := m.proc
	m.mu.Unlock()
	return m.probe(ctx, proc)
}

// recordHealth applies one health monitor result. A success clears the
// failure and consecutive-restart counters. Reaching the failure threshold
// triggers a single restart, or a stop when auto-restart is off.
func (m *Manager) recordHealth(gen uint64, err error) {
	m.mu.Lock()
	if m.generation != gen || m.state != StateRunning {
		m.mu.Unlock()
		return
	}
	if err == nil {
		m.consecutiveFailures = 0
		m.consecutiveRestarts = 0
		m.mu.Unlock()
		return
	}
	m.consecutiveFailures++
	failures := m.consecutiveFailures
	breached := failures >= m.cfg.healthThreshold
	autoRestart := m.autoRestart
	if breached && !autoRestart {
		m.lastExit = fmt.Errorf("worker unhealthy: %d consecutive health check failures: %w", failures, err)
	}
	m.mu.Unlock()

	m.publish(Event{
		Type:       EventHealthFailed,
		Generation: gen,
		Message:    fmt.Sprintf("health check failed (%d/%d)", failures, m.cfg.healthThreshold),
		Err:        err,
	})
	if !breached {
		return
	}

	ctx := context.Background()
	if !autoRestart {
		m.logger.Warn("worker unhealthy and auto-restart is off; stopping", zap.Int("failures", failures))
		if serr := m.stop(ctx, gen); serr != nil {
			m.logger.Warn("stop unhealthy worker", zap.Error(serr))
		}
		return
	}

	reason := fmt.Sprintf("%d consecutive health check failures", failures)
	if rerr := m.restart(ctx, reason, gen); rerr != nil && !errors.Is(rerr, ErrRestartInFlight) {
		m.logger.Warn("health restart failed", zap.Error(rerr))
	}
}

// restart is the single guarded entry point for replacing the worker. At
// most one restart is in flight; concurrent requests get ErrRestartInFlight.
//
// healthGen is the generation whose health breach asked for the restart, or
// 0 for an operator restart. Health restarts spend the budget and, when the
// replacement fails to come up, continue recovery like a crash would.
func (m *Manager) restart(ctx context.Context, reason string, healthGen uint64) error {
	automatic := healthGen != 0

	m.mu.Lock()
	switch m.state {
	case StateRestarting, StateStarting, StateStopping:
		m.mu.Unlock()
		return ErrRestartInFlight
	case StateStopped:
		halted := m.halted
		m.mu.Unlock()
		if halted != nil {
			return halted
		}
		return unavailable("bridge is stopped")
	}
	if automatic && m.generation != healthGen {
		m.mu.Unlock()
		return ErrRestartInFlight
	}
	if automatic && m.consecutiveRestarts >= m.cfg.policy.MaxRestarts {
		budgetErr := m.budgetExceededLocked()
		m.mu.Unlock()

		m.publish(Event{Type: EventBudgetExceeded, Generation: healthGen, Message: budgetErr.Error(), Err: budgetErr})
		if err := m.stop(ctx, healthGen); err != nil {
			m.logger.Warn("stop after budget exceeded", zap.Error(err))
		}
		return budgetErr
	}

	m.state = StateRestarting
	m.restarts++
	message := reason
	if automatic {
		m.consecutiveRestarts++
		message = fmt.Sprintf("%s (attempt %d/%d)", reason, m.consecutiveRestarts, m.cfg.policy.MaxRestarts)
	}
	m.generation++
	gen := m.generation
	proc := m.detachLocked()
	m.mu.Unlock()

	m.health.disarm()
	m.publish(Event{Type: EventRestarting, Generation: gen, Message: message})

	if proc != nil {
		if err := proc.terminate(ctx, m.cfg.stopGrace); err != nil {
			m.logger.Warn("terminate worker for restart", zap.Error(err))
		}
	}
	m.router.FailAll(unavailable("worker restarting: %s", reason))

	err := m.launch(ctx)
	var startErr *StartError
	if automatic && errors.As(err, &startErr) {
		// launch bumps the generation once more.
		m.continueRecovery(gen+1, err)
	}
	return err
}

// watch starts the stream readers and the exit watcher for proc.
func (m *Manager) watch(proc *workerProc, stdout, stderr *os.File) {
	log := m.logger.With(zap.Int("pid", proc.pid), zap.Uint64("generation", proc.generation))

	goGroup(&m.wg, func() {
		defer stdout.Close()
		err := ReadResponses(stdout,
			func(resp protocol.Response) {
				if !m.router.Resolve(resp) {
					log.Debug("discarded response with no pending call", zap.Int64("id", *resp.ID))
				}
			},
			func(perr *ProtocolError) {
				log.Warn("unusable worker output", zap.String("line", perr.Line), zap.Error(perr))
				m.publish(Event{Type: EventError, Generation: proc.generation, PID: proc.pid, Message: perr.Reason, Err: perr})
			})
		if err != nil {
			log.Debug("stdout reader stopped", zap.Error(err))
		}
	})

	goGroup(&m.wg, func() {
		defer stderr.Close()
		err := DrainLines(stderr, func(line string) {
			log.Debug("worker", zap.String("stream", "stderr"), zap.String("line", line))
			m.publish(Event{Type: EventLog, Generation: proc.generation, PID: proc.pid, Message: line})
		})
		if err != nil {
			log.Debug("stderr reader stopped", zap.Error(err))
		}
	})

	goGroup(&m.wg, func() {
		proc.wait()
		m.handleExit(proc)
	})
}

// handleExit runs once per process after it has been reaped. Exits requested
// by stop or restart are ignored; anything else is a crash: pending calls
// fail, and recovery is scheduled while the budget allows.
func (m *Manager) handleExit(proc *workerProc) {
	m.mu.Lock()
	if proc.retired.Load() || m.proc != proc {
		m.mu.Unlock()
		return
	}
	m.detachLocked()
	m.lastExit = fmt.Errorf("worker exited unexpectedly: %s", exitDescription(proc.exitErr))
	exitErr := m.lastExit

	if m.state == StateStarting {
		// launch observes proc.exited and reports the StartError itself.
		m.mu.Unlock()
		m.publish(Event{Type: EventExited, Generation: proc.generation, PID: proc.pid, Message: exitErr.Error(), Err: exitErr})
		return
	}

	m.consecutiveFailures++
	plan := m.planRecoveryLocked()
	m.mu.Unlock()

	m.health.disarm()
	m.router.FailAll(unavailable("worker exited: %s", exitDescription(proc.exitErr)))
	m.publish(Event{Type: EventExited, Generation: proc.generation, PID: proc.pid, Message: exitErr.Error(), Err: exitErr})
	m.logger.Warn("worker exited unexpectedly", zap.Int("pid", proc.pid), zap.Error(proc.exitErr))
	m.applyRecovery(plan)
}

// recoveryPlan is decided under mu and carried out after it is released.
type recoveryPlan struct {
	generation uint64
	delay      time.Duration
	attempt    int
	budgetErr  *RestartBudgetExceededError
	restarting bool
}

// planRecoveryLocked decides what follows an unexpected loss of the worker:
// a scheduled restart, or a terminal stop. Caller holds mu.
func (m *Manager) planRecoveryLocked() recoveryPlan {
	plan := recoveryPlan{generation: m.generation}
	switch {
	case !m.autoRestart:
		m.state = StateStopped
	case m.consecutiveRestarts >= m.cfg.policy.MaxRestarts:
		plan.budgetErr = m.budgetExceededLocked()
		m.state = StateStopped
	default:
		plan.restarting = true
		plan.attempt = m.consecutiveRestarts + 1
		plan.delay = m.cfg.policy.Backoff(plan.attempt)
		m.state = StateRestarting
		m.restartTimer = time.AfterFunc(plan.delay, m.scheduledRestart)
	}
	return plan
}

func (m *Manager) applyRecovery(plan recoveryPlan) {
	switch {
	case plan.restarting:
		m.publish(Event{
			Type:       EventRestarting,
			Generation: plan.generation,
			Message: fmt.Sprintf("restarting in %s (attempt %d/%d)",
				plan.delay.Round(time.Millisecond), plan.attempt, m.cfg.policy.MaxRestarts),
		})
	case plan.budgetErr != nil:
		m.logger.Error("restart budget exceeded", zap.Error(plan.budgetErr))
		m.publish(Event{Type: EventBudgetExceeded, Generation: plan.generation, Message: plan.budgetErr.Error(), Err: plan.budgetErr})
		m.publish(Event{Type: EventStopped, Generation: plan.generation, Message: "bridge stopped"})
	default:
		m.publish(Event{Type: EventStopped, Generation: plan.generation, Message: "bridge stopped"})
	}
}

// scheduledRestart fires from the backoff timer.
func (m *Manager) scheduledRestart() {
	m.mu.Lock()
	if m.state != StateRestarting || m.restartTimer == nil {
		m.mu.Unlock()
		return
	}
	m.restartTimer = nil
	m.restarts++
	m.consecutiveRestarts++
	// launch bumps the generation once; anything more means a stop or
	// restart intervened and owns the lifecycle now.
	want := m.generation + 1
	m.mu.Unlock()

	err := m.launch(context.Background())
	var startErr *StartError
	if errors.As(err, &startErr) {
		m.continueRecovery(want, err)
	}
}

// continueRecovery handles an automatic replacement that failed to come up
// as generation want. It counts as another failure and recovery continues
// while the budget allows. An explicit Start, Stop or Restart that took over
// in the meantime wins.
func (m *Manager) continueRecovery(want uint64, err error) {
	m.mu.Lock()
	if m.state != StateStopped || m.generation != want {
		m.mu.Unlock()
		return
	}
	m.lastExit = err
	m.consecutiveFailures++
	plan := m.planRecoveryLocked()
	m.mu.Unlock()
	m.applyRecovery(plan)
}

// budgetExceededLocked turns auto-restart off and describes the exhausted
// budget. Caller holds mu.
func (m *Manager) budgetExceededLocked() *RestartBudgetExceededError {
	m.autoRestart = false
	m.halted = &RestartBudgetExceededError{
		Restarts:    m.consecutiveRestarts,
		MaxRestarts: m.cfg.policy.MaxRestarts,
		LastErr:     m.lastExit,
	}
	return m.halted
}

// detachLocked releases the current process from the Manager and marks it
// retired so its exit is not treated as a crash. Caller holds mu.
func (m *Manager) detachLocked() *workerProc {
	proc := m.proc
	m.proc = nil
	if proc != nil {
		proc.retired.Store(true)
	}
	return proc
}

func (m *Manager) publish(ev Event) {
	ev.InstanceID = m.instanceID
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	fields := []zap.Field{zap.String("event", string(ev.Type)), zap.Uint64("generation", ev.Generation)}
	if ev.PID != 0 {
		fields = append(fields, zap.Int("pid", ev.PID))
	}
	if ev.Err != nil {
		fields = append(fields, zap.Error(ev.Err))
	}
	switch ev.Type {
	case EventLog:
		// Worker diagnostics are logged by the stderr reader.
	case EventError, EventHealthFailed, EventExited:
		m.logger.Warn(ev.Message, fields...)
	case EventBudgetExceeded:
		m.logger.Error(ev.Message, fields...)
	default:
		m.logger.Info(ev.Message, fields...)
	}

	m.bus.Publish(ev)
}
