package bridge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// killWait bounds how long terminate waits for the process after SIGKILL.
const killWait = 5 * time.Second

// workerProc is one spawned worker with its stream triple. It is owned by
// the Manager and replaced wholesale on restart.
type workerProc struct {
	cmd        *exec.Cmd
	pid        int
	generation uint64
	stdin      *os.File
	transport  *Transport
	startedAt  time.Time

	// retired is set by stop/restart before they signal the process, so the
	// exit watcher knows the exit was requested.
	retired atomic.Bool

	// signalled guards against sending SIGTERM twice.
	signalled atomic.Bool

	exited  chan struct{}
	exitErr error
}

// spawnProcess starts the worker in its own process group with three
// os.Pipe streams. The parent's copies of the child ends are closed after
// Start, so readers see EOF as soon as the worker (and its group) is gone,
// and cmd.Wait never has to wait for our readers.
func spawnProcess(command WorkerCommand, generation uint64) (*workerProc, *os.File, *os.File, error) {
	if command.Path == "" {
		return nil, nil, nil, errors.New("worker command is empty")
	}

	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		closeAll(stdinR, stdinW)
		return nil, nil, nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		closeAll(stdinR, stdinW, stdoutR, stdoutW)
		return nil, nil, nil, fmt.Errorf("create stderr pipe: %w", err)
	}

	//nolint:gosec // the worker command comes from trusted configuration
	cmd := exec.Command(command.Path, command.Args...)
	cmd.Dir = command.Dir
	// A non-nil, possibly empty, Env keeps the parent's environment out:
	// the snapshot is the worker's entire configuration.
	cmd.Env = append(make([]string, 0, len(command.Env)), command.Env...)
	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	// Own process group so SIGTERM/SIGKILL reach the worker's children too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		closeAll(stdinR, stdinW, stdoutR, stdoutW, stderrR, stderrW)
		return nil, nil, nil, err
	}
	closeAll(stdinR, stdoutW, stderrW)

	proc := &workerProc{
		cmd:        cmd,
		pid:        cmd.Process.Pid,
		generation: generation,
		stdin:      stdinW,
		transport:  NewTransport(stdinW),
		startedAt:  time.Now(),
		exited:     make(chan struct{}),
	}
	return proc, stdoutR, stderrR, nil
}

// wait reaps the process and closes exited. Only one goroutine calls it.
func (p *workerProc) wait() {
	p.exitErr = p.cmd.Wait()
	close(p.exited)
}

// hasExited reports whether the process has been reaped.
func (p *workerProc) hasExited() bool {
	select {
	case <-p.exited:
		return true
	default:
		return false
	}
}

// terminate closes stdin (the worker treats EOF as shutdown), sends SIGTERM
// to the process group, waits up to grace, then sends SIGKILL. Cancelling
// ctx skips the rest of the grace period. SIGTERM is sent at most once per
// process.
func (p *workerProc) terminate(ctx context.Context, grace time.Duration) error {
	_ = p.stdin.Close()
	if p.hasExited() {
		return nil
	}

	if p.signalled.CompareAndSwap(false, true) {
		if err := signalGroup(p.pid, syscall.SIGTERM); err != nil {
			// Already gone; fall through to reaping.
			_ = err
		}
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-p.exited:
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	_ = signalGroup(p.pid, syscall.SIGKILL)

	killTimer := time.NewTimer(killWait)
	defer killTimer.Stop()
	select {
	case <-p.exited:
		return nil
	case <-killTimer.C:
		return fmt.Errorf("worker pid %d did not exit after SIGKILL", p.pid)
	}
}

// signalGroup signals the worker's whole process group (negative pid),
// falling back to the single process if the group is gone.
func signalGroup(pid int, sig syscall.Signal) error {
	if err := syscall.Kill(-pid, sig); err != nil {
		return syscall.Kill(pid, sig)
	}
	return nil
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}

// exitDescription renders a process exit for events and errors.
func exitDescription(err error) string {
	if err == nil {
		return "exit status 0"
	}
	return err.Error()
}

// goGroup runs fn on wg.
func goGroup(wg *sync.WaitGroup, fn func()) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		fn()
	}()
}
