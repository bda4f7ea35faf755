package proc

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/loykin/guardian/internal/probe"
)

// ErrUnkillable is returned by Stop when the process survives both the
// graceful-termination window and the follow-up kill window.
var ErrUnkillable = errors.New("process survived SIGKILL wait")

// Handle wraps a single launched OS process: identity, captured output,
// liveness, and the graceful-then-forced stop sequence. A Handle is created
// by Start and owns exactly one run; it is not restarted in place.
type Handle struct {
	mu        sync.Mutex
	cmd       *exec.Cmd
	pid       int
	startUnix int64
	outW      io.WriteCloser
	errW      io.WriteCloser
	waitDone  chan struct{} // closed by the reaper when cmd.Wait returns
	waitErr   error
}

// Start launches the spec's command in its own process group, wires child
// stdout/stderr into rolling log files when configured, and begins reaping
// the child in the background.
func Start(spec Spec) (*Handle, error) {
	cmd := spec.BuildCommand()
	if spec.WorkDir != "" {
		cmd.Dir = spec.WorkDir
	}
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	cmd.SysProcAttr = sysProcAttr()

	h := &Handle{cmd: cmd, waitDone: make(chan struct{})}
	h.outW, h.errW = spec.Log.ChildWriters(spec.Name)
	if h.outW != nil {
		cmd.Stdout = h.outW
	} else {
		cmd.Stdout, _ = os.OpenFile(os.DevNull, os.O_RDWR, 0)
	}
	if h.errW != nil {
		cmd.Stderr = h.errW
	} else {
		cmd.Stderr, _ = os.OpenFile(os.DevNull, os.O_RDWR, 0)
	}

	if err := cmd.Start(); err != nil {
		h.closeWriters()
		return nil, err
	}
	h.pid = cmd.Process.Pid
	h.startUnix = probe.StartUnix(h.pid)
	go h.reap()
	return h, nil
}

// reap is the single waiter on the child; Stop and Kill coordinate with it
// through waitDone instead of calling cmd.Wait themselves.
func (h *Handle) reap() {
	err := h.cmd.Wait()
	h.mu.Lock()
	h.waitErr = err
	h.mu.Unlock()
	h.closeWriters()
	close(h.waitDone)
}

func (h *Handle) closeWriters() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.outW != nil {
		_ = h.outW.Close()
		h.outW = nil
	}
	if h.errW != nil {
		_ = h.errW.Close()
		h.errW = nil
	}
}

// PID returns the launched process id.
func (h *Handle) PID() int { return h.pid }

// StartUnix returns the recorded process start time (Unix seconds, 0 when
// unknown).
func (h *Handle) StartUnix() int64 { return h.startUnix }

// Alive reports OS-level liveness of the launched process. A reaped child,
// a zombie, or a PID whose start time no longer matches the recorded one
// (PID reuse) all count as not alive.
func (h *Handle) Alive() bool {
	select {
	case <-h.waitDone:
		return false
	default:
	}
	if !probe.PIDAlive(h.pid) || isZombie(h.pid) {
		return false
	}
	if h.startUnix > 0 {
		if cur := probe.StartUnix(h.pid); cur > 0 && cur != h.startUnix {
			return false
		}
	}
	return true
}

// Stop terminates the process group: graceful signal, wait up to grace,
// then hard kill, wait up to kill. Returns ErrUnkillable when the child is
// still not reaped after both windows.
func (h *Handle) Stop(grace, kill time.Duration) error {
	if !h.Alive() {
		return nil
	}
	terminateGroup(h.pid)
	select {
	case <-h.waitDone:
		return nil
	case <-time.After(grace):
	}
	killGroup(h.pid)
	select {
	case <-h.waitDone:
		return nil
	case <-time.After(kill):
		return ErrUnkillable
	}
}

// Kill hard-kills the process group without a graceful window.
func (h *Handle) Kill() {
	killGroup(h.pid)
	select {
	case <-h.waitDone:
	case <-time.After(200 * time.Millisecond):
	}
}

// Wait blocks until the child is reaped and returns its exit error.
func (h *Handle) Wait() error {
	<-h.waitDone
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.waitErr
}
