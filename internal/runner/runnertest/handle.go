// Package runnertest provides an in-memory runner.Handle for tests.
package runnertest

import "sync"

// Handle is a scripted process handle. Lines are fed with Emit and the
// process ends with Exit or Stop.
type Handle struct {
	lines chan string
	done  chan struct{}

	mu        sync.Mutex
	exitOnce  sync.Once
	err       error
	stopCalls int
	// ExitOnStop controls whether Stop ends the process. Defaults to true.
	ExitOnStop bool
}

// NewHandle returns a live handle whose line channel holds buffer lines.
func NewHandle(buffer int) *Handle {
	return &Handle{
		lines:      make(chan string, buffer),
		done:       make(chan struct{}),
		ExitOnStop: true,
	}
}

// Emit delivers one stdout line. It must not be called after Exit.
func (h *Handle) Emit(line string) {
	h.lines <- line
}

// Exit ends the process with err as its exit status.
func (h *Handle) Exit(err error) {
	h.exitOnce.Do(func() {
		h.mu.Lock()
		h.err = err
		h.mu.Unlock()
		close(h.lines)
		close(h.done)
	})
}

func (h *Handle) Lines() <-chan string  { return h.lines }
func (h *Handle) Done() <-chan struct{} { return h.done }
func (h *Handle) PID() int              { return 4242 }

func (h *Handle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

func (h *Handle) Stop() error {
	h.mu.Lock()
	h.stopCalls++
	exit := h.ExitOnStop
	h.mu.Unlock()
	if exit {
		h.Exit(nil)
	}
	return nil
}

func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// StopCalls returns how many times Stop was invoked.
func (h *Handle) StopCalls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopCalls
}
