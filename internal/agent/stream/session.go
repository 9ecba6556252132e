// Package stream supervises the single long-lived logcat subprocess and
// funnels its output, in order, into a sink.
package stream

import (
	"context"
	"sync"

	"github.com/aeke/adb-studio/internal/runner"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const channelSize = 1024

// State is the session lifecycle state.
type State int

const (
	Idle State = iota
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Source spawns the log stream for a device.
type Source interface {
	Logcat(ctx context.Context, serial string) (runner.Handle, error)
}

// Session owns at most one running logcat process.
type Session struct {
	source Source
	sink   Sink

	mu       sync.Mutex
	state    State
	serial   string
	handle   runner.Handle
	finished chan struct{}
	lastErr  error
}

// NewSession builds an idle session writing lines to sink.
func NewSession(source Source, sink Sink) *Session {
	if sink == nil {
		sink = NewBuffer(0)
	}
	return &Session{source: source, sink: sink}
}

// Sink returns the sink lines are appended to.
func (s *Session) Sink() Sink {
	return s.sink
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Serial returns the device of the current or last stream.
func (s *Session) Serial() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serial
}

// LastError returns the exit error of the last stream that ended on its own.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Start spawns logcat for serial. It is a no-op unless the session is idle.
// The process outlives ctx; only Stop or its own exit ends it.
func (s *Session) Start(ctx context.Context, serial string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Idle {
		log.Debug().Str("state", s.state.String()).Msg("logcat already active, start ignored")
		return nil
	}
	h, err := s.source.Logcat(context.WithoutCancel(ctx), serial)
	if err != nil {
		return errors.Wrap(err, "start logcat failed")
	}
	lines := make(chan string, channelSize)
	finished := make(chan struct{})
	s.state = Running
	s.serial = serial
	s.handle = h
	s.finished = finished
	s.lastErr = nil

	go s.read(h, lines)
	go s.consume(h, lines, finished)
	log.Info().Str("serial", serial).Int("pid", h.PID()).Msg("logcat started")
	return nil
}

// read forwards process output into the session channel.
func (s *Session) read(h runner.Handle, lines chan<- string) {
	defer close(lines)
	for line := range h.Lines() {
		lines <- line
	}
}

// consume appends lines to the sink and settles the state once the stream ends.
func (s *Session) consume(h runner.Handle, lines <-chan string, finished chan struct{}) {
	var count int
	for line := range lines {
		s.sink.Append(line)
		count++
	}
	<-h.Done()

	s.mu.Lock()
	unexpected := s.state == Running
	s.state = Idle
	s.handle = nil
	if unexpected {
		s.lastErr = h.Err()
	}
	serial := s.serial
	close(finished)
	s.mu.Unlock()

	if unexpected {
		log.Warn().Err(h.Err()).Str("serial", serial).Int("lines", count).Msg("logcat exited unexpectedly")
		return
	}
	log.Info().Str("serial", serial).Int("lines", count).Msg("logcat stopped")
}

// Stop terminates the running stream and waits until end-of-stream has been
// consumed or ctx is done. Stopping an idle session is a no-op.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state == Idle {
		s.mu.Unlock()
		return nil
	}
	finished := s.finished
	if s.state == Running {
		s.state = Stopping
		if err := s.handle.Stop(); err != nil {
			log.Warn().Err(err).Str("serial", s.serial).Msg("terminate logcat failed")
		}
	}
	s.mu.Unlock()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "wait for logcat exit")
	}
}

// Toggle starts an idle session or stops an active one.
func (s *Session) Toggle(ctx context.Context, serial string) error {
	if s.State() == Idle {
		return s.Start(ctx, serial)
	}
	return s.Stop(ctx)
}
