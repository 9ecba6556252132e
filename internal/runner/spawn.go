package runner

import (
	"context"
	"strings"
	"sync"
	"time"

	gocmd "github.com/go-cmd/cmd"
	"github.com/rs/zerolog/log"
)

const (
	lineBufferSize = 1024
	stderrKeep     = 32
	drainIdle      = 100 * time.Millisecond
)

// Handle is a running spawned process.
type Handle interface {
	// Lines yields stdout lines in emission order and is closed at end of stream.
	Lines() <-chan string
	// Done is closed once the process has exited and its output is drained.
	Done() <-chan struct{}
	Alive() bool
	PID() int
	// Stop terminates the process group. Calling it more than once is safe.
	Stop() error
	// Err reports how the process ended: nil after a clean exit or a requested
	// stop, a CommandError for a non-zero exit. Only meaningful after Done.
	Err() error
}

// Spawn starts the tool with args without waiting for it. Cancelling ctx
// stops the process.
func (r *Runner) Spawn(ctx context.Context, args ...string) (Handle, error) {
	bin, err := r.Binary()
	if err != nil {
		return nil, err
	}
	c := gocmd.NewCmdOptions(gocmd.Options{Buffered: false, Streaming: true}, bin, args...)
	p := &process{
		cmd:   c,
		args:  args,
		lines: make(chan string, lineBufferSize),
		done:  make(chan struct{}),
	}
	c.Start()

	// exec errors surface asynchronously; give the start a brief window.
	for i := 0; i < 5; i++ {
		status := c.Status()
		if status.Error != nil && status.PID == 0 {
			return nil, &LaunchError{Binary: bin, Err: status.Error}
		}
		if status.PID != 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	log.Debug().Str("binary", bin).Strs("args", args).Int("pid", c.Status().PID).Msg("spawned adb process")

	go p.pump()
	go func() {
		select {
		case <-ctx.Done():
			_ = p.Stop()
		case <-p.done:
		}
	}()
	return p, nil
}

type process struct {
	cmd   *gocmd.Cmd
	args  []string
	lines chan string
	done  chan struct{}

	mu      sync.Mutex
	stderr  []string
	stopped bool
}

func (p *process) pump() {
	defer close(p.done)
	defer close(p.lines)
	stdout, stderr := p.cmd.Stdout, p.cmd.Stderr
	for stdout != nil || stderr != nil {
		select {
		case line, ok := <-stdout:
			if !ok {
				stdout = nil
				continue
			}
			p.lines <- line
		case line, ok := <-stderr:
			if !ok {
				stderr = nil
				continue
			}
			p.keepStderr(line)
		case <-p.cmd.Done():
			p.drain(stdout, stderr)
			stdout, stderr = nil, nil
		}
	}
	<-p.cmd.Done()
}

// drain forwards output still queued in the command's channels once the
// process has exited. It returns when both channels are closed or stay idle
// for drainIdle.
func (p *process) drain(stdout, stderr chan string) {
	for stdout != nil || stderr != nil {
		select {
		case line, ok := <-stdout:
			if !ok {
				stdout = nil
				continue
			}
			p.lines <- line
		case line, ok := <-stderr:
			if !ok {
				stderr = nil
				continue
			}
			p.keepStderr(line)
		case <-time.After(drainIdle):
			return
		}
	}
}

func (p *process) keepStderr(line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stderr = append(p.stderr, line)
	if len(p.stderr) > stderrKeep {
		p.stderr = p.stderr[len(p.stderr)-stderrKeep:]
	}
}

func (p *process) Lines() <-chan string { return p.lines }

func (p *process) Done() <-chan struct{} { return p.done }

func (p *process) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *process) PID() int { return p.cmd.Status().PID }

func (p *process) Stop() error {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	if !p.Alive() {
		return nil
	}
	if err := p.cmd.Stop(); err != nil && err != gocmd.ErrNotStarted {
		return err
	}
	return nil
}

func (p *process) Err() error {
	status := p.cmd.Status()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return nil
	}
	if status.Error != nil {
		return status.Error
	}
	if status.Complete && status.Exit != 0 {
		return &CommandError{
			Args:     p.args,
			ExitCode: status.Exit,
			Stderr:   strings.Join(p.stderr, "\n"),
		}
	}
	return nil
}
