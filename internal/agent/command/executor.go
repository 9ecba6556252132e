// Package command dispatches single-shot device actions against the
// currently selected device. Every call re-validates the selection against
// the latest registry snapshot before anything is sent to adb.
package command

import (
	"context"
	"sync"
	"time"

	"github.com/aeke/adb-studio/internal/agent/device"
	"github.com/aeke/adb-studio/internal/providers/adb"
	"github.com/aeke/adb-studio/internal/runner"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// DefaultRecordingPath is where screen recordings are written on the device.
const DefaultRecordingPath = "/sdcard/video.mp4"

const defaultStopTimeout = 5 * time.Second

var (
	// ErrRecordingActive is returned when a recording handle is still alive.
	ErrRecordingActive = errors.New("screen recording already running")
	// ErrNotRecording is returned when stopping without an active recording.
	ErrNotRecording = errors.New("no screen recording in progress")
)

// Target resolves the device commands are sent to.
type Target interface {
	Resolve() (device.Device, error)
	Snapshot() device.Snapshot
}

// Client is the serial-addressed adb command set.
type Client interface {
	Reboot(ctx context.Context, serial string, mode adb.RebootMode) error
	Disconnect(ctx context.Context, serial string) error
	Shell(ctx context.Context, serial, command string) (string, error)
	Push(ctx context.Context, serial, local, remote string) (string, error)
	Pull(ctx context.Context, serial, remote, local string) (string, error)
	ListPackages(ctx context.Context, serial string) ([]string, error)
	Screenshot(ctx context.Context, serial, path string) (int, error)
	StartScreenRecord(ctx context.Context, serial, remote string) (runner.Handle, error)
	StopScreenRecord(ctx context.Context, serial string) (string, error)
}

type recording struct {
	serial    string
	remote    string
	handle    runner.Handle
	startedAt time.Time
}

// Executor runs device actions for the selected device.
type Executor struct {
	client      Client
	target      Target
	stopTimeout time.Duration

	mu  sync.Mutex
	rec *recording
	// stopping is set while a claimed recording is being stopped.
	stopping bool
}

// New builds an Executor.
func New(client Client, target Target) *Executor {
	return &Executor{
		client:      client,
		target:      target,
		stopTimeout: defaultStopTimeout,
	}
}

// SetStopTimeout bounds how long StopRecording waits for the local recorder
// process to exit before terminating it.
func (e *Executor) SetStopTimeout(d time.Duration) {
	if d > 0 {
		e.stopTimeout = d
	}
}

func (e *Executor) resolve(action string) (device.Device, error) {
	dev, err := e.target.Resolve()
	if err != nil {
		log.Warn().Err(err).Str("action", action).Msg("command rejected")
		return device.Device{}, err
	}
	return dev, nil
}

// Reboot restarts the selected device in the given mode.
func (e *Executor) Reboot(ctx context.Context, mode adb.RebootMode) error {
	dev, err := e.resolve("reboot")
	if err != nil {
		return err
	}
	log.Info().Str("serial", dev.Serial).Str("mode", string(mode)).Msg("reboot device")
	return e.client.Reboot(ctx, dev.Serial, mode)
}

// Disconnect drops the selected device.
func (e *Executor) Disconnect(ctx context.Context) error {
	dev, err := e.resolve("disconnect")
	if err != nil {
		return err
	}
	log.Info().Str("serial", dev.Serial).Msg("disconnect device")
	return e.client.Disconnect(ctx, dev.Serial)
}

// Shell runs a raw shell command.
func (e *Executor) Shell(ctx context.Context, cmd string) (string, error) {
	dev, err := e.resolve("shell")
	if err != nil {
		return "", err
	}
	return e.client.Shell(ctx, dev.Serial, cmd)
}

// Push copies local to remote on the selected device.
func (e *Executor) Push(ctx context.Context, local, remote string) (string, error) {
	dev, err := e.resolve("push")
	if err != nil {
		return "", err
	}
	return e.client.Push(ctx, dev.Serial, local, remote)
}

// Pull copies remote from the selected device to local.
func (e *Executor) Pull(ctx context.Context, remote, local string) (string, error) {
	dev, err := e.resolve("pull")
	if err != nil {
		return "", err
	}
	return e.client.Pull(ctx, dev.Serial, remote, local)
}

// ListPackages lists installed packages on the selected device.
func (e *Executor) ListPackages(ctx context.Context) ([]string, error) {
	dev, err := e.resolve("list-packages")
	if err != nil {
		return nil, err
	}
	return e.client.ListPackages(ctx, dev.Serial)
}

// Screenshot writes a PNG capture of the selected device to path.
func (e *Executor) Screenshot(ctx context.Context, path string) (int, error) {
	dev, err := e.resolve("screenshot")
	if err != nil {
		return 0, err
	}
	n, err := e.client.Screenshot(ctx, dev.Serial, path)
	if err != nil {
		return 0, err
	}
	log.Info().Str("serial", dev.Serial).Str("path", path).Int("bytes", n).Msg("screenshot saved")
	return n, nil
}

// StartRecording spawns screenrecord on the selected device. The spawned
// process is kept as an owned handle until StopRecording reconciles it.
func (e *Executor) StartRecording(ctx context.Context, remote string) error {
	dev, err := e.resolve("start-recording")
	if err != nil {
		return err
	}
	if remote == "" {
		remote = DefaultRecordingPath
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopping || (e.rec != nil && e.rec.handle != nil && e.rec.handle.Alive()) {
		return ErrRecordingActive
	}
	h, err := e.client.StartScreenRecord(context.WithoutCancel(ctx), dev.Serial, remote)
	if err != nil {
		return err
	}
	e.rec = &recording{serial: dev.Serial, remote: remote, handle: h, startedAt: time.Now()}
	log.Info().Str("serial", dev.Serial).Str("remote", remote).Msg("screen recording started")
	return nil
}

// Recording reports the active recording, if any.
func (e *Executor) Recording() (serial, remote string, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rec == nil {
		return "", "", false
	}
	return e.rec.serial, e.rec.remote, true
}

// StopRecording interrupts the remote recorder, then waits for the local
// process to exit and terminates it if it lingers. A failed interrupt is
// returned to the caller. The recording is claimed before anything is sent,
// so only one of several concurrent callers interrupts it.
func (e *Executor) StopRecording(ctx context.Context) (string, error) {
	e.mu.Lock()
	rec := e.rec
	if rec == nil {
		e.mu.Unlock()
		return "", ErrNotRecording
	}
	e.rec = nil
	e.stopping = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.stopping = false
		e.mu.Unlock()
	}()

	if _, ok := e.target.Snapshot().Lookup(rec.serial); !ok {
		e.reap(ctx, rec)
		return "", errors.Wrapf(device.ErrSelectionStale, "serial %s", rec.serial)
	}
	out, err := e.client.StopScreenRecord(ctx, rec.serial)
	e.reap(ctx, rec)
	if err != nil {
		log.Error().Err(err).Str("serial", rec.serial).Msg("interrupt screen recording failed")
		return out, err
	}
	log.Info().
		Str("serial", rec.serial).
		Str("remote", rec.remote).
		Dur("elapsed", time.Since(rec.startedAt)).
		Msg("screen recording stopped")
	return out, nil
}

func (e *Executor) reap(ctx context.Context, rec *recording) {
	if rec.handle == nil {
		return
	}
	timer := time.NewTimer(e.stopTimeout)
	defer timer.Stop()
	select {
	case <-rec.handle.Done():
		return
	case <-timer.C:
		log.Warn().Str("serial", rec.serial).Msg("screen recorder did not exit, terminating")
	case <-ctx.Done():
	}
	if err := rec.handle.Stop(); err != nil {
		log.Warn().Err(err).Str("serial", rec.serial).Msg("terminate screen recorder failed")
	}
}
