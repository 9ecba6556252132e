package command

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aeke/adb-studio/internal/agent/device"
	"github.com/aeke/adb-studio/internal/providers/adb"
	"github.com/aeke/adb-studio/internal/runner"
	"github.com/aeke/adb-studio/internal/runner/runnertest"
)

type stubProvider struct {
	mu      sync.Mutex
	devices []device.Device
}

func (p *stubProvider) ListDevices(ctx context.Context) ([]device.Device, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]device.Device(nil), p.devices...), nil
}

type stubClient struct {
	mu        sync.Mutex
	calls     []string
	handle    *runnertest.Handle
	stopErr   error
	shellOut  string
	screenLen int
	// stopGate, when set, blocks StopScreenRecord until closed.
	stopGate    chan struct{}
	stopEntered chan struct{}
}

func (c *stubClient) record(parts ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, strings.Join(parts, " "))
}

func (c *stubClient) Reboot(ctx context.Context, serial string, mode adb.RebootMode) error {
	c.record("reboot", serial, string(mode))
	return nil
}

func (c *stubClient) Disconnect(ctx context.Context, serial string) error {
	c.record("disconnect", serial)
	return nil
}

func (c *stubClient) Shell(ctx context.Context, serial, command string) (string, error) {
	c.record("shell", serial, command)
	return c.shellOut, nil
}

func (c *stubClient) Push(ctx context.Context, serial, local, remote string) (string, error) {
	c.record("push", serial, local, remote)
	return "1 file pushed", nil
}

func (c *stubClient) Pull(ctx context.Context, serial, remote, local string) (string, error) {
	c.record("pull", serial, remote, local)
	return "1 file pulled", nil
}

func (c *stubClient) ListPackages(ctx context.Context, serial string) ([]string, error) {
	c.record("packages", serial)
	return []string{"com.a"}, nil
}

func (c *stubClient) Screenshot(ctx context.Context, serial, path string) (int, error) {
	c.record("screenshot", serial, path)
	return c.screenLen, nil
}

func (c *stubClient) StartScreenRecord(ctx context.Context, serial, remote string) (runner.Handle, error) {
	c.record("record", serial, remote)
	c.handle = runnertest.NewHandle(1)
	c.handle.ExitOnStop = true
	return c.handle, nil
}

func (c *stubClient) StopScreenRecord(ctx context.Context, serial string) (string, error) {
	c.record("stop-record", serial)
	if c.stopEntered != nil {
		select {
		case c.stopEntered <- struct{}{}:
		default:
		}
	}
	if c.stopGate != nil {
		<-c.stopGate
	}
	return "", c.stopErr
}

func (c *stubClient) count(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, call := range c.calls {
		if strings.HasPrefix(call, prefix) {
			n++
		}
	}
	return n
}

func (c *stubClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func newFixture(t *testing.T, serials ...string) (*Executor, *stubClient, *stubProvider, *device.Registry) {
	t.Helper()
	provider := &stubProvider{}
	for _, s := range serials {
		provider.devices = append(provider.devices, device.Device{Serial: s, Status: device.StatusOnline})
	}
	reg := device.NewRegistry(provider, device.Options{})
	if err := reg.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	client := &stubClient{shellOut: "uid=2000(shell)\n", screenLen: 128}
	exec := New(client, reg)
	exec.SetStopTimeout(20 * time.Millisecond)
	return exec, client, provider, reg
}

func TestExecutorDispatchesToSelectedDevice(t *testing.T) {
	exec, client, _, reg := newFixture(t, "EMU1", "EMU2")
	reg.Select("EMU2")

	out, err := exec.Shell(context.Background(), "id")
	if err != nil {
		t.Fatalf("shell failed: %v", err)
	}
	if out != "uid=2000(shell)\n" {
		t.Fatalf("unexpected output %q", out)
	}
	if err := exec.Reboot(context.Background(), adb.RebootRecovery); err != nil {
		t.Fatalf("reboot failed: %v", err)
	}
	if client.calls[0] != "shell EMU2 id" || client.calls[1] != "reboot EMU2 recovery" {
		t.Fatalf("unexpected calls %v", client.calls)
	}
}

func TestExecutorFailsFastOnStaleSelection(t *testing.T) {
	exec, client, provider, reg := newFixture(t, "X")
	reg.Select("X")

	provider.mu.Lock()
	provider.devices = nil
	provider.mu.Unlock()
	if err := reg.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}

	ctx := context.Background()
	checks := map[string]func() error{
		"reboot":     func() error { return exec.Reboot(ctx, adb.RebootSystem) },
		"disconnect": func() error { return exec.Disconnect(ctx) },
		"shell":      func() error { _, err := exec.Shell(ctx, "id"); return err },
		"push":       func() error { _, err := exec.Push(ctx, "a", "b"); return err },
		"pull":       func() error { _, err := exec.Pull(ctx, "a", "b"); return err },
		"packages":   func() error { _, err := exec.ListPackages(ctx); return err },
		"screenshot": func() error { _, err := exec.Screenshot(ctx, "shot.png"); return err },
		"record":     func() error { return exec.StartRecording(ctx, "") },
	}
	for name, fn := range checks {
		if err := fn(); !errors.Is(err, device.ErrSelectionStale) {
			t.Fatalf("%s: expected ErrSelectionStale, got %v", name, err)
		}
	}
	if n := client.callCount(); n != 0 {
		t.Fatalf("no command should reach adb, got %v", client.calls)
	}
}

func TestExecutorRejectsWithoutSelection(t *testing.T) {
	exec, client, _, _ := newFixture(t, "EMU1")
	if _, err := exec.Shell(context.Background(), "id"); !errors.Is(err, device.ErrNoDeviceSelected) {
		t.Fatalf("expected ErrNoDeviceSelected, got %v", err)
	}
	if client.callCount() != 0 {
		t.Fatalf("unexpected calls %v", client.calls)
	}
}

func TestExecutorRecordingLifecycle(t *testing.T) {
	exec, client, _, reg := newFixture(t, "EMU1")
	reg.Select("EMU1")
	ctx := context.Background()

	if _, err := exec.StopRecording(ctx); !errors.Is(err, ErrNotRecording) {
		t.Fatalf("expected ErrNotRecording, got %v", err)
	}
	if err := exec.StartRecording(ctx, ""); err != nil {
		t.Fatalf("start recording failed: %v", err)
	}
	if serial, remote, ok := exec.Recording(); !ok || serial != "EMU1" || remote != DefaultRecordingPath {
		t.Fatalf("unexpected recording state %s %s %v", serial, remote, ok)
	}
	if err := exec.StartRecording(ctx, ""); !errors.Is(err, ErrRecordingActive) {
		t.Fatalf("expected ErrRecordingActive, got %v", err)
	}

	if _, err := exec.StopRecording(ctx); err != nil {
		t.Fatalf("stop recording failed: %v", err)
	}
	if client.handle.StopCalls() != 1 {
		t.Fatalf("lingering recorder should be terminated once, got %d", client.handle.StopCalls())
	}
	if client.handle.Alive() {
		t.Fatal("recorder handle should be reaped")
	}
	if _, _, ok := exec.Recording(); ok {
		t.Fatal("recording should be cleared after stop")
	}
}

func TestExecutorStopRecordingSurfacesInterruptFailure(t *testing.T) {
	exec, client, _, reg := newFixture(t, "EMU1")
	reg.Select("EMU1")
	ctx := context.Background()

	if err := exec.StartRecording(ctx, "/sdcard/demo.mp4"); err != nil {
		t.Fatalf("start recording failed: %v", err)
	}
	client.stopErr = &runner.CommandError{ExitCode: 1, Stderr: "pkill: not found"}
	_, err := exec.StopRecording(ctx)
	if err == nil || err.Error() != "pkill: not found" {
		t.Fatalf("expected interrupt failure surfaced, got %v", err)
	}
	if client.handle.Alive() {
		t.Fatal("local recorder must still be reaped after a failed interrupt")
	}
	if _, _, ok := exec.Recording(); ok {
		t.Fatal("recording should be released after stop")
	}
}

func TestExecutorConcurrentStopInterruptsOnce(t *testing.T) {
	exec, client, _, reg := newFixture(t, "EMU1")
	reg.Select("EMU1")
	ctx := context.Background()

	if err := exec.StartRecording(ctx, ""); err != nil {
		t.Fatalf("start recording failed: %v", err)
	}
	client.stopGate = make(chan struct{})
	client.stopEntered = make(chan struct{}, 1)

	first := make(chan error, 1)
	go func() {
		_, err := exec.StopRecording(ctx)
		first <- err
	}()
	select {
	case <-client.stopEntered:
	case <-time.After(time.Second):
		t.Fatal("first stop never reached the device")
	}

	if _, err := exec.StopRecording(ctx); !errors.Is(err, ErrNotRecording) {
		t.Fatalf("second stop should find no recording, got %v", err)
	}
	if err := exec.StartRecording(ctx, ""); !errors.Is(err, ErrRecordingActive) {
		t.Fatalf("start during stop should be rejected, got %v", err)
	}
	close(client.stopGate)
	if err := <-first; err != nil {
		t.Fatalf("first stop failed: %v", err)
	}
	if n := client.count("stop-record"); n != 1 {
		t.Fatalf("expected a single interrupt, got %d", n)
	}
	if err := exec.StartRecording(ctx, ""); err != nil {
		t.Fatalf("start after stop failed: %v", err)
	}
}
