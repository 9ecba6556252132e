// Package adb issues single-shot commands to the adb command line tool for a
// given device serial. Every method maps to exactly one invocation; failures
// are returned as produced by the runner, without retries.
package adb

import (
	"context"
	"os"
	"strings"

	"github.com/aeke/adb-studio/internal/agent/device"
	"github.com/aeke/adb-studio/internal/runner"
	"github.com/pkg/errors"
)

// Runner is the subset of runner.Runner the client needs.
type Runner interface {
	Run(ctx context.Context, args ...string) (runner.Result, error)
	Spawn(ctx context.Context, args ...string) (runner.Handle, error)
}

// RebootMode selects the reboot target.
type RebootMode string

const (
	RebootSystem     RebootMode = ""
	RebootRecovery   RebootMode = "recovery"
	RebootBootloader RebootMode = "bootloader"
)

// ParseRebootMode accepts "", "system", "recovery" and "bootloader".
func ParseRebootMode(s string) (RebootMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "system":
		return RebootSystem, nil
	case "recovery":
		return RebootRecovery, nil
	case "bootloader":
		return RebootBootloader, nil
	default:
		return "", errors.Errorf("unknown reboot mode %q", s)
	}
}

const packagePrefix = "package:"

// Client implements device.Provider and the per-device command set.
type Client struct {
	runner Runner
}

// New creates a Client backed by the given runner.
func New(r Runner) *Client {
	return &Client{runner: r}
}

// NewDefault creates a Client using a runner that resolves the binary with resolve.
func NewDefault(resolve func() string) *Client {
	return New(runner.New(resolve))
}

// ListDevices runs `adb devices` and parses its table.
func (c *Client) ListDevices(ctx context.Context) ([]device.Device, error) {
	res, err := c.runner.Run(ctx, "devices")
	if err != nil {
		return nil, err
	}
	return device.ParseList(res.Stdout), nil
}

// Reboot restarts the device into the given mode.
func (c *Client) Reboot(ctx context.Context, serial string, mode RebootMode) error {
	args := []string{"reboot"}
	if mode != RebootSystem {
		args = append(args, string(mode))
	}
	_, err := c.run(ctx, serial, args...)
	return err
}

// Disconnect drops a network-attached device.
func (c *Client) Disconnect(ctx context.Context, serial string) error {
	if strings.TrimSpace(serial) == "" {
		return device.ErrNoDeviceSelected
	}
	_, err := c.runner.Run(ctx, "disconnect", serial)
	return err
}

// Shell runs a raw shell command on the device and returns its stdout.
func (c *Client) Shell(ctx context.Context, serial, command string) (string, error) {
	if strings.TrimSpace(command) == "" {
		return "", errors.New("adb: empty shell command")
	}
	return c.run(ctx, serial, "shell", command)
}

// Push copies a local file to the device.
func (c *Client) Push(ctx context.Context, serial, local, remote string) (string, error) {
	return c.run(ctx, serial, "push", local, remote)
}

// Pull copies a device file to the local filesystem.
func (c *Client) Pull(ctx context.Context, serial, remote, local string) (string, error) {
	return c.run(ctx, serial, "pull", remote, local)
}

// ListPackages returns the installed package names.
func (c *Client) ListPackages(ctx context.Context, serial string) ([]string, error) {
	out, err := c.run(ctx, serial, "shell", "pm list packages")
	if err != nil {
		return nil, err
	}
	return ParsePackages(out), nil
}

// Uninstall removes a package and returns the tool output.
func (c *Client) Uninstall(ctx context.Context, serial, pkg string) (string, error) {
	if strings.TrimSpace(pkg) == "" {
		return "", errors.New("adb: empty package name")
	}
	return c.run(ctx, serial, "uninstall", pkg)
}

// Screenshot captures the screen as PNG and writes the raw frame to path.
// It returns the number of bytes written.
func (c *Client) Screenshot(ctx context.Context, serial, path string) (int, error) {
	frame, err := c.run(ctx, serial, "exec-out", "screencap -p")
	if err != nil {
		return 0, err
	}
	if len(frame) == 0 {
		return 0, errors.New("adb: empty screenshot frame")
	}
	if err := os.WriteFile(path, []byte(frame), 0o644); err != nil {
		return 0, errors.Wrapf(err, "write screenshot %s failed", path)
	}
	return len(frame), nil
}

// StartScreenRecord spawns screenrecord writing to remote on the device. The
// returned handle belongs to the caller and must be reconciled on stop.
func (c *Client) StartScreenRecord(ctx context.Context, serial, remote string) (runner.Handle, error) {
	if strings.TrimSpace(serial) == "" {
		return nil, device.ErrNoDeviceSelected
	}
	return c.runner.Spawn(ctx, "-s", serial, "shell", "screenrecord "+ShellQuote(remote))
}

// StopScreenRecord interrupts the remote screenrecord process so it
// finalizes the file.
func (c *Client) StopScreenRecord(ctx context.Context, serial string) (string, error) {
	return c.run(ctx, serial, "shell", "pkill -INT screenrecord")
}

// Model reads ro.product.model.
func (c *Client) Model(ctx context.Context, serial string) (string, error) {
	out, err := c.run(ctx, serial, "shell", "getprop ro.product.model")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Logcat spawns `adb logcat` for the device. The handle streams log lines
// until it is stopped.
func (c *Client) Logcat(ctx context.Context, serial string) (runner.Handle, error) {
	if strings.TrimSpace(serial) == "" {
		return nil, device.ErrNoDeviceSelected
	}
	return c.runner.Spawn(ctx, "-s", serial, "logcat")
}

func (c *Client) run(ctx context.Context, serial string, args ...string) (string, error) {
	if strings.TrimSpace(serial) == "" {
		return "", device.ErrNoDeviceSelected
	}
	full := append([]string{"-s", serial}, args...)
	res, err := c.runner.Run(ctx, full...)
	if err != nil {
		return res.Stdout, err
	}
	return res.Stdout, nil
}

// ParsePackages turns `pm list packages` output into package names. Lines
// without the "package:" prefix are dropped.
func ParsePackages(output string) []string {
	var names []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		name, ok := strings.CutPrefix(line, packagePrefix)
		if !ok {
			continue
		}
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// ShellQuote quotes s as a single word for the device shell.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
