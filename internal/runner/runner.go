// Package runner executes the device-bridge binary, either to completion
// (Run) or as a supervised long-running process (Spawn).
package runner

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// DefaultBinary is looked up in PATH when no explicit binary is configured.
const DefaultBinary = "adb"

// Result is the raw outcome of one finished invocation. Stdout keeps the
// exact bytes the tool produced, so binary payloads survive unchanged.
type Result struct {
	OK       bool
	Stdout   string
	Stderr   string
	ExitCode int
}

// LaunchError reports that the binary could not be started at all
// (missing, not executable, exec failure).
type LaunchError struct {
	Binary string
	Err    error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %s failed: %v", e.Binary, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// CommandError reports that the tool ran and exited non-zero. Error returns
// the tool's own failure text verbatim.
type CommandError struct {
	Args     []string
	ExitCode int
	Stderr   string
	Stdout   string
}

func (e *CommandError) Error() string {
	if msg := strings.TrimSpace(e.Stderr); msg != "" {
		return msg
	}
	if msg := strings.TrimSpace(e.Stdout); msg != "" {
		return msg
	}
	return fmt.Sprintf("adb %s exited with code %d", strings.Join(e.Args, " "), e.ExitCode)
}

// IsLaunchFailure reports whether err (or anything it wraps) is a LaunchError.
func IsLaunchFailure(err error) bool {
	var launchErr *LaunchError
	return errors.As(err, &launchErr)
}

// IsCommandFailure reports whether err (or anything it wraps) is a CommandError.
func IsCommandFailure(err error) bool {
	var cmdErr *CommandError
	return errors.As(err, &cmdErr)
}

// Runner invokes the bridge binary returned by its resolver. The resolver is
// consulted on every call so settings edits apply to the next command.
type Runner struct {
	resolve func() string
}

// New builds a Runner. A nil resolver behaves like an empty configured path.
func New(resolve func() string) *Runner {
	if resolve == nil {
		resolve = func() string { return "" }
	}
	return &Runner{resolve: resolve}
}

// Binary returns the absolute path of the bridge tool, falling back to a
// PATH lookup of DefaultBinary when nothing is configured.
func (r *Runner) Binary() (string, error) {
	path := strings.TrimSpace(r.resolve())
	if path == "" {
		path = DefaultBinary
	}
	resolved, err := exec.LookPath(path)
	if err != nil {
		return "", &LaunchError{Binary: path, Err: err}
	}
	return resolved, nil
}

// Run executes the tool with args and waits for it to exit.
func (r *Runner) Run(ctx context.Context, args ...string) (Result, error) {
	bin, err := r.Binary()
	if err != nil {
		return Result{}, err
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Debug().Str("binary", bin).Strs("args", args).Msg("run adb command")
	runErr := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if runErr == nil {
		res.OK = true
		return res, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		res.ExitCode = -1
		return res, errors.Wrapf(ctxErr, "adb %s interrupted", strings.Join(args, " "))
	}
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		log.Debug().
			Strs("args", args).
			Int("exit_code", res.ExitCode).
			Str("stderr", strings.TrimSpace(res.Stderr)).
			Msg("adb command failed")
		return res, &CommandError{
			Args:     args,
			ExitCode: res.ExitCode,
			Stderr:   res.Stderr,
			Stdout:   res.Stdout,
		}
	}
	return res, &LaunchError{Binary: bin, Err: runErr}
}
