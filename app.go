// Package adbstudio wires the device registry, command executor, log stream
// and install pipeline into one explicitly owned application state.
package adbstudio

import (
	"context"
	"time"

	"github.com/aeke/adb-studio/internal/agent/command"
	"github.com/aeke/adb-studio/internal/agent/device"
	"github.com/aeke/adb-studio/internal/agent/install"
	"github.com/aeke/adb-studio/internal/agent/stream"
	"github.com/aeke/adb-studio/internal/providers/adb"
	"github.com/aeke/adb-studio/internal/runner"
	"github.com/aeke/adb-studio/internal/storage"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

// SettingsProvider supplies the configured adb binary path.
type SettingsProvider interface {
	ADBPath() string
}

// Config holds process-level options. Zero values select defaults.
type Config struct {
	// ADBPath takes precedence over the settings provider when set.
	ADBPath       string
	PollInterval  time.Duration
	LogMaxLines   int
	StagingDir    string
	ClearDelay    time.Duration
	CleanupStaged bool
	FetchModel    bool
	Allowlist     []string
	// History enables the SQLite history store at HistoryPath
	// (ResolveDatabasePath when empty).
	History     bool
	HistoryPath string
	// LogSink, when set, receives logcat lines in addition to Logs.
	LogSink stream.Sink
}

// ConfigFromEnv reads Config from ADBSTUDIO_* variables.
func ConfigFromEnv() Config {
	return Config{
		PollInterval: EnvDuration(EnvPollInterval, device.DefaultInterval),
		LogMaxLines:  EnvInt(EnvLogMaxLines, 0),
		StagingDir:   EnvString(EnvStagingDir, install.DefaultStagingDir),
		FetchModel:   EnvBool(EnvFetchModel, true),
		Allowlist:    device.ParseAllowlist(EnvString(EnvAllowlist, "")),
		History:      EnvBool(EnvHistory, true),
		HistoryPath:  EnvString(EnvDBPath, ""),
	}
}

// App owns every core component. Consumers read state through the
// components and mutate it only through their methods.
type App struct {
	cfg      Config
	settings SettingsProvider

	Runner   *runner.Runner
	Client   *adb.Client
	Registry *device.Registry
	Executor *command.Executor
	Logs     *stream.Buffer
	Session  *stream.Session
	Catalog  *install.Catalog
	Pipeline *install.Pipeline
	History  *storage.History
}

// New builds the application. settings may be nil.
func New(cfg Config, settings SettingsProvider) (*App, error) {
	a := &App{cfg: cfg, settings: settings}
	a.Runner = runner.New(a.binaryPath)
	a.Client = adb.New(a.Runner)

	if cfg.History {
		var err error
		if cfg.HistoryPath != "" {
			a.History, err = storage.Open(cfg.HistoryPath)
		} else {
			a.History, err = storage.OpenDefault()
		}
		if err != nil {
			return nil, errors.Wrap(err, "open history store failed")
		}
	}

	regOpts := device.Options{Interval: cfg.PollInterval, Allowlist: cfg.Allowlist}
	pipeOpts := install.Options{
		StagingDir:    cfg.StagingDir,
		ClearDelay:    cfg.ClearDelay,
		CleanupStaged: cfg.CleanupStaged,
	}
	if a.History != nil {
		regOpts.Recorder = a.History
		pipeOpts.Recorder = a.History
	}
	if cfg.FetchModel {
		regOpts.FetchModel = a.Client.Model
	}
	a.Registry = device.NewRegistry(a.Client, regOpts)
	a.Executor = command.New(a.Client, a.Registry)
	a.Logs = stream.NewBuffer(cfg.LogMaxLines)
	var sink stream.Sink = a.Logs
	if cfg.LogSink != nil {
		sink = stream.Tee(a.Logs, cfg.LogSink)
	}
	a.Session = stream.NewSession(a.Client, sink)
	a.Catalog = install.NewCatalog(a.Client)
	a.Pipeline = install.NewPipeline(a.Client, a.Catalog, pipeOpts)
	return a, nil
}

// binaryPath is read on every invocation so settings edits apply immediately.
func (a *App) binaryPath() string {
	if a.cfg.ADBPath != "" {
		return a.cfg.ADBPath
	}
	if a.settings != nil {
		return a.settings.ADBPath()
	}
	return ""
}

// Run drives background work until ctx is done, then stops the log stream
// and any screen recording.
func (a *App) Run(ctx context.Context) error {
	group, gctx := errgroup.WithContext(ctx)
	GroupGoSafe(gctx, group, "device-registry", a.Registry.Run)
	err := group.Wait()
	a.shutdown()
	return err
}

func (a *App) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.Session.Stop(ctx); err != nil {
		log.Warn().Err(err).Msg("stop logcat on shutdown failed")
	}
	if _, _, ok := a.Executor.Recording(); ok {
		if _, err := a.Executor.StopRecording(ctx); err != nil {
			log.Warn().Err(err).Msg("stop screen recording on shutdown failed")
		}
	}
}

// Close releases the history store.
func (a *App) Close() error {
	return a.History.Close()
}

// Attach runs one registry refresh, waits for pending model lookups and
// selects serial, or the only attached device when serial is empty.
func (a *App) Attach(ctx context.Context, serial string) (device.Device, error) {
	if err := a.Registry.Refresh(ctx); err != nil {
		return device.Device{}, err
	}
	if err := a.Registry.Settle(ctx); err != nil {
		return device.Device{}, errors.Wrap(err, "wait for device details")
	}
	if serial == "" {
		devices := a.Registry.Devices()
		switch len(devices) {
		case 0:
			return device.Device{}, errors.Wrap(device.ErrNoDeviceSelected, "no device attached")
		case 1:
			serial = devices[0].Serial
		default:
			return device.Device{}, errors.Wrapf(device.ErrNoDeviceSelected,
				"%d devices attached, choose one with --serial", len(devices))
		}
	}
	a.Registry.Select(serial)
	return a.Registry.Resolve()
}

// StartLogcat starts streaming the selected device's log into Logs.
func (a *App) StartLogcat(ctx context.Context) error {
	d, err := a.Registry.Resolve()
	if err != nil {
		return errors.Wrap(err, "start logcat")
	}
	return a.Session.Start(ctx, d.Serial)
}

// StopLogcat stops the log stream; a no-op when idle.
func (a *App) StopLogcat(ctx context.Context) error {
	return a.Session.Stop(ctx)
}

// Install pushes and installs artifact on the selected device.
func (a *App) Install(ctx context.Context, artifact string) (install.Job, error) {
	d, err := a.Registry.Resolve()
	if err != nil {
		return install.Job{}, errors.Wrap(err, "install")
	}
	return a.Pipeline.Install(ctx, d.Serial, artifact)
}

// Uninstall removes pkg from the selected device.
func (a *App) Uninstall(ctx context.Context, pkg string) (install.Job, error) {
	d, err := a.Registry.Resolve()
	if err != nil {
		return install.Job{}, errors.Wrap(err, "uninstall")
	}
	return a.Pipeline.Uninstall(ctx, d.Serial, pkg)
}

// RefreshPackages reloads the installed-package catalog of the selected device.
func (a *App) RefreshPackages(ctx context.Context) ([]string, error) {
	d, err := a.Registry.Resolve()
	if err != nil {
		return nil, errors.Wrap(err, "refresh packages")
	}
	return a.Catalog.Refresh(ctx, d.Serial)
}
