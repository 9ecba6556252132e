// Package install runs the push, remote install, verify and refresh workflow
// for one artifact at a time, publishing progress checkpoints to observers.
package install

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aeke/adb-studio/internal/providers/adb"
	"github.com/dustin/go-humanize"
	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	DefaultStagingDir = "/data/local/tmp"
	DefaultClearDelay = 1500 * time.Millisecond

	// successMarker is what the package manager prints on a completed install.
	successMarker = "Success"
)

var (
	ErrInstallInProgress = errors.New("another install is in progress")
	ErrUnknownPackage    = errors.New("package is not installed on the device")
)

// Client is the subset of the adb client the pipeline drives.
type Client interface {
	Push(ctx context.Context, serial, local, remote string) (string, error)
	Shell(ctx context.Context, serial, command string) (string, error)
	Uninstall(ctx context.Context, serial, pkg string) (string, error)
}

// Recorder persists job history. Failures are logged and never abort a job.
type Recorder interface {
	CreateJob(ctx context.Context, job Job) error
	UpdateJob(ctx context.Context, job Job) error
}

// Options tunes a Pipeline. Zero values select the defaults.
type Options struct {
	StagingDir string
	ClearDelay time.Duration
	Recorder   Recorder
	// CleanupStaged removes the pushed artifact from the device once the
	// remote install has run.
	CleanupStaged bool
}

// Pipeline owns the single active job of the application.
type Pipeline struct {
	client  Client
	catalog *Catalog
	opts    Options

	active atomic.Bool

	// publishMu orders job publication so observers see transitions in sequence.
	publishMu sync.Mutex
	mu        sync.RWMutex
	current   Job
	observers []func(Job)
}

func NewPipeline(client Client, catalog *Catalog, opts Options) *Pipeline {
	if opts.StagingDir == "" {
		opts.StagingDir = DefaultStagingDir
	}
	if opts.ClearDelay <= 0 {
		opts.ClearDelay = DefaultClearDelay
	}
	return &Pipeline{client: client, catalog: catalog, opts: opts}
}

// Catalog returns the package view refreshed after each successful job.
func (p *Pipeline) Catalog() *Catalog {
	return p.catalog
}

// Current returns the latest published job state.
func (p *Pipeline) Current() Job {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Active reports whether a job holds the gate.
func (p *Pipeline) Active() bool {
	return p.active.Load()
}

// Observe registers fn to receive every published job state.
func (p *Pipeline) Observe(fn func(Job)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, fn)
}

// Install pushes artifact to serial and installs it with replace semantics.
// The returned job is terminal; err is non-nil when the job failed.
func (p *Pipeline) Install(ctx context.Context, serial, artifact string) (Job, error) {
	if !p.active.CompareAndSwap(false, true) {
		return p.Current(), ErrInstallInProgress
	}
	defer p.active.Store(false)

	job := p.begin(ctx, KindInstall, serial)
	job.Artifact = artifact

	info, err := os.Stat(artifact)
	if err != nil {
		return p.fail(ctx, job, errors.Wrapf(err, "stat artifact %s", artifact))
	}
	if info.IsDir() {
		return p.fail(ctx, job, errors.Errorf("artifact %s is a directory", artifact))
	}
	remote := path.Join(p.opts.StagingDir, filepath.Base(artifact))
	log.Info().Str("serial", serial).Str("artifact", artifact).
		Str("size", humanize.IBytes(uint64(info.Size()))).Str("remote", remote).
		Str("job_id", job.ID).Msg("install started")

	before := p.catalog.Packages()
	wasLoaded := p.catalog.LoadedFor(serial)

	job = p.advance(ctx, job, StagePushing)
	if _, err := p.client.Push(ctx, serial, artifact, remote); err != nil {
		return p.fail(ctx, job, err)
	}

	job = p.advance(ctx, job, StageInstalling)
	out, err := p.client.Shell(ctx, serial, "pm install -r "+adb.ShellQuote(remote))
	p.cleanup(ctx, serial, remote)
	if err != nil {
		return p.fail(ctx, job, err)
	}

	job = p.advance(ctx, job, StageVerifying)
	if !strings.Contains(out, successMarker) {
		return p.fail(ctx, job, errors.New(strings.TrimSpace(out)))
	}

	if pkgs, err := p.catalog.Refresh(ctx, serial); err != nil {
		log.Warn().Err(err).Str("serial", serial).Msg("refresh packages after install failed")
	} else if wasLoaded {
		job.Package = newPackage(before, pkgs)
	}
	return p.succeed(ctx, job), nil
}

// Uninstall removes pkg from serial. When the catalog is loaded for serial
// the package must be listed in it.
func (p *Pipeline) Uninstall(ctx context.Context, serial, pkg string) (Job, error) {
	if !p.active.CompareAndSwap(false, true) {
		return p.Current(), ErrInstallInProgress
	}
	defer p.active.Store(false)

	if p.catalog.LoadedFor(serial) && !p.catalog.Contains(pkg) {
		return p.Current(), errors.Wrapf(ErrUnknownPackage, "uninstall %s", pkg)
	}

	job := p.begin(ctx, KindUninstall, serial)
	job.Package = pkg
	log.Info().Str("serial", serial).Str("package", pkg).Str("job_id", job.ID).Msg("uninstall started")

	job = p.advance(ctx, job, StageInstalling)
	out, err := p.client.Uninstall(ctx, serial, pkg)
	if err != nil {
		return p.fail(ctx, job, err)
	}
	job = p.advance(ctx, job, StageVerifying)
	if !strings.Contains(out, successMarker) {
		return p.fail(ctx, job, errors.New(strings.TrimSpace(out)))
	}
	if _, err := p.catalog.Refresh(ctx, serial); err != nil {
		log.Warn().Err(err).Str("serial", serial).Msg("refresh packages after uninstall failed")
	}
	return p.succeed(ctx, job), nil
}

func (p *Pipeline) begin(ctx context.Context, kind Kind, serial string) Job {
	job := Job{
		ID:        ulid.Make().String(),
		Kind:      kind,
		Serial:    serial,
		Stage:     StageIdle,
		StartedAt: time.Now(),
	}
	if p.opts.Recorder != nil {
		if err := p.opts.Recorder.CreateJob(ctx, job); err != nil {
			log.Warn().Err(err).Str("job_id", job.ID).Msg("record job failed")
		}
	}
	p.publish(job)
	return job
}

func (p *Pipeline) advance(ctx context.Context, job Job, stage Stage) Job {
	if !canAdvance(job.Stage, stage) {
		log.Error().Str("job_id", job.ID).Str("from", string(job.Stage)).
			Str("to", string(stage)).Msg("illegal job transition ignored")
		return job
	}
	job.Stage = stage
	job.Progress = stage.Progress()
	if stage.Terminal() {
		job.EndedAt = time.Now()
	}
	p.record(ctx, job)
	p.publish(job)
	return job
}

func (p *Pipeline) fail(ctx context.Context, job Job, cause error) (Job, error) {
	job.Reason = cause.Error()
	job = p.advance(ctx, job, StageFailed)
	log.Error().Err(cause).Str("serial", job.Serial).Str("job_id", job.ID).
		Str("kind", string(job.Kind)).Msg("job failed")
	return job, errors.Wrapf(cause, "%s failed", job.Kind)
}

func (p *Pipeline) succeed(ctx context.Context, job Job) Job {
	job = p.advance(ctx, job, StageSucceeded)
	log.Info().Str("serial", job.Serial).Str("job_id", job.ID).Str("package", job.Package).
		Dur("elapsed", job.EndedAt.Sub(job.StartedAt)).Msgf("%s succeeded", job.Kind)

	id := job.ID
	time.AfterFunc(p.opts.ClearDelay, func() {
		p.publishMu.Lock()
		defer p.publishMu.Unlock()
		p.mu.Lock()
		if p.current.ID != id {
			p.mu.Unlock()
			return
		}
		p.current.Progress = 0
		cleared := p.current
		observers := p.observers
		p.mu.Unlock()
		for _, fn := range observers {
			fn(cleared)
		}
	})
	return job
}

func (p *Pipeline) cleanup(ctx context.Context, serial, remote string) {
	if !p.opts.CleanupStaged {
		return
	}
	if _, err := p.client.Shell(ctx, serial, "rm -f "+adb.ShellQuote(remote)); err != nil {
		log.Warn().Err(err).Str("serial", serial).Str("remote", remote).Msg("remove staged artifact failed")
	}
}

func (p *Pipeline) record(ctx context.Context, job Job) {
	if p.opts.Recorder == nil {
		return
	}
	if err := p.opts.Recorder.UpdateJob(ctx, job); err != nil {
		log.Warn().Err(err).Str("job_id", job.ID).Msg("update job record failed")
	}
}

func (p *Pipeline) publish(job Job) {
	p.publishMu.Lock()
	defer p.publishMu.Unlock()
	p.mu.Lock()
	p.current = job
	observers := p.observers
	p.mu.Unlock()
	for _, fn := range observers {
		fn(job)
	}
}

// newPackage returns the single name present in after but not in before.
func newPackage(before, after []string) string {
	seen := make(map[string]struct{}, len(before))
	for _, name := range before {
		seen[name] = struct{}{}
	}
	var added string
	for _, name := range after {
		if _, ok := seen[name]; ok {
			continue
		}
		if added != "" {
			return ""
		}
		added = name
	}
	return added
}
