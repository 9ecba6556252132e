package device

import (
	"context"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// DefaultInterval 是后台刷新设备列表的周期。
const DefaultInterval = 2 * time.Second

const (
	// DefaultModelTimeout bounds a single model lookup.
	DefaultModelTimeout = 3 * time.Second
	// modelRetryBackoff 是型号查询失败后再次尝试前的等待时间。
	modelRetryBackoff = 30 * time.Second
)

// Options 控制 Registry 的行为。
type Options struct {
	Interval     time.Duration
	Recorder     Recorder
	FetchModel   ModelFetcher
	ModelTimeout time.Duration
	// Allowlist restricts published devices to these serials when non-empty.
	Allowlist []string
}

// Registry 周期性刷新设备列表并原子发布快照，同时持有"选中设备"关系。
// 它是设备列表的唯一写入方。
type Registry struct {
	provider   Provider
	recorder   Recorder
	fetchModel   ModelFetcher
	modelTimeout time.Duration
	interval     time.Duration
	allowed      allowlist

	current atomic.Pointer[Snapshot]

	// publishMu 串行化快照发布与订阅者通知，保证发布全序。
	publishMu sync.Mutex
	subs      map[int]chan Snapshot
	nextSub   int

	refreshMu   sync.Mutex
	unavailable bool

	// modelMu 保护型号缓存、失败退避与进行中的查询。
	// 加锁顺序：publishMu 在 modelMu 之前。
	modelMu    sync.Mutex
	models     map[string]string
	modelRetry map[string]time.Time
	fetching   map[string]chan struct{}
}

// NewRegistry 构建设备注册表。
func NewRegistry(provider Provider, opts Options) *Registry {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.ModelTimeout <= 0 {
		opts.ModelTimeout = DefaultModelTimeout
	}
	r := &Registry{
		provider:     provider,
		recorder:     opts.Recorder,
		fetchModel:   opts.FetchModel,
		modelTimeout: opts.ModelTimeout,
		interval:     opts.Interval,
		allowed:      newAllowlist(opts.Allowlist),
		subs:         make(map[int]chan Snapshot),
		models:       make(map[string]string),
		modelRetry:   make(map[string]time.Time),
		fetching:     make(map[string]chan struct{}),
	}
	r.current.Store(&Snapshot{})
	return r
}

// Interval returns the refresh period.
func (r *Registry) Interval() time.Duration {
	return r.interval
}

// Run refreshes immediately and then on every tick until ctx is done. Failed
// ticks keep the previous snapshot and never stop the loop.
func (r *Registry) Run(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context cannot be nil")
	}
	log.Info().Dur("interval", r.interval).Msg("start device registry")
	_ = r.Refresh(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("device registry stopped")
			return nil
		case <-ticker.C:
			_ = r.Refresh(ctx)
		}
	}
}

// Refresh 执行一次刷新。失败时保留上一份快照并返回错误，调用方可忽略。
// 设备型号不在刷新路径上查询：列表先发布，缺失的型号随后在后台补齐并重新发布。
func (r *Registry) Refresh(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return errors.New("device registry: provider is nil")
	}
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	listed, err := r.provider.ListDevices(ctx)
	if err != nil {
		if !r.unavailable {
			r.unavailable = true
			log.Warn().Err(err).Msg("device list unavailable, keeping previous snapshot")
		}
		return errors.Wrap(err, "list devices failed")
	}
	if r.unavailable {
		r.unavailable = false
		log.Info().Msg("device list available again")
	}

	now := time.Now()
	devices := make([]Device, 0, len(listed))
	seen := make(map[string]struct{}, len(listed))
	r.modelMu.Lock()
	for _, d := range listed {
		d.Serial = strings.TrimSpace(d.Serial)
		if d.Serial == "" {
			continue
		}
		if _, dup := seen[d.Serial]; dup || !r.allowed.allows(d.Serial) {
			continue
		}
		seen[d.Serial] = struct{}{}
		if d.Model == "" {
			d.Model = r.models[d.Serial]
		}
		devices = append(devices, d)
	}
	r.modelMu.Unlock()

	prev := r.current.Load()
	var updates []InfoUpdate
	for _, d := range devices {
		old, existed := prev.Lookup(d.Serial)
		if existed && old.Status == d.Status {
			continue
		}
		if !existed {
			log.Info().Str("serial", d.Serial).Str("status", d.Status).Msg("device connected")
		} else {
			log.Info().Str("serial", d.Serial).Str("from", old.Status).Str("to", d.Status).Msg("device status changed")
		}
		updates = append(updates, InfoUpdate{
			DeviceSerial: d.Serial,
			Status:       d.Status,
			Model:        d.Model,
			LastSeenAt:   now,
		})
	}
	r.modelMu.Lock()
	for _, old := range prev.Devices {
		if _, ok := seen[old.Serial]; ok {
			continue
		}
		delete(r.models, old.Serial)
		delete(r.modelRetry, old.Serial)
		updates = append(updates, InfoUpdate{
			DeviceSerial: old.Serial,
			Status:       StatusDisconnected,
			Model:        old.Model,
			LastSeenAt:   prev.UpdatedAt,
		})
		log.Info().Str("serial", old.Serial).Msg("device disconnected")
	}
	r.modelMu.Unlock()

	snap := r.publish(func(s *Snapshot) {
		// a lookup may have completed since the cache was read above
		r.modelMu.Lock()
		for i := range devices {
			if devices[i].Model == "" {
				devices[i].Model = r.models[devices[i].Serial]
			}
		}
		r.modelMu.Unlock()
		s.Devices = devices
		s.UpdatedAt = now
	})
	if snap.Stale() {
		log.Warn().Str("serial", snap.Selected).Msg("selected device is no longer attached")
	}

	if r.recorder != nil && len(updates) > 0 {
		if err := r.recorder.UpsertDevices(ctx, updates); err != nil {
			log.Error().Err(err).Msg("device recorder upsert failed")
		}
	}
	r.enrich(ctx, devices)
	return nil
}

// enrich starts a background model lookup for every online device whose model
// is unknown, unless one is already running or a recent lookup failed.
func (r *Registry) enrich(ctx context.Context, devices []Device) {
	if r.fetchModel == nil {
		return
	}
	r.modelMu.Lock()
	defer r.modelMu.Unlock()
	now := time.Now()
	for _, d := range devices {
		if d.Model != "" || !d.Online() {
			continue
		}
		if _, busy := r.fetching[d.Serial]; busy {
			continue
		}
		if until, ok := r.modelRetry[d.Serial]; ok && now.Before(until) {
			continue
		}
		done := make(chan struct{})
		r.fetching[d.Serial] = done
		go r.loadModel(ctx, d.Serial, done)
	}
}

// loadModel 在超时内查询一台设备的型号；成功则缓存并重新发布快照，失败则进入退避。
func (r *Registry) loadModel(ctx context.Context, serial string, done chan struct{}) {
	defer func() {
		r.modelMu.Lock()
		delete(r.fetching, serial)
		r.modelMu.Unlock()
		close(done)
	}()

	fetchCtx, cancel := context.WithTimeout(ctx, r.modelTimeout)
	model, err := r.fetchModel(fetchCtx, serial)
	cancel()
	model = strings.TrimSpace(model)
	if err == nil && model == "" {
		err = errors.New("empty model")
	}
	if err != nil {
		r.modelMu.Lock()
		r.modelRetry[serial] = time.Now().Add(modelRetryBackoff)
		r.modelMu.Unlock()
		log.Debug().Err(err).Str("serial", serial).Dur("retry_in", modelRetryBackoff).Msg("fetch device model failed")
		return
	}

	var dev Device
	snap, applied := r.publishIf(func(s *Snapshot) bool {
		i := slices.IndexFunc(s.Devices, func(d Device) bool { return d.Serial == serial })
		if i < 0 {
			return false
		}
		r.modelMu.Lock()
		r.models[serial] = model
		delete(r.modelRetry, serial)
		r.modelMu.Unlock()
		if s.Devices[i].Model != "" {
			return false
		}
		devices := slices.Clone(s.Devices)
		devices[i].Model = model
		s.Devices = devices
		dev = devices[i]
		return true
	})
	if !applied {
		return
	}
	log.Debug().Str("serial", serial).Str("model", model).Msg("device model resolved")
	if r.recorder != nil {
		update := InfoUpdate{
			DeviceSerial: dev.Serial,
			Status:       dev.Status,
			Model:        dev.Model,
			LastSeenAt:   snap.UpdatedAt,
		}
		if err := r.recorder.UpsertDevices(ctx, []InfoUpdate{update}); err != nil {
			log.Error().Err(err).Msg("device recorder upsert failed")
		}
	}
}

// Settle waits for in-flight model lookups to finish or for ctx to be done.
func (r *Registry) Settle(ctx context.Context) error {
	r.modelMu.Lock()
	pending := make([]chan struct{}, 0, len(r.fetching))
	for _, done := range r.fetching {
		pending = append(pending, done)
	}
	r.modelMu.Unlock()
	for _, done := range pending {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Snapshot returns the latest published snapshot.
func (r *Registry) Snapshot() Snapshot {
	s := *r.current.Load()
	s.Devices = slices.Clone(s.Devices)
	return s
}

// Devices returns the latest device list.
func (r *Registry) Devices() []Device {
	return r.Snapshot().Devices
}

// Select 设置选中设备，立即对后续读取可见。
func (r *Registry) Select(serial string) {
	serial = strings.TrimSpace(serial)
	r.publish(func(s *Snapshot) {
		s.Selected = serial
	})
	log.Debug().Str("serial", serial).Msg("device selected")
}

// Clear 清除选中设备。
func (r *Registry) Clear() {
	r.publish(func(s *Snapshot) {
		s.Selected = ""
	})
}

// Resolve 在派发命令前校验选中设备：未选中返回 ErrNoDeviceSelected，
// 选中设备已不在最新快照中返回 ErrSelectionStale。
func (r *Registry) Resolve() (Device, error) {
	s := r.current.Load()
	if s.Selected == "" {
		return Device{}, ErrNoDeviceSelected
	}
	if d, ok := s.Lookup(s.Selected); ok {
		return d, nil
	}
	return Device{}, errors.Wrapf(ErrSelectionStale, "serial %s", s.Selected)
}

// Subscribe 返回一个只保留最新快照的通道；cancel 之后通道被关闭。
func (r *Registry) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	r.publishMu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = ch
	ch <- r.Snapshot()
	r.publishMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			r.publishMu.Lock()
			delete(r.subs, id)
			close(ch)
			r.publishMu.Unlock()
		})
	}
	return ch, cancel
}

func (r *Registry) publish(mutate func(s *Snapshot)) Snapshot {
	snap, _ := r.publishIf(func(s *Snapshot) bool {
		mutate(s)
		return true
	})
	return snap
}

// publishIf publishes only when mutate reports a change.
func (r *Registry) publishIf(mutate func(s *Snapshot) bool) (Snapshot, bool) {
	r.publishMu.Lock()
	defer r.publishMu.Unlock()
	next := *r.current.Load()
	if !mutate(&next) {
		return next, false
	}
	next.Version++
	r.current.Store(&next)

	for _, ch := range r.subs {
		out := next
		out.Devices = slices.Clone(next.Devices)
		select {
		case ch <- out:
		default:
			// latest wins: drop the undelivered snapshot
			select {
			case <-ch:
			default:
			}
			ch <- out
		}
	}
	return next, true
}
