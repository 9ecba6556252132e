package device

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type stubProvider struct {
	mu      sync.Mutex
	devices []Device
	err     error
	calls   int
}

func (p *stubProvider) ListDevices(ctx context.Context) ([]Device, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	out := make([]Device, len(p.devices))
	copy(out, p.devices)
	return out, nil
}

func (p *stubProvider) set(devices []Device, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.devices = devices
	p.err = err
}

type stubRecorder struct {
	mu      sync.Mutex
	updates []InfoUpdate
}

func (r *stubRecorder) UpsertDevices(ctx context.Context, devices []InfoUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, devices...)
	return nil
}

func TestRegistryRefreshPublishesSnapshot(t *testing.T) {
	provider := &stubProvider{devices: []Device{
		{Serial: "EMU1", Status: "device"},
		{Serial: "EMU2", Status: "offline"},
		{Serial: "EMU1", Status: "device"},
	}}
	recorder := &stubRecorder{}
	reg := NewRegistry(provider, Options{Recorder: recorder})

	if err := reg.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	snap := reg.Snapshot()
	if len(snap.Devices) != 2 {
		t.Fatalf("expected duplicates removed, got %+v", snap.Devices)
	}
	if snap.Version == 0 || snap.UpdatedAt.IsZero() {
		t.Fatalf("snapshot metadata not set: %+v", snap)
	}
	if len(recorder.updates) != 2 {
		t.Fatalf("expected 2 connect updates, got %+v", recorder.updates)
	}

	provider.set([]Device{{Serial: "EMU2", Status: "offline"}}, nil)
	if err := reg.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	var disconnected bool
	for _, u := range recorder.updates[2:] {
		if u.DeviceSerial == "EMU1" && u.Status == StatusDisconnected {
			disconnected = true
		}
		if u.DeviceSerial == "EMU2" {
			t.Fatalf("unchanged device should not be re-recorded: %+v", u)
		}
	}
	if !disconnected {
		t.Fatalf("expected disconnect update for EMU1, got %+v", recorder.updates)
	}
}

func TestRegistryRefreshFailureKeepsPreviousSnapshot(t *testing.T) {
	provider := &stubProvider{devices: []Device{{Serial: "EMU1", Status: "device"}}}
	reg := NewRegistry(provider, Options{})
	if err := reg.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	before := reg.Snapshot()

	provider.set(nil, errors.New("adb: not found"))
	if err := reg.Refresh(context.Background()); err == nil {
		t.Fatal("expected refresh error to be returned")
	}
	after := reg.Snapshot()
	if after.Version != before.Version || len(after.Devices) != 1 || after.Devices[0].Serial != "EMU1" {
		t.Fatalf("snapshot changed after failed refresh: before=%+v after=%+v", before, after)
	}
}

func TestRegistryResolveStaleSelection(t *testing.T) {
	provider := &stubProvider{devices: []Device{{Serial: "X", Status: "device"}}}
	reg := NewRegistry(provider, Options{})

	if _, err := reg.Resolve(); !errors.Is(err, ErrNoDeviceSelected) {
		t.Fatalf("expected ErrNoDeviceSelected, got %v", err)
	}
	if err := reg.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	reg.Select("X")
	dev, err := reg.Resolve()
	if err != nil || dev.Serial != "X" {
		t.Fatalf("expected X resolved, got %+v %v", dev, err)
	}

	provider.set(nil, nil)
	if err := reg.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if _, err := reg.Resolve(); !errors.Is(err, ErrSelectionStale) {
		t.Fatalf("expected ErrSelectionStale, got %v", err)
	}
	snap := reg.Snapshot()
	if snap.Selected != "X" {
		t.Fatalf("stale selection must not be cleared silently, got %q", snap.Selected)
	}
	if !snap.Stale() {
		t.Fatal("snapshot should report stale selection")
	}

	reg.Clear()
	if _, err := reg.Resolve(); !errors.Is(err, ErrNoDeviceSelected) {
		t.Fatalf("expected ErrNoDeviceSelected after clear, got %v", err)
	}
}

func TestRegistrySnapshotAtomicity(t *testing.T) {
	small := []Device{{Serial: "A", Status: "device"}, {Serial: "B", Status: "device"}}
	large := []Device{
		{Serial: "A", Status: "device"}, {Serial: "B", Status: "device"},
		{Serial: "C", Status: "device"}, {Serial: "D", Status: "device"},
		{Serial: "E", Status: "device"},
	}
	provider := &stubProvider{devices: small}
	reg := NewRegistry(provider, Options{})

	var bad atomic.Int64
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			switch n := len(reg.Devices()); n {
			case 0, len(small), len(large):
			default:
				bad.Add(1)
			}
		}
	}()

	for i := 0; i < 200; i++ {
		if i%2 == 0 {
			provider.set(large, nil)
		} else {
			provider.set(small, nil)
		}
		if err := reg.Refresh(context.Background()); err != nil {
			t.Fatalf("refresh failed: %v", err)
		}
	}
	close(stop)
	wg.Wait()
	if bad.Load() != 0 {
		t.Fatalf("observed %d partially updated device lists", bad.Load())
	}
}

func TestRegistryFetchesModelOnce(t *testing.T) {
	provider := &stubProvider{devices: []Device{
		{Serial: "EMU1", Status: "device"},
		{Serial: "EMU2", Status: "unauthorized"},
	}}
	var calls atomic.Int32
	reg := NewRegistry(provider, Options{
		FetchModel: func(ctx context.Context, serial string) (string, error) {
			calls.Add(1)
			return "Pixel 8\n", nil
		},
	})
	for i := 0; i < 3; i++ {
		if err := reg.Refresh(context.Background()); err != nil {
			t.Fatalf("refresh failed: %v", err)
		}
		if err := reg.Settle(context.Background()); err != nil {
			t.Fatalf("settle failed: %v", err)
		}
	}
	if calls.Load() != 1 {
		t.Fatalf("expected model fetched once for the online device, got %d", calls.Load())
	}
	dev, ok := reg.Snapshot().Lookup("EMU1")
	if !ok || dev.Model != "Pixel 8" {
		t.Fatalf("expected model populated, got %+v", dev)
	}
	if dev, _ := reg.Snapshot().Lookup("EMU2"); dev.Model != "" {
		t.Fatalf("unauthorized device should not be queried, got %+v", dev)
	}
}

func TestRegistrySubscribeDeliversLatest(t *testing.T) {
	provider := &stubProvider{devices: []Device{{Serial: "EMU1", Status: "device"}}}
	reg := NewRegistry(provider, Options{})
	ch, cancel := reg.Subscribe()
	defer cancel()

	<-ch // initial empty snapshot
	if err := reg.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	reg.Select("EMU1")

	select {
	case snap := <-ch:
		if snap.Selected != "EMU1" || len(snap.Devices) != 1 {
			t.Fatalf("expected latest snapshot, got %+v", snap)
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot delivered")
	}
	cancel()
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after cancel")
	}
}

func TestRegistryRunStopsWithContext(t *testing.T) {
	provider := &stubProvider{devices: []Device{{Serial: "EMU1", Status: "device"}}}
	reg := NewRegistry(provider, Options{Interval: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- reg.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		provider.mu.Lock()
		calls := provider.calls
		provider.mu.Unlock()
		if calls >= 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("expected repeated refreshes, got %d", calls)
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("run did not stop after cancel")
	}
}

func TestRegistryPublishesBeforeModelLookup(t *testing.T) {
	provider := &stubProvider{devices: []Device{{Serial: "EMU1", Status: "device"}}}
	var calls atomic.Int32
	reg := NewRegistry(provider, Options{
		Interval:     20 * time.Millisecond,
		ModelTimeout: 5 * time.Second,
		FetchModel: func(ctx context.Context, serial string) (string, error) {
			calls.Add(1)
			<-ctx.Done()
			return "", ctx.Err()
		},
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- reg.Run(ctx) }()

	waitFor := func(n int) Snapshot {
		t.Helper()
		deadline := time.After(time.Second)
		for {
			snap := reg.Snapshot()
			if len(snap.Devices) == n {
				return snap
			}
			select {
			case <-deadline:
				t.Fatalf("expected %d devices published, got version=%d devices=%+v", n, snap.Version, snap.Devices)
			case <-time.After(5 * time.Millisecond):
			}
		}
	}
	waitFor(1)
	provider.set([]Device{{Serial: "EMU1", Status: "device"}, {Serial: "EMU2", Status: "device"}}, nil)
	snap := waitFor(2)
	if snap.Devices[1].Model != "" {
		t.Fatalf("model should stay empty while lookup hangs, got %+v", snap.Devices[1])
	}
	deadline := time.After(time.Second)
	for calls.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("expected one pending lookup per device, got %d", calls.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
	time.Sleep(60 * time.Millisecond)
	if n := calls.Load(); n != 2 {
		t.Fatalf("hung lookups must not be restarted on every tick, got %d", n)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	settleCtx, settleCancel := context.WithTimeout(context.Background(), time.Second)
	defer settleCancel()
	if err := reg.Settle(settleCtx); err != nil {
		t.Fatalf("lookups did not stop after cancel: %v", err)
	}
}

func TestRegistryModelLookupTimesOut(t *testing.T) {
	provider := &stubProvider{devices: []Device{{Serial: "EMU1", Status: "device"}}}
	reg := NewRegistry(provider, Options{
		ModelTimeout: 20 * time.Millisecond,
		FetchModel: func(ctx context.Context, serial string) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	})
	if err := reg.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := reg.Settle(ctx); err != nil {
		t.Fatalf("lookup was not bounded by the model timeout: %v", err)
	}
}

func TestRegistryBacksOffFailedModelLookup(t *testing.T) {
	provider := &stubProvider{devices: []Device{{Serial: "EMU1", Status: "device"}}}
	recorder := &stubRecorder{}
	var calls atomic.Int32
	reg := NewRegistry(provider, Options{
		Recorder: recorder,
		FetchModel: func(ctx context.Context, serial string) (string, error) {
			calls.Add(1)
			return "", errors.New("device offline")
		},
	})
	for i := 0; i < 3; i++ {
		if err := reg.Refresh(context.Background()); err != nil {
			t.Fatalf("refresh failed: %v", err)
		}
		if err := reg.Settle(context.Background()); err != nil {
			t.Fatalf("settle failed: %v", err)
		}
	}
	if calls.Load() != 1 {
		t.Fatalf("failed lookup should not be retried within the backoff, got %d calls", calls.Load())
	}
	if dev, _ := reg.Snapshot().Lookup("EMU1"); dev.Model != "" {
		t.Fatalf("unexpected model %+v", dev)
	}

	// a reconnect clears the backoff
	provider.set(nil, nil)
	if err := reg.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	provider.set([]Device{{Serial: "EMU1", Status: "device"}}, nil)
	if err := reg.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if err := reg.Settle(context.Background()); err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected a fresh lookup after reconnect, got %d calls", calls.Load())
	}
}

func TestRegistryRecordsResolvedModel(t *testing.T) {
	provider := &stubProvider{devices: []Device{{Serial: "EMU1", Status: "device"}}}
	recorder := &stubRecorder{}
	reg := NewRegistry(provider, Options{
		Recorder: recorder,
		FetchModel: func(ctx context.Context, serial string) (string, error) {
			return "Pixel 8", nil
		},
	})
	if err := reg.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if err := reg.Settle(context.Background()); err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	if len(recorder.updates) != 2 {
		t.Fatalf("expected connect then model update, got %+v", recorder.updates)
	}
	if last := recorder.updates[1]; last.Model != "Pixel 8" || last.Status != "device" {
		t.Fatalf("expected connect then model update, got %+v", recorder.updates)
	}
}
