package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/aeke/adb-studio/internal/agent/device"
	"github.com/aeke/adb-studio/internal/agent/install"
	"github.com/aeke/adb-studio/internal/env"
)

func openTestHistory(t *testing.T) *History {
	t.Helper()
	h, err := Open(filepath.Join(t.TempDir(), "history.sqlite"))
	if err != nil {
		t.Fatalf("open history failed: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func TestUpsertDevicesKeepsModel(t *testing.T) {
	h := openTestHistory(t)
	ctx := context.Background()
	first := time.UnixMilli(1_700_000_000_000)

	if err := h.UpsertDevices(ctx, []device.InfoUpdate{
		{DeviceSerial: "EMU1", Status: "device", Model: "Pixel 7", LastSeenAt: first},
	}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	later := first.Add(time.Minute)
	if err := h.UpsertDevices(ctx, []device.InfoUpdate{
		{DeviceSerial: "EMU1", Status: device.StatusDisconnected, LastSeenAt: later},
	}); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	recs, err := h.ListDevices(ctx)
	if err != nil {
		t.Fatalf("list devices failed: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected one device, got %d", len(recs))
	}
	rec := recs[0]
	if rec.Status != device.StatusDisconnected || rec.Model != "Pixel 7" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if !rec.FirstSeen.Equal(first) || !rec.LastSeen.Equal(later) {
		t.Fatalf("unexpected timestamps %v %v", rec.FirstSeen, rec.LastSeen)
	}
}

func TestJobRoundTrip(t *testing.T) {
	h := openTestHistory(t)
	ctx := context.Background()
	start := time.UnixMilli(1_700_000_000_000)

	job := install.Job{
		ID:        "01HZX0000000000000000000AA",
		Kind:      install.KindInstall,
		Serial:    "EMU1",
		Artifact:  "/tmp/app.apk",
		Stage:     install.StageIdle,
		StartedAt: start,
	}
	if err := h.CreateJob(ctx, job); err != nil {
		t.Fatalf("create job failed: %v", err)
	}
	job.Stage = install.StageFailed
	job.Reason = "Failure [INSTALL_FAILED_INSUFFICIENT_STORAGE]"
	job.EndedAt = start.Add(3 * time.Second)
	if err := h.UpdateJob(ctx, job); err != nil {
		t.Fatalf("update job failed: %v", err)
	}

	newer := install.Job{ID: "01HZX0000000000000000000BB", Kind: install.KindUninstall,
		Serial: "EMU1", Package: "com.a", Stage: install.StageIdle, StartedAt: start.Add(time.Hour)}
	if err := h.CreateJob(ctx, newer); err != nil {
		t.Fatalf("create second job failed: %v", err)
	}

	jobs, err := h.ListJobs(ctx, 0)
	if err != nil {
		t.Fatalf("list jobs failed: %v", err)
	}
	if len(jobs) != 2 || jobs[0].ID != newer.ID {
		t.Fatalf("expected newest first, got %+v", jobs)
	}
	got := jobs[1]
	if got.Stage != install.StageFailed || got.Reason != job.Reason || !got.EndedAt.Equal(job.EndedAt) {
		t.Fatalf("unexpected stored job %+v", got)
	}
	if !jobs[0].EndedAt.IsZero() {
		t.Fatalf("running job should have no end time")
	}

	limited, err := h.ListJobs(ctx, 1)
	if err != nil || len(limited) != 1 {
		t.Fatalf("expected one job with limit, got %d err=%v", len(limited), err)
	}
}

func TestUpdateUnknownJob(t *testing.T) {
	h := openTestHistory(t)
	if err := h.UpdateJob(context.Background(), install.Job{ID: "missing"}); err == nil {
		t.Fatalf("expected error for unknown job")
	}
}

func TestResolveDatabasePathFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "db.sqlite")
	t.Setenv(env.DBPath, path)
	got, err := ResolveDatabasePath()
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if got != path {
		t.Fatalf("expected %s, got %s", path, got)
	}
}
