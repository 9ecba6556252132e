package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/aeke/adb-studio/internal/agent/device"
	"github.com/aeke/adb-studio/internal/agent/install"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// DeviceRecord is one row of the devices table.
type DeviceRecord struct {
	Serial    string
	Status    string
	Model     string
	FirstSeen time.Time
	LastSeen  time.Time
}

// History records device sightings and install jobs.
type History struct {
	db *sql.DB
}

// Open opens (or creates) the history database at path.
func Open(path string) (*History, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "storage: open sqlite %s failed", path)
	}
	if err := configureSQLite(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := prepareSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	log.Debug().Str("path", path).Msg("storage: history database opened")
	return &History{db: db}, nil
}

// OpenDefault opens the database at ResolveDatabasePath.
func OpenDefault() (*History, error) {
	path, err := ResolveDatabasePath()
	if err != nil {
		return nil, err
	}
	return Open(path)
}

func (h *History) Close() error {
	if h == nil || h.db == nil {
		return nil
	}
	return h.db.Close()
}

const upsertDeviceSQL = `INSERT INTO devices (serial, status, model, first_seen, last_seen)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(serial) DO UPDATE SET
		status = excluded.status,
		model = CASE WHEN excluded.model <> '' THEN excluded.model ELSE devices.model END,
		last_seen = excluded.last_seen`

// UpsertDevices stores status transitions reported by the device registry.
func (h *History) UpsertDevices(ctx context.Context, updates []device.InfoUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "storage: begin device upsert failed")
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, upsertDeviceSQL)
	if err != nil {
		return errors.Wrap(err, "storage: prepare device upsert failed")
	}
	defer stmt.Close()
	for _, u := range updates {
		seen := u.LastSeenAt
		if seen.IsZero() {
			seen = time.Now()
		}
		args := []any{u.DeviceSerial, u.Status, u.Model, seen.UnixMilli(), seen.UnixMilli()}
		log.Debug().Str("sql", FormatSQLForLog(upsertDeviceSQL, args...)).Msg("storage: upsert device")
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return errors.Wrapf(err, "storage: upsert device %s failed", u.DeviceSerial)
		}
	}
	return errors.Wrap(tx.Commit(), "storage: commit device upsert failed")
}

// ListDevices returns every device ever seen, most recent first.
func (h *History) ListDevices(ctx context.Context) ([]DeviceRecord, error) {
	rows, err := h.db.QueryContext(ctx,
		`SELECT serial, status, model, first_seen, last_seen FROM devices ORDER BY last_seen DESC, serial`)
	if err != nil {
		return nil, errors.Wrap(err, "storage: query devices failed")
	}
	defer rows.Close()
	var out []DeviceRecord
	for rows.Next() {
		var rec DeviceRecord
		var first, last int64
		if err := rows.Scan(&rec.Serial, &rec.Status, &rec.Model, &first, &last); err != nil {
			return nil, errors.Wrap(err, "storage: scan device row failed")
		}
		rec.FirstSeen = time.UnixMilli(first)
		rec.LastSeen = time.UnixMilli(last)
		out = append(out, rec)
	}
	return out, errors.Wrap(rows.Err(), "storage: iterate devices failed")
}

const insertJobSQL = `INSERT INTO install_jobs
	(job_id, serial, kind, artifact, package, stage, reason, started_at, ended_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

const updateJobSQL = `UPDATE install_jobs
	SET package = ?, stage = ?, reason = ?, ended_at = ?
	WHERE job_id = ?`

// CreateJob inserts a new job row.
func (h *History) CreateJob(ctx context.Context, job install.Job) error {
	args := []any{job.ID, job.Serial, string(job.Kind), job.Artifact, job.Package,
		string(job.Stage), job.Reason, job.StartedAt.UnixMilli(), nullableMillis(job.EndedAt)}
	log.Debug().Str("sql", FormatSQLForLog(insertJobSQL, args...)).Msg("storage: create job")
	if _, err := h.db.ExecContext(ctx, insertJobSQL, args...); err != nil {
		return errors.Wrapf(err, "storage: insert job %s failed", job.ID)
	}
	return nil
}

// UpdateJob stores the latest stage of a job.
func (h *History) UpdateJob(ctx context.Context, job install.Job) error {
	args := []any{job.Package, string(job.Stage), job.Reason, nullableMillis(job.EndedAt), job.ID}
	log.Debug().Str("sql", FormatSQLForLog(updateJobSQL, args...)).Msg("storage: update job")
	res, err := h.db.ExecContext(ctx, updateJobSQL, args...)
	if err != nil {
		return errors.Wrapf(err, "storage: update job %s failed", job.ID)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Errorf("storage: job %s not found", job.ID)
	}
	return nil
}

// ListJobs returns up to limit jobs, newest first. limit <= 0 returns all.
func (h *History) ListJobs(ctx context.Context, limit int) ([]install.Job, error) {
	query := `SELECT job_id, serial, kind, artifact, package, stage, reason, started_at, ended_at
		FROM install_jobs ORDER BY started_at DESC, job_id DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "storage: query jobs failed")
	}
	defer rows.Close()
	var out []install.Job
	for rows.Next() {
		var (
			job         install.Job
			kind, stage string
			started     int64
			ended       sql.NullInt64
		)
		if err := rows.Scan(&job.ID, &job.Serial, &kind, &job.Artifact, &job.Package,
			&stage, &job.Reason, &started, &ended); err != nil {
			return nil, errors.Wrap(err, "storage: scan job row failed")
		}
		job.Kind = install.Kind(kind)
		job.Stage = install.Stage(stage)
		job.StartedAt = time.UnixMilli(started)
		if ended.Valid {
			job.EndedAt = time.UnixMilli(ended.Int64)
		}
		out = append(out, job)
	}
	return out, errors.Wrap(rows.Err(), "storage: iterate jobs failed")
}

func nullableMillis(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}
