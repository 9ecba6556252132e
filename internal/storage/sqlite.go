// Package storage keeps device sightings and install job history in SQLite.
package storage

import (
	"database/sql"
	"os"
	"path/filepath"

	"github.com/aeke/adb-studio/internal/env"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

const (
	defaultDBDirName  = ".adb-studio"
	defaultDBFileName = "adbstudio.sqlite"
)

// ResolveDatabasePath returns ADBSTUDIO_DB_PATH or the default file under the
// user's home, creating the parent directory if necessary.
func ResolveDatabasePath() (string, error) {
	if custom := env.String(env.DBPath, ""); custom != "" {
		if err := ensureDirExists(filepath.Dir(custom)); err != nil {
			return "", err
		}
		return custom, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "storage: locate user home failed")
	}
	dir := filepath.Join(home, defaultDBDirName)
	if err := ensureDirExists(dir); err != nil {
		return "", err
	}
	return filepath.Join(dir, defaultDBFileName), nil
}

func ensureDirExists(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return errors.Wrapf(err, "storage: create dir %s failed", path)
	}
	return nil
}

func configureSQLite(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA temp_store=MEMORY;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return errors.Wrapf(err, "storage: execute %s failed", pragma)
		}
	}
	// 单连接串行写入，避免 WAL 下的锁竞争。
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return nil
}

func prepareSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS devices (
			serial TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			model TEXT NOT NULL DEFAULT '',
			first_seen INTEGER NOT NULL,
			last_seen INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS install_jobs (
			job_id TEXT PRIMARY KEY,
			serial TEXT NOT NULL,
			kind TEXT NOT NULL,
			artifact TEXT NOT NULL DEFAULT '',
			package TEXT NOT NULL DEFAULT '',
			stage TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			started_at INTEGER NOT NULL,
			ended_at INTEGER
		);`,
		`CREATE INDEX IF NOT EXISTS idx_install_jobs_started ON install_jobs(started_at DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return errors.Wrap(err, "storage: prepare schema failed")
		}
	}
	return nil
}
