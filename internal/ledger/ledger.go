// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package ledger is the optional checkpoint audit trail: a sqlite3-backed,
// append-only log of every checkpoint lifecycle event (persisted,
// skipped, recovered, swept) an embedding caller can enable for
// observability beyond the in-process health snapshot. It is never
// consulted for recovery correctness — the envelope and manifest on disk
// remain the source of truth — only for history and diagnostics.
package ledger

import (
	"database/sql"
	"embed"
	"fmt"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	mattnsqlite3 "github.com/mattn/go-sqlite3"
	"github.com/qustavo/sqlhooks/v2"

	"github.com/agentmesh/checkpointd/pkg/log"
)

const supportedVersion uint = 1

//go:embed migrations/*
var migrationFiles embed.FS

var registerDriverOnce sync.Once

// Ledger wraps a sqlite3 connection recording checkpoint lifecycle events.
type Ledger struct {
	DB *sqlx.DB
}

// Open connects to the sqlite3 database at dsn, migrating it to the
// current schema version if necessary, and returns a ready Ledger.
func Open(dsn string) (*Ledger, error) {
	registerDriverOnce.Do(func() {
		sql.Register("sqlite3WithHooksLedger", sqlhooks.Wrap(&mattnsqlite3.SQLiteDriver{}, &Hooks{}))
	})

	db, err := sqlx.Open("sqlite3WithHooksLedger", fmt.Sprintf("%s?_foreign_keys=on", dsn))
	if err != nil {
		return nil, fmt.Errorf("ledger: open: %w", err)
	}
	// sqlite does not multithread; more than one connection just means
	// waiting for locks.
	db.SetMaxOpenConns(1)

	if err := migrateUp(db.DB); err != nil {
		db.Close()
		return nil, err
	}

	return &Ledger{DB: db}, nil
}

func migrateUp(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("ledger: migration driver: %w", err)
	}
	src, err := iofs.New(migrationFiles, "migrations/sqlite3")
	if err != nil {
		return fmt.Errorf("ledger: migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("ledger: migration init: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("ledger: migrate up: %w", err)
	}

	v, _, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		log.Warnf("ledger: could not determine schema version: %v", err)
	} else if v < uint(supportedVersion) {
		log.Warnf("ledger: schema version %d below supported %d after migration", v, supportedVersion)
	}

	return nil
}

// Close releases the underlying database connection.
func (l *Ledger) Close() error {
	return l.DB.Close()
}
