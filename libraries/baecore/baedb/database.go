// Copyright 2026 Dolthub, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package baedb is the device-local relational store. All writes to the
// synced surface flow through it so the change recorder sees every
// insertion, update, and deletion destined for other devices.
package baedb

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/denisbrodbeck/machineid"
	"github.com/dolthub/fslock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"github.com/baebaebaebaebae/bae/go/libraries/baecore/hlc"
	"github.com/baebaebaebaebae/bae/go/libraries/baecore/schema"
)

// Database is a handle to the local SQLite store plus the change recorder
// and the device's hybrid logical clock. At most one writer task uses it at
// a time; a lock file enforces the single-process part of that discipline.
type Database struct {
	db       *sqlx.DB
	path     string
	lock     *fslock.Lock
	clock    *hlc.Clock
	recorder *Recorder
	deviceID string
}

// Open opens (creating if needed) the library database at path. The device
// id is minted on first open and stable afterwards.
func Open(path string) (*Database, error) {
	var lock *fslock.Lock
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, err
		}
		lock = fslock.New(path + ".lock")
		if err := lock.TryLock(); err != nil {
			return nil, fmt.Errorf("library database is locked by another process: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		if lock != nil {
			lock.Unlock()
		}
		return nil, err
	}
	// A single connection keeps :memory: databases coherent and matches the
	// one-writer discipline.
	db.SetMaxOpenConns(1)

	for _, stmt := range schema.CreateStmts() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			if lock != nil {
				lock.Unlock()
			}
			return nil, fmt.Errorf("schema setup failed: %w", err)
		}
	}

	d := &Database{db: db, path: path, lock: lock, recorder: NewRecorder()}
	if err := d.initSyncState(); err != nil {
		d.Close()
		return nil, err
	}
	d.clock = hlc.NewClock(d.deviceID)
	return d, nil
}

func (d *Database) initSyncState() error {
	var deviceID string
	err := d.db.Get(&deviceID, `SELECT device_id FROM sync_state WHERE id = 1`)
	if err == nil {
		d.deviceID = deviceID
		return nil
	}

	deviceID = newDeviceID()
	if _, err := d.db.Exec(
		`INSERT INTO sync_state (id, device_id, local_seq) VALUES (1, ?, 0)`, deviceID); err != nil {
		return err
	}
	d.deviceID = deviceID
	return nil
}

// newDeviceID mints a fresh 12-hex-character id by hashing the machine id
// with a random UUID, or from a random UUID alone when the platform has no
// machine id. Every call returns a new id; stability comes from persisting
// it in sync_state.
func newDeviceID() string {
	if mid, err := machineid.ProtectedID("bae"); err == nil && mid != "" {
		sum := sha256.Sum256([]byte(mid + "/" + uuid.NewString()))
		return hex.EncodeToString(sum[:6])
	}
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// DeviceID returns this device's stable id.
func (d *Database) DeviceID() string {
	return d.deviceID
}

// Clock returns the device's hybrid logical clock.
func (d *Database) Clock() *hlc.Clock {
	return d.clock
}

// Recorder returns the change recorder attached to the synced tables.
func (d *Database) Recorder() *Recorder {
	return d.recorder
}

// Handle exposes the underlying sqlx handle for reads and for tests.
func (d *Database) Handle() *sqlx.DB {
	return d.db
}

// Path returns the database file path.
func (d *Database) Path() string {
	return d.path
}

// VacuumInto writes a clean, defragmented copy of the database to dest,
// used for snapshot export.
func (d *Database) VacuumInto(dest string) error {
	os.Remove(dest)
	if _, err := d.db.Exec(`VACUUM INTO ?`, dest); err != nil {
		return fmt.Errorf("VACUUM INTO failed: %w", err)
	}
	return nil
}

// Close closes the database and releases the directory lock.
func (d *Database) Close() error {
	err := d.db.Close()
	if d.lock != nil {
		d.lock.Unlock()
	}
	return err
}

// IsFKViolation reports whether err is a SQLite foreign-key constraint
// failure. The apply engine defers such ops for a later pass.
func IsFKViolation(err error) bool {
	var serr sqlite3.Error
	if !errors.As(err, &serr) {
		return false
	}
	return serr.ExtendedCode == sqlite3.ErrConstraintForeignKey
}
