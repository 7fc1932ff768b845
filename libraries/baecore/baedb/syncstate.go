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

package baedb

import (
	"database/sql"
	"errors"
	"time"

	"github.com/baebaebaebaebae/bae/go/libraries/baecore/hlc"
)

// SyncState is this device's durable sync bookkeeping.
type SyncState struct {
	DeviceID        string         `db:"device_id"`
	LocalSeq        uint64         `db:"local_seq"`
	LastSnapshotSeq sql.NullInt64  `db:"last_snapshot_seq"`
	LastSnapshotAt  sql.NullString `db:"last_snapshot_at"`
}

// GetSyncState reads the device's sync state row.
func (d *Database) GetSyncState() (SyncState, error) {
	var st SyncState
	err := d.db.Get(&st,
		`SELECT device_id, local_seq, last_snapshot_seq, last_snapshot_at FROM sync_state WHERE id = 1`)
	return st, err
}

// SetLocalSeq records the device's latest pushed changeset sequence.
func (d *Database) SetLocalSeq(seq uint64) error {
	_, err := d.db.Exec(`UPDATE sync_state SET local_seq = ? WHERE id = 1`, seq)
	return err
}

// SetSnapshotState records the seq and time of the latest snapshot this
// device exported.
func (d *Database) SetSnapshotState(seq uint64, at time.Time) error {
	_, err := d.db.Exec(
		`UPDATE sync_state SET last_snapshot_seq = ?, last_snapshot_at = ? WHERE id = 1`,
		seq, at.UTC().Format(time.RFC3339))
	return err
}

// ResetSyncIdentity discards the sync identity carried in a restored
// snapshot image: the exporting device's id, seq, and cursors. A fresh
// device id is minted and the local seq starts over.
func (d *Database) ResetSyncIdentity() error {
	if _, err := d.db.Exec(`DELETE FROM sync_cursors`); err != nil {
		return err
	}
	d.deviceID = newDeviceID()
	if _, err := d.db.Exec(
		`UPDATE sync_state SET device_id = ?, local_seq = 0, last_snapshot_seq = NULL, last_snapshot_at = NULL WHERE id = 1`,
		d.deviceID); err != nil {
		return err
	}
	d.clock = hlc.NewClock(d.deviceID)
	return nil
}

// Cursor returns the last applied changeset seq for a peer device. Peers
// never seen before start at 0.
func (d *Database) Cursor(deviceID string) (uint64, error) {
	var seq uint64
	err := d.db.Get(&seq,
		`SELECT last_applied_seq FROM sync_cursors WHERE device_id = ?`, deviceID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return seq, err
}

// SetCursor advances the pull cursor for a peer device.
func (d *Database) SetCursor(deviceID string, seq uint64) error {
	_, err := d.db.Exec(
		`INSERT INTO sync_cursors (device_id, last_applied_seq) VALUES (?, ?)
		 ON CONFLICT(device_id) DO UPDATE SET last_applied_seq = excluded.last_applied_seq`,
		deviceID, seq)
	return err
}

// Cursors returns every peer cursor.
func (d *Database) Cursors() (map[string]uint64, error) {
	rows, err := d.db.Query(`SELECT device_id, last_applied_seq FROM sync_cursors`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cursors := map[string]uint64{}
	for rows.Next() {
		var id string
		var seq uint64
		if err := rows.Scan(&id, &seq); err != nil {
			return nil, err
		}
		cursors[id] = seq
	}
	return cursors, rows.Err()
}
