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

package sync

import (
	"errors"
	"fmt"

	"github.com/baebaebaebaebae/bae/go/libraries/baecore/baedb"
	"github.com/baebaebaebaebae/bae/go/libraries/baecore/hlc"
	"github.com/baebaebaebaebae/bae/go/libraries/baecore/schema"
)

// ApplyResult reports what happened to one changeset's operations.
type ApplyResult struct {
	// Applied counts ops that took effect locally.
	Applied int
	// Dropped counts ops the local state already superseded.
	Dropped int
	// Deferred holds ops that still hit a foreign-key violation after the
	// second pass. They are retried on a later cycle, never discarded.
	Deferred []baedb.Op
}

// ApplyChangeset merges an incoming changeset into the local store under
// last-writer-wins, row by row, preserving op order. Capture is suspended
// for the duration so remote writes are never echoed back into the outgoing
// session.
//
// Ops that fail with a foreign-key violation (child arrived before parent)
// are deferred to a second pass after the rest of the changeset has
// applied; whatever still fails is returned for a later cycle.
func ApplyChangeset(db *baedb.Database, cs baedb.Changeset) (ApplyResult, error) {
	resume := db.Recorder().Suspend()
	defer resume()

	var res ApplyResult

	deferred, err := applyOps(db, cs.Ops, &res)
	if err != nil {
		return res, err
	}
	if len(deferred) > 0 {
		deferred, err = applyOps(db, deferred, &res)
		if err != nil {
			return res, err
		}
	}
	res.Deferred = deferred
	return res, nil
}

// RetryDeferred re-applies ops deferred from a previous cycle.
func RetryDeferred(db *baedb.Database, ops []baedb.Op) (ApplyResult, error) {
	return ApplyChangeset(db, baedb.Changeset{Ops: ops})
}

func applyOps(db *baedb.Database, ops []baedb.Op, res *ApplyResult) (deferred []baedb.Op, err error) {
	for _, op := range ops {
		applied, err := applyOp(db, op)
		if err != nil {
			if baedb.IsFKViolation(err) {
				deferred = append(deferred, op)
				continue
			}
			return nil, fmt.Errorf("apply %s %s.%s: %w", op.Kind, op.Table, op.PK, err)
		}
		if applied {
			res.Applied++
		} else {
			res.Dropped++
		}
	}
	return deferred, nil
}

func applyOp(db *baedb.Database, op baedb.Op) (applied bool, err error) {
	if !schema.IsSynced(op.Table) {
		// a peer running a newer schema may sync tables this version does
		// not know; never let that corrupt local-only state
		return false, nil
	}

	observeRowClock(db, op)

	switch op.Kind {
	case baedb.OpInsert:
		return applyInsert(db, op)
	case baedb.OpUpdate:
		return applyUpdate(db, op)
	case baedb.OpDelete:
		return true, db.DeleteRow(op.Table, op.PK)
	default:
		return false, fmt.Errorf("unknown op kind %q", op.Kind)
	}
}

func applyInsert(db *baedb.Database, op baedb.Op) (bool, error) {
	localUpdatedAt, err := db.RowUpdatedAt(op.Table, op.PK)
	if errors.Is(err, baedb.ErrRowNotFound) {
		return true, db.InsertRow(op.Table, op.Row)
	} else if err != nil {
		return false, err
	}

	// The id already exists locally: resolve as an update conflict.
	if rowUpdatedAt(op.Row) <= localUpdatedAt {
		return false, nil
	}
	return true, replacePreservingDeviceColumns(db, op)
}

func applyUpdate(db *baedb.Database, op baedb.Op) (bool, error) {
	localUpdatedAt, err := db.RowUpdatedAt(op.Table, op.PK)
	if errors.Is(err, baedb.ErrRowNotFound) {
		// a local delete already won; drop the update
		return false, nil
	} else if err != nil {
		return false, err
	}

	// Strict inequality: _updated_at strings carry a device suffix, so
	// equality only happens with our own writes, which never come back.
	if rowUpdatedAt(op.Row) <= localUpdatedAt {
		return false, nil
	}
	return true, replacePreservingDeviceColumns(db, op)
}

// replacePreservingDeviceColumns writes the incoming row with its
// device-local columns taken from the existing local row.
func replacePreservingDeviceColumns(db *baedb.Database, op baedb.Op) error {
	row := op.Row
	if local := schema.DeviceLocalColumns(op.Table); len(local) > 0 {
		localRow, err := db.GetRow(op.Table, op.PK)
		if err != nil {
			return err
		}
		merged := make(map[string]any, len(row))
		for k, v := range row {
			merged[k] = v
		}
		for _, col := range local {
			merged[col] = localRow[col]
		}
		row = merged
	}
	return db.ReplaceRow(op.Table, row)
}

// observeRowClock advances the local clock past the incoming row's tick so
// subsequent local writes order after everything this device has seen.
func observeRowClock(db *baedb.Database, op baedb.Op) {
	if ts, err := hlc.Parse(rowUpdatedAt(op.Row)); err == nil {
		db.Clock().Observe(ts)
	}
}

func rowUpdatedAt(row map[string]any) string {
	s, _ := row["_updated_at"].(string)
	return s
}
