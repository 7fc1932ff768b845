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
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/baebaebaebaebae/bae/go/libraries/baecore/baedb"
	"github.com/baebaebaebaebae/bae/go/libraries/baecore/encryption"
)

const (
	// defaultSnapshotChangesets triggers a snapshot after this many
	// changesets since the last one.
	defaultSnapshotChangesets = 100

	// defaultSnapshotInterval triggers a snapshot after this long since the
	// last one, provided at least one new changeset exists.
	defaultSnapshotInterval = 24 * time.Hour

	// defaultGCGracePeriod is how long after a snapshot superseded
	// changesets are kept so slow devices can still pull them.
	defaultGCGracePeriod = 30 * 24 * time.Hour
)

// shouldSnapshot decides whether it is time to export a new snapshot.
// A device that has never snapshotted does so as soon as it has pushed
// anything.
func shouldSnapshot(localSeq uint64, lastSnapshotSeq *uint64, sinceSnapshot time.Duration, changesetThreshold uint64, interval time.Duration) bool {
	if lastSnapshotSeq == nil {
		return localSeq > 0
	}

	changesetsSince := localSeq - min(localSeq, *lastSnapshotSeq)
	if changesetsSince >= changesetThreshold {
		return true
	}
	return sinceSnapshot >= interval && changesetsSince > 0
}

// createSnapshot exports a clean database image via VACUUM INTO and returns
// it encrypted under the master key.
func createSnapshot(db *baedb.Database, cipher *encryption.Cipher) ([]byte, error) {
	dir, err := os.MkdirTemp("", "bae-snapshot")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "snapshot.db")
	if err := db.VacuumInto(path); err != nil {
		return nil, err
	}

	plaintext, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return cipher.Encrypt(plaintext)
}

// GCResult reports a garbage-collection run.
type GCResult struct {
	Deleted int
	Errors  int
}

// garbageCollect deletes every changeset with seq <= snapshotSeq for every
// device in the bucket. Safe because the snapshot contains the full state
// up to that point; devices that missed deleted changesets bootstrap from
// the snapshot instead. The caller enforces the grace period.
func garbageCollect(ctx context.Context, bucket *Bucket, snapshotSeq uint64, log *zap.Logger) (GCResult, error) {
	heads, err := bucket.ListHeads(ctx)
	if err != nil {
		return GCResult{}, err
	}

	results := make([]GCResult, len(heads))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(4)

	for i, head := range heads {
		eg.Go(func() error {
			seqs, err := bucket.ListChangesets(egCtx, head.DeviceID)
			if err != nil {
				log.Warn("failed to list changesets for GC, skipping device",
					zap.String("device_id", head.DeviceID), zap.Error(err))
				results[i].Errors++
				return nil
			}

			for _, seq := range seqs {
				if seq > snapshotSeq {
					continue
				}
				if err := bucket.DeleteChangeset(egCtx, head.DeviceID, seq); err != nil {
					log.Warn("failed to delete changeset during GC",
						zap.String("device_id", head.DeviceID), zap.Uint64("seq", seq), zap.Error(err))
					results[i].Errors++
					continue
				}
				results[i].Deleted++
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return GCResult{}, err
	}

	var total GCResult
	for _, r := range results {
		total.Deleted += r.Deleted
		total.Errors += r.Errors
	}

	log.Info("garbage collection complete",
		zap.Int("deleted", total.Deleted),
		zap.Int("errors", total.Errors),
		zap.Uint64("snapshot_seq", snapshotSeq))
	return total, nil
}

// Bootstrap provisions a fresh device from the bucket's snapshot: download,
// decrypt, write the database image to path, then reset the device-local
// sync state and point every peer cursor at the snapshot floor.
//
// Returns the opened database. The caller then runs normal sync cycles to
// pull changesets past the snapshot.
func Bootstrap(ctx context.Context, bucket *Bucket, cipher *encryption.Cipher, path string, log *zap.Logger) (*baedb.Database, error) {
	encrypted, err := bucket.GetSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	plaintext, err := cipher.Decrypt(encrypted)
	if err != nil {
		return nil, fmt.Errorf("snapshot decryption failed: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, plaintext, 0644); err != nil {
		return nil, err
	}

	db, err := baedb.Open(path)
	if err != nil {
		return nil, err
	}

	// The image carries the exporting device's identity and cursors; this
	// device needs its own.
	if err := db.ResetSyncIdentity(); err != nil {
		db.Close()
		return nil, err
	}

	heads, err := bucket.ListHeads(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}

	var snapshotSeq uint64
	for _, h := range heads {
		if h.SnapshotSeq != nil && *h.SnapshotSeq > snapshotSeq {
			snapshotSeq = *h.SnapshotSeq
		}
	}
	for _, h := range heads {
		if h.DeviceID == db.DeviceID() {
			continue
		}
		if err := db.SetCursor(h.DeviceID, snapshotSeq); err != nil {
			db.Close()
			return nil, err
		}
	}

	log.Info("bootstrapped from snapshot",
		zap.Uint64("snapshot_seq", snapshotSeq),
		zap.String("db_size", humanize.Bytes(uint64(len(plaintext)))),
		zap.String("path", path))
	return db, nil
}
