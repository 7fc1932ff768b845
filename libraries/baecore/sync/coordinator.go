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
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/baebaebaebaebae/bae/go/libraries/baecore/baedb"
	"github.com/baebaebaebaebae/bae/go/libraries/baecore/encryption"
	"github.com/baebaebaebaebae/bae/go/libraries/baecore/keystore"
	"github.com/baebaebaebaebae/bae/go/libraries/baecore/schema"
)

// ErrSchemaTooOld means the bucket's min_schema_version exceeds this
// build's schema version. Sync halts without writing anything; the user
// must upgrade.
var ErrSchemaTooOld = errors.New("bucket schema version is newer than this device supports")

// Status is the user-visible sync state.
type Status int

const (
	StatusIdle Status = iota
	StatusSyncing
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusSyncing:
		return "syncing"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Config tunes the coordinator. Zero values fall back to defaults.
type Config struct {
	// Interval is the pause between sync cycles.
	Interval time.Duration
	// OpTimeout bounds each individual bucket call.
	OpTimeout time.Duration
	// SnapshotChangesets is the changeset-count snapshot trigger.
	SnapshotChangesets uint64
	// SnapshotInterval is the time-based snapshot trigger.
	SnapshotInterval time.Duration
	// GCGracePeriod is how long after a snapshot GC may run.
	GCGracePeriod time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval == 0 {
		c.Interval = time.Minute
	}
	if c.OpTimeout == 0 {
		c.OpTimeout = 30 * time.Second
	}
	if c.SnapshotChangesets == 0 {
		c.SnapshotChangesets = defaultSnapshotChangesets
	}
	if c.SnapshotInterval == 0 {
		c.SnapshotInterval = defaultSnapshotInterval
	}
	if c.GCGracePeriod == 0 {
		c.GCGracePeriod = defaultGCGracePeriod
	}
	return c
}

// Coordinator runs the per-cycle state machine: preflight the schema
// version, pull and apply peer changesets, push local changes, snapshot
// when thresholds are crossed, and garbage-collect past the grace period.
// It is the single place that decides between ending a cycle and carrying
// on after an error.
type Coordinator struct {
	db     *baedb.Database
	bucket *Bucket
	cipher *encryption.Cipher
	keys   *keystore.KeyStore
	log    *zap.Logger
	cfg    Config

	// Notify is called for errors that signal corruption or compromise
	// (failed authentication, invalid membership chain) so the UI can raise
	// a push-style notification. Optional.
	Notify func(error)

	kick     chan struct{}
	status   Status
	lastErr  error
	deferred []baedb.Op
}

// NewCoordinator wires a coordinator. cipher may be nil when the library is
// unencrypted-local-only; every bucket cycle then fails with
// keystore.ErrNotConfigured rather than writing plaintext.
func NewCoordinator(db *baedb.Database, bucket *Bucket, cipher *encryption.Cipher, keys *keystore.KeyStore, log *zap.Logger, cfg Config) *Coordinator {
	return &Coordinator{
		db:     db,
		bucket: bucket,
		cipher: cipher,
		keys:   keys,
		log:    log,
		cfg:    cfg.withDefaults(),
		kick:   make(chan struct{}, 1),
	}
}

// Kick requests a sync cycle ahead of the timer, typically after a local
// write batch.
func (c *Coordinator) Kick() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// Status returns the current user-visible state and the last cycle error,
// if any.
func (c *Coordinator) Status() (Status, error) {
	return c.status, c.lastErr
}

// Run cycles until ctx is cancelled, waking on the timer or on Kick. Cycle
// errors are logged and retried next cycle; only ErrSchemaTooOld and
// membership failures halt the loop.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		err := c.SyncCycle(ctx)
		switch {
		case errors.Is(err, context.Canceled):
			return err
		case errors.Is(err, ErrSchemaTooOld), IsMembershipInvalid(err):
			c.log.Error("sync halted", zap.Error(err))
			return err
		case err != nil:
			c.log.Warn("sync cycle failed, will retry", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-c.kick:
		}
	}
}

// SyncCycle runs one full cycle. It is a single cooperative task,
// cancellable between component calls; each bucket write is individually
// atomic and followed by a local cursor bump, so a cancelled cycle
// leaves no partial bucket state.
func (c *Coordinator) SyncCycle(ctx context.Context) (err error) {
	c.status = StatusSyncing
	defer func() {
		c.lastErr = err
		if err != nil {
			c.status = StatusError
			c.notify(err)
		} else {
			c.status = StatusIdle
		}
	}()

	if c.cipher == nil {
		return keystore.ErrNotConfigured
	}

	if err := c.preflightSchema(ctx); err != nil {
		return err
	}
	if err := c.checkMembership(ctx); err != nil {
		return err
	}

	// ops deferred from an earlier cycle get first shot at resolution
	if len(c.deferred) > 0 {
		res, err := RetryDeferred(c.db, c.deferred)
		if err != nil {
			return err
		}
		c.deferred = res.Deferred
	}

	if err := c.pull(ctx); err != nil {
		return err
	}
	if err := c.push(ctx); err != nil {
		return err
	}
	if err := c.maybeSnapshot(ctx); err != nil {
		return err
	}
	if err := c.maybeGC(ctx); err != nil {
		return err
	}

	if len(c.deferred) > 0 {
		c.log.Info("ops still deferred on foreign keys, retrying next cycle",
			zap.Int("count", len(c.deferred)))
	}
	return nil
}

func (c *Coordinator) preflightSchema(ctx context.Context) error {
	minVersion, ok, err := c.bucket.GetMinSchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("schema preflight: %w", err)
	}
	if ok && schema.Version < minVersion {
		return fmt.Errorf("%w: bucket requires %d, local is %d", ErrSchemaTooOld, minVersion, schema.Version)
	}
	return nil
}

// checkMembership downloads and validates the membership chain. A library
// with no chain is a single-user library. A chain that fails validation, or
// that does not list this device's key, makes the library unreadable until
// the chain is repaired.
func (c *Coordinator) checkMembership(ctx context.Context) error {
	chain, exists, err := LoadMembershipChain(ctx, c.bucket, c.cipher)
	if err != nil {
		return err
	}
	if !exists || c.keys == nil {
		return nil
	}

	kp, err := c.keys.Keypair()
	if err != nil {
		return nil
	}
	for _, m := range chain.CurrentMembers() {
		if m.PubKey == kp.PubKeyHex() {
			return nil
		}
	}
	return fmt.Errorf("device key %s is not a member of this library: %w",
		kp.PubKeyHex()[:8], NotAnOwnerError{Index: len(chain.Entries())})
}

func (c *Coordinator) pull(ctx context.Context) error {
	heads, err := c.listHeads(ctx)
	if err != nil {
		return err
	}

	var firstErr error
	for _, head := range heads {
		if head.DeviceID == c.db.DeviceID() {
			continue
		}
		if err := c.pullDevice(ctx, head); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			// one bad peer must not block the others
			c.log.Warn("pull failed for peer", zap.String("device_id", head.DeviceID), zap.Error(err))
			c.notify(err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (c *Coordinator) pullDevice(ctx context.Context, head DeviceHead) error {
	cursor, err := c.db.Cursor(head.DeviceID)
	if err != nil {
		return err
	}

	for seq := cursor + 1; seq <= head.Seq; seq++ {
		blob, err := c.getChangeset(ctx, head.DeviceID, seq)
		if err != nil {
			if IsNotFound(err) {
				// changesets at or below the snapshot floor are superseded and
				// may have been GC'd; a missing one there is skipped
				if head.SnapshotSeq != nil && seq <= *head.SnapshotSeq {
					continue
				}
				return fmt.Errorf("peer %s changeset %d missing past the snapshot floor: %w",
					head.DeviceID, seq, err)
			}
			return err
		}

		plaintext, err := c.cipher.Decrypt(blob)
		if err != nil {
			return fmt.Errorf("changeset %s/%d: %w", head.DeviceID, seq, err)
		}
		cs, err := baedb.DecodeChangeset(plaintext)
		if err != nil {
			return fmt.Errorf("changeset %s/%d: %w", head.DeviceID, seq, err)
		}

		res, err := ApplyChangeset(c.db, cs)
		if err != nil {
			return err
		}
		c.deferred = append(c.deferred, res.Deferred...)

		if err := c.db.SetCursor(head.DeviceID, seq); err != nil {
			return err
		}
		c.log.Debug("applied peer changeset",
			zap.String("device_id", head.DeviceID), zap.Uint64("seq", seq),
			zap.Int("applied", res.Applied), zap.Int("dropped", res.Dropped))
	}
	return nil
}

func (c *Coordinator) push(ctx context.Context) error {
	cs := c.db.Recorder().Take()
	if cs.Empty() {
		return nil
	}

	restore := func() { c.db.Recorder().Requeue(cs.Ops) }

	plaintext, err := cs.Bytes()
	if err != nil {
		restore()
		return err
	}
	blob, err := c.cipher.Encrypt(plaintext)
	if err != nil {
		restore()
		return err
	}

	st, err := c.db.GetSyncState()
	if err != nil {
		restore()
		return err
	}
	seq := st.LocalSeq + 1

	if err := c.putChangeset(ctx, c.db.DeviceID(), seq, blob); err != nil {
		restore()
		return err
	}
	if err := c.db.SetLocalSeq(seq); err != nil {
		return err
	}
	if err := c.putHead(ctx, seq, snapshotSeqPtr(st)); err != nil {
		return err
	}

	c.log.Info("pushed changeset",
		zap.Uint64("seq", seq),
		zap.Int("ops", len(cs.Ops)),
		zap.String("size", humanize.Bytes(uint64(len(blob)))))
	return nil
}

func (c *Coordinator) maybeSnapshot(ctx context.Context) error {
	st, err := c.db.GetSyncState()
	if err != nil {
		return err
	}

	var lastSeq *uint64
	sinceSnapshot := time.Duration(0)
	if st.LastSnapshotSeq.Valid {
		v := uint64(st.LastSnapshotSeq.Int64)
		lastSeq = &v
		if st.LastSnapshotAt.Valid {
			if at, err := time.Parse(time.RFC3339, st.LastSnapshotAt.String); err == nil {
				sinceSnapshot = time.Since(at)
			}
		}
	}

	if !shouldSnapshot(st.LocalSeq, lastSeq, sinceSnapshot, c.cfg.SnapshotChangesets, c.cfg.SnapshotInterval) {
		return nil
	}

	blob, err := createSnapshot(c.db, c.cipher)
	if err != nil {
		return err
	}
	if err := c.bucketOp(ctx, "put_snapshot", func(opCtx context.Context) error {
		return c.bucket.PutSnapshot(opCtx, blob)
	}); err != nil {
		return err
	}

	snapSeq := st.LocalSeq
	if err := c.putHead(ctx, st.LocalSeq, &snapSeq); err != nil {
		return err
	}
	if err := c.db.SetSnapshotState(snapSeq, time.Now()); err != nil {
		return err
	}

	c.log.Info("pushed snapshot",
		zap.Uint64("snapshot_seq", snapSeq),
		zap.String("size", humanize.Bytes(uint64(len(blob)))))
	return nil
}

func (c *Coordinator) maybeGC(ctx context.Context) error {
	st, err := c.db.GetSyncState()
	if err != nil {
		return err
	}
	if !st.LastSnapshotSeq.Valid || !st.LastSnapshotAt.Valid {
		return nil
	}

	at, err := time.Parse(time.RFC3339, st.LastSnapshotAt.String)
	if err != nil || time.Since(at) < c.cfg.GCGracePeriod {
		return nil
	}

	heads, err := c.listHeads(ctx)
	if err != nil {
		return err
	}

	// only changesets every device has superseded are collectable
	minSnapshotSeq := uint64(0)
	for i, h := range heads {
		var snap uint64
		if h.SnapshotSeq != nil {
			snap = *h.SnapshotSeq
		}
		if i == 0 || snap < minSnapshotSeq {
			minSnapshotSeq = snap
		}
	}
	if minSnapshotSeq == 0 {
		return nil
	}

	_, err = garbageCollect(ctx, c.bucket, minSnapshotSeq, c.log)
	return err
}

func (c *Coordinator) notify(err error) {
	if c.Notify == nil {
		return
	}
	if errors.Is(err, encryption.ErrAuthenticationFailed) || IsMembershipInvalid(err) {
		c.Notify(err)
	}
}

// bucketOp wraps a bucket call with the per-op timeout and bounded
// exponential backoff. A still-failing op surfaces as a cycle-level
// transient error; the next cycle retries.
func (c *Coordinator) bucketOp(ctx context.Context, name string, op func(context.Context) error) error {
	attempt := func() error {
		opCtx, cancel := context.WithTimeout(ctx, c.cfg.OpTimeout)
		defer cancel()
		if err := op(opCtx); err != nil {
			if IsNotFound(err) || errors.Is(err, context.Canceled) {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(attempt, policy); err != nil {
		return fmt.Errorf("bucket %s: %w", name, err)
	}
	return nil
}

func (c *Coordinator) listHeads(ctx context.Context) ([]DeviceHead, error) {
	var heads []DeviceHead
	err := c.bucketOp(ctx, "list_heads", func(opCtx context.Context) error {
		var err error
		heads, err = c.bucket.ListHeads(opCtx)
		return err
	})
	return heads, err
}

func (c *Coordinator) getChangeset(ctx context.Context, deviceID string, seq uint64) ([]byte, error) {
	var blob []byte
	err := c.bucketOp(ctx, "get_changeset", func(opCtx context.Context) error {
		var err error
		blob, err = c.bucket.GetChangeset(opCtx, deviceID, seq)
		return err
	})
	return blob, err
}

func (c *Coordinator) putChangeset(ctx context.Context, deviceID string, seq uint64, blob []byte) error {
	return c.bucketOp(ctx, "put_changeset", func(opCtx context.Context) error {
		return c.bucket.PutChangeset(opCtx, deviceID, seq, blob)
	})
}

func (c *Coordinator) putHead(ctx context.Context, seq uint64, snapshotSeq *uint64) error {
	return c.bucketOp(ctx, "put_head", func(opCtx context.Context) error {
		return c.bucket.PutHead(opCtx, c.db.DeviceID(), seq, snapshotSeq, time.Now())
	})
}

func snapshotSeqPtr(st baedb.SyncState) *uint64 {
	if !st.LastSnapshotSeq.Valid {
		return nil
	}
	v := uint64(st.LastSnapshotSeq.Int64)
	return &v
}

// LoadMembershipChain downloads, decrypts, and validates the bucket's
// membership chain. exists is false when the bucket has no entries.
func LoadMembershipChain(ctx context.Context, bucket *Bucket, cipher *encryption.Cipher) (*MembershipChain, bool, error) {
	keys, err := bucket.ListMembershipEntries(ctx)
	if err != nil {
		return nil, false, err
	}
	if len(keys) == 0 {
		return nil, false, nil
	}

	entries := make([]MembershipEntry, 0, len(keys))
	for _, key := range keys {
		blob, err := bucket.GetMembershipEntry(ctx, key)
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return nil, false, err
		}
		plaintext, err := cipher.Decrypt(blob)
		if err != nil {
			return nil, false, fmt.Errorf("membership entry %s: %w", key, err)
		}

		var entry MembershipEntry
		if err := json.Unmarshal(plaintext, &entry); err != nil {
			return nil, false, fmt.Errorf("membership entry %s: %w", key, err)
		}
		entries = append(entries, entry)
	}

	chain, err := MembershipChainFromEntries(entries)
	if err != nil {
		return nil, true, err
	}
	return chain, true, nil
}

// PublishMembershipEntry encrypts a signed entry and stores it under the
// author's key with the given per-author sequence number.
func PublishMembershipEntry(ctx context.Context, bucket *Bucket, cipher *encryption.Cipher, entry MembershipEntry, seq uint64) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	blob, err := cipher.Encrypt(data)
	if err != nil {
		return err
	}
	return bucket.PutMembershipEntry(ctx, entry.AuthorPubKey, seq, blob)
}
