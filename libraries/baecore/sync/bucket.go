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

// Package sync replicates the local library database between devices
// through encrypted blobs in a shared object store, with last-writer-wins
// conflict resolution, snapshots, garbage collection, and a signed
// membership chain governing who may write.
package sync

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/baebaebaebaebae/bae/go/store/blobstore"
)

// Cloud-home key layout. The bucket itself is dumb; every piece of shared
// state lives under one of these keys.
const (
	headPrefix       = "head/"
	changesPrefix    = "changes/"
	snapshotKey      = "snapshot.db.enc"
	membershipPrefix = "membership/"
	imagesPrefix     = "images/"
	schemaVersionKey = "schema_version"
)

// DeviceHead is the per-device metadata record in the bucket. Unknown
// fields in stored heads are tolerated.
type DeviceHead struct {
	DeviceID    string  `json:"-"`
	Seq         uint64  `json:"seq"`
	SnapshotSeq *uint64 `json:"snapshot_seq,omitempty"`
	LastSync    string  `json:"last_sync,omitempty"`
}

// Bucket is the typed client for the cloud-home layout over any blobstore
// backend. All blobs it reads and writes are opaque; encryption happens in
// the caller.
type Bucket struct {
	bs blobstore.Blobstore
}

// NewBucket returns a Bucket over the given backend.
func NewBucket(bs blobstore.Blobstore) *Bucket {
	return &Bucket{bs: bs}
}

// IsNotFound reports whether an error from any bucket operation means the
// underlying key is missing.
func IsNotFound(err error) bool {
	return blobstore.IsNotFoundError(err)
}

// ListHeads returns every device head in the bucket.
func (b *Bucket) ListHeads(ctx context.Context) ([]DeviceHead, error) {
	keys, err := b.bs.List(ctx, headPrefix)
	if err != nil {
		return nil, err
	}

	heads := make([]DeviceHead, 0, len(keys))
	for _, key := range keys {
		deviceID := strings.TrimSuffix(strings.TrimPrefix(key, headPrefix), ".json")

		data, _, err := blobstore.GetBytes(ctx, b.bs, key, blobstore.AllRange)
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return nil, err
		}

		var head DeviceHead
		if err := json.Unmarshal(data, &head); err != nil {
			return nil, fmt.Errorf("corrupt head for device %s: %w", deviceID, err)
		}
		head.DeviceID = deviceID
		heads = append(heads, head)
	}

	sort.Slice(heads, func(i, j int) bool { return heads[i].DeviceID < heads[j].DeviceID })
	return heads, nil
}

// PutHead writes this device's head record. Head writes are last-write-wins
// at the key level; each device only ever writes its own key with an
// increasing seq.
func (b *Bucket) PutHead(ctx context.Context, deviceID string, seq uint64, snapshotSeq *uint64, at time.Time) error {
	data, err := json.Marshal(DeviceHead{
		Seq:         seq,
		SnapshotSeq: snapshotSeq,
		LastSync:    at.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	_, err = blobstore.PutBytes(ctx, b.bs, headPrefix+deviceID+".json", data)
	return err
}

// ListChangesets returns the stored changeset seqs for a device in
// ascending order.
func (b *Bucket) ListChangesets(ctx context.Context, deviceID string) ([]uint64, error) {
	prefix := changesPrefix + deviceID + "/"
	keys, err := b.bs.List(ctx, prefix)
	if err != nil {
		return nil, err
	}

	seqs := make([]uint64, 0, len(keys))
	for _, key := range keys {
		name := strings.TrimSuffix(strings.TrimPrefix(key, prefix), ".enc")
		seq, err := strconv.ParseUint(name, 10, 64)
		if err != nil {
			continue
		}
		seqs = append(seqs, seq)
	}

	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs, nil
}

// GetChangeset downloads one encrypted changeset blob.
func (b *Bucket) GetChangeset(ctx context.Context, deviceID string, seq uint64) ([]byte, error) {
	data, _, err := blobstore.GetBytes(ctx, b.bs, changesetKey(deviceID, seq), blobstore.AllRange)
	return data, err
}

// PutChangeset uploads one encrypted changeset blob.
func (b *Bucket) PutChangeset(ctx context.Context, deviceID string, seq uint64, data []byte) error {
	_, err := blobstore.PutBytes(ctx, b.bs, changesetKey(deviceID, seq), data)
	return err
}

// DeleteChangeset removes one changeset blob during garbage collection.
func (b *Bucket) DeleteChangeset(ctx context.Context, deviceID string, seq uint64) error {
	return b.bs.Delete(ctx, changesetKey(deviceID, seq))
}

// GetSnapshot downloads the encrypted database snapshot.
func (b *Bucket) GetSnapshot(ctx context.Context) ([]byte, error) {
	data, _, err := blobstore.GetBytes(ctx, b.bs, snapshotKey, blobstore.AllRange)
	return data, err
}

// PutSnapshot uploads the encrypted database snapshot, replacing any
// previous one.
func (b *Bucket) PutSnapshot(ctx context.Context, data []byte) error {
	_, err := blobstore.PutBytes(ctx, b.bs, snapshotKey, data)
	return err
}

// GetMinSchemaVersion reads the minimum schema version allowed to write to
// this bucket. ok is false when no version has been set.
func (b *Bucket) GetMinSchemaVersion(ctx context.Context) (version int, ok bool, err error) {
	data, _, err := blobstore.GetBytes(ctx, b.bs, schemaVersionKey, blobstore.AllRange)
	if err != nil {
		if IsNotFound(err) {
			return 0, false, nil
		}
		return 0, false, err
	}

	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false, fmt.Errorf("corrupt schema_version: %w", err)
	}
	return v, true, nil
}

// SetMinSchemaVersion writes the bucket's minimum schema version.
func (b *Bucket) SetMinSchemaVersion(ctx context.Context, version int) error {
	_, err := blobstore.PutBytes(ctx, b.bs, schemaVersionKey, []byte(strconv.Itoa(version)))
	return err
}

// UploadImage stores an encrypted image blob, content-addressed by id.
func (b *Bucket) UploadImage(ctx context.Context, imageID string, data []byte) error {
	_, err := blobstore.PutBytes(ctx, b.bs, imagesPrefix+imageID, data)
	return err
}

// DownloadImage fetches an encrypted image blob.
func (b *Bucket) DownloadImage(ctx context.Context, imageID string) ([]byte, error) {
	data, _, err := blobstore.GetBytes(ctx, b.bs, imagesPrefix+imageID, blobstore.AllRange)
	return data, err
}

// ListMembershipEntries returns the keys of every membership entry blob,
// grouped under membership/{author_pubkey}/{seq}.enc.
func (b *Bucket) ListMembershipEntries(ctx context.Context) ([]string, error) {
	return b.bs.List(ctx, membershipPrefix)
}

// GetMembershipEntry downloads one encrypted membership entry by key.
func (b *Bucket) GetMembershipEntry(ctx context.Context, key string) ([]byte, error) {
	data, _, err := blobstore.GetBytes(ctx, b.bs, key, blobstore.AllRange)
	return data, err
}

// PutMembershipEntry uploads one encrypted membership entry.
func (b *Bucket) PutMembershipEntry(ctx context.Context, authorPubKeyHex string, seq uint64, data []byte) error {
	key := fmt.Sprintf("%s%s/%d.enc", membershipPrefix, authorPubKeyHex, seq)
	_, err := blobstore.PutBytes(ctx, b.bs, key, data)
	return err
}

func changesetKey(deviceID string, seq uint64) string {
	return fmt.Sprintf("%s%s/%d.enc", changesPrefix, deviceID, seq)
}
