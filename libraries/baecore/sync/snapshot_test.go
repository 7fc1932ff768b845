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
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/baebaebaebaebae/bae/go/libraries/baecore/encryption"
	"github.com/baebaebaebaebae/bae/go/store/blobstore"
)

func testCipher(t *testing.T) *encryption.Cipher {
	t.Helper()
	key := make([]byte, encryption.KeySize)
	for i := range key {
		key[i] = byte(i)
	}
	c, err := encryption.NewCipher(key)
	require.NoError(t, err)
	return c
}

func uintPtr(v uint64) *uint64 {
	return &v
}

func TestShouldSnapshot(t *testing.T) {
	tests := []struct {
		name     string
		localSeq uint64
		lastSeq  *uint64
		since    time.Duration
		want     bool
	}{
		// S6: never snapshotted, nothing pushed yet
		{"fresh device no changesets", 0, nil, 0, false},
		{"fresh device one changeset", 1, nil, 0, true},
		{"below thresholds", 50, uintPtr(10), time.Hour, false},
		{"changeset threshold hit", 150, uintPtr(50), time.Hour, true},
		{"time threshold with new changesets", 11, uintPtr(10), 25 * time.Hour, true},
		{"time threshold without new changesets", 10, uintPtr(10), 25 * time.Hour, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := shouldSnapshot(tt.localSeq, tt.lastSeq, tt.since, defaultSnapshotChangesets, defaultSnapshotInterval)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGarbageCollect(t *testing.T) {
	ctx := context.Background()
	bucket := NewBucket(blobstore.NewInMemoryBlobstore(""))

	for _, put := range []struct {
		device string
		seq    uint64
	}{
		{"dev1", 1}, {"dev1", 2}, {"dev1", 3},
		{"dev2", 1}, {"dev2", 4},
	} {
		require.NoError(t, bucket.PutChangeset(ctx, put.device, put.seq, []byte("blob")))
	}
	require.NoError(t, bucket.PutHead(ctx, "dev1", 3, uintPtr(3), time.Now()))
	require.NoError(t, bucket.PutHead(ctx, "dev2", 4, uintPtr(2), time.Now()))

	res, err := garbageCollect(ctx, bucket, 2, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Deleted)
	assert.Zero(t, res.Errors)

	seqs, err := bucket.ListChangesets(ctx, "dev1")
	require.NoError(t, err)
	assert.Equal(t, []uint64{3}, seqs)

	seqs, err = bucket.ListChangesets(ctx, "dev2")
	require.NoError(t, err)
	assert.Equal(t, []uint64{4}, seqs)
}

func TestBootstrapFromSnapshot(t *testing.T) {
	ctx := context.Background()
	cipher := testCipher(t)
	bucket := NewBucket(blobstore.NewInMemoryBlobstore(""))
	log := zaptest.NewLogger(t)

	// source device with some library state
	src := openTestDB(t)
	require.NoError(t, src.InsertRow("artists", artistRow("a1", "Miles Davis", "0000000001000-0000-dev1")))
	require.NoError(t, src.SetLocalSeq(5))

	blob, err := createSnapshot(src, cipher)
	require.NoError(t, err)
	require.NoError(t, bucket.PutSnapshot(ctx, blob))
	require.NoError(t, bucket.PutHead(ctx, src.DeviceID(), 5, uintPtr(5), time.Now()))

	// fresh device bootstraps
	path := filepath.Join(t.TempDir(), "library.db")
	db, err := Bootstrap(ctx, bucket, cipher, path, log)
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, "Miles Davis", queryText(t, db, "SELECT name FROM artists WHERE id = 'a1'"))

	// identity is reset, not inherited from the exporting device
	assert.NotEqual(t, src.DeviceID(), db.DeviceID())
	st, err := db.GetSyncState()
	require.NoError(t, err)
	assert.Zero(t, st.LocalSeq)

	// cursors point at the snapshot floor for the exporting device
	cursor, err := db.Cursor(src.DeviceID())
	require.NoError(t, err)
	assert.Equal(t, uint64(5), cursor)
}

func TestBootstrapNoSnapshot(t *testing.T) {
	bucket := NewBucket(blobstore.NewInMemoryBlobstore(""))
	_, err := Bootstrap(context.Background(), bucket, testCipher(t), filepath.Join(t.TempDir(), "library.db"), zaptest.NewLogger(t))
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestBootstrapWrongKey(t *testing.T) {
	ctx := context.Background()
	bucket := NewBucket(blobstore.NewInMemoryBlobstore(""))

	src := openTestDB(t)
	blob, err := createSnapshot(src, testCipher(t))
	require.NoError(t, err)
	require.NoError(t, bucket.PutSnapshot(ctx, blob))

	other, err := encryption.NewCipher(make([]byte, encryption.KeySize))
	require.NoError(t, err)
	_, err = Bootstrap(ctx, bucket, other, filepath.Join(t.TempDir(), "library.db"), zaptest.NewLogger(t))
	assert.ErrorIs(t, err, encryption.ErrAuthenticationFailed)
}
