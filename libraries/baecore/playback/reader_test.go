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

package playback

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/baebaebaebaebae/bae/go/libraries/baecore/encryption"
	"github.com/baebaebaebaebae/bae/go/store/blobstore"
)

// recordingBlobstore counts full and ranged gets so tests can assert the
// seek path never downloads more than it needs.
type recordingBlobstore struct {
	blobstore.Blobstore

	mu         sync.Mutex
	fullGets   int
	rangeGets  int
	rangeSizes []int64
}

func (rbs *recordingBlobstore) Get(ctx context.Context, key string, br blobstore.BlobRange) (io.ReadCloser, string, error) {
	rbs.mu.Lock()
	if br == blobstore.AllRange {
		rbs.fullGets++
	} else {
		rbs.rangeGets++
	}
	rbs.mu.Unlock()

	rc, ver, err := rbs.Blobstore.Get(ctx, key, br)
	if err != nil || br == blobstore.AllRange {
		return rc, ver, err
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return nil, "", err
	}
	rbs.mu.Lock()
	rbs.rangeSizes = append(rbs.rangeSizes, int64(len(data)))
	rbs.mu.Unlock()
	return io.NopCloser(bytes.NewReader(data)), ver, nil
}

func int64Ptr(v int64) *int64 {
	return &v
}

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

func readAll(t *testing.T, buf *SparseBuffer) []byte {
	t.Helper()
	data, err := io.ReadAll(buf)
	require.NoError(t, err)
	return data
}

func patternBytes(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 247)
	}
	return b
}

func TestLocalFileFullRead(t *testing.T) {
	content := patternBytes(200_000)
	path := filepath.Join(t.TempDir(), "track.flac")
	require.NoError(t, os.WriteFile(path, content, 0644))

	buf := NewSparseBuffer()
	NewLocalReader(ReadConfig{Path: path}, zaptest.NewLogger(t)).Start(context.Background(), buf)

	assert.Equal(t, content, readAll(t, buf))
}

func TestLocalFileByteRange(t *testing.T) {
	content := patternBytes(100_000)
	path := filepath.Join(t.TempDir(), "track.flac")
	require.NoError(t, os.WriteFile(path, content, 0644))

	buf := NewSparseBuffer()
	cfg := ReadConfig{Path: path, StartByte: int64Ptr(1000), EndByte: int64Ptr(51000)}
	NewLocalReader(cfg, zaptest.NewLogger(t)).Start(context.Background(), buf)

	assert.Equal(t, content[1000:51000], readAll(t, buf))
}

func TestLocalFileHeadersPrepended(t *testing.T) {
	content := patternBytes(10_000)
	path := filepath.Join(t.TempDir(), "track.flac")
	require.NoError(t, os.WriteFile(path, content, 0644))

	headers := []byte("fLaC-headers")
	buf := NewSparseBuffer()
	cfg := ReadConfig{Path: path, FLACHeaders: headers, StartByte: int64Ptr(500), EndByte: int64Ptr(600)}
	NewLocalReader(cfg, zaptest.NewLogger(t)).Start(context.Background(), buf)

	want := append(append([]byte(nil), headers...), content[500:600]...)
	assert.Equal(t, want, readAll(t, buf))
}

func TestLocalFileMissingCancelsBuffer(t *testing.T) {
	buf := NewSparseBuffer()
	NewLocalReader(ReadConfig{Path: "/does/not/exist.flac"}, zaptest.NewLogger(t)).Start(context.Background(), buf)

	_, err := io.ReadAll(buf)
	assert.ErrorIs(t, err, ErrCancelled)
}

func TestCloudPlainBoundedUsesOneRange(t *testing.T) {
	content := patternBytes(300_000)
	rbs := &recordingBlobstore{Blobstore: blobstore.NewInMemoryBlobstore("")}
	_, err := blobstore.PutBytes(context.Background(), rbs.Blobstore, "track.flac", content)
	require.NoError(t, err)

	buf := NewSparseBuffer()
	cfg := ReadConfig{Path: "track.flac", StartByte: int64Ptr(10_000), EndByte: int64Ptr(20_000)}
	NewCloudReader(cfg, rbs, nil, nil, zaptest.NewLogger(t)).Start(context.Background(), buf)

	assert.Equal(t, content[10_000:20_000], readAll(t, buf))
	assert.Equal(t, 1, rbs.rangeGets)
	assert.Zero(t, rbs.fullGets)
}

func TestCloudEncryptedFullFile(t *testing.T) {
	cipher := testCipher(t)
	content := patternBytes(3 * encryption.ChunkSize)
	encrypted, err := cipher.Encrypt(content)
	require.NoError(t, err)

	bs := blobstore.NewInMemoryBlobstore("")
	_, err = blobstore.PutBytes(context.Background(), bs, "track.enc", encrypted)
	require.NoError(t, err)

	buf := NewSparseBuffer()
	NewCloudReader(ReadConfig{Path: "track.enc"}, bs, cipher, nil, zaptest.NewLogger(t)).
		Start(context.Background(), buf)

	assert.Equal(t, content, readAll(t, buf))
}

// S5 from the conformance scenarios: a bounded encrypted seek with a cached
// nonce issues exactly one range request no larger than one encrypted chunk
// and never downloads the full file.
func TestEncryptedSeekUsesMinimalRange(t *testing.T) {
	cipher := testCipher(t)
	content := patternBytes(10 * encryption.ChunkSize)
	encrypted, err := cipher.Encrypt(content)
	require.NoError(t, err)
	nonce := encrypted[:encryption.NonceSize]

	rbs := &recordingBlobstore{Blobstore: blobstore.NewInMemoryBlobstore("")}
	_, err = blobstore.PutBytes(context.Background(), rbs.Blobstore, "track.enc", encrypted)
	require.NoError(t, err)

	// plaintext window [524288, 524788): 500 bytes inside chunk 8
	buf := NewSparseBuffer()
	cfg := ReadConfig{Path: "track.enc", StartByte: int64Ptr(524_288), EndByte: int64Ptr(524_788)}
	NewCloudReader(cfg, rbs, cipher, nonce, zaptest.NewLogger(t)).Start(context.Background(), buf)

	data := readAll(t, buf)
	assert.Equal(t, content[524_288:524_788], data)
	assert.Len(t, data, 500)

	assert.Equal(t, 1, rbs.rangeGets, "seek must issue exactly one range request")
	require.Len(t, rbs.rangeSizes, 1)
	assert.LessOrEqual(t, rbs.rangeSizes[0], int64(encryption.EncryptedChunkSize),
		"seek range must not exceed one encrypted chunk")
	assert.Zero(t, rbs.fullGets, "seek must never download the full file")
}

func TestEncryptedSeekWithoutNonceFallsBackToFull(t *testing.T) {
	cipher := testCipher(t)
	content := patternBytes(2 * encryption.ChunkSize)
	encrypted, err := cipher.Encrypt(content)
	require.NoError(t, err)

	rbs := &recordingBlobstore{Blobstore: blobstore.NewInMemoryBlobstore("")}
	_, err = blobstore.PutBytes(context.Background(), rbs.Blobstore, "track.enc", encrypted)
	require.NoError(t, err)

	buf := NewSparseBuffer()
	cfg := ReadConfig{Path: "track.enc", StartByte: int64Ptr(100), EndByte: int64Ptr(200)}
	NewCloudReader(cfg, rbs, cipher, nil, zaptest.NewLogger(t)).Start(context.Background(), buf)

	assert.Equal(t, content[100:200], readAll(t, buf))
	assert.Equal(t, 1, rbs.fullGets)
	assert.Zero(t, rbs.rangeGets)
}

func TestEncryptedSeekTamperedWindowCancels(t *testing.T) {
	cipher := testCipher(t)
	content := patternBytes(4 * encryption.ChunkSize)
	encrypted, err := cipher.Encrypt(content)
	require.NoError(t, err)
	nonce := encrypted[:encryption.NonceSize]

	// corrupt a byte inside chunk 2
	encrypted[encryption.NonceSize+2*encryption.EncryptedChunkSize+10] ^= 0x01

	bs := blobstore.NewInMemoryBlobstore("")
	_, err = blobstore.PutBytes(context.Background(), bs, "track.enc", encrypted)
	require.NoError(t, err)

	buf := NewSparseBuffer()
	start, end := int64(2*encryption.ChunkSize+5), int64(2*encryption.ChunkSize+105)
	cfg := ReadConfig{Path: "track.enc", StartByte: int64Ptr(start), EndByte: int64Ptr(end)}
	NewCloudReader(cfg, bs, cipher, nonce, zaptest.NewLogger(t)).Start(context.Background(), buf)

	_, err = io.ReadAll(buf)
	assert.ErrorIs(t, err, ErrCancelled)
}
