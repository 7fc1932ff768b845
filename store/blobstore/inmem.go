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

package blobstore

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// InMemoryBlobstore is a holds blobs in memory. Used in tests and as the
// reference implementation of the Blobstore contract.
type InMemoryBlobstore struct {
	mu       sync.RWMutex
	path     string
	blobs    map[string][]byte
	versions map[string]string
}

var _ Blobstore = (*InMemoryBlobstore)(nil)

// NewInMemoryBlobstore creates an instance of an InMemoryBlobstore.
func NewInMemoryBlobstore(path string) *InMemoryBlobstore {
	return &InMemoryBlobstore{
		path:     path,
		blobs:    make(map[string][]byte),
		versions: make(map[string]string),
	}
}

// Path returns the instance path.
func (bs *InMemoryBlobstore) Path() string {
	return bs.path
}

// Exists returns true if a blob exists for the given key.
func (bs *InMemoryBlobstore) Exists(ctx context.Context, key string) (bool, error) {
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	_, ok := bs.blobs[key]
	return ok, nil
}

// Get retrieves an io.ReadCloser for the portion of a blob specified by br.
func (bs *InMemoryBlobstore) Get(ctx context.Context, key string, br BlobRange) (io.ReadCloser, string, error) {
	bs.mu.RLock()
	defer bs.mu.RUnlock()

	data, ok := bs.blobs[key]
	if !ok {
		return nil, "", NotFound{Key: key}
	}

	offset, length := br.positiveRange(int64(len(data)))
	return io.NopCloser(bytes.NewReader(data[offset : offset+length])), bs.versions[key], nil
}

// Put sets the blob and the version for a key.
func (bs *InMemoryBlobstore) Put(ctx context.Context, key string, totalSize int64, reader io.Reader) (string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}

	bs.mu.Lock()
	defer bs.mu.Unlock()
	return bs.store(key, data), nil
}

// CheckAndPut sets the blob and version for a key if the existing version
// matches the expected version.
func (bs *InMemoryBlobstore) CheckAndPut(ctx context.Context, expectedVersion, key string, totalSize int64, reader io.Reader) (string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}

	bs.mu.Lock()
	defer bs.mu.Unlock()

	if bs.versions[key] != expectedVersion {
		return "", CheckAndPutError{Key: key, ExpectedVersion: expectedVersion, ActualVersion: bs.versions[key]}
	}
	return bs.store(key, data), nil
}

// Delete removes the blob for a key. Missing keys are ignored.
func (bs *InMemoryBlobstore) Delete(ctx context.Context, key string) error {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	delete(bs.blobs, key)
	delete(bs.versions, key)
	return nil
}

// List returns all keys with the given prefix.
func (bs *InMemoryBlobstore) List(ctx context.Context, prefix string) ([]string, error) {
	bs.mu.RLock()
	defer bs.mu.RUnlock()

	var keys []string
	for k := range bs.blobs {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (bs *InMemoryBlobstore) store(key string, data []byte) string {
	ver := uuid.New().String()
	bs.blobs[key] = data
	bs.versions[key] = ver
	return ver
}
