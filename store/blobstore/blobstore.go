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

// Package blobstore provides a key-addressed byte store over interchangeable
// backends: in-memory, local filesystem, S3, GCS, and Dropbox. Blobs are
// opaque; range reads let callers fetch only the encrypted chunks they need.
package blobstore

import (
	"bytes"
	"context"
	"io"
)

// Blobstore is the capability set every cloud-home backend implements.
// Writes to distinct keys are independent; a plain Put on an existing key is
// last-write-wins at the key level.
type Blobstore interface {
	// Path returns a description of where this blobstore stores its data.
	Path() string

	// Exists reports whether the given key holds a blob.
	Exists(ctx context.Context, key string) (bool, error)

	// Get returns a reader over the requested byte range of the blob along
	// with the blob's current version. A NotFound error is returned for
	// missing keys.
	Get(ctx context.Context, key string, br BlobRange) (io.ReadCloser, string, error)

	// Put writes a blob and returns its new version.
	Put(ctx context.Context, key string, totalSize int64, reader io.Reader) (string, error)

	// CheckAndPut writes a blob only if its current version matches
	// expectedVersion ("" means the key must not exist). On mismatch a
	// CheckAndPutError is returned.
	CheckAndPut(ctx context.Context, expectedVersion, key string, totalSize int64, reader io.Reader) (string, error)

	// Delete removes a blob. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns all keys with the given prefix, in unspecified order.
	List(ctx context.Context, prefix string) ([]string, error)
}

// GetBytes is a utility method that calls bs.Get and reads the entire
// resulting range into a []byte.
func GetBytes(ctx context.Context, bs Blobstore, key string, br BlobRange) ([]byte, string, error) {
	rc, ver, err := bs.Get(ctx, key, br)
	if err != nil {
		return nil, "", err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, "", err
	}
	return data, ver, nil
}

// PutBytes is a utility method that calls bs.Put by wrapping the supplied
// []byte in an io.Reader.
func PutBytes(ctx context.Context, bs Blobstore, key string, data []byte) (string, error) {
	return bs.Put(ctx, key, int64(len(data)), bytes.NewReader(data))
}
