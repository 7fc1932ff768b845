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
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// GCSBlobstore stores blobs in a Google Cloud Storage bucket. Object
// generations serve as versions; preconditions give CheckAndPut semantics.
type GCSBlobstore struct {
	bucket     *storage.BucketHandle
	bucketName string
	prefix     string
}

var _ Blobstore = (*GCSBlobstore)(nil)

// NewGCSBlobstore creates a GCSBlobstore over an existing bucket handle.
func NewGCSBlobstore(bucket *storage.BucketHandle, bucketName, prefix string) *GCSBlobstore {
	return &GCSBlobstore{bucket: bucket, bucketName: bucketName, prefix: normalizePrefix(prefix)}
}

// Path returns the bucket and prefix.
func (bs *GCSBlobstore) Path() string {
	return bs.bucketName + "/" + bs.prefix
}

// Exists returns true if an object exists for the given key.
func (bs *GCSBlobstore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := bs.bucket.Object(bs.prefix + key).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	return err == nil, err
}

// Get retrieves an io.ReadCloser for the portion of an object specified by
// br via a single range read. A negative offset is accepted only with a
// length of 0 (to the end); GCS rejects it combined with a length.
func (bs *GCSBlobstore) Get(ctx context.Context, key string, br BlobRange) (io.ReadCloser, string, error) {
	obj := bs.bucket.Object(bs.prefix + key)

	offset, length := br.offset, br.length
	if length == 0 {
		length = -1
	}
	reader, err := obj.NewRangeReader(ctx, offset, length)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, "", NotFound{Key: key}
	} else if err != nil {
		return nil, "", err
	}

	return reader, strconv.FormatInt(reader.Attrs.Generation, 10), nil
}

// Put uploads an object and returns its new generation.
func (bs *GCSBlobstore) Put(ctx context.Context, key string, totalSize int64, reader io.Reader) (string, error) {
	return bs.write(ctx, bs.bucket.Object(bs.prefix+key), reader)
}

// CheckAndPut uploads with a generation-match precondition.
func (bs *GCSBlobstore) CheckAndPut(ctx context.Context, expectedVersion, key string, totalSize int64, reader io.Reader) (string, error) {
	obj := bs.bucket.Object(bs.prefix + key)

	if expectedVersion == "" {
		obj = obj.If(storage.Conditions{DoesNotExist: true})
	} else {
		gen, err := strconv.ParseInt(expectedVersion, 10, 64)
		if err != nil {
			return "", CheckAndPutError{Key: key, ExpectedVersion: expectedVersion}
		}
		obj = obj.If(storage.Conditions{GenerationMatch: gen})
	}

	ver, err := bs.write(ctx, obj, reader)
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
			return "", CheckAndPutError{Key: key, ExpectedVersion: expectedVersion}
		}
		return "", err
	}
	return ver, nil
}

// Delete removes an object. Missing objects are ignored.
func (bs *GCSBlobstore) Delete(ctx context.Context, key string) error {
	err := bs.bucket.Object(bs.prefix + key).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil
	}
	return err
}

// List returns all keys with the given prefix.
func (bs *GCSBlobstore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	it := bs.bucket.Objects(ctx, &storage.Query{Prefix: bs.prefix + prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		} else if err != nil {
			return nil, err
		}
		keys = append(keys, strings.TrimPrefix(attrs.Name, bs.prefix))
	}
	return keys, nil
}

func (bs *GCSBlobstore) write(ctx context.Context, obj *storage.ObjectHandle, reader io.Reader) (string, error) {
	w := obj.NewWriter(ctx)
	if _, err := io.Copy(w, reader); err != nil {
		w.Close()
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return strconv.FormatInt(w.Attrs().Generation, 10), nil
}

func normalizePrefix(prefix string) string {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return strings.TrimPrefix(prefix, "/")
}
