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
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dolthub/fslock"
)

// LocalBlobstore stores blobs as files under a root directory. Keys map to
// relative paths; a lock file serializes check-and-put sequences.
type LocalBlobstore struct {
	RootDir string
}

var _ Blobstore = (*LocalBlobstore)(nil)

// NewLocalBlobstore creates a LocalBlobstore rooted at dir.
func NewLocalBlobstore(dir string) *LocalBlobstore {
	return &LocalBlobstore{dir}
}

// Path returns the root directory.
func (bs *LocalBlobstore) Path() string {
	return bs.RootDir
}

// Exists returns true if a file exists for the given key.
func (bs *LocalBlobstore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(bs.filePath(key))
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

// Get retrieves an io.ReadCloser for the portion of a blob specified by br.
func (bs *LocalBlobstore) Get(ctx context.Context, key string, br BlobRange) (io.ReadCloser, string, error) {
	path := bs.filePath(key)
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, "", NotFound{Key: key}
	} else if err != nil {
		return nil, "", err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}

	ver := fileVersion(info)
	if br.isAllRange() {
		return f, ver, nil
	}

	offset, length := br.positiveRange(info.Size())
	if _, err = f.Seek(offset, io.SeekStart); err != nil {
		f.Close()
		return nil, "", err
	}
	return struct {
		io.Reader
		io.Closer
	}{io.LimitReader(f, length), f}, ver, nil
}

// Put writes a blob atomically via a temp file and rename.
func (bs *LocalBlobstore) Put(ctx context.Context, key string, totalSize int64, reader io.Reader) (string, error) {
	path := bs.filePath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".put-*")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()

	if _, err = io.Copy(tmp, reader); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", err
	}
	if err = tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", err
	}
	if err = os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", err
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	return fileVersion(info), nil
}

// CheckAndPut writes a blob if the file's current version matches
// expectedVersion, under the store's lock file.
func (bs *LocalBlobstore) CheckAndPut(ctx context.Context, expectedVersion, key string, totalSize int64, reader io.Reader) (string, error) {
	if err := os.MkdirAll(bs.RootDir, 0755); err != nil {
		return "", err
	}

	lck := fslock.New(filepath.Join(bs.RootDir, ".bslock"))
	if err := lck.Lock(); err != nil {
		return "", err
	}
	defer lck.Unlock()

	var current string
	info, err := os.Stat(bs.filePath(key))
	if err == nil {
		current = fileVersion(info)
	} else if !os.IsNotExist(err) {
		return "", err
	}

	if current != expectedVersion {
		return "", CheckAndPutError{Key: key, ExpectedVersion: expectedVersion, ActualVersion: current}
	}
	return bs.Put(ctx, key, totalSize, reader)
}

// Delete removes the file for a key. Missing keys are ignored.
func (bs *LocalBlobstore) Delete(ctx context.Context, key string) error {
	err := os.Remove(bs.filePath(key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// List walks the root directory returning all keys with the given prefix.
func (bs *LocalBlobstore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.Walk(bs.RootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, err := filepath.Rel(bs.RootDir, path)
		if err != nil {
			return err
		}
		if strings.HasPrefix(info.Name(), ".") {
			return nil
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if os.IsNotExist(err) {
		return nil, nil
	}
	return keys, err
}

func (bs *LocalBlobstore) filePath(key string) string {
	return filepath.Join(bs.RootDir, filepath.FromSlash(key))
}

func fileVersion(info os.FileInfo) string {
	return fmt.Sprintf("%x-%x", info.ModTime().UnixNano(), info.Size())
}
