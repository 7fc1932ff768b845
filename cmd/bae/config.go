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

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/oauth2"

	"github.com/baebaebaebaebae/bae/go/libraries/baecore/keystore"
	"github.com/baebaebaebaebae/bae/go/store/blobstore"
)

// Config is the daemon configuration, read from bae.toml in the library
// directory.
type Config struct {
	// LibraryDir holds the database, creds, and config. Defaults to
	// ~/.bae.
	LibraryDir string `toml:"library_dir"`

	Sync   SyncConfig   `toml:"sync"`
	Bucket BucketConfig `toml:"bucket"`
}

// SyncConfig tunes the background coordinator.
type SyncConfig struct {
	IntervalSeconds  int `toml:"interval_seconds"`
	OpTimeoutSeconds int `toml:"op_timeout_seconds"`
}

// BucketConfig selects and parameterizes the cloud-home backend.
type BucketConfig struct {
	// Backend is one of "local", "s3", "gcs", "dropbox".
	Backend string `toml:"backend"`

	// Path is the root directory for the local backend.
	Path string `toml:"path"`

	// Bucket and Prefix locate the S3/GCS bucket.
	Bucket string `toml:"bucket"`
	Prefix string `toml:"prefix"`

	// Folder is the Dropbox app folder; ClientID and ClientSecret are the
	// app's OAuth client credentials. The account token comes from the
	// keystore's token slots.
	Folder       string `toml:"folder"`
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
}

// LoadConfig reads bae.toml from the library dir, tolerating a missing
// file.
func LoadConfig(libraryDir string) (Config, error) {
	cfg := Config{LibraryDir: libraryDir}

	path := filepath.Join(libraryDir, "bae.toml")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("bad config %s: %w", path, err)
	}
	if cfg.LibraryDir == "" {
		cfg.LibraryDir = libraryDir
	}
	return cfg, nil
}

// SyncInterval returns the configured cycle interval.
func (c Config) SyncInterval() time.Duration {
	if c.Sync.IntervalSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.Sync.IntervalSeconds) * time.Second
}

// OpTimeout returns the configured per-op bucket timeout.
func (c Config) OpTimeout() time.Duration {
	if c.Sync.OpTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Sync.OpTimeoutSeconds) * time.Second
}

// OpenBlobstore constructs the configured bucket backend.
func (c Config) OpenBlobstore(ctx context.Context, keys *keystore.KeyStore) (blobstore.Blobstore, error) {
	switch c.Bucket.Backend {
	case "", "local":
		path := c.Bucket.Path
		if path == "" {
			path = filepath.Join(c.LibraryDir, "bucket")
		}
		return blobstore.NewLocalBlobstore(path), nil

	case "s3":
		if c.Bucket.Bucket == "" {
			return nil, fmt.Errorf("bucket.bucket is required for the s3 backend")
		}
		return blobstore.NewS3BlobstoreFromEnv(ctx, c.Bucket.Bucket, c.Bucket.Prefix)

	case "gcs":
		if c.Bucket.Bucket == "" {
			return nil, fmt.Errorf("bucket.bucket is required for the gcs backend")
		}
		client, err := newGCSClient(ctx)
		if err != nil {
			return nil, err
		}
		return blobstore.NewGCSBlobstore(client.Bucket(c.Bucket.Bucket), c.Bucket.Bucket, c.Bucket.Prefix), nil

	case "dropbox":
		tok, err := keys.LoadToken("dropbox")
		if err != nil {
			return nil, fmt.Errorf("dropbox backend needs a linked account: %w", err)
		}
		conf := &oauth2.Config{
			ClientID:     c.Bucket.ClientID,
			ClientSecret: c.Bucket.ClientSecret,
			Endpoint:     blobstore.DropboxEndpoints(),
		}
		return blobstore.NewDropboxBlobstore(conf, tok, keys, c.Bucket.Folder), nil

	default:
		return nil, fmt.Errorf("unknown bucket backend %q", c.Bucket.Backend)
	}
}
