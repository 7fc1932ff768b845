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

// Command bae runs the library sync daemon: it keeps the local database
// convergent with every other device sharing the cloud home.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"cloud.google.com/go/storage"
	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"

	"github.com/baebaebaebaebae/bae/go/libraries/baecore/baedb"
	"github.com/baebaebaebaebae/bae/go/libraries/baecore/encryption"
	"github.com/baebaebaebaebae/bae/go/libraries/baecore/keystore"
	baesync "github.com/baebaebaebaebae/bae/go/libraries/baecore/sync"
)

func newGCSClient(ctx context.Context) (*storage.Client, error) {
	return storage.NewClient(ctx)
}

func main() {
	defaultDir := ""
	if home, err := os.UserHomeDir(); err == nil {
		defaultDir = filepath.Join(home, ".bae")
	}

	libraryDir := flag.String("library", defaultDir, "library directory")
	linkPayload := flag.String("join", "", "device link payload to join an existing library")
	verbose := flag.Bool("verbose", false, "debug logging")
	flag.Parse()

	if err := run(*libraryDir, *linkPayload, *verbose); err != nil {
		logrus.Fatal(err)
	}
}

func run(libraryDir, linkPayload string, verbose bool) error {
	cfg, err := LoadConfig(libraryDir)
	if err != nil {
		return err
	}

	log, err := newLogger(verbose)
	if err != nil {
		return err
	}
	defer log.Sync()

	keys, err := keystore.NewKeyStore(cfg.LibraryDir)
	if err != nil {
		return err
	}
	defer keys.Close()

	if linkPayload != "" {
		if err := joinLibrary(keys, linkPayload); err != nil {
			return err
		}
		logrus.Info("device linked")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bs, err := cfg.OpenBlobstore(ctx, keys)
	if err != nil {
		return err
	}
	bucket := baesync.NewBucket(bs)

	cipher, err := openCipher(keys)
	if err != nil {
		return err
	}

	dbPath := filepath.Join(cfg.LibraryDir, "library.db")
	db, err := openOrBootstrap(ctx, dbPath, bucket, cipher, log)
	if err != nil {
		return err
	}
	defer db.Close()

	coord := baesync.NewCoordinator(db, bucket, cipher, keys, log, baesync.Config{
		Interval:  cfg.SyncInterval(),
		OpTimeout: cfg.OpTimeout(),
	})
	coord.Notify = func(err error) {
		color.New(color.FgRed, color.Bold).Fprintf(os.Stderr, "sync alert: %v\n", err)
	}

	logrus.WithFields(logrus.Fields{
		"device_id": db.DeviceID(),
		"bucket":    bs.Path(),
	}).Info("sync daemon started")

	err = coord.Run(ctx)
	if errors.Is(err, context.Canceled) {
		logrus.Info("shutting down")
		return nil
	}
	return err
}

// openOrBootstrap opens the local database, bootstrapping from the
// bucket's snapshot when this device has none yet.
func openOrBootstrap(ctx context.Context, dbPath string, bucket *baesync.Bucket, cipher *encryption.Cipher, log *zap.Logger) (*baedb.Database, error) {
	if _, err := os.Stat(dbPath); err == nil {
		return baedb.Open(dbPath)
	}

	if cipher != nil {
		db, err := baesync.Bootstrap(ctx, bucket, cipher, dbPath, log)
		if err == nil {
			logrus.Info("bootstrapped library from cloud snapshot")
			return db, nil
		}
		if !baesync.IsNotFound(err) {
			return nil, err
		}
	}
	return baedb.Open(dbPath)
}

// joinLibrary provisions key material from a scanned device link.
func joinLibrary(keys *keystore.KeyStore, payload string) error {
	link, err := baesync.ParseDeviceLink(payload)
	if err != nil {
		return err
	}
	if err := keys.SetMasterKey(link.EncryptionKey); err != nil {
		return err
	}
	return keys.SetKeypair(link.Keypair())
}

func openCipher(keys *keystore.KeyStore) (*encryption.Cipher, error) {
	master, err := keys.MasterKey()
	if errors.Is(err, keystore.ErrNotConfigured) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return encryption.NewCipher(master)
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		logrus.SetLevel(logrus.DebugLevel)
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
