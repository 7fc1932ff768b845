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

// Package keystore owns the process-wide key material: the master symmetric
// key, the device's long-term Ed25519 signing keypair, cached per-release
// keys, and credential slots for third-party tokens. The master key and
// tokens live in the OS credential store when one is available, with a file
// fallback in the library directory; the signing keypair is always kept in a
// creds file in the library directory.
package keystore

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/goccy/go-json"
	"github.com/zalando/go-keyring"
	"golang.org/x/oauth2"

	"github.com/baebaebaebaebae/bae/go/libraries/baecore/encryption"
)

const (
	keyringService = "bae"
	masterKeyName  = "master-key"

	releaseKeyCacheSize = 256
)

// ErrNotConfigured is returned when an encrypted operation is requested
// before a master key has been provisioned.
var ErrNotConfigured = errors.New("keystore: no master key configured")

// ErrKeyStoreUnavailable is returned when neither the platform keychain nor
// the file fallback can serve a request.
var ErrKeyStoreUnavailable = errors.New("keystore: credential storage unavailable")

// Keyring abstracts the platform credential store.
type Keyring interface {
	Get(service, user string) (string, error)
	Set(service, user, secret string) error
}

type systemKeyring struct{}

func (systemKeyring) Get(service, user string) (string, error) {
	return keyring.Get(service, user)
}

func (systemKeyring) Set(service, user, secret string) error {
	return keyring.Set(service, user, secret)
}

// DeviceKeypair is the device's long-term Ed25519 signing keypair.
type DeviceKeypair struct {
	PubKey  ed25519.PublicKey
	PrivKey ed25519.PrivateKey
}

// PubKeyHex returns the public key in the hex form membership entries use.
func (kp DeviceKeypair) PubKeyHex() string {
	return hex.EncodeToString(kp.PubKey)
}

// GenerateDeviceKeypair creates a new random signing keypair.
func GenerateDeviceKeypair() (DeviceKeypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return DeviceKeypair{}, err
	}
	return DeviceKeypair{PubKey: pub, PrivKey: priv}, nil
}

// KeyStore holds key material for one library on one device.
type KeyStore struct {
	dir  string
	ring Keyring

	mu          sync.RWMutex
	master      []byte
	keypair     *DeviceKeypair
	releaseKeys *lru.Cache[string, []byte]
}

// NewKeyStore opens the keystore for a library directory, loading whatever
// key material has been provisioned. A missing master key is not an error;
// encrypted operations will report ErrNotConfigured until one is set.
func NewKeyStore(dir string) (*KeyStore, error) {
	return newKeyStore(dir, systemKeyring{})
}

// NewKeyStoreWithKeyring is like NewKeyStore with an injected credential
// store, for tests.
func NewKeyStoreWithKeyring(dir string, ring Keyring) (*KeyStore, error) {
	return newKeyStore(dir, ring)
}

func newKeyStore(dir string, ring Keyring) (*KeyStore, error) {
	cache, err := lru.New[string, []byte](releaseKeyCacheSize)
	if err != nil {
		return nil, err
	}
	ks := &KeyStore{dir: dir, ring: ring, releaseKeys: cache}

	if hexKey, err := ks.loadSecret(masterKeyName); err == nil && hexKey != "" {
		key, err := hex.DecodeString(hexKey)
		if err != nil || len(key) != encryption.KeySize {
			return nil, fmt.Errorf("keystore: stored master key is corrupt")
		}
		ks.master = key
	}

	if kp, err := readCredsFile(dir); err == nil {
		ks.keypair = kp
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	return ks, nil
}

// MasterKey returns the 32-byte master key.
func (ks *KeyStore) MasterKey() ([]byte, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	if ks.master == nil {
		return nil, ErrNotConfigured
	}
	return ks.master, nil
}

// SetMasterKey provisions and persists the master key.
func (ks *KeyStore) SetMasterKey(key []byte) error {
	if len(key) != encryption.KeySize {
		return fmt.Errorf("keystore: master key must be %d bytes, got %d", encryption.KeySize, len(key))
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()
	if err := ks.storeSecret(masterKeyName, hex.EncodeToString(key)); err != nil {
		return err
	}
	ks.master = append([]byte(nil), key...)
	ks.releaseKeys.Purge()
	return nil
}

// ReleaseKey returns the derived key for a release, caching derivations.
func (ks *KeyStore) ReleaseKey(releaseID string) ([]byte, error) {
	if key, ok := ks.releaseKeys.Get(releaseID); ok {
		return key, nil
	}

	master, err := ks.MasterKey()
	if err != nil {
		return nil, err
	}
	key, err := encryption.DeriveReleaseKey(master, releaseID)
	if err != nil {
		return nil, err
	}
	ks.releaseKeys.Add(releaseID, key)
	return key, nil
}

// Keypair returns the device signing keypair.
func (ks *KeyStore) Keypair() (DeviceKeypair, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	if ks.keypair == nil {
		return DeviceKeypair{}, ErrNotConfigured
	}
	return *ks.keypair, nil
}

// SetKeypair provisions and persists the device signing keypair. Used both
// at first boot and when joining a library from a device-link payload.
func (ks *KeyStore) SetKeypair(kp DeviceKeypair) error {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	if err := writeCredsFile(ks.dir, kp); err != nil {
		return err
	}
	ks.keypair = &kp
	return nil
}

// Sign signs data with the device keypair.
func (ks *KeyStore) Sign(data []byte) ([]byte, error) {
	kp, err := ks.Keypair()
	if err != nil {
		return nil, err
	}
	return ed25519.Sign(kp.PrivKey, data), nil
}

// Verify reports whether sig is a valid signature over data by pub.
func Verify(pub ed25519.PublicKey, sig, data []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, sig, data)
}

// StoreToken persists a third-party OAuth token under a provider slot. This
// satisfies the blobstore TokenStore interface.
func (ks *KeyStore) StoreToken(provider string, tok *oauth2.Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	return ks.storeSecret("token-"+provider, string(data))
}

// LoadToken returns the persisted OAuth token for a provider slot.
func (ks *KeyStore) LoadToken(provider string) (*oauth2.Token, error) {
	raw, err := ks.loadSecret("token-" + provider)
	if err != nil {
		return nil, err
	}
	var tok oauth2.Token
	if err := json.Unmarshal([]byte(raw), &tok); err != nil {
		return nil, err
	}
	return &tok, nil
}

// Close clears key material from memory. The keystore is unusable after.
func (ks *KeyStore) Close() {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	for i := range ks.master {
		ks.master[i] = 0
	}
	ks.master = nil
	if ks.keypair != nil {
		for i := range ks.keypair.PrivKey {
			ks.keypair.PrivKey[i] = 0
		}
		ks.keypair = nil
	}
	ks.releaseKeys.Purge()
}

// storeSecret writes to the platform keychain, falling back to a 0600 file
// in the library dir when the keychain refuses.
func (ks *KeyStore) storeSecret(name, value string) error {
	ringErr := ks.ring.Set(keyringService, name, value)
	if ringErr == nil {
		return nil
	}

	if err := os.MkdirAll(ks.dir, 0700); err != nil {
		return fmt.Errorf("%w: %s", ErrKeyStoreUnavailable, ringErr)
	}
	if err := os.WriteFile(ks.secretPath(name), []byte(value), 0600); err != nil {
		return fmt.Errorf("%w: %s", ErrKeyStoreUnavailable, ringErr)
	}
	return nil
}

func (ks *KeyStore) loadSecret(name string) (string, error) {
	if value, err := ks.ring.Get(keyringService, name); err == nil {
		return value, nil
	}

	data, err := os.ReadFile(ks.secretPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotConfigured
		}
		return "", fmt.Errorf("%w: %s", ErrKeyStoreUnavailable, err)
	}
	return string(data), nil
}

func (ks *KeyStore) secretPath(name string) string {
	return filepath.Join(ks.dir, "."+name)
}
