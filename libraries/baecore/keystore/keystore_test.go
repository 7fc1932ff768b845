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

package keystore

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/baebaebaebaebae/bae/go/libraries/baecore/encryption"
)

type mapKeyring struct {
	secrets map[string]string
}

func newMapKeyring() *mapKeyring {
	return &mapKeyring{secrets: make(map[string]string)}
}

func (m *mapKeyring) Get(service, user string) (string, error) {
	if v, ok := m.secrets[service+"/"+user]; ok {
		return v, nil
	}
	return "", errors.New("secret not found")
}

func (m *mapKeyring) Set(service, user, secret string) error {
	m.secrets[service+"/"+user] = secret
	return nil
}

// brokenKeyring refuses everything, forcing the file fallback.
type brokenKeyring struct{}

func (brokenKeyring) Get(service, user string) (string, error) {
	return "", errors.New("keychain locked")
}

func (brokenKeyring) Set(service, user, secret string) error {
	return errors.New("keychain locked")
}

func TestMasterKeyNotConfigured(t *testing.T) {
	ks, err := NewKeyStoreWithKeyring(t.TempDir(), newMapKeyring())
	require.NoError(t, err)

	_, err = ks.MasterKey()
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = ks.ReleaseKey("r1")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestMasterKeyRoundtrip(t *testing.T) {
	dir := t.TempDir()
	ring := newMapKeyring()

	ks, err := NewKeyStoreWithKeyring(dir, ring)
	require.NoError(t, err)

	key, err := encryption.GenerateKey()
	require.NoError(t, err)
	require.NoError(t, ks.SetMasterKey(key))

	got, err := ks.MasterKey()
	require.NoError(t, err)
	assert.Equal(t, key, got)

	// a fresh keystore over the same keyring sees the key
	reopened, err := NewKeyStoreWithKeyring(dir, ring)
	require.NoError(t, err)
	got, err = reopened.MasterKey()
	require.NoError(t, err)
	assert.Equal(t, key, got)
}

func TestMasterKeyFileFallback(t *testing.T) {
	dir := t.TempDir()

	ks, err := NewKeyStoreWithKeyring(dir, brokenKeyring{})
	require.NoError(t, err)

	key, err := encryption.GenerateKey()
	require.NoError(t, err)
	require.NoError(t, ks.SetMasterKey(key))

	reopened, err := NewKeyStoreWithKeyring(dir, brokenKeyring{})
	require.NoError(t, err)
	got, err := reopened.MasterKey()
	require.NoError(t, err)
	assert.Equal(t, key, got)
}

func TestSetMasterKeyRejectsBadLength(t *testing.T) {
	ks, err := NewKeyStoreWithKeyring(t.TempDir(), newMapKeyring())
	require.NoError(t, err)
	assert.Error(t, ks.SetMasterKey([]byte("short")))
}

func TestReleaseKeyCaching(t *testing.T) {
	ks, err := NewKeyStoreWithKeyring(t.TempDir(), newMapKeyring())
	require.NoError(t, err)

	key, err := encryption.GenerateKey()
	require.NoError(t, err)
	require.NoError(t, ks.SetMasterKey(key))

	k1, err := ks.ReleaseKey("r1")
	require.NoError(t, err)
	k1again, err := ks.ReleaseKey("r1")
	require.NoError(t, err)
	assert.Equal(t, k1, k1again)

	k2, err := ks.ReleaseKey("r2")
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2)

	// matches direct derivation
	want, err := encryption.DeriveReleaseKey(key, "r1")
	require.NoError(t, err)
	assert.Equal(t, want, k1)
}

func TestKeypairPersistence(t *testing.T) {
	dir := t.TempDir()
	ring := newMapKeyring()

	ks, err := NewKeyStoreWithKeyring(dir, ring)
	require.NoError(t, err)

	_, err = ks.Keypair()
	assert.ErrorIs(t, err, ErrNotConfigured)

	kp, err := GenerateDeviceKeypair()
	require.NoError(t, err)
	require.NoError(t, ks.SetKeypair(kp))

	reopened, err := NewKeyStoreWithKeyring(dir, ring)
	require.NoError(t, err)
	got, err := reopened.Keypair()
	require.NoError(t, err)
	assert.Equal(t, kp.PubKey, got.PubKey)
	assert.Equal(t, kp.PrivKey, got.PrivKey)
}

func TestSignAndVerify(t *testing.T) {
	ks, err := NewKeyStoreWithKeyring(t.TempDir(), newMapKeyring())
	require.NoError(t, err)

	kp, err := GenerateDeviceKeypair()
	require.NoError(t, err)
	require.NoError(t, ks.SetKeypair(kp))

	msg := []byte("membership entry bytes")
	sig, err := ks.Sign(msg)
	require.NoError(t, err)

	assert.True(t, Verify(kp.PubKey, sig, msg))
	assert.False(t, Verify(kp.PubKey, sig, []byte("tampered")))

	other, err := GenerateDeviceKeypair()
	require.NoError(t, err)
	assert.False(t, Verify(other.PubKey, sig, msg))

	assert.False(t, Verify(kp.PubKey[:16], sig, msg))
}

func TestTokenSlots(t *testing.T) {
	ks, err := NewKeyStoreWithKeyring(t.TempDir(), newMapKeyring())
	require.NoError(t, err)

	tok := &oauth2.Token{AccessToken: "at", RefreshToken: "rt", TokenType: "bearer"}
	require.NoError(t, ks.StoreToken("dropbox", tok))

	got, err := ks.LoadToken("dropbox")
	require.NoError(t, err)
	assert.Equal(t, "at", got.AccessToken)
	assert.Equal(t, "rt", got.RefreshToken)

	_, err = ks.LoadToken("absent")
	assert.Error(t, err)
}

func TestClose(t *testing.T) {
	ks, err := NewKeyStoreWithKeyring(t.TempDir(), newMapKeyring())
	require.NoError(t, err)

	key, err := encryption.GenerateKey()
	require.NoError(t, err)
	require.NoError(t, ks.SetMasterKey(key))

	ks.Close()

	_, err = ks.MasterKey()
	assert.ErrorIs(t, err, ErrNotConfigured)
}
