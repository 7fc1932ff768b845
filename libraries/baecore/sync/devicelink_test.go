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
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baebaebaebaebae/bae/go/libraries/baecore/encryption"
)

func testDeviceLink(t *testing.T) DeviceLink {
	t.Helper()
	encKey, err := encryption.GenerateKey()
	require.NoError(t, err)
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	return DeviceLink{
		ProxyURL:      "https://proxy.example.com",
		EncryptionKey: encKey,
		SigningKey:    priv,
		LibraryID:     "lib-1",
	}
}

func TestDeviceLinkRoundtrip(t *testing.T) {
	dl := testDeviceLink(t)

	payload, err := EncodeDeviceLink(dl)
	require.NoError(t, err)

	parsed, err := ParseDeviceLink(payload)
	require.NoError(t, err)
	assert.Equal(t, dl.ProxyURL, parsed.ProxyURL)
	assert.Equal(t, dl.EncryptionKey, parsed.EncryptionKey)
	assert.Equal(t, dl.SigningKey, parsed.SigningKey)
	assert.Equal(t, dl.LibraryID, parsed.LibraryID)

	kp := parsed.Keypair()
	assert.Equal(t, ed25519.PublicKey(dl.SigningKey[32:]), kp.PubKey)
}

func TestParseDeviceLinkRejectsBadKeys(t *testing.T) {
	makePayload := func(encKeyLen, signKeyLen int) string {
		doc, err := json.Marshal(map[string]string{
			"proxy_url":      "https://proxy.example.com",
			"encryption_key": base64.RawURLEncoding.EncodeToString(make([]byte, encKeyLen)),
			"signing_key":    base64.RawURLEncoding.EncodeToString(make([]byte, signKeyLen)),
			"library_id":     "lib-1",
		})
		require.NoError(t, err)
		return base64.RawURLEncoding.EncodeToString(doc)
	}

	_, err := ParseDeviceLink(makePayload(16, 64))
	assert.ErrorIs(t, err, ErrInvalidDeviceLink)

	_, err = ParseDeviceLink(makePayload(32, 32))
	assert.ErrorIs(t, err, ErrInvalidDeviceLink)

	_, err = ParseDeviceLink(makePayload(32, 64))
	assert.NoError(t, err)
}

func TestParseDeviceLinkRejectsGarbage(t *testing.T) {
	_, err := ParseDeviceLink("!!! not base64 !!!")
	assert.ErrorIs(t, err, ErrInvalidDeviceLink)

	_, err = ParseDeviceLink(base64.RawURLEncoding.EncodeToString([]byte("not json")))
	assert.ErrorIs(t, err, ErrInvalidDeviceLink)
}

// Padded standard URL-safe base64 is accepted alongside the raw form.
func TestParseDeviceLinkPaddedEncoding(t *testing.T) {
	dl := testDeviceLink(t)

	doc, err := json.Marshal(deviceLinkWire{
		ProxyURL:      dl.ProxyURL,
		EncryptionKey: base64.URLEncoding.EncodeToString(dl.EncryptionKey),
		SigningKey:    base64.URLEncoding.EncodeToString(dl.SigningKey),
		LibraryID:     dl.LibraryID,
	})
	require.NoError(t, err)

	parsed, err := ParseDeviceLink(base64.URLEncoding.EncodeToString(doc))
	require.NoError(t, err)
	assert.Equal(t, dl.EncryptionKey, parsed.EncryptionKey)
}
