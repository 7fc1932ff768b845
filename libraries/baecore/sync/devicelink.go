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
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/baebaebaebaebae/bae/go/libraries/baecore/encryption"
	"github.com/baebaebaebaebae/bae/go/libraries/baecore/keystore"
)

// ErrInvalidDeviceLink is returned for malformed or wrong-sized link
// payloads.
var ErrInvalidDeviceLink = errors.New("invalid device link payload")

// DeviceLink is the payload shared between one user's devices, typically as
// a QR code: everything a new device needs to join a library. The signing
// key is the 64-byte expanded Ed25519 form (seed followed by public key).
type DeviceLink struct {
	ProxyURL      string
	EncryptionKey []byte
	SigningKey    ed25519.PrivateKey
	LibraryID     string
}

type deviceLinkWire struct {
	ProxyURL      string `json:"proxy_url"`
	EncryptionKey string `json:"encryption_key"`
	SigningKey    string `json:"signing_key"`
	LibraryID     string `json:"library_id"`
}

// Keypair returns the device keypair embedded in the link.
func (dl DeviceLink) Keypair() keystore.DeviceKeypair {
	return keystore.DeviceKeypair{
		PubKey:  dl.SigningKey.Public().(ed25519.PublicKey),
		PrivKey: dl.SigningKey,
	}
}

// EncodeDeviceLink serializes a link as URL-safe base64 JSON.
func EncodeDeviceLink(dl DeviceLink) (string, error) {
	if len(dl.EncryptionKey) != encryption.KeySize {
		return "", fmt.Errorf("%w: encryption key must be %d bytes", ErrInvalidDeviceLink, encryption.KeySize)
	}
	if len(dl.SigningKey) != ed25519.PrivateKeySize {
		return "", fmt.Errorf("%w: signing key must be %d bytes", ErrInvalidDeviceLink, ed25519.PrivateKeySize)
	}

	data, err := json.Marshal(deviceLinkWire{
		ProxyURL:      dl.ProxyURL,
		EncryptionKey: base64.RawURLEncoding.EncodeToString(dl.EncryptionKey),
		SigningKey:    base64.RawURLEncoding.EncodeToString(dl.SigningKey),
		LibraryID:     dl.LibraryID,
	})
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// ParseDeviceLink decodes and validates a link payload. Key lengths are
// checked here so a truncated QR scan fails fast.
func ParseDeviceLink(payload string) (DeviceLink, error) {
	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		if raw, err = base64.URLEncoding.DecodeString(payload); err != nil {
			return DeviceLink{}, fmt.Errorf("%w: %s", ErrInvalidDeviceLink, err)
		}
	}

	var wire deviceLinkWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return DeviceLink{}, fmt.Errorf("%w: %s", ErrInvalidDeviceLink, err)
	}

	encKey, err := decodeB64URL(wire.EncryptionKey)
	if err != nil {
		return DeviceLink{}, fmt.Errorf("%w: bad encryption key encoding", ErrInvalidDeviceLink)
	}
	if len(encKey) != encryption.KeySize {
		return DeviceLink{}, fmt.Errorf("%w: encryption key must be %d bytes, got %d",
			ErrInvalidDeviceLink, encryption.KeySize, len(encKey))
	}

	signKey, err := decodeB64URL(wire.SigningKey)
	if err != nil {
		return DeviceLink{}, fmt.Errorf("%w: bad signing key encoding", ErrInvalidDeviceLink)
	}
	if len(signKey) != ed25519.PrivateKeySize {
		return DeviceLink{}, fmt.Errorf("%w: signing key must be %d bytes, got %d",
			ErrInvalidDeviceLink, ed25519.PrivateKeySize, len(signKey))
	}

	return DeviceLink{
		ProxyURL:      wire.ProxyURL,
		EncryptionKey: encKey,
		SigningKey:    ed25519.PrivateKey(signKey),
		LibraryID:     wire.LibraryID,
	}, nil
}

func decodeB64URL(s string) ([]byte, error) {
	if raw, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return raw, nil
	}
	return base64.URLEncoding.DecodeString(s)
}
