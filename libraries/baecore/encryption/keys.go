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

package encryption

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Wire-visible derivation constants. Changing either breaks decryption of
// every existing library; they are part of the blob format.
const (
	hkdfSaltInfo   = "bae-hkdf-salt-v1"
	releaseKeyInfo = "bae-release-v1:"
)

// DeriveReleaseKey derives the 32-byte per-release key from the master key:
//
//	salt      = HMAC-SHA256(master_key, "bae-hkdf-salt-v1")
//	k_release = HKDF-SHA256(salt, ikm=master_key, info="bae-release-v1:{release_id}")
func DeriveReleaseKey(masterKey []byte, releaseID string) ([]byte, error) {
	if len(masterKey) != KeySize {
		return nil, fmt.Errorf("invalid master key length: expected %d bytes, got %d", KeySize, len(masterKey))
	}

	mac := hmac.New(sha256.New, masterKey)
	mac.Write([]byte(hkdfSaltInfo))
	salt := mac.Sum(nil)

	r := hkdf.New(sha256.New, masterKey, salt, []byte(releaseKeyInfo+releaseID))
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	return key, nil
}
