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
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
)

const credsFileName = "device_creds.json"

// credsFile is the on-disk form of the device signing keypair. The private
// key is the 64-byte expanded Ed25519 form (seed followed by public key).
type credsFile struct {
	PubKey  string `json:"pub_key"`
	PrivKey string `json:"priv_key"`
}

func readCredsFile(dir string) (*DeviceKeypair, error) {
	data, err := os.ReadFile(filepath.Join(dir, credsFileName))
	if err != nil {
		return nil, err
	}

	var cf credsFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("keystore: corrupt creds file: %w", err)
	}

	pub, err := hex.DecodeString(cf.PubKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("keystore: corrupt creds file: bad public key")
	}
	priv, err := hex.DecodeString(cf.PrivKey)
	if err != nil || len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("keystore: corrupt creds file: bad private key")
	}

	return &DeviceKeypair{PubKey: pub, PrivKey: priv}, nil
}

func writeCredsFile(dir string, kp DeviceKeypair) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(credsFile{
		PubKey:  hex.EncodeToString(kp.PubKey),
		PrivKey: hex.EncodeToString(kp.PrivKey),
	}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, credsFileName), data, 0600)
}
