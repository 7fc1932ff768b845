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

// Package encryption implements the chunked authenticated-encryption codec
// used for every blob bae stores in the cloud home.
//
// Blob format:
//
//	[base nonce: 24 bytes][chunk 0][chunk 1]...
//
// Each chunk seals up to 64KB of plaintext with XChaCha20-Poly1305. Chunks
// are independently decryptable, which gives random access into encrypted
// audio files and lets change blobs be decrypted without buffering anything
// else.
package encryption

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// ChunkSize is the plaintext bytes sealed per chunk.
	ChunkSize = 65536

	// KeySize is the symmetric key length in bytes.
	KeySize = chacha20poly1305.KeySize

	// NonceSize is the XChaCha20-Poly1305 nonce length in bytes.
	NonceSize = chacha20poly1305.NonceSizeX

	// TagSize is the Poly1305 authentication tag length in bytes.
	TagSize = chacha20poly1305.Overhead

	// EncryptedChunkSize is the on-wire size of a full chunk.
	EncryptedChunkSize = ChunkSize + TagSize
)

// ErrAuthenticationFailed is returned when a chunk's authentication tag
// rejects. The blob is corrupt or was sealed under a different key.
var ErrAuthenticationFailed = errors.New("authentication failed")

// ErrInvalidCiphertext is returned for blobs too short to carry a nonce, or
// for chunk/range requests that fall outside the supplied ciphertext.
var ErrInvalidCiphertext = errors.New("invalid ciphertext")

// Cipher seals and opens chunked blobs under a single 32-byte key.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher returns a Cipher for the given 32-byte key.
func NewCipher(key []byte) (*Cipher, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("invalid key: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// NewCipherFromHex returns a Cipher for a hex-encoded 32-byte key.
func NewCipherFromHex(keyHex string) (*Cipher, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid key format: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("invalid key length: expected %d bytes, got %d", KeySize, len(key))
	}
	return NewCipher(key)
}

// GenerateKey returns a new random 32-byte key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

// ChunkNonce derives the nonce for chunk i by XORing the little-endian chunk
// index into the first 8 bytes of the base nonce.
func ChunkNonce(base []byte, chunkIndex uint64) []byte {
	nonce := make([]byte, NonceSize)
	copy(nonce, base)
	var idx [8]byte
	binary.LittleEndian.PutUint64(idx[:], chunkIndex)
	for i := 0; i < 8; i++ {
		nonce[i] ^= idx[i]
	}
	return nonce
}

// Encrypt seals plaintext into the chunked blob format. Empty plaintext
// still produces one tag-only chunk so that every blob authenticates.
func (c *Cipher) Encrypt(plaintext []byte) ([]byte, error) {
	baseNonce := make([]byte, NonceSize)
	if _, err := rand.Read(baseNonce); err != nil {
		return nil, err
	}
	return c.encryptWithNonce(baseNonce, plaintext), nil
}

func (c *Cipher) encryptWithNonce(baseNonce, plaintext []byte) []byte {
	nChunks := chunkCount(uint64(len(plaintext)))
	out := make([]byte, 0, NonceSize+len(plaintext)+int(nChunks)*TagSize)
	out = append(out, baseNonce...)

	if len(plaintext) == 0 {
		return c.aead.Seal(out, ChunkNonce(baseNonce, 0), nil, nil)
	}

	for i := uint64(0); i < nChunks; i++ {
		lo := i * ChunkSize
		hi := lo + ChunkSize
		if hi > uint64(len(plaintext)) {
			hi = uint64(len(plaintext))
		}
		out = c.aead.Seal(out, ChunkNonce(baseNonce, i), plaintext[lo:hi], nil)
	}
	return out
}

// Decrypt opens a full chunked blob.
func (c *Cipher) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < NonceSize {
		return nil, fmt.Errorf("%w: too short for nonce", ErrInvalidCiphertext)
	}

	body := ciphertext[NonceSize:]
	total := totalChunks(uint64(len(body)))

	out := make([]byte, 0, len(body))
	for i := uint64(0); i < total; i++ {
		chunk, err := c.DecryptChunk(ciphertext, i)
		if err != nil {
			return nil, err
		}
		out = append(out, chunk...)
	}
	return out, nil
}

// DecryptChunk opens chunk chunkIndex of a full chunked blob without
// touching any other chunk.
func (c *Cipher) DecryptChunk(ciphertext []byte, chunkIndex uint64) ([]byte, error) {
	if len(ciphertext) < NonceSize {
		return nil, fmt.Errorf("%w: too short for nonce", ErrInvalidCiphertext)
	}

	baseNonce := ciphertext[:NonceSize]
	body := ciphertext[NonceSize:]
	total := totalChunks(uint64(len(body)))

	if chunkIndex >= total {
		return nil, fmt.Errorf("%w: chunk index %d out of range (total chunks: %d)",
			ErrInvalidCiphertext, chunkIndex, total)
	}

	lo := chunkIndex * EncryptedChunkSize
	hi := lo + EncryptedChunkSize
	if hi > uint64(len(body)) {
		hi = uint64(len(body))
	}

	plain, err := c.aead.Open(nil, ChunkNonce(baseNonce, chunkIndex), body[lo:hi], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: chunk %d", ErrAuthenticationFailed, chunkIndex)
	}
	return plain, nil
}

// DecryptRange opens the chunks covering [plaintextStart, plaintextEnd) from
// a full blob and slices the result to the exact bounds.
func (c *Cipher) DecryptRange(ciphertext []byte, plaintextStart, plaintextEnd uint64) ([]byte, error) {
	if plaintextStart >= plaintextEnd {
		return nil, fmt.Errorf("%w: invalid range: start (%d) >= end (%d)",
			ErrInvalidCiphertext, plaintextStart, plaintextEnd)
	}

	startChunk := plaintextStart / ChunkSize
	endChunk := (plaintextEnd - 1) / ChunkSize

	var plain []byte
	for i := startChunk; i <= endChunk; i++ {
		chunk, err := c.DecryptChunk(ciphertext, i)
		if err != nil {
			return nil, err
		}
		plain = append(plain, chunk...)
	}
	return sliceRange(plain, plaintextStart, plaintextEnd)
}

// DecryptRangeAt opens a plaintext range from partial ciphertext. The caller
// supplies the base nonce (kept in the local store at import time) and only
// the encrypted chunks covering the range, starting at firstChunkIndex. The
// chunk bytes carry no nonce prefix.
func (c *Cipher) DecryptRangeAt(nonce, encryptedChunks []byte, firstChunkIndex, plaintextStart, plaintextEnd uint64) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("%w: invalid nonce length: expected %d, got %d",
			ErrInvalidCiphertext, NonceSize, len(nonce))
	}
	if plaintextStart >= plaintextEnd {
		return nil, fmt.Errorf("%w: invalid range: start (%d) >= end (%d)",
			ErrInvalidCiphertext, plaintextStart, plaintextEnd)
	}

	startChunk := plaintextStart / ChunkSize
	endChunk := (plaintextEnd - 1) / ChunkSize

	var plain []byte
	for abs := startChunk; abs <= endChunk; abs++ {
		if abs < firstChunkIndex {
			return nil, fmt.Errorf("%w: chunk %d not in provided data (first chunk index %d)",
				ErrInvalidCiphertext, abs, firstChunkIndex)
		}
		lo := (abs - firstChunkIndex) * EncryptedChunkSize
		if lo >= uint64(len(encryptedChunks)) {
			return nil, fmt.Errorf("%w: chunk %d not in provided data (first chunk index %d)",
				ErrInvalidCiphertext, abs, firstChunkIndex)
		}
		hi := lo + EncryptedChunkSize
		if hi > uint64(len(encryptedChunks)) {
			hi = uint64(len(encryptedChunks))
		}

		opened, err := c.aead.Open(nil, ChunkNonce(nonce, abs), encryptedChunks[lo:hi], nil)
		if err != nil {
			return nil, fmt.Errorf("%w: chunk %d", ErrAuthenticationFailed, abs)
		}
		plain = append(plain, opened...)
	}

	offset := plaintextStart % ChunkSize
	return sliceRange(plain, offset, offset+(plaintextEnd-plaintextStart))
}

// EncryptedChunkRange returns the byte range within the encrypted blob that
// covers the chunks for [plaintextStart, plaintextEnd). The range starts
// past the 24-byte nonce; fetch the nonce separately (it lives in the local
// store). Used to issue a minimal object-store range request.
func EncryptedChunkRange(plaintextStart, plaintextEnd uint64) (uint64, uint64) {
	startChunk := plaintextStart / ChunkSize
	endChunk := uint64(0)
	if plaintextEnd > 0 {
		endChunk = (plaintextEnd - 1) / ChunkSize
	}

	start := NonceSize + startChunk*EncryptedChunkSize
	end := NonceSize + (endChunk+1)*EncryptedChunkSize
	return start, end
}

func sliceRange(plain []byte, start, end uint64) ([]byte, error) {
	if end > uint64(len(plain)) {
		return nil, fmt.Errorf("%w: decrypted data too short: need %d bytes, got %d",
			ErrInvalidCiphertext, end, len(plain))
	}
	return plain[start:end], nil
}

func chunkCount(plaintextLen uint64) uint64 {
	if plaintextLen == 0 {
		return 1
	}
	return (plaintextLen + ChunkSize - 1) / ChunkSize
}

func totalChunks(bodyLen uint64) uint64 {
	full := bodyLen / EncryptedChunkSize
	if bodyLen%EncryptedChunkSize != 0 {
		full++
	}
	return full
}
