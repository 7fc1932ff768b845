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
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() []byte {
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func testCipher(t *testing.T) *Cipher {
	c, err := NewCipher(testKey())
	require.NoError(t, err)
	return c
}

func fill(b byte, n int) []byte {
	return bytes.Repeat([]byte{b}, n)
}

func TestRoundtrip(t *testing.T) {
	c := testCipher(t)

	tests := []struct {
		name string
		size int
	}{
		{"empty", 0},
		{"small", 13},
		{"exact chunk", ChunkSize},
		{"multi chunk", ChunkSize*2 + ChunkSize/2},
		{"exact two chunks", ChunkSize * 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plaintext := make([]byte, tt.size)
			for i := range plaintext {
				plaintext[i] = byte(i % 256)
			}

			ciphertext, err := c.Encrypt(plaintext)
			require.NoError(t, err)

			decrypted, err := c.Decrypt(ciphertext)
			require.NoError(t, err)
			assert.Equal(t, plaintext, decrypted)
		})
	}
}

func TestEmptyPlaintextProducesTagOnlyChunk(t *testing.T) {
	c := testCipher(t)

	ciphertext, err := c.Encrypt(nil)
	require.NoError(t, err)
	assert.Equal(t, NonceSize+TagSize, len(ciphertext))

	decrypted, err := c.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Empty(t, decrypted)
}

// S1 from the conformance scenarios: 131,073 bytes of 0xAA under a known key.
func TestEncryptedBlobLayout(t *testing.T) {
	c, err := NewCipher(make([]byte, KeySize))
	require.NoError(t, err)

	plaintext := fill(0xAA, 2*ChunkSize+1)
	ciphertext, err := c.Encrypt(plaintext)
	require.NoError(t, err)

	// nonce + two full chunks + one-byte trailing chunk with its tag
	expected := NonceSize + 2*EncryptedChunkSize + 1 + TagSize
	assert.Equal(t, expected, len(ciphertext))

	trailing, err := c.DecryptChunk(ciphertext, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA}, trailing)
}

func TestRandomAccessChunks(t *testing.T) {
	c := testCipher(t)

	plaintext := append(fill(0x00, ChunkSize), fill(0x11, ChunkSize)...)
	plaintext = append(plaintext, fill(0x22, ChunkSize)...)

	ciphertext, err := c.Encrypt(plaintext)
	require.NoError(t, err)

	for i, want := range []byte{0x00, 0x11, 0x22} {
		chunk, err := c.DecryptChunk(ciphertext, uint64(i))
		require.NoError(t, err)
		assert.Equal(t, fill(want, ChunkSize), chunk)
	}

	_, err = c.DecryptChunk(ciphertext, 3)
	require.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestPartialLastChunk(t *testing.T) {
	c := testCipher(t)

	plaintext := append(fill(0xAA, ChunkSize), fill(0xBB, 100)...)
	ciphertext, err := c.Encrypt(plaintext)
	require.NoError(t, err)

	chunk1, err := c.DecryptChunk(ciphertext, 1)
	require.NoError(t, err)
	assert.Equal(t, fill(0xBB, 100), chunk1)
}

func TestTamperDetection(t *testing.T) {
	c := testCipher(t)

	ciphertext, err := c.Encrypt([]byte("secret data"))
	require.NoError(t, err)

	for _, pos := range []int{NonceSize, NonceSize + 3, len(ciphertext) - 1} {
		tampered := bytes.Clone(ciphertext)
		tampered[pos] ^= 0x01

		_, err := c.Decrypt(tampered)
		assert.ErrorIs(t, err, ErrAuthenticationFailed, "tamper at byte %d", pos)
	}
}

func TestDecryptWrongKey(t *testing.T) {
	c := testCipher(t)
	other, err := NewCipher(make([]byte, KeySize))
	require.NoError(t, err)

	ciphertext, err := c.Encrypt([]byte("secret data"))
	require.NoError(t, err)

	_, err = other.Decrypt(ciphertext)
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestChunkNonce(t *testing.T) {
	base := make([]byte, NonceSize)
	for i := range base {
		base[i] = byte(0xF0 + i)
	}

	assert.Equal(t, base, ChunkNonce(base, 0))

	for _, n := range []uint64{1, 7, 255, 1 << 40} {
		nonce := ChunkNonce(base, n)
		assert.NotEqual(t, base, nonce)
		// only the first 8 bytes may differ
		assert.Equal(t, base[8:], nonce[8:], "index %d", n)
	}
}

func TestDecryptRange(t *testing.T) {
	c := testCipher(t)

	plaintext := make([]byte, 3*ChunkSize)
	for i := range plaintext {
		plaintext[i] = byte(i % 251)
	}
	ciphertext, err := c.Encrypt(plaintext)
	require.NoError(t, err)

	tests := []struct {
		name       string
		start, end uint64
	}{
		{"within chunk", 100, 200},
		{"chunk boundary", ChunkSize - 10, ChunkSize + 10},
		{"whole middle chunk", ChunkSize, 2 * ChunkSize},
		{"tail", 3*ChunkSize - 5, 3 * ChunkSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.DecryptRange(ciphertext, tt.start, tt.end)
			require.NoError(t, err)
			assert.Equal(t, plaintext[tt.start:tt.end], got)
		})
	}

	_, err = c.DecryptRange(ciphertext, 200, 100)
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestDecryptRangeAt(t *testing.T) {
	c := testCipher(t)

	plaintext := make([]byte, 10*ChunkSize)
	for i := range plaintext {
		plaintext[i] = byte(i % 253)
	}
	ciphertext, err := c.Encrypt(plaintext)
	require.NoError(t, err)
	nonce := ciphertext[:NonceSize]

	// Plaintext window [524288, 524788) sits entirely in chunk 8. Feed the
	// codec only the bytes a range request would have fetched.
	start, end := uint64(8*ChunkSize), uint64(8*ChunkSize+500)
	encStart, encEnd := EncryptedChunkRange(start, end)
	window := ciphertext[encStart:encEnd]

	got, err := c.DecryptRangeAt(nonce, window, start/ChunkSize, start, end)
	require.NoError(t, err)
	assert.Equal(t, plaintext[start:end], got)
}

func TestDecryptRangeAtMissingChunks(t *testing.T) {
	c := testCipher(t)

	plaintext := make([]byte, 4*ChunkSize)
	ciphertext, err := c.Encrypt(plaintext)
	require.NoError(t, err)
	nonce := ciphertext[:NonceSize]

	// Only chunk 1 supplied, but the range needs chunks 1 and 2.
	window := ciphertext[NonceSize+EncryptedChunkSize : NonceSize+2*EncryptedChunkSize]
	_, err = c.DecryptRangeAt(nonce, window, 1, ChunkSize, 3*ChunkSize)
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestEncryptedChunkRangeMinimality(t *testing.T) {
	// A window inside chunk 8 of a 16-chunk file must map to a single
	// encrypted chunk, far below a quarter of the whole blob.
	start, end := EncryptedChunkRange(8*ChunkSize+100, 8*ChunkSize+1100)
	assert.Equal(t, uint64(NonceSize+8*EncryptedChunkSize), start)
	assert.Equal(t, uint64(NonceSize+9*EncryptedChunkSize), end)

	totalFile := uint64(NonceSize + 16*EncryptedChunkSize)
	window := end - start
	assert.Less(t, window, totalFile/4)
	assert.GreaterOrEqual(t, window, uint64(EncryptedChunkSize))
}

func TestEncryptedChunkRangeSpansChunks(t *testing.T) {
	start, end := EncryptedChunkRange(ChunkSize-1, 2*ChunkSize+1)
	assert.Equal(t, uint64(NonceSize), start)
	assert.Equal(t, uint64(NonceSize+3*EncryptedChunkSize), end)
}

func TestNewCipherFromHex(t *testing.T) {
	_, err := NewCipherFromHex("00")
	assert.Error(t, err)

	_, err = NewCipherFromHex("zz")
	assert.Error(t, err)

	c, err := NewCipherFromHex("000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f")
	require.NoError(t, err)

	ciphertext, err := c.Encrypt([]byte("hello"))
	require.NoError(t, err)

	want := testCipher(t)
	decrypted, err := want.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), decrypted)
}

func TestDeriveReleaseKey(t *testing.T) {
	master := testKey()

	k1, err := DeriveReleaseKey(master, "release-1")
	require.NoError(t, err)
	require.Len(t, k1, KeySize)

	// deterministic
	again, err := DeriveReleaseKey(master, "release-1")
	require.NoError(t, err)
	assert.Equal(t, k1, again)

	// distinct per release and never the master key itself
	k2, err := DeriveReleaseKey(master, "release-2")
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2)
	assert.NotEqual(t, master, k1)

	_, err = DeriveReleaseKey(master[:16], "release-1")
	assert.Error(t, err)
}
