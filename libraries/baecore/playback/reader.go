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

package playback

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/baebaebaebaebae/bae/go/libraries/baecore/encryption"
	"github.com/baebaebaebaebae/bae/go/store/blobstore"
)

const streamChunkSize = 65536

// ReadConfig describes one playback request: where the audio bytes live and
// which plaintext window the decoder needs. StartByte/EndByte bound the
// window for CUE-style track extraction; FLACHeaders are prepended so a
// naive sequential consumer sees a complete stream.
type ReadConfig struct {
	Path        string
	FLACHeaders []byte
	StartByte   *int64
	EndByte     *int64
}

func (cfg ReadConfig) bounded() bool {
	return cfg.StartByte != nil && cfg.EndByte != nil
}

// Reader fills a sparse buffer with the requested plaintext window. The
// concrete source is one of four paths: local file, cloud plain, cloud
// encrypted full-file, or cloud encrypted minimal-range seek.
type Reader struct {
	cfg    ReadConfig
	store  blobstore.Blobstore // nil means local filesystem
	cipher *encryption.Cipher  // nil means unencrypted
	nonce  []byte              // enables the minimal-range seek path
	log    *zap.Logger
}

// NewLocalReader streams from a local file.
func NewLocalReader(cfg ReadConfig, log *zap.Logger) *Reader {
	return &Reader{cfg: cfg, log: log}
}

// NewCloudReader streams from cloud storage, decrypting when cipher is
// non-nil. The nonce, when available from the local store, unlocks the
// minimal-range seek path for bounded encrypted reads.
func NewCloudReader(cfg ReadConfig, store blobstore.Blobstore, cipher *encryption.Cipher, nonce []byte, log *zap.Logger) *Reader {
	return &Reader{cfg: cfg, store: store, cipher: cipher, nonce: nonce, log: log}
}

// Start fills the buffer on a new goroutine. Failures cancel the buffer so
// the consumer unblocks.
func (r *Reader) Start(ctx context.Context, buf *SparseBuffer) {
	go func() {
		if err := r.fill(ctx, buf); err != nil {
			r.log.Error("playback read failed", zap.String("path", r.cfg.Path), zap.Error(err))
			buf.Cancel()
		}
	}()
}

func (r *Reader) fill(ctx context.Context, buf *SparseBuffer) error {
	switch {
	case r.store == nil:
		return r.fillFromLocalFile(buf)
	case r.cipher == nil:
		return r.fillFromCloud(ctx, buf)
	case r.cfg.bounded() && len(r.nonce) == encryption.NonceSize:
		return r.fillFromCloudEncryptedRange(ctx, buf)
	default:
		return r.fillFromCloudEncrypted(ctx, buf)
	}
}

// fillFromLocalFile seeks and streams an unencrypted local file.
func (r *Reader) fillFromLocalFile(buf *SparseBuffer) error {
	f, err := os.Open(r.cfg.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	var pos int64
	pos = r.prependHeaders(buf)

	start := int64(0)
	if r.cfg.StartByte != nil {
		start = *r.cfg.StartByte
	}
	if start > 0 {
		if _, err := f.Seek(start, io.SeekStart); err != nil {
			return err
		}
	}

	filePos := start
	chunk := make([]byte, streamChunkSize)
	for {
		if buf.IsCancelled() {
			return nil
		}

		toRead := int64(len(chunk))
		if r.cfg.EndByte != nil && *r.cfg.EndByte-filePos < toRead {
			toRead = *r.cfg.EndByte - filePos
		}
		if toRead == 0 {
			break
		}

		n, err := f.Read(chunk[:toRead])
		if n > 0 {
			buf.AppendAt(pos, chunk[:n])
			pos += int64(n)
			filePos += int64(n)
		}
		if err == io.EOF {
			break
		} else if err != nil {
			return err
		}
	}

	buf.SetTotalSize(pos)
	buf.MarkEOF()
	return nil
}

// fillFromCloud streams plain cloud bytes: one range request when the
// window is bounded, a full download otherwise.
func (r *Reader) fillFromCloud(ctx context.Context, buf *SparseBuffer) error {
	br := blobstore.AllRange
	if r.cfg.bounded() {
		br = blobstore.NewBlobRange(*r.cfg.StartByte, *r.cfg.EndByte-*r.cfg.StartByte)
	} else if r.cfg.StartByte != nil {
		br = blobstore.NewBlobRange(*r.cfg.StartByte, 0)
	}

	data, _, err := blobstore.GetBytes(ctx, r.store, r.cfg.Path, br)
	if err != nil {
		return err
	}

	pos := r.prependHeaders(buf)
	buf.AppendAt(pos, data)
	buf.SetTotalSize(pos + int64(len(data)))
	buf.MarkEOF()
	return nil
}

// fillFromCloudEncrypted downloads and decrypts the whole file, then slices
// the requested window. Used when no nonce is cached locally.
func (r *Reader) fillFromCloudEncrypted(ctx context.Context, buf *SparseBuffer) error {
	encrypted, _, err := blobstore.GetBytes(ctx, r.store, r.cfg.Path, blobstore.AllRange)
	if err != nil {
		return err
	}

	plaintext, err := r.cipher.Decrypt(encrypted)
	if err != nil {
		return err
	}

	start := int64(0)
	if r.cfg.StartByte != nil {
		start = min(*r.cfg.StartByte, int64(len(plaintext)))
	}
	end := int64(len(plaintext))
	if r.cfg.EndByte != nil {
		end = min(*r.cfg.EndByte, end)
	}

	pos := r.prependHeaders(buf)
	buf.AppendAt(pos, plaintext[start:end])
	buf.SetTotalSize(pos + (end - start))
	buf.MarkEOF()

	r.log.Debug("decrypted full file",
		zap.Int("encrypted_size", len(encrypted)),
		zap.Int64("window", end-start))
	return nil
}

// fillFromCloudEncryptedRange is the seek path: compute the minimal
// encrypted window for the plaintext range, fetch exactly that window with
// one range request, and decrypt in place. It downloads strictly less than
// the whole file whenever the window spans fewer chunks.
func (r *Reader) fillFromCloudEncryptedRange(ctx context.Context, buf *SparseBuffer) error {
	start, end := uint64(*r.cfg.StartByte), uint64(*r.cfg.EndByte)
	encStart, encEnd := encryption.EncryptedChunkRange(start, end)

	window, _, err := blobstore.GetBytes(ctx, r.store, r.cfg.Path,
		blobstore.NewBlobRange(int64(encStart), int64(encEnd-encStart)))
	if err != nil {
		return err
	}

	firstChunk := start / encryption.ChunkSize
	plaintext, err := r.cipher.DecryptRangeAt(r.nonce, window, firstChunk, start, end)
	if err != nil {
		return fmt.Errorf("range decryption failed: %w", err)
	}

	pos := r.prependHeaders(buf)
	buf.AppendAt(pos, plaintext)
	buf.SetTotalSize(pos + int64(len(plaintext)))
	buf.MarkEOF()

	r.log.Debug("decrypted seek window",
		zap.Uint64("plaintext_start", start),
		zap.Uint64("plaintext_end", end),
		zap.Int("encrypted_window", len(window)))
	return nil
}

func (r *Reader) prependHeaders(buf *SparseBuffer) int64 {
	if len(r.cfg.FLACHeaders) == 0 {
		return 0
	}
	buf.AppendAt(0, r.cfg.FLACHeaders)
	return int64(len(r.cfg.FLACHeaders))
}
