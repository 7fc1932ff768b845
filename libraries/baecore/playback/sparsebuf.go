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

// Package playback streams audio bytes from local or cloud storage into a
// shared buffer for a blocking decoder thread, downloading only the
// encrypted chunks a seek actually needs.
package playback

import (
	"errors"
	"io"
	"sort"
	"sync"
)

// ErrCancelled is returned by Read after the buffer has been cancelled.
var ErrCancelled = errors.New("sparse buffer cancelled")

type extent struct {
	start, end int64
}

// SparseBuffer is a byte-addressed buffer connecting one async producer to
// one blocking consumer. The producer publishes slices at absolute offsets,
// possibly out of order; the consumer's Read blocks until bytes exist at
// its cursor. A reader never observes a byte before it has been published.
type SparseBuffer struct {
	mu   sync.Mutex
	cond *sync.Cond

	data      []byte
	extents   []extent
	totalSize int64 // -1 until known
	eof       bool
	cancelled bool
	readPos   int64
}

var _ io.Reader = (*SparseBuffer)(nil)

// NewSparseBuffer returns an empty buffer of unknown size.
func NewSparseBuffer() *SparseBuffer {
	sb := &SparseBuffer{totalSize: -1}
	sb.cond = sync.NewCond(&sb.mu)
	return sb
}

// AppendAt publishes bytes at an absolute offset, extending the logical
// size as needed. Appends to a cancelled buffer are dropped.
func (sb *SparseBuffer) AppendAt(offset int64, p []byte) {
	if len(p) == 0 {
		return
	}

	sb.mu.Lock()
	defer sb.mu.Unlock()
	if sb.cancelled {
		return
	}

	end := offset + int64(len(p))
	if int64(len(sb.data)) < end {
		grown := make([]byte, end)
		copy(grown, sb.data)
		sb.data = grown
	}
	copy(sb.data[offset:end], p)
	sb.addExtent(offset, end)
	sb.cond.Broadcast()
}

// addExtent inserts [start, end) and merges overlapping or adjacent runs.
func (sb *SparseBuffer) addExtent(start, end int64) {
	sb.extents = append(sb.extents, extent{start, end})
	sort.Slice(sb.extents, func(i, j int) bool { return sb.extents[i].start < sb.extents[j].start })

	merged := sb.extents[:1]
	for _, e := range sb.extents[1:] {
		last := &merged[len(merged)-1]
		if e.start <= last.end {
			if e.end > last.end {
				last.end = e.end
			}
		} else {
			merged = append(merged, e)
		}
	}
	sb.extents = merged
}

// SetTotalSize declares the buffer's final length.
func (sb *SparseBuffer) SetTotalSize(n int64) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.totalSize = n
	sb.cond.Broadcast()
}

// MarkEOF declares that no further bytes will be published. If no total
// size was set, the highest published offset becomes the size.
func (sb *SparseBuffer) MarkEOF() {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.eof = true
	if sb.totalSize < 0 {
		sb.totalSize = sb.publishedEnd()
	}
	sb.cond.Broadcast()
}

// Cancel abandons the buffer. Cancellation is terminal: blocked and future
// reads fail with ErrCancelled.
func (sb *SparseBuffer) Cancel() {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.cancelled = true
	sb.cond.Broadcast()
}

// IsCancelled reports whether the buffer has been cancelled.
func (sb *SparseBuffer) IsCancelled() bool {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.cancelled
}

// Size returns the declared total size, or -1 while unknown.
func (sb *SparseBuffer) Size() int64 {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.totalSize
}

// Read copies published bytes at the read cursor into p, blocking
// cooperatively until at least one byte is available. The cursor advances
// strictly monotonically. Returns io.EOF at the declared end and
// ErrCancelled after Cancel.
func (sb *SparseBuffer) Read(p []byte) (int, error) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	for {
		if sb.cancelled {
			return 0, ErrCancelled
		}
		if sb.eof && sb.totalSize >= 0 && sb.readPos >= sb.totalSize {
			return 0, io.EOF
		}

		if available := sb.availableAt(sb.readPos); available > 0 {
			n := int64(len(p))
			if available < n {
				n = available
			}
			copy(p, sb.data[sb.readPos:sb.readPos+n])
			sb.readPos += n
			return int(n), nil
		}

		sb.cond.Wait()
	}
}

// availableAt returns how many contiguous published bytes exist at pos.
func (sb *SparseBuffer) availableAt(pos int64) int64 {
	for _, e := range sb.extents {
		if pos >= e.start && pos < e.end {
			return e.end - pos
		}
	}
	return 0
}

func (sb *SparseBuffer) publishedEnd() int64 {
	if len(sb.extents) == 0 {
		return 0
	}
	return sb.extents[len(sb.extents)-1].end
}
