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

package blobstore

// BlobRange represents a segment of a blob. A negative offset addresses from
// the end of the blob; a length of 0 means to the end.
type BlobRange struct {
	offset int64
	length int64
}

// AllRange is the BlobRange covering an entire blob.
var AllRange = BlobRange{0, 0}

// NewBlobRange creates a BlobRange with a given offset and length. Length
// must not be negative.
func NewBlobRange(offset, length int64) BlobRange {
	if length < 0 {
		panic("BlobRange length must be >= 0")
	}
	return BlobRange{offset, length}
}

func (br BlobRange) isAllRange() bool {
	return br.offset == 0 && br.length == 0
}

// positiveRange resolves the range against a known blob size, returning an
// absolute offset and length.
func (br BlobRange) positiveRange(size int64) (offset, length int64) {
	offset = br.offset
	if offset < 0 {
		offset = size + offset
		if offset < 0 {
			offset = 0
		}
	}

	length = br.length
	if length == 0 || offset+length > size {
		length = size - offset
	}
	if length < 0 {
		length = 0
	}
	return offset, length
}
