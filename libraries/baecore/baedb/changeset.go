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

package baedb

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/goccy/go-json"
)

// OpKind discriminates the three row operations a changeset carries.
type OpKind string

const (
	OpInsert OpKind = "insert"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
)

// Op is a single-row operation against a synced table. Inserts and updates
// carry the full new row; deletes carry only the primary key.
type Op struct {
	Kind  OpKind         `json:"kind"`
	Table string         `json:"table"`
	PK    string         `json:"pk"`
	Row   map[string]any `json:"row,omitempty"`
}

// Changeset is the ordered operation list one capture session produced.
// Op order is execution order; the apply engine preserves it so parents
// inserted before children stay that way.
type Changeset struct {
	Ops []Op `json:"ops"`
}

// Empty reports whether the changeset carries no operations.
func (cs Changeset) Empty() bool {
	return len(cs.Ops) == 0
}

// Bytes serializes the changeset.
func (cs Changeset) Bytes() ([]byte, error) {
	return json.Marshal(cs)
}

// DecodeChangeset deserializes a changeset, preserving integer values.
func DecodeChangeset(data []byte) (Changeset, error) {
	var cs Changeset
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&cs); err != nil {
		return Changeset{}, fmt.Errorf("corrupt changeset: %w", err)
	}
	for _, op := range cs.Ops {
		normalizeRow(op.Row)
	}
	return cs, nil
}

// normalizeRow converts json.Number values to int64 where they are
// integral, so decoded rows bind to INTEGER columns the way the originals
// did.
func normalizeRow(row map[string]any) {
	for k, v := range row {
		num, ok := v.(json.Number)
		if !ok {
			continue
		}
		if i, err := num.Int64(); err == nil {
			row[k] = i
		} else if f, err := num.Float64(); err == nil {
			row[k] = f
		}
	}
}

// Recorder captures write operations against the synced tables. One
// recorder is attached per database; the coordinator drains it with Take
// and suspends it while applying incoming changesets so remote writes are
// never echoed back out.
type Recorder struct {
	mu        sync.Mutex
	suspended int
	ops       []Op
}

// NewRecorder returns an armed recorder with an empty session.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) record(op Op) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.suspended > 0 {
		return
	}
	r.ops = append(r.ops, op)
}

// Take returns the current session's changeset and opens a fresh session.
func (r *Recorder) Take() Changeset {
	r.mu.Lock()
	defer r.mu.Unlock()
	ops := r.ops
	r.ops = nil
	return Changeset{Ops: ops}
}

// Requeue puts ops back at the front of the session, in order. Used when a
// push fails after the session was drained so no local write is lost.
func (r *Recorder) Requeue(ops []Op) {
	if len(ops) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(append([]Op(nil), ops...), r.ops...)
}

// Pending returns the number of uncaptured operations.
func (r *Recorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ops)
}

// Suspend stops capture until the returned resume function is called.
// Suspension nests; capture re-arms when every scope has resumed.
func (r *Recorder) Suspend() func() {
	r.mu.Lock()
	r.suspended++
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			r.suspended--
			r.mu.Unlock()
		})
	}
}
