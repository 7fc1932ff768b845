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

// Package hlc implements the hybrid logical clock whose string encoding
// orders every write in a shared library.
//
// A timestamp is the ASCII string (19 characters plus the device id)
//
//	MMMMMMMMMMMMM-CCCC-DEVICE
//
// zero-padded milliseconds, a zero-padded intra-millisecond counter, and the
// issuing device id. Lexicographic comparison of two encoded timestamps
// equals their causal order, so `_updated_at` columns compare as plain
// strings everywhere.
package hlc

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrMalformed is returned when a string does not parse as a timestamp.
var ErrMalformed = errors.New("malformed hlc timestamp")

// Timestamp is a decoded hybrid-logical-clock tick.
type Timestamp struct {
	WallMillis int64
	Counter    int
	DeviceID   string
}

// String encodes the timestamp in its canonical, lexicographically ordered
// form.
func (t Timestamp) String() string {
	return fmt.Sprintf("%013d-%04d-%s", t.WallMillis, t.Counter, t.DeviceID)
}

// Parse decodes a canonical timestamp string.
func Parse(s string) (Timestamp, error) {
	parts := strings.SplitN(s, "-", 3)
	if len(parts) != 3 || len(parts[0]) != 13 || len(parts[1]) != 4 || parts[2] == "" {
		return Timestamp{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}

	ms, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Timestamp{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	counter, err := strconv.Atoi(parts[1])
	if err != nil {
		return Timestamp{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}

	return Timestamp{WallMillis: ms, Counter: counter, DeviceID: parts[2]}, nil
}

// Clock issues monotonically increasing timestamps for one device. Safe for
// concurrent use.
type Clock struct {
	mu       sync.Mutex
	deviceID string
	now      func() time.Time

	lastMillis  int64
	lastCounter int
}

// NewClock returns a clock for the given device id.
func NewClock(deviceID string) *Clock {
	return &Clock{deviceID: deviceID, now: time.Now}
}

// NewClockAt returns a clock with an injected time source, for tests.
func NewClockAt(deviceID string, now func() time.Time) *Clock {
	return &Clock{deviceID: deviceID, now: now}
}

// Now returns the next timestamp. Ticks never go backwards: if the wall
// clock stalls or regresses, the previous millisecond is reused and the
// counter disambiguates.
func (c *Clock) Now() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	ms := c.now().UnixMilli()
	if ms > c.lastMillis {
		c.lastMillis = ms
		c.lastCounter = 0
	} else {
		c.lastCounter++
		if c.lastCounter > 9999 {
			// counter exhausted within one millisecond; move to the next
			c.lastMillis++
			c.lastCounter = 0
		}
	}

	return Timestamp{WallMillis: c.lastMillis, Counter: c.lastCounter, DeviceID: c.deviceID}
}

// Observe advances the clock past a remote timestamp so that subsequent
// local ticks order after everything this device has seen.
func (c *Clock) Observe(remote Timestamp) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if remote.WallMillis > c.lastMillis ||
		(remote.WallMillis == c.lastMillis && remote.Counter > c.lastCounter) {
		c.lastMillis = remote.WallMillis
		c.lastCounter = remote.Counter
	}
}

// DeviceID returns the device id this clock stamps ticks with.
func (c *Clock) DeviceID() string {
	return c.deviceID
}
