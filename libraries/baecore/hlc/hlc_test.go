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

package hlc

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	ts := Timestamp{WallMillis: 1000, Counter: 0, DeviceID: "dev1"}
	assert.Equal(t, "0000000001000-0000-dev1", ts.String())

	parsed, err := Parse("0000000001000-0000-dev1")
	require.NoError(t, err)
	assert.Equal(t, ts, parsed)
}

func TestParseMalformed(t *testing.T) {
	for _, s := range []string{
		"",
		"1000-0000-dev1",
		"0000000001000-0000-",
		"000000000100x-0000-dev1",
		"0000000001000-00zz-dev1",
		"00000000010000000dev1",
	} {
		_, err := Parse(s)
		assert.ErrorIs(t, err, ErrMalformed, "input %q", s)
	}
}

// Device ids may themselves contain dashes; only the first two separators
// delimit fields.
func TestParseDeviceIDWithDashes(t *testing.T) {
	parsed, err := Parse("0000000001000-0003-a-b-c")
	require.NoError(t, err)
	assert.Equal(t, "a-b-c", parsed.DeviceID)
	assert.Equal(t, 3, parsed.Counter)
}

func TestLexOrderEqualsCausalOrder(t *testing.T) {
	timestamps := []Timestamp{
		{WallMillis: 999, Counter: 9999, DeviceID: "dev2"},
		{WallMillis: 1000, Counter: 0, DeviceID: "dev1"},
		{WallMillis: 1000, Counter: 1, DeviceID: "dev1"},
		{WallMillis: 1000, Counter: 1, DeviceID: "dev2"},
		{WallMillis: 2000, Counter: 0, DeviceID: "dev1"},
		{WallMillis: 10000000000000, Counter: 0, DeviceID: "dev1"},
	}

	encoded := make([]string, len(timestamps))
	for i, ts := range timestamps {
		encoded[i] = ts.String()
	}

	assert.True(t, sort.StringsAreSorted(encoded), "lexicographic order must match causal order: %v", encoded)
}

func TestClockMonotonic(t *testing.T) {
	clock := NewClock("dev1")

	prev := clock.Now()
	for i := 0; i < 10000; i++ {
		next := clock.Now()
		require.Less(t, prev.String(), next.String())
		prev = next
	}
}

func TestClockSurvivesWallClockRegression(t *testing.T) {
	wall := time.UnixMilli(5000)
	clock := NewClockAt("dev1", func() time.Time { return wall })

	first := clock.Now()
	assert.Equal(t, int64(5000), first.WallMillis)

	wall = time.UnixMilli(4000)
	second := clock.Now()
	assert.Less(t, first.String(), second.String())
	assert.Equal(t, int64(5000), second.WallMillis)
	assert.Equal(t, 1, second.Counter)
}

func TestClockCounterExhaustion(t *testing.T) {
	wall := time.UnixMilli(5000)
	clock := NewClockAt("dev1", func() time.Time { return wall })

	var last Timestamp
	for i := 0; i <= 10000; i++ {
		last = clock.Now()
	}
	assert.Equal(t, int64(5001), last.WallMillis)
	assert.Equal(t, 0, last.Counter)
}

func TestObserve(t *testing.T) {
	wall := time.UnixMilli(1000)
	clock := NewClockAt("dev1", func() time.Time { return wall })

	clock.Observe(Timestamp{WallMillis: 9000, Counter: 3, DeviceID: "dev2"})

	next := clock.Now()
	assert.Greater(t, next.String(), Timestamp{WallMillis: 9000, Counter: 3, DeviceID: "dev2"}.String())

	// observing something older is a no-op
	clock.Observe(Timestamp{WallMillis: 100, Counter: 0, DeviceID: "dev3"})
	later := clock.Now()
	assert.Greater(t, later.String(), next.String())
}
