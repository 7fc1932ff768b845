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

package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSyncedSurface(t *testing.T) {
	// the synced surface is fixed: exactly these eleven tables
	assert.Len(t, SyncedTables, 11)

	for _, table := range []string{
		"artists", "albums", "album_discogs_ids", "album_musicbrainz_ids",
		"album_artists", "releases", "tracks", "track_artists",
		"release_files", "audio_formats", "library_images",
	} {
		assert.True(t, IsSynced(table), table)
	}

	assert.False(t, IsSynced("storage_profiles"))
	assert.False(t, IsSynced("sync_state"))
	assert.False(t, IsSynced("sync_cursors"))
}

func TestDeviceLocalColumns(t *testing.T) {
	assert.Equal(t, []string{"source_path", "encryption_nonce"}, DeviceLocalColumns("release_files"))
	assert.Empty(t, DeviceLocalColumns("artists"))

	assert.True(t, IsDeviceLocal("release_files", "source_path"))
	assert.True(t, IsDeviceLocal("release_files", "encryption_nonce"))
	assert.False(t, IsDeviceLocal("release_files", "original_filename"))
	assert.False(t, IsDeviceLocal("artists", "name"))
}
