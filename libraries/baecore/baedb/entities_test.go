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
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArtistCRUD(t *testing.T) {
	d := openTestDB(t)

	id := NewID()
	require.NoError(t, d.InsertArtist(Artist{
		ID:        id,
		Name:      "Miles Davis",
		DiscogsID: sql.NullString{String: "23755", Valid: true},
	}))

	a, err := d.GetArtist(id)
	require.NoError(t, err)
	assert.Equal(t, "Miles Davis", a.Name)
	assert.Equal(t, "23755", a.DiscogsID.String)
	assert.NotEmpty(t, a.UpdatedAt)

	byName, err := d.GetArtistByName("Miles Davis")
	require.NoError(t, err)
	assert.Equal(t, id, byName.ID)

	_, err = d.GetArtist("missing")
	assert.ErrorIs(t, err, ErrRowNotFound)

	// the typed write went through capture
	cs := d.Recorder().Take()
	require.Len(t, cs.Ops, 1)
	assert.Equal(t, "artists", cs.Ops[0].Table)
}

func TestDeviceLocalFileUpdatesAreNotCaptured(t *testing.T) {
	d := openTestDB(t)

	require.NoError(t, d.InsertRow("albums", map[string]any{
		"id": "al1", "title": "Kind of Blue", "created_at": "2026-01-01",
	}))
	require.NoError(t, d.InsertRow("releases", map[string]any{
		"id": "r1", "album_id": "al1", "created_at": "2026-01-01",
	}))
	require.NoError(t, d.InsertRow("release_files", map[string]any{
		"id": "f1", "release_id": "r1", "original_filename": "track.flac",
		"created_at": "2026-01-01",
	}))
	d.Recorder().Take()

	require.NoError(t, d.SetFileSourcePath("f1", "/mnt/music/track.flac"))
	require.NoError(t, d.SetFileEncryptionNonce("f1", "00112233"))

	assert.True(t, d.Recorder().Take().Empty(), "device-local column writes must not sync")

	f, err := d.GetReleaseFile("f1")
	require.NoError(t, err)
	assert.Equal(t, "/mnt/music/track.flac", f.SourcePath.String)
	assert.Equal(t, "00112233", f.EncryptionNonce.String)

	files, err := d.GetReleaseFiles("r1")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "track.flac", files[0].OriginalFilename)
}
