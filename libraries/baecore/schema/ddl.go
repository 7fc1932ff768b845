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

// CreateStmts returns the DDL for the full local database: the synced
// surface plus the device-local tables the sync core needs. Statements are
// ordered so foreign keys resolve.
func CreateStmts() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS artists (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			sort_name TEXT,
			discogs_id TEXT,
			musicbrainz_id TEXT,
			created_at TEXT NOT NULL,
			_updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS albums (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			year INTEGER,
			cover_release_id TEXT,
			created_at TEXT NOT NULL,
			_updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS album_discogs_ids (
			id TEXT PRIMARY KEY,
			album_id TEXT NOT NULL REFERENCES albums(id),
			discogs_id TEXT NOT NULL,
			created_at TEXT NOT NULL,
			_updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS album_musicbrainz_ids (
			id TEXT PRIMARY KEY,
			album_id TEXT NOT NULL REFERENCES albums(id),
			musicbrainz_id TEXT NOT NULL,
			created_at TEXT NOT NULL,
			_updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS album_artists (
			id TEXT PRIMARY KEY,
			album_id TEXT NOT NULL REFERENCES albums(id),
			artist_id TEXT NOT NULL REFERENCES artists(id),
			position INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			_updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS releases (
			id TEXT PRIMARY KEY,
			album_id TEXT NOT NULL REFERENCES albums(id),
			title TEXT,
			year INTEGER,
			format TEXT,
			encrypted INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			_updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tracks (
			id TEXT PRIMARY KEY,
			release_id TEXT NOT NULL REFERENCES releases(id),
			title TEXT NOT NULL,
			track_number INTEGER,
			disc_number INTEGER,
			duration_ms INTEGER,
			created_at TEXT NOT NULL,
			_updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS track_artists (
			id TEXT PRIMARY KEY,
			track_id TEXT NOT NULL REFERENCES tracks(id),
			artist_id TEXT NOT NULL REFERENCES artists(id),
			position INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			_updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS release_files (
			id TEXT PRIMARY KEY,
			release_id TEXT NOT NULL REFERENCES releases(id),
			original_filename TEXT NOT NULL,
			content_type TEXT,
			file_size INTEGER,
			storage_key TEXT,
			source_path TEXT,
			encryption_nonce TEXT,
			created_at TEXT NOT NULL,
			_updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS audio_formats (
			id TEXT PRIMARY KEY,
			track_id TEXT NOT NULL REFERENCES tracks(id),
			codec TEXT,
			sample_rate INTEGER,
			bit_depth INTEGER,
			channels INTEGER,
			created_at TEXT NOT NULL,
			_updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS library_images (
			id TEXT PRIMARY KEY,
			album_id TEXT REFERENCES albums(id),
			type TEXT NOT NULL,
			content_type TEXT,
			file_size INTEGER,
			source TEXT,
			created_at TEXT NOT NULL,
			_updated_at TEXT NOT NULL
		)`,

		// device-local tables; never captured, never merged
		`CREATE TABLE IF NOT EXISTS storage_profiles (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			location TEXT NOT NULL,
			location_path TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sync_state (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			device_id TEXT NOT NULL,
			local_seq INTEGER NOT NULL DEFAULT 0,
			last_snapshot_seq INTEGER,
			last_snapshot_at TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS sync_cursors (
			device_id TEXT PRIMARY KEY,
			last_applied_seq INTEGER NOT NULL DEFAULT 0
		)`,
	}
}
