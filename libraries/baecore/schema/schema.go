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

// Package schema is the registry of the synced surface: which tables
// replicate between devices, and which of their columns are device-local
// and must never be overwritten by a remote merge.
package schema

// Version is the local schema version, compared against the bucket's
// min_schema_version during sync preflight.
const Version = 1

// SyncedTable describes one replicated table.
type SyncedTable struct {
	Name string

	// DeviceLocalColumns are preserved from the local row when a remote
	// update wins a conflict. Physical paths and the per-device encryption
	// nonce never replicate.
	DeviceLocalColumns []string
}

// SyncedTables is the fixed synced surface, in dependency order: parents
// precede children so schema creation and snapshot import satisfy foreign
// keys.
var SyncedTables = []SyncedTable{
	{Name: "artists"},
	{Name: "albums"},
	{Name: "album_discogs_ids"},
	{Name: "album_musicbrainz_ids"},
	{Name: "album_artists"},
	{Name: "releases"},
	{Name: "tracks"},
	{Name: "track_artists"},
	{Name: "release_files", DeviceLocalColumns: []string{"source_path", "encryption_nonce"}},
	{Name: "audio_formats"},
	{Name: "library_images"},
}

var syncedByName = func() map[string]SyncedTable {
	m := make(map[string]SyncedTable, len(SyncedTables))
	for _, t := range SyncedTables {
		m[t.Name] = t
	}
	return m
}()

// IsSynced reports whether table replicates between devices.
func IsSynced(table string) bool {
	_, ok := syncedByName[table]
	return ok
}

// DeviceLocalColumns returns the device-local columns of a synced table.
func DeviceLocalColumns(table string) []string {
	return syncedByName[table].DeviceLocalColumns
}

// IsDeviceLocal reports whether a column of a table is device-local.
func IsDeviceLocal(table, column string) bool {
	for _, c := range syncedByName[table].DeviceLocalColumns {
		if c == column {
			return true
		}
	}
	return false
}
