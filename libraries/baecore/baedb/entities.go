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
	"time"

	"github.com/google/uuid"
)

// Artist is a row in the artists table.
type Artist struct {
	ID            string         `db:"id"`
	Name          string         `db:"name"`
	SortName      sql.NullString `db:"sort_name"`
	DiscogsID     sql.NullString `db:"discogs_id"`
	MusicBrainzID sql.NullString `db:"musicbrainz_id"`
	CreatedAt     string         `db:"created_at"`
	UpdatedAt     string         `db:"_updated_at"`
}

// Album is a row in the albums table.
type Album struct {
	ID             string         `db:"id"`
	Title          string         `db:"title"`
	Year           sql.NullInt64  `db:"year"`
	CoverReleaseID sql.NullString `db:"cover_release_id"`
	CreatedAt      string         `db:"created_at"`
	UpdatedAt      string         `db:"_updated_at"`
}

// ReleaseFile is a row in the release_files table. SourcePath and
// EncryptionNonce are device-local and never replicate.
type ReleaseFile struct {
	ID               string         `db:"id"`
	ReleaseID        string         `db:"release_id"`
	OriginalFilename string         `db:"original_filename"`
	ContentType      sql.NullString `db:"content_type"`
	FileSize         sql.NullInt64  `db:"file_size"`
	StorageKey       sql.NullString `db:"storage_key"`
	SourcePath       sql.NullString `db:"source_path"`
	EncryptionNonce  sql.NullString `db:"encryption_nonce"`
	CreatedAt        string         `db:"created_at"`
	UpdatedAt        string         `db:"_updated_at"`
}

// NewID mints an entity id.
func NewID() string {
	return uuid.NewString()
}

func nowStamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// InsertArtist writes a new artist through the captured row path.
func (d *Database) InsertArtist(a Artist) error {
	if a.CreatedAt == "" {
		a.CreatedAt = nowStamp()
	}
	row := map[string]any{
		"id":         a.ID,
		"name":       a.Name,
		"created_at": a.CreatedAt,
	}
	if a.SortName.Valid {
		row["sort_name"] = a.SortName.String
	}
	if a.DiscogsID.Valid {
		row["discogs_id"] = a.DiscogsID.String
	}
	if a.MusicBrainzID.Valid {
		row["musicbrainz_id"] = a.MusicBrainzID.String
	}
	if a.UpdatedAt != "" {
		row["_updated_at"] = a.UpdatedAt
	}
	return d.InsertRow("artists", row)
}

// GetArtist fetches an artist by id.
func (d *Database) GetArtist(id string) (Artist, error) {
	var a Artist
	err := d.db.Get(&a, `SELECT * FROM artists WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return Artist{}, ErrRowNotFound
	}
	return a, err
}

// GetArtistByName fetches an artist by exact name.
func (d *Database) GetArtistByName(name string) (Artist, error) {
	var a Artist
	err := d.db.Get(&a, `SELECT * FROM artists WHERE name = ? LIMIT 1`, name)
	if err == sql.ErrNoRows {
		return Artist{}, ErrRowNotFound
	}
	return a, err
}

// GetReleaseFile fetches a release file by id.
func (d *Database) GetReleaseFile(id string) (ReleaseFile, error) {
	var f ReleaseFile
	err := d.db.Get(&f, `SELECT * FROM release_files WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return ReleaseFile{}, ErrRowNotFound
	}
	return f, err
}

// GetReleaseFiles fetches all files of a release.
func (d *Database) GetReleaseFiles(releaseID string) ([]ReleaseFile, error) {
	var files []ReleaseFile
	err := d.db.Select(&files, `SELECT * FROM release_files WHERE release_id = ? ORDER BY original_filename`, releaseID)
	return files, err
}

// SetFileSourcePath updates the device-local path of a file without
// advancing its sync timestamp: the change is invisible to other devices.
func (d *Database) SetFileSourcePath(fileID, sourcePath string) error {
	_, err := d.db.Exec(`UPDATE release_files SET source_path = ? WHERE id = ?`, sourcePath, fileID)
	return err
}

// SetFileEncryptionNonce records the nonce this device used when it
// encrypted its copy, enabling minimal-range playback seeks. Device-local.
func (d *Database) SetFileEncryptionNonce(fileID, nonceHex string) error {
	_, err := d.db.Exec(`UPDATE release_files SET encryption_nonce = ? WHERE id = ?`, nonceHex, fileID)
	return err
}
