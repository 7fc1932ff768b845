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
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/baebaebaebaebae/bae/go/libraries/baecore/schema"
)

// ErrRowNotFound is returned by row lookups for missing ids.
var ErrRowNotFound = errors.New("row not found")

// InsertRow inserts a full row into a table. Writes to synced tables are
// stamped with the clock's next tick unless the row already carries an
// _updated_at, and are recorded for the next outgoing changeset.
func (d *Database) InsertRow(table string, row map[string]any) error {
	row = d.stamp(table, row)

	cols := sortedColumns(row)
	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		placeholders[i] = "?"
		args[i] = row[c]
	}

	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	if _, err := d.db.Exec(q, args...); err != nil {
		return err
	}

	if schema.IsSynced(table) {
		d.recorder.record(Op{Kind: OpInsert, Table: table, PK: pkOf(row), Row: row})
	}
	return nil
}

// ReplaceRow overwrites the full row with the given id. Used both by local
// updates and by the apply engine when an incoming row wins.
func (d *Database) ReplaceRow(table string, row map[string]any) error {
	row = d.stamp(table, row)

	cols := sortedColumns(row)
	sets := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols)+1)
	for _, c := range cols {
		if c == "id" {
			continue
		}
		sets = append(sets, c+" = ?")
		args = append(args, row[c])
	}
	args = append(args, row["id"])

	q := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", table, strings.Join(sets, ", "))
	res, err := d.db.Exec(q, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s.%v", ErrRowNotFound, table, row["id"])
	}

	if schema.IsSynced(table) {
		d.recorder.record(Op{Kind: OpUpdate, Table: table, PK: pkOf(row), Row: row})
	}
	return nil
}

// DeleteRow removes the row with the given id. Deleting an absent row is
// not an error; the delete is still recorded so peers converge.
func (d *Database) DeleteRow(table, id string) error {
	if _, err := d.db.Exec(fmt.Sprintf("DELETE FROM %s WHERE id = ?", table), id); err != nil {
		return err
	}
	if schema.IsSynced(table) {
		d.recorder.record(Op{Kind: OpDelete, Table: table, PK: id})
	}
	return nil
}

// GetRow returns the full row with the given id as a column map.
func (d *Database) GetRow(table, id string) (map[string]any, error) {
	rows, err := d.db.Queryx(fmt.Sprintf("SELECT * FROM %s WHERE id = ?", table), id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, fmt.Errorf("%w: %s.%s", ErrRowNotFound, table, id)
	}

	row := map[string]any{}
	if err := rows.MapScan(row); err != nil {
		return nil, err
	}
	for k, v := range row {
		if b, ok := v.([]byte); ok {
			row[k] = string(b)
		}
	}
	return row, nil
}

// RowUpdatedAt returns the _updated_at of the row with the given id, or
// ErrRowNotFound.
func (d *Database) RowUpdatedAt(table, id string) (string, error) {
	var updatedAt string
	err := d.db.Get(&updatedAt,
		fmt.Sprintf("SELECT _updated_at FROM %s WHERE id = ?", table), id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s.%s", ErrRowNotFound, table, id)
	}
	return updatedAt, err
}

// stamp fills _updated_at on synced-table rows that don't carry one.
func (d *Database) stamp(table string, row map[string]any) map[string]any {
	if !schema.IsSynced(table) {
		return row
	}
	if _, ok := row["_updated_at"]; ok {
		return row
	}
	stamped := make(map[string]any, len(row)+1)
	for k, v := range row {
		stamped[k] = v
	}
	stamped["_updated_at"] = d.clock.Now().String()
	return stamped
}

func sortedColumns(row map[string]any) []string {
	cols := make([]string, 0, len(row))
	for c := range row {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

func pkOf(row map[string]any) string {
	id, _ := row["id"].(string)
	return id
}
