/*
 * Copyright (c) 2024. Anton Starikov -- All Rights Reserved
 *
 * This file is part of MHPBC project.
 *
 * MHPBC is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as the Free Software Foundation,
 * either version 3 of the License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package db keeps a journal of state transitions and fault changes in SQLite.
package db

import (
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// Entry is one journal line, either a transition or a fault change.
type Entry struct {
	Kind    string `db:"kind"`
	Subject string `db:"subject"`
	Detail  string `db:"detail"`
	// CreatedAt is in unix milliseconds.
	CreatedAt int64 `db:"created_at"`
}

func (e Entry) Time() time.Time {
	return time.UnixMilli(e.CreatedAt)
}

type Journal struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewJournal(_db *sqlx.DB) *Journal {
	return &Journal{db: _db, now: time.Now}
}

// Open opens the journal at dbFile, creating it if needed.
func Open(dbFile string) (*Journal, error) {
	sqlDB, err := OpenDatabase(dbFile)
	if err != nil {
		return nil, err
	}
	return NewJournal(sqlDB), nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) RecordTransition(from, to, reason string) error {
	const QUERY = `
		INSERT INTO transition(from_state,to_state,reason,created_at)
		VALUES($1,$2,$3,$4);`
	_, err := j.db.Exec(QUERY, from, to, reason, j.now().UnixMilli())
	return errors.Wrap(err, "record transition")
}

func (j *Journal) RecordFault(path string, code int) error {
	const QUERY = `
		INSERT INTO fault(path,code,created_at)
		VALUES($1,$2,$3);`
	_, err := j.db.Exec(QUERY, path, code, j.now().UnixMilli())
	return errors.Wrap(err, "record fault")
}

// List returns the newest n entries, newest first.
func (j *Journal) List(n int) ([]Entry, error) {
	const QUERY = `
		SELECT kind, subject, detail, created_at FROM (
			SELECT 'transition' AS kind, from_state || ' -> ' || to_state AS subject,
				reason AS detail, created_at, id FROM transition
			UNION ALL
			SELECT 'fault' AS kind, path AS subject, CAST(code AS TEXT) AS detail, created_at, id FROM fault
		) ORDER BY created_at DESC, id DESC LIMIT $1;`
	var entries []Entry
	if err := j.db.Select(&entries, QUERY, n); err != nil {
		return nil, errors.Wrap(err, "list journal")
	}
	return entries, nil
}
