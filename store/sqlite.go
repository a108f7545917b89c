package store

import (
	_ "modernc.org/sqlite" // load the sqlite driver
)

// NewSQLite returns a store backed by the SQLite database file at path,
// creating the file and its tables if needed.
func NewSQLite(path string) (*SQL, error) {
	return openSQL("sqlite", path)
}
