package store

import (
	_ "github.com/lib/pq" // load the postgres driver
)

// NewPostgres returns a store backed by PostgreSQL. It connects to the
// database using connstr and creates any missing tables.
func NewPostgres(connstr string) (*SQL, error) {
	return openSQL("postgres", connstr)
}
