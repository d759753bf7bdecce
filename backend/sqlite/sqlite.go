package sqlite

import (
	"database/sql"
	_ "embed"
	"fmt"

	"github.com/Pranavj17/echo-sub001/backend"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

var _ backend.Backend = (*sqliteBackend)(nil)

// NewInMemoryBackend creates a store backed by an in-memory database. Data is
// lost when the backend is closed; intended for tests.
func NewInMemoryBackend(opts ...backend.Option) backend.Backend {
	b := newSqliteBackend("file::memory:", opts...)

	// A single connection keeps every query on the same in-memory database.
	b.db.SetMaxOpenConns(1)

	return b
}

// NewSqliteBackend creates a store backed by the database file at path,
// creating it with the embedded schema if needed.
func NewSqliteBackend(path string, opts ...backend.Option) backend.Backend {
	return newSqliteBackend(fmt.Sprintf("file:%v", path), opts...)
}

func newSqliteBackend(dsn string, opts ...backend.Option) *sqliteBackend {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		panic(err)
	}

	if _, err := db.Exec(schema); err != nil {
		panic(err)
	}

	return &sqliteBackend{
		db:      db,
		options: backend.ApplyOptions(opts...),
	}
}

type sqliteBackend struct {
	db      *sql.DB
	options backend.Options
}

func (sb *sqliteBackend) Close() error {
	return sb.db.Close()
}
