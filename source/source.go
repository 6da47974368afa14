// Package source reads the Chinook SQLite database.
//
// All iteration is cursor driven: every stream takes an afterID and yields
// rows strictly in ascending primary key order, so an interrupted run can
// resume from a single persisted scalar per entity type. Rows come back
// denormalized, already joined with the parent and reference data the
// transformers need.
package source

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the source database handle.
type DB struct {
	db *sql.DB
}

// Open opens the source database read-only. The file must already exist;
// the sqlite driver would otherwise silently create an empty database.
func Open(path string) (*DB, error) {

	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("source database not found: %s", path)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("unable to open source database: %w", err)
	}

	return &DB{db: db}, nil
}

// OpenHandle wraps an already opened handle. Used by tests seeding fixtures
// into an in-memory database.
func OpenHandle(db *sql.DB) *DB {
	return &DB{db: db}
}

// Close releases the database handle.
func (d *DB) Close() error {
	return d.db.Close()
}

var countQueries = map[string]string{
	"Artist":   "SELECT COUNT(*) FROM Artist",
	"Album":    "SELECT COUNT(*) FROM Album",
	"Track":    "SELECT COUNT(*) FROM Track",
	"Customer": "SELECT COUNT(*) FROM Customer",
	"Invoice":  "SELECT COUNT(*) FROM Invoice",
	"Playlist": "SELECT COUNT(*) FROM Playlist",
	"Employee": "SELECT COUNT(*) FROM Employee",
}

// Count returns the row count of one source entity table.
func (d *DB) Count(ctx context.Context, entity string) (int64, error) {
	q, ok := countQueries[entity]
	if !ok {
		return 0, fmt.Errorf("unknown source entity %q", entity)
	}
	var n int64
	if err := d.db.QueryRowContext(ctx, q).Scan(&n); err != nil {
		return 0, fmt.Errorf("unable to count %s rows: %w", entity, err)
	}
	return n, nil
}

// required unwraps a NOT NULL-by-contract column, rejecting the row when the
// source holds a NULL instead of propagating a partial record.
func required(ns sql.NullString, field string, id int64) (string, error) {
	if !ns.Valid {
		return "", fmt.Errorf("row %d missing required field %s", id, field)
	}
	return ns.String, nil
}

func optStr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func optInt(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	n := ni.Int64
	return &n
}

func optFloat(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	f := nf.Float64
	return &f
}
