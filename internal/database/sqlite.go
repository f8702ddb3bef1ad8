// Package database provides SQLite persistence for the operator's sealed
// identity-provider session.
package database

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Sealer encrypts rows before they reach disk.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(ciphertext []byte) ([]byte, error)
}

type SQLiteStore struct {
	db     *sql.DB
	sealer Sealer
}

func NewSQLiteStore(dbPath string, sealer Sealer) (*SQLiteStore, error) {
	if sealer == nil {
		return nil, fmt.Errorf("sqlite store requires a sealer")
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %v", err)
	}
	// every connection to ":memory:" is a separate database
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init database: couldn't set journal mode: %v", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init database: %v", err)
	}

	return &SQLiteStore{db: db, sealer: sealer}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func initSchema(db *sql.DB) error {
	if err := initTable(db, "session", `
		CREATE TABLE IF NOT EXISTS session (
			id          INTEGER PRIMARY KEY CHECK (id = 1),
			sealed      BLOB NOT NULL,
			updated     INTEGER NOT NULL
		);`,
	); err != nil {
		return err
	}

	return nil
}

func initTable(
	db *sql.DB,
	name string,
	sql string,
) error {
	if _, err := db.Exec(sql); err != nil {
		return fmt.Errorf("failed to init '%s' table schema: %v", name, err)
	}
	return nil
}
