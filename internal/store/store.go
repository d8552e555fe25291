package store

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/JhanGutierrez/ventry/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Empty database
// 1 - objects, object_indexes and the collection registry
const currentSchemaVersion = 1

// Store is the durable local object store.
// Uses SQLite with WAL mode and a single connection.
type Store struct {
	db *sqlx.DB
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// A database stamped with a schema version newer than this build understands
// is rejected with a SCHEMA_VERSION storage error and left untouched.
//
// This function is idempotent - safe to call multiple times.
func Open(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, classify("open database", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, classify("connect to database", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Update runs fn inside a write transaction. The transaction commits when fn
// returns nil and rolls back otherwise; fn's error is returned unchanged.
func (s *Store) Update(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return classify("begin transaction", err)
	}
	defer tx.Rollback()

	if err := fn(&Tx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return classify("commit transaction", err)
	}
	return nil
}

// View runs fn inside a transaction that is always rolled back, giving fn a
// consistent snapshot across several reads.
func (s *Store) View(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return classify("begin transaction", err)
	}
	defer tx.Rollback()

	return fn(&Tx{tx: tx})
}

// Tx is an open transaction handed to Update and View callbacks.
type Tx struct {
	tx *sqlx.Tx
}

// Handle is where a collection operation runs: a *Store or a *Tx.
type Handle interface {
	run(ctx context.Context, op string, fn func(q sqlx.ExtContext) error) error
}

func (s *Store) run(ctx context.Context, op string, fn func(q sqlx.ExtContext) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return classify(op, err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return classify(op, err)
	}
	return classify(op, tx.Commit())
}

func (t *Tx) run(_ context.Context, op string, fn func(q sqlx.ExtContext) error) error {
	return classify(op, fn(t.tx))
}

// SchemaVersion returns the schema epoch stamped on the database.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.GetContext(ctx, &version, "PRAGMA user_version"); err != nil {
		return 0, classify("read schema version", err)
	}
	return version, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sqlx.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return classify(fmt.Sprintf("execute %q", pragma), err)
		}
	}

	return nil
}

// applySchema checks the stored version, then creates tables and runs
// migrations. This function is idempotent.
func applySchema(db *sqlx.DB) error {
	var version int
	if err := db.Get(&version, "PRAGMA user_version"); err != nil {
		return classify("read schema version", err)
	}

	if version > currentSchemaVersion {
		return model.NewStorageError("open store", model.CodeSchemaVersion,
			fmt.Errorf("database schema version %d is newer than supported version %d", version, currentSchemaVersion))
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		return classify("apply schema", err)
	}

	return runMigrations(db, version)
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sqlx.DB, version int) error {
	// Version 1 is the initial layout created by schema.sql; later epochs add
	// their steps here before the stamp is written.
	if version == currentSchemaVersion {
		return nil
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return classify("set schema version", err)
	}

	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
