// Package store is the storage layer: schema, migrations, transactions,
// FK+CASCADE, FTS5 triggers, and the vec0 virtual table that backs chunk
// k-NN search.
//
// Chunk vectors must never be scanned with in-memory code, and a pure-Go
// SQLite build with no extension-loading mechanism can't host a real k-NN
// virtual table, so this package uses ncruces/go-sqlite3 (pure Go, via
// wazero) paired with the real sqlite-vec extension — see DESIGN.md
// decision 1.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/asg017/sqlite-vec-go-bindings/ncruces"
	sqlite3 "github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"

	"github.com/fenv-org/mementor/internal/core/merr"
)

func init() {
	// The sqlite-vec wasm build uses atomic instructions, which wazero
	// only emits with the threads feature turned on (off by default).
	sqlite3.RuntimeConfig = wazero.NewRuntimeConfig().
		WithCoreFeatures(api.CoreFeaturesV2 | experimental.CoreFeaturesThreads)
}

// Store wraps the SQL handle and exposes the row-level primitives the rest
// of the core builds on.
type Store struct {
	db *sql.DB
}

// Open creates the parent directory if needed, opens the database with WAL
// journaling and a non-zero busy timeout (so two worktrees sharing the file
// serialize rather than abort), enables foreign-key enforcement and
// recursive triggers (so the implicit delete of an INSERT OR REPLACE fires
// chunks_ad), and applies migrations. The vec0 module comes from the
// sqlite-vec bindings import; Open runs no separate check for it.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, merr.Wrap(merr.KindStorage, "create db directory", err)
		}
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=recursive_triggers(1)&_pragma=journal_mode(wal)",
		path,
	)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, merr.Wrap(merr.KindStorage, "open database", err)
	}
	// A single writer connection avoids SQLITE_BUSY storms from this
	// process while still letting other processes hold the file lock
	// briefly; readers within this process share the same serialized path.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Begin starts a transaction. Embedding calls must never happen while a
// transaction from this method is open: callers embed first, then begin,
// insert, and commit.
func (s *Store) Begin() (*sql.Tx, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, merr.Wrap(merr.KindStorage, "begin transaction", err)
	}
	return tx, nil
}

// Exec runs a statement outside any explicit transaction.
func (s *Store) Exec(query string, args ...any) (sql.Result, error) {
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return nil, merr.Wrap(merr.KindStorage, "exec", err)
	}
	return res, nil
}

// Query runs a query outside any explicit transaction.
func (s *Store) Query(query string, args ...any) (*sql.Rows, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, merr.Wrap(merr.KindStorage, "query", err)
	}
	return rows, nil
}

// QueryRow runs a single-row query outside any explicit transaction.
func (s *Store) QueryRow(query string, args ...any) *sql.Row {
	return s.db.QueryRow(query, args...)
}

// DB exposes the raw handle for packages that need to build ad hoc queries
// (the query engine's hybrid search, primarily).
func (s *Store) DB() *sql.DB { return s.db }
