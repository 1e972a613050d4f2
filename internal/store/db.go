package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	apperrors "local-search-mcp/internal/errors"
)

func init() {
	sqlite_vec.Auto()
}

// DB owns the single SQLite connection backing both the vector store and
// the recommendation repository. The spec requires a single-writer model;
// SetMaxOpenConns(1) together with WAL mode serializes writers while still
// allowing concurrent readers within the same connection's snapshot.
type DB struct {
	conn *sql.DB
	dim  int
}

// Open creates (if needed) and opens the database at path, applying the
// spec's pragma set (WAL, synchronous=NORMAL, 64MB page cache by default)
// and the schema sized to dim, the active embedding backend's dimension.
func Open(ctx context.Context, path string, dim int, cacheMB int) (*DB, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, apperrors.Storage("creating database directory", err)
		}
	}

	if cacheMB <= 0 {
		cacheMB = 64
	}
	dsn := fmt.Sprintf(
		"%s?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on&_busy_timeout=30000&_cache_size=-%d",
		path, cacheMB*1024,
	)

	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, apperrors.Storage("opening database", err)
	}
	// The SQLite write-ahead log still requires a single writer; capping the
	// pool to one connection avoids SQLITE_BUSY races across goroutines.
	conn.SetMaxOpenConns(1)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, apperrors.Storage("pinging database", err)
	}

	if _, err := conn.ExecContext(ctx, schemaSQL(dim)); err != nil {
		conn.Close()
		return nil, apperrors.Storage("creating schema", err)
	}

	db := &DB{conn: conn, dim: dim}
	if err := db.ensureLearningParameters(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Dimension returns the vector width the database was created with.
func (db *DB) Dimension() int { return db.dim }

// Close releases the underlying connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Storage("beginning transaction", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperrors.Storage("committing transaction", err)
	}
	return nil
}
