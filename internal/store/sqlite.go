package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// SQLiteRepository is a Repository backed by a local SQLite database.
type SQLiteRepository struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) a SQLiteRepository at path and runs the
// schema migration. Use ":memory:" for an in-memory database in tests.
func OpenSQLite(path string) (*SQLiteRepository, error) {
	if path == "" {
		return nil, fmt.Errorf("store: sqlite path is empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("store: create dir for %s: %w", path, err)
		}
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, repoErr("open "+path, err)
	}
	// A single connection serialises concurrent inserts from the ingest
	// workers and keeps ":memory:" databases alive across calls.
	db.SetMaxOpenConns(1)

	r := &SQLiteRepository{db: db}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *SQLiteRepository) migrate(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS passages (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    text        TEXT    NOT NULL,
    tokens      TEXT    NOT NULL,  -- JSON array of strings
    embedding   BLOB    NOT NULL,  -- little-endian uint32 ids
    created_at  INTEGER NOT NULL   -- Unix timestamp (seconds)
);
`
	if _, err := r.db.ExecContext(ctx, ddl); err != nil {
		return repoErr("migrate", err)
	}
	return nil
}

// Insert appends a single passage.
func (r *SQLiteRepository) Insert(ctx context.Context, p Passage) error {
	tokens, err := json.Marshal(p.Tokens)
	if err != nil {
		return repoErr("insert: encode tokens", err)
	}
	const q = `INSERT INTO passages (text, tokens, embedding, created_at) VALUES (?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, q, p.Text, string(tokens), encodeIDs(p.Embedding), time.Now().Unix()); err != nil {
		return repoErr("insert", err)
	}
	return nil
}

// Scan calls fn for every passage ordered by insertion id.
func (r *SQLiteRepository) Scan(ctx context.Context, fn func(Passage) error) error {
	rows, err := r.db.QueryContext(ctx, `SELECT text, tokens, embedding FROM passages ORDER BY id ASC`)
	if err != nil {
		return repoErr("scan", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			p      Passage
			tokens string
			blob   []byte
		)
		if err := rows.Scan(&p.Text, &tokens, &blob); err != nil {
			return repoErr("scan row", err)
		}
		if err := json.Unmarshal([]byte(tokens), &p.Tokens); err != nil {
			return repoErr("scan row: decode tokens", err)
		}
		if p.Embedding, err = decodeIDs(blob); err != nil {
			return repoErr("scan row", err)
		}
		if err := fn(p); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return repoErr("scan rows", err)
	}
	return nil
}

// Count returns the number of stored passages.
func (r *SQLiteRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM passages`).Scan(&n); err != nil {
		return 0, repoErr("count", err)
	}
	return n, nil
}

// Reset drops and recreates the passages table, restarting ids at 1.
func (r *SQLiteRepository) Reset(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DROP TABLE IF EXISTS passages`); err != nil {
		return repoErr("reset", err)
	}
	return r.migrate(ctx)
}

// Ping verifies the database connection.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return repoErr("ping", err)
	}
	return nil
}

// Close releases the database connection pool.
func (r *SQLiteRepository) Close() error {
	if err := r.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}

func encodeIDs(ids []uint32) []byte {
	buf := make([]byte, 4*len(ids))
	for i, id := range ids {
		binary.LittleEndian.PutUint32(buf[4*i:], id)
	}
	return buf
}

func decodeIDs(buf []byte) ([]uint32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(buf))
	}
	ids := make([]uint32, len(buf)/4)
	for i := range ids {
		ids[i] = binary.LittleEndian.Uint32(buf[4*i:])
	}
	return ids, nil
}
