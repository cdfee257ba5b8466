package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loykin/taskvisor/internal/model"
	"github.com/loykin/taskvisor/internal/store"
)

// DB implements store.Store on SQLite (modernc.org/sqlite driver, CGO-free).
// The snapshot lives in a single row of taskvisor_snapshot.
// DSN is a filesystem path; ":memory:" keeps it in memory.
type DB struct {
	db *sql.DB
}

// New opens a SQLite database at path and ensures the schema.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// one writer; an in-memory database is per connection
	d.SetMaxOpenConns(1)
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	s := &DB{db: d}
	if err := s.EnsureSchema(context.Background()); err != nil {
		_ = d.Close()
		return nil, err
	}
	return s, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS taskvisor_snapshot(
		id INTEGER PRIMARY KEY CHECK (id = 1),
		version INTEGER NOT NULL,
		body TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);`)
	return err
}

func (s *DB) Load(ctx context.Context) (model.Snapshot, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM taskvisor_snapshot WHERE id = 1`).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Empty(), nil
	}
	if err != nil {
		return model.Snapshot{}, err
	}
	return store.Decode([]byte(body))
}

func (s *DB) Save(ctx context.Context, snap model.Snapshot) error {
	b, err := store.Encode(snap)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO taskvisor_snapshot(id, version, body, updated_at)
		VALUES(1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			version=excluded.version,
			body=excluded.body,
			updated_at=excluded.updated_at;`,
		int64(snap.Version), string(b), time.Now().UTC())
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *DB) Close() error { return s.db.Close() }
