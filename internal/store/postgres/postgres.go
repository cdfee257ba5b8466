package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/loykin/taskvisor/internal/model"
	"github.com/loykin/taskvisor/internal/store"
)

// DB implements store.Store on PostgreSQL through the pgx stdlib driver.
type DB struct {
	db *sql.DB
}

func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	p := &DB{db: d}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.EnsureSchema(ctx); err != nil {
		_ = d.Close()
		return nil, err
	}
	return p, nil
}

func (p *DB) EnsureSchema(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS taskvisor_snapshot(
		id SMALLINT PRIMARY KEY CHECK (id = 1),
		version BIGINT NOT NULL,
		body JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);`)
	return err
}

func (p *DB) Load(ctx context.Context) (model.Snapshot, error) {
	var body []byte
	err := p.db.QueryRowContext(ctx, `SELECT body FROM taskvisor_snapshot WHERE id = 1`).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Empty(), nil
	}
	if err != nil {
		return model.Snapshot{}, err
	}
	return store.Decode(body)
}

func (p *DB) Save(ctx context.Context, snap model.Snapshot) error {
	b, err := store.Encode(snap)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO taskvisor_snapshot(id, version, body, updated_at)
		VALUES(1, $1, $2::jsonb, $3)
		ON CONFLICT (id) DO UPDATE SET
			version=EXCLUDED.version,
			body=EXCLUDED.body,
			updated_at=EXCLUDED.updated_at;`,
		int64(snap.Version), string(b), time.Now().UTC())
	return err
}

func (p *DB) Close() error { return p.db.Close() }
