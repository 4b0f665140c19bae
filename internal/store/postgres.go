package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var _ Gateway = (*Postgres)(nil)

// Postgres implements Gateway over a single kv table:
//
//	create table kv (
//	    key        text primary key,
//	    value      jsonb not null,
//	    updated_at timestamptz not null default now()
//	);
type Postgres struct {
	db *sql.DB
}

// Open connects to PostgreSQL via the pgx stdlib driver and applies pool limits.
func Open(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &Postgres{db: db}, nil
}

// NewPostgres wraps an existing database handle.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// DB exposes the underlying handle for readiness probes and shutdown.
func (p *Postgres) DB() *sql.DB { return p.db }

func (p *Postgres) Get(ctx context.Context, key string) ([]byte, error) {
	row := p.db.QueryRowContext(ctx, `select value from kv where key = $1`, key)
	var value []byte
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return value, nil
}

func (p *Postgres) Put(ctx context.Context, key string, value []byte) error {
	_, err := p.db.ExecContext(ctx,
		`insert into kv(key, value, updated_at) values($1, $2, now())
		 on conflict (key) do update set value = excluded.value, updated_at = now()`,
		key, value,
	)
	return err
}

func (p *Postgres) Delete(ctx context.Context, key string) error {
	_, err := p.db.ExecContext(ctx, `delete from kv where key = $1`, key)
	return err
}

func (p *Postgres) List(ctx context.Context, prefix string) ([]Record, error) {
	rows, err := p.db.QueryContext(ctx,
		`select key, value from kv where key like $1 || '%' order by key asc`, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.Key, &rec.Value); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close releases the connection pool.
func (p *Postgres) Close() error { return p.db.Close() }
