package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const queueStateSchema = `
CREATE TABLE IF NOT EXISTS queue_state (
	id         INT PRIMARY KEY,
	state      TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Postgres persists the queue state as a single versioned row. The state is
// stored as TEXT rather than JSONB so reloads are byte-identical to what was
// written. An alternative to the default File store for deployments that
// already run Postgres.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPool creates a pgxpool and verifies connectivity.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return pool, nil
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Migrate creates the queue_state table if it does not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, queueStateSchema); err != nil {
		return fmt.Errorf("create queue_state table: %w", err)
	}
	return nil
}

func (p *Postgres) Load(ctx context.Context) (*QueueState, error) {
	var raw string
	err := p.pool.QueryRow(ctx, `SELECT state FROM queue_state WHERE id = 1`).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return NewQueueState(), nil
		}
		return nil, fmt.Errorf("load queue state: %w", err)
	}

	var state QueueState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("decode queue state: %w", err)
	}
	if state.Version != StateVersion {
		return nil, fmt.Errorf("queue state: unsupported version %d", state.Version)
	}
	return &state, nil
}

func (p *Postgres) Save(ctx context.Context, state *QueueState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode queue state: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO queue_state (id, state, updated_at)
		VALUES (1, $1, now())
		ON CONFLICT (id) DO UPDATE SET state = EXCLUDED.state, updated_at = now()
	`, string(data))
	if err != nil {
		return fmt.Errorf("save queue state: %w", err)
	}
	return nil
}
