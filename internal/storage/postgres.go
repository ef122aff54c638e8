package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jwebster45206/microsim/pkg/chat"
	"github.com/jwebster45206/microsim/pkg/storage"
	"github.com/jwebster45206/microsim/pkg/world"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS simulation (
    id           INTEGER PRIMARY KEY CHECK (id = 1),
    world_state  JSONB NOT NULL,
    chat_history JSONB NOT NULL DEFAULT '[]',
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);`

// PostgresStore keeps the simulation record in a single-row PostgreSQL table.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Ensure PostgresStore implements Store interface
var _ storage.Store = (*PostgresStore)(nil)

// NewPostgresStore connects, creates the table if needed and seeds the
// initial record when the row is absent.
func NewPostgresStore(ctx context.Context, dsn string, logger *slog.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("creating postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	p := &PostgresStore{pool: pool, logger: logger}
	if err := p.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("PostgreSQL store ready")
	return p, nil
}

func (p *PostgresStore) ensureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("creating simulation table: %w", err)
	}

	initial := storage.InitialRecord(time.Now())
	stateJSON, historyJSON, err := encodeRecord(initial.WorldState, initial.ChatHistory)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO simulation (id, world_state, chat_history, updated_at)
		 VALUES (1, $1::jsonb, $2::jsonb, $3)
		 ON CONFLICT (id) DO NOTHING`,
		stateJSON, historyJSON, initial.UpdatedAt)
	if err != nil {
		return fmt.Errorf("seeding simulation record: %w", err)
	}
	return nil
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping failed: %w", err)
	}
	return nil
}

func (p *PostgresStore) Close() error {
	p.pool.Close()
	p.logger.Info("PostgreSQL pool closed")
	return nil
}

func (p *PostgresStore) Read(ctx context.Context) (*storage.Record, error) {
	var (
		stateJSON, historyJSON []byte
		updatedAt              time.Time
	)
	err := p.pool.QueryRow(ctx,
		`SELECT world_state::text, chat_history::text, updated_at FROM simulation WHERE id = 1`,
	).Scan(&stateJSON, &historyJSON, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("simulation record missing")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read simulation record: %w", err)
	}

	rec, err := decodeRecord(stateJSON, historyJSON)
	if err != nil {
		return nil, err
	}
	rec.UpdatedAt = updatedAt.UTC()
	return rec, nil
}

func (p *PostgresStore) Write(ctx context.Context, ws world.WorldState, history []chat.ChatMessage) error {
	stateJSON, historyJSON, err := encodeRecord(ws, history)
	if err != nil {
		return err
	}
	return p.update(ctx, stateJSON, historyJSON)
}

func (p *PostgresStore) Reset(ctx context.Context) error {
	initial := storage.InitialRecord(time.Now())
	stateJSON, historyJSON, err := encodeRecord(initial.WorldState, initial.ChatHistory)
	if err != nil {
		return err
	}
	return p.update(ctx, stateJSON, historyJSON)
}

func (p *PostgresStore) update(ctx context.Context, stateJSON, historyJSON string) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE simulation SET world_state = $1::jsonb, chat_history = $2::jsonb, updated_at = now() WHERE id = 1`,
		stateJSON, historyJSON)
	if err != nil {
		return fmt.Errorf("failed to write simulation record: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("simulation record missing")
	}
	return nil
}
