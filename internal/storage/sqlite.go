package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jwebster45206/microsim/pkg/chat"
	"github.com/jwebster45206/microsim/pkg/storage"
	"github.com/jwebster45206/microsim/pkg/world"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS simulation (
	id           INTEGER PRIMARY KEY CHECK (id = 1),
	world_state  TEXT NOT NULL,
	chat_history TEXT NOT NULL DEFAULT '[]',
	updated_at   TEXT NOT NULL
);`

// SQLiteStore keeps the simulation record in a single-row SQLite table.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// Ensure SQLiteStore implements Store interface
var _ storage.Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens the database named by a sqlite:// DSN, creates the
// table if needed and seeds the initial record when the row is absent.
func NewSQLiteStore(ctx context.Context, dsn string, logger *slog.Logger) (*SQLiteStore, error) {
	driverDSN, err := parseSQLiteDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing sqlite DSN: %w", err)
	}

	db, err := sql.Open("sqlite", driverDSN)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	// One connection: :memory: databases are per-connection, and a single
	// writer is all this store needs.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA busy_timeout = 30000;",
		"PRAGMA journal_mode = WAL;",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("SQLite store ready", "dsn", driverDSN)
	return s, nil
}

func (s *SQLiteStore) ensureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("creating simulation table: %w", err)
	}

	initial := storage.InitialRecord(time.Now())
	stateJSON, historyJSON, err := encodeRecord(initial.WorldState, initial.ChatHistory)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO simulation (id, world_state, chat_history, updated_at) VALUES (1, ?, ?, ?)`,
		stateJSON, historyJSON, formatTime(initial.UpdatedAt))
	if err != nil {
		return fmt.Errorf("seeding simulation record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite ping failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		s.logger.Error("Failed to close SQLite database", "error", err)
		return err
	}
	s.logger.Info("SQLite database closed")
	return nil
}

func (s *SQLiteStore) Read(ctx context.Context) (*storage.Record, error) {
	var stateJSON, historyJSON, updatedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT world_state, chat_history, updated_at FROM simulation WHERE id = 1`,
	).Scan(&stateJSON, &historyJSON, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("simulation record missing")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read simulation record: %w", err)
	}

	rec, err := decodeRecord([]byte(stateJSON), []byte(historyJSON))
	if err != nil {
		return nil, err
	}
	rec.UpdatedAt, err = parseTime(updatedAt)
	if err != nil {
		s.logger.Warn("Unrecognized updated_at, reporting zero time", "updated_at", updatedAt, "error", err)
	}
	return rec, nil
}

func (s *SQLiteStore) Write(ctx context.Context, ws world.WorldState, history []chat.ChatMessage) error {
	stateJSON, historyJSON, err := encodeRecord(ws, history)
	if err != nil {
		return err
	}
	return s.update(ctx, stateJSON, historyJSON)
}

func (s *SQLiteStore) Reset(ctx context.Context) error {
	initial := storage.InitialRecord(time.Now())
	stateJSON, historyJSON, err := encodeRecord(initial.WorldState, initial.ChatHistory)
	if err != nil {
		return err
	}
	return s.update(ctx, stateJSON, historyJSON)
}

// update replaces both columns in one statement.
func (s *SQLiteStore) update(ctx context.Context, stateJSON, historyJSON string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE simulation SET world_state = ?, chat_history = ?, updated_at = ? WHERE id = 1`,
		stateJSON, historyJSON, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to write simulation record: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n != 1 {
		return fmt.Errorf("simulation record missing")
	}
	return nil
}

func encodeRecord(ws world.WorldState, history []chat.ChatMessage) (string, string, error) {
	stateJSON, err := json.Marshal(ws)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal world state: %w", err)
	}
	if history == nil {
		history = []chat.ChatMessage{}
	}
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal chat history: %w", err)
	}
	return string(stateJSON), string(historyJSON), nil
}

func decodeRecord(stateJSON, historyJSON []byte) (*storage.Record, error) {
	var rec storage.Record
	if err := json.Unmarshal(stateJSON, &rec.WorldState); err != nil {
		return nil, fmt.Errorf("failed to unmarshal world state: %w", err)
	}
	if err := json.Unmarshal(historyJSON, &rec.ChatHistory); err != nil {
		return nil, fmt.Errorf("failed to unmarshal chat history: %w", err)
	}
	if rec.ChatHistory == nil {
		rec.ChatHistory = []chat.ChatMessage{}
	}
	return &rec, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// sqliteDatetime is the layout of SQLite's datetime('now'), always UTC.
const sqliteDatetime = "2006-01-02 15:04:05"

// parseTime accepts our RFC 3339 timestamps and rows written with
// datetime('now'). updated_at is informational, so callers may ignore the
// error and keep the zero time.
func parseTime(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(sqliteDatetime, v, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid updated_at %q: %w", v, err)
	}
	return t, nil
}
