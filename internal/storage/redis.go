package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jwebster45206/microsim/pkg/chat"
	"github.com/jwebster45206/microsim/pkg/storage"
	"github.com/jwebster45206/microsim/pkg/world"
)

// RedisRecordKey holds the JSON-encoded simulation record.
const RedisRecordKey = "microsim:simulation"

// RedisStore keeps the simulation record as one JSON value. A single SET
// replaces state and history together.
type RedisStore struct {
	client *redis.Client
	logger *slog.Logger
}

// Ensure RedisStore implements Store interface
var _ storage.Store = (*RedisStore)(nil)

// NewRedisStore connects to the redis:// URL and seeds the record if absent.
func NewRedisStore(ctx context.Context, redisURL string, logger *slog.Logger) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	return NewRedisStoreFromClient(ctx, redis.NewClient(opt), logger)
}

// NewRedisStoreFromClient wraps an existing client. The store owns the client
// and closes it on Close.
func NewRedisStoreFromClient(ctx context.Context, client *redis.Client, logger *slog.Logger) (*RedisStore, error) {
	r := &RedisStore{client: client, logger: logger}
	if err := r.Ping(ctx); err != nil {
		client.Close()
		return nil, err
	}

	data, err := marshalRecord(storage.InitialRecord(time.Now()))
	if err != nil {
		client.Close()
		return nil, err
	}
	seeded, err := client.SetNX(ctx, RedisRecordKey, data, 0).Result()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to seed simulation record: %w", err)
	}
	if seeded {
		logger.Info("Seeded initial simulation record", "key", RedisRecordKey)
	}
	return r, nil
}

func (r *RedisStore) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (r *RedisStore) Close() error {
	if err := r.client.Close(); err != nil {
		r.logger.Error("Failed to close Redis connection", "error", err)
		return err
	}
	r.logger.Info("Redis connection closed")
	return nil
}

func (r *RedisStore) Read(ctx context.Context) (*storage.Record, error) {
	data, err := r.client.Get(ctx, RedisRecordKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("simulation record missing")
	}
	if err != nil {
		r.logger.Error("Failed to load simulation record", "error", err)
		return nil, fmt.Errorf("failed to load simulation record: %w", err)
	}

	var rec storage.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		r.logger.Error("Failed to unmarshal simulation record", "error", err)
		return nil, fmt.Errorf("failed to unmarshal simulation record: %w", err)
	}
	if rec.ChatHistory == nil {
		rec.ChatHistory = []chat.ChatMessage{}
	}
	return &rec, nil
}

func (r *RedisStore) Write(ctx context.Context, ws world.WorldState, history []chat.ChatMessage) error {
	if history == nil {
		history = []chat.ChatMessage{}
	}
	return r.set(ctx, &storage.Record{
		WorldState:  ws,
		ChatHistory: history,
		UpdatedAt:   time.Now().UTC(),
	})
}

func (r *RedisStore) Reset(ctx context.Context) error {
	return r.set(ctx, storage.InitialRecord(time.Now()))
}

func (r *RedisStore) set(ctx context.Context, rec *storage.Record) error {
	data, err := marshalRecord(rec)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, RedisRecordKey, data, 0).Err(); err != nil {
		r.logger.Error("Failed to save simulation record", "error", err)
		return fmt.Errorf("failed to save simulation record: %w", err)
	}
	return nil
}

func marshalRecord(rec *storage.Record) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal simulation record: %w", err)
	}
	return data, nil
}
