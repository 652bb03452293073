package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"

	"github.com/kestrelcrawl/kestrel/internal/model"
)

// PostgresBackend persists storage items into a single table addressed by
// destination, keyed by storage category. It is grounded on
// original_source/src/storage/manager.rs's per-category registration model,
// expressed here against a real SQL sink rather than a database/sql-over-
// pgx-stdlib style — this backend talks to pgxpool directly, exercising
// pgx/v5's native pool API.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// NewPostgresBackend wraps an already-connected pool.
func NewPostgresBackend(pool *pgxpool.Pool) *PostgresBackend {
	return &PostgresBackend{pool: pool}
}

// PostgresConfig names the destination table. ensureSchema (called once per
// registration) creates it if missing.
type PostgresConfig struct {
	Table string
}

func (c PostgresConfig) Destination() string { return c.Table }

func (b *PostgresBackend) CreateConfig(destination string) (Config, error) {
	cfg := PostgresConfig{Table: destination}
	if err := b.ensureSchema(context.Background(), cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (b *PostgresBackend) ensureSchema(ctx context.Context, cfg PostgresConfig) error {
	_, err := b.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY,
			url TEXT NOT NULL,
			captured_at TIMESTAMPTZ NOT NULL,
			data JSONB NOT NULL,
			metadata JSONB,
			response_headers TEXT[]
		)`, pq.QuoteIdentifier(cfg.Table)))
	if err != nil {
		return &model.StorageError{Kind: model.StorageErrOperation, Msg: fmt.Sprintf("ensure schema for %s: %v", cfg.Table, err)}
	}
	return nil
}

func (b *PostgresBackend) StoreSerialized(ctx context.Context, item model.StorageItem[any], cfg Config) error {
	pgCfg, ok := cfg.(PostgresConfig)
	if !ok {
		return &model.StorageError{Kind: model.StorageErrOperation, Msg: "postgres backend given a non-postgres config"}
	}

	dataJSON, err := json.Marshal(item.Data)
	if err != nil {
		return &model.StorageError{Kind: model.StorageErrSerialization, Msg: err.Error()}
	}
	metaJSON, err := json.Marshal(item.Metadata)
	if err != nil {
		return &model.StorageError{Kind: model.StorageErrSerialization, Msg: err.Error()}
	}

	// The raw/audit sink keeps the response headers as a sorted TEXT[] of
	// "Key: Value" pairs, exercised via lib/pq's array encoder even though
	// the connection itself is a native pgx pool.
	headers := headerPairs(item.Metadata)

	id := item.ID
	if id == "" {
		return &model.StorageError{Kind: model.StorageErrOperation, Msg: "storage item has no ID to use as primary key"}
	}

	_, err = b.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, url, captured_at, data, metadata, response_headers)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, metadata = EXCLUDED.metadata
	`, pq.QuoteIdentifier(pgCfg.Table)),
		id, item.URL, timestampOrNow(item.Timestamp), dataJSON, metaJSON, pq.Array(headers))
	if err != nil {
		return &model.StorageError{Kind: model.StorageErrConnection, Msg: fmt.Sprintf("insert into %s: %v", pgCfg.Table, err)}
	}
	return nil
}

func timestampOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}

func headerPairs(metadata map[string]any) []string {
	raw, ok := metadata["headers"].(map[string]string)
	if !ok {
		return nil
	}
	pairs := make([]string, 0, len(raw))
	for k, v := range raw {
		pairs = append(pairs, fmt.Sprintf("%s: %s", k, v))
	}
	sort.Strings(pairs)
	return pairs
}
