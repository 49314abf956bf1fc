package dedup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/activeview/mab/internal/api"
)

// RedisStore implements Store using Redis SETNX for atomic
// first-write-wins. Safe under concurrent retries of the same batch.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed dedup store.
func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func (r *RedisStore) Get(ctx context.Context, batchID string) (*api.IngestReceipt, error) {
	key := fmt.Sprintf("batch:%s", batchID)

	data, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil // not found
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET failed: %w", err)
	}

	var receipt api.IngestReceipt
	if err := json.Unmarshal([]byte(data), &receipt); err != nil {
		return nil, fmt.Errorf("failed to unmarshal receipt: %w", err)
	}

	return &receipt, nil
}

func (r *RedisStore) Set(ctx context.Context, batchID string, receipt *api.IngestReceipt, ttl time.Duration) error {
	key := fmt.Sprintf("batch:%s", batchID)

	data, err := json.Marshal(receipt)
	if err != nil {
		return fmt.Errorf("failed to marshal receipt: %w", err)
	}

	// SETNX with TTL: first write wins, a lost race is not an error.
	if err := r.client.SetNX(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis SETNX failed: %w", err)
	}

	return nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

// PostgresStore implements Store using Postgres ON CONFLICT for atomic
// first-write-wins via the primary key constraint.
//
// Schema:
//
//	CREATE TABLE batch_dedup (
//	  batch_id VARCHAR(255) PRIMARY KEY,
//	  receipt JSONB NOT NULL,
//	  expires_at TIMESTAMP NOT NULL,
//	  created_at TIMESTAMP DEFAULT NOW()
//	);
//	CREATE INDEX idx_batch_dedup_expires ON batch_dedup(expires_at);
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed dedup store.
func NewPostgresStore(connStr string) (*PostgresStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Get(ctx context.Context, batchID string) (*api.IngestReceipt, error) {
	query := `
		SELECT receipt
		FROM batch_dedup
		WHERE batch_id = $1 AND expires_at > NOW()
	`

	var receiptJSON []byte
	err := p.pool.QueryRow(ctx, query, batchID).Scan(&receiptJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // not found or expired
		}
		return nil, fmt.Errorf("postgres query failed: %w", err)
	}

	var receipt api.IngestReceipt
	if err := json.Unmarshal(receiptJSON, &receipt); err != nil {
		return nil, fmt.Errorf("failed to unmarshal receipt: %w", err)
	}

	return &receipt, nil
}

func (p *PostgresStore) Set(ctx context.Context, batchID string, receipt *api.IngestReceipt, ttl time.Duration) error {
	receiptJSON, err := json.Marshal(receipt)
	if err != nil {
		return fmt.Errorf("failed to marshal receipt: %w", err)
	}

	expiresAt := time.Now().Add(ttl)

	// ON CONFLICT DO NOTHING: if the insert is skipped the first write
	// already won, which is the desired behavior.
	query := `
		INSERT INTO batch_dedup (batch_id, receipt, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (batch_id) DO NOTHING
	`

	_, err = p.pool.Exec(ctx, query, batchID, receiptJSON, expiresAt)
	if err != nil {
		return fmt.Errorf("postgres insert failed: %w", err)
	}

	return nil
}

func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}

// CleanupExpired removes expired entries. Run periodically to prevent
// table bloat.
func (p *PostgresStore) CleanupExpired(ctx context.Context) (int64, error) {
	result, err := p.pool.Exec(ctx, `DELETE FROM batch_dedup WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("cleanup failed: %w", err)
	}

	return result.RowsAffected(), nil
}
