package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sony/gobreaker"

	"github.com/cachemesh/cachemesh/pkg/observability"
)

// PostgresSchema is the DDL for the L3 key-value table. The embedding
// application applies it; the tier assumes the table exists.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS cache_entries (
    cache_key         TEXT PRIMARY KEY,
    payload           BYTEA,
    compressed        BOOLEAN NOT NULL DEFAULT FALSE,
    compression_ratio DOUBLE PRECISION NOT NULL DEFAULT 1.0,
    deduplicated      BOOLEAN NOT NULL DEFAULT FALSE,
    alias_of          TEXT NOT NULL DEFAULT '',
    access_pattern    TEXT NOT NULL DEFAULT 'cold',
    access_count      BIGINT NOT NULL DEFAULT 0,
    hit_count         BIGINT NOT NULL DEFAULT 0,
    created_at        TIMESTAMPTZ NOT NULL,
    last_accessed_at  TIMESTAMPTZ NOT NULL,
    expires_at        TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cache_entries_expires_at ON cache_entries (expires_at);
`

// PostgresTier is the persistent L3 tier over a Postgres key-value table.
// Same fail-closed discipline as L2: bounded timeouts, circuit breaker,
// and every failure degrades to a miss.
type PostgresTier struct {
	db      *sqlx.DB
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
	logger  observability.Logger
}

// PostgresTierConfig configures the L3 tier
type PostgresTierConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// NewPostgresTier creates the L3 tier over an existing sqlx database handle
func NewPostgresTier(db *sqlx.DB, cfg PostgresTierConfig, logger observability.Logger) (*PostgresTier, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle is required")
	}
	if logger == nil {
		logger = observability.NewLogger("cache.tier.l3")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}

	t := &PostgresTier{
		db:      db,
		timeout: cfg.Timeout,
		logger:  logger,
	}
	t.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "cache.l3",
		MaxRequests: 3,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", map[string]interface{}{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, sql.ErrNoRows)
		},
	})
	return t, nil
}

// Tier returns TierL3
func (t *PostgresTier) Tier() Tier { return TierL3 }

// Get returns the entry for key. The expiry filter lives in the query, so
// an entry past its TTL is a miss even before any purge pass runs.
func (t *PostgresTier) Get(ctx context.Context, key string) (*Entry, bool) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	const query = `
		SELECT cache_key, payload, compressed, compression_ratio, deduplicated,
		       alias_of, access_pattern, access_count, hit_count,
		       created_at, last_accessed_at, expires_at
		FROM cache_entries
		WHERE cache_key = $1 AND expires_at > $2`

	result, err := t.breaker.Execute(func() (interface{}, error) {
		var entry Entry
		if err := t.db.GetContext(ctx, &entry, query, key, time.Now()); err != nil {
			return nil, err
		}
		return &entry, nil
	})
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			t.logger.Debug("l3 get degraded to miss", map[string]interface{}{
				"key":   key,
				"error": err.Error(),
			})
		}
		return nil, false
	}

	entry := result.(*Entry)
	entry.Tier = TierL3
	entry.AccessCount++
	entry.HitCount++
	entry.LastAccessedAt = time.Now()
	return entry, true
}

// Set upserts the entry for key
func (t *PostgresTier) Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error {
	e := entry.CloneForTier(TierL3)
	if ttl > 0 {
		e.ExpiresAt = time.Now().Add(ttl)
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	const query = `
		INSERT INTO cache_entries (
			cache_key, payload, compressed, compression_ratio, deduplicated,
			alias_of, access_pattern, access_count, hit_count,
			created_at, last_accessed_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (cache_key) DO UPDATE SET
			payload = EXCLUDED.payload,
			compressed = EXCLUDED.compressed,
			compression_ratio = EXCLUDED.compression_ratio,
			deduplicated = EXCLUDED.deduplicated,
			alias_of = EXCLUDED.alias_of,
			access_pattern = EXCLUDED.access_pattern,
			created_at = EXCLUDED.created_at,
			last_accessed_at = EXCLUDED.last_accessed_at,
			expires_at = EXCLUDED.expires_at`

	_, err := t.breaker.Execute(func() (interface{}, error) {
		return t.db.ExecContext(ctx, query,
			key, e.Payload, e.Compressed, e.CompressionRatio, e.Deduplicated,
			e.AliasOf, string(e.Pattern), e.AccessCount, e.HitCount,
			e.CreatedAt, e.LastAccessedAt, e.ExpiresAt)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTierUnavailable, err)
	}
	return nil
}

// Delete removes the entry for key
func (t *PostgresTier) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	_, err := t.breaker.Execute(func() (interface{}, error) {
		return t.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE cache_key = $1`, key)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTierUnavailable, err)
	}
	return nil
}

// Flush removes every entry
func (t *PostgresTier) Flush(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	_, err := t.breaker.Execute(func() (interface{}, error) {
		return t.db.ExecContext(ctx, `DELETE FROM cache_entries`)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTierUnavailable, err)
	}
	return nil
}

// PurgeExpired removes entries past their TTL and returns how many went
func (t *PostgresTier) PurgeExpired(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	result, err := t.breaker.Execute(func() (interface{}, error) {
		return t.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE expires_at <= $1`, time.Now())
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrTierUnavailable, err)
	}

	affected, err := result.(sql.Result).RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(affected), nil
}

// Close closes the database handle
func (t *PostgresTier) Close() error {
	return t.db.Close()
}
