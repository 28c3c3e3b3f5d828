package cache

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cachemesh/cachemesh/pkg/observability"
)

func setupPostgresTier(t *testing.T) (*PostgresTier, sqlmock.Sqlmock) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	db := sqlx.NewDb(mockDB, "sqlmock")
	tier, err := NewPostgresTier(db, PostgresTierConfig{Timeout: time.Second}, observability.NewNoopLogger())
	require.NoError(t, err)
	return tier, mock
}

func entryColumns() []string {
	return []string{
		"cache_key", "payload", "compressed", "compression_ratio", "deduplicated",
		"alias_of", "access_pattern", "access_count", "hit_count",
		"created_at", "last_accessed_at", "expires_at",
	}
}

func TestPostgresTier_Get(t *testing.T) {
	ctx := context.Background()
	tier, mock := setupPostgresTier(t)

	now := time.Now()
	rows := sqlmock.NewRows(entryColumns()).
		AddRow("ns:k", []byte("payload"), false, 1.0, false,
			"", "cold", int64(3), int64(2),
			now.Add(-time.Minute), now, now.Add(time.Hour))
	mock.ExpectQuery("SELECT (.+) FROM cache_entries").
		WithArgs("ns:k", sqlmock.AnyArg()).
		WillReturnRows(rows)

	got, ok := tier.Get(ctx, "ns:k")
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), got.Payload)
	assert.Equal(t, TierL3, got.Tier)
	assert.Equal(t, int64(4), got.AccessCount)
	assert.Equal(t, PatternCold, got.Pattern)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTier_GetMiss(t *testing.T) {
	ctx := context.Background()
	tier, mock := setupPostgresTier(t)

	mock.ExpectQuery("SELECT (.+) FROM cache_entries").
		WithArgs("ns:missing", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(entryColumns()))

	_, ok := tier.Get(ctx, "ns:missing")
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTier_GetBackendErrorDegradesToMiss(t *testing.T) {
	ctx := context.Background()
	tier, mock := setupPostgresTier(t)

	mock.ExpectQuery("SELECT (.+) FROM cache_entries").
		WithArgs("ns:k", sqlmock.AnyArg()).
		WillReturnError(assert.AnError)

	_, ok := tier.Get(ctx, "ns:k")
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTier_SetUpsert(t *testing.T) {
	ctx := context.Background()
	tier, mock := setupPostgresTier(t)

	mock.ExpectExec("INSERT INTO cache_entries").
		WillReturnResult(sqlmock.NewResult(0, 1))

	entry := storedEntry("ns:k", PatternCold, time.Minute)
	require.NoError(t, tier.Set(ctx, "ns:k", entry, time.Minute))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTier_SetBackendError(t *testing.T) {
	ctx := context.Background()
	tier, mock := setupPostgresTier(t)

	mock.ExpectExec("INSERT INTO cache_entries").
		WillReturnError(assert.AnError)

	entry := storedEntry("ns:k", PatternCold, time.Minute)
	err := tier.Set(ctx, "ns:k", entry, time.Minute)
	assert.ErrorIs(t, err, ErrTierUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTier_Delete(t *testing.T) {
	ctx := context.Background()
	tier, mock := setupPostgresTier(t)

	mock.ExpectExec("DELETE FROM cache_entries WHERE cache_key").
		WithArgs("ns:k").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, tier.Delete(ctx, "ns:k"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTier_PurgeExpired(t *testing.T) {
	ctx := context.Background()
	tier, mock := setupPostgresTier(t)

	mock.ExpectExec("DELETE FROM cache_entries WHERE expires_at").
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := tier.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTier_Flush(t *testing.T) {
	ctx := context.Background()
	tier, mock := setupPostgresTier(t)

	mock.ExpectExec("DELETE FROM cache_entries").
		WillReturnResult(sqlmock.NewResult(0, 3))

	require.NoError(t, tier.Flush(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTier_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	ctx := context.Background()
	tier, mock := setupPostgresTier(t)

	for i := 0; i < 6; i++ {
		mock.ExpectQuery("SELECT (.+) FROM cache_entries").
			WillReturnError(assert.AnError)
	}

	for i := 0; i < 6; i++ {
		_, ok := tier.Get(ctx, "ns:k")
		assert.False(t, ok)
	}

	// Breaker is open now; this lookup never reaches the database, so no
	// further expectation is needed
	_, ok := tier.Get(ctx, "ns:k")
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTier_RequiresHandle(t *testing.T) {
	_, err := NewPostgresTier(nil, PostgresTierConfig{}, nil)
	assert.Error(t, err)
}
