package repo

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-incident/internal/config"
	"github.com/miradorstack/mirador-incident/internal/models"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "incident.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// storeContract runs the behaviour both Store implementations must share.
func storeContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("window is half open and ordered", func(t *testing.T) {
		store := newStore(t)
		for i := 0; i < 6; i++ {
			require.NoError(t, store.InsertMetric(ctx, models.MetricSample{
				Service:    "checkout",
				Timestamp:  base.Add(time.Duration(i) * time.Minute),
				CPUPercent: float64(10 * i),
			}))
		}
		require.NoError(t, store.InsertMetric(ctx, models.MetricSample{Service: "other", Timestamp: base}))

		got, err := store.FindMetrics(ctx, MetricQuery{
			Service: "checkout",
			Start:   base.Add(time.Minute),
			End:     base.Add(4 * time.Minute),
		})
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, 10.0, got[0].CPUPercent)
		assert.Equal(t, 30.0, got[2].CPUPercent)

		desc, err := store.FindMetrics(ctx, MetricQuery{Service: "checkout", Order: OrderDescending, Limit: 2})
		require.NoError(t, err)
		require.Len(t, desc, 2)
		assert.Equal(t, 50.0, desc[0].CPUPercent)
		assert.Equal(t, 40.0, desc[1].CPUPercent)
		assert.True(t, desc[0].Timestamp.Equal(base.Add(5*time.Minute)))
	})

	t.Run("changes", func(t *testing.T) {
		store := newStore(t)
		first := models.ChangeEvent{ChangeID: "c-1", Service: "checkout", Timestamp: base, Version: "v1"}
		second := models.ChangeEvent{ChangeID: "c-2", Service: "checkout", Timestamp: base.Add(time.Hour), Type: "config"}
		require.NoError(t, store.InsertChange(ctx, first))
		require.NoError(t, store.InsertChange(ctx, second))

		err := store.InsertChange(ctx, first)
		assert.True(t, errors.Is(err, models.ErrInvalidInput))

		got, err := store.FindChange(ctx, "c-1")
		require.NoError(t, err)
		assert.Equal(t, "v1", got.Version)
		assert.True(t, got.Timestamp.Equal(base))

		_, err = store.FindChange(ctx, "missing")
		assert.True(t, errors.Is(err, models.ErrChangeNotFound))

		recent, err := store.ListChanges(ctx, 1)
		require.NoError(t, err)
		require.Len(t, recent, 1)
		assert.Equal(t, "c-2", recent[0].ChangeID)
	})

	t.Run("alerts", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.InsertAlert(ctx, models.Alert{
			ID: "a-1", Type: models.AlertChangeImpactDetected, ChangeID: "c-1", Service: "checkout",
			Severity: models.SeverityHigh, Confidence: 0.99, Timestamp: base,
			Impact: &models.ChangeImpact{LatencyBefore: 100, LatencyAfter: 180, LatencyDeltaPercent: 80, CausalConfidence: 0.99},
		}))
		require.NoError(t, store.InsertAlert(ctx, models.Alert{
			ID: "a-2", Type: models.AlertChangeImpactDetected, ChangeID: "c-2", Service: "checkout",
			Severity: models.SeverityMedium, Timestamp: base.Add(time.Minute),
		}))

		alerts, err := store.ListAlerts(ctx, 0)
		require.NoError(t, err)
		require.Len(t, alerts, 2)
		assert.Equal(t, "a-2", alerts[0].ID)
		require.NotNil(t, alerts[1].Impact)
		assert.InDelta(t, 80.0, alerts[1].Impact.LatencyDeltaPercent, 1e-9)
	})
}

func TestMemoryStore(t *testing.T) {
	storeContract(t, func(t *testing.T) Store { return NewMemoryStore() })
}

func TestSQLiteStore(t *testing.T) {
	storeContract(t, func(t *testing.T) Store { return newSQLite(t) })
}

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()

	store, err := Open(ctx, config.StoreConfig{Driver: "memory"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "memory", store.Kind())

	store, err = Open(ctx, config.StoreConfig{Driver: "auto", SQLitePath: filepath.Join(t.TempDir(), "db", "incident.db"), PingTimeout: time.Second}, nil)
	require.NoError(t, err)
	defer store.Close()
	assert.Equal(t, "sqlite", store.Kind())
	require.NoError(t, store.Ping(ctx))

	_, err = Open(ctx, config.StoreConfig{Driver: "mongo"}, nil)
	require.Error(t, err)
}

func TestOpenAutoFallsBackToMemory(t *testing.T) {
	store, err := Open(context.Background(), config.StoreConfig{Driver: "auto"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "memory", store.Kind())

	_, err = Open(context.Background(), config.StoreConfig{Driver: "sqlite"}, nil)
	require.Error(t, err)
}
