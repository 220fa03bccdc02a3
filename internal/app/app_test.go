package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/five82/platter/internal/config"
	"github.com/five82/platter/internal/logtail"
	"github.com/five82/platter/internal/storage"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.StorageDriver = config.DriverMemory
	cfg.LogLevel = "debug"
	return cfg
}

func TestOpenStorage_Drivers(t *testing.T) {
	mr := miniredis.RunT(t)

	tests := []struct {
		name   string
		driver string
		dsn    string
	}{
		{"memory", config.DriverMemory, ""},
		{"file", config.DriverFile, ""},
		{"sqlite", config.DriverSQLite, ""},
		{"redis", config.DriverRedis, "redis://" + mr.Addr()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.StorageDriver = tt.driver
			cfg.StorageDSN = tt.dsn

			store, err := OpenStorage(cfg)
			require.NoError(t, err)
			t.Cleanup(func() { _ = store.Close() })

			ctx := context.Background()
			require.NoError(t, store.Save(ctx, storage.KeyCart, []byte(`{"items":[]}`)))
			raw, err := store.Load(ctx, storage.KeyCart)
			require.NoError(t, err)
			assert.JSONEq(t, `{"items":[]}`, string(raw))
			require.NoError(t, store.Delete(ctx, storage.KeyCart))
			_, err = store.Load(ctx, storage.KeyCart)
			assert.ErrorIs(t, err, storage.ErrNotFound)
		})
	}
}

func TestOpenStorage_UnknownDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.StorageDriver = "etcd"
	_, err := OpenStorage(cfg)
	assert.ErrorIs(t, err, config.ErrUnknownDriver)
}

func TestNewLogger_WritesJSONReadableByLogtail(t *testing.T) {
	cfg := testConfig(t)
	cfg.DataDir = filepath.Join(t.TempDir(), "nested", "data")

	logger, err := NewLogger(cfg)
	require.NoError(t, err)
	logger.Named("cart").Info("item added", zap.String("item_id", "m-1"))
	logger.Debug("debug line")
	require.NoError(t, logger.Sync())

	entries, err := logtail.Tail(cfg.LogPath(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "INFO", entries[0].Level)
	assert.Equal(t, "cart", entries[0].Logger)
	assert.Equal(t, "item added", entries[0].Message)
	assert.Equal(t, "m-1", entries[0].Fields["item_id"])
	assert.False(t, entries[0].Time.IsZero())
	assert.Equal(t, "DEBUG", entries[1].Level)
}

func TestNewLogger_LevelFilters(t *testing.T) {
	cfg := testConfig(t)
	cfg.LogLevel = "warn"

	logger, err := NewLogger(cfg)
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown")
	require.NoError(t, logger.Sync())

	entries, err := logtail.Tail(cfg.LogPath(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "shown", entries[0].Message)
}

func TestNewLogger_BadLevel(t *testing.T) {
	cfg := testConfig(t)
	cfg.LogLevel = "loud"
	_, err := NewLogger(cfg)
	assert.ErrorContains(t, err, "log level")
}

func TestOpen_BuildsSessionOffline(t *testing.T) {
	cfg := testConfig(t)
	// Nothing listens here; opening must still succeed.
	cfg.APIURL = "http://127.0.0.1:1/api"
	cfg.Token = "opaque-token"
	cfg.RequestTimeout = 200 * time.Millisecond

	rt, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, rt.Session)
	assert.True(t, rt.Session.Auth.Present())
	require.NoError(t, rt.Close())

	entries, err := logtail.Tail(cfg.LogPath(), 20)
	require.NoError(t, err)
	var opened bool
	for _, e := range entries {
		if e.Message == "client opened" {
			opened = true
			assert.Equal(t, config.DriverMemory, e.Fields["storage"])
			assert.Equal(t, true, e.Fields["signed_in"])
		}
	}
	assert.True(t, opened, "startup is logged")
}

func TestOpen_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.StorageDriver = config.DriverPostgres
	cfg.StorageDSN = ""
	_, err := Open(context.Background(), cfg)
	require.Error(t, err)
}
