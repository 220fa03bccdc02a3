package sqlstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/five82/platter/internal/storage"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open("sqlite://" + filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_RoundTripAndUpsert(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	assert.Equal(t, driverSQLite, s.Driver())

	_, err := s.Load(ctx, storage.KeyWallet)
	require.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, s.Save(ctx, storage.KeyWallet, []byte(`{"balance":10}`)))
	require.NoError(t, s.Save(ctx, storage.KeyWallet, []byte(`{"balance":20}`)))

	got, err := s.Load(ctx, storage.KeyWallet)
	require.NoError(t, err)
	assert.JSONEq(t, `{"balance":20}`, string(got))

	require.NoError(t, s.Delete(ctx, storage.KeyWallet))
	_, err = s.Load(ctx, storage.KeyWallet)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_RejectsNonJSON(t *testing.T) {
	s := openTemp(t)
	err := s.Save(context.Background(), storage.KeyCart, []byte("not json"))
	require.Error(t, err)
}

func TestResolveDriver(t *testing.T) {
	tests := []struct {
		dsn        string
		wantDriver string
		wantTarget string
		wantErr    bool
	}{
		{"sqlite:///tmp/platter.db", driverSQLite, "/tmp/platter.db", false},
		{"sqlite://state.db", driverSQLite, "state.db", false},
		{"postgres://u:p@localhost/db", driverPostgres, "postgres://u:p@localhost/db", false},
		{"postgresql://localhost/db", driverPostgres, "postgresql://localhost/db", false},
		{"mysql://localhost/db", "", "", true},
		{"sqlite://", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.dsn, func(t *testing.T) {
			driver, target, err := resolveDriver(tt.dsn)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantDriver, driver)
			assert.Equal(t, tt.wantTarget, target)
		})
	}
}
