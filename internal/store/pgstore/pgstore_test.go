package pgstore

import (
	"context"
	"os"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ASHISH26940/chaindb/internal/store"
	"github.com/ASHISH26940/chaindb/internal/store/storetest"
)

// These tests need a scratch database; the table is wiped before and after each subtest.
func openTest(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("CHAINDB_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CHAINDB_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, dsn, hclog.NewNullLogger())
	require.NoError(t, err)
	require.NoError(t, s.DeleteAll(ctx))
	t.Cleanup(func() {
		s.DeleteAll(ctx)
		s.Close()
	})
	return s
}

func TestStore(t *testing.T) {
	if os.Getenv("CHAINDB_TEST_POSTGRES_DSN") == "" {
		t.Skip("CHAINDB_TEST_POSTGRES_DSN not set")
	}
	storetest.Run(t, func(t *testing.T) store.Store {
		return openTest(t)
	})
}

func TestStore_Import(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	high, err := s.Insert(ctx, store.VersionRecord{Name: "marker", Active: true})
	require.NoError(t, err)
	require.NoError(t, s.DeleteAll(ctx))

	imported := store.VersionRecord{ID: "imported", Seq: high.Seq + 100, Name: "x", Value: store.StringPtr("1"), Active: true, CreatedAt: high.CreatedAt}
	require.NoError(t, s.Import(ctx, []store.VersionRecord{imported}))

	got, err := s.Get(ctx, "imported")
	require.NoError(t, err)
	assert.Equal(t, imported.Seq, got.Seq)
	require.NotNil(t, got.Value)
	assert.Equal(t, "1", *got.Value)

	next, err := s.Insert(ctx, store.VersionRecord{Name: "x", Active: true})
	require.NoError(t, err)
	assert.Greater(t, next.Seq, imported.Seq)
}
