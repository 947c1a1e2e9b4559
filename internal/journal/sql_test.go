package journal

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLStoreInMemory(t *testing.T) {
	s, err := OpenSQL("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	exerciseStore(t, s)
}

func TestSQLStoreReopens(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "journal.db")
	ctx := context.Background()

	s, err := Open("sqlite", dsn)
	require.NoError(t, err)
	e, err := s.Append(ctx, sampleRecord("bat1"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	again, err := Open("sqlite", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = again.Close() })
	e2, err := again.Append(ctx, sampleRecord("fbirth"))
	require.NoError(t, err)
	assert.Equal(t, e.Hash, e2.PrevHash)
	require.NoError(t, Verify(ctx, again))
}

func TestSQLStoreRejectsDuplicateRun(t *testing.T) {
	s, err := OpenSQL("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	rec := sampleRecord("bat1")
	_, err = s.Append(ctx, rec)
	require.NoError(t, err)
	dup := sampleRecord("bat1")
	dup.ID = rec.ID
	_, err = s.Append(ctx, dup)
	require.Error(t, err)

	chain, err := s.Chain(ctx)
	require.NoError(t, err)
	assert.Len(t, chain, 1)
}

func TestOpenSQLNeedsDSN(t *testing.T) {
	_, err := OpenSQL("sqlite", " ")
	assert.Error(t, err)
}
