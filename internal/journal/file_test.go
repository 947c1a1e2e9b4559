package journal

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore(t *testing.T) {
	s, err := OpenFile(filepath.Join(t.TempDir(), "store.json"))
	require.NoError(t, err)
	exerciseStore(t, s)
}

func TestFileStoreReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	s, err := OpenFile(path)
	require.NoError(t, err)
	ctx := context.Background()
	e, err := s.Append(ctx, sampleRecord("bat1"))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))

	again, err := Open("file", path)
	require.NoError(t, err)
	chain, err := again.Chain(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Entry{e}, chain)
	require.NoError(t, Verify(ctx, again))

	e2, err := again.Append(ctx, sampleRecord("birth2"))
	require.NoError(t, err)
	assert.Equal(t, 1, e2.Index)
	assert.Equal(t, e.Hash, e2.PrevHash)
}

func TestFileStoreMovesCorruptFileAside(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := OpenFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "moved to")

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	matches, err := filepath.Glob(path + ".corrupt-*")
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	s, err := OpenFile(path)
	require.NoError(t, err)
	chain, err := s.Chain(context.Background())
	require.NoError(t, err)
	assert.Empty(t, chain)
}

func TestFileStoreRejectsDuplicateRun(t *testing.T) {
	s, err := OpenFile(filepath.Join(t.TempDir(), "store.json"))
	require.NoError(t, err)
	ctx := context.Background()
	rec := sampleRecord("bat1")
	_, err = s.Append(ctx, rec)
	require.NoError(t, err)
	dup := sampleRecord("bat1")
	dup.ID = rec.ID
	_, err = s.Append(ctx, dup)
	assert.Error(t, err)
	chain, err := s.Chain(ctx)
	require.NoError(t, err)
	assert.Len(t, chain, 1)
}
