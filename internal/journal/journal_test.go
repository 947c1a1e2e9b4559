package journal

import (
	"context"
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rng-u01/internal/report"
	"rng-u01/internal/scenario"
	"rng-u01/internal/u01"
)

func sampleRecord(name string) *Record {
	rows := []report.Row{
		{Battery: "SmallCrush", Source: "LCG", Name: "Gap", PValue: 0.31, Formatted: "0.31", Status: report.Pass},
		{Battery: "SmallCrush", Source: "LCG", Name: "SimpPoker", PValue: math.NaN(), Formatted: "NaN", Status: report.Fail},
	}
	sum, _ := report.Summarize(rows)
	return &Record{
		Scenario:   name,
		Backend:    "dryrun",
		CreatedAt:  time.Date(2026, 10, 16, 9, 30, 0, 123456789, time.UTC),
		DurationMS: 12,
		Params:     json.RawMessage(`{"quiet": false}`),
		Summary:    sum,
		Rows:       rows,
		Poisson: []scenario.PoissonSnapshot{
			{Test: "BirthdaySpacings", Stats: u01.PoissonStats{Lambda: 2.5, Mu: 2.5, Observed: 4, PValue: 0.24}},
		},
		Trace: &u01.Trace{Events: []u01.Event{
			{Seq: 1, Op: u01.OpAcquire, Resource: 1, Kind: "gen", Name: "LCG"},
			{Seq: 2, Op: u01.OpRelease, Resource: 1, Kind: "gen", Name: "LCG"},
		}},
		LifetimeOK: true,
	}
}

// exerciseStore runs the behaviour every Store shares.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	var entries []Entry
	for _, name := range []string{"bat1", "birth2", "fbirth"} {
		e, err := s.Append(ctx, sampleRecord(name))
		require.NoError(t, err)
		entries = append(entries, e)
	}
	assert.Equal(t, 0, entries[0].Index)
	assert.Empty(t, entries[0].PrevHash)
	assert.Equal(t, entries[0].Hash, entries[1].PrevHash)
	assert.Equal(t, entries[1].Hash, entries[2].PrevHash)

	chain, err := s.Chain(ctx)
	require.NoError(t, err)
	assert.Equal(t, entries, chain)
	require.NoError(t, VerifyChain(chain))
	require.NoError(t, Verify(ctx, s))

	rec, err := s.Get(ctx, entries[1].RunID)
	require.NoError(t, err)
	assert.Equal(t, "birth2", rec.Scenario)
	assert.True(t, math.IsNaN(rec.Rows[1].PValue))
	assert.Equal(t, time.Date(2026, 10, 16, 9, 30, 0, 123000000, time.UTC), rec.CreatedAt)
	d, err := Digest(rec)
	require.NoError(t, err)
	assert.Equal(t, entries[1].Digest, d)

	list, err := s.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "fbirth", list[0].Scenario)
	assert.Equal(t, "birth2", list[1].Scenario)
	all, err := s.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAppendAssignsID(t *testing.T) {
	s, err := OpenFile(t.TempDir() + "/store.json")
	require.NoError(t, err)
	rec := sampleRecord("bat1")
	e, err := s.Append(context.Background(), rec)
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, rec.ID, e.RunID)
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	s, err := OpenFile(t.TempDir() + "/store.json")
	require.NoError(t, err)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := s.Append(ctx, sampleRecord("bat1"))
		require.NoError(t, err)
	}
	chain, err := s.Chain(ctx)
	require.NoError(t, err)

	edited := append([]Entry(nil), chain...)
	edited[1].Digest = "00"
	var ce *ChainError
	require.ErrorAs(t, VerifyChain(edited), &ce)
	assert.Equal(t, 1, ce.Index)
	assert.Equal(t, "hash mismatch", ce.Reason)

	relinked := append([]Entry(nil), chain...)
	relinked[2].PrevHash = chain[0].Hash
	relinked[2].Hash = ComputeHash(relinked[2])
	require.ErrorAs(t, VerifyChain(relinked), &ce)
	assert.Equal(t, 2, ce.Index)

	dropped := append([]Entry{chain[0]}, chain[2:]...)
	require.ErrorAs(t, VerifyChain(dropped), &ce)
	assert.Equal(t, 1, ce.Index)
}

func TestVerifyDetectsEditedRecord(t *testing.T) {
	s, err := OpenFile(t.TempDir() + "/store.json")
	require.NoError(t, err)
	ctx := context.Background()
	e, err := s.Append(ctx, sampleRecord("bat1"))
	require.NoError(t, err)

	s.mu.Lock()
	s.runs[e.RunID].Summary.Failed = 0
	s.mu.Unlock()

	var ce *ChainError
	require.ErrorAs(t, Verify(ctx, s), &ce)
	assert.Contains(t, ce.Reason, "does not match its digest")
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open("mongo", "x")
	assert.Error(t, err)
}
