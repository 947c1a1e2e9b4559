package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rng-u01/internal/journal"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--log-level", "disabled"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestList(t *testing.T) {
	out, err := execute(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "bat1")
	assert.Contains(t, out, "fbirth")
	assert.Contains(t, out, "BlockAlphabit")
}

func TestRunAndJournal(t *testing.T) {
	store := filepath.Join(t.TempDir(), "store.json")
	global := []string{"--backend", "dryrun", "--journal-driver", "file", "--journal", store}

	out, err := execute(t, append(global, "run", "birth2", "--set", "quiet=true")...)
	require.NoError(t, err)
	assert.Contains(t, out, "every resource released once")

	out, err = execute(t, append(global, "--json", "battery", "alphabit", "--gen", "chacha8", "--nbits", "4096")...)
	require.NoError(t, err)
	var rec journal.Record
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.Equal(t, "battery", rec.Scenario)
	assert.True(t, rec.LifetimeOK)

	out, err = execute(t, append(global, "journal", "list")...)
	require.NoError(t, err)
	assert.Contains(t, out, "birth2")
	assert.Contains(t, out, rec.ID)

	out, err = execute(t, append(global, "journal", "show", rec.ID)...)
	require.NoError(t, err)
	assert.Contains(t, out, "dry run: Alphabit not executed")

	out, err = execute(t, append(global, "journal", "verify")...)
	require.NoError(t, err)
	assert.Contains(t, out, "journal ok: 2 entries")

	_, err = execute(t, append(global, "journal", "show", "nope")...)
	assert.ErrorIs(t, err, journal.ErrNotFound)
}

func TestRunErrors(t *testing.T) {
	_, err := execute(t, "--no-journal", "run", "bat1", "--dry-run", "--set", "source.kind=mt19937")
	assert.Error(t, err)
	_, err = execute(t, "--no-journal", "--backend", "dryrun", "run", "nothing")
	assert.Error(t, err)
	_, err = execute(t, "--no-journal", "battery", "diehard")
	assert.Error(t, err)
}
