package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(&buf, "debug", JSON)
	require.NoError(t, err)
	log.Trace().Msg("hidden")
	log.Debug().Str("scenario", "bat1").Msg("run started")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "debug", line["level"])
	assert.Equal(t, "bat1", line["scenario"])
	assert.Equal(t, "run started", line["message"])
	assert.Contains(t, line, "time")
}

func TestConsole(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(&buf, "", Console)
	require.NoError(t, err)
	log.Debug().Msg("hidden")
	log.Warn().Msg("slow")
	out := buf.String()
	assert.Contains(t, out, "WRN")
	assert.Contains(t, out, "slow")
	assert.NotContains(t, out, "hidden")
}

func TestBadInput(t *testing.T) {
	_, err := New(&bytes.Buffer{}, "loud", JSON)
	assert.Error(t, err)
	_, err = New(&bytes.Buffer{}, "info", "xml")
	assert.Error(t, err)
}

func TestFormatLevel(t *testing.T) {
	f := formatLevel(true)
	assert.Equal(t, "ERR", f("error"))
	assert.Equal(t, "???", f("weird"))
	assert.Equal(t, "???", f(nil))
}
