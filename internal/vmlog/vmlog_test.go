package vmlog

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewWritesJSONAtConfiguredLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Level: LevelWarn, Output: &buf})

	log.Info().Msg("should be filtered")
	require.Empty(t, buf.String())

	log.Warn().Msg("visible")
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Equal(t, "visible", decoded["message"])
}

func TestComponentAddsField(t *testing.T) {
	var buf bytes.Buffer
	base := New(Options{Level: LevelDebug, Output: &buf})
	log := Component(base, "scheduler")
	log.Debug().Msg("hi")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Equal(t, "scheduler", decoded["component"])
}

func TestProcessAddsProcessID(t *testing.T) {
	var buf bytes.Buffer
	base := New(Options{Level: LevelDebug, Output: &buf})
	log := Process(base, 42)
	log.Debug().Msg("hi")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Equal(t, float64(42), decoded["process"])
}
