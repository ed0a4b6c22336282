package plugin_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/touchfish-chat/internal/plugin"
)

func TestStates_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), plugin.StateFile)
	want := map[string]plugin.State{
		"dark":         {Enabled: false},
		"emoji-picker": {Enabled: true},
	}

	require.NoError(t, plugin.SaveStates(path, want))
	got, err := plugin.LoadStates(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"enabled": false`)
}

func TestStates_Missing(t *testing.T) {
	got, err := plugin.LoadStates(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestStates_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), plugin.StateFile)
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	got, err := plugin.LoadStates(path)
	assert.Error(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestStates_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), plugin.StateFile)
	require.NoError(t, plugin.SaveStates(path, map[string]plugin.State{}))
	got, err := plugin.LoadStates(path)
	require.NoError(t, err)
	assert.Empty(t, got)
}
