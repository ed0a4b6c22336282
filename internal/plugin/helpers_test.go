package plugin_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const hostVersion = "1.4.2"

// writePlugin creates a plugin source directory with the given manifest
// fields and files, returning its path.
func writePlugin(t *testing.T, manifest map[string]any, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	data, err := json.Marshal(manifest)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugin.json"), data, 0o644))
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

func themeManifest(id string) map[string]any {
	return map[string]any{
		"id":            id,
		"name":          "Dark " + id,
		"version":       "1.0.0",
		"type":          "theme",
		"minAppVersion": "1.0",
		"style":         "theme.css",
		"permissions":   []string{"theme:style"},
	}
}

func packManifest(id string) map[string]any {
	return map[string]any{
		"id":            id,
		"name":          "Pack " + id,
		"version":       "0.2.0",
		"type":          "pack",
		"minAppVersion": "1.2",
		"permissions":   []string{"chat:send", "storage:read"},
	}
}

func writeTheme(t *testing.T, id string) string {
	t.Helper()
	return writePlugin(t, themeManifest(id), map[string]string{"theme.css": ":root { --system-color: #f00; }"})
}

func writePack(t *testing.T, id string) string {
	t.Helper()
	return writePlugin(t, packManifest(id), map[string]string{
		"script.js":         "console.log('hi')",
		"assets/icon.svg":   "<svg/>",
		"assets/deep/a.txt": "nested",
	})
}
