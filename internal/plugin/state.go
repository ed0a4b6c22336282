package plugin

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// StateFile is the enabled-state file kept in the plugins root.
const StateFile = "plugin-states.json"

// State is the persisted state of one plugin.
type State struct {
	Enabled bool `json:"enabled"`
}

// LoadStates reads the id → state map at path. A missing file yields an
// empty map and no error; a corrupt file yields an empty map and the parse
// error, which callers log and otherwise ignore.
func LoadStates(path string) (map[string]State, error) {
	states := make(map[string]State)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return states, nil
		}
		return states, fmt.Errorf("failed to read plugin states: %w", err)
	}
	if err := json.Unmarshal(data, &states); err != nil {
		return make(map[string]State), fmt.Errorf("failed to parse plugin states: %w", err)
	}
	if states == nil {
		states = make(map[string]State)
	}
	return states, nil
}

// SaveStates writes states to path through a temporary file and rename, so
// a crash never leaves a half-written file.
func SaveStates(path string, states map[string]State) error {
	data, err := json.MarshalIndent(states, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode plugin states: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".plugin-states-*.json")
	if err != nil {
		return fmt.Errorf("failed to save plugin states: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to save plugin states: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to save plugin states: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to save plugin states: %w", err)
	}
	return nil
}
