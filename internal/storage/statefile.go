package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DaemonState is the discovery record a running daemon leaves on disk so
// clients and a successor daemon can find it.
type DaemonState struct {
	PID             int       `json:"pid"`
	Port            int       `json:"port"`
	Heartbeat       time.Time `json:"heartbeat"`
	Version         string    `json:"version"`
	ControlAPIToken string    `json:"controlApiToken"`
}

// WriteDaemonState writes the state file atomically with 0600 permissions.
// The token makes the file secret-bearing, so the mode is not negotiable.
func WriteDaemonState(path string, state DaemonState) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp state file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename state file: %w", err)
	}
	return nil
}

// ReadDaemonState reads the state file. Returns ErrNotFound when absent.
func ReadDaemonState(path string) (DaemonState, error) {
	var state DaemonState
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return state, ErrNotFound
		}
		return state, fmt.Errorf("failed to read state file: %w", err)
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return state, fmt.Errorf("failed to unmarshal state file: %w", err)
	}
	return state, nil
}

// RemoveDaemonState deletes the state file, ignoring a missing file.
func RemoveDaemonState(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
