package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// Settings holds the outbound mail credentials staff save from the admin
// panel. Stored as config.json next to the CSV tables.
type Settings struct {
	AdminEmail string `json:"admin_email"`
	AdminPass  string `json:"admin_pass"`
}

// Configured reports whether both credentials are present.
func (s Settings) Configured() bool {
	return s.AdminEmail != "" && s.AdminPass != ""
}

// SettingsFile reads and writes the settings blob. Loaded lazily on each
// use so edits made through the API take effect without a restart.
type SettingsFile struct {
	mu   sync.Mutex
	path string
}

// NewSettingsFile returns a settings store backed by path.
func NewSettingsFile(path string) *SettingsFile {
	return &SettingsFile{path: path}
}

// Path returns the backing file path.
func (f *SettingsFile) Path() string { return f.path }

// Load reads the settings. A missing file yields zero settings, not an error.
func (f *SettingsFile) Load() (Settings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Settings{}, nil
		}
		return Settings{}, fmt.Errorf("read settings: %w", err)
	}
	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("parse settings: %w", err)
	}
	return s, nil
}

// Save persists the settings.
func (f *SettingsFile) Save(s Settings) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(f.path, data, 0o600); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}

// Remove deletes the settings file. Absence is not an error.
func (f *SettingsFile) Remove() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
