// Package configuration loads the quillsync config file, writing defaults
// on first run.
package configuration

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/paulchrisluke/quillsync/internal/file"
)

var defaultConfig = Config{
	APIBaseURL:     "http://localhost:3000",
	APIToken:       "",
	RequestTimeout: 60,
	Database:       "~/.config/quillsync/conversations.db",
	Chat: &ChatConfig{
		DefaultMode: "chat",
	},
}

// Config holds configuration for the quillsync tool.
type Config struct {
	// Base URL of the quill server.
	APIBaseURL string `json:"api_base_url"`
	// Bearer token attached to every request.
	APIToken string `json:"api_token"`
	// Seconds before giving up on opening a stream.
	RequestTimeout int `json:"request_timeout"`
	// Path of the local conversation database.
	Database string `json:"database"`

	Chat *ChatConfig `json:"chat"`
}

// ChatConfig holds configuration for quillsync chat.
type ChatConfig struct {
	// The mode sent with each turn (chat, edit, ...).
	DefaultMode string `json:"default_mode"`
}

// Parse a configuration file.
func Parse(path string) (*Config, error) {
	path, err := file.ExpandPath(path)
	if err != nil {
		return nil, errors.Wrap(err, "expanding path")
	}

	if err := initializeIfNotPresent(path); err != nil {
		return nil, errors.Wrap(err, "initializing configuration")
	}
	bytes, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading file")
	}

	config := &Config{}
	if err = json.Unmarshal(bytes, config); err != nil {
		return nil, errors.Wrap(err, "unmarshaling into config")
	}
	if config.Chat == nil {
		config.Chat = defaultConfig.Chat
	}

	expandedDatabasePath, err := file.ExpandPath(config.Database)
	if err != nil {
		return nil, errors.Wrap(err, "expanding database path")
	}
	config.Database = expandedDatabasePath
	if err := os.MkdirAll(filepath.Dir(config.Database), 0755); err != nil {
		return nil, errors.Wrap(err, "creating database directory")
	}
	return config, nil
}

// save a configuration file.
func (c *Config) save(path string) error {
	bytes, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshaling config")
	}

	err = os.WriteFile(path, bytes, 0644)
	if err != nil {
		return errors.Wrap(err, "writing file")
	}

	return nil
}

// initializeIfNotPresent initializes a config if it does not exist.
func initializeIfNotPresent(path string) error {
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		return nil
	}

	// Create the directories.
	dir, _ := filepath.Split(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "creating folders")
	}

	if err := defaultConfig.save(path); err != nil {
		return errors.Wrap(err, "saving default config")
	}
	return nil
}
