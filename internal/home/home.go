package home

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultDirName is the default name for the insight home directory.
	DefaultDirName = ".insight"

	// DataDirName is the subdirectory for library and analysis data.
	DataDirName = "data"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"

	// HistoryDBName is the SQLite database holding finished task records.
	HistoryDBName = "insight.db"
)

// Dir represents the insight home directory structure.
type Dir struct {
	path string
}

// New creates a new Dir with the given path.
// If path is empty, uses the default (~/.insight).
func New(path string) (*Dir, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, DefaultDirName)
	}

	return &Dir{path: path}, nil
}

// Path returns the root path of the home directory.
func (d *Dir) Path() string {
	return d.path
}

// DataPath returns the path to the data directory.
func (d *Dir) DataPath() string {
	return filepath.Join(d.path, DataDirName)
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// HistoryDBPath returns the path to the task-history database.
func (d *Dir) HistoryDBPath() string {
	return filepath.Join(d.DataPath(), HistoryDBName)
}

// LibraryPath returns the root of the page-image library.
func (d *Dir) LibraryPath() string {
	return filepath.Join(d.DataPath(), "library")
}

// BookPath returns the library directory for a single book.
func (d *Dir) BookPath(bookID string) string {
	return filepath.Join(d.LibraryPath(), bookID)
}

// AnalysisPath returns the result-store directory for a single book.
func (d *Dir) AnalysisPath(bookID string) string {
	return filepath.Join(d.DataPath(), "analysis", bookID)
}

// EnsureExists creates the home directory and subdirectories if they don't exist.
func (d *Dir) EnsureExists() error {
	if err := os.MkdirAll(d.LibraryPath(), 0o755); err != nil {
		return fmt.Errorf("failed to create library directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(d.DataPath(), "analysis"), 0o755); err != nil {
		return fmt.Errorf("failed to create analysis directory: %w", err)
	}
	return nil
}

// Exists returns true if the home directory exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// ConfigExists returns true if the config file exists in the home directory.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}
