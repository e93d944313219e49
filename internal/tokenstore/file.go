package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

const fileVersion = 1

// document is the on-disk layout of a profile's session file.
type document struct {
	Version   int            `json:"version"`
	Values    map[Key]string `json:"values"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// FileBackend keeps a profile's record in <baseDir>/<profile>.json.
type FileBackend struct {
	baseDir string
	path    string
}

// NewFileBackend creates a file backend for the named profile.
// If baseDir is empty, uses ~/.stockpile/sessions/
func NewFileBackend(baseDir, profile string) (*FileBackend, error) {
	if profile == "" {
		profile = "default"
	}

	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".stockpile", "sessions")
	}

	// Create directory with 0700 permissions
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	b := &FileBackend{
		baseDir: baseDir,
		path:    filepath.Join(baseDir, profile+".json"),
	}

	log.Debug().Str("path", b.path).Msg("file token store initialized")

	return b, nil
}

// Path returns the session file location.
func (b *FileBackend) Path() string {
	return b.path
}

// Load reads the session file. A missing file is an empty record.
func (b *FileBackend) Load(ctx context.Context) (Record, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Record{}, nil
		}
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse session file: %w", err)
	}

	if doc.Version != fileVersion {
		return nil, fmt.Errorf("unsupported session file version %d", doc.Version)
	}

	rec := Record{}
	for k, v := range doc.Values {
		rec[k] = v
	}
	return rec, nil
}

// Save writes the session file atomically. An empty record removes the file.
func (b *FileBackend) Save(ctx context.Context, rec Record) error {
	if len(rec) == 0 {
		if err := os.Remove(b.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove session file: %w", err)
		}
		return nil
	}

	doc := document{
		Version:   fileVersion,
		Values:    map[Key]string(rec),
		UpdatedAt: time.Now().UTC(),
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session file: %w", err)
	}

	// Write to temp file first
	tempPath := b.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}

	// Atomic rename
	if err := os.Rename(tempPath, b.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to save session file: %w", err)
	}

	return nil
}
