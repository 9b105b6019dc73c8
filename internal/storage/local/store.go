// Package local persists title records as JSON files on the local
// filesystem, one file per scope.
package local

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/JakeFAU/newswire-ingest/internal/ingest"
)

var validScope = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// Config captures the parameters for the local record store.
type Config struct {
	// BaseDir is the root directory where scope files are stored.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// Store reads and writes one JSON document per scope under BaseDir.
type Store struct {
	baseDir string
	mu      sync.Mutex
}

// New creates a filesystem-backed record store, creating BaseDir if needed.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	info, err := os.Stat(cfg.BaseDir)
	switch {
	case err == nil:
		if !info.IsDir() {
			return nil, fmt.Errorf("base directory path is not a directory")
		}
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	default:
		return nil, fmt.Errorf("failed to stat base directory: %w", err)
	}
	return &Store{baseDir: cfg.BaseDir}, nil
}

// LoadPriorRecords reads the records saved under scope. A missing scope file
// yields an empty slice; a corrupt one is an error the caller may choose to
// degrade on.
func (s *Store) LoadPriorRecords(_ context.Context, scope string) ([]ingest.TitledRecord, error) {
	path, err := s.scopePath(scope)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path) //nolint:gosec // path validated by scopePath
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read scope %q: %w", scope, err)
	}
	var records []ingest.TitledRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode scope %q: %w", scope, err)
	}
	return records, nil
}

// SaveRecords replaces the scope file atomically via a rename.
func (s *Store) SaveRecords(_ context.Context, scope string, records []ingest.TitledRecord) error {
	path, err := s.scopePath(scope)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode scope %q: %w", scope, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write scope %q: %w", scope, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace scope %q: %w", scope, err)
	}
	return nil
}

func (s *Store) scopePath(scope string) (string, error) {
	if !validScope.MatchString(scope) {
		return "", fmt.Errorf("invalid scope name %q", scope)
	}
	return filepath.Join(s.baseDir, scope+".json"), nil
}
