// Package gcs persists title records in Google Cloud Storage, one JSON
// object per scope.
package gcs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/newswire-ingest/internal/ingest"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
	// Prefix is prepended to every object name, e.g. "dedup/".
	Prefix string
}

// Store reads and writes scope documents in a configured GCS bucket.
type Store struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a GCS-backed record store.
func New(client *storage.Client, cfg Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Store{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// LoadPriorRecords fetches and decodes the scope object. A missing object
// yields an empty slice, not an error.
func (s *Store) LoadPriorRecords(ctx context.Context, scope string) ([]ingest.TitledRecord, error) {
	name, err := s.objectName(scope)
	if err != nil {
		return nil, err
	}
	reader, err := s.client.Bucket(s.bucket).Object(name).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open object %q: %w", name, err)
	}
	defer reader.Close() //nolint:errcheck

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read object %q: %w", name, err)
	}
	var records []ingest.TitledRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode object %q: %w", name, err)
	}
	return records, nil
}

// SaveRecords replaces the scope object with the given records.
func (s *Store) SaveRecords(ctx context.Context, scope string, records []ingest.TitledRecord) error {
	name, err := s.objectName(scope)
	if err != nil {
		return err
	}
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode scope %q: %w", scope, err)
	}

	writer := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	writer.ContentType = "application/json"
	if _, err := writer.Write(data); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return fmt.Errorf("write object %q: %w (close writer: %v)", name, err, closeErr)
		}
		return fmt.Errorf("write object %q: %w", name, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer for %q: %w", name, err)
	}
	return nil
}

func (s *Store) objectName(scope string) (string, error) {
	scope = strings.TrimSpace(scope)
	if scope == "" || strings.Contains(scope, "/") {
		return "", fmt.Errorf("invalid scope name %q", scope)
	}
	return s.prefix + scope + ".json", nil
}
