// Package usage enforces the shared daily ceilings on AI-backed calls:
// request count and estimated cost. The Governor owns the only mutable
// state shared between concurrently processed documents.
package usage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Record is the accounting entry for one calendar date. Fields only grow
// within a day, except through an explicit reset.
type Record struct {
	Date          string    `json:"date"`
	RequestCount  int       `json:"requests_count"`
	TokensUsed    int       `json:"tokens_used"`
	EstimatedCost float64   `json:"estimated_cost"`
	LastUpdated   time.Time `json:"last_updated"`
}

// Store persists the ledger of daily records. Save must be atomic: a
// reader recovering after a crash sees either the old or the new complete
// ledger, never a partial one.
type Store interface {
	Load() (map[string]Record, error)
	Save(records map[string]Record) error
}

// FileStore keeps the ledger in a local JSON file and replaces it via
// temp-write + rename.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Load() (map[string]Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Record{}, nil
		}
		return nil, fmt.Errorf("failed to read usage file: %w", err)
	}
	records := map[string]Record{}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("usage file is corrupt: %w", err)
	}
	return records, nil
}

func (s *FileStore) Save(records map[string]Record) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal usage records: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create usage dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".usage-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp usage file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write temp usage file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close temp usage file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace usage file: %w", err)
	}
	return nil
}
