package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/maltedev/catalog-sync/internal/models"
)

const DefaultPath = "amway_products_full.json"

// Store keeps the product snapshot of the latest run in a JSON file.
type Store struct {
	mu       sync.Mutex
	filename string
}

func NewStore(filename string) *Store {
	if filename == "" {
		filename = DefaultPath
	}
	return &Store{filename: filename}
}

func (s *Store) Path() string {
	return s.filename
}

// Save replaces the file with products. The file is written next to the
// target and renamed into place.
func (s *Store) Save(products models.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if products == nil {
		products = make(models.Snapshot)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(products); err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	if dir := filepath.Dir(s.filename); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create snapshot dir: %w", err)
		}
	}

	tmpFile := s.filename + ".tmp"
	if err := os.WriteFile(tmpFile, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}

	return os.Rename(tmpFile, s.filename)
}

// Load reads the last saved snapshot. A missing file yields an empty one.
func (s *Store) Load() (models.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filename)
	if os.IsNotExist(err) {
		return make(models.Snapshot), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	products := make(models.Snapshot)
	if err := json.Unmarshal(data, &products); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", s.filename, err)
	}
	return products, nil
}
