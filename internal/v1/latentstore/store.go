// Package latentstore persists the set of pre-created, empty ("latent")
// rooms to a local JSON file so they survive a server restart.
package latentstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mikaelvesavuori/mikroroom-go/internal/v1/logging"
	"github.com/mikaelvesavuori/mikroroom-go/internal/v1/registry"
	"go.uber.org/zap"
)

// Store reads and rewrites the latent room file at a configured path.
// Writes are serialized with a mutex since the registry may call Save
// concurrently from the janitor and from the pre-create REST handler.
type Store struct {
	path string
	mu   sync.Mutex
}

// New creates a Store writing to path. The containing directory is created
// lazily on first write.
func New(path string) *Store {
	return &Store{path: path}
}

// Load reads the latent room file, discarding any entry older than maxAge.
// A missing file is not an error: it means no latent rooms were persisted.
func (s *Store) Load(maxAge time.Duration) ([]registry.LatentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var records []registry.LatentRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}

	now := time.Now()
	kept := records[:0]
	for _, rec := range records {
		if now.Sub(rec.CreatedAt) <= maxAge {
			kept = append(kept, rec)
		}
	}
	return kept, nil
}

// Save rewrites the latent room file with the given snapshot. Implements
// registry.LatentPersister.
func (s *Store) Save(records []registry.LatentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		logging.Error(context.Background(), "failed to persist latent room store", zap.Error(err), zap.String("path", s.path))
		return err
	}
	return nil
}
