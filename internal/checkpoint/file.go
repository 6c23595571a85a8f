package checkpoint

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const fileSuffix = ".checkpoint.json"

// FileStore keeps one JSON document per transfer in a directory. Saves go
// through a temp file, fsync and rename so a crash leaves either the old or
// the new record, never a torn one.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("error creating checkpoint directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+fileSuffix)
}

func (s *FileStore) Load(id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return decode(data)
}

func (s *FileStore) Save(rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.Version = Version
	rec.UpdatedAt = time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		if data, err := os.ReadFile(s.path(rec.ID)); err == nil {
			if prev, err := decode(data); err == nil {
				rec.CreatedAt = prev.CreatedAt
			}
		}
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = rec.UpdatedAt
	}
	data, err := encode(rec)
	if err != nil {
		return fmt.Errorf("error encoding checkpoint: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, rec.ID+".*.tmp")
	if err != nil {
		return fmt.Errorf("error creating checkpoint temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("error writing checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("error syncing checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("error closing checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, s.path(rec.ID)); err != nil {
		return fmt.Errorf("error committing checkpoint: %w", err)
	}
	syncDir(s.dir)
	return nil
}

func (s *FileStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path(id))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("error deleting checkpoint: %w", err)
	}
	return nil
}

// List returns every readable record; unreadable files are skipped.
func (s *FileStore) List() ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("error reading checkpoint directory: %w", err)
	}
	var out []*Record
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), fileSuffix) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			continue
		}
		rec, err := decode(data)
		if err != nil {
			log.Debug().Str("op", "checkpoint/file").Err(err).Msgf("Skipping unreadable checkpoint %s", entry.Name())
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *FileStore) Close() error {
	return nil
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	d.Sync()
	d.Close()
}
