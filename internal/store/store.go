package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	registryFile = "active_bots.json"
	countersFile = "api_counters.json"
	newsFile     = "news_cache.json"
)

// Store persists all daemon state as JSON files under a data directory.
// Every rewrite goes through a temp-file + rename so readers never observe a
// partially written file.
type Store struct {
	dir string
	mu  sync.Mutex // Serializes registry rewrites
}

// New creates the data directory if needed and returns a Store. A data
// directory that cannot be created or written is a fatal condition for the
// process.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", dir, err)
	}
	marker := filepath.Join(dir, ".write_check")
	if err := os.WriteFile(marker, []byte("ok"), 0o644); err != nil {
		return nil, fmt.Errorf("data dir %s is not writable: %w", dir, err)
	}
	_ = os.Remove(marker)
	return &Store{dir: dir}, nil
}

// Dir returns the data directory path.
func (s *Store) Dir() string {
	return s.dir
}

// WriteJSONAtomic marshals v and atomically replaces the named file.
func (s *Store) WriteJSONAtomic(name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	path := filepath.Join(s.dir, name)
	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", name, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp for %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp for %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp for %s: %w", name, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", name, err)
	}
	return nil
}

// ReadJSON unmarshals the named file into v. Returns os.ErrNotExist when the
// file is absent.
func (s *Store) ReadJSON(name string, v interface{}) error {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	return nil
}

// LoadRegistry reads active_bots.json. A missing file yields an empty
// registry with NextID 1.
func (s *Store) LoadRegistry() (*Registry, error) {
	var reg Registry
	err := s.ReadJSON(registryFile, &reg)
	if errors.Is(err, os.ErrNotExist) {
		return &Registry{NextID: 1}, nil
	}
	if err != nil {
		return nil, err
	}
	if reg.NextID < 1 {
		reg.NextID = 1
	}
	return &reg, nil
}

// SaveRegistry atomically rewrites active_bots.json.
func (s *Store) SaveRegistry(reg *Registry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.WriteJSONAtomic(registryFile, reg)
}

func positionFile(botID int) string {
	return fmt.Sprintf("bot_%d_position.json", botID)
}

// LoadPosition reads a bot's position file. Returns (nil, nil) when the bot
// holds no position.
func (s *Store) LoadPosition(botID int) (*Position, error) {
	var pos Position
	err := s.ReadJSON(positionFile(botID), &pos)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pos, nil
}

// SavePosition atomically rewrites a bot's position file.
func (s *Store) SavePosition(botID int, pos *Position) error {
	return s.WriteJSONAtomic(positionFile(botID), pos)
}

// DeletePosition removes a bot's position file. Deleting an absent file is
// not an error.
func (s *Store) DeletePosition(botID int) error {
	err := os.Remove(filepath.Join(s.dir, positionFile(botID)))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// CountersFile returns the daily-counters file name.
func CountersFile() string { return countersFile }

// NewsCacheFile returns the news-cache snapshot file name.
func NewsCacheFile() string { return newsFile }
