package credstore

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/hnrobert/securedash/internal/fileutil"
)

var (
	ErrConfigNotFound = errors.New("config file not found")
	ErrConfigParse    = errors.New("config file is malformed")
	ErrWrite          = errors.New("config file write failed")
)

const filePerm = 0o600

// Store reads and writes the YAML credential store at a single path.
//
// Load always hits the disk. LoadCached memoizes the first successful read
// for the life of the Store and must only feed display code; anything that
// ends in Save starts from Load (or goes through Update).
type Store struct {
	path string

	// serializes Update within this process; other processes still race.
	writeMu sync.Mutex

	cacheMu sync.Mutex
	cached  *ConfigStore
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func DefaultPath() string {
	return "config.yaml"
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Load() (*ConfigStore, error) {
	b, err := fileutil.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, s.path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	cs, err := Decode(b)
	if err != nil {
		return nil, err
	}
	return cs, nil
}

func (s *Store) LoadCached() (*ConfigStore, error) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cached == nil {
		cs, err := s.Load()
		if err != nil {
			return nil, err
		}
		s.cached = cs
	}
	return s.cached.Clone(), nil
}

// Save replaces the whole file with cs. Nil collections in cs are filled in
// the way Load fills them, so a saved store loads back equal.
func (s *Store) Save(cs *ConfigStore) error {
	if cs == nil {
		return fmt.Errorf("%w: nil store", ErrWrite)
	}
	cs.normalize()
	b, err := Encode(cs)
	if err != nil {
		return err
	}
	if err := fileutil.EnsureDir(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	if err := fileutil.WriteFileAtomic(s.path, b, filePerm); err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	return nil
}

// Update runs Load, fn and Save as one step. If fn returns an error nothing
// is written and the error is returned unchanged.
func (s *Store) Update(fn func(cs *ConfigStore) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cs, err := s.Load()
	if err != nil {
		return err
	}
	if err := fn(cs); err != nil {
		return err
	}
	return s.Save(cs)
}

// Ensure writes seed when no file exists yet. It reports whether it wrote.
func (s *Store) Ensure(seed *ConfigStore) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := os.Stat(s.path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("stat config file: %w", err)
	}
	if err := s.Save(seed); err != nil {
		return false, err
	}
	return true, nil
}

// Decode parses and validates a store document.
func Decode(b []byte) (*ConfigStore, error) {
	var cs ConfigStore
	if err := yaml.Unmarshal(b, &cs); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigParse, err)
	}
	if err := cs.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigParse, err)
	}
	cs.normalize()
	return &cs, nil
}

// Encode renders cs in the on-disk layout. Invalid stores are rejected so a
// bad Save can never leave behind a file that Load refuses.
func Encode(cs *ConfigStore) ([]byte, error) {
	if err := cs.Validate(); err != nil {
		return nil, fmt.Errorf("refusing to save config: %w", err)
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cs); err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	return buf.Bytes(), nil
}
