// Package settings persists user interface preferences as a JSON document.
//
// The document lives in the configuration directory and is validated
// against an embedded JSON Schema on load and on every change. Keys the
// schema does not know are kept as-is, so preferences written by a newer
// version survive a round trip through an older daemon.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"mirrorshard/internal/atomicfile"
)

const filePerm = 0600

// Store holds the settings document and persists changes atomically.
type Store struct {
	path string

	mu       sync.RWMutex
	values   map[string]any
	onChange []func(key string, value any)
}

// Open loads the settings document at path, merging it over the defaults.
// A missing file is not an error; the store starts from defaults and the
// file is created on the first change.
func Open(path string) (*Store, error) {
	values := Defaults()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var fileValues map[string]any
		if err := json.Unmarshal(data, &fileValues); err != nil {
			return nil, fmt.Errorf("parse settings file: %w", err)
		}
		for k, v := range fileValues {
			values[k] = v
		}
		if err := Validate(values); err != nil {
			return nil, err
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("read settings file: %w", err)
	}

	return &Store{path: path, values: values}, nil
}

// Path returns the location of the settings file.
func (s *Store) Path() string {
	return s.path
}

// Get returns the value stored under key.
func (s *Store) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[key]
	return v, ok
}

// All returns a copy of the whole document.
func (s *Store) All() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Set validates and persists a single change. The file is replaced
// atomically; on any failure the in-memory document is left untouched.
func (s *Store) Set(key string, value any) error {
	// The round trip through JSON lets callers hand in any marshalable
	// Go value while validation and storage see plain JSON types.
	normalized, err := normalize(value)
	if err != nil {
		return err
	}

	s.mu.Lock()

	candidate := make(map[string]any, len(s.values)+1)
	for k, v := range s.values {
		candidate[k] = v
	}
	candidate[key] = normalized

	if err := Validate(candidate); err != nil {
		s.mu.Unlock()
		return err
	}
	if err := s.persist(candidate); err != nil {
		s.mu.Unlock()
		return err
	}

	s.values = candidate
	hooks := make([]func(string, any), len(s.onChange))
	copy(hooks, s.onChange)
	s.mu.Unlock()

	for _, fn := range hooks {
		fn(key, normalized)
	}

	return nil
}

// OnChange registers a callback invoked after every successful Set.
// Register before handing the store to other goroutines.
func (s *Store) OnChange(fn func(key string, value any)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

func (s *Store) persist(values map[string]any) error {
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	data = append(data, '\n')

	if err := atomicfile.WriteFile(s.path, data, filePerm); err != nil {
		return fmt.Errorf("write settings file: %w", err)
	}
	return nil
}

func normalize(value any) (any, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return out, nil
}
