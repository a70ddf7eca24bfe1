// Package store persists the EventPipe configuration in a durable,
// user-scoped key-value store that newly started processes can read.
//
// DESIGN: Two layers:
//   - Backend:  raw string key/value persistence (dotenv file, SQLite, memory)
//   - EnvStore: maps eventpipe.Configuration onto the five well-known keys
//
// EnvStore only ever touches eventpipe.Keys. Anything else living in the
// backend (other variables in the same .env file, for example) is preserved.
package store

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/compresr/dotnet-profile/internal/eventpipe"
)

// Backend types accepted by Open.
const (
	TypeDotenv = "dotenv"
	TypeSQLite = "sqlite"
	TypeMemory = "memory"
)

// Backend defines raw durable key-value persistence.
type Backend interface {
	// Lookup returns the value stored under key and whether it exists.
	Lookup(key string) (string, bool, error)

	// Apply stores every entry of set and removes every key in unset as one
	// step: either all changes land or none do. Removing an absent key is
	// not an error.
	Apply(set map[string]string, unset []string) error

	// Close releases resources.
	Close() error
}

// Open creates the backend named by typ at path.
func Open(typ, path string) (Backend, error) {
	switch typ {
	case TypeDotenv, "":
		return NewEnvFile(path)
	case TypeSQLite:
		return OpenSQLite(path)
	case TypeMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store type %q", typ)
	}
}

// EnvStore reads and writes eventpipe.Configuration through a Backend.
type EnvStore struct {
	backend Backend
}

// NewEnvStore wraps backend.
func NewEnvStore(backend Backend) *EnvStore {
	return &EnvStore{backend: backend}
}

// Write replaces the stored configuration with cfg in one backend step.
// Empty provider/path and zero buffer size are not written, and any stored
// value for those keys is removed.
func (s *EnvStore) Write(cfg eventpipe.Configuration) error {
	set := eventpipe.Encode(cfg)
	var unset []string
	for _, key := range eventpipe.Keys {
		if _, ok := set[key]; !ok {
			unset = append(unset, key)
		}
	}
	if err := s.backend.Apply(set, unset); err != nil {
		return fmt.Errorf("failed to store configuration: %w", err)
	}
	log.Debug().Int("set", len(set)).Strs("unset", unset).Msg("stored configuration")
	return nil
}

// Clear removes every well-known key.
func (s *EnvStore) Clear() error {
	if err := s.backend.Apply(nil, eventpipe.Keys); err != nil {
		return fmt.Errorf("failed to clear configuration: %w", err)
	}
	log.Debug().Int("keys", len(eventpipe.Keys)).Msg("cleared configuration keys")
	return nil
}

// Read loads the stored configuration. Missing keys keep their Absent defaults.
func (s *EnvStore) Read() (eventpipe.Configuration, error) {
	return eventpipe.Decode(func(key string) (string, bool, error) {
		v, ok, err := s.backend.Lookup(key)
		if err != nil {
			return "", false, fmt.Errorf("failed to read %s: %w", key, err)
		}
		return v, ok, nil
	})
}

// Environ returns the stored well-known keys as KEY=VALUE pairs in key order.
func (s *EnvStore) Environ() ([]string, error) {
	var env []string
	for _, key := range eventpipe.Keys {
		v, ok, err := s.backend.Lookup(key)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", key, err)
		}
		if ok {
			env = append(env, key+"="+v)
		}
	}
	return env, nil
}

// Close closes the underlying backend.
func (s *EnvStore) Close() error {
	return s.backend.Close()
}
