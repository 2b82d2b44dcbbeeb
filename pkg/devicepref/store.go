package devicepref

import (
	"errors"
	"io/fs"
	"maps"
	"slices"
	"sync"

	"github.com/spf13/viper"
)

// A flat key/value store for preferences. Writes are synchronous.
type Store interface {
	GetString(key string) (string, bool)
	SetString(key, value string) error
	RemoveKey(key string) error
}

// --------------------------------------------------------------------------------
// Memory Store

type MemoryStore struct {
	mu     sync.Mutex
	values map[string]string
	writes int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (s *MemoryStore) GetString(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *MemoryStore) SetString(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	s.writes++
	return nil
}

func (s *MemoryStore) RemoveKey(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	s.writes++
	return nil
}

func (s *MemoryStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.values))
}

// Number of mutations so far.
func (s *MemoryStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// --------------------------------------------------------------------------------
// Viper Store

// A Store persisted to a config file through its own viper instance.
//
// Viper cannot unset a key, so removed keys are written as empty strings and
// empty values read as absent.
type ViperStore struct {
	mu   sync.Mutex
	v    *viper.Viper
	path string
}

// Open the store at path. The format follows the file extension, a missing file is created on the first write.
func NewViperStore(path string) (*ViperStore, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return &ViperStore{v: v, path: path}, nil
}

func (s *ViperStore) GetString(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.v.IsSet(key) {
		return "", false
	}
	value := s.v.GetString(key)
	return value, value != ""
}

func (s *ViperStore) SetString(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v.Set(key, value)
	return s.v.WriteConfigAs(s.path)
}

func (s *ViperStore) RemoveKey(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.v.IsSet(key) {
		return nil
	}
	s.v.Set(key, "")
	return s.v.WriteConfigAs(s.path)
}

func (s *ViperStore) Path() string {
	return s.path
}
