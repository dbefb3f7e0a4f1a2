// Package prefs persists small pieces of non-secret device state between
// runs: the registered surface id and the access token expiry timestamp.
// State is stored in a single TOML file.
package prefs

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
)

// Well-known keys.
const (
	KeySurfaceID            = "surface-id"
	KeyAccessTokenExpiresAt = "auth-access-token-expires-at"
)

// Store is the persisted key-value interface the rest of the client uses.
type Store interface {
	GetString(key string) (string, bool)
	SetString(key, value string) error
	GetTime(key string) (time.Time, bool)
	SetTime(key string, value time.Time) error
	Delete(key string) error
}

var _ Store = (*FileStore)(nil)

// FileStore keeps values in a TOML file, rewritten on every set. Values are
// loaded once at open and served from memory afterwards.
type FileStore struct {
	path   string
	lock   sync.RWMutex
	values map[string]string
}

// Open loads the store at path, creating parent directories as needed. A
// missing file is an empty store, not an error.
func Open(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("[Open] path is required")
	}
	fs := &FileStore{path: path, values: make(map[string]string)}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return fs, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "[Open] read prefs file")
	}
	if err := toml.Unmarshal(raw, &fs.values); err != nil {
		return nil, errors.Wrap(err, "[Open] decode prefs file")
	}
	return fs, nil
}

func (fs *FileStore) GetString(key string) (string, bool) {
	fs.lock.RLock()
	defer fs.lock.RUnlock()
	value, ok := fs.values[key]
	return value, ok
}

func (fs *FileStore) SetString(key, value string) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	fs.values[key] = value
	return fs.save()
}

// GetTime reads an RFC 3339 timestamp. An unset or unparseable value reads
// as absent.
func (fs *FileStore) GetTime(key string) (time.Time, bool) {
	raw, ok := fs.GetString(key)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func (fs *FileStore) SetTime(key string, value time.Time) error {
	return fs.SetString(key, value.Format(time.RFC3339Nano))
}

func (fs *FileStore) Delete(key string) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	delete(fs.values, key)
	return fs.save()
}

// save is called with the lock held.
func (fs *FileStore) save() error {
	raw, err := toml.Marshal(fs.values)
	if err != nil {
		return errors.Wrap(err, "[save] encode prefs")
	}
	if err := os.MkdirAll(filepath.Dir(fs.path), 0o755); err != nil {
		return errors.Wrap(err, "[save] create prefs dir")
	}
	if err := os.WriteFile(fs.path, raw, 0o644); err != nil {
		return errors.Wrap(err, "[save] write prefs file")
	}
	return nil
}
