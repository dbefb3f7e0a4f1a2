package secrets

import (
	"crypto/rand"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keyFileName    = "secrets.key"
	secretFileName = "secrets.box"

	keySize   = 32
	nonceSize = 24
)

var _ Store = (*FileStore)(nil)

// FileStore keeps secrets in a single secretbox-encrypted file next to a
// locally generated key file. It stands in for a platform keychain on kiosk
// hardware that has none; the key file (mode 0600) is the trust boundary.
type FileStore struct {
	dir  string
	key  [keySize]byte
	lock sync.Mutex
}

// NewFileStore opens the store rooted at dir, creating the directory and the
// encryption key on first use.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("[NewFileStore] dir is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.Wrap(err, "[NewFileStore] create dir")
	}
	fs := &FileStore{dir: dir}
	if err := fs.loadOrCreateKey(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (fs *FileStore) loadOrCreateKey() error {
	keyPath := filepath.Join(fs.dir, keyFileName)
	raw, err := os.ReadFile(keyPath)
	if err == nil {
		if len(raw) != keySize {
			return errors.Errorf("[loadOrCreateKey] key file is %d bytes, want %d", len(raw), keySize)
		}
		copy(fs.key[:], raw)
		return nil
	}
	if !os.IsNotExist(err) {
		return errors.Wrap(err, "[loadOrCreateKey] read key file")
	}
	if _, err := io.ReadFull(rand.Reader, fs.key[:]); err != nil {
		return errors.Wrap(err, "[loadOrCreateKey] generate key")
	}
	if err := os.WriteFile(keyPath, fs.key[:], 0o600); err != nil {
		return errors.Wrap(err, "[loadOrCreateKey] write key file")
	}
	return nil
}

func (fs *FileStore) Has(key string) (bool, error) {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	values, err := fs.read()
	if err != nil {
		return false, err
	}
	_, ok := values[key]
	return ok, nil
}

func (fs *FileStore) Get(key string) (string, error) {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	values, err := fs.read()
	if err != nil {
		return "", err
	}
	value, ok := values[key]
	if !ok {
		return "", errors.Wrapf(ErrNotFound, "[Get] %s", key)
	}
	return value, nil
}

func (fs *FileStore) Set(key, value string) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	values, err := fs.read()
	if err != nil {
		return err
	}
	values[key] = value
	return fs.write(values)
}

func (fs *FileStore) Delete(key string) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	values, err := fs.read()
	if err != nil {
		return err
	}
	delete(values, key)
	return fs.write(values)
}

func (fs *FileStore) read() (map[string]string, error) {
	raw, err := os.ReadFile(filepath.Join(fs.dir, secretFileName))
	if os.IsNotExist(err) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "[read] read secret file")
	}
	if len(raw) < nonceSize {
		return nil, errors.New("[read] secret file truncated")
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &fs.key)
	if !ok {
		return nil, errors.New("[read] secret file failed authentication")
	}
	values := make(map[string]string)
	if err := json.Unmarshal(plain, &values); err != nil {
		return nil, errors.Wrap(err, "[read] decode secrets")
	}
	return values, nil
}

func (fs *FileStore) write(values map[string]string) error {
	plain, err := json.Marshal(values)
	if err != nil {
		return errors.Wrap(err, "[write] encode secrets")
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return errors.Wrap(err, "[write] generate nonce")
	}
	sealed := secretbox.Seal(nonce[:], plain, &nonce, &fs.key)
	path := filepath.Join(fs.dir, secretFileName)

	// Write-then-rename so a crash never leaves a half-written store.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, sealed, 0o600); err != nil {
		return errors.Wrap(err, "[write] write temp file")
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "[write] replace secret file")
	}
	return nil
}
