package secretsfakes

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/easelworks/easel/secrets"
)

var _ secrets.Store = (*FakeStore)(nil)

// FakeStore is an in-memory secrets.Store for tests.
type FakeStore struct {
	values map[string]string
	lock   sync.RWMutex

	// FailWith, when set, makes every call return this error.
	FailWith error
}

func NewFakeStore() *FakeStore {
	return &FakeStore{values: make(map[string]string)}
}

func (fs *FakeStore) Has(key string) (bool, error) {
	fs.lock.RLock()
	defer fs.lock.RUnlock()
	if fs.FailWith != nil {
		return false, fs.FailWith
	}
	_, ok := fs.values[key]
	return ok, nil
}

func (fs *FakeStore) Get(key string) (string, error) {
	fs.lock.RLock()
	defer fs.lock.RUnlock()
	if fs.FailWith != nil {
		return "", fs.FailWith
	}
	value, ok := fs.values[key]
	if !ok {
		return "", errors.Wrapf(secrets.ErrNotFound, "[Get] %s", key)
	}
	return value, nil
}

func (fs *FakeStore) Set(key, value string) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	if fs.FailWith != nil {
		return fs.FailWith
	}
	fs.values[key] = value
	return nil
}

func (fs *FakeStore) Delete(key string) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	if fs.FailWith != nil {
		return fs.FailWith
	}
	delete(fs.values, key)
	return nil
}
