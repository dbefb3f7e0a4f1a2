// Package secrets persists the device's credential material: the long-lived
// refresh token and the current access token.
package secrets

import "github.com/pkg/errors"

// ErrNotFound is returned by Get for a key that has never been set.
var ErrNotFound = errors.New("secret not found")

// Store is a small key-value secret store. Implementations must be safe for
// concurrent use.
type Store interface {
	Has(key string) (bool, error)
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
}
