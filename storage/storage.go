// Package storage defines the key/value capability the cache and webhook
// engine persist through. The engine assumes single-key atomicity and
// nothing more, so implementations may be in-memory, Redis or SQL-backed.
package storage

import "errors"

// ErrKeyNotFound is returned by reads of absent keys.
var ErrKeyNotFound = errors.New("key not found")

// Storage is the injected persistence capability.
type Storage interface {
	GetString(key string) (string, error)
	SetString(key, value string) error
	GetInt(key string) (int64, error)
	SetInt(key string, value int64) error
	GetBool(key string) (bool, error)
	SetBool(key string, value bool) error
	// GetObject decodes the stored bytes for key into out using the
	// injected decode function.
	GetObject(key string, out any, decode func([]byte, any) error) error
	// SetObject encodes value with the injected encode function and stores it.
	SetObject(key string, value any, encode func(any) ([]byte, error)) error
	Remove(key string) error
	ContainsKey(key string) (bool, error)
	// Keys returns all stored keys beginning with prefix.
	Keys(prefix string) ([]string, error)
	Clear() error
}
