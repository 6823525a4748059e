// Package kvstore is the small persistent state the bus keeps between runs.
package kvstore

import "errors"

// NoOp can be returned from an Update function to leave the stored value untouched.
var NoOp = errors.New("noop")

// KVStore is a byte key/value store. Get returns nil for missing keys.
type KVStore interface {
	Get(key []byte) ([]byte, error)
	Set(key []byte, value []byte) error
	Delete(key []byte) error

	// Update atomically replaces the value of key with the result of f. Returning a nil
	// value deletes the key.
	Update(key []byte, f func([]byte) ([]byte, error)) error

	Close() error
}
