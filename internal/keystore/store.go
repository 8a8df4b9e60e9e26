// Package keystore persists client key material under short names.
// Entries are opaque bytes; callers decide the encoding (hex scalars,
// PEM blocks, device identifiers).
package keystore

import "errors"

// ErrNotFound is returned when a named entry does not exist.
var ErrNotFound = errors.New("key store entry not found")

// Store is a named byte-blob store.
type Store interface {
	Get(name string) ([]byte, error)
	Set(name string, data []byte) error
	Delete(name string) error
}
