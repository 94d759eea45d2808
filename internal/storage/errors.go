// internal/storage/errors.go
package storage

import "errors"

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("storage: record not found")
