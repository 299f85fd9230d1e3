package storage

import (
	"errors"
	"fmt"
)

// Sentinel errors. Implementations wrap them in *StorageError.
var (
	ErrNotFound     = errors.New("object not found")
	ErrKeyExists    = errors.New("object already exists at this key")
	ErrInvalidKey   = errors.New("invalid storage key")
	ErrTooLarge     = errors.New("object exceeds maximum size")
	ErrAccessDenied = errors.New("access denied")
)

// StorageError records the archive operation and key that failed.
type StorageError struct {
	Op  string // "Put", "Get", "Delete", "Exists", "List", "ParseKey"
	Key string
	Err error
}

func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage %s %q: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func IsNotFound(err error) bool   { return errors.Is(err, ErrNotFound) }
func IsKeyExists(err error) bool  { return errors.Is(err, ErrKeyExists) }
func IsInvalidKey(err error) bool { return errors.Is(err, ErrInvalidKey) }
func IsTooLarge(err error) bool   { return errors.Is(err, ErrTooLarge) }

// IsPermanent reports whether retrying the same call cannot succeed: the
// key or payload is rejected, or the credentials lack access. Network and
// provider failures are not permanent.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrInvalidKey) ||
		errors.Is(err, ErrTooLarge) ||
		errors.Is(err, ErrAccessDenied)
}
