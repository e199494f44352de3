package cache

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is checks. The typed errors below match them.
var (
	// ErrInvalidKey indicates a malformed primary key, sub-key, type tag or namespace.
	ErrInvalidKey = errors.New("invalid cache key")

	// ErrSerialization indicates a value could not be encoded for storage.
	ErrSerialization = errors.New("cache serialization failed")

	// ErrDeserialization indicates a stored payload does not match the requested type.
	ErrDeserialization = errors.New("cache deserialization failed")

	// ErrStoreUnavailable indicates the document store could not be reached or used.
	ErrStoreUnavailable = errors.New("document store unavailable")

	// ErrWriteConflict is returned in RevisionChecked mode when another writer
	// committed to the same identifier first.
	ErrWriteConflict = errors.New("concurrent write conflict")
)

// InvalidKeyError describes why a key was rejected.
type InvalidKeyError struct {
	Key    string
	Reason string
}

// Error implements the error interface.
func (e *InvalidKeyError) Error() string {
	return fmt.Sprintf("invalid cache key %q: %s", e.Key, e.Reason)
}

// Is matches ErrInvalidKey.
func (e *InvalidKeyError) Is(target error) bool {
	return target == ErrInvalidKey
}

// SerializationError wraps an encoding failure.
type SerializationError struct {
	Type string
	Err  error
}

// Error implements the error interface.
func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialize %s: %v", e.Type, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *SerializationError) Unwrap() error {
	return e.Err
}

// Is matches ErrSerialization.
func (e *SerializationError) Is(target error) bool {
	return target == ErrSerialization
}

// DeserializationError wraps a decoding failure for a stored document.
type DeserializationError struct {
	Type string
	ID   string
	Err  error
}

// Error implements the error interface.
func (e *DeserializationError) Error() string {
	return fmt.Sprintf("deserialize %s from %q: %v", e.Type, e.ID, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *DeserializationError) Unwrap() error {
	return e.Err
}

// Is matches ErrDeserialization.
func (e *DeserializationError) Is(target error) bool {
	return target == ErrDeserialization
}

// StoreUnavailableError wraps a failed store operation.
type StoreUnavailableError struct {
	Op  string
	ID  string
	Err error
}

// Error implements the error interface.
func (e *StoreUnavailableError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("document store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("document store %s %q: %v", e.Op, e.ID, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *StoreUnavailableError) Unwrap() error {
	return e.Err
}

// Is matches ErrStoreUnavailable.
func (e *StoreUnavailableError) Is(target error) bool {
	return target == ErrStoreUnavailable
}

// ClearError reports the deletions that failed during a sweep.
// Err joins the individual failures.
type ClearError struct {
	Result SweepResult
	Err    error
}

// Error implements the error interface.
func (e *ClearError) Error() string {
	return fmt.Sprintf("sweep incomplete: %d of %d deletions failed: %v",
		e.Result.Failed, e.Result.Matched, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *ClearError) Unwrap() error {
	return e.Err
}
