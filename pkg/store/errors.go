// Package store implements a single-file container of named, typed,
// N-dimensional datasets that grow along their first axis.
package store

import "errors"

// Common errors
var (
	ErrExists        = errors.New("store already exists")
	ErrNotStore      = errors.New("not a store file")
	ErrCorrupt       = errors.New("store is corrupt")
	ErrNotFound      = errors.New("dataset not found")
	ErrDatasetExists = errors.New("dataset already exists")
	ErrReadOnly      = errors.New("store is read-only")
	ErrClosed        = errors.New("store is closed")
	ErrShapeMismatch = errors.New("shape mismatch")
	ErrMaxShape      = errors.New("maximum shape exceeded")
	ErrIndexRange    = errors.New("index out of range")
	ErrDType         = errors.New("wrong data type")
)

// Unlimited marks a dimension in a max shape that may grow without bound.
const Unlimited = -1
