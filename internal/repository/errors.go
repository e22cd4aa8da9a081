// Package repository holds the errors shared by the storage engines.
package repository

import "errors"

var (
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition means a conditional status update matched no row:
	// the job was no longer in the expected state.
	ErrInvalidTransition = errors.New("invalid job state transition")
)
