// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"errors"
	"fmt"
)

var ErrInvalidEvent = errors.New("invalid event")
var ErrDuplicateEvent = errors.New("duplicate event id")
var ErrEventNotFound = errors.New("event not found")
var ErrCaseNotFound = errors.New("case not found")
var ErrReceiptNotFound = errors.New("receipt not found")
var ErrRebuildInProgress = errors.New("projection rebuild already in progress")
var ErrInvalidReview = errors.New("invalid review request")
var ErrInvalidFilter = errors.New("invalid case filter")

// StorageFailure wraps a backend read or write error with the operation that
// produced it.
type StorageFailure struct {
	Op  string
	Err error
}

func (e *StorageFailure) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageFailure) Unwrap() error {
	return e.Err
}

func NewStorageFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageFailure{Op: op, Err: err}
}

// IsStorageFailure reports whether err carries a StorageFailure.
func IsStorageFailure(err error) bool {
	var sf *StorageFailure
	return errors.As(err, &sf)
}
