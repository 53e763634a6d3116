package sync

import (
	"errors"
	"fmt"
)

var (
	ErrRunInProgress   = errors.New("sync run already in progress")
	ErrMissingSelfLink = errors.New("record has no _links.self to delete at source")
	ErrUnknownEntity   = errors.New("no entity type registered")
)

// AuthError aborts a whole cycle.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication with master failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// ValidationError rejects a single record; the batch continues.
type ValidationError struct {
	RecordID string
	Reason   string
}

func (e *ValidationError) Error() string {
	if e.RecordID == "" {
		return fmt.Sprintf("record without id: %s", e.Reason)
	}
	return fmt.Sprintf("record %s: %s", e.RecordID, e.Reason)
}

// CommitError is a store failure while writing a record that passed
// validation. Whether it ends the batch is configurable.
type CommitError struct {
	RecordID string
	Err      error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("record %s: commit failed: %v", e.RecordID, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }

// DeletionError means a committed sensitive record is still present at the
// source. It always ends the batch.
type DeletionError struct {
	RecordID string
	Link     string
	Err      error
}

func (e *DeletionError) Error() string {
	if e.Link == "" {
		return fmt.Sprintf("record %s: delete at source: %v", e.RecordID, e.Err)
	}
	return fmt.Sprintf("record %s: delete at source %s: %v", e.RecordID, e.Link, e.Err)
}

func (e *DeletionError) Unwrap() error { return e.Err }
