package alerts

import "errors"

var (
	// ErrNotFound indicates a missing alert record.
	ErrNotFound = errors.New("alert: not found")
	// ErrInvalidTransition indicates a lifecycle move the state machine forbids.
	ErrInvalidTransition = errors.New("alert: invalid status transition")
	// ErrStaleBatch indicates a batch from an abandoned or superseded tick.
	ErrStaleBatch = errors.New("alert: stale batch")
	// ErrInvalidCandidate indicates a candidate violation missing identity fields.
	ErrInvalidCandidate = errors.New("alert: invalid candidate violation")
)
