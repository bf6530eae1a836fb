package spool

import "errors"

// Errors returned by the event spool.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, spool.ErrNotFound) {
//	    // unknown id, or the event was already marked sent
//	}
var (
	// ErrNotFound is returned by MarkSent when no pending event has the
	// given id.
	ErrNotFound = errors.New("spool: event not found")
)
