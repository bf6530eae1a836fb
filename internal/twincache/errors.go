package twincache

import "errors"

// Errors returned by the twin cache.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, twincache.ErrNotCached) {
//	    // no document of that type has been saved yet
//	}
var (
	// ErrNotCached is returned by Get when no document of the requested
	// type has been saved.
	ErrNotCached = errors.New("twincache: not cached")
)
