// Package twincache persists the device's last known twin documents.
//
// The hub owns the twin; this cache holds the most recent view of it so
// desired configuration survives restarts and the local API can answer
// twin reads without a cloud round-trip. One row is kept per document
// type (desired, reported, full) and every save replaces the previous
// document of that type.
//
// # Usage
//
//	cache := twincache.New(db)
//	if err := cache.SaveDesired(ctx, desired, version); err != nil {
//	    return err
//	}
//
//	entry, err := cache.Get(ctx, twincache.DocDesired)
//	if errors.Is(err, twincache.ErrNotCached) {
//	    // first run: nothing stored yet
//	}
//
// All operations are safe for concurrent use; SQLite serialises writes.
package twincache
