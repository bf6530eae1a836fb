// Package spool journals device-to-cloud events that could not be
// published.
//
// When the hub session is down (or a publish fails) events are written
// to the event_spool table instead of being dropped. On reconnect the
// agent reads them back in insert order, publishes each one, and marks
// it sent. Delivered rows are kept until pruned so recent traffic can
// be inspected.
//
// # Usage
//
//	sp := spool.New(db)
//	id, err := sp.Enqueue(ctx, payload, properties)
//
//	// later, once the session is back:
//	events, _ := sp.Pending(ctx, 100)
//	for _, ev := range events {
//	    if err := publish(ev); err != nil {
//	        break // still offline, leave the rest queued
//	    }
//	    sp.MarkSent(ctx, ev.ID)
//	}
//
// All operations are safe for concurrent use; SQLite serialises writes.
package spool
