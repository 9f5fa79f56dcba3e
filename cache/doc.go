// Package cache provides the in-memory API response cache with durable
// snapshots.
//
// Store maps a cache key to a JSON value and an absolute expiry time. Reads
// are lock-free: the current entries are an immutable map held in an atomic
// pointer, and every write builds a new map and swaps it in. An entry is
// readable only while the current time is before its expiry. Expired entries
// are never returned, and they are dropped when a snapshot is written.
//
// ## Persistence
//
// When a kvstore.Store is configured, the unexpired entries are written to it
// as a single JSON object, both on a fixed interval (default 1 minute) and at
// Close. Each flush reads the live map, so it always contains the most recent
// writes. New restores the snapshot and discards entries that expired while
// the process was not running. An unreadable or malformed snapshot is logged
// and the cache starts empty.
//
// A failed flush never affects the in-memory cache. Flush reports the failure
// as an apierror of kind KindCachePersistence, and the periodic flusher only
// logs it.
//
// ## Invalidation
//
// Invalidate removes single keys, or all keys when called with none. A later
// fetch of an invalidated key goes to the remote API.
package cache
