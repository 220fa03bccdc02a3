// Package querycache is the session-wide get-or-populate cache behind every
// catalog read.
//
// # Freshness
//
// Each entry carries a Policy. Reads younger than StaleAfter return the cached
// value. Older reads still return the cached value but start one background
// refetch (stale-while-revalidate). Invalidate is different: an invalidated
// entry is never served, and the next Get fetches it synchronously, so a
// reader between invalidation and refetch triggers the refetch itself.
//
// # Keys
//
// Keys are hierarchical. Invalidate({"menu"}) reaches {"menu","items"} and
// {"menu","categories"}. An Invalidate that lands while a fetch for a matching
// key is in flight marks the fetched result invalid on arrival.
//
// # Retention
//
// Retain pins an entry while a consumer shows it. Sweep evicts entries that
// have been unreferenced for longer than GCAfter; Start runs it periodically.
//
// Concurrent Gets for the same key share one fetch via singleflight.
package querycache
