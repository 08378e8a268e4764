// Package pagecache provides a write-back LRU cache in front of a
// pagestore.Store.
//
// The Cache implements pagestore.Store itself, so it can be stacked
// transparently:
//
//	store := pagestore.NewDiskStore(path)
//	...
//	cache := pagecache.New(store, func(o *pagecache.Options) { o.Capacity = 256 })
//	client := handle.Via(cache)
//
// Entries are keyed by (client, page). Reads return copies, writes are
// copied in and marked dirty. A dirty entry reaches the inner store when it
// is evicted or flushed; clean entries are dropped without I/O. If writing
// back an eviction victim fails, the victim stays resident and dirty and
// the error is returned to the caller that needed the space.
//
// Disposing a page through the cache drops its entry without writing it
// back. All operations are serialized on one mutex.
package pagecache
