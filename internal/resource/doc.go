// Package resource bounds the memory, concurrency and IO used by page caches
// and snapshot jobs.
//
//	┌──────────────────────────────────────────────────────┐
//	│                     Controller                       │
//	├────────────────┬─────────────────┬───────────────────┤
//	│ Memory budget  │ Worker slots    │ IO rate limiter   │
//	│ (cache pages)  │ (snapshot jobs) │ (token bucket)    │
//	├────────────────┼─────────────────┼───────────────────┤
//	│ TryAcquire     │ AcquireWorker   │ WaitIO            │
//	│ AcquireMemory  │ TryAcquire      │ NewReader         │
//	│ ReleaseMemory  │ ReleaseWorker   │                   │
//	└────────────────┴─────────────────┴───────────────────┘
//
// Caches reserve one page worth of bytes per resident entry and evict when
// TryAcquireMemory fails:
//
//	for !rc.TryAcquireMemory(int64(pageSize)) {
//	    if !cache.evictOne() {
//	        return resource.ErrMemoryLimitExceeded
//	    }
//	}
//
// Several caches may share one controller, which makes the budget global.
//
// All methods are safe for concurrent use, and a nil *Controller is a
// no-op.
package resource
