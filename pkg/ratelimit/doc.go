// Package ratelimit bounds the aggregate request rate against the Mapillary
// Graph API and its image CDN.
//
// The TokenBucket limiter combines two mechanisms:
//
// Token bucket:
//   - Fixed capacity bucket that refills after a specified period
//   - Bounds the steady-state request rate of the whole batch
//
// Shared penalty delay:
//   - Raised whenever any request observes an explicit rate-limit signal
//     (HTTP 429 or Retry-After)
//   - Applied to every subsequent request from any worker, not only the
//     request that was throttled
//   - Grows monotonically while signals keep arriving, capped at a ceiling,
//     and expires after a quiet cooldown period
//
// All workers share a single limiter instance; it is the only cross-worker
// mutable state besides the run summary.
//
// Usage:
//
//	limiter := ratelimit.NewTokenBucket(60, time.Minute)
//
//	if err := limiter.Wait(ctx); err != nil {
//	    return err // cancelled
//	}
//	// proceed with request; on a 429:
//	limiter.Penalize(retryAfter)
package ratelimit
