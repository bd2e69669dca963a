// Package metrics exposes coordinator state as Prometheus metrics.
//
// Key metrics:
//   - Subscription counts per state
//   - Provider binding state
//   - Monitor retries and abandons
//   - Provider batch calls and failures
//   - Journal enqueue, drop and flush counts
package metrics
