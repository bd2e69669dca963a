// Package cycle drives the computation cycle that consumes live market data.
//
// Each cycle binds a provider for the configured user and specs, declares the
// full set of keys the computation needs, and reads a snapshot of the values
// received so far. Cycles run on a fixed interval and are pulled forward when
// subscribed values change.
package cycle
