// Package feed provides a market data provider over a Kalshi-style websocket
// feed.
//
// A Provider owns one websocket connection. Subscribe and Unsubscribe send
// commands without waiting; command responses are correlated by id and
// reported to listeners. Data messages update a latest-value cache that
// snapshots copy. The connection reconnects with exponential backoff and
// re-subscribes every confirmed key.
package feed
