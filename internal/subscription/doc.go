// Package subscription implements the market-data subscription coordinator.
//
// The Manager:
//   - Tracks every requested Key as Pending, Active, Failed or Removed
//   - Reconciles each cycle's required set against what is subscribed
//   - Issues subscribe/unsubscribe calls to the bound Provider in bounded batches
//   - Retries slow subscriptions and abandons ones that never resolve
//   - Swaps the Provider when the cycle's specifications or user change
//
// A single mutex guards the registry and the provider binding together.
// Provider calls are never made while it is held.
package subscription
