// Package model defines the market-data vocabulary shared across the coordinator.
//
// Conventions:
//   - Keys: (channel, ticker) pairs, compared by value
//   - Prices: decimal dollars (e.g. "0.52"), never floats
//   - Timestamps: time.Time in UTC
package model
