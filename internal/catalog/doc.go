// Package catalog looks up tradable markets over the exchange REST API and
// turns them into the key set a computation cycle requires.
//
// REST endpoints:
//   - Production: https://api.elections.kalshi.com/trade-api/v2
//   - Demo: https://demo-api.kalshi.co/trade-api/v2
package catalog
