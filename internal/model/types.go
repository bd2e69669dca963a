package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Feed channels a Key may name.
const (
	ChannelTicker    = "ticker"
	ChannelTrade     = "trade"
	ChannelOrderbook = "orderbook_delta"
)

// -----------------------------------------------------------------------------
// Subscription Types
// -----------------------------------------------------------------------------

// Key identifies one market-data item. Keys are comparable and used as map keys.
type Key struct {
	Channel string // Feed channel (e.g., "ticker", "orderbook_delta")
	Ticker  string // Market ticker (e.g., "PRES-2024-DEM")
}

// NewKey builds a Key for a channel and market ticker.
func NewKey(channel, ticker string) Key {
	return Key{Channel: channel, Ticker: ticker}
}

// String returns "<channel>:<ticker>".
func (k Key) String() string {
	return k.Channel + ":" + k.Ticker
}

// ParseKey parses the String form of a Key. A value without a channel prefix
// is treated as a ticker on the ticker channel.
func ParseKey(s string) Key {
	channel, ticker, ok := strings.Cut(s, ":")
	if !ok {
		return Key{Channel: ChannelTicker, Ticker: s}
	}
	return Key{Channel: channel, Ticker: ticker}
}

// Spec describes one source of market data a provider is built from.
type Spec struct {
	Kind   string `yaml:"kind"`   // "live"
	Source string `yaml:"source"` // Feed name (e.g., "kalshi")
}

// String returns "<kind>:<source>".
func (s Spec) String() string {
	return s.Kind + ":" + s.Source
}

// UserPrincipal is the identity market data is requested on behalf of.
type UserPrincipal struct {
	UserName  string
	IPAddress string
}

// testUserName is substituted when a caller supplies no user name.
const testUserName = "livedata-test-user"

// TestUser returns the principal used when no user name is supplied.
func TestUser() UserPrincipal {
	return UserPrincipal{UserName: testUserName, IPAddress: "127.0.0.1"}
}

// String returns "user@ip".
func (u UserPrincipal) String() string {
	return u.UserName + "@" + u.IPAddress
}

// -----------------------------------------------------------------------------
// Value Types
// -----------------------------------------------------------------------------

// Value is the latest observed state of one Key.
type Value struct {
	Price     decimal.Decimal // Last price in dollars
	Bid       decimal.Decimal // Best YES bid in dollars
	Ask       decimal.Decimal // Best YES ask in dollars
	Volume    int64           // Total volume (ticker) or trade size (trade)
	UpdatedAt time.Time       // Local receive time of the update
}

// Spread returns Ask - Bid, or zero when either side is missing.
func (v Value) Spread() decimal.Decimal {
	if v.Bid.IsZero() || v.Ask.IsZero() {
		return decimal.Zero
	}
	return v.Ask.Sub(v.Bid)
}
