package feed

import (
	"encoding/json"
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrUnsupportedSpec = errors.New("unsupported market data spec")
)

// Spec values served by this package.
const (
	SpecKind   = "live"
	SpecSource = "kalshi"
)

// Command names and update actions.
const (
	cmdSubscribe          = "subscribe"
	cmdUpdateSubscription = "update_subscription"

	actionAddMarkets    = "add_markets"
	actionDeleteMarkets = "delete_markets"
)

// Response types.
const (
	respSubscribed   = "subscribed"
	respUnsubscribed = "unsubscribed"
	respError        = "error"
	respOK           = "ok"
)

// TimestampedMessage wraps raw message data with its receive time.
type TimestampedMessage struct {
	Data       []byte
	ReceivedAt time.Time
}

// Command is a websocket command sent to the server.
type Command struct {
	ID     int64  `json:"id"`
	Cmd    string `json:"cmd"`
	Params any    `json:"params"`
}

// SubscribeParams are parameters for a subscribe command.
type SubscribeParams struct {
	Channels      []string `json:"channels"`
	MarketTickers []string `json:"market_tickers,omitempty"`
}

// UpdateSubscriptionParams add or remove markets on existing subscriptions.
type UpdateSubscriptionParams struct {
	SIDs          []int64  `json:"sids"`
	Action        string   `json:"action"`
	MarketTickers []string `json:"market_tickers"`
}

// Response is a command response from the server.
type Response struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	Msg  json.RawMessage `json:"msg"`
}

// SubscribedMsg is the body of a "subscribed" response.
type SubscribedMsg struct {
	SID     int64  `json:"sid"`
	Channel string `json:"channel"`
}

// ErrorMsg is the body of an "error" response.
type ErrorMsg struct {
	Code    any    `json:"code"`
	Message string `json:"msg"`
}

// DataMessage is a data message from the server.
type DataMessage struct {
	Type string          `json:"type"`
	SID  int64           `json:"sid"`
	Seq  int64           `json:"seq,omitempty"`
	Msg  json.RawMessage `json:"msg"`
}

// tickerMsg is the body of a "ticker" message.
type tickerMsg struct {
	MarketTicker  string `json:"market_ticker"`
	PriceDollars  string `json:"price_dollars"`
	YesBidDollars string `json:"yes_bid_dollars"`
	YesAskDollars string `json:"yes_ask_dollars"`
	Volume        int64  `json:"volume"`
	Ts            int64  `json:"ts"`
}

// tradeMsg is the body of a "trade" message.
type tradeMsg struct {
	MarketTicker    string `json:"market_ticker"`
	Count           int64  `json:"count"`
	YesPriceDollars string `json:"yes_price_dollars"`
	Ts              int64  `json:"ts"`
}

// orderbookDeltaMsg is the body of an "orderbook_delta" message.
type orderbookDeltaMsg struct {
	MarketTicker string `json:"market_ticker"`
	PriceDollars string `json:"price_dollars"`
	Delta        int64  `json:"delta"`
	Side         string `json:"side"`
	Ts           int64  `json:"ts"`
}

// Config configures a feed Provider.
type Config struct {
	URL               string        // Websocket URL
	DialTimeout       time.Duration // Handshake timeout
	PingTimeout       time.Duration // Max time without ping before the connection is stale
	WriteTimeout      time.Duration // Write deadline for sends
	BufferSize        int           // Inbound message buffer
	ReconnectBaseWait time.Duration // First reconnect delay
	ReconnectMaxWait  time.Duration // Reconnect delay cap
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		DialTimeout:       10 * time.Second,
		PingTimeout:       60 * time.Second,
		WriteTimeout:      5 * time.Second,
		BufferSize:        10000,
		ReconnectBaseWait: time.Second,
		ReconnectMaxWait:  60 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DialTimeout <= 0 {
		c.DialTimeout = d.DialTimeout
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = d.PingTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.BufferSize <= 0 {
		c.BufferSize = d.BufferSize
	}
	if c.ReconnectBaseWait <= 0 {
		c.ReconnectBaseWait = d.ReconnectBaseWait
	}
	if c.ReconnectMaxWait <= 0 {
		c.ReconnectMaxWait = d.ReconnectMaxWait
	}
	return c
}
