package feed

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/livedata/internal/model"
)

// Message types carrying values.
const (
	msgTicker            = "ticker"
	msgTrade             = "trade"
	msgOrderbookDelta    = "orderbook_delta"
	msgOrderbookSnapshot = "orderbook_snapshot"
)

func supportedChannel(channel string) bool {
	switch channel {
	case model.ChannelTicker, model.ChannelTrade, model.ChannelOrderbook:
		return true
	}
	return false
}

// decodeValue extracts the key and value carried by a data message.
// Fields the message does not carry are left zero.
func decodeValue(dm DataMessage, receivedAt time.Time) (model.Key, model.Value, error) {
	switch dm.Type {
	case msgTicker:
		var m tickerMsg
		if err := json.Unmarshal(dm.Msg, &m); err != nil {
			return model.Key{}, model.Value{}, fmt.Errorf("decode ticker: %w", err)
		}
		price, err := parseDollars(m.PriceDollars)
		if err != nil {
			return model.Key{}, model.Value{}, err
		}
		bid, err := parseDollars(m.YesBidDollars)
		if err != nil {
			return model.Key{}, model.Value{}, err
		}
		ask, err := parseDollars(m.YesAskDollars)
		if err != nil {
			return model.Key{}, model.Value{}, err
		}
		return model.NewKey(model.ChannelTicker, m.MarketTicker), model.Value{
			Price:     price,
			Bid:       bid,
			Ask:       ask,
			Volume:    m.Volume,
			UpdatedAt: feedTime(m.Ts, receivedAt),
		}, nil

	case msgTrade:
		var m tradeMsg
		if err := json.Unmarshal(dm.Msg, &m); err != nil {
			return model.Key{}, model.Value{}, fmt.Errorf("decode trade: %w", err)
		}
		price, err := parseDollars(m.YesPriceDollars)
		if err != nil {
			return model.Key{}, model.Value{}, err
		}
		return model.NewKey(model.ChannelTrade, m.MarketTicker), model.Value{
			Price:     price,
			Volume:    m.Count,
			UpdatedAt: feedTime(m.Ts, receivedAt),
		}, nil

	case msgOrderbookDelta:
		var m orderbookDeltaMsg
		if err := json.Unmarshal(dm.Msg, &m); err != nil {
			return model.Key{}, model.Value{}, fmt.Errorf("decode orderbook delta: %w", err)
		}
		price, err := parseDollars(m.PriceDollars)
		if err != nil {
			return model.Key{}, model.Value{}, err
		}
		return model.NewKey(model.ChannelOrderbook, m.MarketTicker), model.Value{
			Price:     price,
			Volume:    m.Delta,
			UpdatedAt: feedTime(m.Ts, receivedAt),
		}, nil

	case msgOrderbookSnapshot:
		var m struct {
			MarketTicker string `json:"market_ticker"`
		}
		if err := json.Unmarshal(dm.Msg, &m); err != nil {
			return model.Key{}, model.Value{}, fmt.Errorf("decode orderbook snapshot: %w", err)
		}
		return model.NewKey(model.ChannelOrderbook, m.MarketTicker), model.Value{UpdatedAt: receivedAt.UTC()}, nil
	}

	return model.Key{}, model.Value{}, fmt.Errorf("unknown message type %q", dm.Type)
}

// mergeValue overlays the non-zero fields of next onto prev.
func mergeValue(prev, next model.Value) model.Value {
	out := prev
	if !next.Price.IsZero() {
		out.Price = next.Price
	}
	if !next.Bid.IsZero() {
		out.Bid = next.Bid
	}
	if !next.Ask.IsZero() {
		out.Ask = next.Ask
	}
	if next.Volume != 0 {
		out.Volume = next.Volume
	}
	if !next.UpdatedAt.IsZero() {
		out.UpdatedAt = next.UpdatedAt
	}
	return out
}

func parseDollars(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse price %q: %w", s, err)
	}
	return d, nil
}

// feedTime converts a unix seconds timestamp, falling back to the receive time.
func feedTime(ts int64, receivedAt time.Time) time.Time {
	if ts == 0 {
		return receivedAt.UTC()
	}
	return time.Unix(ts, 0).UTC()
}

// snapshot copies the provider's values on first use.
type snapshot struct {
	p *Provider

	mu          sync.Mutex
	initialized bool
	at          time.Time
	values      map[model.Key]model.Value
}

func (s *snapshot) Init() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return
	}
	s.values = s.p.valuesCopy()
	s.at = time.Now().UTC()
	s.initialized = true
}

func (s *snapshot) SnapshotTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.at
}

func (s *snapshot) Value(key model.Key) (model.Value, bool) {
	s.Init()
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

// availability reports keys on supported channels as available.
type availability struct{}

func (availability) IsAvailable(key model.Key) bool {
	return key.Ticker != "" && supportedChannel(key.Channel)
}
