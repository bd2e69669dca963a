package feed

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/livedata/internal/model"
)

func TestDecodeValue(t *testing.T) {
	received := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		msg     string
		key     model.Key
		price   string
		volume  int64
		wantErr bool
	}{
		{
			name:   "ticker",
			msg:    `{"type":"ticker","sid":1,"msg":{"market_ticker":"A","price_dollars":"0.52","yes_bid_dollars":"0.50","yes_ask_dollars":"0.54","volume":10,"ts":1700000000}}`,
			key:    model.NewKey(model.ChannelTicker, "A"),
			price:  "0.52",
			volume: 10,
		},
		{
			name:   "trade",
			msg:    `{"type":"trade","sid":2,"msg":{"market_ticker":"B","count":3,"yes_price_dollars":"0.4100","taker_side":"yes","ts":1700000000}}`,
			key:    model.NewKey(model.ChannelTrade, "B"),
			price:  "0.41",
			volume: 3,
		},
		{
			name:   "orderbook delta",
			msg:    `{"type":"orderbook_delta","sid":3,"seq":7,"msg":{"market_ticker":"C","price_dollars":"0.30","delta":-5,"side":"no","ts":1700000000}}`,
			key:    model.NewKey(model.ChannelOrderbook, "C"),
			price:  "0.30",
			volume: -5,
		},
		{
			name:  "orderbook snapshot",
			msg:   `{"type":"orderbook_snapshot","sid":3,"seq":1,"msg":{"market_ticker":"C","yes_dollars":[["0.30",10]]}}`,
			key:   model.NewKey(model.ChannelOrderbook, "C"),
			price: "0",
		},
		{
			name:    "bad price",
			msg:     `{"type":"ticker","sid":1,"msg":{"market_ticker":"A","price_dollars":"abc"}}`,
			wantErr: true,
		},
		{
			name:    "unknown type",
			msg:     `{"type":"market_lifecycle","sid":1,"msg":{}}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var dm DataMessage
			if err := json.Unmarshal([]byte(tt.msg), &dm); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}

			key, val, err := decodeValue(dm, received)
			if tt.wantErr {
				if err == nil {
					t.Error("decodeValue() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("decodeValue() error = %v", err)
			}
			if key != tt.key {
				t.Errorf("key = %v, want %v", key, tt.key)
			}
			if !val.Price.Equal(decimal.RequireFromString(tt.price)) {
				t.Errorf("Price = %s, want %s", val.Price, tt.price)
			}
			if val.Volume != tt.volume {
				t.Errorf("Volume = %d, want %d", val.Volume, tt.volume)
			}
			if val.UpdatedAt.IsZero() {
				t.Error("UpdatedAt is zero")
			}
		})
	}
}

func TestFeedTime(t *testing.T) {
	received := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	if got := feedTime(0, received); !got.Equal(received) {
		t.Errorf("feedTime(0) = %v, want %v", got, received)
	}
	if got := feedTime(1700000000, received); !got.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("feedTime(1700000000) = %v, want %v", got, time.Unix(1700000000, 0))
	}
}

func TestParseResponse(t *testing.T) {
	tests := []struct {
		data string
		ok   bool
		typ  string
	}{
		{`{"id":1,"type":"subscribed","msg":{"sid":1,"channel":"ticker"}}`, true, respSubscribed},
		{`{"id":2,"type":"ok","msg":{}}`, true, respOK},
		{`{"id":3,"type":"error","msg":{"code":6,"msg":"x"}}`, true, respError},
		{`{"type":"ticker","sid":1,"msg":{}}`, false, ""},
		{`{"id":4,"type":"ticker"}`, false, ""},
		{`not json "id":`, false, ""},
	}
	for _, tt := range tests {
		resp, ok := parseResponse([]byte(tt.data))
		if ok != tt.ok {
			t.Errorf("parseResponse(%s) ok = %v, want %v", tt.data, ok, tt.ok)
			continue
		}
		if ok && resp.Type != tt.typ {
			t.Errorf("parseResponse(%s) type = %q, want %q", tt.data, resp.Type, tt.typ)
		}
	}
}

func TestGroupByChannel(t *testing.T) {
	keys := []model.Key{
		model.NewKey(model.ChannelTrade, "A"),
		model.NewKey(model.ChannelTicker, "B"),
		model.NewKey(model.ChannelTrade, "C"),
		model.NewKey(model.ChannelTrade, "A"),
	}
	groups := groupByChannel(keys)
	if len(groups) != 2 {
		t.Fatalf("groups = %d, want 2", len(groups))
	}
	if groups[0].channel != model.ChannelTicker || len(groups[0].keys) != 1 {
		t.Errorf("groups[0] = %+v, want ticker with 1 key", groups[0])
	}
	if groups[1].channel != model.ChannelTrade || len(groups[1].keys) != 2 {
		t.Errorf("groups[1] = %+v, want trade with 2 keys", groups[1])
	}
}

func TestMergeValue(t *testing.T) {
	prev := model.Value{
		Price: decimal.RequireFromString("0.50"),
		Bid:   decimal.RequireFromString("0.49"),
		Ask:   decimal.RequireFromString("0.51"),
	}
	next := model.Value{Price: decimal.RequireFromString("0.55"), Volume: 4}

	got := mergeValue(prev, next)
	if !got.Price.Equal(next.Price) || !got.Bid.Equal(prev.Bid) || got.Volume != 4 {
		t.Errorf("mergeValue() = %+v", got)
	}
}
