package catalog

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
)

// MarketStatusOpen filters markets that are currently trading.
const MarketStatusOpen = "open"

const maxPageSize = 1000

// Market is the subset of a market listing the catalog uses.
type Market struct {
	Ticker       string `json:"ticker"`
	EventTicker  string `json:"event_ticker"`
	Title        string `json:"title"`
	Status       string `json:"status"`
	CloseTime    string `json:"close_time"`
	Volume24h    int64  `json:"volume_24h"`
	OpenInterest int64  `json:"open_interest"`
}

// MarketsResponse is the GET /markets page.
type MarketsResponse struct {
	Markets []Market `json:"markets"`
	Cursor  string   `json:"cursor"`
}

// MarketsQuery filters a GET /markets request.
type MarketsQuery struct {
	Limit        int
	Cursor       string
	SeriesTicker string
	EventTicker  string
	Status       string
}

// GetMarkets fetches one page of markets.
func (c *Client) GetMarkets(ctx context.Context, q MarketsQuery) (*MarketsResponse, error) {
	query := url.Values{}
	if q.Limit > 0 {
		query.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Cursor != "" {
		query.Set("cursor", q.Cursor)
	}
	if q.SeriesTicker != "" {
		query.Set("series_ticker", q.SeriesTicker)
	}
	if q.EventTicker != "" {
		query.Set("event_ticker", q.EventTicker)
	}
	if q.Status != "" {
		query.Set("status", q.Status)
	}

	var resp MarketsResponse
	if err := c.get(ctx, "/markets", query, &resp); err != nil {
		return nil, fmt.Errorf("get markets: %w", err)
	}
	return &resp, nil
}

// OpenMarkets pages through every open market in a series.
func (c *Client) OpenMarkets(ctx context.Context, series string) ([]Market, error) {
	q := MarketsQuery{
		Limit:        maxPageSize,
		SeriesTicker: series,
		Status:       MarketStatusOpen,
	}

	var all []Market
	for {
		resp, err := c.GetMarkets(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("series %s: %w", series, err)
		}
		all = append(all, resp.Markets...)

		if resp.Cursor == "" {
			return all, nil
		}
		q.Cursor = resp.Cursor
	}
}
