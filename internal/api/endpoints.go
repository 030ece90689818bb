package api

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/nan0silver/AIBitcoinTrading/internal/model"
)

// FetchFunc retrieves one raw payload.
type FetchFunc func(ctx context.Context) ([]byte, error)

// Market fetches GET /market.
func (c *Client) Market(ctx context.Context) ([]byte, error) {
	return c.get(ctx, "/market", nil)
}

// FearGreed fetches GET /fear-greed.
func (c *Client) FearGreed(ctx context.Context) ([]byte, error) {
	return c.get(ctx, "/fear-greed", nil)
}

// Indicators fetches GET /indicators.
func (c *Client) Indicators(ctx context.Context) ([]byte, error) {
	return c.get(ctx, "/indicators", nil)
}

// Statistics fetches GET /statistics.
func (c *Client) Statistics(ctx context.Context) ([]byte, error) {
	return c.get(ctx, "/statistics", nil)
}

// Portfolio fetches GET /portfolio.
func (c *Client) Portfolio(ctx context.Context) ([]byte, error) {
	return c.get(ctx, "/portfolio", nil)
}

// Trades fetches the newest limit trades.
func (c *Client) Trades(ctx context.Context, limit int) ([]byte, error) {
	return c.get(ctx, "/trades", limitQuery(limit))
}

// Reflections fetches the newest limit reflection entries.
func (c *Client) Reflections(ctx context.Context, limit int) ([]byte, error) {
	return c.get(ctx, "/reflections", limitQuery(limit))
}

// Chart fetches count candles of the given interval.
func (c *Client) Chart(ctx context.Context, interval model.ChartInterval, count int) ([]byte, error) {
	if _, err := model.ParseChartInterval(string(interval)); err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("interval", string(interval))
	if count > 0 {
		q.Set("count", strconv.Itoa(count))
	}
	return c.get(ctx, "/chart/ohlcv", q)
}

// FetcherParams carries the query knobs of the parameterized endpoints.
type FetcherParams struct {
	TradeLimit      int
	ReflectionLimit int
	// ChartInterval is read on every call so the interval can change
	// between polls.
	ChartInterval func() model.ChartInterval
	ChartCount    int
}

// Fetcher returns the FetchFunc polling the given domain.
func (c *Client) Fetcher(domain model.Domain, p FetcherParams) (FetchFunc, error) {
	switch domain {
	case model.DomainMarket:
		return c.Market, nil
	case model.DomainFearGreed:
		return c.FearGreed, nil
	case model.DomainIndicators:
		return c.Indicators, nil
	case model.DomainStatistics:
		return c.Statistics, nil
	case model.DomainPortfolio:
		return c.Portfolio, nil
	case model.DomainTrades:
		return func(ctx context.Context) ([]byte, error) {
			return c.Trades(ctx, p.TradeLimit)
		}, nil
	case model.DomainReflections:
		return func(ctx context.Context) ([]byte, error) {
			return c.Reflections(ctx, p.ReflectionLimit)
		}, nil
	case model.DomainChart:
		return func(ctx context.Context) ([]byte, error) {
			iv := model.DefaultChartInterval
			if p.ChartInterval != nil {
				iv = p.ChartInterval()
			}
			count := p.ChartCount
			if count <= 0 {
				count = iv.DefaultCount()
			}
			return c.Chart(ctx, iv, count)
		}, nil
	default:
		return nil, fmt.Errorf("no endpoint for domain %q", domain)
	}
}

func limitQuery(limit int) url.Values {
	if limit <= 0 {
		return nil
	}
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	return q
}
