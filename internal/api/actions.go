package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/nan0silver/AIBitcoinTrading/internal/model"
)

// ErrInvalidAction is returned for action parameters the backend would reject.
var ErrInvalidAction = errors.New("invalid action parameters")

// AIAnalysis requests a fresh AI decision without executing it.
func (c *Client) AIAnalysis(ctx context.Context, includeBalance bool) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("include_balance", strconv.FormatBool(includeBalance))
	return c.post(ctx, "/ai-analysis", q)
}

// ManualTrade executes a buy or sell of percentage (1..100) of the
// available balance.
func (c *Client) ManualTrade(ctx context.Context, decision string, percentage int) (json.RawMessage, error) {
	if decision != model.DecisionBuy && decision != model.DecisionSell {
		return nil, fmt.Errorf("%w: decision %q", ErrInvalidAction, decision)
	}
	if percentage < 1 || percentage > 100 {
		return nil, fmt.Errorf("%w: percentage %d", ErrInvalidAction, percentage)
	}
	q := url.Values{}
	q.Set("decision", decision)
	q.Set("percentage", strconv.Itoa(percentage))
	return c.post(ctx, "/manual-trade", q)
}

// AITrade asks the backend to analyze and execute in one step.
func (c *Client) AITrade(ctx context.Context) (json.RawMessage, error) {
	return c.post(ctx, "/ai-trade", nil)
}
