package model

import (
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// -----------------------------------------------------------------------------
// Market
// -----------------------------------------------------------------------------

// MarketSnapshot is the KRW-BTC market summary. Pushed ticks carry only
// the price; change and volume come from polls.
type MarketSnapshot struct {
	Price     decimal.Decimal     `json:"price"`
	Change24h decimal.NullDecimal `json:"change_24h"` // percent
	Volume24h decimal.NullDecimal `json:"volume_24h"` // BTC
	Timestamp time.Time           `json:"timestamp"`
}

func (m MarketSnapshot) Domain() Domain        { return DomainMarket }
func (m MarketSnapshot) OriginTime() time.Time { return m.Timestamp }
func (m MarketSnapshot) Kind() UpdateKind      { return KindSnapshot }

// Complete fills change and volume from the previous snapshot when this
// one does not carry them.
func (m MarketSnapshot) Complete(prev Record) Record {
	p, ok := prev.(MarketSnapshot)
	if !ok {
		return m
	}
	if !m.Change24h.Valid {
		m.Change24h = p.Change24h
	}
	if !m.Volume24h.Valid {
		m.Volume24h = p.Volume24h
	}
	return m
}

// FearGreedIndex is the crypto fear and greed index (0-100).
type FearGreedIndex struct {
	Value          int       `json:"value"`
	Classification string    `json:"classification"`
	Timestamp      time.Time `json:"timestamp"`
}

func (f FearGreedIndex) Domain() Domain        { return DomainFearGreed }
func (f FearGreedIndex) OriginTime() time.Time { return f.Timestamp }
func (f FearGreedIndex) Kind() UpdateKind      { return KindSnapshot }

// -----------------------------------------------------------------------------
// Trades
// -----------------------------------------------------------------------------

// Trade decisions recorded by the trading process.
const (
	DecisionBuy  = "buy"
	DecisionSell = "sell"
	DecisionHold = "hold"
)

// TradeEvent is one executed decision of the trading process.
type TradeEvent struct {
	ID          int64           `json:"id"`
	Timestamp   time.Time       `json:"timestamp"`
	Decision    string          `json:"decision"`
	Reason      string          `json:"reason"`
	Percentage  decimal.Decimal `json:"percentage"`
	BTCBalance  decimal.Decimal `json:"btc_balance"`
	KRWBalance  decimal.Decimal `json:"krw_balance"`
	AvgBuyPrice decimal.Decimal `json:"btc_avg_buy_price"`
	BTCPrice    decimal.Decimal `json:"btc_krw_price"`
	Reflection  string          `json:"reflection,omitempty"`
}

func (t TradeEvent) Domain() Domain        { return DomainTrades }
func (t TradeEvent) OriginTime() time.Time { return t.Timestamp }
func (t TradeEvent) Kind() UpdateKind      { return KindDelta }

// Equal compares two events field by field, decimals by value.
func (t TradeEvent) Equal(o TradeEvent) bool {
	return t.ID == o.ID &&
		t.Timestamp.Equal(o.Timestamp) &&
		t.Decision == o.Decision &&
		t.Reason == o.Reason &&
		t.Percentage.Equal(o.Percentage) &&
		t.BTCBalance.Equal(o.BTCBalance) &&
		t.KRWBalance.Equal(o.KRWBalance) &&
		t.AvgBuyPrice.Equal(o.AvgBuyPrice) &&
		t.BTCPrice.Equal(o.BTCPrice) &&
		t.Reflection == o.Reflection
}

// Newer orders events newest first: by timestamp, then by ID.
func (t TradeEvent) Newer(o TradeEvent) bool {
	if !t.Timestamp.Equal(o.Timestamp) {
		return t.Timestamp.After(o.Timestamp)
	}
	return t.ID > o.ID
}

// SortNewestFirst orders trades in place, newest first.
func SortNewestFirst(trades []TradeEvent) {
	slices.SortStableFunc(trades, func(a, b TradeEvent) int {
		switch {
		case a.Newer(b):
			return -1
		case b.Newer(a):
			return 1
		default:
			return 0
		}
	})
}

// TradeWindow is the bounded, newest-first list of recent trades.
type TradeWindow struct {
	Trades    []TradeEvent `json:"trades"`
	FetchedAt time.Time    `json:"fetched_at"`
}

func (w TradeWindow) Domain() Domain        { return DomainTrades }
func (w TradeWindow) OriginTime() time.Time { return w.FetchedAt }
func (w TradeWindow) Kind() UpdateKind      { return KindSnapshot }

// Contains reports whether the window holds a trade with the given ID.
func (w TradeWindow) Contains(id int64) bool {
	for _, t := range w.Trades {
		if t.ID == id {
			return true
		}
	}
	return false
}

// Latest returns the newest trade, if any.
func (w TradeWindow) Latest() (TradeEvent, bool) {
	if len(w.Trades) == 0 {
		return TradeEvent{}, false
	}
	return w.Trades[0], true
}

// Equal reports whether both windows hold equal trades in the same order.
func (w TradeWindow) Equal(o TradeWindow) bool {
	if len(w.Trades) != len(o.Trades) {
		return false
	}
	for i := range w.Trades {
		if !w.Trades[i].Equal(o.Trades[i]) {
			return false
		}
	}
	return true
}

// -----------------------------------------------------------------------------
// Portfolio, indicators, statistics
// -----------------------------------------------------------------------------

// PortfolioSnapshot is the account position valued at the current price.
type PortfolioSnapshot struct {
	BTCBalance      decimal.Decimal `json:"btc_balance"`
	KRWBalance      decimal.Decimal `json:"krw_balance"`
	AvgBuyPrice     decimal.Decimal `json:"btc_avg_buy_price"`
	BTCPrice        decimal.Decimal `json:"btc_price"`
	TotalValueKRW   decimal.Decimal `json:"total_value_krw"`
	InitialValueKRW decimal.Decimal `json:"initial_value_krw"`
	ProfitLoss      decimal.Decimal `json:"profit_loss"`
	ProfitLossPct   decimal.Decimal `json:"profit_loss_percentage"`
	FetchedAt       time.Time       `json:"fetched_at"`
}

func (p PortfolioSnapshot) Domain() Domain        { return DomainPortfolio }
func (p PortfolioSnapshot) OriginTime() time.Time { return p.FetchedAt }
func (p PortfolioSnapshot) Kind() UpdateKind      { return KindSnapshot }

// IndicatorSnapshot holds technical indicators on the daily series. Any
// value may be absent while the rolling windows are still filling.
type IndicatorSnapshot struct {
	RSI        decimal.NullDecimal `json:"rsi"`
	MACD       decimal.NullDecimal `json:"macd"`
	MACDSignal decimal.NullDecimal `json:"macd_signal"`
	BBUpper    decimal.NullDecimal `json:"bb_upper"`
	BBMiddle   decimal.NullDecimal `json:"bb_middle"`
	BBLower    decimal.NullDecimal `json:"bb_lower"`
	SMA20      decimal.NullDecimal `json:"sma_20"`
	EMA12      decimal.NullDecimal `json:"ema_12"`
	FetchedAt  time.Time           `json:"fetched_at"`
}

func (i IndicatorSnapshot) Domain() Domain        { return DomainIndicators }
func (i IndicatorSnapshot) OriginTime() time.Time { return i.FetchedAt }
func (i IndicatorSnapshot) Kind() UpdateKind      { return KindSnapshot }

// StatisticsSnapshot summarizes the trade history.
type StatisticsSnapshot struct {
	TotalTrades    int            `json:"total_trades"`
	DecisionCounts map[string]int `json:"decision_counts"`
	FirstTrade     time.Time      `json:"first_trade_date"` // zero when there are no trades
	LastTrade      time.Time      `json:"last_trade_date"`
	LatestTradeID  int64          `json:"latest_trade_id,omitempty"`
	FetchedAt      time.Time      `json:"fetched_at"`
}

func (s StatisticsSnapshot) Domain() Domain        { return DomainStatistics }
func (s StatisticsSnapshot) OriginTime() time.Time { return s.FetchedAt }
func (s StatisticsSnapshot) Kind() UpdateKind      { return KindSnapshot }

// -----------------------------------------------------------------------------
// Reflections and chart
// -----------------------------------------------------------------------------

// ReflectionEntry is one AI reflection attached to a trade.
type ReflectionEntry struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Decision  string    `json:"decision"`
	Text      string    `json:"reflection"`
}

// ReflectionLog is the most recent reflections, newest first.
type ReflectionLog struct {
	Entries   []ReflectionEntry `json:"entries"`
	FetchedAt time.Time         `json:"fetched_at"`
}

func (r ReflectionLog) Domain() Domain        { return DomainReflections }
func (r ReflectionLog) OriginTime() time.Time { return r.FetchedAt }
func (r ReflectionLog) Kind() UpdateKind      { return KindSnapshot }

// ChartInterval is a candle width accepted by the OHLCV endpoint.
type ChartInterval string

// ChartIntervals lists the accepted candle widths.
var ChartIntervals = []ChartInterval{
	"minute1", "minute3", "minute5", "minute10", "minute15",
	"minute30", "minute60", "minute240", "day", "week", "month",
}

// DefaultChartInterval is used when none is configured.
const DefaultChartInterval ChartInterval = "day"

// ParseChartInterval validates s against ChartIntervals.
func ParseChartInterval(s string) (ChartInterval, error) {
	for _, iv := range ChartIntervals {
		if string(iv) == s {
			return iv, nil
		}
	}
	return "", fmt.Errorf("invalid chart interval %q", s)
}

// DefaultCount is the number of candles requested for the interval.
func (iv ChartInterval) DefaultCount() int {
	switch iv {
	case "day":
		return 30
	case "minute60":
		return 24
	default:
		return 60
	}
}

// Candle is one OHLCV bar.
type Candle struct {
	Time   time.Time       `json:"time"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
}

// ChartSeries is the candle series for one interval, oldest first.
type ChartSeries struct {
	Interval  ChartInterval `json:"interval"`
	Candles   []Candle      `json:"candles"`
	FetchedAt time.Time     `json:"fetched_at"`
}

func (c ChartSeries) Domain() Domain        { return DomainChart }
func (c ChartSeries) OriginTime() time.Time { return c.FetchedAt }
func (c ChartSeries) Kind() UpdateKind      { return KindSnapshot }
