package adapter

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nan0silver/AIBitcoinTrading/internal/model"
)

// Normalize decodes a REST response body for domain. fetchedAt is the
// time the request was issued; it becomes the origin time of records
// whose payload carries no timestamp of its own.
func Normalize(domain model.Domain, raw []byte, fetchedAt time.Time) (model.Record, error) {
	switch domain {
	case model.DomainMarket:
		return normalizeMarket(raw)
	case model.DomainFearGreed:
		return normalizeFearGreed(raw)
	case model.DomainPortfolio:
		return normalizePortfolio(raw, fetchedAt)
	case model.DomainTrades:
		return normalizeTrades(raw, fetchedAt)
	case model.DomainIndicators:
		return normalizeIndicators(raw, fetchedAt)
	case model.DomainStatistics:
		return normalizeStatistics(raw, fetchedAt)
	case model.DomainReflections:
		return normalizeReflections(raw, fetchedAt)
	case model.DomainChart:
		return normalizeChart(raw, fetchedAt)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDomain, domain)
	}
}

func normalizeMarket(raw []byte) (model.Record, error) {
	var wire marketWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, malformed(model.DomainMarket, "", err)
	}
	if wire.CurrentPrice == nil {
		return nil, malformed(model.DomainMarket, "current_price", errMissing)
	}
	ts, err := requireTimestamp(model.DomainMarket, "timestamp", wire.Timestamp)
	if err != nil {
		return nil, err
	}

	return model.MarketSnapshot{
		Price:     *wire.CurrentPrice,
		Change24h: wire.Change24h,
		Volume24h: wire.Volume24h,
		Timestamp: ts,
	}, nil
}

func normalizeFearGreed(raw []byte) (model.Record, error) {
	var wire fearGreedWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, malformed(model.DomainFearGreed, "", err)
	}
	if wire.Value == nil {
		return nil, malformed(model.DomainFearGreed, "value", errMissing)
	}
	if *wire.Value < 0 || *wire.Value > 100 {
		return nil, malformed(model.DomainFearGreed, "value", fmt.Errorf("out of range: %d", *wire.Value))
	}
	if wire.Classification == nil {
		return nil, malformed(model.DomainFearGreed, "classification", errMissing)
	}
	ts, err := requireTimestamp(model.DomainFearGreed, "timestamp", wire.Timestamp)
	if err != nil {
		return nil, err
	}

	return model.FearGreedIndex{
		Value:          *wire.Value,
		Classification: *wire.Classification,
		Timestamp:      ts,
	}, nil
}

func normalizePortfolio(raw []byte, fetchedAt time.Time) (model.Record, error) {
	var wire portfolioWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, malformed(model.DomainPortfolio, "", err)
	}

	// An account without trades reports zeros and omits initial_value_krw.
	required := []struct {
		name  string
		value *decimal.Decimal
	}{
		{"current_btc_balance", wire.BTCBalance},
		{"current_krw_balance", wire.KRWBalance},
		{"total_value_krw", wire.TotalValueKRW},
	}
	for _, f := range required {
		if f.value == nil {
			return nil, malformed(model.DomainPortfolio, f.name, errMissing)
		}
	}

	return model.PortfolioSnapshot{
		BTCBalance:      *wire.BTCBalance,
		KRWBalance:      *wire.KRWBalance,
		AvgBuyPrice:     orZero(wire.AvgBuyPrice),
		BTCPrice:        orZero(wire.BTCPrice),
		TotalValueKRW:   *wire.TotalValueKRW,
		InitialValueKRW: orZero(wire.InitialValueKRW),
		ProfitLoss:      orZero(wire.ProfitLoss),
		ProfitLossPct:   orZero(wire.ProfitLossPct),
		FetchedAt:       fetchedAt,
	}, nil
}

func normalizeTrades(raw []byte, fetchedAt time.Time) (model.Record, error) {
	var rows []tradeWire
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, malformed(model.DomainTrades, "", err)
	}

	trades := make([]model.TradeEvent, 0, len(rows))
	seen := make(map[int64]struct{}, len(rows))
	for i, row := range rows {
		trade, err := tradeFromWire(row)
		if err != nil {
			if ae, ok := err.(*AdapterError); ok {
				ae.Field = fmt.Sprintf("[%d].%s", i, ae.Field)
			}
			return nil, err
		}
		if _, dup := seen[trade.ID]; dup {
			continue
		}
		seen[trade.ID] = struct{}{}
		trades = append(trades, trade)
	}
	model.SortNewestFirst(trades)

	return model.TradeWindow{Trades: trades, FetchedAt: fetchedAt}, nil
}

func tradeFromWire(row tradeWire) (model.TradeEvent, error) {
	if row.ID == nil {
		return model.TradeEvent{}, malformed(model.DomainTrades, "id", errMissing)
	}
	if row.Decision == nil {
		return model.TradeEvent{}, malformed(model.DomainTrades, "decision", errMissing)
	}
	ts, err := requireTimestamp(model.DomainTrades, "timestamp", row.Timestamp)
	if err != nil {
		return model.TradeEvent{}, err
	}

	return model.TradeEvent{
		ID:          *row.ID,
		Timestamp:   ts,
		Decision:    *row.Decision,
		Reason:      orEmpty(row.Reason),
		Percentage:  orZero(row.Percentage),
		BTCBalance:  orZero(row.BTCBalance),
		KRWBalance:  orZero(row.KRWBalance),
		AvgBuyPrice: orZero(row.AvgBuyPrice),
		BTCPrice:    orZero(row.BTCPrice),
		Reflection:  orEmpty(row.Reflection),
	}, nil
}

func normalizeIndicators(raw []byte, fetchedAt time.Time) (model.Record, error) {
	var wire indicatorsWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, malformed(model.DomainIndicators, "", err)
	}

	return model.IndicatorSnapshot{
		RSI:        wire.RSI,
		MACD:       wire.MACD,
		MACDSignal: wire.MACDSignal,
		BBUpper:    wire.BBUpper,
		BBMiddle:   wire.BBMiddle,
		BBLower:    wire.BBLower,
		SMA20:      wire.SMA20,
		EMA12:      wire.EMA12,
		FetchedAt:  fetchedAt,
	}, nil
}

func normalizeStatistics(raw []byte, fetchedAt time.Time) (model.Record, error) {
	var wire statisticsWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, malformed(model.DomainStatistics, "", err)
	}
	if wire.TotalTrades == nil {
		return nil, malformed(model.DomainStatistics, "total_trades", errMissing)
	}

	stats := model.StatisticsSnapshot{
		TotalTrades:    *wire.TotalTrades,
		DecisionCounts: wire.DecisionCounts,
		FetchedAt:      fetchedAt,
	}
	if stats.DecisionCounts == nil {
		stats.DecisionCounts = map[string]int{}
	}

	var err error
	if wire.FirstTradeDate != nil {
		if stats.FirstTrade, err = parseTimestamp(*wire.FirstTradeDate); err != nil {
			return nil, malformed(model.DomainStatistics, "first_trade_date", err)
		}
	}
	if wire.LastTradeDate != nil {
		if stats.LastTrade, err = parseTimestamp(*wire.LastTradeDate); err != nil {
			return nil, malformed(model.DomainStatistics, "last_trade_date", err)
		}
	}

	if len(wire.LatestTrade) > 0 && string(wire.LatestTrade) != "null" {
		var latest tradeWire
		if err := json.Unmarshal(wire.LatestTrade, &latest); err != nil {
			return nil, malformed(model.DomainStatistics, "latest_trade", err)
		}
		if latest.ID == nil {
			return nil, malformed(model.DomainStatistics, "latest_trade.id", errMissing)
		}
		stats.LatestTradeID = *latest.ID
	}

	return stats, nil
}

func normalizeReflections(raw []byte, fetchedAt time.Time) (model.Record, error) {
	var rows []reflectionWire
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, malformed(model.DomainReflections, "", err)
	}

	entries := make([]model.ReflectionEntry, 0, len(rows))
	for i, row := range rows {
		if row.ID == nil {
			return nil, malformed(model.DomainReflections, fmt.Sprintf("[%d].id", i), errMissing)
		}
		ts, err := requireTimestamp(model.DomainReflections, fmt.Sprintf("[%d].timestamp", i), row.Timestamp)
		if err != nil {
			return nil, err
		}
		entries = append(entries, model.ReflectionEntry{
			ID:        *row.ID,
			Timestamp: ts,
			Decision:  orEmpty(row.Decision),
			Text:      orEmpty(row.Reflection),
		})
	}

	return model.ReflectionLog{Entries: entries, FetchedAt: fetchedAt}, nil
}

func normalizeChart(raw []byte, fetchedAt time.Time) (model.Record, error) {
	var wire chartWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, malformed(model.DomainChart, "", err)
	}
	if wire.Interval == nil {
		return nil, malformed(model.DomainChart, "interval", errMissing)
	}
	interval, err := model.ParseChartInterval(*wire.Interval)
	if err != nil {
		return nil, malformed(model.DomainChart, "interval", err)
	}

	candles := make([]model.Candle, 0, len(wire.Data))
	for i, c := range wire.Data {
		field := func(name string) string { return fmt.Sprintf("data[%d].%s", i, name) }

		ts, err := requireTimestamp(model.DomainChart, field("index"), c.Index)
		if err != nil {
			return nil, err
		}
		prices := []struct {
			name  string
			value *decimal.Decimal
		}{
			{"open", c.Open}, {"high", c.High}, {"low", c.Low}, {"close", c.Close},
		}
		for _, p := range prices {
			if p.value == nil {
				return nil, malformed(model.DomainChart, field(p.name), errMissing)
			}
		}

		candles = append(candles, model.Candle{
			Time:   ts,
			Open:   *c.Open,
			High:   *c.High,
			Low:    *c.Low,
			Close:  *c.Close,
			Volume: orZero(c.Volume),
		})
	}

	return model.ChartSeries{Interval: interval, Candles: candles, FetchedAt: fetchedAt}, nil
}

func requireTimestamp(domain model.Domain, field string, s *string) (time.Time, error) {
	if s == nil {
		return time.Time{}, malformed(domain, field, errMissing)
	}
	ts, err := parseTimestamp(*s)
	if err != nil {
		return time.Time{}, malformed(domain, field, err)
	}
	return ts, nil
}

func orZero(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}

func orEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
