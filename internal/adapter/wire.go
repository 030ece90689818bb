package adapter

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Wire types mirror the backend JSON. Required fields are pointers so a
// missing key and a JSON null are both detectable.

type marketWire struct {
	CurrentPrice *decimal.Decimal    `json:"current_price"`
	Timestamp    *string             `json:"timestamp"`
	Change24h    decimal.NullDecimal `json:"change_24h"`
	Volume24h    decimal.NullDecimal `json:"volume_24h"`
}

type fearGreedWire struct {
	Value          *int    `json:"value"`
	Classification *string `json:"classification"`
	Timestamp      *string `json:"timestamp"`
}

// tradeWire is one row of the backend trades table.
type tradeWire struct {
	ID          *int64           `json:"id"`
	Timestamp   *string          `json:"timestamp"`
	Decision    *string          `json:"decision"`
	Reason      *string          `json:"reason"`
	Percentage  *decimal.Decimal `json:"percentage"`
	BTCBalance  *decimal.Decimal `json:"btc_balance"`
	KRWBalance  *decimal.Decimal `json:"krw_balance"`
	AvgBuyPrice *decimal.Decimal `json:"btc_avg_buy_price"`
	BTCPrice    *decimal.Decimal `json:"btc_krw_price"`
	Reflection  *string          `json:"reflection"`
}

type portfolioWire struct {
	BTCBalance      *decimal.Decimal `json:"current_btc_balance"`
	KRWBalance      *decimal.Decimal `json:"current_krw_balance"`
	AvgBuyPrice     *decimal.Decimal `json:"btc_avg_buy_price"`
	BTCPrice        *decimal.Decimal `json:"current_btc_price"`
	TotalValueKRW   *decimal.Decimal `json:"total_value_krw"`
	InitialValueKRW *decimal.Decimal `json:"initial_value_krw"`
	ProfitLoss      *decimal.Decimal `json:"profit_loss"`
	ProfitLossPct   *decimal.Decimal `json:"profit_loss_percentage"`
}

type indicatorsWire struct {
	RSI        decimal.NullDecimal `json:"rsi"`
	MACD       decimal.NullDecimal `json:"macd"`
	MACDSignal decimal.NullDecimal `json:"macd_signal"`
	BBUpper    decimal.NullDecimal `json:"bb_upper"`
	BBMiddle   decimal.NullDecimal `json:"bb_middle"`
	BBLower    decimal.NullDecimal `json:"bb_lower"`
	SMA20      decimal.NullDecimal `json:"sma_20"`
	EMA12      decimal.NullDecimal `json:"ema_12"`
}

type statisticsWire struct {
	TotalTrades    *int            `json:"total_trades"`
	DecisionCounts map[string]int  `json:"decision_counts"`
	FirstTradeDate *string         `json:"first_trade_date"`
	LastTradeDate  *string         `json:"last_trade_date"`
	LatestTrade    json.RawMessage `json:"latest_trade"`
}

type reflectionWire struct {
	ID         *int64  `json:"id"`
	Timestamp  *string `json:"timestamp"`
	Decision   *string `json:"decision"`
	Reflection *string `json:"reflection"`
}

type chartWire struct {
	Interval *string      `json:"interval"`
	Data     []candleWire `json:"data"`
}

type candleWire struct {
	Index  *string          `json:"index"`
	Open   *decimal.Decimal `json:"open"`
	High   *decimal.Decimal `json:"high"`
	Low    *decimal.Decimal `json:"low"`
	Close  *decimal.Decimal `json:"close"`
	Volume *decimal.Decimal `json:"volume"`
}

// frameEnvelope is the common shape of every pushed frame.
type frameEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type marketFrameWire struct {
	Price     *decimal.Decimal    `json:"price"`
	Timestamp *string             `json:"timestamp"`
	Change24h decimal.NullDecimal `json:"change_24h"`
	Volume24h decimal.NullDecimal `json:"volume_24h"`
}
