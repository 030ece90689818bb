package adapter

import (
	"encoding/json"
	"time"

	"github.com/nan0silver/AIBitcoinTrading/internal/model"
)

// Frame types pushed by the backend.
const (
	FrameMarketUpdate = "market_update"
	FrameNewTrade     = "new_trade"
)

// frameChannels maps each state-carrying frame type to the channel it
// must arrive on.
var frameChannels = map[string]model.Channel{
	FrameMarketUpdate: model.ChannelMarket,
	FrameNewTrade:     model.ChannelTrades,
}

// FrameType extracts the type field without decoding the payload.
func FrameType(raw []byte) (string, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", err
	}
	return env.Type, nil
}

// NormalizeFrame decodes a frame received on channel. receivedAt is used
// as the origin time when the frame carries no timestamp.
func NormalizeFrame(channel model.Channel, raw []byte, receivedAt time.Time) (model.Record, error) {
	var env frameEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, malformed(channel.Domain(), "", err)
	}

	want, known := frameChannels[env.Type]
	if !known || want != channel {
		return nil, ErrIgnoredFrame
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, malformed(channel.Domain(), "data", errMissing)
	}

	switch env.Type {
	case FrameMarketUpdate:
		return marketFromFrame(env.Data, receivedAt)
	case FrameNewTrade:
		return tradeFromFrame(env.Data)
	default:
		return nil, ErrIgnoredFrame
	}
}

func marketFromFrame(data json.RawMessage, receivedAt time.Time) (model.Record, error) {
	var wire marketFrameWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, malformed(model.DomainMarket, "data", err)
	}
	if wire.Price == nil {
		return nil, malformed(model.DomainMarket, "data.price", errMissing)
	}

	ts := receivedAt
	if wire.Timestamp != nil {
		parsed, err := parseTimestamp(*wire.Timestamp)
		if err != nil {
			return nil, malformed(model.DomainMarket, "data.timestamp", err)
		}
		ts = parsed
	}

	return model.MarketSnapshot{
		Price:     *wire.Price,
		Change24h: wire.Change24h,
		Volume24h: wire.Volume24h,
		Timestamp: ts,
	}, nil
}

func tradeFromFrame(data json.RawMessage) (model.Record, error) {
	var wire tradeWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, malformed(model.DomainTrades, "data", err)
	}
	trade, err := tradeFromWire(wire)
	if err != nil {
		return nil, err
	}
	return trade, nil
}
