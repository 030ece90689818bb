package store

import (
	"github.com/nan0silver/AIBitcoinTrading/internal/model"
)

// windowOf returns the stored trade window, or an empty one.
func windowOf(cur model.Record) model.TradeWindow {
	if w, ok := cur.(model.TradeWindow); ok {
		return w
	}
	return model.TradeWindow{}
}

// mergeTrade inserts a pushed trade into the window, keeping it newest
// first and bounded to n. A trade already present, or one too old to
// survive truncation, changes nothing.
func mergeTrade(cur model.TradeWindow, trade model.TradeEvent, n int) (model.Record, error) {
	if cur.Contains(trade.ID) {
		return nil, ErrDuplicateTrade
	}

	trades := make([]model.TradeEvent, 0, len(cur.Trades)+1)
	inserted := false
	for _, t := range cur.Trades {
		if !inserted && trade.Newer(t) {
			trades = append(trades, trade)
			inserted = true
		}
		trades = append(trades, t)
	}
	if !inserted {
		trades = append(trades, trade)
	}

	if len(trades) > n {
		if !containsID(trades[:n], trade.ID) {
			return nil, ErrStaleUpdate
		}
		trades = trades[:n]
	}

	fetchedAt := cur.FetchedAt
	if trade.Timestamp.After(fetchedAt) {
		fetchedAt = trade.Timestamp
	}
	return model.TradeWindow{Trades: trades, FetchedAt: fetchedAt}, nil
}

// mergeWindow reconciles a polled window with the stored one. The poll
// replaces the stored window unless the stored window holds a trade the
// poll lacks that is newer than the poll's oldest entry (a push the poll
// raced with). In that case the two are unioned by ID, poll rows winning,
// then sorted and truncated. A result equal to the stored window is stale.
func mergeWindow(cur model.Record, poll model.TradeWindow, n int) (model.Record, error) {
	stored, hasStored := cur.(model.TradeWindow)

	incoming := make([]model.TradeEvent, len(poll.Trades))
	copy(incoming, poll.Trades)
	model.SortNewestFirst(incoming)

	merged := incoming
	if hasStored && missesNewer(stored.Trades, incoming) {
		merged = union(incoming, stored.Trades)
	}
	if len(merged) > n {
		merged = merged[:n]
	}

	result := model.TradeWindow{Trades: merged, FetchedAt: poll.FetchedAt}
	if hasStored && result.Equal(stored) {
		return nil, ErrStaleUpdate
	}
	return result, nil
}

// missesNewer reports whether stored holds an ID absent from poll that
// is newer than poll's oldest trade. poll is sorted newest first.
func missesNewer(stored, poll []model.TradeEvent) bool {
	if len(stored) == 0 {
		return false
	}
	if len(poll) == 0 {
		return true
	}

	oldest := poll[len(poll)-1]
	inPoll := make(map[int64]struct{}, len(poll))
	for _, t := range poll {
		inPoll[t.ID] = struct{}{}
	}
	for _, t := range stored {
		if _, ok := inPoll[t.ID]; ok {
			continue
		}
		if t.Newer(oldest) {
			return true
		}
	}
	return false
}

// union merges two windows by ID. Rows from primary win on conflict.
func union(primary, secondary []model.TradeEvent) []model.TradeEvent {
	out := make([]model.TradeEvent, 0, len(primary)+len(secondary))
	seen := make(map[int64]struct{}, len(primary)+len(secondary))
	for _, list := range [][]model.TradeEvent{primary, secondary} {
		for _, t := range list {
			if _, dup := seen[t.ID]; dup {
				continue
			}
			seen[t.ID] = struct{}{}
			out = append(out, t)
		}
	}
	model.SortNewestFirst(out)
	return out
}

func containsID(trades []model.TradeEvent, id int64) bool {
	for _, t := range trades {
		if t.ID == id {
			return true
		}
	}
	return false
}
