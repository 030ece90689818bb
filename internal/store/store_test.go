package store

import (
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/nan0silver/AIBitcoinTrading/internal/model"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// recorder is a Publisher that keeps every published entry.
type recorder struct {
	mu      sync.Mutex
	entries []model.StateEntry
}

func (r *recorder) Publish(e model.StateEntry) {
	r.mu.Lock()
	r.entries = append(r.entries, e)
	r.mu.Unlock()
}

func (r *recorder) forDomain(d model.Domain) []model.StateEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.StateEntry
	for _, e := range r.entries {
		if e.Domain == d {
			out = append(out, e)
		}
	}
	return out
}

func newTestStore(t *testing.T, windowSize int) (*Store, *recorder, clockwork.FakeClock) {
	t.Helper()
	pub := &recorder{}
	clock := clockwork.NewFakeClockAt(t0)
	s := New(Config{TradeWindowSize: windowSize}, pub, WithClock(clock))
	return s, pub, clock
}

func market(price int64, origin time.Time) model.MarketSnapshot {
	return model.MarketSnapshot{Price: decimal.NewFromInt(price), Timestamp: origin}
}

func trade(id int64, at time.Time) model.TradeEvent {
	return model.TradeEvent{ID: id, Timestamp: at, Decision: model.DecisionHold}
}

func window(fetchedAt time.Time, trades ...model.TradeEvent) model.TradeWindow {
	return model.TradeWindow{Trades: trades, FetchedAt: fetchedAt}
}

func ids(e model.StateEntry) []int64 {
	w := e.Record.(model.TradeWindow)
	out := make([]int64, len(w.Trades))
	for i, t := range w.Trades {
		out[i] = t.ID
	}
	return out
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestStore_LatePollLosesToPush(t *testing.T) {
	s, pub, clock := newTestStore(t, 50)

	// Poll issued at t0 lands first.
	if _, err := s.Apply(model.DomainMarket, market(100, t0), model.SourcePoll); err != nil {
		t.Fatalf("poll apply failed: %v", err)
	}

	// Push produced at t0+1s.
	clock.Advance(time.Second)
	if _, err := s.Apply(model.DomainMarket, market(101, t0.Add(time.Second)), model.SourcePush); err != nil {
		t.Fatalf("push apply failed: %v", err)
	}

	// A slow poll computed before the push arrives last.
	clock.Advance(time.Second)
	entry, err := s.Apply(model.DomainMarket, market(100, t0.Add(500*time.Millisecond)), model.SourcePoll)
	if !errors.Is(err, ErrStaleUpdate) {
		t.Fatalf("late poll error = %v, want ErrStaleUpdate", err)
	}
	if entry.Sequence != 2 {
		t.Errorf("returned entry sequence = %d, want unchanged 2", entry.Sequence)
	}

	got, ok := s.Snapshot(model.DomainMarket)
	if !ok {
		t.Fatal("Snapshot returned ok=false")
	}
	if p := got.Record.(model.MarketSnapshot).Price; !p.Equal(decimal.NewFromInt(101)) {
		t.Errorf("price = %s, want 101", p)
	}
	if got.Source != model.SourcePush {
		t.Errorf("source = %s, want push", got.Source)
	}
	if !got.LastUpdated.Equal(t0.Add(time.Second)) {
		t.Errorf("LastUpdated = %v, want %v", got.LastUpdated, t0.Add(time.Second))
	}

	if n := len(pub.forDomain(model.DomainMarket)); n != 2 {
		t.Errorf("published %d entries, want 2", n)
	}
}

func TestStore_RecencyWinsRegardlessOfArrivalOrder(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))

	for round := 0; round < 20; round++ {
		s, pub, _ := newTestStore(t, 50)

		const n = 30
		order := rng.Perm(n)
		for _, i := range order {
			src := model.SourcePoll
			if i%2 == 0 {
				src = model.SourcePush
			}
			_, err := s.Apply(model.DomainMarket, market(int64(1000+i), t0.Add(time.Duration(i)*time.Second)), src)
			if err != nil && !errors.Is(err, ErrStaleUpdate) {
				t.Fatalf("unexpected error: %v", err)
			}
		}

		got, _ := s.Snapshot(model.DomainMarket)
		if p := got.Record.(model.MarketSnapshot).Price; !p.Equal(decimal.NewFromInt(1000 + n - 1)) {
			t.Fatalf("round %d: price = %s, want %d (order %v)", round, p, 1000+n-1, order)
		}

		published := pub.forDomain(model.DomainMarket)
		for i := 1; i < len(published); i++ {
			if published[i].Sequence != published[i-1].Sequence+1 {
				t.Fatalf("sequence gap: %d then %d", published[i-1].Sequence, published[i].Sequence)
			}
			prev := published[i-1].Record.OriginTime()
			if !published[i].Record.OriginTime().After(prev) {
				t.Fatalf("published origin went backwards")
			}
		}
	}
}

func TestStore_EqualOriginIsStale(t *testing.T) {
	s, _, _ := newTestStore(t, 50)

	fg := model.FearGreedIndex{Value: 40, Classification: "Fear", Timestamp: t0}
	if _, err := s.Apply(model.DomainFearGreed, fg, model.SourcePoll); err != nil {
		t.Fatalf("first apply failed: %v", err)
	}
	if _, err := s.Apply(model.DomainFearGreed, fg, model.SourcePoll); !errors.Is(err, ErrStaleUpdate) {
		t.Errorf("repeat apply error = %v, want ErrStaleUpdate", err)
	}
}

func TestStore_PushTickKeepsPolledFields(t *testing.T) {
	s, _, _ := newTestStore(t, 50)

	polled := market(100, t0)
	polled.Change24h = decimal.NewNullDecimal(decimal.RequireFromString("2.5"))
	polled.Volume24h = decimal.NewNullDecimal(decimal.RequireFromString("1200"))
	s.Apply(model.DomainMarket, polled, model.SourcePoll)

	s.Apply(model.DomainMarket, market(105, t0.Add(time.Second)), model.SourcePush)

	got, _ := s.Snapshot(model.DomainMarket)
	m := got.Record.(model.MarketSnapshot)
	if !m.Price.Equal(decimal.NewFromInt(105)) {
		t.Errorf("price = %s, want 105", m.Price)
	}
	if !m.Change24h.Valid || !m.Volume24h.Valid {
		t.Errorf("polled fields lost: %+v", m)
	}
}

func TestStore_TradeDeltas(t *testing.T) {
	s, pub, _ := newTestStore(t, 3)

	for i := int64(1); i <= 3; i++ {
		if _, err := s.Apply(model.DomainTrades, trade(i, t0.Add(time.Duration(i)*time.Minute)), model.SourcePush); err != nil {
			t.Fatalf("apply trade %d: %v", i, err)
		}
	}

	// Duplicate push.
	_, err := s.Apply(model.DomainTrades, trade(2, t0.Add(2*time.Minute)), model.SourcePush)
	if !errors.Is(err, ErrDuplicateTrade) || !errors.Is(err, ErrStaleUpdate) {
		t.Errorf("duplicate error = %v, want ErrDuplicateTrade", err)
	}

	// Newer trade evicts the oldest.
	entry, err := s.Apply(model.DomainTrades, trade(4, t0.Add(4*time.Minute)), model.SourcePush)
	if err != nil {
		t.Fatalf("apply trade 4: %v", err)
	}
	if got := ids(entry); !equalIDs(got, []int64{4, 3, 2}) {
		t.Errorf("window = %v, want [4 3 2]", got)
	}

	// Too old to survive truncation.
	if _, err := s.Apply(model.DomainTrades, trade(0, t0), model.SourcePush); !errors.Is(err, ErrStaleUpdate) {
		t.Errorf("old trade error = %v, want ErrStaleUpdate", err)
	}

	// Out-of-order push lands in place.
	s2, _, _ := newTestStore(t, 10)
	s2.Apply(model.DomainTrades, trade(10, t0.Add(10*time.Minute)), model.SourcePush)
	s2.Apply(model.DomainTrades, trade(8, t0.Add(8*time.Minute)), model.SourcePush)
	entry, _ = s2.Apply(model.DomainTrades, trade(9, t0.Add(9*time.Minute)), model.SourcePush)
	if got := ids(entry); !equalIDs(got, []int64{10, 9, 8}) {
		t.Errorf("window = %v, want [10 9 8]", got)
	}

	if n := len(pub.forDomain(model.DomainTrades)); n != 4 {
		t.Errorf("published %d trade entries, want 4", n)
	}
}

func TestStore_PollWindowRacingPush(t *testing.T) {
	s, _, _ := newTestStore(t, 50)

	// Poll issued before trade 3 was pushed returns [2 1].
	s.Apply(model.DomainTrades, window(t0, trade(2, t0.Add(2*time.Minute)), trade(1, t0.Add(time.Minute))), model.SourcePoll)
	s.Apply(model.DomainTrades, trade(3, t0.Add(3*time.Minute)), model.SourcePush)

	late := window(t0.Add(time.Second), trade(2, t0.Add(2*time.Minute)), trade(1, t0.Add(time.Minute)))
	_, err := s.Apply(model.DomainTrades, late, model.SourcePoll)
	if !errors.Is(err, ErrStaleUpdate) {
		t.Errorf("late poll error = %v, want ErrStaleUpdate (nothing new)", err)
	}

	got, _ := s.Snapshot(model.DomainTrades)
	if ids := ids(got); !equalIDs(ids, []int64{3, 2, 1}) {
		t.Errorf("window = %v, want [3 2 1]", ids)
	}
}

func TestStore_PollWindowUnionKeepsIDsUnique(t *testing.T) {
	s, _, _ := newTestStore(t, 50)

	s.Apply(model.DomainTrades, trade(5, t0.Add(5*time.Minute)), model.SourcePush)
	s.Apply(model.DomainTrades, trade(4, t0.Add(4*time.Minute)), model.SourcePush)

	// Poll overlaps on 4, lacks 5, adds 3 and an updated reflection on 4.
	updated := trade(4, t0.Add(4*time.Minute))
	updated.Reflection = "held too long"
	poll := window(t0.Add(time.Hour), updated, trade(3, t0.Add(3*time.Minute)))

	entry, err := s.Apply(model.DomainTrades, poll, model.SourcePoll)
	if err != nil {
		t.Fatalf("poll apply failed: %v", err)
	}
	if got := ids(entry); !equalIDs(got, []int64{5, 4, 3}) {
		t.Fatalf("window = %v, want [5 4 3]", got)
	}
	w := entry.Record.(model.TradeWindow)
	if w.Trades[1].Reflection != "held too long" {
		t.Errorf("poll row should win on conflict, reflection = %q", w.Trades[1].Reflection)
	}

	seen := map[int64]bool{}
	for _, tr := range w.Trades {
		if seen[tr.ID] {
			t.Fatalf("duplicate ID %d in window", tr.ID)
		}
		seen[tr.ID] = true
	}
}

func TestStore_PollWindowReplacesWhenComplete(t *testing.T) {
	s, _, _ := newTestStore(t, 2)

	s.Apply(model.DomainTrades, window(t0, trade(1, t0.Add(time.Minute))), model.SourcePoll)

	// Stored trade 1 is older than the poll's oldest, so the poll replaces.
	poll := window(t0.Add(time.Minute),
		trade(3, t0.Add(3*time.Minute)),
		trade(2, t0.Add(2*time.Minute)),
	)
	entry, err := s.Apply(model.DomainTrades, poll, model.SourcePoll)
	if err != nil {
		t.Fatalf("poll apply failed: %v", err)
	}
	if got := ids(entry); !equalIDs(got, []int64{3, 2}) {
		t.Errorf("window = %v, want [3 2]", got)
	}
}

func TestStore_EmptyPollAfterPushKeepsTrades(t *testing.T) {
	s, _, _ := newTestStore(t, 50)

	s.Apply(model.DomainTrades, trade(1, t0), model.SourcePush)
	_, err := s.Apply(model.DomainTrades, window(t0.Add(time.Minute)), model.SourcePoll)
	if !errors.Is(err, ErrStaleUpdate) {
		t.Errorf("empty poll error = %v, want ErrStaleUpdate", err)
	}
	got, _ := s.Snapshot(model.DomainTrades)
	if ids := ids(got); !equalIDs(ids, []int64{1}) {
		t.Errorf("window = %v, want [1]", ids)
	}
}

func TestStore_MarkStale(t *testing.T) {
	s, pub, _ := newTestStore(t, 50)

	s.Apply(model.DomainPortfolio, model.PortfolioSnapshot{FetchedAt: t0}, model.SourcePoll)

	if err := s.MarkStale(model.DomainPortfolio); err != nil {
		t.Fatalf("MarkStale failed: %v", err)
	}
	if err := s.MarkStale(model.DomainPortfolio); err != nil {
		t.Fatalf("second MarkStale failed: %v", err)
	}

	got, _ := s.Snapshot(model.DomainPortfolio)
	if !got.Stale || got.Sequence != 2 {
		t.Errorf("entry = stale %v seq %d, want stale true seq 2", got.Stale, got.Sequence)
	}
	if got.Record == nil {
		t.Error("MarkStale must keep the record")
	}

	// A fresh commit clears the flag.
	entry, err := s.Apply(model.DomainPortfolio, model.PortfolioSnapshot{FetchedAt: t0.Add(time.Minute)}, model.SourcePoll)
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if entry.Stale || entry.Sequence != 3 {
		t.Errorf("entry = stale %v seq %d, want stale false seq 3", entry.Stale, entry.Sequence)
	}

	if n := len(pub.forDomain(model.DomainPortfolio)); n != 3 {
		t.Errorf("published %d entries, want 3", n)
	}
}

func TestStore_ClearStaleWithoutNewRecord(t *testing.T) {
	s, _, _ := newTestStore(t, 50)

	s.MarkStale(model.DomainIndicators)
	got, ok := s.Snapshot(model.DomainIndicators)
	if !ok || !got.Stale || got.HasRecord() {
		t.Fatalf("entry = %+v ok=%v, want stale without record", got, ok)
	}

	s.ClearStale(model.DomainIndicators)
	got, _ = s.Snapshot(model.DomainIndicators)
	if got.Stale || got.Sequence != 2 {
		t.Errorf("entry = stale %v seq %d, want fresh seq 2", got.Stale, got.Sequence)
	}
}

func TestStore_Errors(t *testing.T) {
	s, pub, _ := newTestStore(t, 50)

	if _, err := s.Apply(model.DomainMarket, model.FearGreedIndex{Timestamp: t0}, model.SourcePoll); !errors.Is(err, ErrDomainMismatch) {
		t.Errorf("mismatch error = %v", err)
	}
	if _, err := s.Apply("orderbook", market(1, t0), model.SourcePoll); !errors.Is(err, ErrUnknownDomain) {
		t.Errorf("unknown domain error = %v", err)
	}
	if _, ok := s.Snapshot(model.DomainChart); ok {
		t.Error("Snapshot before any apply should be ok=false")
	}

	s.Close()
	if _, err := s.Apply(model.DomainMarket, market(1, t0), model.SourcePoll); !errors.Is(err, ErrClosed) {
		t.Errorf("apply after close error = %v, want ErrClosed", err)
	}
	if err := s.MarkStale(model.DomainMarket); !errors.Is(err, ErrClosed) {
		t.Errorf("MarkStale after close error = %v, want ErrClosed", err)
	}
	if len(pub.entries) != 0 {
		t.Errorf("published %d entries, want 0", len(pub.entries))
	}
}

func TestStore_ConcurrentWritersOneDomain(t *testing.T) {
	s, pub, _ := newTestStore(t, 50)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				origin := t0.Add(time.Duration(i*8+w) * time.Millisecond)
				s.Apply(model.DomainMarket, market(int64(i*8+w), origin), model.SourcePush)
			}
		}(w)
	}
	wg.Wait()

	published := pub.forDomain(model.DomainMarket)
	for i := 1; i < len(published); i++ {
		if published[i].Sequence <= published[i-1].Sequence {
			t.Fatalf("sequence not increasing: %d then %d", published[i-1].Sequence, published[i].Sequence)
		}
	}

	got, _ := s.Snapshot(model.DomainMarket)
	if p := got.Record.(model.MarketSnapshot).Price; !p.Equal(decimal.NewFromInt(1599)) {
		t.Errorf("price = %s, want 1599 (newest origin)", p)
	}
	if got.Sequence != uint64(len(published)) {
		t.Errorf("sequence = %d, published = %d", got.Sequence, len(published))
	}
}

func TestStore_SnapshotAllAndStats(t *testing.T) {
	s, _, _ := newTestStore(t, 50)

	s.Apply(model.DomainMarket, market(1, t0), model.SourcePoll)
	s.Apply(model.DomainMarket, market(1, t0), model.SourcePoll)
	s.Apply(model.DomainChart, model.ChartSeries{Interval: "day", FetchedAt: t0}, model.SourcePoll)

	all := s.SnapshotAll()
	if len(all) != 2 || all[0].Domain != model.DomainMarket || all[1].Domain != model.DomainChart {
		t.Errorf("SnapshotAll = %+v", all)
	}

	st := s.Stats()[model.DomainMarket]
	if st.Applied != 1 || st.Rejected != 1 || st.Sequence != 1 {
		t.Errorf("market stats = %+v", st)
	}
}
