package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nan0silver/AIBitcoinTrading/internal/model"
)

func entry(domain model.Domain, seq uint64) model.StateEntry {
	return model.StateEntry{Domain: domain, Sequence: seq}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestBus_DeliversInOrder(t *testing.T) {
	b := New(DefaultConfig(), nil)
	defer b.Close(context.Background())

	var mu sync.Mutex
	var got []uint64
	b.Subscribe(model.DomainMarket, func(e model.StateEntry) {
		mu.Lock()
		got = append(got, e.Sequence)
		mu.Unlock()
	})

	const n = 1000
	for i := uint64(1); i <= n; i++ {
		b.Publish(entry(model.DomainMarket, i))
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == n
	})

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(got); i++ {
		if got[i] <= got[i-1] {
			t.Fatalf("sequence not increasing at %d: %d after %d", i, got[i], got[i-1])
		}
	}
}

func TestBus_DomainIsolation(t *testing.T) {
	b := New(DefaultConfig(), nil)
	defer b.Close(context.Background())

	var market, trades atomic.Int64
	b.Subscribe(model.DomainMarket, func(model.StateEntry) { market.Add(1) })
	b.Subscribe(model.DomainTrades, func(model.StateEntry) { trades.Add(1) })

	b.Publish(entry(model.DomainMarket, 1))
	b.Publish(entry(model.DomainMarket, 2))
	b.Publish(entry(model.DomainTrades, 1))
	b.Publish(entry(model.DomainPortfolio, 1))

	waitFor(t, func() bool { return market.Load() == 2 && trades.Load() == 1 })

	time.Sleep(20 * time.Millisecond)
	if market.Load() != 2 || trades.Load() != 1 {
		t.Errorf("market=%d trades=%d, want 2 and 1", market.Load(), trades.Load())
	}
}

func TestBus_MultipleSubscribersSameDomain(t *testing.T) {
	b := New(DefaultConfig(), nil)
	defer b.Close(context.Background())

	var a, c atomic.Int64
	b.Subscribe(model.DomainChart, func(model.StateEntry) { a.Add(1) })
	b.Subscribe(model.DomainChart, func(model.StateEntry) { c.Add(1) })

	for i := uint64(1); i <= 10; i++ {
		b.Publish(entry(model.DomainChart, i))
	}

	waitFor(t, func() bool { return a.Load() == 10 && c.Load() == 10 })
}

func TestBus_UnsubscribeMidBurst(t *testing.T) {
	b := New(DefaultConfig(), nil)
	defer b.Close(context.Background())

	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int64

	unsubscribe := b.Subscribe(model.DomainMarket, func(e model.StateEntry) {
		if calls.Add(1) == 1 {
			close(started)
			<-release
		}
	})

	for i := uint64(1); i <= 50; i++ {
		b.Publish(entry(model.DomainMarket, i))
	}

	// First delivery is in progress; 49 are queued behind it.
	<-started
	unsubscribe()
	close(release)

	time.Sleep(50 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Errorf("deliveries = %d, want 1 (queued entries must not be delivered)", got)
	}

	b.Publish(entry(model.DomainMarket, 51))
	time.Sleep(20 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Errorf("deliveries after publish = %d, want 1", got)
	}
	if got := b.Stats().Subscribers; got != 0 {
		t.Errorf("Subscribers = %d, want 0", got)
	}
}

func TestBus_UnsubscribeFromListener(t *testing.T) {
	b := New(DefaultConfig(), nil)
	defer b.Close(context.Background())

	var calls atomic.Int64
	var unsubscribe func()
	ready := make(chan struct{})

	unsubscribe = b.Subscribe(model.DomainTrades, func(model.StateEntry) {
		<-ready
		if calls.Add(1) == 3 {
			unsubscribe()
		}
	})
	close(ready)

	for i := uint64(1); i <= 10; i++ {
		b.Publish(entry(model.DomainTrades, i))
	}

	waitFor(t, func() bool { return calls.Load() >= 3 })
	time.Sleep(20 * time.Millisecond)
	if got := calls.Load(); got != 3 {
		t.Errorf("deliveries = %d, want 3", got)
	}

	// Idempotent.
	unsubscribe()
}

func TestBus_ListenerPanicDoesNotStopDelivery(t *testing.T) {
	b := New(DefaultConfig(), nil)
	defer b.Close(context.Background())

	var calls atomic.Int64
	b.Subscribe(model.DomainIndicators, func(e model.StateEntry) {
		calls.Add(1)
		if e.Sequence == 1 {
			panic("boom")
		}
	})

	b.Publish(entry(model.DomainIndicators, 1))
	b.Publish(entry(model.DomainIndicators, 2))

	waitFor(t, func() bool { return calls.Load() == 2 })
	if got := b.Stats().Panics; got != 1 {
		t.Errorf("Panics = %d, want 1", got)
	}
}

func TestBus_Close(t *testing.T) {
	b := New(DefaultConfig(), nil)

	var calls atomic.Int64
	b.Subscribe(model.DomainMarket, func(model.StateEntry) { calls.Add(1) })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := b.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	b.Publish(entry(model.DomainMarket, 1))
	unsubscribe := b.Subscribe(model.DomainMarket, func(model.StateEntry) { calls.Add(1) })
	unsubscribe()

	time.Sleep(10 * time.Millisecond)
	if calls.Load() != 0 {
		t.Errorf("deliveries after Close = %d, want 0", calls.Load())
	}
}
