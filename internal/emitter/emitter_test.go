package emitter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spotarb/internal/market"
)

var btcusdt = market.Pair{Base: "BTC", Quote: "USDT"}

func crossOp(netBps string) market.CrossOpportunity {
	return market.CrossOpportunity{
		Pair:      btcusdt,
		BuyVenue:  market.Binance,
		SellVenue: market.Bybit,
		GrossBps:  decimal.RequireFromString(netBps).Add(decimal.NewFromInt(20)),
		NetBps:    decimal.RequireFromString(netBps),
		Notional:  decimal.RequireFromString("100"),
		Detected:  time.Now(),
	}
}

type fakeNotifier struct {
	mu    sync.Mutex
	sent  []string
	fail  int // fail this many sends before succeeding
	calls int
}

func (n *fakeNotifier) Send(ctx context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	if n.fail > 0 {
		n.fail--
		return context.DeadlineExceeded
	}
	n.sent = append(n.sent, text)
	return nil
}

func (n *fakeNotifier) sentCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

func (n *fakeNotifier) callCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls
}

type fakePersister struct {
	mu   sync.Mutex
	recs []Record
}

func (p *fakePersister) Append(ctx context.Context, rec Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recs = append(p.recs, rec)
	return nil
}

func (p *fakePersister) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.recs)
}

func TestBucket(t *testing.T) {
	assert.Equal(t, int64(25), bucket(decimal.RequireFromString("27.3"), 5))
	assert.Equal(t, int64(25), bucket(decimal.RequireFromString("25"), 5))
	assert.Equal(t, int64(20), bucket(decimal.RequireFromString("24.99"), 5))
	assert.Equal(t, int64(-5), bucket(decimal.RequireFromString("-0.1"), 5))
}

func TestDedupWithinCooldown(t *testing.T) {
	notifier := &fakeNotifier{}
	persister := &fakePersister{}
	e := New(notifier, persister, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx, time.Second)
		close(done)
	}()

	// Same dedup key twice: one dispatch.
	e.EmitCross(crossOp("27"))
	e.EmitCross(crossOp("28")) // same 5-bps bucket

	require.Eventually(t, func() bool { return notifier.sentCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return persister.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	// A different bucket is a different key.
	e.EmitCross(crossOp("42"))
	require.Eventually(t, func() bool { return notifier.sentCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestCooldownExpires(t *testing.T) {
	notifier := &fakeNotifier{}
	e := New(notifier, nil, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx, time.Second)
		close(done)
	}()

	e.EmitCross(crossOp("27"))
	require.Eventually(t, func() bool { return notifier.sentCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	time.Sleep(30 * time.Millisecond)
	e.EmitCross(crossOp("27"))
	require.Eventually(t, func() bool { return notifier.sentCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestNotifierRetries(t *testing.T) {
	notifier := &fakeNotifier{fail: 2}
	e := New(notifier, nil, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx, time.Second)
		close(done)
	}()

	e.EmitCross(crossOp("27"))
	// Two failures then success on the third attempt.
	require.Eventually(t, func() bool { return notifier.sentCount() == 1 }, 10*time.Second, 50*time.Millisecond)
	assert.Equal(t, 3, notifier.callCount())

	cancel()
	<-done
}

func TestTriDedupKeyIgnoresLegOrder(t *testing.T) {
	legsA := [3]market.TriLeg{
		{Pair: btcusdt, Side: market.Buy},
		{Pair: market.Pair{Base: "ETH", Quote: "BTC"}, Side: market.Buy},
		{Pair: market.Pair{Base: "ETH", Quote: "USDT"}, Side: market.Sell},
	}
	legsB := [3]market.TriLeg{legsA[2], legsA[0], legsA[1]}

	a := market.TriOpportunity{Venue: market.Binance, Legs: legsA, Base: "USDT", NetBps: decimal.RequireFromString("21")}
	b := market.TriOpportunity{Venue: market.Binance, Legs: legsB, Base: "USDT", NetBps: decimal.RequireFromString("22")}
	assert.Equal(t, triKey(a), triKey(b))
}

func TestQueueDropsOldestWhenFull(t *testing.T) {
	ch := make(chan queued, 2)
	push(ch, queued{id: 1}, "notify")
	push(ch, queued{id: 2}, "notify")
	push(ch, queued{id: 3}, "notify")

	first := <-ch
	second := <-ch
	assert.Equal(t, uint64(2), first.id, "oldest entry dropped on overflow")
	assert.Equal(t, uint64(3), second.id)
}

func TestMonotonicIDs(t *testing.T) {
	e := New(nil, nil, time.Millisecond)
	e.EmitCross(crossOp("20"))
	e.EmitCross(crossOp("40"))
	e.EmitCross(crossOp("60"))

	var ids []uint64
	for i := 0; i < 3; i++ {
		q := <-e.persistQ
		ids = append(ids, q.id)
	}
	assert.Equal(t, []uint64{1, 2, 3}, ids)
}
