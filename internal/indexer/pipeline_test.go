package indexer

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"launchpadScope/internal/chain"
	"launchpadScope/internal/launchpad"
	"launchpadScope/internal/model"
	"launchpadScope/internal/observability"
)

var (
	testToken = common.HexToAddress("0x2222222222222222222222222222222222222222")
	testBuyer = common.HexToAddress("0x4444444444444444444444444444444444444444")
)

type fakeSource struct {
	mu         sync.Mutex
	latest     uint64
	history    []types.Log
	filterErr  error
	tsErr      error
	ranges     []BlockRange
	live       chan<- types.Log
	subErr     chan error
	subscribed chan struct{}
	unsubbed   chan struct{}
}

func newFakeSource(latest uint64, history ...types.Log) *fakeSource {
	return &fakeSource{
		latest:     latest,
		history:    history,
		subErr:     make(chan error, 1),
		subscribed: make(chan struct{}),
		unsubbed:   make(chan struct{}),
	}
}

func (f *fakeSource) GetChainID(context.Context) (*big.Int, error) {
	return big.NewInt(48898), nil
}

func (f *fakeSource) LatestBlockNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest, nil
}

func (f *fakeSource) FilterLogs(_ context.Context, from, to uint64, _ []common.Address, _ []common.Hash) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ranges = append(f.ranges, BlockRange{From: from, To: to})
	if f.filterErr != nil {
		return nil, f.filterErr
	}
	var out []types.Log
	for _, l := range f.history {
		if l.BlockNumber >= from && l.BlockNumber <= to {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeSource) SubscribeLogs(_ context.Context, _ []common.Address, _ []common.Hash, ch chan<- types.Log) (ethereum.Subscription, error) {
	f.mu.Lock()
	f.live = ch
	f.mu.Unlock()
	close(f.subscribed)
	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer close(f.unsubbed)
		select {
		case <-quit:
			return nil
		case err := <-f.subErr:
			return err
		}
	}), nil
}

func (f *fakeSource) BlockTimestamp(_ context.Context, number uint64) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tsErr != nil {
		return 0, f.tsErr
	}
	return 1700000000 + number, nil
}

func (f *fakeSource) emit(l types.Log) {
	f.mu.Lock()
	ch := f.live
	f.mu.Unlock()
	ch <- l
}

func tradeLog(t *testing.T, name string, block uint64, index uint, tx byte) types.Log {
	t.Helper()
	parsed, err := launchpad.ABI()
	require.NoError(t, err)
	ev := parsed.Events[name]
	data, err := ev.Inputs.NonIndexed().Pack(big.NewInt(int64(block)), big.NewInt(10), big.NewInt(100))
	require.NoError(t, err)
	return types.Log{
		Address:     testToken,
		Topics:      []common.Hash{ev.ID, common.BytesToHash(common.LeftPadBytes(testBuyer.Bytes(), 32))},
		Data:        data,
		BlockNumber: block,
		TxHash:      common.BytesToHash([]byte{tx}),
		Index:       index,
	}
}

func testConfig() FeedConfig {
	return FeedConfig{
		Name:              "trades",
		SearchInterval:    100,
		MaxEvents:         3,
		BatchSize:         40,
		MaxRetries:        1,
		RetryBackoff:      time.Millisecond,
		ResolveTimestamps: true,
		StrictCache:       true,
	}
}

func newTestPipeline(t *testing.T, src *fakeSource, cfg FeedConfig, opts ...Option) *Pipeline {
	t.Helper()
	decoder, err := launchpad.NewDecoder()
	require.NoError(t, err)
	p, err := NewPipeline(cfg, src, decoder, nil, opts...)
	require.NoError(t, err)
	t.Cleanup(p.Stop)
	return p
}

func blocks(events []model.Event) []uint64 {
	out := make([]uint64, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Ref().BlockNumber)
	}
	return out
}

func nextEvent(t *testing.T, ch <-chan model.Event) model.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
		return nil
	}
}

func refs(events []model.Event) []model.LedgerRef {
	out := make([]model.LedgerRef, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Ref())
	}
	return out
}

func TestBackfillSeedsNewestEvents(t *testing.T) {
	malformed := tradeLog(t, "Buy", 499, 9, 0x09)
	malformed.Topics = malformed.Topics[:1]

	src := newFakeSource(500,
		tradeLog(t, "Buy", 350, 0, 0x01), // outside the search window
		tradeLog(t, "Buy", 420, 0, 0x02),
		tradeLog(t, "Sell", 480, 1, 0x03),
		tradeLog(t, "Buy", 480, 4, 0x04),
		tradeLog(t, "Buy", 470, 0, 0x05),
		tradeLog(t, "Buy", 480, 4, 0x04), // duplicate delivery
		malformed,
	)

	var decodeErrors []model.DecodeError
	p := newTestPipeline(t, src, testConfig(), WithDecodeErrors(func(e model.DecodeError) {
		decodeErrors = append(decodeErrors, e)
	}))
	require.NoError(t, p.Start(context.Background()))
	assert.Equal(t, Live, p.State())

	got := refs(p.Snapshot())
	require.Len(t, got, 3)
	assert.Equal(t, uint64(480), got[0].BlockNumber)
	assert.Equal(t, uint64(4), got[0].LogIndex)
	assert.Equal(t, uint64(480), got[1].BlockNumber)
	assert.Equal(t, uint64(1), got[1].LogIndex)
	assert.Equal(t, uint64(470), got[2].BlockNumber)

	require.Len(t, decodeErrors, 1)
	assert.Equal(t, uint64(499), decodeErrors[0].BlockNumber)

	first := p.Snapshot()[0].(model.TradeEvent)
	assert.Equal(t, uint64(1700000480), first.Timestamp)

	src.mu.Lock()
	ranges := src.ranges
	src.mu.Unlock()
	assert.Equal(t, uint64(400), ranges[0].From)
	assert.Equal(t, uint64(500), ranges[len(ranges)-1].To)
}

func TestLiveEventsDedupAndNotify(t *testing.T) {
	src := newFakeSource(500, tradeLog(t, "Buy", 490, 0, 0x01))
	p := newTestPipeline(t, src, testConfig())

	var mu sync.Mutex
	var seen []model.Event
	p.Subscribe(func(ev model.Event) {
		mu.Lock()
		seen = append(seen, ev)
		mu.Unlock()
	})
	require.NoError(t, p.Start(context.Background()))

	src.emit(tradeLog(t, "Buy", 490, 0, 0x01)) // already seeded by backfill
	src.emit(tradeLog(t, "Sell", 501, 2, 0x02))
	src.emit(tradeLog(t, "Sell", 501, 2, 0x02))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	}, time.Second, 5*time.Millisecond)

	// a later event proves the duplicates were fully processed
	src.emit(tradeLog(t, "Buy", 502, 0, 0x03))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, time.Second, 5*time.Millisecond)

	snap := refs(p.Snapshot())
	require.Len(t, snap, 3)
	assert.Equal(t, uint64(502), snap[0].BlockNumber)
	assert.Equal(t, uint64(501), snap[1].BlockNumber)
	assert.Equal(t, uint64(490), snap[2].BlockNumber)

	found, ok := p.FindFirst(func(ev model.Event) bool { return ev.Kind() == model.KindSell })
	require.True(t, ok)
	assert.Equal(t, uint64(501), found.Ref().BlockNumber)
}

func TestLiveEvictsOldestWhenFull(t *testing.T) {
	metrics := observability.NewMetrics()
	src := newFakeSource(500)
	p := newTestPipeline(t, src, testConfig(), WithMetrics(metrics))
	require.NoError(t, p.Start(context.Background()))
	assert.Equal(t, 0, p.Len())

	done := make(chan struct{}, 8)
	p.Subscribe(func(model.Event) { done <- struct{}{} })
	for i := 0; i < 5; i++ {
		src.emit(tradeLog(t, "Buy", uint64(501+i), 0, byte(0x10+i)))
		<-done
	}

	snap := refs(p.Snapshot())
	require.Len(t, snap, 3)
	assert.Equal(t, []uint64{505, 504, 503}, []uint64{snap[0].BlockNumber, snap[1].BlockNumber, snap[2].BlockNumber})
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	src := newFakeSource(500)
	p := newTestPipeline(t, src, testConfig())

	var mu sync.Mutex
	var calls int
	h := p.Subscribe(func(model.Event) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	tick := make(chan struct{}, 4)
	p.Subscribe(func(model.Event) { tick <- struct{}{} })
	require.NoError(t, p.Start(context.Background()))

	src.emit(tradeLog(t, "Buy", 501, 0, 0x01))
	<-tick
	require.True(t, p.Unsubscribe(h))
	require.False(t, p.Unsubscribe(h))

	src.emit(tradeLog(t, "Buy", 502, 0, 0x02))
	<-tick

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestStopHaltsMutationAndCallbacks(t *testing.T) {
	src := newFakeSource(500)
	p := newTestPipeline(t, src, testConfig())

	calls := make(chan struct{}, 4)
	p.Subscribe(func(model.Event) { calls <- struct{}{} })
	require.NoError(t, p.Start(context.Background()))

	src.emit(tradeLog(t, "Buy", 501, 0, 0x01))
	<-calls

	p.Stop()
	assert.Equal(t, Stopped, p.State())
	<-src.unsubbed

	src.emit(tradeLog(t, "Buy", 502, 0, 0x02)) // lands in the buffer, never consumed
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, calls, 0)
	assert.Equal(t, 1, p.Len())

	p.Stop() // idempotent
	assert.Error(t, p.Start(context.Background()))
}

func TestRemovedLogIsEvicted(t *testing.T) {
	src := newFakeSource(500, tradeLog(t, "Buy", 499, 0, 0x01), tradeLog(t, "Buy", 498, 0, 0x02))
	p := newTestPipeline(t, src, testConfig())
	tick := make(chan struct{}, 1)
	p.Subscribe(func(model.Event) { tick <- struct{}{} })
	require.NoError(t, p.Start(context.Background()))
	require.Equal(t, 2, p.Len())

	reorged := tradeLog(t, "Buy", 499, 0, 0x01)
	reorged.Removed = true
	src.emit(reorged)
	src.emit(tradeLog(t, "Buy", 500, 0, 0x03))
	<-tick

	snap := refs(p.Snapshot())
	require.Len(t, snap, 2)
	assert.Equal(t, uint64(500), snap[0].BlockNumber)
	assert.Equal(t, uint64(498), snap[1].BlockNumber)
}

func TestSubscriptionFailureSurfacesNetworkError(t *testing.T) {
	src := newFakeSource(500)
	p := newTestPipeline(t, src, testConfig())
	require.NoError(t, p.Start(context.Background()))

	src.subErr <- errors.New("websocket closed")
	select {
	case <-p.Done():
	case <-time.After(time.Second):
		t.Fatal("pipeline did not exit after subscription failure")
	}
	assert.Equal(t, Stopped, p.State())
	assert.ErrorIs(t, p.Err(), chain.ErrNetworkUnavailable)
}

func TestBackfillFailureAbortsStart(t *testing.T) {
	src := newFakeSource(500)
	src.filterErr = errors.New("503 service unavailable")
	p := newTestPipeline(t, src, testConfig())

	err := p.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, chain.ErrNetworkUnavailable)
	assert.Equal(t, Stopped, p.State())
	<-src.unsubbed

	src.mu.Lock()
	defer src.mu.Unlock()
	// one attempt plus one retry
	assert.Len(t, src.ranges, 2)
}

func TestNewPipelineRejectsBadConfig(t *testing.T) {
	decoder, err := launchpad.NewDecoder()
	require.NoError(t, err)

	cfg := testConfig()
	cfg.MaxEvents = 0
	_, err = NewPipeline(cfg, newFakeSource(1), decoder, nil)
	assert.Error(t, err)

	cfg = testConfig()
	cfg.BatchSize = 0
	_, err = NewPipeline(cfg, newFakeSource(1), decoder, nil)
	assert.Error(t, err)
}

func TestLiveReplayOfBackfilledLogsIsSkipped(t *testing.T) {
	var history []types.Log
	for i := 0; i < 5; i++ {
		history = append(history, tradeLog(t, "Buy", uint64(491+i), 0, byte(0x20+i)))
	}
	src := newFakeSource(500, history...)
	p := newTestPipeline(t, src, testConfig())

	delivered := make(chan model.Event, 8)
	p.Subscribe(func(ev model.Event) { delivered <- ev })
	require.NoError(t, p.Start(context.Background()))
	require.Equal(t, []uint64{495, 494, 493}, blocks(p.Snapshot()))

	// the subscription was open during the backfill, so the whole window,
	// including logs that never fit in the feed, arrives again
	for _, l := range history {
		src.emit(l)
	}
	src.emit(tradeLog(t, "Sell", 501, 0, 0x30))

	ev := nextEvent(t, delivered)
	assert.Equal(t, uint64(501), ev.Ref().BlockNumber)
	assert.Len(t, delivered, 0)
	assert.Equal(t, []uint64{501, 495, 494}, blocks(p.Snapshot()))
}

func TestTimestampFailureAbortsStart(t *testing.T) {
	src := newFakeSource(500, tradeLog(t, "Buy", 490, 0, 0x01))
	src.tsErr = errors.New("dial tcp: connection refused")
	p := newTestPipeline(t, src, testConfig())

	err := p.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, chain.ErrNetworkUnavailable)
	assert.Contains(t, err.Error(), "block timestamp 490")
	assert.Equal(t, Stopped, p.State())
}

func TestFilterKeepsForeignEventsOut(t *testing.T) {
	other := common.HexToAddress("0x9999999999999999999999999999999999999999")
	foreign := tradeLog(t, "Buy", 499, 0, 0x01)
	foreign.Address = other
	src := newFakeSource(500, tradeLog(t, "Buy", 498, 0, 0x02), foreign)

	metrics := observability.NewMetrics()
	onlyTestToken := func(_ context.Context, ev model.Event) (bool, error) {
		trade, ok := ev.(model.TradeEvent)
		return !ok || common.HexToAddress(trade.TokenAddress) == testToken, nil
	}
	p := newTestPipeline(t, src, testConfig(), WithFilter(onlyTestToken), WithMetrics(metrics))

	delivered := make(chan model.Event, 4)
	p.Subscribe(func(ev model.Event) { delivered <- ev })
	require.NoError(t, p.Start(context.Background()))
	assert.Equal(t, []uint64{498}, blocks(p.Snapshot()))

	liveForeign := tradeLog(t, "Buy", 501, 0, 0x03)
	liveForeign.Address = other
	src.emit(liveForeign)
	src.emit(tradeLog(t, "Buy", 502, 0, 0x04))

	ev := nextEvent(t, delivered)
	assert.Equal(t, uint64(502), ev.Ref().BlockNumber)
	assert.Equal(t, []uint64{502, 498}, blocks(p.Snapshot()))

	families, err := metrics.Registry().Gather()
	require.NoError(t, err)
	var filtered float64
	for _, mf := range families {
		if mf.GetName() == "launchpad_feed_filtered_total" {
			filtered = mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	assert.Equal(t, float64(2), filtered)
}

func TestFilterFailureAbortsBackfill(t *testing.T) {
	src := newFakeSource(500, tradeLog(t, "Buy", 498, 0, 0x01))
	failing := func(context.Context, model.Event) (bool, error) {
		return false, errors.New("eth_call: 502 bad gateway")
	}
	p := newTestPipeline(t, src, testConfig(), WithFilter(failing))

	err := p.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, chain.ErrNetworkUnavailable)
}
