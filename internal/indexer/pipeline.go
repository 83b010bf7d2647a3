package indexer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"launchpadScope/internal/chain"
	"launchpadScope/internal/feed"
	"launchpadScope/internal/model"
	"launchpadScope/internal/observability"
)

// LogSource is the ledger as seen by the pipeline. chain.Client implements it.
type LogSource interface {
	GetChainID(ctx context.Context) (*big.Int, error)
	LatestBlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error)
	SubscribeLogs(ctx context.Context, addresses []common.Address, topic0 []common.Hash, ch chan<- types.Log) (ethereum.Subscription, error)
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
}

// EventDecoder turns log records into events. launchpad.Decoder implements it.
type EventDecoder interface {
	Decode(log model.LogRecord) (model.Event, error)
	Topics() []common.Hash
}

// FeedConfig holds the settings of one feed.
type FeedConfig struct {
	Name              string
	Emitters          []common.Address
	SearchInterval    uint64
	MaxEvents         int
	BatchSize         uint64
	MaxRetries        int
	RetryBackoff      time.Duration
	ResolveTimestamps bool
	StrictCache       bool
	LiveBuffer        int
}

// State is the lifecycle state of a pipeline.
type State int

const (
	Idle State = iota
	Backfilling
	Live
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Backfilling:
		return "backfilling"
	case Live:
		return "live"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Listener receives events pushed into the feed while live. Listeners run on
// the pipeline goroutine and must not block or call Unsubscribe or Stop.
type Listener func(model.Event)

// Handle identifies a listener registration.
type Handle struct {
	id uint64
}

type listenerEntry struct {
	id uint64
	fn Listener
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMetrics records feed metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithDecodeErrors receives every record that failed to decode.
func WithDecodeErrors(fn func(model.DecodeError)) Option {
	return func(p *Pipeline) { p.onDecodeError = fn }
}

// Filter decides whether a decoded event belongs in the feed. An error means
// the decision needed the ledger and could not reach it.
type Filter func(ctx context.Context, ev model.Event) (bool, error)

// WithFilter drops events the filter rejects before they take a feed slot.
func WithFilter(fn Filter) Option {
	return func(p *Pipeline) { p.filter = fn }
}

// Pipeline backfills recent events, then follows the ledger live, keeping the
// newest MaxEvents events in a bounded feed.
type Pipeline struct {
	cfg           FeedConfig
	source        LogSource
	decoder       EventDecoder
	logger        *zap.Logger
	metrics       *observability.Metrics
	onDecodeError func(model.DecodeError)
	filter        Filter

	mu      sync.Mutex
	cache   *feed.Cache[model.Event]
	state   State
	err     error
	chainID uint64

	// Keys of every log the backfill fetched, up to block backfillTo. The
	// subscription opens first, so these can be delivered again live.
	backfilled map[string]struct{}
	backfillTo uint64

	dispatchMu sync.Mutex
	listeners  []listenerEntry
	nextID     uint64

	started  bool
	stopped  bool
	cancel   context.CancelFunc
	doneOnce sync.Once
	done     chan struct{}
}

// NewPipeline builds a Pipeline with its dependencies.
func NewPipeline(cfg FeedConfig, source LogSource, decoder EventDecoder, logger *zap.Logger, opts ...Option) (*Pipeline, error) {
	if source == nil {
		return nil, fmt.Errorf("log source is nil")
	}
	if decoder == nil {
		return nil, fmt.Errorf("decoder is nil")
	}
	if cfg.BatchSize == 0 {
		return nil, fmt.Errorf("batch size must be greater than zero")
	}
	if cfg.LiveBuffer <= 0 {
		cfg.LiveBuffer = 1024
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cache, err := feed.New(cfg.MaxEvents, eventKey, feed.WithStrict(cfg.StrictCache))
	if err != nil {
		return nil, fmt.Errorf("feed %s: %w", cfg.Name, err)
	}

	p := &Pipeline{
		cfg:     cfg,
		source:  source,
		decoder: decoder,
		logger:  logger.With(zap.String("feed", cfg.Name)),
		cache:   cache,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func eventKey(ev model.Event) string {
	return ev.Ref().Key()
}

// Start opens the live subscription, backfills the search window, and then
// follows the subscription in the background until Stop. The backfill runs
// on the caller's goroutine; Stop may be called concurrently to abort it.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started || p.stopped {
		p.mu.Unlock()
		return errors.New("pipeline already started or stopped")
	}
	p.started = true
	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.state = Backfilling
	p.mu.Unlock()

	chainID, err := p.source.GetChainID(loopCtx)
	if err != nil {
		return p.abort(fmt.Errorf("%w: get chain id: %v", chain.ErrNetworkUnavailable, err))
	}
	if !chainID.IsUint64() {
		return p.abort(fmt.Errorf("chain id does not fit in uint64: %s", chainID))
	}
	p.mu.Lock()
	p.chainID = chainID.Uint64()
	p.mu.Unlock()

	// Subscribe before backfilling so logs mined during the backfill wait in
	// the buffer instead of falling between the two.
	logs := make(chan types.Log, p.cfg.LiveBuffer)
	sub, err := p.source.SubscribeLogs(loopCtx, p.cfg.Emitters, p.decoder.Topics(), logs)
	if err != nil {
		return p.abort(fmt.Errorf("%w: subscribe logs: %v", chain.ErrNetworkUnavailable, err))
	}

	began := time.Now()
	if err := p.backfill(loopCtx); err != nil {
		sub.Unsubscribe()
		return p.abort(err)
	}
	p.metrics.ObserveBackfill(p.cfg.Name, time.Since(began))

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		sub.Unsubscribe()
		return p.abort(context.Canceled)
	}
	p.state = Live
	p.mu.Unlock()
	p.logger.Info("feed live", zap.Int("events", p.Len()))

	go p.run(loopCtx, sub, logs)
	return nil
}

func (p *Pipeline) abort(err error) error {
	p.mu.Lock()
	p.cancel()
	p.state = Stopped
	p.err = err
	p.mu.Unlock()
	p.closeDone()
	return err
}

func (p *Pipeline) closeDone() {
	p.doneOnce.Do(func() { close(p.done) })
}

// backfill seeds the feed with the newest MaxEvents events of the window
// [latest-SearchInterval, latest].
func (p *Pipeline) backfill(ctx context.Context) error {
	latest, err := p.latestBlockWithRetry(ctx)
	if err != nil {
		return err
	}
	window := SearchWindow(latest, p.cfg.SearchInterval)
	ranges, err := SplitRange(window.From, window.To, p.cfg.BatchSize)
	if err != nil {
		return err
	}

	ingestedAt := time.Now().UTC()
	seen := make(map[string]struct{})
	var candidates []model.LogRecord
	for _, blockRange := range ranges {
		p.logger.Debug("fetch logs", zap.Uint64("from", blockRange.From), zap.Uint64("to", blockRange.To))

		logs, err := p.filterLogsWithRetry(ctx, blockRange.From, blockRange.To)
		if err != nil {
			return err
		}
		for _, log := range logs {
			if log.Removed {
				continue
			}
			record := newLogRecord(p.chainID, log, ingestedAt)
			key := record.Ref().Key()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			candidates = append(candidates, record)
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Ref().NewerThan(candidates[j].Ref())
	})

	selected := make([]model.Event, 0, p.cfg.MaxEvents)
	for _, record := range candidates {
		if len(selected) == p.cfg.MaxEvents {
			break
		}
		ev, ok := p.decode(record)
		if !ok {
			continue
		}
		accepted, err := p.accept(ctx, ev)
		if err != nil {
			return err
		}
		if !accepted {
			continue
		}
		ev, err = p.withTimestamp(ctx, ev, record.BlockNumber)
		if err != nil {
			return err
		}
		selected = append(selected, ev)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.backfilled = seen
	p.backfillTo = window.To
	for i := len(selected) - 1; i >= 0; i-- {
		if _, err := p.cache.Push(selected[i]); err != nil {
			p.logger.Error("feed push dropped", zap.Error(err))
		}
	}
	p.metrics.SetCacheSize(p.cfg.Name, p.cache.Len())

	p.logger.Info("backfill complete",
		zap.Uint64("from", window.From),
		zap.Uint64("to", window.To),
		zap.Int("candidates", len(candidates)),
		zap.Int("seeded", p.cache.Len()),
	)
	return nil
}

func (p *Pipeline) run(ctx context.Context, sub ethereum.Subscription, logs <-chan types.Log) {
	defer p.closeDone()
	defer sub.Unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-sub.Err():
			if ok && err != nil && ctx.Err() == nil {
				p.logger.Error("log subscription failed", zap.Error(err))
				p.setState(Stopped, fmt.Errorf("%w: subscription: %v", chain.ErrNetworkUnavailable, err))
			}
			return
		case log := <-logs:
			p.handleLive(ctx, log)
		}
	}
}

func (p *Pipeline) handleLive(ctx context.Context, log types.Log) {
	p.mu.Lock()
	chainID := p.chainID
	p.mu.Unlock()
	record := newLogRecord(chainID, log, time.Now())

	if p.replayed(record) {
		p.metrics.Duplicate(p.cfg.Name)
		return
	}

	if log.Removed {
		p.mu.Lock()
		delete(p.backfilled, record.Ref().Key())
		removed := p.cache.Remove(record.Ref().Key())
		size := p.cache.Len()
		p.mu.Unlock()
		if removed {
			p.metrics.Reorged(p.cfg.Name)
			p.metrics.SetCacheSize(p.cfg.Name, size)
			p.logger.Info("reorged log removed", zap.String("tx_hash", record.TxHash), zap.Uint64("log_index", record.LogIndex))
		}
		return
	}

	ev, ok := p.decode(record)
	if !ok {
		return
	}
	accepted, err := p.accept(ctx, ev)
	if err != nil {
		p.logger.Warn("event dropped", zap.Error(err), zap.String("key", record.Ref().Key()))
		return
	}
	if !accepted {
		return
	}
	ev, err = p.withTimestamp(ctx, ev, record.BlockNumber)
	if err != nil {
		p.logger.Warn("block timestamp unavailable", zap.Error(err), zap.Uint64("block_number", record.BlockNumber))
	}
	if ctx.Err() != nil {
		return
	}

	p.mu.Lock()
	res, err := p.cache.Push(ev)
	size := p.cache.Len()
	p.mu.Unlock()
	if err != nil {
		p.logger.Error("feed push dropped", zap.Error(err), zap.String("key", ev.Ref().Key()))
		return
	}
	if res.Duplicate {
		p.metrics.Duplicate(p.cfg.Name)
		return
	}
	if res.Evicted {
		p.metrics.Evicted(p.cfg.Name)
	}
	p.metrics.SetCacheSize(p.cfg.Name, size)

	p.dispatch(ev)
}

// replayed reports whether a live log was already fetched by the backfill.
// The set is released once the subscription passes the backfilled range.
func (p *Pipeline) replayed(record model.LogRecord) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.backfilled == nil || record.Removed {
		return false
	}
	if record.BlockNumber > p.backfillTo {
		p.backfilled = nil
		return false
	}
	_, ok := p.backfilled[record.Ref().Key()]
	return ok
}

func (p *Pipeline) accept(ctx context.Context, ev model.Event) (bool, error) {
	if p.filter == nil {
		return true, nil
	}
	ok, err := p.filter(ctx, ev)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		return false, fmt.Errorf("%w: filter %s: %v", chain.ErrNetworkUnavailable, ev.Ref().Key(), err)
	}
	if !ok {
		p.metrics.Filtered(p.cfg.Name)
	}
	return ok, nil
}

func (p *Pipeline) decode(record model.LogRecord) (model.Event, bool) {
	ev, err := p.decoder.Decode(record)
	if err != nil {
		p.metrics.DecodeFailed(p.cfg.Name)
		p.logger.Warn("decode failed",
			zap.Error(err),
			zap.Uint64("block_number", record.BlockNumber),
			zap.String("tx_hash", record.TxHash),
			zap.Uint64("log_index", record.LogIndex),
		)
		if p.onDecodeError != nil {
			p.onDecodeError(model.NewDecodeError(record, err))
		}
		return nil, false
	}
	p.metrics.Decoded(p.cfg.Name, string(ev.Kind()))
	return ev, true
}

func (p *Pipeline) withTimestamp(ctx context.Context, ev model.Event, blockNumber uint64) (model.Event, error) {
	if !p.cfg.ResolveTimestamps {
		return ev, nil
	}
	ts, err := p.blockTimestampWithRetry(ctx, blockNumber)
	if err != nil {
		return ev, err
	}
	switch e := ev.(type) {
	case model.TokenRecord:
		e.CreatedAtBlockTime = ts
		return e, nil
	case model.TradeEvent:
		e.Timestamp = ts
		return e, nil
	default:
		return ev, nil
	}
}

func (p *Pipeline) dispatch(ev model.Event) {
	p.dispatchMu.Lock()
	defer p.dispatchMu.Unlock()
	for _, l := range p.listeners {
		l.fn(ev)
	}
}

// Subscribe registers a listener for live events.
func (p *Pipeline) Subscribe(fn Listener) Handle {
	p.dispatchMu.Lock()
	defer p.dispatchMu.Unlock()
	p.nextID++
	p.listeners = append(p.listeners, listenerEntry{id: p.nextID, fn: fn})
	return Handle{id: p.nextID}
}

// Unsubscribe removes a listener. Once it returns the listener is not
// invoked again.
func (p *Pipeline) Unsubscribe(h Handle) bool {
	p.dispatchMu.Lock()
	defer p.dispatchMu.Unlock()
	for i, l := range p.listeners {
		if l.id == h.id {
			p.listeners = append(p.listeners[:i:i], p.listeners[i+1:]...)
			return true
		}
	}
	return false
}

// Stop cancels the subscription and waits for the pipeline goroutine. After
// Stop returns the feed is no longer mutated and no listener runs.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	p.stopped = true
	started := p.started
	cancel := p.cancel
	if p.err == nil {
		p.state = Stopped
	}
	p.mu.Unlock()

	if !started {
		p.closeDone()
		return
	}
	cancel()
	<-p.done

	p.mu.Lock()
	if p.err == nil {
		p.state = Stopped
	}
	p.mu.Unlock()
}

// Snapshot returns a copy of the feed, newest first.
func (p *Pipeline) Snapshot() []model.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cache.Snapshot()
}

// FindFirst returns the newest event matching pred.
func (p *Pipeline) FindFirst(pred func(model.Event) bool) (model.Event, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cache.FindFirst(pred)
}

func (p *Pipeline) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cache.Len()
}

func (p *Pipeline) Name() string { return p.cfg.Name }

// Done is closed once the pipeline goroutine has exited, either after Stop
// or because the live subscription failed.
func (p *Pipeline) Done() <-chan struct{} { return p.done }

func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Err returns the error that stopped the pipeline, if any.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *Pipeline) setState(state State, err error) {
	p.mu.Lock()
	p.state = state
	if err != nil {
		p.err = err
	}
	p.mu.Unlock()
}

func (p *Pipeline) latestBlockWithRetry(ctx context.Context) (uint64, error) {
	var latest uint64
	err := withRetry(ctx, "get latest block", p.cfg.MaxRetries, p.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		latest, err = p.source.LatestBlockNumber(ctx)
		if err != nil {
			p.logger.Warn("latest block fetch failed", zap.Error(err))
		}
		return err
	})
	return latest, err
}

func (p *Pipeline) filterLogsWithRetry(ctx context.Context, fromBlock, toBlock uint64) ([]types.Log, error) {
	var logs []types.Log
	op := fmt.Sprintf("filter logs %d-%d", fromBlock, toBlock)
	err := withRetry(ctx, op, p.cfg.MaxRetries, p.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		logs, err = p.source.FilterLogs(ctx, fromBlock, toBlock, p.cfg.Emitters, p.decoder.Topics())
		if err != nil {
			p.logger.Warn("filter logs failed", zap.Error(err), zap.Uint64("from", fromBlock), zap.Uint64("to", toBlock))
		}
		return err
	})
	return logs, err
}

func (p *Pipeline) blockTimestampWithRetry(ctx context.Context, blockNumber uint64) (uint64, error) {
	var ts uint64
	op := fmt.Sprintf("block timestamp %d", blockNumber)
	err := withRetry(ctx, op, p.cfg.MaxRetries, p.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		ts, err = p.source.BlockTimestamp(ctx, blockNumber)
		if err != nil {
			p.logger.Warn("block timestamp fetch failed", zap.Error(err), zap.Uint64("block_number", blockNumber))
		}
		return err
	})
	return ts, err
}
