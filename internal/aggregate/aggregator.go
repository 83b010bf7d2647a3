package aggregate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"launchpadScope/internal/curve"
	"launchpadScope/internal/indexer"
	"launchpadScope/internal/model"
	"launchpadScope/internal/observability"
)

const shardCount = 16

var (
	ErrNotTracked       = errors.New("token not tracked")
	ErrAggregatorClosed = errors.New("aggregator closed")
)

// Config controls refresh behavior.
type Config struct {
	// RefreshTimeout bounds one refresh's reads. Zero means no bound.
	RefreshTimeout time.Duration
	// Workers bounds the RefreshAll fan-out.
	Workers int
	// TrackCreated starts tracking tokens seen in creation events.
	TrackCreated bool
}

// EventSource is a feed that delivers live events. indexer.Pipeline
// satisfies it.
type EventSource interface {
	Subscribe(fn indexer.Listener) indexer.Handle
	Unsubscribe(h indexer.Handle) bool
}

// Option configures an Aggregator.
type Option func(*Aggregator)

func WithMetrics(m *observability.Metrics) Option {
	return func(a *Aggregator) { a.metrics = m }
}

// WithSnapshotSink receives every committed snapshot. The sink runs while the
// tracker is locked and must not block.
func WithSnapshotSink(fn func(model.BondedCurveSnapshot)) Option {
	return func(a *Aggregator) { a.onCommit = fn }
}

type shard struct {
	mu       sync.RWMutex
	trackers map[common.Address]*Tracker
}

type attachment struct {
	source EventSource
	handle indexer.Handle
}

// Aggregator keeps one Tracker per token. Trackers are spread over shards
// so unrelated tokens never contend on one lock.
type Aggregator struct {
	cfg      Config
	reader   StateReader
	oracle   *curve.Oracle
	owners   *OwnerCache
	logger   *zap.Logger
	metrics  *observability.Metrics
	onCommit func(model.BondedCurveSnapshot)
	pool     *ants.Pool
	shards   [shardCount]*shard

	mu          sync.Mutex
	closed      bool
	attachments []attachment
}

func NewAggregator(cfg Config, reader StateReader, oracle *curve.Oracle, logger *zap.Logger, opts ...Option) (*Aggregator, error) {
	if reader == nil {
		return nil, fmt.Errorf("state reader is nil")
	}
	if oracle == nil {
		return nil, fmt.Errorf("oracle is nil")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &Aggregator{
		cfg:    cfg,
		reader: reader,
		oracle: oracle,
		owners: NewOwnerCache(),
		logger: logger,
	}
	for _, opt := range opts {
		opt(a)
	}

	pool, err := ants.NewPool(cfg.Workers, ants.WithPanicHandler(func(r interface{}) {
		a.logger.Error("refresh worker panic", zap.Any("panic", r))
	}))
	if err != nil {
		return nil, fmt.Errorf("create refresh pool: %w", err)
	}
	a.pool = pool

	for i := range a.shards {
		a.shards[i] = &shard{trackers: make(map[common.Address]*Tracker)}
	}
	return a, nil
}

func (a *Aggregator) shardFor(token common.Address) *shard {
	return a.shards[xxhash.Sum64(token[:])%shardCount]
}

// Track starts tracking token and schedules its first refresh. Tracking an
// already tracked token returns the existing tracker.
func (a *Aggregator) Track(token common.Address) (*Tracker, error) {
	if token == (common.Address{}) {
		return nil, fmt.Errorf("zero token address")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, ErrAggregatorClosed
	}

	s := a.shardFor(token)
	s.mu.Lock()
	tr, ok := s.trackers[token]
	if !ok {
		tr = newTracker(token, trackerDeps{
			reader:   a.reader,
			owners:   a.owners,
			oracle:   a.oracle,
			logger:   a.logger,
			metrics:  a.metrics,
			timeout:  a.cfg.RefreshTimeout,
			onCommit: a.onCommit,
		})
		s.trackers[token] = tr
		go tr.run()
	}
	s.mu.Unlock()

	if !ok {
		a.logger.Info("token tracked", zap.String("token", token.Hex()))
		a.metrics.SetTracked(a.Len())
		tr.Trigger()
	}
	return tr, nil
}

// Untrack stops tracking token. It reports whether the token was tracked.
func (a *Aggregator) Untrack(token common.Address) bool {
	s := a.shardFor(token)
	s.mu.Lock()
	tr, ok := s.trackers[token]
	delete(s.trackers, token)
	s.mu.Unlock()
	if !ok {
		return false
	}
	tr.Close()
	a.metrics.SetTracked(a.Len())
	return true
}

func (a *Aggregator) lookup(token common.Address) (*Tracker, bool) {
	s := a.shardFor(token)
	s.mu.RLock()
	tr, ok := s.trackers[token]
	s.mu.RUnlock()
	return tr, ok
}

// View returns the current view of a tracked token.
func (a *Aggregator) View(token common.Address) (model.TokenView, bool) {
	tr, ok := a.lookup(token)
	if !ok {
		return model.TokenView{}, false
	}
	return tr.View(), true
}

// Refresh refreshes one token synchronously.
func (a *Aggregator) Refresh(ctx context.Context, token common.Address) (model.BondedCurveSnapshot, error) {
	tr, ok := a.lookup(token)
	if !ok {
		return model.BondedCurveSnapshot{}, fmt.Errorf("%w: %s", ErrNotTracked, token.Hex())
	}
	return tr.Refresh(ctx)
}

// RefreshAll refreshes every tracked token on the worker pool and joins the
// failures. Superseded refreshes are not failures.
func (a *Aggregator) RefreshAll(ctx context.Context) error {
	trackers := a.trackers()
	errs := make([]error, len(trackers))

	var wg sync.WaitGroup
	for i, tr := range trackers {
		idx, tr := i, tr
		wg.Add(1)
		task := func() {
			defer wg.Done()
			if _, err := tr.Refresh(ctx); err != nil && !errors.Is(err, ErrSuperseded) {
				errs[idx] = fmt.Errorf("refresh %s: %w", tr.Token().Hex(), err)
			}
		}
		if err := a.pool.Submit(task); err != nil {
			wg.Done()
			errs[idx] = fmt.Errorf("submit refresh %s: %w", tr.Token().Hex(), err)
		}
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Tracked lists the tracked tokens.
func (a *Aggregator) Tracked() []common.Address {
	trackers := a.trackers()
	tokens := make([]common.Address, len(trackers))
	for i, tr := range trackers {
		tokens[i] = tr.Token()
	}
	return tokens
}

func (a *Aggregator) Len() int {
	n := 0
	for _, s := range a.shards {
		s.mu.RLock()
		n += len(s.trackers)
		s.mu.RUnlock()
	}
	return n
}

func (a *Aggregator) trackers() []*Tracker {
	var out []*Tracker
	for _, s := range a.shards {
		s.mu.RLock()
		for _, tr := range s.trackers {
			out = append(out, tr)
		}
		s.mu.RUnlock()
	}
	return out
}

// Attach routes live trades from source to the tracker of the traded token.
func (a *Aggregator) Attach(source EventSource) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrAggregatorClosed
	}
	h := source.Subscribe(a.route)
	a.attachments = append(a.attachments, attachment{source: source, handle: h})
	return nil
}

func (a *Aggregator) route(ev model.Event) {
	switch e := ev.(type) {
	case model.TradeEvent:
		if tr, ok := a.lookup(common.HexToAddress(e.TokenAddress)); ok {
			tr.Trigger()
		}
	case model.TokenRecord:
		if !a.cfg.TrackCreated {
			return
		}
		if _, err := a.Track(common.HexToAddress(e.TokenAddress)); err != nil && !errors.Is(err, ErrAggregatorClosed) {
			a.logger.Warn("track created token", zap.Error(err), zap.String("token", e.TokenAddress))
		}
	}
}

// Close detaches from every source and stops all trackers. Once it returns
// no snapshot is committed.
func (a *Aggregator) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	attachments := a.attachments
	a.attachments = nil
	a.mu.Unlock()

	for _, att := range attachments {
		att.source.Unsubscribe(att.handle)
	}

	var wg sync.WaitGroup
	for _, s := range a.shards {
		s.mu.Lock()
		for token, tr := range s.trackers {
			delete(s.trackers, token)
			wg.Add(1)
			go func(tr *Tracker) {
				defer wg.Done()
				tr.Close()
			}(tr)
		}
		s.mu.Unlock()
	}
	wg.Wait()

	a.pool.Release()
	a.metrics.SetTracked(0)
}
