package aggregate

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"launchpadScope/internal/chain"
	"launchpadScope/internal/curve"
	"launchpadScope/internal/model"
	"launchpadScope/internal/observability"
)

var (
	ErrTrackerClosed = errors.New("tracker closed")
	ErrSuperseded    = errors.New("refresh superseded by a newer request")
)

type trackerDeps struct {
	reader   StateReader
	owners   *OwnerCache
	oracle   *curve.Oracle
	logger   *zap.Logger
	metrics  *observability.Metrics
	timeout  time.Duration
	onCommit func(model.BondedCurveSnapshot)
}

// Tracker owns the snapshot of one token. Triggers are coalesced and served
// by a single goroutine; only the most recently started refresh may commit.
type Tracker struct {
	token common.Address
	deps  trackerDeps

	mu     sync.Mutex
	view   model.TokenView
	seq    uint64
	closed bool

	trigger   chan struct{}
	quit      chan struct{}
	done      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func newTracker(token common.Address, deps trackerDeps) *Tracker {
	if deps.logger == nil {
		deps.logger = zap.NewNop()
	}
	deps.logger = deps.logger.With(zap.String("token", token.Hex()))
	if deps.owners == nil {
		deps.owners = NewOwnerCache()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Tracker{
		token:   token,
		deps:    deps,
		view:    model.TokenView{Token: token.Hex()},
		trigger: make(chan struct{}, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (t *Tracker) run() {
	defer close(t.done)
	for {
		select {
		case <-t.quit:
			return
		case <-t.trigger:
		}
		_, err := t.Refresh(t.ctx)
		switch {
		case err == nil, errors.Is(err, ErrSuperseded), errors.Is(err, ErrTrackerClosed):
		default:
			t.deps.logger.Warn("refresh failed", zap.Error(err))
		}
	}
}

// Token returns the tracked token address.
func (t *Tracker) Token() common.Address { return t.token }

// Trigger schedules a refresh. Triggers arriving while one is pending are
// merged into it; it never blocks.
func (t *Tracker) Trigger() {
	select {
	case t.trigger <- struct{}{}:
	default:
	}
}

// View returns a copy of the current view.
func (t *Tracker) View() model.TokenView {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.view
}

// Refresh reads the token state and replaces the snapshot. It returns
// ErrSuperseded when a newer refresh started in the meantime, in which case
// the result is dropped.
func (t *Tracker) Refresh(ctx context.Context) (model.BondedCurveSnapshot, error) {
	seq, err := t.begin()
	if err != nil {
		return model.BondedCurveSnapshot{}, err
	}
	if t.deps.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.deps.timeout)
		defer cancel()
	}

	began := time.Now()
	snapshot, readErr := t.read(ctx)
	return t.commit(seq, snapshot, readErr, time.Since(began))
}

func (t *Tracker) begin() (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, ErrTrackerClosed
	}
	t.seq++
	return t.seq, nil
}

func (t *Tracker) read(ctx context.Context) (model.BondedCurveSnapshot, error) {
	owner, err := t.deps.owners.Resolve(ctx, t.deps.reader, t.token)
	if err != nil {
		return model.BondedCurveSnapshot{}, unavailable("owner", err)
	}

	var supply, raised, maxCap *big.Int
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := t.deps.reader.TotalSupply(gctx, t.token)
		if err != nil {
			return unavailable("total supply", err)
		}
		supply = v
		return nil
	})
	g.Go(func() error {
		v, err := t.deps.reader.BalanceAt(gctx, owner)
		if err != nil {
			return unavailable("raised", err)
		}
		raised = v
		return nil
	})
	g.Go(func() error {
		v, err := t.deps.reader.MaxCap(gctx, t.token)
		if err != nil {
			return unavailable("max cap", err)
		}
		maxCap = v
		return nil
	})
	if err := g.Wait(); err != nil {
		return model.BondedCurveSnapshot{}, err
	}

	snapshot := model.BondedCurveSnapshot{
		Token:           t.token.Hex(),
		Owner:           owner.Hex(),
		TotalSupply:     supply.String(),
		Raised:          raised.String(),
		MaxCap:          maxCap.String(),
		ProgressPercent: Progress(raised, maxCap),
		UpdatedAt:       time.Now().UTC(),
	}
	if t.deps.oracle != nil {
		price, err := t.deps.oracle.SpotPrice(supply)
		if err != nil {
			t.deps.logger.Warn("spot price unavailable", zap.Error(err), zap.String("supply", snapshot.TotalSupply))
		} else {
			snapshot.CurrentPrice = price.String()
		}
	}
	return snapshot, nil
}

func unavailable(what string, err error) error {
	return fmt.Errorf("%w: %s: %v", chain.ErrNetworkUnavailable, what, err)
}

func (t *Tracker) commit(seq uint64, snapshot model.BondedCurveSnapshot, readErr error, elapsed time.Duration) (model.BondedCurveSnapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case t.closed:
		t.deps.metrics.Refreshed(observability.RefreshDiscarded, elapsed)
		return model.BondedCurveSnapshot{}, ErrTrackerClosed
	case seq != t.seq:
		t.deps.metrics.Refreshed(observability.RefreshDiscarded, elapsed)
		return model.BondedCurveSnapshot{}, ErrSuperseded
	case readErr != nil:
		t.deps.metrics.Refreshed(observability.RefreshFailed, elapsed)
		t.view.Stale = true
		t.view.LastError = readErr.Error()
		return model.BondedCurveSnapshot{}, readErr
	}

	t.view.Snapshot = snapshot
	t.view.HasSnapshot = true
	t.view.Stale = false
	t.view.LastError = ""
	t.deps.metrics.Refreshed(observability.RefreshCommitted, elapsed)
	if t.deps.onCommit != nil {
		t.deps.onCommit(snapshot)
	}
	return snapshot, nil
}

// Close stops the tracker and waits for its goroutine. Refreshes still in
// flight finish but their results are discarded.
func (t *Tracker) Close() {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		t.mu.Unlock()
		t.cancel()
		close(t.quit)
	})
	<-t.done
}
