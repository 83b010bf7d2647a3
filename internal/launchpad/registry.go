package launchpad

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
)

// TokenProber reads the curve parameters only launchpad tokens expose.
// Reader satisfies it.
type TokenProber interface {
	MaxCap(ctx context.Context, token common.Address) (*big.Int, error)
	Owner(ctx context.Context, token common.Address) (common.Address, error)
}

// Registry remembers which contracts are launchpad tokens. Tokens from
// creation events are added directly; any other contract is confirmed once
// by reading maxCap and owner.
type Registry struct {
	prober TokenProber

	mu    sync.RWMutex
	known map[common.Address]bool
}

func NewRegistry(prober TokenProber) *Registry {
	return &Registry{prober: prober, known: make(map[common.Address]bool)}
}

// Add records token as a launchpad token.
func (r *Registry) Add(token common.Address) {
	r.mu.Lock()
	r.known[token] = true
	r.mu.Unlock()
}

// IsToken reports whether addr is a launchpad token. Failures to reach the
// ledger are returned and not remembered.
func (r *Registry) IsToken(ctx context.Context, addr common.Address) (bool, error) {
	r.mu.RLock()
	isToken, ok := r.known[addr]
	r.mu.RUnlock()
	if ok {
		return isToken, nil
	}
	if r.prober == nil {
		return false, nil
	}

	isToken, err := r.confirm(ctx, addr)
	if err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// An Add that raced the lookup wins.
	if !r.known[addr] {
		r.known[addr] = isToken
	}
	return r.known[addr], nil
}

func (r *Registry) confirm(ctx context.Context, addr common.Address) (bool, error) {
	maxCap, err := r.prober.MaxCap(ctx, addr)
	if err != nil {
		return rejected(err)
	}
	if maxCap.Sign() <= 0 {
		return false, nil
	}
	owner, err := r.prober.Owner(ctx, addr)
	if err != nil {
		return rejected(err)
	}
	return owner != (common.Address{}), nil
}

// rejected turns a call the contract refused into a negative answer and
// passes transport failures through.
func rejected(err error) (bool, error) {
	var dataErr rpc.DataError
	if errors.Is(err, ErrUnexpectedResult) || errors.As(err, &dataErr) || strings.Contains(err.Error(), "execution reverted") {
		return false, nil
	}
	return false, err
}
