package aggregate

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"launchpadScope/internal/launchpad"
)

// StateReader is the ledger state a tracker reads on refresh.
type StateReader interface {
	Owner(ctx context.Context, token common.Address) (common.Address, error)
	TotalSupply(ctx context.Context, token common.Address) (*big.Int, error)
	MaxCap(ctx context.Context, token common.Address) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address) (*big.Int, error)
}

// Backend is the RPC surface ChainReader needs. chain.Client satisfies it.
type Backend interface {
	launchpad.Caller
	BalanceAt(ctx context.Context, account common.Address) (*big.Int, error)
}

// ChainReader reads curve state with eth_call and eth_getBalance.
type ChainReader struct {
	*launchpad.Reader
	backend Backend
}

func NewChainReader(backend Backend) (*ChainReader, error) {
	if backend == nil {
		return nil, fmt.Errorf("chain backend is nil")
	}
	reader, err := launchpad.NewReader(backend)
	if err != nil {
		return nil, err
	}
	return &ChainReader{Reader: reader, backend: backend}, nil
}

// BalanceAt returns the native balance of account at the latest block.
func (r *ChainReader) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	bal, err := r.backend.BalanceAt(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("get balance %s: %w", account.Hex(), err)
	}
	return bal, nil
}
