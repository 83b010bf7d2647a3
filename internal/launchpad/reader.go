package launchpad

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ErrUnexpectedResult marks an eth_call that returned but not in the shape the
// ABI describes, e.g. an empty result from a contract without the method.
var ErrUnexpectedResult = errors.New("unexpected call result")

// Caller performs eth_call. chain.Client satisfies it.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Reader reads launchpad and curve token state via eth_call.
type Reader struct {
	caller Caller
	abi    abi.ABI
}

func NewReader(caller Caller) (*Reader, error) {
	if caller == nil {
		return nil, fmt.Errorf("caller is nil")
	}
	parsed, err := ABI()
	if err != nil {
		return nil, fmt.Errorf("parse launchpad abi: %w", err)
	}
	return &Reader{caller: caller, abi: parsed}, nil
}

// TotalSupply returns the token's curve supply.
func (r *Reader) TotalSupply(ctx context.Context, token common.Address) (*big.Int, error) {
	return r.callUint(ctx, token, "totalSupply")
}

// MaxCap returns the amount of base currency at which the curve completes.
func (r *Reader) MaxCap(ctx context.Context, token common.Address) (*big.Int, error) {
	return r.callUint(ctx, token, "maxCap")
}

// BalanceOf returns holder's token balance.
func (r *Reader) BalanceOf(ctx context.Context, token, holder common.Address) (*big.Int, error) {
	return r.callUint(ctx, token, "balanceOf", holder)
}

// Owner returns the token contract owner, which holds the raised funds.
func (r *Reader) Owner(ctx context.Context, token common.Address) (common.Address, error) {
	values, err := r.call(ctx, token, "owner")
	if err != nil {
		return common.Address{}, err
	}
	return asAddress(values[0])
}

// FeaturedTokens lists the launchpad's featured token addresses.
func (r *Reader) FeaturedTokens(ctx context.Context, launchpad common.Address) ([]common.Address, error) {
	return r.callAddresses(ctx, launchpad, "getFeaturedTokenAddresses")
}

// RecentTokens lists the launchpad's most recently created token addresses.
func (r *Reader) RecentTokens(ctx context.Context, launchpad common.Address) ([]common.Address, error) {
	return r.callAddresses(ctx, launchpad, "getRecentTokenAddresses")
}

func (r *Reader) callUint(ctx context.Context, to common.Address, method string, args ...interface{}) (*big.Int, error) {
	values, err := r.call(ctx, to, method, args...)
	if err != nil {
		return nil, err
	}
	v, err := asBigInt(values[0])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return v, nil
}

func (r *Reader) callAddresses(ctx context.Context, to common.Address, method string) ([]common.Address, error) {
	values, err := r.call(ctx, to, method)
	if err != nil {
		return nil, err
	}
	addrs, ok := values[0].([]common.Address)
	if !ok {
		return nil, fmt.Errorf("%s unexpected type %T", method, values[0])
	}
	return addrs, nil
}

func (r *Reader) call(ctx context.Context, to common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := r.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &to, Data: data}
	resp, err := r.caller.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	if len(resp) == 0 {
		return nil, fmt.Errorf("%w: %s returned no data", ErrUnexpectedResult, method)
	}
	values, err := r.abi.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("%w: unpack %s: %v", ErrUnexpectedResult, method, err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("%w: %s return size %d", ErrUnexpectedResult, method, len(values))
	}
	return values, nil
}
