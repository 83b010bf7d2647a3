package launchpad

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

type fakeCaller struct {
	responses map[string][]byte
	err       error
	calls     []ethereum.CallMsg
}

func (f *fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.calls = append(f.calls, msg)
	if f.err != nil {
		return nil, f.err
	}
	return f.responses[string(msg.Data[:4])], nil
}

func newFakeCaller(t *testing.T, outputs map[string]interface{}) *fakeCaller {
	t.Helper()
	parsed, err := ABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	f := &fakeCaller{responses: make(map[string][]byte)}
	for name, value := range outputs {
		method := parsed.Methods[name]
		out, err := method.Outputs.Pack(value)
		if err != nil {
			t.Fatalf("pack %s: %v", name, err)
		}
		f.responses[string(method.ID)] = out
	}
	return f
}

func TestReaderCalls(t *testing.T) {
	owner := common.HexToAddress("0x5555555555555555555555555555555555555555")
	recent := []common.Address{tokenAddr, creatorAddr}
	caller := newFakeCaller(t, map[string]interface{}{
		"totalSupply":             big.NewInt(1234),
		"maxCap":                  big.NewInt(5000),
		"owner":                   owner,
		"balanceOf":               big.NewInt(7),
		"getRecentTokenAddresses": recent,
	})

	reader, err := NewReader(caller)
	if err != nil {
		t.Fatalf("reader: %v", err)
	}
	ctx := context.Background()

	supply, err := reader.TotalSupply(ctx, tokenAddr)
	if err != nil || supply.Int64() != 1234 {
		t.Fatalf("totalSupply: %v %v", supply, err)
	}
	maxCap, err := reader.MaxCap(ctx, tokenAddr)
	if err != nil || maxCap.Int64() != 5000 {
		t.Fatalf("maxCap: %v %v", maxCap, err)
	}
	gotOwner, err := reader.Owner(ctx, tokenAddr)
	if err != nil || gotOwner != owner {
		t.Fatalf("owner: %v %v", gotOwner, err)
	}
	bal, err := reader.BalanceOf(ctx, tokenAddr, owner)
	if err != nil || bal.Int64() != 7 {
		t.Fatalf("balanceOf: %v %v", bal, err)
	}
	tokens, err := reader.RecentTokens(ctx, launchpadAddr)
	if err != nil || len(tokens) != 2 || tokens[0] != tokenAddr {
		t.Fatalf("recent tokens: %v %v", tokens, err)
	}
	if *caller.calls[0].To != tokenAddr {
		t.Fatalf("call sent to wrong contract")
	}
}

func TestReaderPropagatesCallErrors(t *testing.T) {
	boom := errors.New("connection refused")
	reader, err := NewReader(&fakeCaller{err: boom})
	if err != nil {
		t.Fatalf("reader: %v", err)
	}
	if _, err := reader.TotalSupply(context.Background(), tokenAddr); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped call error, got %v", err)
	}
}
