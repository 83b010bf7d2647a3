package launchpad

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestRegistryConfirmsUnknownToken(t *testing.T) {
	owner := common.HexToAddress("0x5555555555555555555555555555555555555555")
	caller := newFakeCaller(t, map[string]interface{}{
		"maxCap": big.NewInt(5000),
		"owner":  owner,
	})
	reader, err := NewReader(caller)
	if err != nil {
		t.Fatalf("reader: %v", err)
	}
	registry := NewRegistry(reader)

	for i := 0; i < 2; i++ {
		ok, err := registry.IsToken(context.Background(), tokenAddr)
		if err != nil || !ok {
			t.Fatalf("IsToken = %v, %v; want true", ok, err)
		}
	}
	if len(caller.calls) != 2 {
		t.Fatalf("calls = %d, want 2 (maxCap and owner once)", len(caller.calls))
	}
}

func TestRegistryRejectsForeignContract(t *testing.T) {
	// no responses: every method returns empty data
	caller := newFakeCaller(t, nil)
	reader, err := NewReader(caller)
	if err != nil {
		t.Fatalf("reader: %v", err)
	}
	registry := NewRegistry(reader)

	ok, err := registry.IsToken(context.Background(), creatorAddr)
	if err != nil || ok {
		t.Fatalf("IsToken = %v, %v; want false", ok, err)
	}
	registry.IsToken(context.Background(), creatorAddr)
	if len(caller.calls) != 1 {
		t.Fatalf("calls = %d, want the rejection cached after 1", len(caller.calls))
	}
}

func TestRegistryDoesNotCacheNetworkFailures(t *testing.T) {
	caller := newFakeCaller(t, nil)
	caller.err = errors.New("dial tcp: connection refused")
	reader, err := NewReader(caller)
	if err != nil {
		t.Fatalf("reader: %v", err)
	}
	registry := NewRegistry(reader)

	if _, err := registry.IsToken(context.Background(), tokenAddr); err == nil {
		t.Fatal("expected network error")
	}

	registry.Add(tokenAddr)
	ok, err := registry.IsToken(context.Background(), tokenAddr)
	if err != nil || !ok {
		t.Fatalf("IsToken after Add = %v, %v; want true", ok, err)
	}
	if len(caller.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(caller.calls))
	}
}
