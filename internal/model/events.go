package model

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	"launchpadScope/internal/curve"
)

// DefaultImage is stored when a token is created without an image.
const DefaultImage = "none"

// EventKind names a decoded launchpad event.
type EventKind string

const (
	KindTokenCreated EventKind = "TokenCreated"
	KindBuy          EventKind = "Buy"
	KindSell         EventKind = "Sell"
)

// Event is a decoded launchpad event. It is implemented only by TokenRecord
// and TradeEvent.
type Event interface {
	Kind() EventKind
	Ref() LedgerRef
	isEvent()
}

// TokenRecord is a token created on the launchpad. Addresses are checksummed.
type TokenRecord struct {
	ChainID            uint64    `json:"chain_id"`
	Emitter            string    `json:"emitter"`
	Creator            string    `json:"creator"`
	TokenAddress       string    `json:"token_address"`
	Name               string    `json:"name"`
	Symbol             string    `json:"symbol"`
	Description        string    `json:"description"`
	Image              string    `json:"image"`
	CreatedAtBlockTime uint64    `json:"created_at_block_time"`
	ContentHash        string    `json:"content_hash"`
	Ledger             LedgerRef `json:"ledger"`
}

func (TokenRecord) Kind() EventKind { return KindTokenCreated }
func (r TokenRecord) Ref() LedgerRef { return r.Ledger }
func (TokenRecord) isEvent() {}

// TokenContentHash digests the identity fields joined by ':'.
func TokenContentHash(creator, token, name, symbol, description, image string) string {
	joined := strings.Join([]string{creator, token, name, symbol, description, image}, ":")
	return crypto.Keccak256Hash([]byte(joined)).Hex()
}

// TradeEvent is a Buy or Sell against a token's curve. Integer fields are
// base-10 strings.
type TradeEvent struct {
	ChainID         uint64          `json:"chain_id"`
	TokenAddress    string          `json:"token_address"`
	Actor           string          `json:"actor"`
	Direction       curve.Direction `json:"direction"`
	Amount          string          `json:"amount"`
	Price           string          `json:"price"`
	ResultingSupply string          `json:"resulting_supply"`
	Timestamp       uint64          `json:"timestamp"`
	Ledger          LedgerRef       `json:"ledger"`
}

func (t TradeEvent) Kind() EventKind {
	if t.Direction == curve.Sell {
		return KindSell
	}
	return KindBuy
}

func (t TradeEvent) Ref() LedgerRef { return t.Ledger }
func (TradeEvent) isEvent() {}

func (t TradeEvent) AmountInt() (*big.Int, error) { return parseUint("amount", t.Amount) }
func (t TradeEvent) PriceInt() (*big.Int, error) { return parseUint("price", t.Price) }
func (t TradeEvent) SupplyInt() (*big.Int, error) { return parseUint("resulting_supply", t.ResultingSupply) }

func parseUint(field, v string) (*big.Int, error) {
	out, ok := new(big.Int).SetString(v, 10)
	if !ok || out.Sign() < 0 {
		return nil, fmt.Errorf("invalid %s: %q", field, v)
	}
	return out, nil
}

// SameToken compares two addresses case-insensitively.
func SameToken(a, b string) bool {
	return strings.EqualFold(a, b)
}
