package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// BondedCurveSnapshot is the derived state of one token's curve. It is
// replaced as a whole on each refresh.
type BondedCurveSnapshot struct {
	Token           string          `json:"token"`
	Owner           string          `json:"owner"`
	TotalSupply     string          `json:"total_supply"`
	Raised          string          `json:"raised"`
	MaxCap          string          `json:"max_cap"`
	ProgressPercent decimal.Decimal `json:"progress_percent"`
	CurrentPrice    string          `json:"current_price"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// TokenView is what readers get for a tracked token.
type TokenView struct {
	Token       string              `json:"token"`
	Snapshot    BondedCurveSnapshot `json:"snapshot"`
	HasSnapshot bool                `json:"has_snapshot"`
	Stale       bool                `json:"stale"`
	LastError   string              `json:"last_error,omitempty"`
}
