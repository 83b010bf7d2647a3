package storage

import (
	"context"

	"launchpadScope/internal/model"
)

// Sink archives decoded events, decode failures and curve snapshots.
type Sink interface {
	PutEvents(ctx context.Context, events []model.Event) error
	PutDecodeErrors(ctx context.Context, errs []model.DecodeError) error
	PutSnapshots(ctx context.Context, snapshots []model.BondedCurveSnapshot) error
	Close() error
}
