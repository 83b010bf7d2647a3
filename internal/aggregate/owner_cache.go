package aggregate

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// OwnerCache caches token owners. A curve token's owner is set at creation
// and never changes, so entries are never invalidated.
type OwnerCache struct {
	mu   sync.RWMutex
	data map[common.Address]common.Address
}

func NewOwnerCache() *OwnerCache {
	return &OwnerCache{data: make(map[common.Address]common.Address)}
}

func (c *OwnerCache) Get(token common.Address) (common.Address, bool) {
	c.mu.RLock()
	owner, ok := c.data[token]
	c.mu.RUnlock()
	return owner, ok
}

func (c *OwnerCache) Set(token, owner common.Address) {
	c.mu.Lock()
	c.data[token] = owner
	c.mu.Unlock()
}

// Resolve returns the cached owner, reading it from the ledger on a miss.
func (c *OwnerCache) Resolve(ctx context.Context, reader StateReader, token common.Address) (common.Address, error) {
	if owner, ok := c.Get(token); ok {
		return owner, nil
	}
	owner, err := reader.Owner(ctx, token)
	if err != nil {
		return common.Address{}, err
	}
	c.Set(token, owner)
	return owner, nil
}
