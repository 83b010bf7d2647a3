package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/rpc"
)

// ErrNetworkUnavailable marks failures to reach the ledger.
var ErrNetworkUnavailable = errors.New("network unavailable")

const defaultPollInterval = 2 * time.Second

// Options configures a Client.
type Options struct {
	// WSURL is used for eth_subscribe. When empty and RPCURL is not a
	// websocket endpoint, live logs are polled with eth_getLogs.
	WSURL        string
	PollInterval time.Duration
}

// Client wraps go-ethereum RPC and provides helper methods.
type Client struct {
	rpcClient *rpc.Client
	ethClient *ethclient.Client
	subClient *ethclient.Client
	wsClient  *rpc.Client

	pollInterval time.Duration

	mu      sync.RWMutex
	tsCache map[uint64]uint64
}

// NewClient creates a new chain client from the RPC URL.
func NewClient(ctx context.Context, rpcURL string, opts Options) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrNetworkUnavailable, rpcURL, err)
	}

	c := &Client{
		rpcClient:    rpcClient,
		ethClient:    ethclient.NewClient(rpcClient),
		pollInterval: opts.PollInterval,
		tsCache:      make(map[uint64]uint64),
	}
	if c.pollInterval <= 0 {
		c.pollInterval = defaultPollInterval
	}

	switch {
	case opts.WSURL != "":
		wsClient, err := rpc.DialContext(ctx, opts.WSURL)
		if err != nil {
			rpcClient.Close()
			return nil, fmt.Errorf("%w: dial %s: %v", ErrNetworkUnavailable, opts.WSURL, err)
		}
		c.wsClient = wsClient
		c.subClient = ethclient.NewClient(wsClient)
	case isWebsocket(rpcURL):
		c.subClient = c.ethClient
	}

	return c, nil
}

func isWebsocket(url string) bool {
	url = strings.ToLower(url)
	return strings.HasPrefix(url, "ws://") || strings.HasPrefix(url, "wss://")
}

// Close closes the underlying RPC clients.
func (c *Client) Close() {
	if c.wsClient != nil {
		c.wsClient.Close()
	}
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

// GetChainID returns the chain ID.
func (c *Client) GetChainID(ctx context.Context) (*big.Int, error) {
	return c.ethClient.ChainID(ctx)
}

// LatestBlockNumber returns the latest block number.
func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	return c.ethClient.BlockNumber(ctx)
}

// HeaderByNumber returns the block header by number.
func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return c.ethClient.HeaderByNumber(ctx, number)
}

// BlockTimestamp returns the block timestamp, using an in-memory cache.
func (c *Client) BlockTimestamp(ctx context.Context, number uint64) (uint64, error) {
	c.mu.RLock()
	ts, ok := c.tsCache[number]
	c.mu.RUnlock()
	if ok {
		return ts, nil
	}

	header, err := c.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return 0, err
	}

	ts = header.Time
	c.mu.Lock()
	c.tsCache[number] = ts
	c.mu.Unlock()

	return ts, nil
}

// BalanceAt returns the native balance of account at the latest block.
func (c *Client) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	return c.ethClient.BalanceAt(ctx, account, nil)
}

// FilterLogs returns logs in the given range for addresses and topic0 filters.
func (c *Client) FilterLogs(
	ctx context.Context,
	fromBlock uint64,
	toBlock uint64,
	addresses []common.Address,
	topic0 []common.Hash,
) ([]types.Log, error) {
	return c.ethClient.FilterLogs(ctx, buildQuery(fromBlock, toBlock, addresses, topic0))
}

// SubscribeLogs streams new logs matching addresses and topic0 into ch until
// the subscription is unsubscribed or fails.
func (c *Client) SubscribeLogs(
	ctx context.Context,
	addresses []common.Address,
	topic0 []common.Hash,
	ch chan<- types.Log,
) (ethereum.Subscription, error) {
	if c.subClient != nil {
		query := ethereum.FilterQuery{Addresses: addresses}
		if len(topic0) > 0 {
			query.Topics = [][]common.Hash{topic0}
		}
		return c.subClient.SubscribeFilterLogs(ctx, query, ch)
	}
	return c.pollLogs(ctx, addresses, topic0, ch)
}

// pollLogs emulates a log subscription over plain HTTP by querying each new
// block range once.
func (c *Client) pollLogs(
	ctx context.Context,
	addresses []common.Address,
	topic0 []common.Hash,
	ch chan<- types.Log,
) (ethereum.Subscription, error) {
	head, err := c.LatestBlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
	}
	next := head + 1

	return event.NewSubscription(func(quit <-chan struct{}) error {
		pollCtx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			select {
			case <-quit:
				cancel()
			case <-pollCtx.Done():
			}
		}()

		ticker := time.NewTicker(c.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-quit:
				return nil
			case <-ticker.C:
			}

			latest, err := c.LatestBlockNumber(pollCtx)
			if err != nil {
				if pollCtx.Err() != nil {
					return nil
				}
				return fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
			}
			if latest < next {
				continue
			}
			logs, err := c.ethClient.FilterLogs(pollCtx, buildQuery(next, latest, addresses, topic0))
			if err != nil {
				if pollCtx.Err() != nil {
					return nil
				}
				return fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
			}
			for _, log := range logs {
				select {
				case ch <- log:
				case <-quit:
					return nil
				}
			}
			next = latest + 1
		}
	}), nil
}

func buildQuery(fromBlock, toBlock uint64, addresses []common.Address, topic0 []common.Hash) ethereum.FilterQuery {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: addresses,
	}
	if len(topic0) > 0 {
		query.Topics = [][]common.Hash{topic0}
	}
	return query
}

// CallContract performs an eth_call for a contract method.
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return c.ethClient.CallContract(ctx, msg, blockNumber)
}
