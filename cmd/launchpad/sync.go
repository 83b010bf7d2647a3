package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"launchpadScope/internal/aggregate"
	"launchpadScope/internal/chain"
	"launchpadScope/internal/config"
	"launchpadScope/internal/curve"
	"launchpadScope/internal/indexer"
	"launchpadScope/internal/launchpad"
	"launchpadScope/internal/model"
	"launchpadScope/internal/observability"
	"launchpadScope/internal/storage"
	"launchpadScope/internal/storage/postgres"
)

func runSync(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	launchpadAddr, err := cfg.LaunchpadAddress()
	if err != nil {
		return err
	}
	statusInterval, _ := cmd.Flags().GetDuration("status-interval")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL, chain.Options{
		WSURL:        cfg.WSURL,
		PollInterval: cfg.PollInterval,
	})
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	if err := checkChainID(ctx, chainClient, cfg.Network, logger); err != nil {
		return err
	}

	metrics := observability.NewMetrics()
	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr, logger); err != nil {
				logger.Error("metrics server stopped", zap.Error(err))
			}
		}()
	}

	sinks, err := openSinks(ctx, cfg, logger)
	if err != nil {
		return err
	}
	archiver := storage.NewArchiver(storage.ArchiveConfig{}, logger, metrics, sinks...)
	defer func() {
		if err := archiver.Close(); err != nil {
			logger.Warn("close archive", zap.Error(err))
		}
	}()

	oracle, err := curve.NewOracle(cfg.Fee)
	if err != nil {
		return err
	}
	reader, err := aggregate.NewChainReader(chainClient)
	if err != nil {
		return err
	}
	agg, err := aggregate.NewAggregator(aggregate.Config{
		RefreshTimeout: cfg.RefreshTimeout,
		Workers:        cfg.RefreshWorkers,
		TrackCreated:   cfg.TrackCreated,
	}, reader, oracle, logger, aggregate.WithMetrics(metrics), aggregate.WithSnapshotSink(archiver.Snapshot))
	if err != nil {
		return err
	}
	defer agg.Close()

	registry := launchpad.NewRegistry(reader.Reader)
	for _, token := range cfg.Track {
		registry.Add(common.HexToAddress(token))
	}

	tokens, err := newFeed(cfg, "tokens", []common.Address{launchpadAddr}, cfg.MaxTokens, chainClient, logger, metrics, archiver,
		[]launchpad.Schema{launchpad.SchemaTokenCreated})
	if err != nil {
		return err
	}
	defer tokens.Stop()
	tokens.Subscribe(func(ev model.Event) {
		if record, ok := ev.(model.TokenRecord); ok {
			registry.Add(common.HexToAddress(record.TokenAddress))
		}
	})

	// Trades are emitted by each token contract, so the log query cannot
	// filter by emitter. The registry keeps other contracts' Buy/Sell logs out.
	trades, err := newFeed(cfg, "trades", nil, cfg.MaxTrades, chainClient, logger, metrics, archiver,
		[]launchpad.Schema{launchpad.SchemaBuy, launchpad.SchemaSell},
		indexer.WithFilter(launchpadTrades(registry)))
	if err != nil {
		return err
	}
	defer trades.Stop()

	for _, feed := range []*indexer.Pipeline{tokens, trades} {
		feed.Subscribe(archiver.Event)
		if err := agg.Attach(feed); err != nil {
			return err
		}
	}

	logger.Info("sync start",
		zap.String("network", cfg.Network.Name),
		zap.String("rpc", cfg.RPCURL),
		zap.String("ws", cfg.WSURL),
		zap.String("launchpad", launchpadAddr.Hex()),
		zap.Uint64("search_interval", cfg.SearchInterval),
		zap.Int("max_tokens", cfg.MaxTokens),
		zap.Int("max_trades", cfg.MaxTrades),
		zap.Int("tracked", len(cfg.Track)),
		zap.String("out", cfg.Out),
		zap.String("pg_dsn", redactDSN(cfg.PGDSN)),
	)

	var g errgroup.Group
	g.Go(func() error { return tokens.Start(ctx) })
	g.Go(func() error { return trades.Start(ctx) })
	if err := g.Wait(); err != nil {
		return fmt.Errorf("start feeds: %w", err)
	}

	for _, token := range cfg.Track {
		if _, err := agg.Track(common.HexToAddress(token)); err != nil {
			return fmt.Errorf("track %s: %w", token, err)
		}
	}
	// Backfilled creations are not dispatched to listeners, so seed the
	// registry and the aggregator from the token feed's cache.
	for _, ev := range tokens.Snapshot() {
		record, ok := ev.(model.TokenRecord)
		if !ok {
			continue
		}
		token := common.HexToAddress(record.TokenAddress)
		registry.Add(token)
		if !cfg.TrackCreated {
			continue
		}
		if _, err := agg.Track(token); err != nil {
			logger.Warn("track created token", zap.Error(err), zap.String("token", record.TokenAddress))
		}
	}

	return follow(ctx, logger, statusInterval, agg, tokens, trades)
}

// follow blocks until ctx ends or a feed fails, logging status periodically.
func follow(ctx context.Context, logger *zap.Logger, interval time.Duration, agg *aggregate.Aggregator, feeds ...*indexer.Pipeline) error {
	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	failed := make(chan error, len(feeds))
	for _, feed := range feeds {
		go func(feed *indexer.Pipeline) {
			<-feed.Done()
			if err := feed.Err(); err != nil {
				failed <- fmt.Errorf("feed %s: %w", feed.Name(), err)
			}
		}(feed)
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("sync stopping")
			return nil
		case err := <-failed:
			return err
		case <-tick:
			fields := []zap.Field{zap.Int("tracked", agg.Len())}
			for _, feed := range feeds {
				fields = append(fields,
					zap.String(feed.Name()+"_state", feed.State().String()),
					zap.Int(feed.Name()+"_cached", feed.Len()),
				)
			}
			logger.Info("sync status", fields...)
		}
	}
}

func newFeed(
	cfg config.Config,
	name string,
	emitters []common.Address,
	capacity int,
	source indexer.LogSource,
	logger *zap.Logger,
	metrics *observability.Metrics,
	archiver *storage.Archiver,
	schemas []launchpad.Schema,
	opts ...indexer.Option,
) (*indexer.Pipeline, error) {
	decoder, err := launchpad.NewDecoder(schemas...)
	if err != nil {
		return nil, err
	}
	return indexer.NewPipeline(indexer.FeedConfig{
		Name:              name,
		Emitters:          emitters,
		SearchInterval:    cfg.SearchInterval,
		MaxEvents:         capacity,
		BatchSize:         cfg.BatchSize,
		MaxRetries:        cfg.MaxRetries,
		RetryBackoff:      cfg.RetryBackoff,
		ResolveTimestamps: true,
		StrictCache:       cfg.StrictCache,
	}, source, decoder, logger, append([]indexer.Option{
		indexer.WithMetrics(metrics),
		indexer.WithDecodeErrors(archiver.DecodeError),
	}, opts...)...)
}

// launchpadTrades admits trades emitted by launchpad tokens only.
func launchpadTrades(registry *launchpad.Registry) indexer.Filter {
	return func(ctx context.Context, ev model.Event) (bool, error) {
		trade, ok := ev.(model.TradeEvent)
		if !ok {
			return true, nil
		}
		return registry.IsToken(ctx, common.HexToAddress(trade.TokenAddress))
	}
}

func openSinks(ctx context.Context, cfg config.Config, logger *zap.Logger) ([]storage.Sink, error) {
	var sinks []storage.Sink
	if cfg.Out != "" {
		sinks = append(sinks, storage.NewJsonlStorage(cfg.Out))
	}
	if cfg.PGDSN != "" {
		store, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, err
		}
		sinks = append(sinks, store)
	}
	if len(sinks) == 0 {
		logger.Info("archive disabled")
	}
	return sinks, nil
}

func checkChainID(ctx context.Context, client *chain.Client, network config.Network, logger *zap.Logger) error {
	id, err := client.GetChainID(ctx)
	if err != nil {
		return fmt.Errorf("get chain id: %w", err)
	}
	if network.ChainID != 0 && (!id.IsUint64() || id.Uint64() != network.ChainID) {
		return fmt.Errorf("%w: rpc reports chain %s, network %s expects %d",
			errChainMismatch, id, network.Name, network.ChainID)
	}
	logger.Debug("chain id verified", zap.String("chain_id", id.String()))
	return nil
}

var errChainMismatch = errors.New("chain id mismatch")

func redactDSN(dsn string) string {
	if dsn == "" {
		return dsn
	}
	return "***"
}
