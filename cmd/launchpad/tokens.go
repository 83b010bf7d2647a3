package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"launchpadScope/internal/aggregate"
	"launchpadScope/internal/chain"
	"launchpadScope/internal/curve"
	"launchpadScope/internal/launchpad"
	"launchpadScope/internal/model"
)

type tokenLine struct {
	Token string           `json:"token"`
	View  *model.TokenView `json:"view,omitempty"`
}

func runTokens(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	launchpadAddr, err := cfg.LaunchpadAddress()
	if err != nil {
		return err
	}
	recent, _ := cmd.Flags().GetBool("recent")
	withState, _ := cmd.Flags().GetBool("with-state")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	client, err := chain.NewClient(ctx, cfg.RPCURL, chain.Options{})
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer client.Close()

	reader, err := aggregate.NewChainReader(client)
	if err != nil {
		return err
	}
	tokens, err := listTokens(ctx, reader.Reader, launchpadAddr, recent)
	if err != nil {
		return err
	}
	logger.Info("tokens listed", zap.Int("count", len(tokens)), zap.Bool("recent", recent))

	out := cmd.OutOrStdout()
	if !withState {
		for _, token := range tokens {
			if err := writeJSON(out, tokenLine{Token: token.Hex()}); err != nil {
				return err
			}
		}
		return nil
	}

	oracle, err := curve.NewOracle(cfg.Fee)
	if err != nil {
		return err
	}
	agg, err := aggregate.NewAggregator(aggregate.Config{
		RefreshTimeout: cfg.RefreshTimeout,
		Workers:        cfg.RefreshWorkers,
	}, reader, oracle, logger)
	if err != nil {
		return err
	}
	defer agg.Close()

	for _, token := range tokens {
		if _, err := agg.Track(token); err != nil {
			return err
		}
	}
	if err := agg.RefreshAll(ctx); err != nil {
		logger.Warn("refresh failed for some tokens", zap.Error(err))
	}

	for _, token := range tokens {
		view, ok := agg.View(token)
		if !ok {
			continue
		}
		// A refresh from RefreshAll can lose to the initial one started by
		// Track; read again so every line carries a result.
		if !view.HasSnapshot && !view.Stale {
			if _, err := agg.Refresh(ctx, token); err != nil && !errors.Is(err, aggregate.ErrSuperseded) {
				logger.Warn("refresh token", zap.Error(err), zap.String("token", token.Hex()))
			}
			view, _ = agg.View(token)
		}
		if err := writeJSON(out, tokenLine{Token: token.Hex(), View: &view}); err != nil {
			return err
		}
	}
	return nil
}

func listTokens(ctx context.Context, reader *launchpad.Reader, addr common.Address, recent bool) ([]common.Address, error) {
	if recent {
		return reader.RecentTokens(ctx, addr)
	}
	return reader.FeaturedTokens(ctx, addr)
}

func writeJSON(w io.Writer, value interface{}) error {
	line, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if _, err := fmt.Fprintln(w, string(line)); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}
