package main

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"launchpadScope/internal/chain"
	"launchpadScope/internal/curve"
	"launchpadScope/internal/launchpad"
	"launchpadScope/internal/units"
)

// quoteResult is printed as one JSON line.
type quoteResult struct {
	Direction curve.Direction   `json:"direction"`
	Amount    string            `json:"amount"`
	Supply    string            `json:"supply"`
	Raw       string            `json:"raw"`
	Price     string            `json:"price"`
	Display   string            `json:"display"`
	Spot      string            `json:"spot_price"`
	Units     map[string]string `json:"units"`
}

func runQuote(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	direction, err := curve.ParseDirection(args[0])
	if err != nil {
		return err
	}
	amount, ok := new(big.Int).SetString(args[1], 10)
	if !ok {
		return fmt.Errorf("invalid amount: %s", args[1])
	}

	supply, err := quoteSupply(cmd, cfg.RPCURL, logger)
	if err != nil {
		return err
	}

	oracle, err := curve.NewOracle(cfg.Fee)
	if err != nil {
		return err
	}
	price, err := oracle.Quote(direction, amount, supply)
	if err != nil {
		return err
	}
	raw, err := curve.RawCost(direction, amount, supply)
	if err != nil {
		return err
	}
	spot, err := oracle.SpotPrice(supply)
	if err != nil {
		return err
	}

	priced := units.FromBase(price)
	return writeJSON(cmd.OutOrStdout(), quoteResult{
		Direction: direction,
		Amount:    amount.String(),
		Supply:    supply.String(),
		Raw:       raw.String(),
		Price:     price.String(),
		Display:   priced.String(),
		Spot:      spot.String(),
		Units:     priced.All(),
	})
}

// quoteSupply returns --supply, or the live supply of --token when set.
func quoteSupply(cmd *cobra.Command, rpcURL string, logger *zap.Logger) (*big.Int, error) {
	token, _ := cmd.Flags().GetString("token")
	if token == "" {
		raw, _ := cmd.Flags().GetString("supply")
		supply, ok := new(big.Int).SetString(raw, 10)
		if !ok || supply.Sign() < 0 {
			return nil, fmt.Errorf("invalid supply: %s", raw)
		}
		return supply, nil
	}
	if !common.IsHexAddress(token) {
		return nil, fmt.Errorf("invalid token address: %s", token)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()

	client, err := chain.NewClient(ctx, rpcURL, chain.Options{})
	if err != nil {
		return nil, fmt.Errorf("connect rpc: %w", err)
	}
	defer client.Close()

	reader, err := launchpad.NewReader(client)
	if err != nil {
		return nil, err
	}
	supply, err := reader.TotalSupply(ctx, common.HexToAddress(token))
	if err != nil {
		return nil, err
	}
	logger.Debug("live supply", zap.String("token", token), zap.String("supply", supply.String()))
	return supply, nil
}
