package main

import (
	"github.com/spf13/cobra"

	"launchpadScope/internal/units"
)

type unitsResult struct {
	Base    string            `json:"base"`
	Closest string            `json:"closest"`
	Display string            `json:"display"`
	Units   map[string]string `json:"units"`
}

func runUnits(cmd *cobra.Command, args []string) error {
	unit, _ := cmd.Flags().GetString("unit")
	amount, err := units.Parse(args[0], unit)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), unitsResult{
		Base:    amount.Base().String(),
		Closest: amount.ClosestUnit().Key,
		Display: amount.String(),
		Units:   amount.All(),
	})
}
