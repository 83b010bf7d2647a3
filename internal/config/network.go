package config

import (
	"fmt"
	"sort"
	"strings"
)

// Network is a ledger preset.
type Network struct {
	Name           string
	RPCURL         string
	WSURL          string
	ChainID        uint64
	CurrencySymbol string
	ExplorerURL    string
}

var networks = map[string]Network{
	"local": {
		Name:           "Localhost",
		RPCURL:         "http://127.0.0.1:8545",
		WSURL:          "ws://127.0.0.1:8545",
		ChainID:        31337,
		CurrencySymbol: "ETH",
		ExplorerURL:    "http://localhost:8545",
	},
	"testnet": {
		Name:           "Zircuit Garfield Testnet",
		RPCURL:         "https://garfield-testnet.zircuit.com/",
		WSURL:          "wss://garfield-ws.zircuit.com/",
		ChainID:        48898,
		CurrencySymbol: "ETH",
		ExplorerURL:    "https://explorer.garfield-testnet.zircuit.com/",
	},
	"mainnet": {
		Name:           "Zircuit Mainnet",
		RPCURL:         "https://zircuit-mainnet.drpc.org/",
		WSURL:          "wss://zircuit-mainnet-ws.drpc.org/",
		ChainID:        48900,
		CurrencySymbol: "ETH",
		ExplorerURL:    "https://explorer.zircuit.com/",
	},
}

var networkAliases = map[string]string{
	"localnet": "local",
	"test":     "testnet",
	"main":     "mainnet",
}

// LookupNetwork resolves a preset by name or alias.
func LookupNetwork(name string) (Network, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if alias, ok := networkAliases[key]; ok {
		key = alias
	}
	n, ok := networks[key]
	if !ok {
		return Network{}, fmt.Errorf("unknown network %q (known: %s)", name, strings.Join(NetworkNames(), ", "))
	}
	return n, nil
}

// NetworkNames lists the preset names.
func NetworkNames() []string {
	names := make([]string, 0, len(networks))
	for name := range networks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
