// Package config defines the daemon's command line and environment
// surface. Every flag reads from an environment variable so deployment
// can be flag-free.
package config

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/urfave/cli/v2"
)

// Config is the validated daemon configuration.
type Config struct {
	RPCURL     string
	Contract   common.Address
	PrivateKey string
	ChainID    uint64
	JWTSecret  string
	DataDir    string
	// BaseURL is the public host of the game servers; the per-game port
	// gets appended to it. It may carry an explicit scheme; without one
	// the orchestrator picks http or https to match the listeners.
	BaseURL   string
	Verbosity int
}

// Flags declares the daemon's command line.
func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "rpc-url",
			Usage:   "JSON-RPC endpoint of the chain node (websocket endpoints enable live event subscriptions)",
			Value:   "http://localhost:8545",
			EnvVars: []string{"RPC_URL"},
		},
		&cli.StringFlag{
			Name:     "contract",
			Usage:    "address of the game contract",
			Required: true,
			EnvVars:  []string{"CONTRACT_ADDRESS"},
		},
		&cli.StringFlag{
			Name:     "private-key",
			Usage:    "hex private key of the gamemaster account",
			Required: true,
			EnvVars:  []string{"PRIVKEY"},
		},
		&cli.Uint64Flag{
			Name:    "chain-id",
			Usage:   "chain id used for transaction signing",
			Value:   8453,
			EnvVars: []string{"CHAIN_ID"},
		},
		&cli.StringFlag{
			Name:    "jwt-secret",
			Usage:   "base secret for game server bearer tokens",
			Value:   "gamemaster-dev-secret",
			EnvVars: []string{"JWT_SECRET"},
		},
		&cli.StringFlag{
			Name:    "data-dir",
			Usage:   "directory for reveal, map and score artifacts",
			Value:   "./gamedata",
			EnvVars: []string{"DATA_DIR"},
		},
		&cli.StringFlag{
			Name:    "server-base-url",
			Usage:   "public scheme+host of the game servers, without port",
			Value:   "http://localhost",
			EnvVars: []string{"GAME_API_BASE"},
		},
		&cli.IntFlag{
			Name:    "verbosity",
			Usage:   "log verbosity (0=crit .. 5=trace)",
			Value:   3,
			EnvVars: []string{"VERBOSITY"},
		},
	}
}

// FromCLI reads and validates the parsed command line.
func FromCLI(c *cli.Context) (Config, error) {
	cfg := Config{
		RPCURL:     c.String("rpc-url"),
		PrivateKey: c.String("private-key"),
		ChainID:    c.Uint64("chain-id"),
		JWTSecret:  c.String("jwt-secret"),
		DataDir:    c.String("data-dir"),
		BaseURL:    strings.TrimRight(c.String("server-base-url"), "/"),
		Verbosity:  c.Int("verbosity"),
	}

	contract := c.String("contract")
	if !common.IsHexAddress(contract) {
		return Config{}, fmt.Errorf("contract address %q is not a hex address", contract)
	}
	cfg.Contract = common.HexToAddress(contract)

	if _, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x")); err != nil {
		return Config{}, fmt.Errorf("private key: %w", err)
	}
	if cfg.ChainID == 0 {
		return Config{}, fmt.Errorf("chain id must be nonzero")
	}
	// A scheme-less base stays scheme-less here: the scheme depends on
	// whether the game servers come up with TLS, which is decided at
	// server start, not at config parse.
	if cfg.BaseURL == "" {
		return Config{}, fmt.Errorf("server base URL must not be empty")
	}
	if cfg.Verbosity < 0 || cfg.Verbosity > 5 {
		return Config{}, fmt.Errorf("verbosity %d out of range 0..5", cfg.Verbosity)
	}
	return cfg, nil
}
