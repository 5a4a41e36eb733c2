package config

import (
	"strings"
	"testing"

	"github.com/urfave/cli/v2"
)

// testKey is a throwaway secp256k1 private key.
const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

const testContract = "0x5FbDB2315678afecb367f032d93F642f64180aa3"

func parse(t *testing.T, args ...string) (Config, error) {
	t.Helper()
	var cfg Config
	var parseErr error
	app := &cli.App{
		Flags: Flags(),
		Action: func(c *cli.Context) error {
			cfg, parseErr = FromCLI(c)
			return nil
		},
	}
	if err := app.Run(append([]string{"gamemasterd"}, args...)); err != nil {
		return Config{}, err
	}
	return cfg, parseErr
}

func TestDefaults(t *testing.T) {
	cfg, err := parse(t, "--contract", testContract, "--private-key", testKey)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.RPCURL != "http://localhost:8545" {
		t.Errorf("RPCURL = %q", cfg.RPCURL)
	}
	if cfg.ChainID != 8453 {
		t.Errorf("ChainID = %d", cfg.ChainID)
	}
	if cfg.DataDir != "./gamedata" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if cfg.BaseURL != "http://localhost" {
		t.Errorf("BaseURL = %q", cfg.BaseURL)
	}
	if cfg.Verbosity != 3 {
		t.Errorf("Verbosity = %d", cfg.Verbosity)
	}
	if !strings.EqualFold(cfg.Contract.Hex(), testContract) {
		t.Errorf("Contract = %s", cfg.Contract.Hex())
	}
}

func TestBaseURLTrailingSlashTrimmed(t *testing.T) {
	cfg, err := parse(t,
		"--contract", testContract,
		"--private-key", testKey,
		"--server-base-url", "https://games.example.com/",
	)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.BaseURL != "https://games.example.com" {
		t.Errorf("BaseURL = %q", cfg.BaseURL)
	}
}

func TestSchemelessBaseURLPreserved(t *testing.T) {
	// The scheme of a scheme-less base is decided at server start, not
	// at parse; the config must pass it through untouched.
	cfg, err := parse(t,
		"--contract", testContract,
		"--private-key", testKey,
		"--server-base-url", "games.example.com",
	)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.BaseURL != "games.example.com" {
		t.Errorf("BaseURL = %q", cfg.BaseURL)
	}
}

func TestRejectsBadInput(t *testing.T) {
	cases := []struct {
		name string
		args []string
	}{
		{"bad contract", []string{"--contract", "not-an-address", "--private-key", testKey}},
		{"bad key", []string{"--contract", testContract, "--private-key", "zz"}},
		{"zero chain id", []string{"--contract", testContract, "--private-key", testKey, "--chain-id", "0"}},
		{"verbosity out of range", []string{"--contract", testContract, "--private-key", testKey, "--verbosity", "9"}},
	}
	for _, tc := range cases {
		if _, err := parse(t, tc.args...); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestKeyAccepts0xPrefix(t *testing.T) {
	cfg, err := parse(t, "--contract", testContract, "--private-key", "0x"+testKey)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.PrivateKey != "0x"+testKey {
		t.Errorf("PrivateKey = %q", cfg.PrivateKey)
	}
}
