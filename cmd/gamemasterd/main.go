// gamemasterd is the automated gamemaster: it watches the game
// contract for games addressed to its key, runs the commit-reveal
// randomness ceremony, hosts the per-game HTTP servers, and settles
// payouts.
package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/austintgriffith/verifiable-game-backend/internal/chain"
	"github.com/austintgriffith/verifiable-game-backend/internal/config"
	"github.com/austintgriffith/verifiable-game-backend/internal/master"
	"github.com/austintgriffith/verifiable-game-backend/internal/store"
)

func main() {
	app := &cli.App{
		Name:   "gamemasterd",
		Usage:  "automated gamemaster for the on-chain mining game",
		Flags:  config.Flags(),
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "gamemasterd: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.FromCLI(c)
	if err != nil {
		return err
	}

	log.Root().SetHandler(log.LvlFilterHandler(
		log.Lvl(cfg.Verbosity),
		log.StreamHandler(os.Stderr, log.TerminalFormat(true)),
	))

	client, err := chain.NewClient(cfg.RPCURL, cfg.Contract, cfg.PrivateKey, new(big.Int).SetUint64(cfg.ChainID))
	if err != nil {
		return fmt.Errorf("connect chain: %w", err)
	}
	defer client.Close()

	artifacts, err := store.New(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open data dir: %w", err)
	}

	log.Info("gamemaster starting",
		"gamemaster", client.Self(),
		"contract", cfg.Contract,
		"chainId", cfg.ChainID,
		"dataDir", cfg.DataDir,
	)

	orch := master.NewOrchestrator(client, artifacts, master.Config{
		Contract:  cfg.Contract,
		BaseURL:   cfg.BaseURL,
		JWTSecret: cfg.JWTSecret,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return orch.Run(ctx) })
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutdown signal received")
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("gamemaster stopped", "gamesCompleted", orch.Completed())
	return nil
}
