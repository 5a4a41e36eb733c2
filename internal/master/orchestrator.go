// Package master runs the gamemaster side of the commit-reveal game:
// it discovers games addressed to this daemon's key, drives each one
// through the commit, store, start, score, payout and reveal steps,
// and manages the per-game HTTP servers.
package master

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/austintgriffith/verifiable-game-backend/internal/auth"
	"github.com/austintgriffith/verifiable-game-backend/internal/chain"
	"github.com/austintgriffith/verifiable-game-backend/internal/dice"
	"github.com/austintgriffith/verifiable-game-backend/internal/server"
	"github.com/austintgriffith/verifiable-game-backend/internal/session"
	"github.com/austintgriffith/verifiable-game-backend/internal/store"
)

const (
	tickInterval     = 250 * time.Millisecond
	resubscribeDelay = 5 * time.Second
)

// Config carries the orchestrator's deployment knobs.
type Config struct {
	Contract common.Address
	// BaseURL is the public host of the game servers, without a port;
	// the per-game port is appended (for example "http://localhost"
	// becomes "http://localhost:8005" for game 5). A scheme-less base
	// gets https:// or http:// depending on whether the listeners come
	// up with TLS.
	BaseURL   string
	JWTSecret string
}

// Orchestrator owns the game registry and the per-game server
// registry. Each game is ticked by its own goroutine so a slow RPC on
// one game never stalls another, while ticks for the same game stay
// serial.
type Orchestrator struct {
	backend   chain.Backend
	artifacts *store.Store
	cfg       Config
	worker    *Worker
	log       log.Logger

	mu         sync.Mutex
	games      map[uint64]*Game
	ticks      map[uint64]chan struct{}
	servers    map[uint64]*server.Server
	stopTimers map[uint64]*time.Timer
	completed  int

	runCtx context.Context
	wg     sync.WaitGroup
}

// NewOrchestrator wires the registry and its state machine.
func NewOrchestrator(backend chain.Backend, artifacts *store.Store, cfg Config) *Orchestrator {
	o := &Orchestrator{
		backend:    backend,
		artifacts:  artifacts,
		cfg:        cfg,
		log:        log.New("component", "orchestrator"),
		games:      make(map[uint64]*Game),
		ticks:      make(map[uint64]chan struct{}),
		servers:    make(map[uint64]*server.Server),
		stopTimers: make(map[uint64]*time.Timer),
	}
	o.worker = NewWorker(backend, artifacts, Callbacks{
		StartServer:     o.startServer,
		StopServer:      o.stopServer,
		ServerActive:    o.serverActive,
		SnapshotPlayers: o.snapshotPlayers,
		GameComplete:    o.gameComplete,
	}, o.ServerURL)
	return o
}

// ServerURL returns the public URL stored on-chain for a game. The
// scheme of a scheme-less base follows the TLS material the servers
// probe at start, so the published URL matches what the port serves.
func (o *Orchestrator) ServerURL(gameID uint64) string {
	base := o.cfg.BaseURL
	if !strings.Contains(base, "://") {
		scheme := "http"
		if server.TLSConfigured() {
			scheme = "https"
		}
		base = scheme + "://" + base
	}
	return fmt.Sprintf("%s:%d", base, server.BasePort+int(gameID))
}

// Completed returns how many games this daemon has driven to a
// terminal phase since startup.
func (o *Orchestrator) Completed() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.completed
}

// Run discovers this gamemaster's games, then loops until the context
// is cancelled. On cancellation it flushes live scores and closes all
// listeners before returning.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.runCtx = ctx

	events, err := o.backend.ScanGameCreated(ctx, 0)
	if err != nil {
		return fmt.Errorf("scan historical games: %w", err)
	}
	for _, ev := range events {
		o.addGame(ev)
	}
	o.log.Info("historical games loaded", "count", len(events), "gamemaster", o.backend.Self())

	eventCh := make(chan chain.GameEvent, 64)
	o.wg.Add(2)
	go o.watchEvents(ctx, eventCh)
	go o.pumpEvents(ctx, eventCh)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			o.shutdown()
			o.wg.Wait()
			return nil
		case <-ticker.C:
			o.tickAll()
		}
	}
}

// watchEvents keeps a live log subscription, resubscribing with a
// fixed delay whenever it drops.
func (o *Orchestrator) watchEvents(ctx context.Context, sink chan<- chain.GameEvent) {
	defer o.wg.Done()
	for {
		sub, err := o.backend.WatchEvents(ctx, sink)
		if err != nil {
			o.log.Warn("event subscription failed", "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(resubscribeDelay):
				continue
			}
		}
		select {
		case <-ctx.Done():
			sub.Unsubscribe()
			return
		case err := <-sub.Err():
			o.log.Warn("event subscription dropped", "err", err)
			sub.Unsubscribe()
			select {
			case <-ctx.Done():
				return
			case <-time.After(resubscribeDelay):
			}
		}
	}
}

// pumpEvents folds decoded events into the registry. Any event about a
// known game just schedules an early tick; the tick re-reads chain
// truth, so the event payload itself is only trusted for discovery.
func (o *Orchestrator) pumpEvents(ctx context.Context, events <-chan chain.GameEvent) {
	defer o.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			if ev.Name == chain.EventGameCreated {
				o.addGame(ev)
				o.log.Info("game discovered", "game", ev.GameID, "creator", ev.Creator, "stake", ev.StakeAmount)
			}
			o.kick(ev.GameID)
		}
	}
}

// addGame registers a game and spawns its tick goroutine. Re-adding an
// existing game is a no-op.
func (o *Orchestrator) addGame(ev chain.GameEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.games[ev.GameID]; ok {
		return
	}
	g := NewGame(ev.GameID, ev.Gamemaster, ev.Creator, ev.StakeAmount)
	ch := make(chan struct{}, 1)
	o.games[ev.GameID] = g
	o.ticks[ev.GameID] = ch

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		for range ch {
			o.worker.Tick(o.runCtx, g)
		}
	}()
}

// tickAll schedules a tick for every registered game, running games
// first so player-facing state stays fresh under load.
func (o *Orchestrator) tickAll() {
	o.mu.Lock()
	defer o.mu.Unlock()

	ids := make([]uint64, 0, len(o.games))
	for id := range o.games {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		ri, rj := o.games[ids[i]].Phase() == PhaseRunning, o.games[ids[j]].Phase() == PhaseRunning
		if ri != rj {
			return ri
		}
		return ids[i] < ids[j]
	})
	for _, id := range ids {
		select {
		case o.ticks[id] <- struct{}{}:
		default: // previous tick still in flight
		}
	}
}

// kick schedules an immediate tick for one game.
func (o *Orchestrator) kick(gameID uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	ch, ok := o.ticks[gameID]
	if !ok {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

// startServer builds the game session from the persisted map artifact
// and the on-chain player set, then binds the game's listener.
func (o *Orchestrator) startServer(ctx context.Context, g *Game) error {
	artifact, err := o.artifacts.LoadMap(g.ID)
	if err != nil {
		return fmt.Errorf("load map artifact: %w", err)
	}
	players, err := o.backend.Players(ctx, g.ID)
	if err != nil {
		return fmt.Errorf("load players: %w", err)
	}
	board := &dice.Map{Size: artifact.Size, Land: artifact.Land, Start: artifact.StartingPosition}
	sess := session.New(g.ID, board, artifact.Metadata.RandomHash, players, session.GameDuration)

	srv := server.New(server.Config{
		GameID:      g.ID,
		Contract:    o.cfg.Contract,
		StakeAmount: g.StakeAmount,
		Session:     sess,
		Issuer:      auth.NewTokenIssuer(o.cfg.JWTSecret, o.cfg.Contract),
		Phase:       func() string { return g.Phase().String() },
	})

	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.servers[g.ID]; ok {
		return nil // already running
	}
	if err := srv.Start(); err != nil {
		return err
	}
	sess.Start()
	o.servers[g.ID] = srv
	if t, ok := o.stopTimers[g.ID]; ok {
		t.Stop()
		delete(o.stopTimers, g.ID)
	}
	return nil
}

// stopServer schedules the game's listener to close after delay. The
// fire-time check pins the server instance so a game restarted in the
// meantime keeps its new listener.
func (o *Orchestrator) stopServer(gameID uint64, delay time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	srv, ok := o.servers[gameID]
	if !ok {
		return
	}
	if _, pending := o.stopTimers[gameID]; pending {
		return
	}
	o.stopTimers[gameID] = time.AfterFunc(delay, func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.stopTimers, gameID)
		if o.servers[gameID] != srv {
			return
		}
		srv.Session().Stop()
		srv.Close()
		delete(o.servers, gameID)
		o.log.Info("game server stopped", "game", gameID)
	})
}

func (o *Orchestrator) serverActive(gameID uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.servers[gameID]
	return ok
}

func (o *Orchestrator) snapshotPlayers(gameID uint64) ([]store.PlayerScore, bool, bool) {
	o.mu.Lock()
	srv, ok := o.servers[gameID]
	o.mu.Unlock()
	if !ok {
		return nil, false, false
	}
	sess := srv.Session()
	return sess.Snapshot(), sess.AllPlayersFinished(), true
}

// gameComplete drops a finished game from the registry and retires its
// tick goroutine.
func (o *Orchestrator) gameComplete(g *Game) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.games[g.ID]; !ok {
		return
	}
	delete(o.games, g.ID)
	if ch, ok := o.ticks[g.ID]; ok {
		close(ch)
		delete(o.ticks, g.ID)
	}
	o.completed++
	o.log.Info("game complete", "game", g.ID, "phase", g.Phase(), "totalCompleted", o.completed)
}

// shutdown flushes live sessions to disk and closes every listener.
// Scores persisted here let a restarted daemon resume a finished game
// at the payout step instead of losing the results.
func (o *Orchestrator) shutdown() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for id, t := range o.stopTimers {
		t.Stop()
		delete(o.stopTimers, id)
	}
	for id, srv := range o.servers {
		sess := srv.Session()
		if !o.artifacts.HasScores(id) {
			if err := o.artifacts.SaveScores(id, sess.Snapshot()); err != nil {
				o.log.Error("score flush failed", "game", id, "err", err)
			} else {
				o.log.Info("scores flushed on shutdown", "game", id)
			}
		}
		sess.Stop()
		srv.Close()
		delete(o.servers, id)
	}
	for id, ch := range o.ticks {
		close(ch)
		delete(o.ticks, id)
	}
	o.log.Info("orchestrator stopped", "completed", o.completed)
}
