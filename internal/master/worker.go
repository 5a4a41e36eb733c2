package master

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"

	"github.com/austintgriffith/verifiable-game-backend/internal/chain"
	"github.com/austintgriffith/verifiable-game-backend/internal/dice"
	"github.com/austintgriffith/verifiable-game-backend/internal/store"
)

const (
	// maxBlockAge is the oldest commit block, in blocks behind head,
	// for which a game may still start. The chain retains 256 block
	// hashes; 240 leaves margin for the transactions still to land.
	maxBlockAge = 240

	maxPayoutAttempts = 10
	maxRevealAttempts = 2

	// storeBlockHashDelay absorbs normal chain latency between the
	// commit landing and the block hash becoming readable.
	storeBlockHashDelay = 15 * time.Second
	blockNotReadyDelay  = 5 * time.Second
	revealRetryDelay    = 10 * time.Second

	// serverShutdownDelay lets in-flight clients finish after a game
	// completes.
	serverShutdownDelay = 15 * time.Second
)

// Callbacks are the narrow handles the state machine gets to the
// session/server layer; the orchestrator owns the registries behind
// them.
type Callbacks struct {
	// StartServer generates nothing: the map artifact already exists.
	// It loads players, builds the session, and binds the listener.
	StartServer func(ctx context.Context, g *Game) error
	// StopServer schedules the game's listener to close after delay.
	// At fire time it must re-check that the listener still belongs to
	// this game.
	StopServer func(gameID uint64, delay time.Duration)
	// ServerActive reports whether this daemon currently runs the
	// game's listener.
	ServerActive func(gameID uint64) bool
	// SnapshotPlayers returns the live score lines and whether every
	// player is finished. ok is false when no session is running.
	SnapshotPlayers func(gameID uint64) (players []store.PlayerScore, finished bool, ok bool)
	// GameComplete removes the game from the registry.
	GameComplete func(g *Game)
}

// Worker drives one game per Tick through the phase machine. A single
// Worker instance serves all games; per-game serialisation is the
// orchestrator's job.
type Worker struct {
	backend   chain.Backend
	artifacts *store.Store
	cb        Callbacks
	serverURL func(gameID uint64) string
	log       log.Logger

	// Overridable in tests.
	payoutBackoff func(int) time.Duration
	fundsBackoff  func(int) time.Duration
	revealDelay   time.Duration
	storeDelay    time.Duration
	shutdownDelay time.Duration
}

// NewWorker wires the state machine.
func NewWorker(backend chain.Backend, artifacts *store.Store, cb Callbacks, serverURL func(uint64) string) *Worker {
	return &Worker{
		backend:       backend,
		artifacts:     artifacts,
		cb:            cb,
		serverURL:     serverURL,
		log:           log.New("component", "master"),
		payoutBackoff: payoutBackoff,
		fundsBackoff:  fundsBackoff,
		revealDelay:   revealRetryDelay,
		storeDelay:    storeBlockHashDelay,
		shutdownDelay: serverShutdownDelay,
	}
}

// Tick re-reads chain truth, derives the phase, and runs that phase's
// action once. Errors never propagate: they are logged and retried on
// a later tick.
func (w *Worker) Tick(ctx context.Context, g *Game) {
	logger := w.log.New("game", g.ID)

	if g.Expired {
		w.finalize(g, logger)
		return
	}

	info, err := w.backend.GameInfo(ctx, g.ID)
	if err != nil {
		logger.Warn("game info read failed", "err", err)
		return
	}
	crs, err := w.backend.CommitRevealState(ctx, g.ID)
	if err != nil {
		logger.Warn("commit-reveal state read failed", "err", err)
		return
	}
	g.PlayerCount = info.PlayerCount
	g.HasOpened = info.HasOpened
	g.HasClosed = info.HasClosed
	g.HasCommitted = crs.HasCommitted
	g.HasStoredBlockHash = crs.HasStoredBlockHash
	g.HasRevealed = crs.HasRevealed
	g.MapSize = crs.MapSize
	g.LastUpdated = time.Now()

	payoutInfo, err := w.backend.PayoutInfo(ctx, g.ID)
	if err != nil {
		logger.Warn("payout info read failed", "err", err)
		return
	}
	g.HasPaidOut = payoutInfo.HasPaidOut

	players, finished, haveSession := w.cb.SnapshotPlayers(g.ID)
	scoresExist := w.artifacts.HasScores(g.ID)
	obs := Observation{
		HasCommitted:       crs.HasCommitted,
		HasStoredBlockHash: crs.HasStoredBlockHash,
		HasClosed:          info.HasClosed,
		HasRevealed:        crs.HasRevealed,
		HasPaidOut:         payoutInfo.HasPaidOut,
		ScoresExist:        scoresExist,
		AllPlayersFinished: finished || (!haveSession && scoresExist),
		ServerActive:       w.cb.ServerActive(g.ID),
		PayoutSkipped:      g.PayoutSkipped,
		RevealSkipped:      g.RevealSkipped,
	}
	phase := DerivePhase(obs)
	if phase != g.Phase() {
		logger.Info("phase transition", "from", g.Phase(), "to", phase)
	}
	g.setPhase(phase)

	switch phase {
	case PhaseCreated:
		w.actCommit(ctx, g, logger)
	case PhaseCommitted:
		w.actStoreBlockHash(ctx, g, crs, logger)
	case PhaseClosed:
		w.actStartGame(ctx, g, crs, logger)
	case PhaseRunning:
		w.actWatchGame(g, players, finished, haveSession, logger)
	case PhaseFinished:
		w.actPayout(ctx, g, logger)
	case PhasePayoutComplete:
		w.actReveal(ctx, g, logger)
	case PhaseComplete:
		w.finalize(g, logger)
	}
}

// actCommit is the CREATED action: make sure a reveal secret exists on
// disk, then commit its hash. Re-entry is idempotent: an existing
// secret is reused, and a game that already committed never reaches
// this phase.
func (w *Worker) actCommit(ctx context.Context, g *Game, logger log.Logger) {
	var reveal [32]byte
	if w.artifacts.HasReveal(g.ID) {
		loaded, err := w.artifacts.LoadReveal(g.ID)
		if err != nil {
			logger.Error("persisted reveal unreadable", "err", err)
			g.markExpired("reveal artifact unreadable")
			return
		}
		reveal = loaded
	} else {
		if _, err := rand.Read(reveal[:]); err != nil {
			logger.Error("entropy source failed", "err", err)
			return
		}
		if err := w.artifacts.SaveReveal(g.ID, reveal); err != nil {
			logger.Error("reveal persist failed", "err", err)
			return
		}
	}

	commit := crypto.Keccak256Hash(reveal[:])
	if _, err := w.backend.CommitHash(ctx, g.ID, commit); err != nil {
		logger.Warn("commit failed", "err", err)
		return
	}
	g.nextStoreAt = time.Now().Add(w.storeDelay)
	logger.Info("hash committed", "commit", commit)
}

// actStoreBlockHash is the COMMITTED action: once the commit block has
// landed, record its hash reference together with the server URL. When
// the reference is already stored this phase just waits for closure.
func (w *Worker) actStoreBlockHash(ctx context.Context, g *Game, crs chain.CommitRevealState, logger log.Logger) {
	if crs.HasStoredBlockHash {
		return // waiting for the creator to close the game
	}
	if time.Now().Before(g.nextStoreAt) {
		return
	}
	current, err := w.backend.BlockNumber(ctx)
	if err != nil {
		logger.Warn("block number read failed", "err", err)
		return
	}
	if current < crs.CommitBlockNumber {
		g.nextStoreAt = time.Now().Add(blockNotReadyDelay)
		return
	}
	url := w.serverURL(g.ID)
	_, err = w.backend.StoreCommitBlockHash(ctx, g.ID, url)
	switch {
	case err == nil:
		logger.Info("commit block hash stored", "serverURL", url)
	case errors.Is(err, chain.ErrBlockNotReady):
		g.nextStoreAt = time.Now().Add(blockNotReadyDelay)
	case errors.Is(err, chain.ErrBlockHashUnavailable):
		logger.Error("commit block hash lost before storing", "err", err)
		g.markExpired("block hash unavailable at store step")
	default:
		logger.Warn("store block hash failed", "err", err)
	}
}

// actStartGame is the CLOSED action: freshness checks, map generation,
// then the listener.
func (w *Worker) actStartGame(ctx context.Context, g *Game, crs chain.CommitRevealState, logger log.Logger) {
	current, err := w.backend.BlockNumber(ctx)
	if err != nil {
		logger.Warn("block number read failed", "err", err)
		return
	}
	if w.isGameTooOldToStart(current, crs.CommitBlockNumber) {
		logger.Error("game too old to start", "commitBlock", crs.CommitBlockNumber, "head", current)
		g.markExpired(fmt.Sprintf("commit block %d is %d blocks old", crs.CommitBlockNumber, current-crs.CommitBlockNumber))
		return
	}
	if !w.backend.IsBlockHashAvailable(ctx, g.ID) {
		logger.Error("commit block hash no longer available")
		g.markExpired("block hash unavailable")
		return
	}

	commitBlockHash, err := w.backend.CommitBlockHash(ctx, g.ID)
	if err != nil {
		logger.Warn("commit block hash read failed", "err", err)
		return
	}
	reveal, err := w.artifacts.LoadReveal(g.ID)
	if err != nil {
		logger.Error("reveal artifact missing at game start", "err", err)
		g.markExpired("reveal artifact missing")
		return
	}
	if crs.MapSize == 0 {
		logger.Warn("game closed but map size not recorded yet")
		return
	}

	randomHash := dice.RandomHash(commitBlockHash, reveal)
	m, err := dice.GenerateMap(randomHash, int(crs.MapSize))
	if err != nil {
		logger.Error("map generation failed", "err", err)
		g.markExpired("map generation failed")
		return
	}
	if err := w.artifacts.SaveMap(g.ID, m, reveal, randomHash); err != nil {
		logger.Error("map persist failed", "err", err)
		return
	}
	if err := w.cb.StartServer(ctx, g); err != nil {
		logger.Error("game server start failed", "err", err)
		return
	}
	logger.Info("game started", "mapSize", crs.MapSize, "randomHash", randomHash)
}

// actWatchGame is the GAME_RUNNING action: watch the live session for
// the end-of-game condition and persist the final scores when it
// holds.
func (w *Worker) actWatchGame(g *Game, players []store.PlayerScore, finished, haveSession bool, logger log.Logger) {
	if !haveSession || !finished {
		return
	}
	if w.artifacts.HasScores(g.ID) {
		return
	}
	if err := w.artifacts.SaveScores(g.ID, players); err != nil {
		logger.Error("score persist failed", "err", err)
		return
	}
	logger.Info("game finished, scores persisted", "players", len(players))
}

// actPayout is the GAME_FINISHED action: pay the argmax-score player
// set, with exponential backoff and a skip door after exhaustion.
func (w *Worker) actPayout(ctx context.Context, g *Game, logger log.Logger) {
	if time.Now().Before(g.nextPayoutAt) {
		return
	}
	sheet, err := w.artifacts.LoadScores(g.ID)
	if err != nil {
		logger.Error("scores artifact unreadable at payout", "err", err)
		g.markExpired("scores artifact unreadable")
		return
	}
	winners := Winners(sheet.Players)

	_, err = w.backend.Payout(ctx, g.ID, winners)
	if err == nil {
		logger.Info("payout submitted", "winners", len(winners))
		return
	}

	g.payoutAttempts++
	if errors.Is(err, chain.ErrInsufficientFunds) {
		delay := w.fundsBackoff(g.payoutAttempts)
		logger.Error("payout lacks gas funds", "attempt", g.payoutAttempts, "retryIn", delay, "err", err)
		g.nextPayoutAt = time.Now().Add(delay)
	} else {
		delay := w.payoutBackoff(g.payoutAttempts)
		logger.Warn("payout failed", "attempt", g.payoutAttempts, "retryIn", delay, "err", err)
		g.nextPayoutAt = time.Now().Add(delay)
	}
	if g.payoutAttempts >= maxPayoutAttempts {
		logger.Error("payout retries exhausted, skipping", "attempts", g.payoutAttempts)
		g.PayoutSkipped = true
	}
}

// actReveal is the PAYOUT_COMPLETE action: publish the secret. One
// retry after 10s; a second failure skips the reveal.
func (w *Worker) actReveal(ctx context.Context, g *Game, logger log.Logger) {
	if time.Now().Before(g.nextRevealAt) {
		return
	}
	reveal, err := w.artifacts.LoadReveal(g.ID)
	if err != nil {
		logger.Error("reveal artifact missing at reveal", "err", err)
		g.RevealSkipped = true
		return
	}
	if _, err := w.backend.RevealHash(ctx, g.ID, reveal); err != nil {
		g.revealAttempts++
		if g.revealAttempts >= maxRevealAttempts {
			logger.Error("reveal retries exhausted, skipping", "err", err)
			g.RevealSkipped = true
			return
		}
		logger.Warn("reveal failed, retrying", "retryIn", w.revealDelay, "err", err)
		g.nextRevealAt = time.Now().Add(w.revealDelay)
		return
	}
	logger.Info("reveal submitted")
	w.cb.StopServer(g.ID, w.shutdownDelay)
}

// finalize is the COMPLETE action: delayed listener teardown and
// registry removal.
func (w *Worker) finalize(g *Game, logger log.Logger) {
	g.setPhase(PhaseComplete)
	if w.cb.ServerActive(g.ID) {
		w.cb.StopServer(g.ID, w.shutdownDelay)
	}
	if g.Expired {
		logger.Warn("game expired", "reason", g.ExpiredReason)
	}
	w.cb.GameComplete(g)
}

// isGameTooOldToStart enforces the freshness invariant: block hashes
// are retained for 256 blocks and anything at 240 or beyond is treated
// as irrecoverable.
func (w *Worker) isGameTooOldToStart(head, commitBlock uint64) bool {
	if head < commitBlock {
		return false
	}
	return head-commitBlock >= maxBlockAge
}

// Winners returns every player sharing the maximum score. An empty
// score sheet yields an empty winner set.
func Winners(players []store.PlayerScore) []common.Address {
	best := -1
	for _, p := range players {
		if p.Score > best {
			best = p.Score
		}
	}
	var winners []common.Address
	for _, p := range players {
		if p.Score == best {
			winners = append(winners, p.Address)
		}
	}
	if winners == nil {
		winners = []common.Address{}
	}
	return winners
}
