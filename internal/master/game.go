package master

import (
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Game is one registry entry. It is mutated only by the game's worker
// goroutine; the phase accessor is locked because HTTP status handlers
// read it concurrently.
type Game struct {
	ID          uint64
	Gamemaster  common.Address
	Creator     common.Address
	StakeAmount *big.Int

	PlayerCount uint64
	MapSize     uint64

	HasOpened          bool
	HasClosed          bool
	HasCommitted       bool
	HasStoredBlockHash bool
	HasRevealed        bool
	HasPaidOut         bool

	LastUpdated time.Time

	PayoutSkipped bool
	RevealSkipped bool
	Expired       bool
	ExpiredReason string

	mu    sync.Mutex
	phase Phase

	// Retry bookkeeping. Zero next-attempt times mean "now".
	payoutAttempts int
	nextPayoutAt   time.Time
	revealAttempts int
	nextRevealAt   time.Time
	nextStoreAt    time.Time
}

// NewGame builds a registry entry from a GameCreated record.
func NewGame(id uint64, gamemaster, creator common.Address, stake *big.Int) *Game {
	return &Game{
		ID:          id,
		Gamemaster:  gamemaster,
		Creator:     creator,
		StakeAmount: stake,
		LastUpdated: time.Now(),
	}
}

// Phase returns the last derived phase.
func (g *Game) Phase() Phase {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.phase
}

func (g *Game) setPhase(p Phase) {
	g.mu.Lock()
	g.phase = p
	g.mu.Unlock()
}

// markExpired records the terminal expiry branch.
func (g *Game) markExpired(reason string) {
	g.Expired = true
	g.ExpiredReason = reason
	g.setPhase(PhaseComplete)
}
