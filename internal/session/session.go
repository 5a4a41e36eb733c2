// Package session holds the live, in-memory state of one running game:
// the board, the players, their budgets, and the wall-clock timer. All
// mutation goes through one lock so concurrent HTTP handlers cannot
// double-spend moves or mines.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/austintgriffith/verifiable-game-backend/internal/dice"
	"github.com/austintgriffith/verifiable-game-backend/internal/store"
)

const (
	MaxMoves = 12
	MaxMines = 3

	// GameDuration is the wall-clock budget armed at server start.
	GameDuration = 90 * time.Second
)

// Game-rule errors. HTTP handlers surface these verbatim with status
// 400 (404 for ErrUnknownPlayer).
var (
	ErrInvalidDirection = errors.New("Invalid direction")
	ErrNoMovesRemaining = errors.New("No moves remaining")
	ErrNoMinesRemaining = errors.New("No mines remaining")
	ErrTileDepleted     = errors.New("Tile already depleted")
	ErrTimerExpired     = errors.New("Time expired! Game over.")
	ErrUnknownPlayer    = errors.New("Player not found")
)

// warnThresholds are the remaining-time marks that get one log line
// each as the timer runs down.
var warnThresholds = []time.Duration{60 * time.Second, 30 * time.Second, 10 * time.Second, 5 * time.Second}

var directions = map[string][2]int{
	"north":     {0, -1},
	"south":     {0, 1},
	"east":      {1, 0},
	"west":      {-1, 0},
	"northeast": {1, -1},
	"northwest": {-1, -1},
	"southeast": {1, 1},
	"southwest": {-1, 1},
}

type player struct {
	x, y  int
	score int
	moves int
	mines int
}

// Session is the runtime for one game. Create with New, arm the timer
// with Start, tear down with Stop.
type Session struct {
	gameID   uint64
	size     int
	duration time.Duration
	log      log.Logger

	mu       sync.Mutex
	land     [][]dice.Tile
	players  map[common.Address]*player
	order    []common.Address
	started  time.Time
	deadline time.Time
	expired  bool

	stopOnce sync.Once
	stopCh   chan struct{}

	// warnMarks defaults to warnThresholds; tests shrink them. warnFired
	// observes each threshold emission.
	warnMarks []time.Duration
	warnFired func(remaining time.Duration)
}

// New builds a session from a generated board. Each player gets a
// deterministic starting cell derived from the game randomness and a
// full move/mine budget.
func New(gameID uint64, m *dice.Map, randomHash common.Hash, players []common.Address, duration time.Duration) *Session {
	land := make([][]dice.Tile, m.Size)
	for y := range m.Land {
		land[y] = append([]dice.Tile(nil), m.Land[y]...)
	}
	s := &Session{
		gameID:   gameID,
		size:     m.Size,
		duration: duration,
		log:      log.New("game", gameID),
		land:     land,
		players:  make(map[common.Address]*player, len(players)),
		stopCh:   make(chan struct{}),

		warnMarks: warnThresholds,
	}
	for _, addr := range players {
		x, y := dice.StartingCell(randomHash, addr, gameID, m.Size)
		s.players[addr] = &player{x: x, y: y, moves: MaxMoves, mines: MaxMines}
		s.order = append(s.order, addr)
	}
	return s
}

// Start arms the wall-clock timer and the threshold warnings.
func (s *Session) Start() {
	s.mu.Lock()
	s.started = time.Now()
	s.deadline = s.started.Add(s.duration)
	s.mu.Unlock()
	go s.runTimer()
	s.log.Info("game session started", "players", len(s.players), "mapSize", s.size, "duration", s.duration)
}

// Stop cancels the timer. Safe to call more than once.
func (s *Session) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *Session) runTimer() {
	for _, mark := range s.warnMarks {
		if s.duration <= mark {
			continue
		}
		select {
		case <-time.After(time.Until(s.deadline.Add(-mark))):
			s.log.Warn("game ending soon", "remaining", mark)
			if s.warnFired != nil {
				s.warnFired(mark)
			}
		case <-s.stopCh:
			return
		}
	}
	select {
	case <-time.After(time.Until(s.deadline)):
		s.expire()
	case <-s.stopCh:
	}
}

// expire zeroes every budget; later moves and mines fail with
// ErrTimerExpired.
func (s *Session) expire() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expired {
		return
	}
	s.expired = true
	for _, p := range s.players {
		p.moves = 0
		p.mines = 0
	}
	s.log.Info("game timer expired, all budgets zeroed")
}

// timerUp must be called with the lock held.
func (s *Session) timerUp() bool {
	if s.expired {
		return true
	}
	return !s.started.IsZero() && time.Now().After(s.deadline)
}

// GameID returns the session's game id.
func (s *Session) GameID() uint64 { return s.gameID }

// StartedAt returns when the timer was armed (zero before Start).
func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// TimeRemaining reports the wall clock left, never negative. Before
// Start it reports the full duration.
func (s *Session) TimeRemaining() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started.IsZero() {
		return s.duration
	}
	if s.expired {
		return 0
	}
	left := time.Until(s.deadline)
	if left < 0 {
		return 0
	}
	return left
}

// PlayerCount returns the number of registered players.
func (s *Session) PlayerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.players)
}

// HasPlayer reports membership in this game.
func (s *Session) HasPlayer(addr common.Address) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.players[addr]
	return ok
}

// AllPlayersFinished reports the end-of-game condition: every player is
// out of mines, or out of moves while standing on a depleted tile.
// Holds vacuously for a zero-player game.
func (s *Session) AllPlayersFinished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.players {
		if p.mines > 0 && !(p.moves == 0 && s.land[p.y][p.x] == dice.TileDepleted) {
			return false
		}
	}
	return true
}

// Snapshot returns every player's final line for the scores artifact.
func (s *Session) Snapshot() []store.PlayerScore {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.PlayerScore, 0, len(s.order))
	for _, addr := range s.order {
		p := s.players[addr]
		out = append(out, store.PlayerScore{
			Address:        addr,
			Position:       store.Position{X: p.x, Y: p.y},
			Tile:           s.land[p.y][p.x],
			Score:          p.score,
			MovesRemaining: p.moves,
			MinesRemaining: p.mines,
		})
	}
	return out
}
