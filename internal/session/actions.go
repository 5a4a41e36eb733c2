package session

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/austintgriffith/verifiable-game-backend/internal/dice"
	"github.com/austintgriffith/verifiable-game-backend/internal/store"
)

// ViewCell is one cell of the 3x3 window returned to a player.
type ViewCell struct {
	Tile        dice.Tile      `json:"tile"`
	Player      string         `json:"player,omitempty"`
	Coordinates store.Position `json:"coordinates"`
}

// PlayerState is the caller's own stats, included in every view.
type PlayerState struct {
	Position       store.Position `json:"position"`
	Tile           dice.Tile      `json:"tile"`
	Score          int            `json:"score"`
	MovesRemaining int            `json:"movesRemaining"`
	MinesRemaining int            `json:"minesRemaining"`
}

// View is the windowed board state around one player.
type View struct {
	Cells  [][]ViewCell `json:"cells"`
	Player PlayerState  `json:"player"`
}

// MoveResult reports a successful move.
type MoveResult struct {
	Direction string `json:"direction"`
	View
}

// MineResult reports a successful mine.
type MineResult struct {
	PointsEarned int `json:"pointsEarned"`
	View
}

// PlayerSummary is the sanitised per-player record for the public
// players listing: no positions, no current tile.
type PlayerSummary struct {
	Address        common.Address `json:"address"`
	Score          int            `json:"score"`
	MovesRemaining int            `json:"movesRemaining"`
	MinesRemaining int            `json:"minesRemaining"`
}

// ViewFor returns the 3x3 window centred on the player.
func (s *Session) ViewFor(addr common.Address) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[addr]
	if !ok {
		return View{}, ErrUnknownPlayer
	}
	return s.viewLocked(addr, p), nil
}

func (s *Session) viewLocked(addr common.Address, p *player) View {
	cells := make([][]ViewCell, 3)
	for dy := -1; dy <= 1; dy++ {
		row := make([]ViewCell, 3)
		for dx := -1; dx <= 1; dx++ {
			x := dice.Wrap(p.x+dx, s.size)
			y := dice.Wrap(p.y+dy, s.size)
			cell := ViewCell{
				Tile:        s.land[y][x],
				Coordinates: store.Position{X: x, Y: y},
			}
			for other, op := range s.players {
				if op.x == x && op.y == y {
					cell.Player = strings.ToLower(other.Hex())
					break
				}
			}
			row[dx+1] = cell
		}
		cells[dy+1] = row
	}
	return View{
		Cells: cells,
		Player: PlayerState{
			Position:       store.Position{X: p.x, Y: p.y},
			Tile:           s.land[p.y][p.x],
			Score:          p.score,
			MovesRemaining: p.moves,
			MinesRemaining: p.mines,
		},
	}
}

// Move shifts the player one cell in a compass direction, wrapping on
// the torus, and spends one move.
func (s *Session) Move(addr common.Address, direction string) (MoveResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[addr]
	if !ok {
		return MoveResult{}, ErrUnknownPlayer
	}
	if s.timerUp() {
		return MoveResult{}, ErrTimerExpired
	}
	dir := strings.ToLower(strings.TrimSpace(direction))
	delta, ok := directions[dir]
	if !ok {
		return MoveResult{}, ErrInvalidDirection
	}
	if p.moves <= 0 {
		return MoveResult{}, ErrNoMovesRemaining
	}
	p.x = dice.Wrap(p.x+delta[0], s.size)
	p.y = dice.Wrap(p.y+delta[1], s.size)
	p.moves--
	return MoveResult{Direction: dir, View: s.viewLocked(addr, p)}, nil
}

// Mine depletes the tile under the player, credits its points, and
// spends one mine.
func (s *Session) Mine(addr common.Address) (MineResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[addr]
	if !ok {
		return MineResult{}, ErrUnknownPlayer
	}
	if s.timerUp() {
		return MineResult{}, ErrTimerExpired
	}
	if p.mines <= 0 {
		return MineResult{}, ErrNoMinesRemaining
	}
	tile := s.land[p.y][p.x]
	if tile == dice.TileDepleted {
		return MineResult{}, ErrTileDepleted
	}
	points := tile.Points()
	p.score += points
	p.mines--
	s.land[p.y][p.x] = dice.TileDepleted
	return MineResult{PointsEarned: points, View: s.viewLocked(addr, p)}, nil
}

// Summaries returns the sanitised player list in registration order.
func (s *Session) Summaries() []PlayerSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PlayerSummary, 0, len(s.order))
	for _, addr := range s.order {
		p := s.players[addr]
		out = append(out, PlayerSummary{
			Address:        addr,
			Score:          p.score,
			MovesRemaining: p.moves,
			MinesRemaining: p.mines,
		})
	}
	return out
}
