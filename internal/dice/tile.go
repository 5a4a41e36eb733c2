package dice

import (
	"encoding/json"
	"fmt"
)

// Tile is one cell of the game board. Values 0..3 are land types; Start
// marks the single starting-position cell placed at generation time.
type Tile int

const (
	TileDepleted Tile = 0
	TileCommon   Tile = 1
	TileUncommon Tile = 2
	TileRare     Tile = 3
	TileStart    Tile = 4
)

// Points returns the score awarded for mining the tile.
func (t Tile) Points() int {
	switch t {
	case TileCommon:
		return 1
	case TileUncommon:
		return 5
	case TileRare:
		return 10
	case TileStart:
		return 25
	default:
		return 0
	}
}

// The map artifact encodes the starting cell as "X"; everything else is
// a plain integer.
func (t Tile) MarshalJSON() ([]byte, error) {
	if t == TileStart {
		return json.Marshal("X")
	}
	return json.Marshal(int(t))
}

func (t *Tile) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		if s != "X" {
			return fmt.Errorf("invalid tile %q", s)
		}
		*t = TileStart
		return nil
	}
	var v int
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("invalid tile: %w", err)
	}
	if v < 0 || v > int(TileStart) {
		return fmt.Errorf("invalid tile value %d", v)
	}
	*t = Tile(v)
	return nil
}
