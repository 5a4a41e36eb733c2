package dice

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// StartingPosition records where the starting marker landed and which
// land type it replaced.
type StartingPosition struct {
	X                int `json:"x"`
	Y                int `json:"y"`
	OriginalLandType int `json:"originalLandType"`
}

// Map is a size x size grid of tiles, indexed Land[y][x].
type Map struct {
	Size  int              `json:"size"`
	Land  [][]Tile         `json:"land"`
	Start StartingPosition `json:"startingPosition"`
}

// GenerateMap builds the board for a game from its random hash. One
// nibble is rolled per cell in row-major order, then two nibbles each
// for the starting marker's x and y. The same seed always yields the
// same board.
func GenerateMap(randomHash common.Hash, size int) (*Map, error) {
	if size < 1 {
		return nil, fmt.Errorf("invalid map size %d", size)
	}
	d := New(randomHash)

	land := make([][]Tile, size)
	for y := 0; y < size; y++ {
		land[y] = make([]Tile, size)
		for x := 0; x < size; x++ {
			land[y][x] = rollTile(d)
		}
	}

	sx := d.Roll(2) % size
	sy := d.Roll(2) % size
	start := StartingPosition{X: sx, Y: sy, OriginalLandType: int(land[sy][sx])}
	land[sy][sx] = TileStart

	return &Map{Size: size, Land: land, Start: start}, nil
}

// rollTile maps one nibble onto a land type: 0-10 common, 11-14
// uncommon, 15 rare.
func rollTile(d *Dice) Tile {
	switch v := d.Roll(1); {
	case v <= 10:
		return TileCommon
	case v <= 14:
		return TileUncommon
	default:
		return TileRare
	}
}

// MapSizeFor returns the board edge length fixed at game closure.
func MapSizeFor(playerCount int) int {
	return 1 + 4*playerCount
}
