package dice

import (
	"encoding/json"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func mustGenerate(t *testing.T, seed common.Hash, size int) *Map {
	t.Helper()
	m, err := GenerateMap(seed, size)
	if err != nil {
		t.Fatalf("GenerateMap: %v", err)
	}
	return m
}

func TestGenerateMapShape(t *testing.T) {
	m := mustGenerate(t, seedFromByte(0x55), 9)
	if m.Size != 9 || len(m.Land) != 9 {
		t.Fatalf("bad dimensions: size=%d rows=%d", m.Size, len(m.Land))
	}
	starts := 0
	for y, row := range m.Land {
		if len(row) != 9 {
			t.Fatalf("row %d has %d cells", y, len(row))
		}
		for x, tile := range row {
			switch tile {
			case TileCommon, TileUncommon, TileRare:
			case TileStart:
				starts++
				if x != m.Start.X || y != m.Start.Y {
					t.Fatalf("start marker at (%d,%d), recorded (%d,%d)", x, y, m.Start.X, m.Start.Y)
				}
			default:
				t.Fatalf("unexpected tile %d at (%d,%d)", tile, x, y)
			}
		}
	}
	if starts != 1 {
		t.Fatalf("expected exactly one starting cell, got %d", starts)
	}
	if o := m.Start.OriginalLandType; o < int(TileCommon) || o > int(TileRare) {
		t.Fatalf("original land type %d out of range", o)
	}
}

func TestGenerateMapDeterministic(t *testing.T) {
	a := mustGenerate(t, seedFromByte(0x99), 13)
	b := mustGenerate(t, seedFromByte(0x99), 13)
	if a.Start != b.Start {
		t.Fatalf("starting positions differ: %+v vs %+v", a.Start, b.Start)
	}
	for y := range a.Land {
		for x := range a.Land[y] {
			if a.Land[y][x] != b.Land[y][x] {
				t.Fatalf("tile (%d,%d) differs: %d vs %d", x, y, a.Land[y][x], b.Land[y][x])
			}
		}
	}
	c := mustGenerate(t, seedFromByte(0x9a), 13)
	same := c.Start == a.Start
	for y := range a.Land {
		for x := range a.Land[y] {
			same = same && a.Land[y][x] == c.Land[y][x]
		}
	}
	if same {
		t.Fatal("different seeds produced identical maps")
	}
}

func TestGenerateMapSizeOne(t *testing.T) {
	m := mustGenerate(t, seedFromByte(0x01), 1)
	if m.Land[0][0] != TileStart {
		t.Fatalf("1x1 map must be the starting cell, got %d", m.Land[0][0])
	}
}

func TestGenerateMapInvalidSize(t *testing.T) {
	if _, err := GenerateMap(seedFromByte(0x01), 0); err == nil {
		t.Fatal("expected error for size 0")
	}
}

func TestRollTileMapping(t *testing.T) {
	// Exercise the nibble->tile mapping across many rolls; all three
	// land types must appear and nothing outside them.
	d := New(seedFromByte(0xc3))
	seen := map[Tile]int{}
	for i := 0; i < 4096; i++ {
		seen[rollTile(d)]++
	}
	for _, tile := range []Tile{TileCommon, TileUncommon, TileRare} {
		if seen[tile] == 0 {
			t.Fatalf("tile %d never rolled in 4096 tries", tile)
		}
	}
	if len(seen) != 3 {
		t.Fatalf("unexpected tile values rolled: %v", seen)
	}
	// 11/16 of nibbles are common; it must dominate.
	if seen[TileCommon] <= seen[TileUncommon] || seen[TileUncommon] <= seen[TileRare] {
		t.Fatalf("implausible distribution: %v", seen)
	}
}

func TestTileJSONRoundTrip(t *testing.T) {
	in := []Tile{TileDepleted, TileCommon, TileUncommon, TileRare, TileStart}
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `[0,1,2,3,"X"]` {
		t.Fatalf("unexpected encoding: %s", b)
	}
	var out []Tile
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for i := range in {
		if in[i] != out[i] {
			t.Fatalf("round trip changed tile %d: %d -> %d", i, in[i], out[i])
		}
	}
}

func TestTilePoints(t *testing.T) {
	cases := map[Tile]int{
		TileDepleted: 0,
		TileCommon:   1,
		TileUncommon: 5,
		TileRare:     10,
		TileStart:    25,
	}
	for tile, want := range cases {
		if got := tile.Points(); got != want {
			t.Fatalf("points(%d) = %d, want %d", tile, got, want)
		}
	}
}

func TestMapSizeFor(t *testing.T) {
	for players, want := range map[int]int{0: 1, 1: 5, 2: 9, 3: 13, 10: 41} {
		if got := MapSizeFor(players); got != want {
			t.Fatalf("MapSizeFor(%d) = %d, want %d", players, got, want)
		}
	}
}
