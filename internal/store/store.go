// Package store persists the three per-game artifacts that survive a
// daemon restart: the reveal secret, the generated map, and the final
// scores. Everything else lives in memory.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/austintgriffith/verifiable-game-backend/internal/dice"
)

// Store is a flat key-value layer over one directory; keys are
// reveal_<id>, map_<id> and scores_<id>.
type Store struct {
	dir string
}

// New opens (creating if needed) the artifact directory.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir artifact dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(kind string, gameID uint64) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_%d", kind, gameID))
}

// SaveReveal writes the 32-byte reveal secret as a 0x-prefixed hex
// string.
func (s *Store) SaveReveal(gameID uint64, reveal [32]byte) error {
	if err := os.WriteFile(s.path("reveal", gameID), []byte(hexutil.Encode(reveal[:])), 0o600); err != nil {
		return fmt.Errorf("write reveal %d: %w", gameID, err)
	}
	return nil
}

// LoadReveal reads a previously persisted reveal secret.
func (s *Store) LoadReveal(gameID uint64) ([32]byte, error) {
	var reveal [32]byte
	b, err := os.ReadFile(s.path("reveal", gameID))
	if err != nil {
		return reveal, fmt.Errorf("read reveal %d: %w", gameID, err)
	}
	raw, err := hexutil.Decode(string(b))
	if err != nil {
		return reveal, fmt.Errorf("decode reveal %d: %w", gameID, err)
	}
	if len(raw) != 32 {
		return reveal, fmt.Errorf("reveal %d has %d bytes, want 32", gameID, len(raw))
	}
	copy(reveal[:], raw)
	return reveal, nil
}

// HasReveal reports whether a reveal secret exists on disk.
func (s *Store) HasReveal(gameID uint64) bool {
	_, err := os.Stat(s.path("reveal", gameID))
	return err == nil
}

// MapMetadata records how a persisted map was derived.
type MapMetadata struct {
	Generated   time.Time   `json:"generated"`
	GameID      uint64      `json:"gameId"`
	RevealValue string      `json:"revealValue"`
	RandomHash  common.Hash `json:"randomHash"`
}

// MapArtifact is the on-disk form of a generated board.
type MapArtifact struct {
	Size             int                   `json:"size"`
	Land             [][]dice.Tile         `json:"land"`
	StartingPosition dice.StartingPosition `json:"startingPosition"`
	Metadata         MapMetadata           `json:"metadata"`
}

// SaveMap persists a generated board together with its derivation
// metadata.
func (s *Store) SaveMap(gameID uint64, m *dice.Map, reveal [32]byte, randomHash common.Hash) error {
	artifact := MapArtifact{
		Size:             m.Size,
		Land:             m.Land,
		StartingPosition: m.Start,
		Metadata: MapMetadata{
			Generated:   time.Now().UTC(),
			GameID:      gameID,
			RevealValue: hexutil.Encode(reveal[:]),
			RandomHash:  randomHash,
		},
	}
	b, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return fmt.Errorf("encode map %d: %w", gameID, err)
	}
	if err := os.WriteFile(s.path("map", gameID), b, 0o644); err != nil {
		return fmt.Errorf("write map %d: %w", gameID, err)
	}
	return nil
}

// LoadMap reads a persisted board. A missing or malformed file is a
// hard error; the caller's state machine must stop on it.
func (s *Store) LoadMap(gameID uint64) (*MapArtifact, error) {
	b, err := os.ReadFile(s.path("map", gameID))
	if err != nil {
		return nil, fmt.Errorf("read map %d: %w", gameID, err)
	}
	var artifact MapArtifact
	if err := json.Unmarshal(b, &artifact); err != nil {
		return nil, fmt.Errorf("decode map %d: %w", gameID, err)
	}
	if artifact.Size < 1 || len(artifact.Land) != artifact.Size {
		return nil, fmt.Errorf("map %d is malformed: size %d, rows %d", gameID, artifact.Size, len(artifact.Land))
	}
	for y, row := range artifact.Land {
		if len(row) != artifact.Size {
			return nil, fmt.Errorf("map %d row %d has %d cells, want %d", gameID, y, len(row), artifact.Size)
		}
	}
	return &artifact, nil
}

// PlayerScore is one player's final line in the scores artifact.
type PlayerScore struct {
	Address        common.Address `json:"address"`
	Position       Position       `json:"position"`
	Tile           dice.Tile      `json:"tile"`
	Score          int            `json:"score"`
	MovesRemaining int            `json:"movesRemaining"`
	MinesRemaining int            `json:"minesRemaining"`
}

// Position is a board coordinate.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// ScoreSheet is the on-disk form of a finished game's results.
type ScoreSheet struct {
	GameID  uint64        `json:"gameId"`
	Players []PlayerScore `json:"players"`
	Count   int           `json:"count"`
	SavedAt time.Time     `json:"savedAt"`
}

// SaveScores persists the final scores for a game.
func (s *Store) SaveScores(gameID uint64, players []PlayerScore) error {
	sheet := ScoreSheet{
		GameID:  gameID,
		Players: players,
		Count:   len(players),
		SavedAt: time.Now().UTC(),
	}
	b, err := json.MarshalIndent(sheet, "", "  ")
	if err != nil {
		return fmt.Errorf("encode scores %d: %w", gameID, err)
	}
	if err := os.WriteFile(s.path("scores", gameID), b, 0o644); err != nil {
		return fmt.Errorf("write scores %d: %w", gameID, err)
	}
	return nil
}

// LoadScores reads a persisted score sheet.
func (s *Store) LoadScores(gameID uint64) (*ScoreSheet, error) {
	b, err := os.ReadFile(s.path("scores", gameID))
	if err != nil {
		return nil, fmt.Errorf("read scores %d: %w", gameID, err)
	}
	var sheet ScoreSheet
	if err := json.Unmarshal(b, &sheet); err != nil {
		return nil, fmt.Errorf("decode scores %d: %w", gameID, err)
	}
	if sheet.Players == nil {
		sheet.Players = []PlayerScore{}
	}
	return &sheet, nil
}

// HasScores reports whether final scores exist for a game; the state
// machine uses this to derive GAME_FINISHED.
func (s *Store) HasScores(gameID uint64) bool {
	_, err := os.Stat(s.path("scores", gameID))
	return err == nil
}
