// Package dice implements the deterministic randomness used for map
// generation and starting positions. Every roll is a function of the
// 32-byte seed alone, so anyone holding the commit block hash and the
// revealed secret can reproduce the full game board.
package dice

import (
	"crypto/sha256"
	"encoding/binary"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Dice draws hex nibbles from a 32-byte entropy buffer. When the buffer
// is exhausted it is replaced with sha256(previous buffer) and the
// cursor resets, so output is unbounded and restart-capable.
type Dice struct {
	buf    [32]byte
	cursor int // next nibble index, 0..63
}

// New returns a generator seeded with the given 32-byte hash.
func New(seed common.Hash) *Dice {
	return &Dice{buf: [32]byte(seed)}
}

// Roll consumes n hex nibbles and combines them as r = (r<<4) + nibble.
// A 1-nibble roll is uniform on [0,16); a 2-nibble roll on [0,256).
func (d *Dice) Roll(n int) int {
	r := 0
	for i := 0; i < n; i++ {
		r = (r << 4) + d.nibble()
	}
	return r
}

func (d *Dice) nibble() int {
	if d.cursor >= 2*len(d.buf) {
		d.buf = sha256.Sum256(d.buf[:])
		d.cursor = 0
	}
	b := d.buf[d.cursor/2]
	var v byte
	if d.cursor%2 == 0 {
		v = b >> 4
	} else {
		v = b & 0x0f
	}
	d.cursor++
	return int(v)
}

// RandomHash computes keccak256(commitBlockHash || reveal), the shared
// randomness the contract derives after reveal. It seeds everything in
// this package.
func RandomHash(commitBlockHash common.Hash, reveal [32]byte) common.Hash {
	return common.BytesToHash(crypto.Keccak256(commitBlockHash.Bytes(), reveal[:]))
}

// StartingCell derives a player's starting coordinates from the game
// randomness. The derivation is total: any address and any size >= 1
// yield a cell in [0,size)^2.
func StartingCell(randomHash common.Hash, player common.Address, gameID uint64, size int) (x, y int) {
	var id [8]byte
	binary.BigEndian.PutUint64(id[:], gameID)
	seed := crypto.Keccak256Hash(
		randomHash.Bytes(),
		[]byte(strings.ToLower(player.Hex())),
		id[:],
	)
	d := New(seed)
	x = d.Roll(2) % size
	y = d.Roll(2) % size
	return x, y
}

// Wrap normalises a coordinate onto the torus [0,size).
func Wrap(c, size int) int {
	return ((c % size) + size) % size
}
