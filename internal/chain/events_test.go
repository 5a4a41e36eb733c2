package chain

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

func parsedABI(t *testing.T) abi.ABI {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(contractABI))
	if err != nil {
		t.Fatalf("parse abi: %v", err)
	}
	return parsed
}

func topicU64(v uint64) common.Hash {
	return common.BigToHash(new(big.Int).SetUint64(v))
}

func TestDecodeGameCreated(t *testing.T) {
	parsed := parsedABI(t)
	gm := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	creator := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	stake := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

	data, err := parsed.Events[EventGameCreated].Inputs.NonIndexed().Pack(stake)
	if err != nil {
		t.Fatalf("pack data: %v", err)
	}
	lg := types.Log{
		Topics: []common.Hash{
			parsed.Events[EventGameCreated].ID,
			topicU64(7),
			common.BytesToHash(gm.Bytes()),
			common.BytesToHash(creator.Bytes()),
		},
		Data:        data,
		BlockNumber: 1234,
	}
	ev, err := decodeEvent(parsed, lg)
	if err != nil {
		t.Fatalf("decodeEvent: %v", err)
	}
	if ev.Name != EventGameCreated || ev.GameID != 7 {
		t.Fatalf("wrong identity: %+v", ev)
	}
	if ev.Gamemaster != gm || ev.Creator != creator {
		t.Fatalf("wrong addresses: %+v", ev)
	}
	if ev.StakeAmount.Cmp(stake) != 0 {
		t.Fatalf("stake = %v, want %v", ev.StakeAmount, stake)
	}
	if ev.BlockNumber != 1234 {
		t.Fatalf("block = %d", ev.BlockNumber)
	}
}

func TestDecodeGameClosed(t *testing.T) {
	parsed := parsedABI(t)
	data, err := parsed.Events[EventGameClosed].Inputs.NonIndexed().Pack(big.NewInt(2), big.NewInt(9))
	if err != nil {
		t.Fatalf("pack data: %v", err)
	}
	lg := types.Log{
		Topics: []common.Hash{parsed.Events[EventGameClosed].ID, topicU64(3)},
		Data:   data,
	}
	ev, err := decodeEvent(parsed, lg)
	if err != nil {
		t.Fatalf("decodeEvent: %v", err)
	}
	if ev.Name != EventGameClosed || ev.GameID != 3 || ev.PlayerCount != 2 || ev.MapSize != 9 {
		t.Fatalf("wrong event: %+v", ev)
	}
}

func TestDecodeGameOpened(t *testing.T) {
	parsed := parsedABI(t)
	lg := types.Log{Topics: []common.Hash{parsed.Events[EventGameOpened].ID, topicU64(5)}}
	ev, err := decodeEvent(parsed, lg)
	if err != nil {
		t.Fatalf("decodeEvent: %v", err)
	}
	if ev.Name != EventGameOpened || ev.GameID != 5 {
		t.Fatalf("wrong event: %+v", ev)
	}
}

func TestDecodeUnknownEvent(t *testing.T) {
	parsed := parsedABI(t)
	lg := types.Log{Topics: []common.Hash{common.HexToHash("0x1234"), topicU64(1)}}
	if _, err := decodeEvent(parsed, lg); err == nil {
		t.Fatal("expected error for unknown topic")
	}
	if _, err := decodeEvent(parsed, types.Log{}); err == nil {
		t.Fatal("expected error for missing topics")
	}
}
