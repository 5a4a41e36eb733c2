package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ScanGameCreated runs the bounded historical scan used at startup:
// every GameCreated with this daemon's key as gamemaster, from the
// given block to head.
func (c *Client) ScanGameCreated(ctx context.Context, fromBlock uint64) ([]GameEvent, error) {
	sig := c.abi.Events[EventGameCreated].ID
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		Addresses: []common.Address{c.address},
		Topics: [][]common.Hash{
			{sig},
			nil,
			{common.BytesToHash(c.self.Bytes())},
		},
	}
	logs, err := c.eth.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("scan GameCreated: %w", err)
	}
	events := make([]GameEvent, 0, len(logs))
	for _, lg := range logs {
		ev, err := decodeEvent(c.abi, lg)
		if err != nil {
			c.log.Warn("skipping undecodable log", "block", lg.BlockNumber, "err", err)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// WatchEvents subscribes to the contract's lifecycle events and
// delivers decoded records on sink until the context ends or the
// subscription fails. GameCreated events for other gamemasters are
// filtered out; the rest are delivered for any game so the caller can
// match them against its registry.
func (c *Client) WatchEvents(ctx context.Context, sink chan<- GameEvent) (Subscription, error) {
	sigs := []common.Hash{
		c.abi.Events[EventGameCreated].ID,
		c.abi.Events[EventGameOpened].ID,
		c.abi.Events[EventGameClosed].ID,
		c.abi.Events[EventHashCommitted].ID,
	}
	query := ethereum.FilterQuery{
		Addresses: []common.Address{c.address},
		Topics:    [][]common.Hash{sigs},
	}
	logs := make(chan types.Log, 64)
	sub, err := c.eth.SubscribeFilterLogs(ctx, query, logs)
	if err != nil {
		return nil, fmt.Errorf("subscribe contract events: %w", err)
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case lg, ok := <-logs:
				if !ok {
					return
				}
				ev, err := decodeEvent(c.abi, lg)
				if err != nil {
					c.log.Warn("skipping undecodable log", "block", lg.BlockNumber, "err", err)
					continue
				}
				if ev.Name == EventGameCreated && ev.Gamemaster != c.self {
					continue
				}
				select {
				case sink <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return sub, nil
}

// decodeEvent turns a raw log into a GameEvent. All four contract
// events index gameId as topic 1.
func decodeEvent(contractABI abi.ABI, lg types.Log) (GameEvent, error) {
	if len(lg.Topics) < 2 {
		return GameEvent{}, fmt.Errorf("log has %d topics", len(lg.Topics))
	}
	ev, err := contractABI.EventByID(lg.Topics[0])
	if err != nil {
		return GameEvent{}, fmt.Errorf("unknown event: %w", err)
	}
	out := GameEvent{
		Name:        ev.Name,
		GameID:      lg.Topics[1].Big().Uint64(),
		BlockNumber: lg.BlockNumber,
	}
	switch ev.Name {
	case EventGameCreated:
		if len(lg.Topics) < 4 {
			return GameEvent{}, fmt.Errorf("GameCreated log has %d topics", len(lg.Topics))
		}
		out.Gamemaster = common.BytesToAddress(lg.Topics[2].Bytes())
		out.Creator = common.BytesToAddress(lg.Topics[3].Bytes())
		vals, err := contractABI.Unpack(EventGameCreated, lg.Data)
		if err != nil {
			return GameEvent{}, fmt.Errorf("unpack GameCreated: %w", err)
		}
		out.StakeAmount = abi.ConvertType(vals[0], new(big.Int)).(*big.Int)
	case EventGameClosed:
		vals, err := contractABI.Unpack(EventGameClosed, lg.Data)
		if err != nil {
			return GameEvent{}, fmt.Errorf("unpack GameClosed: %w", err)
		}
		out.PlayerCount = abi.ConvertType(vals[0], new(big.Int)).(*big.Int).Uint64()
		out.MapSize = abi.ConvertType(vals[1], new(big.Int)).(*big.Int).Uint64()
	case EventGameOpened, EventHashCommitted:
		// gameId topic is all we need.
	}
	return out, nil
}
