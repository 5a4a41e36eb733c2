// Package chain is the typed adapter between the daemon and the game
// contract. It narrows the generic RPC surface to the calls the state
// machine needs and maps raw node errors onto a small taxonomy.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/log"
)

// receiptTimeout bounds waitForReceipt; a timeout is treated as a
// retryable revert by callers.
const receiptTimeout = 90 * time.Second

// Backend is the contract surface consumed by the state machine. The
// production implementation is Client; tests substitute a fake.
type Backend interface {
	GameInfo(ctx context.Context, gameID uint64) (GameInfo, error)
	CommitRevealState(ctx context.Context, gameID uint64) (CommitRevealState, error)
	PayoutInfo(ctx context.Context, gameID uint64) (PayoutInfo, error)
	Players(ctx context.Context, gameID uint64) ([]common.Address, error)
	CommitBlockHash(ctx context.Context, gameID uint64) (common.Hash, error)
	IsBlockHashAvailable(ctx context.Context, gameID uint64) bool
	BlockNumber(ctx context.Context) (uint64, error)

	CommitHash(ctx context.Context, gameID uint64, hash common.Hash) (*types.Receipt, error)
	StoreCommitBlockHash(ctx context.Context, gameID uint64, serverURL string) (*types.Receipt, error)
	RevealHash(ctx context.Context, gameID uint64, reveal [32]byte) (*types.Receipt, error)
	Payout(ctx context.Context, gameID uint64, winners []common.Address) (*types.Receipt, error)

	Self() common.Address
	ScanGameCreated(ctx context.Context, fromBlock uint64) ([]GameEvent, error)
	WatchEvents(ctx context.Context, sink chan<- GameEvent) (Subscription, error)
}

// Subscription mirrors the unsubscribe/err pair of go-ethereum
// subscriptions without tying callers to the concrete type.
type Subscription interface {
	Unsubscribe()
	Err() <-chan error
}

// Client talks to the game contract over an ethclient connection with
// the gamemaster key. Reads are safe for concurrent use; transaction
// nonce assignment is serialised internally.
type Client struct {
	eth      *ethclient.Client
	abi      abi.ABI
	contract *bind.BoundContract
	address  common.Address
	opts     *bind.TransactOpts
	self     common.Address
	log      log.Logger

	txMu sync.Mutex
}

// NewClient dials the RPC endpoint and binds the contract with the
// gamemaster key.
func NewClient(rpcURL string, contractAddr common.Address, privKeyHex string, chainID *big.Int) (*Client, error) {
	eth, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}
	parsed, err := abi.JSON(strings.NewReader(contractABI))
	if err != nil {
		return nil, fmt.Errorf("parse contract abi: %w", err)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse gamemaster key: %w", err)
	}
	opts, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, fmt.Errorf("build transactor: %w", err)
	}
	self := crypto.PubkeyToAddress(key.PublicKey)
	return &Client{
		eth:      eth,
		abi:      parsed,
		contract: bind.NewBoundContract(contractAddr, parsed, eth, eth, eth),
		address:  contractAddr,
		opts:     opts,
		self:     self,
		log:      log.New("component", "chain"),
	}, nil
}

// Self returns the gamemaster address derived from the signing key.
func (c *Client) Self() common.Address { return c.self }

// Close tears down the underlying RPC connection.
func (c *Client) Close() { c.eth.Close() }

func (c *Client) call(ctx context.Context, out *[]interface{}, method string, args ...interface{}) error {
	err := c.contract.Call(&bind.CallOpts{Context: ctx}, out, method, args...)
	return classifyError(err)
}

// GameInfo reads the per-game header record.
func (c *Client) GameInfo(ctx context.Context, gameID uint64) (GameInfo, error) {
	var out []interface{}
	if err := c.call(ctx, &out, "getGameInfo", new(big.Int).SetUint64(gameID)); err != nil {
		return GameInfo{}, fmt.Errorf("getGameInfo(%d): %w", gameID, err)
	}
	return GameInfo{
		Gamemaster:  *abi.ConvertType(out[0], new(common.Address)).(*common.Address),
		Creator:     *abi.ConvertType(out[1], new(common.Address)).(*common.Address),
		StakeAmount: abi.ConvertType(out[2], new(big.Int)).(*big.Int),
		Open:        *abi.ConvertType(out[3], new(bool)).(*bool),
		PlayerCount: abi.ConvertType(out[4], new(big.Int)).(*big.Int).Uint64(),
		HasOpened:   *abi.ConvertType(out[5], new(bool)).(*bool),
		HasClosed:   *abi.ConvertType(out[6], new(bool)).(*bool),
	}, nil
}

// CommitRevealState reads the 8-field commit-reveal record.
func (c *Client) CommitRevealState(ctx context.Context, gameID uint64) (CommitRevealState, error) {
	var out []interface{}
	if err := c.call(ctx, &out, "getCommitRevealState", new(big.Int).SetUint64(gameID)); err != nil {
		return CommitRevealState{}, fmt.Errorf("getCommitRevealState(%d): %w", gameID, err)
	}
	return CommitRevealState{
		CommittedHash:      common.Hash(*abi.ConvertType(out[0], new([32]byte)).(*[32]byte)),
		CommitBlockNumber:  abi.ConvertType(out[1], new(big.Int)).(*big.Int).Uint64(),
		RevealValue:        common.Hash(*abi.ConvertType(out[2], new([32]byte)).(*[32]byte)),
		RandomHash:         common.Hash(*abi.ConvertType(out[3], new([32]byte)).(*[32]byte)),
		HasCommitted:       *abi.ConvertType(out[4], new(bool)).(*bool),
		HasRevealed:        *abi.ConvertType(out[5], new(bool)).(*bool),
		HasStoredBlockHash: *abi.ConvertType(out[6], new(bool)).(*bool),
		MapSize:            abi.ConvertType(out[7], new(big.Int)).(*big.Int).Uint64(),
	}, nil
}

// PayoutInfo reads the payout record.
func (c *Client) PayoutInfo(ctx context.Context, gameID uint64) (PayoutInfo, error) {
	var out []interface{}
	if err := c.call(ctx, &out, "getPayoutInfo", new(big.Int).SetUint64(gameID)); err != nil {
		return PayoutInfo{}, fmt.Errorf("getPayoutInfo(%d): %w", gameID, err)
	}
	return PayoutInfo{
		Winners:      *abi.ConvertType(out[0], new([]common.Address)).(*[]common.Address),
		PayoutAmount: abi.ConvertType(out[1], new(big.Int)).(*big.Int),
		HasPaidOut:   *abi.ConvertType(out[2], new(bool)).(*bool),
	}, nil
}

// Players reads the registered player set.
func (c *Client) Players(ctx context.Context, gameID uint64) ([]common.Address, error) {
	var out []interface{}
	if err := c.call(ctx, &out, "getPlayers", new(big.Int).SetUint64(gameID)); err != nil {
		return nil, fmt.Errorf("getPlayers(%d): %w", gameID, err)
	}
	return *abi.ConvertType(out[0], new([]common.Address)).(*[]common.Address), nil
}

// CommitBlockHash returns the hash of the recorded commit block. It
// fails with ErrBlockHashUnavailable when the block has left the
// chain's retention window.
func (c *Client) CommitBlockHash(ctx context.Context, gameID uint64) (common.Hash, error) {
	var out []interface{}
	if err := c.call(ctx, &out, "getCommitBlockHash", new(big.Int).SetUint64(gameID)); err != nil {
		return common.Hash{}, fmt.Errorf("getCommitBlockHash(%d): %w", gameID, err)
	}
	h := common.Hash(*abi.ConvertType(out[0], new([32]byte)).(*[32]byte))
	if h == (common.Hash{}) {
		return common.Hash{}, fmt.Errorf("getCommitBlockHash(%d): %w", gameID, ErrBlockHashUnavailable)
	}
	return h, nil
}

// IsBlockHashAvailable probes whether the commit block hash is still
// retrievable, without the caller having to treat an error as a signal.
func (c *Client) IsBlockHashAvailable(ctx context.Context, gameID uint64) bool {
	_, err := c.CommitBlockHash(ctx, gameID)
	return err == nil
}

// BlockNumber returns the current chain head number.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	n, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("blockNumber: %w", err)
	}
	return n, nil
}

// transact sends one contract transaction and waits for its receipt.
// Nonce assignment is serialised; the receipt wait is bounded by
// receiptTimeout and a timeout surfaces as a retryable revert.
func (c *Client) transact(ctx context.Context, method string, args ...interface{}) (*types.Receipt, error) {
	c.txMu.Lock()
	opts := *c.opts
	opts.Context = ctx
	tx, err := c.contract.Transact(&opts, method, args...)
	c.txMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, classifyError(err))
	}
	c.log.Debug("transaction sent", "method", method, "tx", tx.Hash())

	waitCtx, cancel := context.WithTimeout(ctx, receiptTimeout)
	defer cancel()
	receipt, err := bind.WaitMined(waitCtx, c.eth, tx)
	if err != nil {
		return nil, fmt.Errorf("%s: wait receipt %s: %w", method, tx.Hash(), &RevertError{Detail: err.Error()})
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return nil, fmt.Errorf("%s: tx %s: %w", method, tx.Hash(), &RevertError{Detail: "status 0"})
	}
	return receipt, nil
}

// CommitHash submits the keccak256 of the reveal secret.
func (c *Client) CommitHash(ctx context.Context, gameID uint64, hash common.Hash) (*types.Receipt, error) {
	return c.transact(ctx, "commitHash", new(big.Int).SetUint64(gameID), hash)
}

// StoreCommitBlockHash records the commit block hash reference together
// with the public game-server URL.
func (c *Client) StoreCommitBlockHash(ctx context.Context, gameID uint64, serverURL string) (*types.Receipt, error) {
	return c.transact(ctx, "storeCommitBlockHash", new(big.Int).SetUint64(gameID), serverURL)
}

// RevealHash publishes the reveal secret.
func (c *Client) RevealHash(ctx context.Context, gameID uint64, reveal [32]byte) (*types.Receipt, error) {
	return c.transact(ctx, "revealHash", new(big.Int).SetUint64(gameID), common.Hash(reveal))
}

// Payout submits the winner set.
func (c *Client) Payout(ctx context.Context, gameID uint64, winners []common.Address) (*types.Receipt, error) {
	return c.transact(ctx, "payout", new(big.Int).SetUint64(gameID), winners)
}
