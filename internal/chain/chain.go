// Package chain holds the on-chain collaborators of the mint orchestrator:
// the mint backend that executes the NFT creation transaction, the reader
// that answers the pre-flight guards (paused, sold out, per-wallet quota),
// and the receipt parsing that recovers the minted token id.
//
// The mint transaction itself is an external concern; this package only
// defines the contract the orchestrator calls through and interprets its
// opaque result.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Minter executes the on-chain mint for a wallet with its custom phrases and
// returns the transaction receipt once the transaction is included. The
// confirmation wait has no fixed timeout by design; cancellation, if any,
// comes from ctx.
//
// Implementations wrap a wallet transaction flow (browser) or a funded
// server-side key. Either way the orchestrator treats the result as an
// opaque success or failure signal plus a receipt to parse.
type Minter interface {
	Mint(ctx context.Context, to common.Address, phrases []string) (*types.Receipt, error)
}

// ErrMintDeclined is returned by a Minter when the user rejects the mint
// transaction in their wallet. Funds are already settled by then, so the
// orchestrator records a failed mint and leaves the row recoverable.
var ErrMintDeclined = errors.New("chain: mint transaction declined")

// CollectionState is a snapshot of the collection contract used for the
// submission-time guards. Displayed state can be stale; the orchestrator
// re-reads this immediately before starting a payment flow.
type CollectionState struct {
	Paused       bool
	TotalSupply  uint64
	MaxSupply    uint64
	MaxPerWallet uint64
	MintedBy     uint64 // mints already made by the querying wallet
}

// SoldOut reports whether the collection has no supply left.
func (s *CollectionState) SoldOut() bool {
	return s.MaxSupply > 0 && s.TotalSupply >= s.MaxSupply
}

// QuotaExhausted reports whether the wallet has used up its mint allowance.
func (s *CollectionState) QuotaExhausted() bool {
	return s.MaxPerWallet > 0 && s.MintedBy >= s.MaxPerWallet
}

// StateReader reads the collection state for a wallet.
type StateReader interface {
	State(ctx context.Context, wallet common.Address) (*CollectionState, error)
}

// collectionABI covers only the read surface the guards need.
const collectionABI = `[
	{"type":"function","name":"paused","stateMutability":"view","inputs":[],"outputs":[{"type":"bool"}]},
	{"type":"function","name":"totalSupply","stateMutability":"view","inputs":[],"outputs":[{"type":"uint256"}]},
	{"type":"function","name":"maxSupply","stateMutability":"view","inputs":[],"outputs":[{"type":"uint256"}]},
	{"type":"function","name":"maxPerWallet","stateMutability":"view","inputs":[],"outputs":[{"type":"uint256"}]},
	{"type":"function","name":"mintedPerWallet","stateMutability":"view","inputs":[{"type":"address"}],"outputs":[{"type":"uint256"}]}
]`

// ContractCaller is the slice of the Ethereum client the Reader needs.
// *ethclient.Client satisfies it.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Reader answers guard queries against the collection contract over an
// Ethereum JSON-RPC connection.
type Reader struct {
	caller   ContractCaller
	contract common.Address
	abi      abi.ABI
}

// NewReader builds a Reader for the collection contract at addr.
func NewReader(caller ContractCaller, addr common.Address) (*Reader, error) {
	parsed, err := abi.JSON(strings.NewReader(collectionABI))
	if err != nil {
		return nil, fmt.Errorf("chain: parse collection abi: %w", err)
	}
	return &Reader{caller: caller, contract: addr, abi: parsed}, nil
}

// State implements StateReader with five view calls. Any failed call fails
// the whole read: a guard answered from partial data is worse than an error.
func (r *Reader) State(ctx context.Context, wallet common.Address) (*CollectionState, error) {
	st := &CollectionState{}

	paused, err := r.callBool(ctx, "paused")
	if err != nil {
		return nil, err
	}
	st.Paused = paused

	for _, q := range []struct {
		method string
		dst    *uint64
		args   []any
	}{
		{"totalSupply", &st.TotalSupply, nil},
		{"maxSupply", &st.MaxSupply, nil},
		{"maxPerWallet", &st.MaxPerWallet, nil},
		{"mintedPerWallet", &st.MintedBy, []any{wallet}},
	} {
		v, err := r.callUint(ctx, q.method, q.args...)
		if err != nil {
			return nil, err
		}
		*q.dst = v
	}
	return st, nil
}

func (r *Reader) call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := r.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("chain: pack %s: %w", method, err)
	}
	out, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &r.contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: call %s: %w", method, err)
	}
	vals, err := r.abi.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("chain: unpack %s: %w", method, err)
	}
	return vals, nil
}

func (r *Reader) callBool(ctx context.Context, method string) (bool, error) {
	vals, err := r.call(ctx, method)
	if err != nil {
		return false, err
	}
	b, ok := vals[0].(bool)
	if !ok {
		return false, fmt.Errorf("chain: %s returned %T, want bool", method, vals[0])
	}
	return b, nil
}

func (r *Reader) callUint(ctx context.Context, method string, args ...any) (uint64, error) {
	vals, err := r.call(ctx, method, args...)
	if err != nil {
		return 0, err
	}
	n, ok := vals[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("chain: %s returned %T, want *big.Int", method, vals[0])
	}
	return n.Uint64(), nil
}

// transferTopic is the ERC-721 Transfer(address,address,uint256) event
// signature hash.
var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// ErrNoMintEvent is returned when a successful receipt contains no mint
// Transfer event for the recipient. A "successful" transaction without the
// expected event is a parse failure, never a silent success.
var ErrNoMintEvent = errors.New("chain: receipt has no mint transfer event")

// ErrReceiptReverted is returned for receipts with a failed status.
var ErrReceiptReverted = errors.New("chain: mint transaction reverted")

// MintedTokenID extracts the token id minted to recipient from a receipt.
// An ERC-721 mint logs Transfer(from=0x0, to=recipient, tokenId) on the
// collection contract with the token id as the third indexed topic.
func MintedTokenID(receipt *types.Receipt, collection, recipient common.Address) (*big.Int, error) {
	if receipt == nil {
		return nil, ErrNoMintEvent
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, ErrReceiptReverted
	}

	for _, lg := range receipt.Logs {
		if lg == nil || lg.Address != collection || len(lg.Topics) != 4 {
			continue
		}
		if lg.Topics[0] != transferTopic {
			continue
		}
		from := common.BytesToAddress(lg.Topics[1].Bytes())
		to := common.BytesToAddress(lg.Topics[2].Bytes())
		if from != (common.Address{}) || to != recipient {
			continue
		}
		return new(big.Int).SetBytes(lg.Topics[3].Bytes()), nil
	}
	return nil, ErrNoMintEvent
}
