package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	testCollection = common.HexToAddress("0x00000000000000000000000000000000C0FFEE01")
	testRecipient  = common.HexToAddress("0x1a2B3c4D5e6F7a8B9c0D1e2F3A4b5C6D7E8F9a0B")
)

func transferLog(contract, from, to common.Address, tokenID int64) *types.Log {
	return &types.Log{
		Address: contract,
		Topics: []common.Hash{
			transferTopic,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
			common.BigToHash(big.NewInt(tokenID)),
		},
	}
}

func TestMintedTokenID(t *testing.T) {
	receipt := &types.Receipt{
		Status: types.ReceiptStatusSuccessful,
		Logs: []*types.Log{
			// Unrelated contract, correct shape.
			transferLog(common.HexToAddress("0xdead"), common.Address{}, testRecipient, 1),
			// Correct contract, not a mint (non-zero from).
			transferLog(testCollection, testRecipient, testCollection, 2),
			// Correct contract, mint to someone else.
			transferLog(testCollection, common.Address{}, common.HexToAddress("0xbeef"), 3),
			// The one we want.
			transferLog(testCollection, common.Address{}, testRecipient, 42),
		},
	}

	id, err := MintedTokenID(receipt, testCollection, testRecipient)
	if err != nil {
		t.Fatalf("MintedTokenID: %v", err)
	}
	if id.Int64() != 42 {
		t.Fatalf("token id = %s, want 42", id)
	}
}

func TestMintedTokenID_NoMintEvent(t *testing.T) {
	cases := []struct {
		name    string
		receipt *types.Receipt
	}{
		{"nil receipt", nil},
		{"no logs", &types.Receipt{Status: types.ReceiptStatusSuccessful}},
		{"wrong topic count", &types.Receipt{
			Status: types.ReceiptStatusSuccessful,
			Logs: []*types.Log{{
				Address: testCollection,
				Topics:  []common.Hash{transferTopic, common.BytesToHash(testRecipient.Bytes())},
			}},
		}},
		{"nil log entry", &types.Receipt{
			Status: types.ReceiptStatusSuccessful,
			Logs:   []*types.Log{nil},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := MintedTokenID(tc.receipt, testCollection, testRecipient); !errors.Is(err, ErrNoMintEvent) {
				t.Fatalf("expected ErrNoMintEvent, got %v", err)
			}
		})
	}
}

func TestMintedTokenID_Reverted(t *testing.T) {
	receipt := &types.Receipt{
		Status: types.ReceiptStatusFailed,
		Logs:   []*types.Log{transferLog(testCollection, common.Address{}, testRecipient, 7)},
	}
	if _, err := MintedTokenID(receipt, testCollection, testRecipient); !errors.Is(err, ErrReceiptReverted) {
		t.Fatalf("expected ErrReceiptReverted, got %v", err)
	}
}

func TestCollectionState_SoldOut(t *testing.T) {
	cases := []struct {
		name  string
		state CollectionState
		want  bool
	}{
		{"supply left", CollectionState{TotalSupply: 10, MaxSupply: 100}, false},
		{"exactly full", CollectionState{TotalSupply: 100, MaxSupply: 100}, true},
		{"over full", CollectionState{TotalSupply: 101, MaxSupply: 100}, true},
		{"unlimited", CollectionState{TotalSupply: 5000, MaxSupply: 0}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.state.SoldOut(); got != tc.want {
				t.Fatalf("SoldOut() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestCollectionState_QuotaExhausted(t *testing.T) {
	cases := []struct {
		name  string
		state CollectionState
		want  bool
	}{
		{"under quota", CollectionState{MaxPerWallet: 3, MintedBy: 2}, false},
		{"at quota", CollectionState{MaxPerWallet: 3, MintedBy: 3}, true},
		{"no quota", CollectionState{MaxPerWallet: 0, MintedBy: 50}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.state.QuotaExhausted(); got != tc.want {
				t.Fatalf("QuotaExhausted() = %v, want %v", got, tc.want)
			}
		})
	}
}

// fakeCaller answers contract view calls with canned ABI-encoded values keyed
// by the method selector in the call data.
type fakeCaller struct {
	reader  *Reader
	answers map[string]any
	failOn  string
	calls   int
}

func (f *fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.calls++
	method, err := f.reader.abi.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	if method.Name == f.failOn {
		return nil, fmt.Errorf("rpc down")
	}
	v, ok := f.answers[method.Name]
	if !ok {
		return nil, fmt.Errorf("unexpected call %s", method.Name)
	}
	return method.Outputs.Pack(v)
}

func newFakeReader(t *testing.T, answers map[string]any, failOn string) (*Reader, *fakeCaller) {
	t.Helper()
	caller := &fakeCaller{answers: answers, failOn: failOn}
	r, err := NewReader(caller, testCollection)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	caller.reader = r
	return r, caller
}

func TestReader_State(t *testing.T) {
	r, _ := newFakeReader(t, map[string]any{
		"paused":          true,
		"totalSupply":     big.NewInt(120),
		"maxSupply":       big.NewInt(500),
		"maxPerWallet":    big.NewInt(3),
		"mintedPerWallet": big.NewInt(1),
	}, "")

	st, err := r.State(context.Background(), testRecipient)
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	want := CollectionState{Paused: true, TotalSupply: 120, MaxSupply: 500, MaxPerWallet: 3, MintedBy: 1}
	if *st != want {
		t.Fatalf("state = %+v, want %+v", *st, want)
	}
}

func TestReader_State_PartialFailureFailsWhole(t *testing.T) {
	r, _ := newFakeReader(t, map[string]any{
		"paused":      false,
		"totalSupply": big.NewInt(1),
	}, "maxSupply")

	if _, err := r.State(context.Background(), testRecipient); err == nil {
		t.Fatal("expected error when one view call fails")
	}
}
