package eip3009

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// ErrDeclined is returned by a TypedSigner when the user rejects the
// signature prompt in their wallet. It is terminal for the attempt: the
// orchestrator must not retry it automatically, and nothing chargeable has
// happened yet when it occurs.
var ErrDeclined = errors.New("eip3009: signature request declined")

// TypedSigner signs EIP-712 typed data on behalf of a payer. Implementations
// wrap a connected wallet (which may suspend indefinitely awaiting user
// approval, hence the context) or a locally held key.
type TypedSigner interface {
	// SignTypedData returns a 65-byte 0x-hex signature over the typed data,
	// ErrDeclined when the user rejects the prompt, or another error.
	SignTypedData(ctx context.Context, data apitypes.TypedData) (string, error)
	// Address is the signer's account, used as the authorization's from field.
	Address() common.Address
}

// Signer produces signed transfer authorizations against one token contract
// on one chain. It is the orchestrator's entry point for the signing step.
type Signer struct {
	Token   common.Address // stablecoin contract (verifying contract)
	ChainID *big.Int
	Wallet  TypedSigner
}

// Sign builds a fresh authorization from the wallet's account to the payee
// and has the wallet sign it. The returned Authorization carries the one and
// only nonce for this attempt; callers must transmit it unchanged.
func (s *Signer) Sign(ctx context.Context, to common.Address, value *big.Int, validity time.Duration) (string, *Authorization, error) {
	if s.Wallet == nil {
		return "", nil, fmt.Errorf("eip3009: no wallet configured")
	}

	auth, err := NewAuthorization(s.Wallet.Address(), to, value, validity)
	if err != nil {
		return "", nil, err
	}

	sig, err := s.Wallet.SignTypedData(ctx, auth.TypedData(s.Token, s.ChainID))
	if err != nil {
		return "", nil, err
	}
	return sig, auth, nil
}

// LocalWallet is a TypedSigner backed by an in-process ECDSA key. Used by
// tests and by server-side payers that hold their own key material.
type LocalWallet struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

// NewLocalWallet wraps key in a TypedSigner.
func NewLocalWallet(key *ecdsa.PrivateKey) *LocalWallet {
	return &LocalWallet{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}
}

// Address implements TypedSigner.
func (w *LocalWallet) Address() common.Address { return w.addr }

// SignTypedData implements TypedSigner by hashing and signing locally.
func (w *LocalWallet) SignTypedData(ctx context.Context, data apitypes.TypedData) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	domainSeparator, err := data.HashStruct("EIP712Domain", data.Domain.Map())
	if err != nil {
		return "", fmt.Errorf("eip3009: hash domain: %w", err)
	}
	structHash, err := data.HashStruct(data.PrimaryType, data.Message)
	if err != nil {
		return "", fmt.Errorf("eip3009: hash message: %w", err)
	}
	digest := crypto.Keccak256(append([]byte{0x19, 0x01}, append(domainSeparator, structHash...)...))

	sig, err := crypto.Sign(digest, w.key)
	if err != nil {
		return "", fmt.Errorf("eip3009: sign: %w", err)
	}
	sig[64] += 27
	return "0x" + common.Bytes2Hex(sig), nil
}
