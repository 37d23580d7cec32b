// Package eip3009 builds and signs EIP-3009 transferWithAuthorization
// messages: signed, time-boxed, nonce-scoped permissions for a stablecoin
// contract to move funds from the payer to the facilitator's intermediate
// address.
//
// The invariant this package exists to protect: exactly one nonce is
// generated per payment attempt, inside NewAuthorization, and that same
// Authorization value flows into both the EIP-712 digest and the transmitted
// payload. Nothing here regenerates or mutates a nonce after creation.
package eip3009

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/basefor-labs/x402-mint-backend/internal/x402/header"
)

// DefaultValidity is the authorization lifetime applied when the caller does
// not supply one. It matches the mint-signature expiry used by the app.
const DefaultValidity = 15 * time.Minute

// validAfterSkew backdates validAfter slightly so a signature is usable even
// when the verifying node's clock trails ours.
const validAfterSkew = 10 * time.Second

// USDC EIP-712 domain constants on Base.
const (
	DomainName    = "USD Coin"
	DomainVersion = "2"
)

// Authorization is one EIP-3009 transfer authorization. Construct it with
// NewAuthorization; the zero value has no nonce and must not be signed.
type Authorization struct {
	From        common.Address
	To          common.Address
	Value       *big.Int
	ValidAfter  *big.Int
	ValidBefore *big.Int
	Nonce       [32]byte
}

// NewAuthorization creates an authorization from payer to payee for value
// atomic token units, valid for the given window. A validity <= 0 falls back
// to DefaultValidity. The nonce is generated here, once, from crypto/rand.
func NewAuthorization(from, to common.Address, value *big.Int, validity time.Duration) (*Authorization, error) {
	if value == nil || value.Sign() <= 0 {
		return nil, fmt.Errorf("eip3009: authorization value must be positive")
	}
	if validity <= 0 {
		validity = DefaultValidity
	}

	nonce, err := GenerateNonce()
	if err != nil {
		return nil, fmt.Errorf("eip3009: generate nonce: %w", err)
	}

	now := time.Now()
	return &Authorization{
		From:        from,
		To:          to,
		Value:       new(big.Int).Set(value),
		ValidAfter:  big.NewInt(now.Add(-validAfterSkew).Unix()),
		ValidBefore: big.NewInt(now.Add(validity).Unix()),
		Nonce:       nonce,
	}, nil
}

// GenerateNonce returns 32 bytes of cryptographic randomness. Reusing a nonce
// is a protocol-level double-spend risk, so a failed read is fatal.
func GenerateNonce() ([32]byte, error) {
	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nonce, err
	}
	return nonce, nil
}

// TypedData assembles the EIP-712 typed data for the authorization against a
// specific token contract and chain. The same structure is what wallet
// extensions display to the user before signing.
func (a *Authorization) TypedData(token common.Address, chainID *big.Int) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"TransferWithAuthorization": []apitypes.Type{
				{Name: "from", Type: "address"},
				{Name: "to", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "validAfter", Type: "uint256"},
				{Name: "validBefore", Type: "uint256"},
				{Name: "nonce", Type: "bytes32"},
			},
		},
		PrimaryType: "TransferWithAuthorization",
		Domain: apitypes.TypedDataDomain{
			Name:              DomainName,
			Version:           DomainVersion,
			ChainId:           (*math.HexOrDecimal256)(chainID),
			VerifyingContract: token.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"from":        a.From.Hex(),
			"to":          a.To.Hex(),
			"value":       (*math.HexOrDecimal256)(a.Value),
			"validAfter":  (*math.HexOrDecimal256)(a.ValidAfter),
			"validBefore": (*math.HexOrDecimal256)(a.ValidBefore),
			"nonce":       common.BytesToHash(a.Nonce[:]).Hex(),
		},
	}
}

// Digest computes the EIP-712 signing hash ("\x19\x01" || domainSeparator ||
// structHash) for the authorization.
func (a *Authorization) Digest(token common.Address, chainID *big.Int) ([]byte, error) {
	typedData := a.TypedData(token, chainID)

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("eip3009: hash domain: %w", err)
	}
	structHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("eip3009: hash message: %w", err)
	}

	raw := append([]byte{0x19, 0x01}, append(domainSeparator, structHash...)...)
	return crypto.Keccak256(raw), nil
}

// Wire converts the authorization into its JSON wire form for the payment
// header envelope. The nonce travels byte-for-byte: this is the other half of
// the one-nonce invariant.
func (a *Authorization) Wire() header.Authorization {
	return header.Authorization{
		From:        a.From.Hex(),
		To:          a.To.Hex(),
		Value:       a.Value.String(),
		ValidAfter:  a.ValidAfter.String(),
		ValidBefore: a.ValidBefore.String(),
		Nonce:       common.BytesToHash(a.Nonce[:]).Hex(),
	}
}

// SignAuthorization signs the authorization digest with a raw ECDSA key and
// returns a 65-byte 0x-hex signature with the Ethereum-style v offset of 27.
// Services that hold their own key (tests, server-side payers) use this;
// browser wallets sign the same TypedData through their own channel.
func SignAuthorization(key *ecdsa.PrivateKey, token common.Address, chainID *big.Int, a *Authorization) (string, error) {
	digest, err := a.Digest(token, chainID)
	if err != nil {
		return "", err
	}
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return "", fmt.Errorf("eip3009: sign authorization: %w", err)
	}
	sig[64] += 27
	return hexutil.Encode(sig), nil
}
