// Package header encodes and decodes the x402 payment header: a base64
// JSON envelope carrying an EIP-3009 transfer authorization and its EIP-712
// signature. The encoded string is the single portable token handed to the
// payment facilitator and persisted on the ledger row.
package header

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Version is the x402 protocol version carried in every envelope.
const Version = 1

// Scheme is the only payment scheme this service speaks: an exact-amount
// EIP-3009 transfer authorization.
const Scheme = "exact"

// Authorization is the wire form of an EIP-3009 transfer authorization.
// Numeric fields travel as decimal strings and the nonce as 0x-hex, matching
// what stablecoin contracts and facilitators expect.
type Authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// Payload couples a signature with the authorization it signs.
type Payload struct {
	Signature     string        `json:"signature"`
	Authorization Authorization `json:"authorization"`
}

// Envelope is the full x402 payment header prior to base64 encoding.
type Envelope struct {
	X402Version int     `json:"x402Version"`
	Scheme      string  `json:"scheme"`
	Network     string  `json:"network"`
	Payload     Payload `json:"payload"`
}

// DecodeError reports a header that could not be decoded: corrupt base64,
// invalid JSON, or an envelope missing required fields. Callers log and
// surface it; there is no partial or best-effort parse.
type DecodeError struct {
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode payment header: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("decode payment header: %s", e.Reason)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *DecodeError) Unwrap() error { return e.Err }

// Encode serializes the envelope as base64(JSON).
func Encode(env Envelope) (string, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("encode payment header: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// Decode parses a base64(JSON) payment header back into an Envelope.
// Any failure returns a *DecodeError.
func Decode(encoded string) (Envelope, error) {
	var env Envelope

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return env, &DecodeError{Reason: "invalid base64", Err: err}
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, &DecodeError{Reason: "invalid JSON", Err: err}
	}
	if env.X402Version != Version {
		return env, &DecodeError{Reason: fmt.Sprintf("unsupported x402 version %d", env.X402Version)}
	}
	if env.Scheme != Scheme {
		return env, &DecodeError{Reason: fmt.Sprintf("unsupported scheme %q", env.Scheme)}
	}
	if env.Network == "" || env.Payload.Signature == "" {
		return env, &DecodeError{Reason: "missing required fields"}
	}
	return env, nil
}
