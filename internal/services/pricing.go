// Package services – pricing
//
// Price is a pure function of the phrase count via a fixed table. No code
// path accepts a caller-supplied amount: handlers and the orchestrator both
// look the price up here, server-side, from the validated phrase count.
package services

import (
	"fmt"
	"math/big"
)

// MaxPhraseLen caps a single phrase, matching the collection contract's
// renderer limit. Empty phrases are allowed (the contract fills them).
const MaxPhraseLen = 13

// phrasePricesUSDC is the fixed price table in USDC decimal strings.
// Three phrases cost less than two: the bundle discount is intentional.
var phrasePricesUSDC = map[int]string{
	1: "0.20",
	2: "0.40",
	3: "0.30",
}

// usdcDecimals is the atomic precision of USDC.
const usdcDecimals = 6

// PriceUSDC returns the charged amount for a phrase count as a decimal
// string, or ErrInvalidPhraseCount for counts outside {1,2,3}.
func PriceUSDC(phraseCount int) (string, error) {
	p, ok := phrasePricesUSDC[phraseCount]
	if !ok {
		return "", ErrInvalidPhraseCount
	}
	return p, nil
}

// PriceAtomic returns the charged amount in atomic USDC units (6 decimals),
// the value field of the transfer authorization.
func PriceAtomic(phraseCount int) (*big.Int, error) {
	p, err := PriceUSDC(phraseCount)
	if err != nil {
		return nil, err
	}
	return usdcToAtomic(p)
}

// usdcToAtomic converts a decimal USDC string like "0.20" into atomic units.
func usdcToAtomic(s string) (*big.Int, error) {
	whole, frac := s, ""
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			whole, frac = s[:i], s[i+1:]
			break
		}
	}
	if len(frac) > usdcDecimals {
		return nil, fmt.Errorf("amount %q exceeds USDC precision", s)
	}
	for len(frac) < usdcDecimals {
		frac += "0"
	}
	if whole == "" {
		whole = "0"
	}
	n, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, fmt.Errorf("invalid USDC amount %q", s)
	}
	return n, nil
}
