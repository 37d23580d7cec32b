// Package services – Orchestrator
//
// The orchestrator sequences one mint payment from signature to token:
// guard checks → EIP-712 signing → facilitator verify → ledger insert →
// facilitator settle → ledger settle → mint call → ledger terminal write.
// It is the only component that mutates a ledger row after creation, and it
// owns the two economic correctness properties of the whole system:
//
//   - a successfully settled payment id eventually maps to exactly one
//     minted token, and
//   - retries after mint failures never trigger a second charge.
//
// Session state is passed explicitly per call; the orchestrator itself is a
// stateless singleton apart from the per-wallet in-progress guard.
package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog/log"

	"github.com/basefor-labs/x402-mint-backend/internal/chain"
	"github.com/basefor-labs/x402-mint-backend/internal/domain"
	"github.com/basefor-labs/x402-mint-backend/internal/x402/eip3009"
	"github.com/basefor-labs/x402-mint-backend/internal/x402/facilitator"
	"github.com/basefor-labs/x402-mint-backend/internal/x402/header"
)

// Facilitator is the slice of the facilitator client the orchestrator uses.
type Facilitator interface {
	Verify(ctx context.Context, paymentHeader string, p facilitator.VerifyParams) (*facilitator.Result, error)
	Settle(ctx context.Context, paymentID, paymentHeader string) (*facilitator.Result, error)
}

// Session is the explicit per-call session object: the connected wallet,
// its signing capability, and attribution metadata. Nothing here is global;
// tests drive the state machine by constructing sessions directly.
type Session struct {
	Wallet common.Address
	Signer eip3009.TypedSigner

	FarcasterFID      *int64
	FarcasterUsername string
	SourcePlatform    string
}

// Outcome is the result of a completed mint flow.
type Outcome struct {
	PaymentID string
	TokenID   string
	TxHash    string
}

// Orchestrator wires the payment collaborators together. All fields are
// required unless noted.
type Orchestrator struct {
	Payments    *PaymentService
	Facilitator Facilitator
	Chain       chain.StateReader
	Minter      chain.Minter

	// Token is the stablecoin contract the authorization is signed against.
	Token common.Address
	// ChainID scopes the EIP-712 domain.
	ChainID *big.Int
	// Collection is the NFT contract whose Transfer event yields the token id.
	Collection common.Address
	// Recipient is the facilitator's intermediate address: the signed
	// recipient of the transfer authorization, not the final treasury.
	Recipient common.Address
	// Network is the x402 network name carried in the payment header.
	Network string
	// TokenSymbol names the expected settlement token, e.g. "USDC".
	TokenSymbol string
	// AuthValidity bounds the signed authorization; zero means 15 minutes.
	AuthValidity time.Duration
	// FacilitatorTimeout bounds each facilitator call; zero means 30s.
	FacilitatorTimeout time.Duration

	mu       sync.Mutex
	inFlight map[common.Address]struct{}
}

// tryBegin acquires the per-wallet in-progress flag for the sign/verify/
// settle segment. Without it, rapid duplicate triggers can launch two
// signature prompts for the same intent, each able to produce a valid but
// distinct payment.
func (o *Orchestrator) tryBegin(wallet common.Address) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inFlight == nil {
		o.inFlight = make(map[common.Address]struct{})
	}
	if _, busy := o.inFlight[wallet]; busy {
		return false
	}
	o.inFlight[wallet] = struct{}{}
	return true
}

// end releases the in-progress flag. Deferred on every exit path.
func (o *Orchestrator) end(wallet common.Address) {
	o.mu.Lock()
	delete(o.inFlight, wallet)
	o.mu.Unlock()
}

func (o *Orchestrator) facilitatorCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	t := o.FacilitatorTimeout
	if t <= 0 {
		t = 30 * time.Second
	}
	return context.WithTimeout(ctx, t)
}

// Mint runs the full payment-and-mint flow for a fresh attempt.
//
// Guard failures, validation failures, and a declined signature all return
// before anything chargeable happens, with no ledger row created. After the
// facilitator settles, every failure is persisted so the pending-mint
// recovery path can surface it; the mint is then retryable via Retry without
// a new charge.
func (o *Orchestrator) Mint(ctx context.Context, s *Session, phraseCount int, phrases []string) (*Outcome, error) {
	if s == nil || s.Wallet == (common.Address{}) || s.Signer == nil {
		return nil, ErrInvalidWallet
	}
	if err := ValidatePhrases(phraseCount, phrases); err != nil {
		return nil, err
	}

	// Re-check the on-chain guards at submission time: whatever the UI
	// displayed may be stale.
	if err := o.checkGuards(ctx, s.Wallet); err != nil {
		return nil, err
	}

	if !o.tryBegin(s.Wallet) {
		return nil, ErrPaymentInProgress
	}
	defer o.end(s.Wallet)

	amount, err := PriceAtomic(phraseCount)
	if err != nil {
		return nil, err
	}
	amountUSDC, _ := PriceUSDC(phraseCount)

	// One nonce per attempt, generated inside Sign and reused verbatim in
	// the transmitted payload below.
	signer := &eip3009.Signer{Token: o.Token, ChainID: o.ChainID, Wallet: s.Signer}
	sig, auth, err := signer.Sign(ctx, o.Recipient, amount, o.AuthValidity)
	if err != nil {
		if errors.Is(err, eip3009.ErrDeclined) {
			return nil, fmt.Errorf("%w: %w", ErrUserDeclined, err)
		}
		return nil, fmt.Errorf("sign authorization: %w", err)
	}

	paymentHeader, err := header.Encode(header.Envelope{
		X402Version: header.Version,
		Scheme:      header.Scheme,
		Network:     o.Network,
		Payload:     header.Payload{Signature: sig, Authorization: auth.Wire()},
	})
	if err != nil {
		return nil, err
	}

	record := VerifiedPayment{
		WalletAddress:     s.Wallet.Hex(),
		PhraseCount:       phraseCount,
		Phrases:           phrases,
		PaymentHeader:     paymentHeader,
		FarcasterFID:      s.FarcasterFID,
		FarcasterUsername: s.FarcasterUsername,
		SourcePlatform:    s.SourcePlatform,
	}

	// Verify: no funds move yet. A facilitator rejection is terminal for
	// this attempt; it is recorded on the ledger for traceability, and the
	// user restarts from signing.
	fctx, cancel := o.facilitatorCtx(ctx)
	verifyRes, err := o.Facilitator.Verify(fctx, paymentHeader, facilitator.VerifyParams{
		ExpectedAmount: amountUSDC,
		ExpectedToken:  o.TokenSymbol,
		Recipient:      o.Recipient.Hex(),
	})
	cancel()
	if err != nil {
		var facErr *facilitator.Error
		if errors.As(err, &facErr) {
			if _, rerr := o.Payments.RecordFailed(ctx, record, facErr.Message, CodeFacilitator); rerr != nil {
				log.Error().Err(rerr).Str("wallet", shortAddr(s.Wallet)).Msg("record rejected payment")
			}
		}
		return nil, fmt.Errorf("verify payment: %w", err)
	}
	record.PaymentID = verifyRes.PaymentID

	tx, err := o.Payments.RecordVerified(ctx, record)
	if err != nil {
		// Nothing settled yet; abort before funds move.
		return nil, fmt.Errorf("persist verified payment: %w", err)
	}

	// Settle: this moves the funds. From a successful return on, the
	// transfer is irreversible and must be persisted immediately.
	fctx, cancel = o.facilitatorCtx(ctx)
	_, err = o.Facilitator.Settle(fctx, tx.PaymentID, paymentHeader)
	cancel()
	if err != nil {
		code := CodeSettleFailed
		if errors.Is(err, context.DeadlineExceeded) {
			code = CodeNetworkTimeout
		}
		if uerr := o.Payments.MarkPaymentFailed(ctx, tx.PaymentID, err.Error(), code); uerr != nil {
			log.Error().Err(uerr).Str("payment_id", tx.PaymentID).Msg("record settle failure")
		}
		return nil, fmt.Errorf("settle payment: %w", err)
	}

	if err := o.Payments.MarkSettled(ctx, tx.PaymentID); err != nil {
		// Funds moved; never abandon the flow over a ledger write. Every
		// mint-dimension write in runMint re-asserts the settled status, so
		// a lost write here still leaves the row visible to recovery.
		log.Error().Err(err).Str("payment_id", tx.PaymentID).Msg("persist settled status")
	}

	return o.runMint(ctx, tx.PaymentID, s.Wallet, phrases)
}

// Retry re-enters the state machine at the mint step for a previously
// settled payment, using the persisted phrases verbatim. It never touches
// the facilitator: the payment id is already paid for, and repeated retries
// after repeated failures must never charge twice.
func (o *Orchestrator) Retry(ctx context.Context, s *Session, paymentID string) (*Outcome, error) {
	if s == nil || s.Wallet == (common.Address{}) {
		return nil, ErrInvalidWallet
	}

	tx, err := o.Payments.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	wallet, err := NormalizeWallet(s.Wallet.Hex())
	if err != nil {
		return nil, err
	}
	if tx.WalletAddress != wallet {
		return nil, ErrPaymentNotFound
	}
	if tx.MintStatus == domain.MintMinted {
		return nil, ErrAlreadyMinted
	}
	if tx.PaymentStatus != domain.PaymentSettled {
		return nil, ErrNotRetryable
	}

	if !o.tryBegin(s.Wallet) {
		return nil, ErrPaymentInProgress
	}
	defer o.end(s.Wallet)

	return o.runMint(ctx, tx.PaymentID, s.Wallet, []string(tx.Phrases))
}

// runMint executes the mint call and records the terminal state. Shared by
// the fresh flow and the retry path; by the time it runs, the payment is
// settled and the only open question is whether a token gets created.
func (o *Orchestrator) runMint(ctx context.Context, paymentID string, wallet common.Address, phrases []string) (*Outcome, error) {
	// Best-effort intermediate status; the terminal write corrects the row
	// if this one is lost.
	if err := o.Payments.MarkMinting(ctx, paymentID); err != nil {
		log.Warn().Err(err).Str("payment_id", paymentID).Msg("persist minting status")
	}

	receipt, err := o.Minter.Mint(ctx, wallet, phrases)
	if err != nil {
		code := CodeMintReverted
		if errors.Is(err, chain.ErrMintDeclined) {
			code = CodeUserDeclined
		}
		o.failMint(ctx, paymentID, err.Error(), code)
		return nil, fmt.Errorf("mint: %w", err)
	}

	tokenID, err := chain.MintedTokenID(receipt, o.Collection, wallet)
	if err != nil {
		// A receipt without the expected event is a parse failure, never a
		// silent success.
		code := CodeReceiptParse
		if errors.Is(err, chain.ErrReceiptReverted) {
			code = CodeMintReverted
		}
		o.failMint(ctx, paymentID, err.Error(), code)
		return nil, fmt.Errorf("mint receipt: %w", err)
	}

	txHash := receiptTxHash(receipt)
	if err := o.Payments.MarkMinted(ctx, paymentID, tokenID.String(), txHash); err != nil {
		return nil, fmt.Errorf("persist minted status: %w", err)
	}

	log.Info().
		Str("payment_id", paymentID).
		Str("wallet", shortAddr(wallet)).
		Str("token_id", tokenID.String()).
		Msg("mint complete")

	return &Outcome{PaymentID: paymentID, TokenID: tokenID.String(), TxHash: txHash}, nil
}

// failMint persists a failed mint attempt. Failures affecting money movement
// are always persisted, never only logged: the row is what survives a page
// reload and drives recovery.
func (o *Orchestrator) failMint(ctx context.Context, paymentID, msg, code string) {
	if err := o.Payments.MarkMintFailed(ctx, paymentID, msg, code); err != nil {
		log.Error().Err(err).Str("payment_id", paymentID).Str("code", code).Msg("persist failed mint")
	}
}

// checkGuards re-reads the collection state and rejects the flow when the
// contract is paused, sold out, or the wallet's quota is spent.
func (o *Orchestrator) checkGuards(ctx context.Context, wallet common.Address) error {
	if o.Chain == nil {
		return nil
	}
	st, err := o.Chain.State(ctx, wallet)
	if err != nil {
		return fmt.Errorf("read collection state: %w", err)
	}
	switch {
	case st.Paused:
		return ErrMintPaused
	case st.SoldOut():
		return ErrSoldOut
	case st.QuotaExhausted():
		return ErrQuotaExhausted
	}
	return nil
}

// shortAddr truncates a wallet address for logs: enough to correlate,
// not enough to identify.
func shortAddr(a common.Address) string {
	h := a.Hex()
	return h[:6] + "…" + h[len(h)-4:]
}

func receiptTxHash(r *types.Receipt) string {
	if r == nil {
		return ""
	}
	return r.TxHash.Hex()
}
