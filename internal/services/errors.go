// Package services defines the business logic for payment verification,
// settlement, and mint orchestration. This file centralizes common
// service-level error values so that they can be consistently returned by
// service methods and checked by callers with errors.Is.
//
// The values map onto the failure taxonomy the orchestrator branches on:
// user-declined failures are terminal and never retried automatically,
// validation failures are rejected before any network call, and
// settled-but-unminted failures are the recoverable case the pending-mint
// flow exists for. Translation into HTTP status codes is performed at the
// handler layer.
package services

import "errors"

// Validation errors: rejected synchronously, never persisted.
var (
	// ErrInvalidWallet is returned when a wallet address is not a 0x-prefixed
	// 40-hex-char string.
	ErrInvalidWallet = errors.New("invalid wallet address")

	// ErrInvalidPhraseCount is returned when the phrase count is outside {1,2,3}
	// or does not match the number of phrases supplied.
	ErrInvalidPhraseCount = errors.New("phrase count must be 1, 2, or 3")

	// ErrPhraseTooLong is returned when a single phrase exceeds the maximum
	// length the collection contract accepts.
	ErrPhraseTooLong = errors.New("phrase too long")

	// ErrMissingPaymentHeader is returned when a verify request carries no
	// encoded authorization envelope.
	ErrMissingPaymentHeader = errors.New("payment header required")
)

// Flow errors.
var (
	// ErrUserDeclined indicates the user rejected the wallet prompt. Terminal
	// for the attempt; requires a fresh user action, never an automatic retry.
	ErrUserDeclined = errors.New("user declined signature")

	// ErrPaymentInProgress guards the sign/verify/settle segment against
	// duplicate entry from rapid repeated triggers for the same wallet.
	ErrPaymentInProgress = errors.New("payment already in progress")

	// ErrMintPaused means the collection contract is paused.
	ErrMintPaused = errors.New("minting is paused")

	// ErrSoldOut means the collection has no supply left.
	ErrSoldOut = errors.New("collection sold out")

	// ErrQuotaExhausted means the wallet has used its per-wallet mint allowance.
	ErrQuotaExhausted = errors.New("wallet mint quota exhausted")
)

// Ledger errors.
var (
	// ErrPaymentNotFound indicates that no ledger row exists for the payment id.
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrAlreadyMinted is returned when a mutation targets a row that already
	// reached the terminal minted state. Token id and tx hash never change
	// after that.
	ErrAlreadyMinted = errors.New("payment already minted")

	// ErrNotRetryable is returned when a retry is requested for a row whose
	// payment is not settled: there is nothing prepaid to mint against.
	ErrNotRetryable = errors.New("payment not settled; nothing to retry")

	// ErrMissingMintResult is returned when a minted transition is attempted
	// without a concrete token id and transaction hash.
	ErrMissingMintResult = errors.New("minted status requires token id and tx hash")
)

// Error codes persisted on failed ledger rows and returned to clients.
// Stable: support tooling and the retry UI key off them.
const (
	CodeUserDeclined   = "user_declined"
	CodeMintReverted   = "mint_reverted"
	CodeReceiptParse   = "receipt_parse_failed"
	CodeFacilitator    = "facilitator_rejected"
	CodeSettleFailed   = "settle_failed"
	CodeNetworkTimeout = "network_timeout"
)
