// Package services – PaymentService
//
// This file implements the ledger-facing operations: creating the
// transaction row at verification time, advancing the payment and mint
// status dimensions, and the pending-mint recovery query. Every mutation is
// keyed by payment id and moves a row strictly forward; transition
// timestamps are written once, at the transition, and never cleared.
//
// Service-level errors (e.g., ErrPaymentNotFound, ErrAlreadyMinted) are
// returned for predictable cases so handlers can map them to HTTP results
// consistently.
package services

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/basefor-labs/x402-mint-backend/internal/domain"
	"github.com/basefor-labs/x402-mint-backend/internal/repo"
)

// walletRE matches a 0x-prefixed 40-hex-char Ethereum address.
var walletRE = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

// NormalizeWallet validates addr and returns it lowercased, the canonical
// form stored on every ledger row and used in every query.
func NormalizeWallet(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if !walletRE.MatchString(addr) {
		return "", ErrInvalidWallet
	}
	return strings.ToLower(addr), nil
}

// ValidatePhrases checks the phrase inputs against the count: the count must
// be in {1,2,3}, match the slice length, and each phrase must fit the
// contract's renderer limit. Runs before any network call.
func ValidatePhrases(phraseCount int, phrases []string) error {
	if phraseCount < 1 || phraseCount > 3 {
		return ErrInvalidPhraseCount
	}
	if len(phrases) != phraseCount {
		return ErrInvalidPhraseCount
	}
	for _, p := range phrases {
		if utf8.RuneCountInString(p) > MaxPhraseLen {
			return ErrPhraseTooLong
		}
	}
	return nil
}

// PaymentService provides ledger operations over payment transactions.
// All writes honor a bounded timeout so a stalled database never blocks a
// payment flow indefinitely.
type PaymentService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// WriteTimeout bounds each ledger write; zero means 15s.
	WriteTimeout time.Duration
}

// NewPaymentService constructs a PaymentService with the default write timeout.
func NewPaymentService(db *gorm.DB) *PaymentService {
	return &PaymentService{DB: db, WriteTimeout: 15 * time.Second}
}

func (s *PaymentService) writeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	t := s.WriteTimeout
	if t <= 0 {
		t = 15 * time.Second
	}
	return context.WithTimeout(ctx, t)
}

// VerifiedPayment carries everything needed to create the ledger row after
// the facilitator verified the authorization.
type VerifiedPayment struct {
	PaymentID     string
	WalletAddress string
	PhraseCount   int
	Phrases       []string
	PaymentHeader string

	// Attribution, never control flow.
	FarcasterFID      *int64
	FarcasterUsername string
	SourcePlatform    string
}

// RecordVerified creates the ledger row for a verified payment:
// payment_status=verified, mint_status=not_started. This is the first and
// only insert of the happy path; everything after is an update by payment id.
func (s *PaymentService) RecordVerified(ctx context.Context, p VerifiedPayment) (*domain.PaymentTransaction, error) {
	wallet, err := NormalizeWallet(p.WalletAddress)
	if err != nil {
		return nil, err
	}
	if err := ValidatePhrases(p.PhraseCount, p.Phrases); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.PaymentID) == "" {
		return nil, ErrPaymentNotFound
	}
	amount, err := PriceUSDC(p.PhraseCount)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	tx := &domain.PaymentTransaction{
		PaymentID:         p.PaymentID,
		WalletAddress:     wallet,
		PhraseCount:       p.PhraseCount,
		AmountUSDC:        amount,
		Phrases:           domain.PhraseList(p.Phrases),
		PaymentHeader:     p.PaymentHeader,
		PaymentStatus:     domain.PaymentVerified,
		MintStatus:        domain.MintNotStarted,
		FarcasterFID:      p.FarcasterFID,
		FarcasterUsername: p.FarcasterUsername,
		SourcePlatform:    platformOrDefault(p.SourcePlatform),
		VerifiedAt:        &now,
	}

	wctx, cancel := s.writeCtx(ctx)
	defer cancel()
	return repo.CreatePayment(wctx, s.DB, tx)
}

// RecordFailed creates a row directly in a failed payment state, used when
// verification itself is rejected so the attempt is still traceable. The
// payment id falls back to a locally generated one when the facilitator
// never assigned any.
func (s *PaymentService) RecordFailed(ctx context.Context, p VerifiedPayment, errMsg, errCode string) (*domain.PaymentTransaction, error) {
	wallet, err := NormalizeWallet(p.WalletAddress)
	if err != nil {
		return nil, err
	}
	if err := ValidatePhrases(p.PhraseCount, p.Phrases); err != nil {
		return nil, err
	}
	amount, err := PriceUSDC(p.PhraseCount)
	if err != nil {
		return nil, err
	}

	paymentID := strings.TrimSpace(p.PaymentID)
	if paymentID == "" {
		paymentID = "local_" + uuid.NewString()
	}

	now := time.Now().UTC()
	tx := &domain.PaymentTransaction{
		PaymentID:         paymentID,
		WalletAddress:     wallet,
		PhraseCount:       p.PhraseCount,
		AmountUSDC:        amount,
		Phrases:           domain.PhraseList(p.Phrases),
		PaymentHeader:     p.PaymentHeader,
		PaymentStatus:     domain.PaymentFailed,
		MintStatus:        domain.MintNotStarted,
		FarcasterFID:      p.FarcasterFID,
		FarcasterUsername: p.FarcasterUsername,
		SourcePlatform:    platformOrDefault(p.SourcePlatform),
		ErrorMessage:      errMsg,
		ErrorCode:         errCode,
		FailedAt:          &now,
	}

	wctx, cancel := s.writeCtx(ctx)
	defer cancel()
	return repo.CreatePayment(wctx, s.DB, tx)
}

// MarkSettled records that the facilitator moved the funds. Called
// immediately after a successful settle: from that moment the transfer is
// irreversible and the row must say so even if everything downstream fails.
func (s *PaymentService) MarkSettled(ctx context.Context, paymentID string) error {
	now := time.Now().UTC()
	return s.update(ctx, paymentID, map[string]any{
		"payment_status": domain.PaymentSettled,
		"settled_at":     now,
	})
}

// MarkPaymentFailed records a failed settlement on the payment dimension.
// The row stays visible in history; the user restarts from signing with a
// fresh nonce.
func (s *PaymentService) MarkPaymentFailed(ctx context.Context, paymentID, errMsg, errCode string) error {
	now := time.Now().UTC()
	return s.update(ctx, paymentID, map[string]any{
		"payment_status": domain.PaymentFailed,
		"error_message":  errMsg,
		"error_code":     errCode,
		"failed_at":      now,
	})
}

// mintFields decorates a mint-dimension update so it also re-asserts the
// payment dimension. Minting only ever starts after settlement, so any mint
// write reaching the row means the funds moved: if the standalone MarkSettled
// write was lost, this repairs payment_status and keeps the row visible to
// the pending-mint recovery query. Rows already marked failed on the payment
// dimension are left alone, and settled_at is preserved once set.
func mintFields(fields map[string]any) map[string]any {
	fields["payment_status"] = gorm.Expr(
		"CASE WHEN payment_status = ? THEN payment_status ELSE ? END",
		domain.PaymentFailed, domain.PaymentSettled,
	)
	fields["settled_at"] = gorm.Expr(
		"CASE WHEN payment_status = ? THEN settled_at ELSE COALESCE(settled_at, ?) END",
		domain.PaymentFailed, time.Now().UTC(),
	)
	return fields
}

// MarkMinting moves the row to mint_status=minting right before the mint
// call. Best-effort at the call site: the subsequent terminal write corrects
// the row if this one is lost.
func (s *PaymentService) MarkMinting(ctx context.Context, paymentID string) error {
	now := time.Now().UTC()
	return s.update(ctx, paymentID, mintFields(map[string]any{
		"mint_status":        domain.MintMinting,
		"minting_started_at": now,
	}))
}

// MarkMinted records the terminal success state. A concrete token id and
// transaction hash are mandatory: a row is never marked minted without them.
func (s *PaymentService) MarkMinted(ctx context.Context, paymentID, tokenID, txHash string) error {
	if strings.TrimSpace(tokenID) == "" || strings.TrimSpace(txHash) == "" {
		return ErrMissingMintResult
	}
	now := time.Now().UTC()
	return s.update(ctx, paymentID, mintFields(map[string]any{
		"mint_status": domain.MintMinted,
		"token_id":    tokenID,
		"tx_hash":     txHash,
		"minted_at":   now,
	}))
}

// MarkMintFailed records a failed mint attempt: on-chain revert, wallet
// rejection, or receipt-parse failure all land here. The row stays
// queryable by wallet until a retry succeeds.
func (s *PaymentService) MarkMintFailed(ctx context.Context, paymentID, errMsg, errCode string) error {
	now := time.Now().UTC()
	return s.update(ctx, paymentID, mintFields(map[string]any{
		"mint_status":   domain.MintFailed,
		"error_message": errMsg,
		"error_code":    errCode,
		"failed_at":     now,
	}))
}

// update applies fields by payment id, translating the repo's protected
// no-match result into ErrPaymentNotFound or ErrAlreadyMinted.
func (s *PaymentService) update(ctx context.Context, paymentID string, fields map[string]any) error {
	wctx, cancel := s.writeCtx(ctx)
	defer cancel()

	err := repo.UpdatePaymentByID(wctx, s.DB, paymentID, fields)
	if !errors.Is(err, repo.ErrNotFound) {
		return err
	}

	// No row matched: either missing or already terminal.
	if tx, gerr := repo.GetPaymentByID(wctx, s.DB, paymentID); gerr == nil && tx.MintStatus == domain.MintMinted {
		return ErrAlreadyMinted
	}
	return ErrPaymentNotFound
}

// Get returns the ledger row for a payment id.
func (s *PaymentService) Get(ctx context.Context, paymentID string) (*domain.PaymentTransaction, error) {
	tx, err := repo.GetPaymentByID(ctx, s.DB, paymentID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrPaymentNotFound
	}
	return tx, err
}

// PendingMint is one recoverable transaction: settled payment, failed mint.
// It carries everything the retry path needs to re-enter minting with the
// original inputs and without a new charge.
type PendingMint struct {
	PaymentID    string     `json:"paymentId"`
	Phrases      []string   `json:"phrases"`
	PhraseCount  int        `json:"phraseCount"`
	AmountUSDC   string     `json:"amountUsdc"`
	FailedAt     *time.Time `json:"failedAt,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	ErrorCode    string     `json:"errorCode,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// PendingMints returns the wallet's settled-but-unminted transactions,
// newest first. Pure read, no side effects.
func (s *PaymentService) PendingMints(ctx context.Context, walletAddress string) ([]PendingMint, error) {
	wallet, err := NormalizeWallet(walletAddress)
	if err != nil {
		return nil, err
	}

	rows, err := repo.ListPaymentsByStatus(ctx, s.DB, wallet, domain.PaymentSettled, domain.MintFailed)
	if err != nil {
		return nil, err
	}

	out := make([]PendingMint, 0, len(rows))
	for _, r := range rows {
		out = append(out, PendingMint{
			PaymentID:    r.PaymentID,
			Phrases:      []string(r.Phrases),
			PhraseCount:  r.PhraseCount,
			AmountUSDC:   r.AmountUSDC,
			FailedAt:     r.FailedAt,
			ErrorMessage: r.ErrorMessage,
			ErrorCode:    r.ErrorCode,
			CreatedAt:    r.CreatedAt,
		})
	}
	return out, nil
}

// HistoryPage returns a page of the wallet's transactions and the total
// count. It applies defaults for invalid page/pageSize.
func (s *PaymentService) HistoryPage(ctx context.Context, walletAddress string, page, pageSize int) ([]domain.PaymentTransaction, int64, error) {
	wallet, err := NormalizeWallet(walletAddress)
	if err != nil {
		return nil, 0, err
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := repo.CountPayments(ctx, s.DB, wallet)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.PaymentTransaction{}, 0, nil
	}

	items, err := repo.ListPaymentsPage(ctx, s.DB, wallet, offset, pageSize)
	return items, total, err
}

func platformOrDefault(p string) string {
	if strings.TrimSpace(p) == "" {
		return domain.PlatformWeb
	}
	return p
}
