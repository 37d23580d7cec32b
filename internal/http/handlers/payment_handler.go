// Payment HTTP handlers.
//
// This file exposes REST endpoints for the x402 payment flow:
//   - POST /verify              (verify a signed authorization, create ledger row)
//   - POST /settle              (settle a verified payment, move funds)
//   - POST /update-mint-status  (record mint progress and terminal results)
//   - GET  /pending-mints       (settled payments whose mint failed)
//   - GET  /payments            (transaction history, paginated, ETag support)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses. All input validation runs before
// any facilitator call; invalid requests never reach the network and never
// create ledger rows.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/basefor-labs/x402-mint-backend/internal/domain"
	"github.com/basefor-labs/x402-mint-backend/internal/repo"
	"github.com/basefor-labs/x402-mint-backend/internal/services"
	"github.com/basefor-labs/x402-mint-backend/internal/utils"
	"github.com/basefor-labs/x402-mint-backend/internal/x402/facilitator"
	"github.com/basefor-labs/x402-mint-backend/internal/x402/header"
)

//
// Service contracts (context-aware)
//

// PaymentLedger defines the ledger operations consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type PaymentLedger interface {
	// RecordVerified creates the ledger row for a facilitator-verified payment.
	RecordVerified(ctx context.Context, p services.VerifiedPayment) (*domain.PaymentTransaction, error)
	// RecordFailed creates a row for a rejected verification attempt.
	RecordFailed(ctx context.Context, p services.VerifiedPayment, errMsg, errCode string) (*domain.PaymentTransaction, error)
	// MarkSettled records that the facilitator moved the funds.
	MarkSettled(ctx context.Context, paymentID string) error
	// MarkPaymentFailed records a failed settlement attempt.
	MarkPaymentFailed(ctx context.Context, paymentID, errMsg, errCode string) error
	// MarkMinting moves a row into the minting state.
	MarkMinting(ctx context.Context, paymentID string) error
	// MarkMinted records the terminal success state with its proof.
	MarkMinted(ctx context.Context, paymentID, tokenID, txHash string) error
	// MarkMintFailed records a failed mint attempt.
	MarkMintFailed(ctx context.Context, paymentID, errMsg, errCode string) error
	// Get returns the ledger row for a payment id.
	Get(ctx context.Context, paymentID string) (*domain.PaymentTransaction, error)
	// PendingMints returns the wallet's settled-but-unminted transactions.
	PendingMints(ctx context.Context, walletAddress string) ([]services.PendingMint, error)
	// HistoryPage returns a page of the wallet's transactions and the total count.
	HistoryPage(ctx context.Context, walletAddress string, page, pageSize int) ([]domain.PaymentTransaction, int64, error)
}

// FacilitatorClient defines the slice of the facilitator API the handlers use.
type FacilitatorClient interface {
	Verify(ctx context.Context, paymentHeader string, p facilitator.VerifyParams) (*facilitator.Result, error)
	Settle(ctx context.Context, paymentID, paymentHeader string) (*facilitator.Result, error)
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints for the payment flow. It depends on
// abstract service interfaces to keep transport concerns separate from
// business logic.
type Handlers struct {
	ledger      PaymentLedger
	facilitator FacilitatorClient
	recipient   string
	tokenSymbol string
}

// New constructs a Handlers instance bound to the given collaborators.
// recipient is the facilitator's intermediate address authorizations must
// name; tokenSymbol names the expected settlement token (e.g. "USDC").
func New(ledger PaymentLedger, fac FacilitatorClient, recipient, tokenSymbol string) *Handlers {
	return &Handlers{ledger: ledger, facilitator: fac, recipient: recipient, tokenSymbol: tokenSymbol}
}

//
// DTOs
//

// VerifyRequest is the JSON payload for verifying a signed payment.
type VerifyRequest struct {
	// WalletAddress is the payer's address (0x + 40 hex chars).
	WalletAddress string `json:"walletAddress" binding:"required" example:"0x1a2b3c4d5e6f7a8b9c0d1e2f3a4b5c6d7e8f9a0b"`
	// PhraseCount selects the price tier (1, 2, or 3).
	PhraseCount int `json:"phraseCount" binding:"required" example:"3"`
	// Phrases are the mint inputs; length must equal PhraseCount.
	Phrases []string `json:"phrases" binding:"required"`
	// PaymentHeader is the base64 x402 envelope with the signed authorization.
	// Required unless PaymentStatus is "failed": a failure can happen before
	// the wallet ever produced a signature.
	PaymentHeader string `json:"paymentHeader"`

	// PaymentStatus set to "failed" records the attempt as a failed row
	// without contacting the facilitator.
	PaymentStatus string `json:"paymentStatus,omitempty" example:"failed"`
	// ErrorMessage and ErrorCode describe the failure when PaymentStatus is "failed".
	ErrorMessage string `json:"errorMessage,omitempty"`
	ErrorCode    string `json:"errorCode,omitempty"`

	FarcasterFID      *int64 `json:"farcasterFid,omitempty"`
	FarcasterUsername string `json:"farcasterUsername,omitempty"`
	SourcePlatform    string `json:"sourcePlatform,omitempty" example:"web"`
}

// VerifyResponse is returned when the attempt was recorded.
type VerifyResponse struct {
	PaymentID     string `json:"paymentId"`
	TransactionID string `json:"transactionId"`
	PaymentStatus string `json:"paymentStatus" example:"verified"`
	AmountUSDC    string `json:"amountUsdc" example:"0.30"`
}

// SettleRequest is the JSON payload for settling a verified payment.
type SettleRequest struct {
	PaymentID     string `json:"paymentId" binding:"required"`
	PaymentHeader string `json:"paymentHeader" binding:"required"`
}

// SettleResponse is returned when funds have moved.
type SettleResponse struct {
	PaymentID     string `json:"paymentId"`
	PaymentStatus string `json:"paymentStatus" example:"settled"`
	TxHash        string `json:"txHash,omitempty"`
}

// UpdateMintStatusRequest is the JSON payload for recording mint progress.
type UpdateMintStatusRequest struct {
	PaymentID  string `json:"paymentId" binding:"required"`
	MintStatus string `json:"mintStatus" binding:"required" example:"minted"`

	// Required when MintStatus is "minted".
	TokenID string `json:"tokenId,omitempty"`
	TxHash  string `json:"txHash,omitempty"`

	// Optional failure detail when MintStatus is "failed".
	ErrorMessage string `json:"errorMessage,omitempty"`
	ErrorCode    string `json:"errorCode,omitempty"`
}

// UpdateMintStatusResponse echoes the applied state.
type UpdateMintStatusResponse struct {
	PaymentID  string `json:"paymentId"`
	MintStatus string `json:"mintStatus"`
}

// PendingMintsResponse wraps the recoverable transactions for a wallet.
type PendingMintsResponse struct {
	PendingMints []services.PendingMint `json:"pendingMints"`
	Count        int                    `json:"count"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListPaymentsResponse wraps a page of transactions and pagination information.
type ListPaymentsResponse struct {
	Payments   []domain.PaymentTransaction `json:"payments"`
	Pagination Pagination                  `json:"pagination"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

// walletParam reads the wallet query parameter, accepting walletAddress as
// an alias for older clients.
func walletParam(c *gin.Context) string {
	if w := c.Query("wallet"); w != "" {
		return w
	}
	return c.Query("walletAddress")
}

// validationStatus maps service validation errors to a 400 message, or
// returns false for non-validation errors.
func validationMessage(err error) (string, bool) {
	switch {
	case errors.Is(err, services.ErrInvalidWallet):
		return "walletAddress must be a 0x-prefixed 40-hex-char address", true
	case errors.Is(err, services.ErrInvalidPhraseCount):
		return "phraseCount must be 1, 2, or 3 and match phrases length", true
	case errors.Is(err, services.ErrPhraseTooLong):
		return fmt.Sprintf("each phrase must be at most %d characters", services.MaxPhraseLen), true
	}
	return "", false
}

//
// Handlers
//

// VerifyPayment godoc
// @ID          verifyPayment
// @Summary     Verify a signed payment authorization
// @Description Validates the request, forwards the x402 payment header to the
// @Description facilitator for verification, and records the verified payment
// @Description on the ledger. No funds move at this step.
// @Tags        Payments
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.VerifyRequest  true  "Verify payload"
//
// @Success     200  {object}  handlers.VerifyResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     402  {object}  handlers.ErrorResponse  "Facilitator rejected the payment"
// @Failure     502  {object}  handlers.ErrorResponse  "Facilitator unreachable"
// @Router      /verify [post]
func (h *Handlers) VerifyPayment(c *gin.Context) {
	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	// Validation before network: nothing below runs on bad input.
	wallet, err := services.NormalizeWallet(req.WalletAddress)
	if err != nil {
		msg, _ := validationMessage(err)
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, msg)
		return
	}
	if err := services.ValidatePhrases(req.PhraseCount, req.Phrases); err != nil {
		msg, _ := validationMessage(err)
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, msg)
		return
	}
	record := services.VerifiedPayment{
		WalletAddress:     wallet,
		PhraseCount:       req.PhraseCount,
		Phrases:           req.Phrases,
		PaymentHeader:     req.PaymentHeader,
		FarcasterFID:      req.FarcasterFID,
		FarcasterUsername: req.FarcasterUsername,
		SourcePlatform:    req.SourcePlatform,
	}

	// A client may report a failed attempt for traceability; the row is
	// recorded directly in a failed state and the facilitator is not called.
	if status := strings.ToLower(strings.TrimSpace(req.PaymentStatus)); status != "" {
		if status != string(domain.PaymentFailed) {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "paymentStatus may only be set to failed")
			return
		}
		tx, err := h.ledger.RecordFailed(c.Request.Context(), record, req.ErrorMessage, req.ErrorCode)
		if err != nil {
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
			return
		}
		ok(c, http.StatusOK, VerifyResponse{
			PaymentID:     tx.PaymentID,
			TransactionID: tx.ID,
			PaymentStatus: string(tx.PaymentStatus),
			AmountUSDC:    tx.AmountUSDC,
		})
		return
	}

	if strings.TrimSpace(req.PaymentHeader) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, services.ErrMissingPaymentHeader.Error())
		return
	}
	if _, err := header.Decode(req.PaymentHeader); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeInvalidHeader, err.Error())
		return
	}
	amount, err := services.PriceUSDC(req.PhraseCount)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "phraseCount must be 1, 2, or 3")
		return
	}

	res, err := h.facilitator.Verify(c.Request.Context(), req.PaymentHeader, facilitator.VerifyParams{
		ExpectedAmount: amount,
		ExpectedToken:  h.tokenSymbol,
		Recipient:      h.recipient,
	})
	if err != nil {
		var facErr *facilitator.Error
		if errors.As(err, &facErr) {
			// Rejected, not unreachable: record the attempt for traceability.
			if _, rerr := h.ledger.RecordFailed(c.Request.Context(), record, facErr.Message, services.CodeFacilitator); rerr != nil {
				fail(c, http.StatusInternalServerError, ErrCodeInternal, rerr.Error())
				return
			}
			fail(c, http.StatusPaymentRequired, ErrCodeVerifyFailed, facErr.Message)
			return
		}
		fail(c, http.StatusBadGateway, ErrCodeVerifyFailed, "payment facilitator unreachable")
		return
	}

	record.PaymentID = res.PaymentID
	tx, err := h.ledger.RecordVerified(c.Request.Context(), record)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	ok(c, http.StatusOK, VerifyResponse{
		PaymentID:     tx.PaymentID,
		TransactionID: tx.ID,
		PaymentStatus: string(tx.PaymentStatus),
		AmountUSDC:    tx.AmountUSDC,
	})
}

// SettlePayment godoc
// @ID          settlePayment
// @Summary     Settle a verified payment
// @Description Executes the verified transfer authorization via the
// @Description facilitator. On success the funds have moved on-chain and the
// @Description ledger row is marked settled.
// @Tags        Payments
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.SettleRequest  true  "Settle payload"
//
// @Success     200  {object}  handlers.SettleResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     402  {object}  handlers.ErrorResponse  "Settlement failed"
// @Failure     404  {object}  handlers.ErrorResponse  "Payment not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Payment not in a settleable state"
// @Router      /settle [post]
func (h *Handlers) SettlePayment(c *gin.Context) {
	var req SettleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	ctx := c.Request.Context()
	tx, err := h.ledger.Get(ctx, req.PaymentID)
	if err != nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "payment not found")
		return
	}
	switch tx.PaymentStatus {
	case domain.PaymentVerified:
	case domain.PaymentSettled:
		// Settling twice is a no-op, not an error.
		ok(c, http.StatusOK, SettleResponse{PaymentID: tx.PaymentID, PaymentStatus: string(domain.PaymentSettled), TxHash: tx.TxHash})
		return
	default:
		fail(c, http.StatusConflict, ErrCodeConflict, "payment is not verified")
		return
	}

	res, err := h.facilitator.Settle(ctx, req.PaymentID, req.PaymentHeader)
	if err != nil {
		// Settlement did not complete; mark the row failed so history shows
		// the attempt. The user restarts from signing with a fresh nonce.
		code := services.CodeSettleFailed
		if errors.Is(err, context.DeadlineExceeded) {
			code = services.CodeNetworkTimeout
		}
		_ = h.ledger.MarkPaymentFailed(ctx, req.PaymentID, err.Error(), code)
		var facErr *facilitator.Error
		if errors.As(err, &facErr) {
			fail(c, http.StatusPaymentRequired, ErrCodeSettleFailed, facErr.Message)
			return
		}
		fail(c, http.StatusBadGateway, ErrCodeSettleFailed, "payment facilitator unreachable")
		return
	}

	// Irreversible from here: persist before responding.
	if err := h.ledger.MarkSettled(ctx, req.PaymentID); err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	ok(c, http.StatusOK, SettleResponse{
		PaymentID:     req.PaymentID,
		PaymentStatus: string(domain.PaymentSettled),
		TxHash:        res.TxHash,
	})
}

// UpdateMintStatus godoc
// @ID          updateMintStatus
// @Summary     Record mint progress for a settled payment
// @Description Moves the mint status dimension of a ledger row: minting,
// @Description minted (requires tokenId and txHash), or failed. The minted
// @Description state is terminal; repeating it is idempotent and later
// @Description updates are rejected.
// @Tags        Payments
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.UpdateMintStatusRequest  true  "Status payload"
//
// @Success     200  {object}  handlers.UpdateMintStatusResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Payment not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Payment already minted"
// @Router      /update-mint-status [post]
func (h *Handlers) UpdateMintStatus(c *gin.Context) {
	var req UpdateMintStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	status := domain.MintStatus(strings.ToLower(strings.TrimSpace(req.MintStatus)))
	ctx := c.Request.Context()

	var err error
	switch status {
	case domain.MintMinting:
		err = h.ledger.MarkMinting(ctx, req.PaymentID)
	case domain.MintMinted:
		if strings.TrimSpace(req.TokenID) == "" || strings.TrimSpace(req.TxHash) == "" {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "minted status requires tokenId and txHash")
			return
		}
		err = h.ledger.MarkMinted(ctx, req.PaymentID, req.TokenID, req.TxHash)
	case domain.MintFailed:
		err = h.ledger.MarkMintFailed(ctx, req.PaymentID, req.ErrorMessage, req.ErrorCode)
	default:
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "mintStatus must be one of: minting, minted, failed")
		return
	}

	switch {
	case err == nil:
	case errors.Is(err, services.ErrAlreadyMinted):
		if status == domain.MintMinted {
			// Terminal state is idempotent: re-reporting success succeeds.
			ok(c, http.StatusOK, UpdateMintStatusResponse{PaymentID: req.PaymentID, MintStatus: string(domain.MintMinted)})
			return
		}
		fail(c, http.StatusConflict, ErrCodeConflict, "payment already minted")
		return
	case errors.Is(err, services.ErrPaymentNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "payment not found")
		return
	case errors.Is(err, services.ErrMissingMintResult):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "minted status requires tokenId and txHash")
		return
	default:
		fail(c, http.StatusInternalServerError, ErrCodeUpdateFailed, err.Error())
		return
	}

	ok(c, http.StatusOK, UpdateMintStatusResponse{PaymentID: req.PaymentID, MintStatus: string(status)})
}

// PendingMints godoc
// @ID          pendingMints
// @Summary     List recoverable mints for a wallet
// @Description Returns the wallet's settled payments whose mint failed, newest
// @Description first. Pure read with no side effects; each entry carries the
// @Description original phrases so a retry re-enters minting without a new
// @Description charge.
// @Tags        Payments
// @Produce     json
//
// @Param       wallet  query  string  true  "Wallet address"  example(0x1a2b3c4d5e6f7a8b9c0d1e2f3a4b5c6d7e8f9a0b)
//
// @Success     200  {object}  handlers.PendingMintsResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Router      /pending-mints [get]
func (h *Handlers) PendingMints(c *gin.Context) {
	wallet := walletParam(c)
	items, err := h.ledger.PendingMints(c.Request.Context(), wallet)
	if err != nil {
		if msg, isValidation := validationMessage(err); isValidation {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, msg)
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, PendingMintsResponse{PendingMints: items, Count: len(items)})
}

// ListPayments godoc
// @ID          listPayments
// @Summary     List payment transactions (paginated)
// @Description Returns a page of the wallet's transactions, newest first.
// @Description Supports weak ETag via If-None-Match and may return 304.
// @Tags        Payments
// @Produce     json
//
// @Param       wallet         query   string  true  "Wallet address"              example(0x1a2b3c4d5e6f7a8b9c0d1e2f3a4b5c6d7e8f9a0b)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"abc123\")
// @Param       page           query   int     false "Page number"                  minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"               minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListPaymentsResponse
// @Header      200  {string} ETag "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /payments [get]
func (h *Handlers) ListPayments(c *gin.Context) {
	ctx := c.Request.Context()
	wallet, err := services.NormalizeWallet(walletParam(c))
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "wallet must be a 0x-prefixed 40-hex-char address")
		return
	}
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort).
	var db *gorm.DB
	if svc, isConcrete := h.ledger.(*services.PaymentService); isConcrete {
		db = svc.DB
	}
	if db != nil {
		count, maxTS, serr := repo.PaymentsStats(ctx, db, wallet)
		if serr == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"payments:%s:%d:%d"`, wallet, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, total, err := h.ledger.HistoryPage(ctx, wallet, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListPaymentsResponse{
		Payments: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}
