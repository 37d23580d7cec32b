// Package repo implements the data persistence layer for the payment ledger,
// backed by GORM. This file provides repository functions for the
// PaymentTransaction model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They
// follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a transaction is not found, functions return ErrNotFound
//     (an alias of gorm.ErrRecordNotFound).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
//
// Every mutation after the initial insert is keyed by payment_id, never by
// row id: the payment identifier is the only key the orchestrator holds
// across async steps. The terminal "minted" state is protected at the SQL
// level — see UpdatePaymentByID.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/basefor-labs/x402-mint-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreatePayment inserts a new ledger row. The internal row id is a generated
// UUID; CreatedAt is set to UTC. The caller provides PaymentID and statuses.
//
// On success, it returns the persisted transaction. On failure (including a
// duplicate payment_id), it returns a DB error.
func CreatePayment(ctx context.Context, db *gorm.DB, tx *domain.PaymentTransaction) (*domain.PaymentTransaction, error) {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	if err := db.WithContext(ctx).Create(tx).Error; err != nil {
		return nil, err
	}
	return tx, nil
}

// GetPaymentByID fetches a single transaction by its payment identifier, or
// ErrNotFound if missing.
func GetPaymentByID(ctx context.Context, db *gorm.DB, paymentID string) (*domain.PaymentTransaction, error) {
	var tx domain.PaymentTransaction
	err := db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		First(&tx).Error
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// UpdatePaymentByID applies a partial update to the row with the given
// payment identifier. Concurrent writers get last-write-wins per field.
//
// Rows already in the terminal minted state are excluded from the update:
// once a token id is recorded, nothing may change it or revert the status.
// An update that matches no row (missing, or minted-and-protected) returns
// ErrNotFound so callers can distinguish "nothing happened".
func UpdatePaymentByID(ctx context.Context, db *gorm.DB, paymentID string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	fields["updated_at"] = time.Now().UTC()

	res := db.WithContext(ctx).
		Model(&domain.PaymentTransaction{}).
		Where("payment_id = ? AND mint_status <> ?", paymentID, domain.MintMinted).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPaymentsByStatus returns all transactions for a wallet matching both
// status dimensions, ordered by creation time descending. The pending-mint
// recovery query is ListPaymentsByStatus(wallet, settled, failed).
func ListPaymentsByStatus(ctx context.Context, db *gorm.DB, wallet string, payStatus domain.PaymentStatus, mintStatus domain.MintStatus) ([]domain.PaymentTransaction, error) {
	var out []domain.PaymentTransaction
	err := db.WithContext(ctx).
		Where("wallet_address = ? AND payment_status = ? AND mint_status = ?", wallet, payStatus, mintStatus).
		Order("created_at desc").
		Find(&out).Error
	return out, err
}

// CountPayments returns the total number of transactions for a wallet.
func CountPayments(ctx context.Context, db *gorm.DB, wallet string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.PaymentTransaction{}).
		Where("wallet_address = ?", wallet).
		Count(&total).Error
	return total, err
}

// ListPaymentsPage returns a paginated slice of a wallet's transactions,
// ordered by creation time descending. Use CountPayments for the total.
//
// The caller is responsible for computing offset and limit (e.g., (page-1)*pageSize).
func ListPaymentsPage(ctx context.Context, db *gorm.DB, wallet string, offset, limit int) ([]domain.PaymentTransaction, error) {
	var out []domain.PaymentTransaction
	err := db.WithContext(ctx).
		Where("wallet_address = ?", wallet).
		Order("created_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
