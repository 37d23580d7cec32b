// Package domain defines the persistence models for the payment ledger.
package domain

import "time"

// Idempotency records a previously processed payment submission, keyed by
// (wallet_address, scope, key). The verify endpoint uses it to absorb
// duplicate POSTs from rapid repeated clicks: a replayed Idempotency-Key
// returns the originally created transaction instead of prompting a second
// payment flow.
type Idempotency struct {
	ID            string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	WalletAddress string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_wallet_scope_key,priority:1"`
	Scope         string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_wallet_scope_key,priority:2"`
	Key           string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_wallet_scope_key,priority:3"`
	PaymentID     string    `gorm:"type:TEXT NOT NULL"`
	Status        int       `gorm:"type:INTEGER NOT NULL"`
	CreatedAt     time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt     time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
