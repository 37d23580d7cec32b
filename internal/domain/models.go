// Package domain defines the persistence models for the payment ledger.
// These types are mapped with GORM and form the durable core of the mint
// payment orchestration service: every funds movement and every mint attempt
// leaves a row here, and the row is never deleted.
package domain

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"time"
)

// PaymentStatus tracks the lifecycle of the funds-movement side of a
// transaction. It is independent of MintStatus: money can be settled while
// the NFT was never created, which is exactly the state the pending-mint
// recovery flow targets.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentVerified PaymentStatus = "verified"
	PaymentSettled  PaymentStatus = "settled"
	PaymentFailed   PaymentStatus = "failed"
)

// MintStatus tracks the lifecycle of the on-chain NFT creation side.
type MintStatus string

const (
	MintNotStarted MintStatus = "not_started"
	MintMinting    MintStatus = "minting"
	MintMinted     MintStatus = "minted"
	MintFailed     MintStatus = "failed"
)

// Valid reports whether s is one of the four known mint states.
func (s MintStatus) Valid() bool {
	switch s {
	case MintNotStarted, MintMinting, MintMinted, MintFailed:
		return true
	}
	return false
}

// Source platforms recorded for attribution. They never affect control flow.
const (
	PlatformWeb       = "web"
	PlatformFarcaster = "farcaster_miniapp"
	PlatformMobile    = "mobile"
)

// PaymentTransaction is the ledger row for one payment attempt. A row is
// created exactly once, at verification time (or directly in a failed state
// when verification itself fails), and then mutated only by forward status
// transitions keyed by PaymentID. It doubles as the audit trail and as the
// source of truth for no-repay mint retries.
//
// Fields:
//   - ID: UUID primary key (char(36)), internal only.
//   - PaymentID: facilitator-assigned payment identifier (or a locally
//     generated fallback); unique, and the only key the orchestrator holds
//     across async steps.
//   - WalletAddress: lowercased 0x-hex payer address; indexed, not unique.
//   - PhraseCount: 1..3, determines the charged amount via the fixed price table.
//   - AmountUSDC: decimal string price, never user-supplied.
//   - Phrases: the user's custom mint inputs, persisted so a failed mint can
//     be retried with identical inputs (stored as a JSON array).
//   - PaymentHeader: encoded authorization envelope; may be empty for rows
//     recorded after a failure that happened before signing.
//   - PaymentStatus / MintStatus: the two independent lifecycle dimensions.
//   - TokenID / TxHash: populated only once MintStatus reaches "minted".
//   - FarcasterFID / FarcasterUsername / SourcePlatform: attribution only.
//   - ErrorMessage / ErrorCode: populated on any failed transition.
//   - transition timestamps: each set exactly once, never cleared.
type PaymentTransaction struct {
	ID            string `json:"id" gorm:"type:char(36);primaryKey"`
	PaymentID     string `json:"payment_id" gorm:"type:varchar(128);not null;uniqueIndex:ux_payment_id"`
	WalletAddress string `json:"wallet_address" gorm:"type:varchar(42);not null;index:idx_wallet_status,priority:1"`

	PhraseCount int        `json:"phrase_count" gorm:"not null;check:phrase_count BETWEEN 1 AND 3"`
	AmountUSDC  string     `json:"amount_usdc" gorm:"type:varchar(16);not null"`
	Phrases     PhraseList `json:"phrases" gorm:"type:text;not null"`

	PaymentHeader      string `json:"payment_header,omitempty" gorm:"type:text"`
	SourceNetwork      string `json:"source_network" gorm:"type:varchar(32);not null;default:'base'"`
	DestinationNetwork string `json:"destination_network" gorm:"type:varchar(32);not null;default:'base'"`

	PaymentStatus PaymentStatus `json:"payment_status" gorm:"type:varchar(16);not null;index:idx_wallet_status,priority:2;check:payment_status IN ('pending','verified','settled','failed')"`
	MintStatus    MintStatus    `json:"mint_status" gorm:"type:varchar(16);not null;index:idx_wallet_status,priority:3;check:mint_status IN ('not_started','minting','minted','failed')"`

	TokenID string `json:"token_id,omitempty" gorm:"type:varchar(78)"`
	TxHash  string `json:"tx_hash,omitempty" gorm:"type:varchar(66)"`

	FarcasterFID      *int64 `json:"farcaster_fid,omitempty"`
	FarcasterUsername string `json:"farcaster_username,omitempty" gorm:"type:varchar(64)"`
	SourcePlatform    string `json:"source_platform" gorm:"type:varchar(32);not null;default:'web'"`

	ErrorMessage string `json:"error_message,omitempty" gorm:"type:text"`
	ErrorCode    string `json:"error_code,omitempty" gorm:"type:varchar(64)"`

	VerifiedAt       *time.Time `json:"verified_at,omitempty"`
	SettledAt        *time.Time `json:"settled_at,omitempty"`
	MintingStartedAt *time.Time `json:"minting_started_at,omitempty"`
	MintedAt         *time.Time `json:"minted_at,omitempty"`
	FailedAt         *time.Time `json:"failed_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// TableName returns the database table name for PaymentTransaction.
func (PaymentTransaction) TableName() string { return "payment_transactions" }

// PhraseList stores up to three mint phrases as a JSON-encoded TEXT column.
// SQLite has no native array type, and the phrases are only ever read back
// as a unit for retries, so a serialized column keeps the schema flat.
type PhraseList []string

var (
	_ driver.Valuer = PhraseList(nil)
	_ sql.Scanner   = (*PhraseList)(nil)
)

// Value implements driver.Valuer for GORM.
func (p PhraseList) Value() (driver.Value, error) {
	if p == nil {
		p = PhraseList{}
	}
	b, err := json.Marshal([]string(p))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner for GORM.
func (p *PhraseList) Scan(src any) error {
	if src == nil {
		*p = PhraseList{}
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		*p = PhraseList{}
		return nil
	}
	if len(raw) == 0 {
		*p = PhraseList{}
		return nil
	}
	return json.Unmarshal(raw, (*[]string)(p))
}
