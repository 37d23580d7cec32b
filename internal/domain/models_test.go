package domain

import (
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newDomainDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	return db
}

func TestTableNames(t *testing.T) {
	if (PaymentTransaction{}).TableName() != "payment_transactions" {
		t.Fatalf("PaymentTransaction.TableName() = %q", (PaymentTransaction{}).TableName())
	}
	if (Idempotency{}).TableName() != "idempotency" {
		t.Fatalf("Idempotency.TableName() = %q", (Idempotency{}).TableName())
	}
}

func TestMintStatus_Valid(t *testing.T) {
	for _, s := range []MintStatus{MintNotStarted, MintMinting, MintMinted, MintFailed} {
		if !s.Valid() {
			t.Fatalf("%q should be valid", s)
		}
	}
	for _, s := range []MintStatus{"", "done", "MINTED", "pending"} {
		if s.Valid() {
			t.Fatalf("%q should be invalid", s)
		}
	}
}

func TestPhraseList_Value(t *testing.T) {
	v, err := PhraseList{"gm", "wagmi"}.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}
	if v.(string) != `["gm","wagmi"]` {
		t.Fatalf("Value = %v", v)
	}

	// A nil list serializes as an empty array, never NULL.
	v, err = PhraseList(nil).Value()
	if err != nil {
		t.Fatalf("Value(nil): %v", err)
	}
	if v.(string) != `[]` {
		t.Fatalf("Value(nil) = %v", v)
	}
}

func TestPhraseList_Scan(t *testing.T) {
	var p PhraseList
	if err := p.Scan(`["a","b","c"]`); err != nil {
		t.Fatalf("Scan string: %v", err)
	}
	if len(p) != 3 || p[2] != "c" {
		t.Fatalf("scanned %v", p)
	}

	var fromBytes PhraseList
	if err := fromBytes.Scan([]byte(`["x"]`)); err != nil {
		t.Fatalf("Scan bytes: %v", err)
	}
	if len(fromBytes) != 1 || fromBytes[0] != "x" {
		t.Fatalf("scanned %v", fromBytes)
	}

	// nil, empty, and unknown source types all yield an empty list.
	for _, src := range []any{nil, "", []byte{}, 42} {
		var q PhraseList
		if err := q.Scan(src); err != nil {
			t.Fatalf("Scan(%v): %v", src, err)
		}
		if len(q) != 0 {
			t.Fatalf("Scan(%v) = %v, want empty", src, q)
		}
	}

	var bad PhraseList
	if err := bad.Scan(`{not json`); err == nil {
		t.Fatalf("expected error for malformed JSON")
	}
}

func TestMigration_IndexesAndChecks(t *testing.T) {
	db := newDomainDB(t)
	if err := db.AutoMigrate(&PaymentTransaction{}, &Idempotency{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	m := db.Migrator()

	if !m.HasIndex(&PaymentTransaction{}, "ux_payment_id") {
		t.Fatalf("expected unique index ux_payment_id")
	}
	if !m.HasIndex(&PaymentTransaction{}, "idx_wallet_status") {
		t.Fatalf("expected composite index idx_wallet_status")
	}
	if !m.HasIndex(&Idempotency{}, "ux_wallet_scope_key") {
		t.Fatalf("expected unique index ux_wallet_scope_key")
	}

	now := time.Now().UTC()
	tx := &PaymentTransaction{
		ID:            "t1",
		PaymentID:     "pay_1",
		WalletAddress: "0x1a2b3c4d5e6f7a8b9c0d1e2f3a4b5c6d7e8f9a0b",
		PhraseCount:   2,
		AmountUSDC:    "0.40",
		Phrases:       PhraseList{"a", "b"},
		PaymentStatus: PaymentVerified,
		MintStatus:    MintNotStarted,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := db.Create(tx).Error; err != nil {
		t.Fatalf("insert: %v", err)
	}

	// Check constraints reject out-of-range values.
	bad := *tx
	bad.ID = "t2"
	bad.PaymentID = "pay_2"
	bad.PhraseCount = 9
	if err := db.Create(&bad).Error; err == nil {
		t.Fatalf("expected check constraint on phrase_count")
	}

	badStatus := *tx
	badStatus.ID = "t3"
	badStatus.PaymentID = "pay_3"
	badStatus.PaymentStatus = "refunded"
	if err := db.Create(&badStatus).Error; err == nil {
		t.Fatalf("expected check constraint on payment_status")
	}

	var got PaymentTransaction
	if err := db.First(&got, "payment_id = ?", "pay_1").Error; err != nil {
		t.Fatalf("readback: %v", err)
	}
	if got.SourceNetwork != "base" || got.DestinationNetwork != "base" {
		t.Fatalf("network defaults not applied: %s/%s", got.SourceNetwork, got.DestinationNetwork)
	}
	if got.SourcePlatform != PlatformWeb {
		t.Fatalf("platform default not applied: %s", got.SourcePlatform)
	}
	if len(got.Phrases) != 2 || got.Phrases[0] != "a" {
		t.Fatalf("phrases column did not round trip: %v", got.Phrases)
	}
}
