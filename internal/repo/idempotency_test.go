package repo

import (
	"context"
	"testing"
	"time"

	"github.com/basefor-labs/x402-mint-backend/internal/domain"
)

func TestGetIdempotency_EmptyWallet_ReturnsNotFound(t *testing.T) {
	db := newRepoDB(t, &domain.Idempotency{})
	now := time.Now().UTC()

	rec, err := GetIdempotency(context.Background(), db, "   ", "/x402/verify", "k1", now)
	if rec != nil || err != ErrNotFound {
		t.Fatalf("expected (nil, ErrNotFound) for empty wallet, got (%v, %v)", rec, err)
	}
}

func TestGetIdempotency_ExpiredOrMissing_ReturnsNotFound(t *testing.T) {
	db := newRepoDB(t, &domain.Idempotency{})
	now := time.Now().UTC()

	// Insert an expired record (expires_at <= now)
	exp := &domain.Idempotency{
		ID:            "expired",
		WalletAddress: repoWallet,
		Scope:         "/x402/verify",
		Key:           "k1",
		PaymentID:     "pay_old",
		Status:        200,
		CreatedAt:     now.Add(-2 * time.Hour),
		ExpiresAt:     now.Add(-time.Hour),
	}
	if err := db.Create(exp).Error; err != nil {
		t.Fatalf("seed expired: %v", err)
	}

	rec, err := GetIdempotency(context.Background(), db, repoWallet, "/x402/verify", "k1", now)
	if rec != nil || err != ErrNotFound {
		t.Fatalf("expected (nil, ErrNotFound) for expired, got (%v, %v)", rec, err)
	}

	rec2, err2 := GetIdempotency(context.Background(), db, repoWallet, "/x402/verify", "missing", now)
	if rec2 != nil || err2 != ErrNotFound {
		t.Fatalf("expected (nil, ErrNotFound) for missing, got (%v, %v)", rec2, err2)
	}
}

func TestGetIdempotency_Success(t *testing.T) {
	db := newRepoDB(t, &domain.Idempotency{})
	now := time.Now().UTC()

	ok := &domain.Idempotency{
		ID:            "ok",
		WalletAddress: repoWallet,
		Scope:         "/x402/verify",
		Key:           "k2",
		PaymentID:     "pay_1",
		Status:        200,
		CreatedAt:     now.Add(-time.Minute),
		ExpiresAt:     now.Add(time.Hour),
	}
	if err := db.Create(ok).Error; err != nil {
		t.Fatalf("seed ok: %v", err)
	}

	rec, err := GetIdempotency(context.Background(), db, repoWallet, "/x402/verify", "k2", now)
	if err != nil {
		t.Fatalf("GetIdempotency success err: %v", err)
	}
	if rec == nil || rec.PaymentID != "pay_1" || rec.Status != 200 {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestGetIdempotency_ScopeSeparatesEndpoints(t *testing.T) {
	db := newRepoDB(t, &domain.Idempotency{})
	now := time.Now().UTC()

	if _, err := CreateIdempotency(context.Background(), db, repoWallet, "/x402/verify", "shared", "pay_v", 200, time.Hour); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// The same key under a different scope is a miss, not a replay.
	rec, err := GetIdempotency(context.Background(), db, repoWallet, "/x402/settle", "shared", now)
	if rec != nil || err != ErrNotFound {
		t.Fatalf("expected miss across scopes, got (%v, %v)", rec, err)
	}
}

func TestCreateIdempotency_SuccessAndDuplicate(t *testing.T) {
	db := newRepoDB(t, &domain.Idempotency{})

	ttl := 90 * time.Minute
	start := time.Now().UTC()

	rec, err := CreateIdempotency(context.Background(), db, repoWallet, "/x402/verify", "k9", "pay_9", 200, ttl)
	if err != nil {
		t.Fatalf("CreateIdempotency error: %v", err)
	}
	if rec == nil || rec.ID == "" || rec.WalletAddress != repoWallet || rec.Key != "k9" || rec.PaymentID != "pay_9" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	// ExpiresAt should be in (start, start+2h), a loose bound to avoid timing flakes.
	if !(rec.ExpiresAt.After(start) && rec.ExpiresAt.Before(start.Add(2*time.Hour))) {
		t.Fatalf("unexpected ExpiresAt: %v", rec.ExpiresAt)
	}

	// Duplicate (same wallet, scope, key) should map to ErrDuplicate
	_, err2 := CreateIdempotency(context.Background(), db, repoWallet, "/x402/verify", "k9", "pay_other", 200, ttl)
	if err2 != ErrDuplicate {
		t.Fatalf("expected ErrDuplicate, got %v", err2)
	}
}

// Generic DB error path: attempt insert without migrating the table.
func TestCreateIdempotency_Error_NoTable(t *testing.T) {
	db := newRepoDB(t) // intentionally NOT migrating idempotency
	_, err := CreateIdempotency(context.Background(), db, repoWallet, "/x402/verify", "kX", "pX", 200, time.Minute)
	if err == nil {
		t.Fatalf("expected error when table is missing")
	}
	if err == ErrDuplicate {
		t.Fatalf("expected non-duplicate error, got ErrDuplicate")
	}
}
