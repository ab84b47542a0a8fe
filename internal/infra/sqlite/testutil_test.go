package sqlite

import (
	"testing"
	"time"

	"github.com/prepspace/claimd/internal/domain"
)

// newTestDB opens an in-memory database for a single test.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// newTestClaim builds a submitted claim ready for transition tests.
func newTestClaim(id string, status domain.Status) *domain.Claim {
	now := time.Now().UTC().Truncate(time.Second)
	return &domain.Claim{
		ID:                   id,
		BookingID:            "bk-1",
		BookingType:          domain.BookingKitchen,
		ChefID:               "chef-1",
		ManagerID:            "mgr-1",
		LocationID:           "loc-1",
		Status:               status,
		ClaimedAmountCents:   5000,
		CreatedAt:            now,
		ChefResponseDeadline: now.Add(72 * time.Hour),
	}
}
