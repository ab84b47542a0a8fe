package sqlite

import (
	"context"
	"database/sql"

	"github.com/prepspace/claimd/internal/domain"
)

// ─── Booking Operations ─────────────────────────────────────────────────────
// Bookings are owned by the external booking subsystem; this is the
// engine's read model. The DB satisfies domain.BookingDirectory.

// UpsertBooking inserts or refreshes a booking row.
func (db *DB) UpsertBooking(b *domain.Booking) error {
	_, err := db.db.Exec(`
		INSERT INTO bookings (id, booking_type, status, chef_id, manager_id, location_id,
			payment_customer_ref, payment_method_ref, manager_account_ref, linked_storage_booking_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(booking_type, id) DO UPDATE SET
			status                    = excluded.status,
			chef_id                   = excluded.chef_id,
			manager_id                = excluded.manager_id,
			location_id               = excluded.location_id,
			payment_customer_ref      = excluded.payment_customer_ref,
			payment_method_ref        = excluded.payment_method_ref,
			manager_account_ref       = excluded.manager_account_ref,
			linked_storage_booking_id = excluded.linked_storage_booking_id
	`, b.ID, string(b.Type), b.Status, b.ChefID, b.ManagerID, b.LocationID,
		b.PaymentCustomerRef, b.PaymentMethodRef, b.ManagerAccountRef, b.LinkedStorageBookingID)
	return err
}

// GetBooking retrieves a booking by type and id.
func (db *DB) GetBooking(ctx context.Context, bookingType domain.BookingType, id string) (*domain.Booking, error) {
	var b domain.Booking
	var typ string
	err := db.db.QueryRowContext(ctx, `
		SELECT id, booking_type, status, chef_id, manager_id, location_id,
			payment_customer_ref, payment_method_ref, manager_account_ref, linked_storage_booking_id
		FROM bookings WHERE booking_type = ? AND id = ?
	`, string(bookingType), id).Scan(&b.ID, &typ, &b.Status, &b.ChefID,
		&b.ManagerID, &b.LocationID, &b.PaymentCustomerRef, &b.PaymentMethodRef,
		&b.ManagerAccountRef, &b.LinkedStorageBookingID)
	if err == sql.ErrNoRows {
		return nil, domain.ErrBookingNotFound
	}
	if err != nil {
		return nil, err
	}
	b.Type = domain.BookingType(typ)
	return &b, nil
}
