package store

import (
	"context"
	"fmt"

	"ticket-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// The inventory ledger moves units between the available, held and sold
// counters of a ticket type. Each move is a single conditional UPDATE so the
// database serializes concurrent callers; no application-level locking is
// involved. The sum of the three counters always equals quantity_total.

// TryHold atomically moves quantity from available to held. Returns false
// (not an error) when fewer than quantity units are available.
func (s *Store) TryHold(ctx context.Context, ticketTypeID int64, quantity int) (bool, error) {
	return tryHoldTx(ctx, s.db, ticketTypeID, quantity)
}

// Release moves quantity from held back to available. Used on cancellation
// and expiry.
func (s *Store) Release(ctx context.Context, ticketTypeID int64, quantity int) error {
	return releaseTx(ctx, s.db, ticketTypeID, quantity)
}

// Settle moves quantity from held to sold. Used on payment confirmation.
// The guard against double settlement is the order status transition, not
// this call.
func (s *Store) Settle(ctx context.Context, ticketTypeID int64, quantity int) error {
	return settleTx(ctx, s.db, ticketTypeID, quantity)
}

// The tx variants take sqlx.ExtContext so the same moves can run standalone
// against the pool or inside an order transaction.

func tryHoldTx(ctx context.Context, e sqlx.ExtContext, ticketTypeID int64, quantity int) (bool, error) {
	res, err := e.ExecContext(ctx,
		`UPDATE ticket_types
		 SET quantity_available = quantity_available - $1,
		     quantity_held = quantity_held + $1,
		     updated_at = NOW()
		 WHERE id = $2 AND quantity_available >= $1`,
		quantity, ticketTypeID)
	if err != nil {
		return false, fmt.Errorf("failed to hold inventory: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func releaseTx(ctx context.Context, e sqlx.ExtContext, ticketTypeID int64, quantity int) error {
	res, err := e.ExecContext(ctx,
		`UPDATE ticket_types
		 SET quantity_held = quantity_held - $1,
		     quantity_available = quantity_available + $1,
		     updated_at = NOW()
		 WHERE id = $2 AND quantity_held >= $1`,
		quantity, ticketTypeID)
	if err != nil {
		return fmt.Errorf("failed to release inventory: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("release of %d units for ticket type %d exceeds held count", quantity, ticketTypeID)
	}
	return nil
}

func settleTx(ctx context.Context, e sqlx.ExtContext, ticketTypeID int64, quantity int) error {
	res, err := e.ExecContext(ctx,
		`UPDATE ticket_types
		 SET quantity_held = quantity_held - $1,
		     quantity_sold = quantity_sold + $1,
		     updated_at = NOW()
		 WHERE id = $2 AND quantity_held >= $1`,
		quantity, ticketTypeID)
	if err != nil {
		return fmt.Errorf("failed to settle inventory: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("settlement of %d units for ticket type %d exceeds held count", quantity, ticketTypeID)
	}
	return nil
}

// AnyAvailability reports whether at least one active ticket type for the
// event still has units available. Used by the waitlist backfill re-check.
func (s *Store) AnyAvailability(ctx context.Context, eventID int64) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		`SELECT EXISTS(
		   SELECT 1 FROM ticket_types
		   WHERE event_id = $1 AND status = $2 AND quantity_available > 0)`,
		eventID, models.TicketTypeStatusActive)
	return exists, err
}
