package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"ticket-service/internal/models"
)

// typeCount is a per-ticket-type unit count within one order.
type typeCount struct {
	TicketTypeID int64 `db:"ticket_type_id"`
	Quantity     int   `db:"quantity"`
}

// CreateOrderTx persists a new PENDING order together with its minted
// tickets and the inventory holds backing them, as a single transaction.
// If any hold cannot be satisfied the whole transaction rolls back and
// models.ErrInsufficientInventory is returned (all-or-nothing).
func (s *Store) CreateOrderTx(ctx context.Context, order *models.Order, tickets []models.Ticket) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, c := range countByType(tickets) {
		held, err := tryHoldTx(ctx, tx, c.TicketTypeID, c.Quantity)
		if err != nil {
			return err
		}
		if !held {
			return fmt.Errorf("ticket type %d: %w", c.TicketTypeID, models.ErrInsufficientInventory)
		}
	}

	query := `
		INSERT INTO orders (order_number, user_id, event_id, status, total_amount, idempotency_key, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`

	err = tx.QueryRowxContext(ctx, query,
		order.OrderNumber, order.UserID, order.EventID, order.Status,
		order.TotalAmount, order.IdempotencyKey, order.ExpiresAt).
		Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	if err := insertTicketsTx(ctx, tx, order.ID, tickets); err != nil {
		return err
	}

	return tx.Commit()
}

// insertTicketsTx bulk-inserts the minted tickets for an order.
func insertTicketsTx(ctx context.Context, tx execTx, orderID int64, tickets []models.Ticket) error {
	if len(tickets) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO tickets (order_id, ticket_type_id, barcode, price_paid, status) VALUES ")
	args := make([]interface{}, 0, len(tickets)*5)
	for i, t := range tickets {
		if i > 0 {
			sb.WriteString(",")
		}
		base := i * 5
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d)", base+1, base+2, base+3, base+4, base+5)
		args = append(args, orderID, t.TicketTypeID, t.Barcode, t.PricePaid, t.Status)
	}

	if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("failed to insert tickets: %w", err)
	}
	return nil
}

type execTx interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// ConfirmOrderTx transitions an order PENDING -> PAID and settles its held
// inventory as one transaction. The status guard is part of the same UPDATE
// that writes PAID, so two concurrent confirmations serialize at the store:
// the loser observes models.ErrInvalidTransition and no inventory moves
// twice.
func (s *Store) ConfirmOrderTx(ctx context.Context, orderID int64) (*models.Order, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var order models.Order
	err = tx.GetContext(ctx, &order,
		`UPDATE orders SET status = $1, updated_at = NOW()
		 WHERE id = $2 AND status = $3
		 RETURNING *`,
		models.OrderStatusPaid, orderID, models.OrderStatusPending)
	if err == sql.ErrNoRows {
		return nil, s.classifyGuardMiss(ctx, orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}

	counts, err := ticketCountsTx(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	for _, c := range counts {
		if err := settleTx(ctx, tx, c.TicketTypeID, c.Quantity); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit confirmation: %w", err)
	}
	return &order, nil
}

// CancelOrderTx transitions an order PENDING -> CANCELLED, releases its held
// inventory and marks its tickets CANCELLED, as one transaction. PAID orders
// are rejected (refunds are a separate flow), as are already-cancelled ones.
func (s *Store) CancelOrderTx(ctx context.Context, orderID int64) (*models.Order, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var order models.Order
	err = tx.GetContext(ctx, &order,
		`UPDATE orders SET status = $1, updated_at = NOW()
		 WHERE id = $2 AND status = $3
		 RETURNING *`,
		models.OrderStatusCancelled, orderID, models.OrderStatusPending)
	if err == sql.ErrNoRows {
		return nil, s.classifyGuardMiss(ctx, orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}

	counts, err := ticketCountsTx(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	for _, c := range counts {
		if err := releaseTx(ctx, tx, c.TicketTypeID, c.Quantity); err != nil {
			return nil, err
		}
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE tickets SET status = $1 WHERE order_id = $2 AND status = $3",
		models.TicketStatusCancelled, orderID, models.TicketStatusValid)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel tickets: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit cancellation: %w", err)
	}
	return &order, nil
}

// classifyGuardMiss distinguishes a missing order from one whose status
// guard rejected the transition.
func (s *Store) classifyGuardMiss(ctx context.Context, orderID int64) error {
	var status string
	err := s.db.GetContext(ctx, &status, "SELECT status FROM orders WHERE id = $1", orderID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("order %d: %w", orderID, models.ErrNotFound)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("order %d is %s: %w", orderID, status, models.ErrInvalidTransition)
}

func ticketCountsTx(ctx context.Context, tx queryTx, orderID int64) ([]typeCount, error) {
	var counts []typeCount
	err := tx.SelectContext(ctx, &counts,
		`SELECT ticket_type_id, COUNT(*) AS quantity
		 FROM tickets
		 WHERE order_id = $1 AND status = $2
		 GROUP BY ticket_type_id`,
		orderID, models.TicketStatusValid)
	if err != nil {
		return nil, fmt.Errorf("failed to count order tickets: %w", err)
	}
	return counts, nil
}

type queryTx interface {
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByIdempotencyKey retrieves an order by idempotency key. Returns
// nil without error when no order carries the key. The empty string is not a
// key and never matches the keyless orders stored with it.
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	if key == "" {
		return nil, nil
	}
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE idempotency_key = $1", key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetTicketsByOrderID retrieves all tickets minted for an order
func (s *Store) GetTicketsByOrderID(ctx context.Context, orderID int64) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := s.db.SelectContext(ctx, &tickets,
		"SELECT * FROM tickets WHERE order_id = $1 ORDER BY id", orderID)
	return tickets, err
}

// ExpiredOrders selects a bounded batch of PENDING orders whose hold
// deadline has passed, oldest deadline first.
func (s *Store) ExpiredOrders(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		`SELECT * FROM orders
		 WHERE status = $1 AND expires_at < $2
		 ORDER BY expires_at
		 LIMIT $3`,
		models.OrderStatusPending, cutoff, limit)
	return orders, err
}

// countByType groups minted tickets into per-type hold quantities, ordered
// by ticket type id. Concurrent multi-type orders then lock ticket_types
// rows in the same order, which cannot deadlock.
func countByType(tickets []models.Ticket) []typeCount {
	byType := make(map[int64]int)
	for _, t := range tickets {
		byType[t.TicketTypeID]++
	}

	counts := make([]typeCount, 0, len(byType))
	for typeID, qty := range byType {
		counts = append(counts, typeCount{TicketTypeID: typeID, Quantity: qty})
	}
	sort.Slice(counts, func(i, j int) bool {
		return counts[i].TicketTypeID < counts[j].TicketTypeID
	})
	return counts
}
