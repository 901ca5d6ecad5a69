package service

import (
	"context"
	"errors"
	"fmt"

	"ticket-service/internal/models"
	"ticket-service/internal/util"
)

// ErrInvalidRequest marks request-shape problems (empty item list,
// non-positive quantities) caught before any domain logic runs.
var ErrInvalidRequest = errors.New("invalid request")

// ReservationService is the thin caller-facing orchestration around the
// order state machine. It validates request shape; all concurrency control
// comes from the inventory ledger underneath.
type ReservationService struct {
	orders *OrderService
}

// NewReservationService creates a new reservation service
func NewReservationService(orders *OrderService) *ReservationService {
	return &ReservationService{orders: orders}
}

// CreateOrder validates the request shape and opens the order, returning it
// together with its minted tickets.
func (rs *ReservationService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*models.Order, []models.Ticket, error) {
	ctx, span := util.StartSpan(ctx, "ReservationService.CreateOrder")
	defer span.End()

	if err := validateShape(req); err != nil {
		return nil, nil, err
	}

	order, err := rs.orders.Create(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	tickets, err := rs.orders.store.GetTicketsByOrderID(ctx, order.ID)
	if err != nil {
		return nil, nil, err
	}

	return order, tickets, nil
}

func validateShape(req *CreateOrderRequest) error {
	if req.UserID <= 0 {
		return fmt.Errorf("missing user: %w", ErrInvalidRequest)
	}
	if req.EventID <= 0 {
		return fmt.Errorf("missing event: %w", ErrInvalidRequest)
	}
	if len(req.Items) == 0 {
		return fmt.Errorf("order has no items: %w", ErrInvalidRequest)
	}

	seen := make(map[int64]bool, len(req.Items))
	for _, item := range req.Items {
		if item.Quantity <= 0 {
			return fmt.Errorf("quantity must be positive for ticket type %d: %w",
				item.TicketTypeID, ErrInvalidRequest)
		}
		if seen[item.TicketTypeID] {
			return fmt.Errorf("duplicate ticket type %d: %w", item.TicketTypeID, ErrInvalidRequest)
		}
		seen[item.TicketTypeID] = true
	}
	return nil
}
