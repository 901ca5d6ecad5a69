package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"ticket-service/internal/models"
	"ticket-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Cancellation reasons carried on OrderCancelled events.
const (
	CancelReasonUserRequested = "user_requested"
	CancelReasonHoldExpired   = "hold_expired"
)

// OrderStore is the persistence surface the order state machine needs. The
// *store.Store satisfies it; tests use an in-memory implementation.
type OrderStore interface {
	GetEvent(ctx context.Context, id int64) (*models.Event, error)
	GetTicketTypesByIDs(ctx context.Context, ids []int64) ([]models.TicketType, error)
	CreateOrderTx(ctx context.Context, order *models.Order, tickets []models.Ticket) error
	ConfirmOrderTx(ctx context.Context, orderID int64) (*models.Order, error)
	CancelOrderTx(ctx context.Context, orderID int64) (*models.Order, error)
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error)
	GetTicketsByOrderID(ctx context.Context, orderID int64) ([]models.Ticket, error)
	ExpiredOrders(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
}

// Publisher publishes order lifecycle events. Publish failures are logged
// and never roll back a committed transition.
type Publisher interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderPaid(ctx context.Context, event *models.OrderPaidEvent) error
	PublishOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error
}

// Backfiller wakes waitlisted users after inventory is released.
type Backfiller interface {
	ProcessEvent(ctx context.Context, eventID int64) (int, error)
}

// OrderService owns the order lifecycle: PENDING -> PAID | CANCELLED.
// Terminal states are one-directional; no order re-enters PENDING.
type OrderService struct {
	store      OrderStore
	publisher  Publisher
	backfill   Backfiller
	holdWindow time.Duration
	logger     *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(store OrderStore, publisher Publisher, holdWindow time.Duration) *OrderService {
	return &OrderService{
		store:      store,
		publisher:  publisher,
		holdWindow: holdWindow,
		logger:     util.GetLogger(),
	}
}

// SetBackfill registers the waitlist backfill hook invoked after a
// successful cancellation releases inventory.
func (s *OrderService) SetBackfill(b Backfiller) {
	s.backfill = b
}

// CreateOrderRequest represents a request to open an order
type CreateOrderRequest struct {
	UserID         int64              `json:"user_id" binding:"required"`
	EventID        int64              `json:"event_id" binding:"required"`
	Items          []OrderItemRequest `json:"items" binding:"required,min=1"`
	IdempotencyKey string             `json:"idempotency_key,omitempty"`
}

// OrderItemRequest represents one ticket type line in an order
type OrderItemRequest struct {
	TicketTypeID int64 `json:"ticket_type_id" binding:"required"`
	Quantity     int   `json:"quantity" binding:"required,min=1"`
}

// Create validates the request against ticket-type rules and, in one
// transaction, moves available -> held for every item, persists the PENDING
// order and mints one ticket per unit. If any hold fails the whole
// transaction rolls back and models.ErrInsufficientInventory is returned.
func (s *OrderService) Create(ctx context.Context, req *CreateOrderRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Create")
	defer span.End()

	if req.IdempotencyKey != "" {
		existing, err := s.store.GetOrderByIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("failed to check idempotency: %w", err)
		}
		if existing != nil {
			s.logger.Info("Duplicate order request",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.Int64("order_id", existing.ID))
			return existing, nil
		}
	}

	types, err := s.validateItems(ctx, req)
	if err != nil {
		util.OrdersRejectedTotal.WithLabelValues(rejectReason(err)).Inc()
		return nil, err
	}

	order := &models.Order{
		OrderNumber:    newOrderNumber(),
		UserID:         req.UserID,
		EventID:        req.EventID,
		Status:         models.OrderStatusPending,
		TotalAmount:    totalAmount(req.Items, types),
		IdempotencyKey: req.IdempotencyKey,
		ExpiresAt:      time.Now().UTC().Add(s.holdWindow),
	}

	tickets, err := mintTickets(req.Items, types)
	if err != nil {
		return nil, err
	}

	if err := s.store.CreateOrderTx(ctx, order, tickets); err != nil {
		util.OrdersRejectedTotal.WithLabelValues(rejectReason(err)).Inc()
		return nil, err
	}

	util.OrdersCreatedTotal.Inc()
	util.TicketsHeld.Add(float64(len(tickets)))
	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.Time("expires_at", order.ExpiresAt))

	s.publishCreated(ctx, order, req.Items, types)
	return order, nil
}

// Confirm transitions an order PENDING -> PAID and settles its held
// inventory exactly once. A second call observes the terminal status and
// fails with models.ErrInvalidTransition without touching the ledger.
func (s *OrderService) Confirm(ctx context.Context, orderID int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Confirm")
	defer span.End()

	order, err := s.store.ConfirmOrderTx(ctx, orderID)
	if err != nil {
		return nil, err
	}

	util.OrdersPaidTotal.Inc()
	s.logger.Info("Order confirmed",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber))

	if s.publisher != nil {
		event := &models.OrderPaidEvent{
			BaseEvent:   newBaseEvent(models.EventTypeOrderPaid),
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			UserID:      order.UserID,
			Amount:      order.TotalAmount,
		}
		if err := s.publisher.PublishOrderPaid(ctx, event); err != nil {
			s.logger.Error("Failed to publish OrderPaid event", zap.Error(err))
		}
	}

	return order, nil
}

// Cancel transitions an order PENDING -> CANCELLED, releases its held
// inventory and cancels its tickets. PAID orders are rejected; cancelling a
// paid order is a refund flow, not a cancellation. A user-initiated cancel
// and a sweeper-initiated cancel race safely: at most one wins, the other
// gets models.ErrInvalidTransition.
func (s *OrderService) Cancel(ctx context.Context, orderID int64, reason string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Cancel")
	defer span.End()

	order, err := s.store.CancelOrderTx(ctx, orderID)
	if err != nil {
		return nil, err
	}

	util.OrdersCancelledTotal.WithLabelValues(reason).Inc()
	s.logger.Info("Order cancelled",
		zap.Int64("order_id", order.ID),
		zap.String("reason", reason))

	if s.publisher != nil {
		event := &models.OrderCancelledEvent{
			BaseEvent:  newBaseEvent(models.EventTypeOrderCancelled),
			OrderID:    order.ID,
			EventRefID: order.EventID,
			Reason:     reason,
		}
		if err := s.publisher.PublishOrderCancelled(ctx, event); err != nil {
			s.logger.Error("Failed to publish OrderCancelled event", zap.Error(err))
		}
	}

	if s.backfill != nil {
		if _, err := s.backfill.ProcessEvent(ctx, order.EventID); err != nil {
			s.logger.Error("Waitlist backfill failed",
				zap.Int64("event_id", order.EventID),
				zap.Error(err))
		}
	}

	return order, nil
}

// GetOrder retrieves an order and its tickets
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*models.Order, []models.Ticket, error) {
	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}

	tickets, err := s.store.GetTicketsByOrderID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}

	return order, tickets, nil
}

// ExpiredOrders returns a bounded batch of PENDING orders past their hold
// deadline. Used by the expiry sweeper.
func (s *OrderService) ExpiredOrders(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	return s.store.ExpiredOrders(ctx, cutoff, limit)
}

// validateItems checks every line against ticket-type rules. The first
// failing check determines the error: type exists, event purchasable, event
// not started, quantity within availability, quantity within per-order cap.
func (s *OrderService) validateItems(ctx context.Context, req *CreateOrderRequest) (map[int64]*models.TicketType, error) {
	ids := make([]int64, len(req.Items))
	for i, item := range req.Items {
		ids[i] = item.TicketTypeID
	}

	types, err := s.store.GetTicketTypesByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	typeMap := make(map[int64]*models.TicketType, len(types))
	for i := range types {
		typeMap[types[i].ID] = &types[i]
	}

	event, err := s.store.GetEvent(ctx, req.EventID)
	if err != nil {
		return nil, err
	}

	for _, item := range req.Items {
		tt, ok := typeMap[item.TicketTypeID]
		if !ok {
			return nil, fmt.Errorf("ticket type %d: %w", item.TicketTypeID, models.ErrNotFound)
		}
		if tt.EventID != req.EventID {
			return nil, fmt.Errorf("ticket type %d does not belong to event %d: %w",
				tt.ID, req.EventID, models.ErrNotPurchasable)
		}
		if tt.Status != models.TicketTypeStatusActive || event.Status != models.EventStatusPublished {
			return nil, fmt.Errorf("%q is not on sale: %w", tt.Name, models.ErrNotPurchasable)
		}
		if !event.StartDateTime.After(time.Now().UTC()) {
			return nil, fmt.Errorf("event %q has already started: %w", event.Name, models.ErrNotPurchasable)
		}
		if item.Quantity > tt.QuantityAvailable {
			return nil, fmt.Errorf("only %d tickets available for %q: %w",
				tt.QuantityAvailable, tt.Name, models.ErrInsufficientInventory)
		}
		if item.Quantity > tt.MaxPerOrder {
			return nil, fmt.Errorf("limit of %d tickets per order for %q: %w",
				tt.MaxPerOrder, tt.Name, models.ErrInsufficientInventory)
		}
	}

	return typeMap, nil
}

func (s *OrderService) publishCreated(ctx context.Context, order *models.Order, items []OrderItemRequest, types map[int64]*models.TicketType) {
	if s.publisher == nil {
		return
	}

	itemData := make([]models.ItemData, 0, len(items))
	for _, item := range items {
		itemData = append(itemData, models.ItemData{
			TicketTypeID: item.TicketTypeID,
			Quantity:     item.Quantity,
			UnitPrice:    types[item.TicketTypeID].Price,
		})
	}

	event := &models.OrderCreatedEvent{
		BaseEvent:   newBaseEvent(models.EventTypeOrderCreated),
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		EventRefID:  order.EventID,
		TotalAmount: order.TotalAmount,
		ExpiresAt:   order.ExpiresAt,
		Items:       itemData,
	}
	if err := s.publisher.PublishOrderCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCreated event", zap.Error(err))
	}
}

// mintTickets expands the request into one VALID ticket per unit, each with
// a fresh unique barcode.
func mintTickets(items []OrderItemRequest, types map[int64]*models.TicketType) ([]models.Ticket, error) {
	var tickets []models.Ticket
	for _, item := range items {
		tt := types[item.TicketTypeID]
		for i := 0; i < item.Quantity; i++ {
			barcode, err := newBarcode()
			if err != nil {
				return nil, fmt.Errorf("failed to generate barcode: %w", err)
			}
			tickets = append(tickets, models.Ticket{
				TicketTypeID: tt.ID,
				Barcode:      barcode,
				PricePaid:    tt.Price,
				Status:       models.TicketStatusValid,
			})
		}
	}
	return tickets, nil
}

func totalAmount(items []OrderItemRequest, types map[int64]*models.TicketType) int64 {
	var total int64
	for _, item := range items {
		total += types[item.TicketTypeID].Price * int64(item.Quantity)
	}
	return total
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}

// newOrderNumber builds a human-readable, globally unique order number.
func newOrderNumber() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return fmt.Sprintf("ORD-%s-%s",
		time.Now().UTC().Format("20060102"),
		strings.ToUpper(hex.EncodeToString(b)))
}

// newBarcode returns a random 32-character hex barcode.
func newBarcode() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// rejectReason maps a validation error onto a metrics label.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	case errors.Is(err, models.ErrNotPurchasable):
		return "not_purchasable"
	case errors.Is(err, models.ErrInsufficientInventory):
		return "insufficient_inventory"
	default:
		return "store_error"
	}
}
