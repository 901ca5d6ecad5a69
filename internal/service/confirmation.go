package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"ticket-service/internal/models"
	"ticket-service/internal/util"

	"go.uber.org/zap"
)

// Confirmer is the slice of the order state machine the payment handler
// needs.
type Confirmer interface {
	Confirm(ctx context.Context, orderID int64) (*models.Order, error)
	GetOrder(ctx context.Context, orderID int64) (*models.Order, []models.Ticket, error)
}

// Notifier delivers fire-and-forget notifications. Delivery failures never
// roll back inventory mutations.
type Notifier interface {
	NotifyUser(ctx context.Context, event *models.UserNotificationEvent) error
	AlertAdmin(ctx context.Context, event *models.AdminAlertEvent) error
}

// EventDedup tracks which externally delivered messages were already
// handled, since the payment collaborator delivers at least once.
type EventDedup interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// RetryPolicy bounds the confirmation retry loop. Delays grow by Factor per
// attempt, capped at MaxDelay, with randomized jitter so concurrent
// redeliveries do not retry in lockstep.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Factor     float64
}

// DefaultRetryPolicy matches the configured default of 3 retries.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  200 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Factor:     2.0,
	}
}

// ConfirmationHandler consumes payment signals. A payment-succeeded signal
// confirms the order with bounded retry; if every attempt fails the case is
// escalated to an operator and never silently dropped, because money was
// captured without tickets being issued.
type ConfirmationHandler struct {
	orders   Confirmer
	dedup    EventDedup
	notifier Notifier
	policy   RetryPolicy
	logger   *zap.Logger
}

// NewConfirmationHandler creates a new payment confirmation handler
func NewConfirmationHandler(orders Confirmer, dedup EventDedup, notifier Notifier, policy RetryPolicy) *ConfirmationHandler {
	return &ConfirmationHandler{
		orders:   orders,
		dedup:    dedup,
		notifier: notifier,
		policy:   policy,
		logger:   util.GetLogger(),
	}
}

// HandlePaymentSucceeded transitions the order to PAID. Duplicate
// deliveries are tolerated twice over: by the processed-events record and by
// the order status guard, which turns a second confirmation into a benign
// models.ErrInvalidTransition.
func (h *ConfirmationHandler) HandlePaymentSucceeded(ctx context.Context, event *models.PaymentSucceededEvent) error {
	ctx, span := util.StartSpan(ctx, "ConfirmationHandler.HandlePaymentSucceeded")
	defer span.End()

	if h.alreadyProcessed(ctx, event.EventID) {
		return nil
	}

	var lastErr error
	attempts := h.policy.MaxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			util.ConfirmRetriesTotal.Inc()
			select {
			case <-time.After(h.backoffDelay(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		_, err := h.orders.Confirm(ctx, event.OrderID)
		if err == nil {
			h.markProcessed(ctx, event.EventID, event.EventType)
			h.logger.Info("Payment confirmed",
				zap.Int64("order_id", event.OrderID),
				zap.String("tx_id", event.TxID))
			return nil
		}

		if errors.Is(err, models.ErrInvalidTransition) {
			// Duplicate delivery or a cancel won the race; either way the
			// order already left PENDING and inventory moved exactly once.
			h.logger.Info("Confirmation skipped, order no longer pending",
				zap.Int64("order_id", event.OrderID))
			h.markProcessed(ctx, event.EventID, event.EventType)
			return nil
		}

		lastErr = err
		if !retryable(err) {
			break
		}

		h.logger.Warn("Confirmation attempt failed",
			zap.Int64("order_id", event.OrderID),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}

	h.escalate(ctx, event, lastErr)
	return nil
}

// HandlePaymentFailed only notifies the user; the order stays PENDING until
// it pays, is retried, or the sweeper expires it. No inventory moves.
func (h *ConfirmationHandler) HandlePaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error {
	ctx, span := util.StartSpan(ctx, "ConfirmationHandler.HandlePaymentFailed")
	defer span.End()

	if h.alreadyProcessed(ctx, event.EventID) {
		return nil
	}

	h.logger.Info("Payment failed",
		zap.Int64("order_id", event.OrderID),
		zap.String("reason", event.Reason))

	var userID int64
	if order, _, err := h.orders.GetOrder(ctx, event.OrderID); err == nil {
		userID = order.UserID
	}

	notification := &models.UserNotificationEvent{
		BaseEvent: newBaseEvent(models.EventTypeUserNotification),
		UserID:    userID,
		Subject:   "Payment failed",
		Body:      fmt.Sprintf("Payment for order %d failed (%s). Your tickets remain held until the order expires.", event.OrderID, event.Reason),
	}
	if err := h.notifier.NotifyUser(ctx, notification); err != nil {
		h.logger.Error("Failed to send payment-failed notification",
			zap.Int64("order_id", event.OrderID),
			zap.Error(err))
	}

	h.markProcessed(ctx, event.EventID, event.EventType)
	return nil
}

// escalate logs at error severity with enough context to find the order and
// emits exactly one admin alert.
func (h *ConfirmationHandler) escalate(ctx context.Context, event *models.PaymentSucceededEvent, cause error) {
	util.ConfirmEscalationsTotal.Inc()
	h.logger.Error("Payment captured but order confirmation exhausted retries",
		zap.Int64("order_id", event.OrderID),
		zap.String("tx_id", event.TxID),
		zap.Int64("amount", event.Amount),
		zap.Int("attempts", h.policy.MaxRetries+1),
		zap.Error(cause))

	alert := &models.AdminAlertEvent{
		BaseEvent: newBaseEvent(models.EventTypeAdminAlert),
		Subject:   "order confirmation failed after payment",
		Body: fmt.Sprintf("order %d: payment %s captured (%d) but confirmation failed after %d attempts: %v",
			event.OrderID, event.TxID, event.Amount, h.policy.MaxRetries+1, cause),
	}
	if err := h.notifier.AlertAdmin(ctx, alert); err != nil {
		h.logger.Error("Failed to deliver admin alert",
			zap.Int64("order_id", event.OrderID),
			zap.Error(err))
	}
}

// alreadyProcessed reports whether the event was handled before. A failed
// check is treated as "not processed" and the handler proceeds: the order
// status guard makes a duplicate confirmation benign, whereas returning the
// error would let the consumer commit the message and lose the signal.
func (h *ConfirmationHandler) alreadyProcessed(ctx context.Context, eventID string) bool {
	if h.dedup == nil {
		return false
	}
	processed, err := h.dedup.IsEventProcessed(ctx, eventID)
	if err != nil {
		h.logger.Warn("Failed to check processed events, proceeding",
			zap.String("event_id", eventID),
			zap.Error(err))
		return false
	}
	if processed {
		h.logger.Info("Event already processed", zap.String("event_id", eventID))
	}
	return processed
}

func (h *ConfirmationHandler) markProcessed(ctx context.Context, eventID, eventType string) {
	if h.dedup == nil {
		return
	}
	if err := h.dedup.MarkEventProcessed(ctx, eventID, eventType); err != nil {
		h.logger.Error("Failed to mark event processed",
			zap.String("event_id", eventID),
			zap.Error(err))
	}
}

// backoffDelay computes the delay before the given retry attempt:
// base * factor^(attempt-1), capped, then jittered over [d/2, d).
func (h *ConfirmationHandler) backoffDelay(attempt int) time.Duration {
	d := float64(h.policy.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= h.policy.Factor
	}
	if max := float64(h.policy.MaxDelay); d > max {
		d = max
	}
	half := d / 2
	return time.Duration(half + rand.Float64()*half)
}

// retryable reports whether an error is worth another confirmation attempt.
// Business-rule rejections are final; everything else is assumed to be a
// transient store failure.
func retryable(err error) bool {
	switch {
	case errors.Is(err, models.ErrNotFound),
		errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, models.ErrInsufficientInventory),
		errors.Is(err, models.ErrNotPurchasable):
		return false
	default:
		return true
	}
}
