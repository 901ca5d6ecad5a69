package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ticket-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedConfirmer returns the scripted errors in order, then succeeds.
type scriptedConfirmer struct {
	mu     sync.Mutex
	script []error
	calls  int
	order  *models.Order
}

func (s *scriptedConfirmer) Confirm(ctx context.Context, orderID int64) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.script) > 0 {
		err := s.script[0]
		s.script = s.script[1:]
		if err != nil {
			return nil, err
		}
	}
	return &models.Order{ID: orderID, Status: models.OrderStatusPaid}, nil
}

func (s *scriptedConfirmer) GetOrder(ctx context.Context, orderID int64) (*models.Order, []models.Ticket, error) {
	if s.order == nil {
		return nil, nil, models.ErrNotFound
	}
	return s.order, nil, nil
}

type recordingNotifier struct {
	mu            sync.Mutex
	userEvents    []*models.UserNotificationEvent
	adminEvents   []*models.AdminAlertEvent
	notifyUserErr error
}

func (r *recordingNotifier) NotifyUser(ctx context.Context, event *models.UserNotificationEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.userEvents = append(r.userEvents, event)
	return r.notifyUserErr
}

func (r *recordingNotifier) AlertAdmin(ctx context.Context, event *models.AdminAlertEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adminEvents = append(r.adminEvents, event)
	return nil
}

type memDedup struct {
	mu       sync.Mutex
	seen     map[string]string
	checkErr error
}

func newMemDedup() *memDedup {
	return &memDedup{seen: make(map[string]string)}
}

func (d *memDedup) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.checkErr != nil {
		return false, d.checkErr
	}
	_, ok := d.seen[eventID]
	return ok, nil
}

func (d *memDedup) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen[eventID] = eventType
	return nil
}

// fastPolicy keeps the retry loop from slowing the suite down.
func fastPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
		Factor:     2.0,
	}
}

func paymentSucceeded(orderID int64) *models.PaymentSucceededEvent {
	return &models.PaymentSucceededEvent{
		BaseEvent: newBaseEvent(models.EventTypePaymentSucceeded),
		OrderID:   orderID,
		TxID:      "tx-42",
		Amount:    5000,
	}
}

func TestPaymentSucceededRetriesThroughTransientFailures(t *testing.T) {
	transient := errors.New("connection reset")
	confirmer := &scriptedConfirmer{script: []error{transient, transient, nil}}
	notifier := &recordingNotifier{}
	dedup := newMemDedup()
	handler := NewConfirmationHandler(confirmer, dedup, notifier, fastPolicy())

	err := handler.HandlePaymentSucceeded(context.Background(), paymentSucceeded(1))
	require.NoError(t, err)

	assert.Equal(t, 3, confirmer.calls, "two transient failures then success")
	assert.Empty(t, notifier.adminEvents, "recovered confirmation must not alert")
}

func TestPaymentSucceededEscalatesAfterExhaustion(t *testing.T) {
	transient := errors.New("store unavailable")
	confirmer := &scriptedConfirmer{script: []error{transient, transient, transient, transient, transient}}
	notifier := &recordingNotifier{}
	dedup := newMemDedup()
	handler := NewConfirmationHandler(confirmer, dedup, notifier, fastPolicy())

	event := paymentSucceeded(2)
	err := handler.HandlePaymentSucceeded(context.Background(), event)
	require.NoError(t, err, "exhaustion is escalated, not surfaced as a handler error")

	assert.Equal(t, 4, confirmer.calls, "initial attempt plus MaxRetries")
	require.Len(t, notifier.adminEvents, 1, "exactly one admin alert")
	assert.Contains(t, notifier.adminEvents[0].Body, "tx-42")

	processed, err := dedup.IsEventProcessed(context.Background(), event.EventID)
	require.NoError(t, err)
	assert.False(t, processed, "escalated event stays unprocessed for manual replay")
}

func TestPaymentSucceededDuplicateDeliveryIsBenign(t *testing.T) {
	confirmer := &scriptedConfirmer{script: []error{invalidTransitionErr()}}
	notifier := &recordingNotifier{}
	dedup := newMemDedup()
	handler := NewConfirmationHandler(confirmer, dedup, notifier, fastPolicy())

	event := paymentSucceeded(3)
	err := handler.HandlePaymentSucceeded(context.Background(), event)
	require.NoError(t, err)

	assert.Equal(t, 1, confirmer.calls, "state-guard miss must not be retried")
	assert.Empty(t, notifier.adminEvents)

	processed, _ := dedup.IsEventProcessed(context.Background(), event.EventID)
	assert.True(t, processed)
}

func invalidTransitionErr() error {
	return &wrappedErr{msg: "order is PAID", inner: models.ErrInvalidTransition}
}

type wrappedErr struct {
	msg   string
	inner error
}

func (w *wrappedErr) Error() string { return w.msg }
func (w *wrappedErr) Unwrap() error { return w.inner }

func TestPaymentSucceededSkipsAlreadyProcessedEvent(t *testing.T) {
	confirmer := &scriptedConfirmer{}
	dedup := newMemDedup()
	handler := NewConfirmationHandler(confirmer, dedup, &recordingNotifier{}, fastPolicy())

	event := paymentSucceeded(4)
	require.NoError(t, dedup.MarkEventProcessed(context.Background(), event.EventID, event.EventType))

	err := handler.HandlePaymentSucceeded(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, 0, confirmer.calls, "processed event must not touch the order")
}

func TestPaymentSucceededProceedsWhenDedupCheckFails(t *testing.T) {
	confirmer := &scriptedConfirmer{}
	notifier := &recordingNotifier{}
	dedup := newMemDedup()
	dedup.checkErr = errors.New("connection refused")
	handler := NewConfirmationHandler(confirmer, dedup, notifier, fastPolicy())

	err := handler.HandlePaymentSucceeded(context.Background(), paymentSucceeded(6))
	require.NoError(t, err)

	assert.Equal(t, 1, confirmer.calls, "a broken dedup check must not block confirmation")
	assert.Empty(t, notifier.adminEvents)
}

func TestPaymentSucceededEscalatesEvenWhenDedupCheckFails(t *testing.T) {
	transient := errors.New("store unavailable")
	confirmer := &scriptedConfirmer{script: []error{transient, transient, transient, transient}}
	notifier := &recordingNotifier{}
	dedup := newMemDedup()
	dedup.checkErr = errors.New("connection refused")
	handler := NewConfirmationHandler(confirmer, dedup, notifier, fastPolicy())

	err := handler.HandlePaymentSucceeded(context.Background(), paymentSucceeded(7))
	require.NoError(t, err)

	assert.Equal(t, 4, confirmer.calls, "retry loop must run despite the dedup failure")
	require.Len(t, notifier.adminEvents, 1, "exhaustion still reaches the operator")
}

func TestPaymentFailedNotifiesUserOnly(t *testing.T) {
	confirmer := &scriptedConfirmer{order: &models.Order{ID: 5, UserID: 77, Status: models.OrderStatusPending}}
	notifier := &recordingNotifier{}
	dedup := newMemDedup()
	handler := NewConfirmationHandler(confirmer, dedup, notifier, fastPolicy())

	event := &models.PaymentFailedEvent{
		BaseEvent: newBaseEvent(models.EventTypePaymentFailed),
		OrderID:   5,
		Reason:    "card_declined",
	}
	err := handler.HandlePaymentFailed(context.Background(), event)
	require.NoError(t, err)

	assert.Equal(t, 0, confirmer.calls, "payment failure must not touch the state machine")
	require.Len(t, notifier.userEvents, 1)
	assert.Equal(t, int64(77), notifier.userEvents[0].UserID)
	assert.Contains(t, notifier.userEvents[0].Body, "card_declined")
	assert.Empty(t, notifier.adminEvents)

	processed, _ := dedup.IsEventProcessed(context.Background(), event.EventID)
	assert.True(t, processed)
}

func TestBackoffDelayGrowsAndStaysCapped(t *testing.T) {
	handler := NewConfirmationHandler(&scriptedConfirmer{}, nil, &recordingNotifier{}, RetryPolicy{
		MaxRetries: 5,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   400 * time.Millisecond,
		Factor:     2.0,
	})

	for attempt := 1; attempt <= 5; attempt++ {
		d := handler.backoffDelay(attempt)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond, "attempt %d below jitter floor", attempt)
		assert.Less(t, d, 400*time.Millisecond, "attempt %d exceeds cap", attempt)
	}
}
