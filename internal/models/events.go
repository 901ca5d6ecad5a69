package models

import "time"

// Event types
const (
	EventTypeOrderCreated     = "ORDER_CREATED"
	EventTypeOrderPaid        = "ORDER_PAID"
	EventTypeOrderCancelled   = "ORDER_CANCELLED"
	EventTypeOrderExpired     = "ORDER_EXPIRED"
	EventTypePaymentSucceeded = "PAYMENT_SUCCEEDED"
	EventTypePaymentFailed    = "PAYMENT_FAILED"
	EventTypeUserNotification = "USER_NOTIFICATION"
	EventTypeAdminAlert       = "ADMIN_ALERT"
	EventTypeWaitlistOpening  = "WAITLIST_OPENING"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published when an order is opened with inventory held
type OrderCreatedEvent struct {
	BaseEvent
	OrderID     int64      `json:"order_id"`
	OrderNumber string     `json:"order_number"`
	UserID      int64      `json:"user_id"`
	EventRefID  int64      `json:"event_ref_id"`
	TotalAmount int64      `json:"total_amount"`
	ExpiresAt   time.Time  `json:"expires_at"`
	Items       []ItemData `json:"items"`
}

// OrderPaidEvent published when held inventory settles to sold
type OrderPaidEvent struct {
	BaseEvent
	OrderID     int64  `json:"order_id"`
	OrderNumber string `json:"order_number"`
	UserID      int64  `json:"user_id"`
	Amount      int64  `json:"amount"`
}

// OrderCancelledEvent published when a hold is released, either by the user
// or by the expiry sweeper
type OrderCancelledEvent struct {
	BaseEvent
	OrderID    int64  `json:"order_id"`
	EventRefID int64  `json:"event_ref_id"`
	Reason     string `json:"reason"`
}

// PaymentSucceededEvent consumed from the payment collaborator
// (at-least-once delivery, duplicates expected)
type PaymentSucceededEvent struct {
	BaseEvent
	OrderID int64  `json:"order_id"`
	TxID    string `json:"tx_id"`
	Amount  int64  `json:"amount"`
}

// PaymentFailedEvent consumed from the payment collaborator. It triggers a
// user notification only; the order stays PENDING until it pays or expires.
type PaymentFailedEvent struct {
	BaseEvent
	OrderID int64  `json:"order_id"`
	Reason  string `json:"reason"`
}

// UserNotificationEvent published fire-and-forget to the notification
// collaborator
type UserNotificationEvent struct {
	BaseEvent
	UserID  int64  `json:"user_id"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// AdminAlertEvent published when a payment-captured order could not be
// confirmed after retry exhaustion. Must never be silently dropped.
type AdminAlertEvent struct {
	BaseEvent
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// ItemData represents item data in events
type ItemData struct {
	TicketTypeID int64 `json:"ticket_type_id"`
	Quantity     int   `json:"quantity"`
	UnitPrice    int64 `json:"unit_price"`
}
