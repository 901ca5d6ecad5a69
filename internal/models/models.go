package models

import "time"

// Event represents the sellable event a ticket type belongs to. The core
// only reads events; they are managed by a separate system.
type Event struct {
	ID            int64     `db:"id" json:"id"`
	Name          string    `db:"name" json:"name"`
	Status        string    `db:"status" json:"status"`
	StartDateTime time.Time `db:"start_datetime" json:"start_datetime"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// TicketType holds the inventory counters for one fungible ticket kind.
// Invariant: quantity_available + quantity_held + quantity_sold ==
// quantity_total, all non-negative. Counters are mutated only through the
// ledger's conditional updates.
type TicketType struct {
	ID                int64     `db:"id" json:"id"`
	EventID           int64     `db:"event_id" json:"event_id"`
	Name              string    `db:"name" json:"name"`
	Price             int64     `db:"price" json:"price"`
	QuantityTotal     int       `db:"quantity_total" json:"quantity_total"`
	QuantityAvailable int       `db:"quantity_available" json:"quantity_available"`
	QuantityHeld      int       `db:"quantity_held" json:"quantity_held"`
	QuantitySold      int       `db:"quantity_sold" json:"quantity_sold"`
	MaxPerOrder       int       `db:"max_per_order" json:"max_per_order"`
	Status            string    `db:"status" json:"status"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// Order represents one purchase attempt.
type Order struct {
	ID             int64     `db:"id" json:"id"`
	OrderNumber    string    `db:"order_number" json:"order_number"`
	UserID         int64     `db:"user_id" json:"user_id"`
	EventID        int64     `db:"event_id" json:"event_id"`
	Status         string    `db:"status" json:"status"`
	TotalAmount    int64     `db:"total_amount" json:"total_amount"`
	IdempotencyKey string    `db:"idempotency_key" json:"idempotency_key,omitempty"`
	ExpiresAt      time.Time `db:"expires_at" json:"expires_at"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// Ticket is one fungible unit sold under an order. Tickets are minted in
// bulk at order creation so barcodes exist before the order is confirmed.
type Ticket struct {
	ID           int64     `db:"id" json:"id"`
	OrderID      int64     `db:"order_id" json:"order_id"`
	TicketTypeID int64     `db:"ticket_type_id" json:"ticket_type_id"`
	Barcode      string    `db:"barcode" json:"barcode"`
	PricePaid    int64     `db:"price_paid" json:"price_paid"`
	Status       string    `db:"status" json:"status"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// WaitlistEntry is one (event, user) pair waiting for inventory to free up.
// FIFO position is defined by created_at.
type WaitlistEntry struct {
	ID        int64     `db:"id" json:"id"`
	EventID   int64     `db:"event_id" json:"event_id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	Status    string    `db:"status" json:"status"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Event statuses
const (
	EventStatusPublished = "PUBLISHED"
	EventStatusDraft     = "DRAFT"
	EventStatusCancelled = "CANCELLED"
)

// Ticket type statuses
const (
	TicketTypeStatusActive   = "ACTIVE"
	TicketTypeStatusInactive = "INACTIVE"
)

// Order statuses. PENDING is the only non-terminal state; no transition
// re-enters it.
const (
	OrderStatusPending   = "PENDING"
	OrderStatusPaid      = "PAID"
	OrderStatusCancelled = "CANCELLED"
)

// Ticket statuses
const (
	TicketStatusValid       = "VALID"
	TicketStatusUsed        = "USED"
	TicketStatusCancelled   = "CANCELLED"
	TicketStatusTransferred = "TRANSFERRED"
)

// Waitlist entry statuses
const (
	WaitlistStatusPending  = "PENDING"
	WaitlistStatusNotified = "NOTIFIED"
)

// ProcessedEvent for at-least-once message dedup
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
