package models

import "errors"

// Sentinel errors shared by the store and service layers. Handlers translate
// them into HTTP statuses; everything else is treated as an internal error.
var (
	// ErrNotFound is returned when a ticket type, order or event does not
	// exist.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientInventory is returned when a requested quantity exceeds
	// what is currently available, or exceeds the per-order limit.
	ErrInsufficientInventory = errors.New("insufficient inventory")

	// ErrInvalidTransition is returned when an order status guard rejects a
	// confirm or cancel. Callers racing to the same terminal state observe
	// this as a harmless no-op.
	ErrInvalidTransition = errors.New("invalid order state transition")

	// ErrNotPurchasable is returned when the event is not in a sellable
	// window (unpublished, cancelled, or already started).
	ErrNotPurchasable = errors.New("event not purchasable")
)
