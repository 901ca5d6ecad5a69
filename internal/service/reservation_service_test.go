package service

import (
	"context"
	"testing"

	"ticket-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateOrderRejectsMalformedRequests(t *testing.T) {
	tests := []struct {
		name string
		req  *CreateOrderRequest
	}{
		{
			name: "missing user",
			req: &CreateOrderRequest{
				EventID: testEventID,
				Items:   []OrderItemRequest{{TicketTypeID: testTypeGA, Quantity: 1}},
			},
		},
		{
			name: "missing event",
			req: &CreateOrderRequest{
				UserID: 7,
				Items:  []OrderItemRequest{{TicketTypeID: testTypeGA, Quantity: 1}},
			},
		},
		{
			name: "no items",
			req:  &CreateOrderRequest{UserID: 7, EventID: testEventID},
		},
		{
			name: "zero quantity",
			req: &CreateOrderRequest{
				UserID:  7,
				EventID: testEventID,
				Items:   []OrderItemRequest{{TicketTypeID: testTypeGA, Quantity: 0}},
			},
		},
		{
			name: "negative quantity",
			req: &CreateOrderRequest{
				UserID:  7,
				EventID: testEventID,
				Items:   []OrderItemRequest{{TicketTypeID: testTypeGA, Quantity: -1}},
			},
		},
		{
			name: "duplicate ticket type",
			req: &CreateOrderRequest{
				UserID:  7,
				EventID: testEventID,
				Items: []OrderItemRequest{
					{TicketTypeID: testTypeGA, Quantity: 1},
					{TicketTypeID: testTypeGA, Quantity: 2},
				},
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := newTestStore()
			rs := NewReservationService(newTestService(m))

			_, _, err := rs.CreateOrder(context.Background(), tc.req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
			assert.Equal(t, 20, m.types[testTypeGA].QuantityAvailable, "rejected request must not touch inventory")
		})
	}
}

func TestCreateOrderReturnsMintedTickets(t *testing.T) {
	m := newTestStore()
	rs := NewReservationService(newTestService(m))

	order, tickets, err := rs.CreateOrder(context.Background(), &CreateOrderRequest{
		UserID:  7,
		EventID: testEventID,
		Items:   []OrderItemRequest{{TicketTypeID: testTypeGA, Quantity: 2}},
	})
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusPending, order.Status)
	require.Len(t, tickets, 2)
	for _, ticket := range tickets {
		assert.Equal(t, order.ID, ticket.OrderID)
		assert.Equal(t, testTypeGA, ticket.TicketTypeID)
		assert.Equal(t, int64(5000), ticket.PricePaid)
	}
}
