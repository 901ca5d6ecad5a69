package worker

import (
	"context"
	"errors"
	"time"

	"ticket-service/internal/models"
	"ticket-service/internal/service"
	"ticket-service/internal/util"

	"go.uber.org/zap"
)

// OrderSweep is the slice of the order service the sweeper needs.
type OrderSweep interface {
	ExpiredOrders(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
	Cancel(ctx context.Context, orderID int64, reason string) (*models.Order, error)
}

const sweepLockKey = "expiry-sweep"

// ExpirySweeper periodically reclaims holds whose deadline has passed. It
// is safe to run from multiple processes: a second sweeper cancelling an
// already-cancelled order hits the state machine's InvalidTransition guard
// and no-ops. The lock only avoids duplicate work, never correctness.
type ExpirySweeper struct {
	orders    OrderSweep
	locker    service.Locker
	interval  time.Duration
	batchSize int
	logger    *zap.Logger
	stop      chan struct{}
	done      chan struct{}
}

// NewExpirySweeper creates a new expiry sweeper
func NewExpirySweeper(orders OrderSweep, locker service.Locker, interval time.Duration, batchSize int) *ExpirySweeper {
	return &ExpirySweeper{
		orders:    orders,
		locker:    locker,
		interval:  interval,
		batchSize: batchSize,
		logger:    util.GetLogger(),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start runs the sweep loop until the context is cancelled or Stop is
// called.
func (s *ExpirySweeper) Start(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("Expiry sweeper started",
		zap.Duration("interval", s.interval),
		zap.Int("batch_size", s.batchSize))

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.Error("Sweep tick failed", zap.Error(err))
			}
		}
	}
}

// Stop signals the loop to exit and waits for it.
func (s *ExpirySweeper) Stop() {
	close(s.stop)
	<-s.done
}

// RunOnce performs a single sweep: select a bounded batch of PENDING orders
// past their deadline and cancel each independently. A failure on one order
// never blocks the rest of the batch. Returns the number of orders swept.
//
// The lock is fail open: if the lock store is unreachable the sweep runs
// anyway, since cancellation is idempotent and an expired hold left in
// place is worse than duplicate sweep work.
func (s *ExpirySweeper) RunOnce(ctx context.Context) (int, error) {
	if s.locker != nil {
		token, ok, err := s.locker.AcquireLock(ctx, sweepLockKey, s.interval)
		if err != nil {
			s.logger.Warn("Sweep lock unavailable, sweeping anyway", zap.Error(err))
		} else if !ok {
			return 0, nil
		} else {
			defer func() {
				if _, err := s.locker.ReleaseLock(ctx, sweepLockKey, token); err != nil {
					s.logger.Warn("Failed to release sweep lock", zap.Error(err))
				}
			}()
		}
	}

	expired, err := s.orders.ExpiredOrders(ctx, time.Now().UTC(), s.batchSize)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, order := range expired {
		if _, err := s.orders.Cancel(ctx, order.ID, service.CancelReasonHoldExpired); err != nil {
			if errors.Is(err, models.ErrInvalidTransition) {
				// Someone else got there first; the hold is already resolved.
				continue
			}
			s.logger.Error("Failed to expire order",
				zap.Int64("order_id", order.ID),
				zap.Error(err))
			continue
		}
		swept++
	}

	if swept > 0 {
		util.OrdersExpiredTotal.Add(float64(swept))
		s.logger.Info("Expired orders swept", zap.Int("count", swept))
	}
	return swept, nil
}
