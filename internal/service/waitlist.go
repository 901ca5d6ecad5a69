package service

import (
	"context"
	"fmt"
	"time"

	"ticket-service/internal/models"
	"ticket-service/internal/util"

	"go.uber.org/zap"
)

// WaitlistStore is the persistence surface the waitlist backfill needs.
type WaitlistStore interface {
	JoinWaitlist(ctx context.Context, eventID, userID int64) (*models.WaitlistEntry, error)
	LeaveWaitlist(ctx context.Context, eventID, userID int64) error
	OldestPendingWaitlist(ctx context.Context, eventID int64, limit int) ([]models.WaitlistEntry, error)
	MarkWaitlistNotified(ctx context.Context, entryID int64) error
	AnyAvailability(ctx context.Context, eventID int64) (bool, error)
}

// Locker is the distributed lock surface used for cross-process exclusion.
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	ReleaseLock(ctx context.Context, key, token string) (bool, error)
}

const backfillLockTTL = 30 * time.Second

// WaitlistService notifies the oldest pending waitlist entries when
// inventory becomes available again. It only triggers awareness: notified
// users still go through the reservation service, which re-validates
// availability, so the backfill can never oversell.
type WaitlistService struct {
	store     WaitlistStore
	locker    Locker
	notifier  Notifier
	maxNotify int
	logger    *zap.Logger
}

// NewWaitlistService creates a new waitlist service
func NewWaitlistService(store WaitlistStore, locker Locker, notifier Notifier, maxNotify int) *WaitlistService {
	return &WaitlistService{
		store:     store,
		locker:    locker,
		notifier:  notifier,
		maxNotify: maxNotify,
		logger:    util.GetLogger(),
	}
}

// Join adds a user to an event's waitlist. Joining twice is a no-op.
func (ws *WaitlistService) Join(ctx context.Context, eventID, userID int64) (*models.WaitlistEntry, error) {
	ctx, span := util.StartSpan(ctx, "WaitlistService.Join")
	defer span.End()

	return ws.store.JoinWaitlist(ctx, eventID, userID)
}

// Leave removes a user from an event's waitlist.
func (ws *WaitlistService) Leave(ctx context.Context, eventID, userID int64) error {
	ctx, span := util.StartSpan(ctx, "WaitlistService.Leave")
	defer span.End()

	return ws.store.LeaveWaitlist(ctx, eventID, userID)
}

// ProcessEvent runs the backfill for an event with the configured notify
// budget. Registered as the order state machine's post-cancellation hook.
func (ws *WaitlistService) ProcessEvent(ctx context.Context, eventID int64) (int, error) {
	return ws.Process(ctx, eventID, ws.maxNotify)
}

// Process re-checks that the event has availability, then notifies up to
// maxNotify of the oldest PENDING entries in FIFO order. Entries are marked
// NOTIFIED whether or not delivery succeeds, so a flaky notification channel
// cannot make the backfill hammer the same cohort forever.
//
// The lock is fail closed: if the lock store is unreachable the backfill is
// skipped rather than risk double-notifying a cohort from two processes.
func (ws *WaitlistService) Process(ctx context.Context, eventID int64, maxNotify int) (int, error) {
	ctx, span := util.StartSpan(ctx, "WaitlistService.Process")
	defer span.End()

	lockKey := fmt.Sprintf("waitlist-backfill:%d", eventID)
	token, ok, err := ws.locker.AcquireLock(ctx, lockKey, backfillLockTTL)
	if err != nil || !ok {
		if err != nil {
			ws.logger.Warn("Backfill lock unavailable, skipping",
				zap.Int64("event_id", eventID),
				zap.Error(err))
		}
		return 0, nil
	}
	defer func() {
		if _, err := ws.locker.ReleaseLock(ctx, lockKey, token); err != nil {
			ws.logger.Warn("Failed to release backfill lock", zap.Error(err))
		}
	}()

	available, err := ws.store.AnyAvailability(ctx, eventID)
	if err != nil {
		return 0, fmt.Errorf("failed to check availability: %w", err)
	}
	if !available {
		return 0, nil
	}

	entries, err := ws.store.OldestPendingWaitlist(ctx, eventID, maxNotify)
	if err != nil {
		return 0, fmt.Errorf("failed to select waitlist entries: %w", err)
	}

	notified := 0
	for _, entry := range entries {
		notification := &models.UserNotificationEvent{
			BaseEvent: newBaseEvent(models.EventTypeWaitlistOpening),
			UserID:    entry.UserID,
			Subject:   "Tickets available",
			Body:      fmt.Sprintf("Tickets for event %d are available again. First come, first served.", eventID),
		}
		if err := ws.notifier.NotifyUser(ctx, notification); err != nil {
			ws.logger.Error("Failed to notify waitlisted user",
				zap.Int64("user_id", entry.UserID),
				zap.Int64("event_id", eventID),
				zap.Error(err))
		}

		if err := ws.store.MarkWaitlistNotified(ctx, entry.ID); err != nil {
			ws.logger.Error("Failed to mark waitlist entry notified",
				zap.Int64("entry_id", entry.ID),
				zap.Error(err))
			continue
		}
		notified++
	}

	if notified > 0 {
		util.WaitlistNotifiedTotal.Add(float64(notified))
		ws.logger.Info("Waitlist backfill complete",
			zap.Int64("event_id", eventID),
			zap.Int("notified", notified))
	}
	return notified, nil
}
