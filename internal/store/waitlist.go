package store

import (
	"context"
	"database/sql"
	"fmt"

	"ticket-service/internal/models"
)

// JoinWaitlist adds a (event, user) pair to the waitlist. Joining twice is a
// no-op that returns the existing entry.
func (s *Store) JoinWaitlist(ctx context.Context, eventID, userID int64) (*models.WaitlistEntry, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO waitlist_entries (event_id, user_id, status)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (event_id, user_id) DO NOTHING`,
		eventID, userID, models.WaitlistStatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to join waitlist: %w", err)
	}

	var entry models.WaitlistEntry
	err = s.db.GetContext(ctx, &entry,
		"SELECT * FROM waitlist_entries WHERE event_id = $1 AND user_id = $2",
		eventID, userID)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// LeaveWaitlist removes a (event, user) pair from the waitlist.
func (s *Store) LeaveWaitlist(ctx context.Context, eventID, userID int64) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM waitlist_entries WHERE event_id = $1 AND user_id = $2",
		eventID, userID)
	if err != nil {
		return fmt.Errorf("failed to leave waitlist: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("waitlist entry for event %d user %d: %w", eventID, userID, models.ErrNotFound)
	}
	return nil
}

// OldestPendingWaitlist returns up to limit PENDING entries for the event in
// FIFO order by creation time.
func (s *Store) OldestPendingWaitlist(ctx context.Context, eventID int64, limit int) ([]models.WaitlistEntry, error) {
	var entries []models.WaitlistEntry
	err := s.db.SelectContext(ctx, &entries,
		`SELECT * FROM waitlist_entries
		 WHERE event_id = $1 AND status = $2
		 ORDER BY created_at, id
		 LIMIT $3`,
		eventID, models.WaitlistStatusPending, limit)
	return entries, err
}

// MarkWaitlistNotified transitions an entry PENDING -> NOTIFIED. The entry
// is never deleted by the backfill; users leave the list themselves.
func (s *Store) MarkWaitlistNotified(ctx context.Context, entryID int64) error {
	var status string
	err := s.db.GetContext(ctx, &status,
		`UPDATE waitlist_entries SET status = $1
		 WHERE id = $2 AND status = $3
		 RETURNING status`,
		models.WaitlistStatusNotified, entryID, models.WaitlistStatusPending)
	if err == sql.ErrNoRows {
		return nil
	}
	return err
}
