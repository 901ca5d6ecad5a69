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

type fakeWaitlistStore struct {
	mu        sync.Mutex
	entries   []*models.WaitlistEntry
	available bool
	markErrID int64
	nextID    int64
}

func (f *fakeWaitlistStore) JoinWaitlist(ctx context.Context, eventID, userID int64) (*models.WaitlistEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entries {
		if e.EventID == eventID && e.UserID == userID {
			cp := *e
			return &cp, nil
		}
	}
	f.nextID++
	entry := &models.WaitlistEntry{
		ID:        f.nextID,
		EventID:   eventID,
		UserID:    userID,
		Status:    models.WaitlistStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	f.entries = append(f.entries, entry)
	cp := *entry
	return &cp, nil
}

func (f *fakeWaitlistStore) LeaveWaitlist(ctx context.Context, eventID, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, e := range f.entries {
		if e.EventID == eventID && e.UserID == userID {
			f.entries = append(f.entries[:i], f.entries[i+1:]...)
			return nil
		}
	}
	return models.ErrNotFound
}

func (f *fakeWaitlistStore) OldestPendingWaitlist(ctx context.Context, eventID int64, limit int) ([]models.WaitlistEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.WaitlistEntry
	for _, e := range f.entries {
		if e.EventID == eventID && e.Status == models.WaitlistStatusPending {
			out = append(out, *e)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeWaitlistStore) MarkWaitlistNotified(ctx context.Context, entryID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if entryID == f.markErrID {
		return errors.New("update failed")
	}
	for _, e := range f.entries {
		if e.ID == entryID && e.Status == models.WaitlistStatusPending {
			e.Status = models.WaitlistStatusNotified
			return nil
		}
	}
	return nil
}

func (f *fakeWaitlistStore) AnyAvailability(ctx context.Context, eventID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.available, nil
}

func (f *fakeWaitlistStore) statuses() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.entries))
	for i, e := range f.entries {
		out[i] = e.Status
	}
	return out
}

// fakeLocker hands the lock to the first caller and refuses reentry until
// released, mirroring SETNX semantics.
type fakeLocker struct {
	mu         sync.Mutex
	held       bool
	acquireErr error
	acquires   int
	releases   int
}

func (f *fakeLocker) AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acquires++
	if f.acquireErr != nil {
		return "", false, f.acquireErr
	}
	if f.held {
		return "", false, nil
	}
	f.held = true
	return "token", true, nil
}

func (f *fakeLocker) ReleaseLock(ctx context.Context, key, token string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases++
	if !f.held {
		return false, nil
	}
	f.held = false
	return true, nil
}

func seedWaitlist(f *fakeWaitlistStore, eventID int64, userIDs ...int64) {
	for _, userID := range userIDs {
		_, _ = f.JoinWaitlist(context.Background(), eventID, userID)
	}
}

func TestBackfillNotifiesOldestFirst(t *testing.T) {
	store := &fakeWaitlistStore{available: true}
	seedWaitlist(store, 1, 100, 101, 102, 103)
	notifier := &recordingNotifier{}
	ws := NewWaitlistService(store, &fakeLocker{}, notifier, 10)

	notified, err := ws.Process(context.Background(), 1, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, notified)

	require.Len(t, notifier.userEvents, 3)
	assert.Equal(t, int64(100), notifier.userEvents[0].UserID)
	assert.Equal(t, int64(101), notifier.userEvents[1].UserID)
	assert.Equal(t, int64(102), notifier.userEvents[2].UserID)

	assert.Equal(t, []string{
		models.WaitlistStatusNotified,
		models.WaitlistStatusNotified,
		models.WaitlistStatusNotified,
		models.WaitlistStatusPending,
	}, store.statuses())
}

func TestBackfillMarksNotifiedDespiteDeliveryFailure(t *testing.T) {
	store := &fakeWaitlistStore{available: true}
	seedWaitlist(store, 1, 100)
	notifier := &recordingNotifier{notifyUserErr: errors.New("broker down")}
	ws := NewWaitlistService(store, &fakeLocker{}, notifier, 10)

	notified, err := ws.Process(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, notified, "delivery failure must not keep the entry pending")
	assert.Equal(t, []string{models.WaitlistStatusNotified}, store.statuses())
}

func TestBackfillSkipsWhenNoAvailability(t *testing.T) {
	store := &fakeWaitlistStore{available: false}
	seedWaitlist(store, 1, 100)
	notifier := &recordingNotifier{}
	ws := NewWaitlistService(store, &fakeLocker{}, notifier, 10)

	notified, err := ws.Process(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, notified)
	assert.Empty(t, notifier.userEvents)
	assert.Equal(t, []string{models.WaitlistStatusPending}, store.statuses())
}

func TestBackfillFailsClosedWhenLockUnavailable(t *testing.T) {
	store := &fakeWaitlistStore{available: true}
	seedWaitlist(store, 1, 100)
	notifier := &recordingNotifier{}

	t.Run("lock store error", func(t *testing.T) {
		locker := &fakeLocker{acquireErr: errors.New("redis unreachable")}
		ws := NewWaitlistService(store, locker, notifier, 10)
		notified, err := ws.Process(context.Background(), 1, 10)
		require.NoError(t, err)
		assert.Equal(t, 0, notified)
	})

	t.Run("lock held elsewhere", func(t *testing.T) {
		locker := &fakeLocker{held: true}
		ws := NewWaitlistService(store, locker, notifier, 10)
		notified, err := ws.Process(context.Background(), 1, 10)
		require.NoError(t, err)
		assert.Equal(t, 0, notified)
	})

	assert.Empty(t, notifier.userEvents, "no notifications without the lock")
}

func TestBackfillReleasesLock(t *testing.T) {
	store := &fakeWaitlistStore{available: true}
	locker := &fakeLocker{}
	ws := NewWaitlistService(store, locker, &recordingNotifier{}, 10)

	_, err := ws.Process(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, locker.acquires)
	assert.Equal(t, 1, locker.releases)
	assert.False(t, locker.held)
}

func TestBackfillSkipsCountOnMarkFailure(t *testing.T) {
	store := &fakeWaitlistStore{available: true}
	seedWaitlist(store, 1, 100, 101)
	store.markErrID = 1
	notifier := &recordingNotifier{}
	ws := NewWaitlistService(store, &fakeLocker{}, notifier, 10)

	notified, err := ws.Process(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, notified, "only successfully marked entries are counted")
	assert.Len(t, notifier.userEvents, 2, "notification is still attempted for each entry")
}

func TestJoinWaitlistIsIdempotent(t *testing.T) {
	store := &fakeWaitlistStore{}
	ws := NewWaitlistService(store, &fakeLocker{}, &recordingNotifier{}, 10)

	first, err := ws.Join(context.Background(), 1, 100)
	require.NoError(t, err)
	second, err := ws.Join(context.Background(), 1, 100)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestLeaveWaitlistUnknownEntry(t *testing.T) {
	store := &fakeWaitlistStore{}
	ws := NewWaitlistService(store, &fakeLocker{}, &recordingNotifier{}, 10)

	err := ws.Leave(context.Background(), 1, 100)
	assert.ErrorIs(t, err, models.ErrNotFound)
}
