package cooldown

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mac-bot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore mirrors the conditional UPDATE of the Postgres store.
type memStore struct {
	mu    sync.Mutex
	last  map[int64]*time.Time
	staff map[int64]bool
	err   error
}

func newMemStore() *memStore {
	return &memStore{last: map[int64]*time.Time{}, staff: map[int64]bool{}}
}

func (m *memStore) ClaimSession(_ context.Context, id int64, now, notBefore time.Time) (bool, *time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, nil, m.err
	}

	last := m.last[id]
	if m.staff[id] || last == nil || !last.After(notBefore) {
		m.last[id] = &now
		return true, nil, nil
	}
	return false, last, nil
}

func (m *memStore) ReleaseSession(_ context.Context, id int64, claimedAt time.Time, previous *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if last := m.last[id]; last != nil && last.Equal(claimedAt) {
		m.last[id] = previous
	}
	return nil
}

func TestCanStartSession(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	offsets := []time.Duration{
		0, time.Second, time.Hour, 23*time.Hour + 59*time.Minute,
		24*time.Hour - time.Nanosecond, 24 * time.Hour, 24*time.Hour + time.Second, 72 * time.Hour,
	}

	for _, off := range offsets {
		last := now.Add(-off)
		regular := &models.UserProfile{LastRequestTime: &last}
		staff := &models.UserProfile{LastRequestTime: &last, IsStaff: true}

		assert.Equal(t, off >= DefaultCooldown, CanStartSession(regular, now, DefaultCooldown), "offset %s", off)
		assert.True(t, CanStartSession(staff, now, DefaultCooldown), "staff offset %s", off)
	}

	assert.True(t, CanStartSession(&models.UserProfile{}, now, DefaultCooldown))
}

func TestTryStart(t *testing.T) {
	store := newMemStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	gate := NewGate(store, DefaultCooldown).WithClock(func() time.Time { return now })

	p := &models.UserProfile{TelegramID: 7}
	d, err := gate.TryStart(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, d.Granted)
	require.NotNil(t, p.LastRequestTime)
	assert.Equal(t, now, *p.LastRequestTime)

	start := now
	now = now.Add(time.Hour)
	d, err = gate.TryStart(context.Background(), p)
	require.NoError(t, err)
	assert.False(t, d.Granted)
	assert.Equal(t, 23*time.Hour, d.Remaining)
	assert.Equal(t, start, *p.LastRequestTime)

	now = start.Add(24 * time.Hour)
	d, err = gate.TryStart(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, d.Granted)
}

func TestTryStartStaffBypassesCooldown(t *testing.T) {
	store := newMemStore()
	store.staff[1] = true
	gate := NewGate(store, DefaultCooldown)

	for i := 0; i < 3; i++ {
		d, err := gate.TryStart(context.Background(), &models.UserProfile{TelegramID: 1, IsStaff: true})
		require.NoError(t, err)
		assert.True(t, d.Granted)
	}
}

func TestTryStartConcurrentSingleGrant(t *testing.T) {
	store := newMemStore()
	gate := NewGate(store, DefaultCooldown)

	var granted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := gate.TryStart(context.Background(), &models.UserProfile{TelegramID: 42})
			if err == nil && d.Granted {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), granted.Load())
}

func TestReleaseRestoresPreviousStart(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	earlier := now.Add(-30 * time.Hour)
	store := newMemStore()
	store.last[5] = &earlier
	gate := NewGate(store, DefaultCooldown).WithClock(func() time.Time { return now })

	p := &models.UserProfile{TelegramID: 5, LastRequestTime: &earlier}
	d, err := gate.TryStart(context.Background(), p)
	require.NoError(t, err)
	require.True(t, d.Granted)
	assert.Equal(t, now, d.ClaimedAt)
	assert.Equal(t, &earlier, d.Previous)

	require.NoError(t, gate.Release(context.Background(), p, d))
	assert.Equal(t, &earlier, p.LastRequestTime)
	assert.Equal(t, &earlier, store.last[5])

	d, err = gate.TryStart(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, d.Granted, "released window must be claimable again")
}

func TestReleaseKeepsNewerClaim(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	newer := now.Add(time.Minute)
	store := newMemStore()
	store.last[6] = &newer

	d := Decision{Granted: true, ClaimedAt: now}
	require.NoError(t, NewGate(store, DefaultCooldown).Release(context.Background(), &models.UserProfile{TelegramID: 6}, d))
	assert.Equal(t, &newer, store.last[6])
}

func TestReleaseIgnoresDeniedDecision(t *testing.T) {
	store := newMemStore()
	store.err = errors.New("must not be called")
	assert.NoError(t, NewGate(store, DefaultCooldown).Release(context.Background(), &models.UserProfile{TelegramID: 7}, Decision{}))
}

func TestTryStartStoreError(t *testing.T) {
	store := newMemStore()
	store.err = errors.New("connection reset")

	_, err := NewGate(store, DefaultCooldown).TryStart(context.Background(), &models.UserProfile{TelegramID: 3})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.err)
}

func TestFormatRemaining(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want string
	}{
		{0, "меньше минуты"},
		{30 * time.Second, "1 минута"},
		{2 * time.Minute, "2 минуты"},
		{11 * time.Minute, "11 минут"},
		{time.Hour, "1 час"},
		{23 * time.Hour, "23 часа"},
		{5*time.Hour + 21*time.Minute, "5 часов 21 минута"},
		{22*time.Hour + 59*time.Minute + time.Second, "23 часа"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, FormatRemaining(c.in), c.in.String())
	}
}
