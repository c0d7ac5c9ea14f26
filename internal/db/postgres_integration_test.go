package db

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mac-bot/internal/models"
	"mac-bot/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *PostgresDB {
	t.Helper()

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	database, err := NewPostgresDB(ctx, PoolConfig{DSN: dbURL, MaxOpenConns: 20})
	if err != nil {
		t.Skipf("Failed to connect to test database: %v", err)
	}
	t.Cleanup(database.Close)

	require.NoError(t, RunMigrations(dbURL, logger.NewNop()))

	_, err = database.pool.Exec(ctx, `
        TRUNCATE reminders, payments, user_states, state_types, subscription_plans, telegram_profiles
        RESTART IDENTITY CASCADE
    `)
	require.NoError(t, err)

	return database
}

func testNow() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func TestClaimSessionSingleGrant(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	_, err := database.EnsureProfile(ctx, &models.UserProfile{TelegramID: 42, Username: "anna"})
	require.NoError(t, err)

	now := testNow()
	var granted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, _, err := database.ClaimSession(ctx, 42, now, now.Add(-24*time.Hour))
			if err == nil && ok {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), granted.Load())

	ok, last, err := database.ClaimSession(ctx, 42, now.Add(time.Hour), now.Add(-23*time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)
	require.NotNil(t, last)
	assert.True(t, now.Equal(*last))

	_, err = database.EnsureProfile(ctx, &models.UserProfile{TelegramID: 43, IsStaff: true})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		ok, _, err := database.ClaimSession(ctx, 43, now, now.Add(-24*time.Hour))
		require.NoError(t, err)
		assert.True(t, ok)
	}

	_, _, err = database.ClaimSession(ctx, 404, now, now)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestReleaseSession(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	_, err := database.EnsureProfile(ctx, &models.UserProfile{TelegramID: 50})
	require.NoError(t, err)

	now := testNow()
	ok, _, err := database.ClaimSession(ctx, 50, now, now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, database.ReleaseSession(ctx, 50, now, nil))
	p, err := database.GetProfile(ctx, 50)
	require.NoError(t, err)
	assert.Nil(t, p.LastRequestTime)

	ok, _, err = database.ClaimSession(ctx, 50, now, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.True(t, ok, "released window must be claimable again")

	// A release for an older claim leaves the current one in place.
	require.NoError(t, database.ReleaseSession(ctx, 50, now.Add(-time.Hour), nil))
	p, err = database.GetProfile(ctx, 50)
	require.NoError(t, err)
	require.NotNil(t, p.LastRequestTime)
	assert.True(t, now.Equal(*p.LastRequestTime))
}

func TestRecordStateAndListStates(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	p, err := database.EnsureProfile(ctx, &models.UserProfile{TelegramID: 60})
	require.NoError(t, err)

	require.NoError(t, database.RecordState(ctx, p.ID, "get_request", "Ожидание запроса", "s1"))
	require.NoError(t, database.RecordState(ctx, p.ID, "choose_request_type", "Выбор типа запроса", "s1"))
	require.NoError(t, database.RecordState(ctx, p.ID, "get_request", "Ожидание запроса", "s2"))

	all, err := database.ListStates(ctx, 60, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "get_request", all[0].StateName)
	assert.Equal(t, "choose_request_type", all[1].StateName)
	assert.Equal(t, "s2", all[2].SessionID)

	first, err := database.ListStates(ctx, 60, "s1")
	require.NoError(t, err)
	assert.Len(t, first, 2)

	var types int
	require.NoError(t, database.pool.QueryRow(ctx, `SELECT COUNT(*) FROM state_types`).Scan(&types))
	assert.Equal(t, 2, types)
}

func TestFinalizePaymentOnce(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	created, err := database.SeedPlans(ctx, DefaultPlans)
	require.NoError(t, err)
	assert.Equal(t, len(DefaultPlans), created)
	created, err = database.SeedPlans(ctx, DefaultPlans)
	require.NoError(t, err)
	assert.Zero(t, created)

	plan, err := database.GetPlan(ctx, "monthly")
	require.NoError(t, err)
	p, err := database.EnsureProfile(ctx, &models.UserProfile{TelegramID: 70})
	require.NoError(t, err)

	payment := &models.Payment{
		OrderID:   "ORDER_70_monthly_0a1b2c3d",
		ProfileID: p.ID,
		PlanID:    plan.ID,
		Amount:    plan.Price,
		Currency:  "rub",
		Provider:  "prodamus",
	}
	require.NoError(t, database.CreatePayment(ctx, payment))

	now := testNow()
	var first atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			fin, err := database.FinalizePayment(ctx, payment.OrderID, models.PaymentPaid,
				fmt.Sprintf("pay-%d", i), []byte(`{"payment_status":"success"}`), now)
			if err == nil && !fin.AlreadyFinal {
				first.Add(1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), first.Load())

	profile, err := database.GetProfile(ctx, 70)
	require.NoError(t, err)
	assert.Equal(t, "monthly", profile.SubscriptionType)
	require.NotNil(t, profile.SubscriptionExpiresAt)
	assert.True(t, now.Add(30*24*time.Hour).Equal(*profile.SubscriptionExpiresAt))

	fin, err := database.FinalizePayment(ctx, payment.OrderID, models.PaymentFailed, "", nil, now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, fin.AlreadyFinal)
	assert.Equal(t, models.PaymentPaid, fin.Payment.Status)

	stored, err := database.GetPayment(ctx, payment.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPaid, stored.Status)

	_, err = database.FinalizePayment(ctx, "ORDER_missing", models.PaymentPaid, "", nil, now)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestClaimDueRemindersSkipLocked(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	now := testNow()
	for i := 0; i < 30; i++ {
		require.NoError(t, database.ScheduleReminder(ctx, int64(100+i), fmt.Sprintf("s%d", i), now.Add(-time.Minute)))
	}
	require.NoError(t, database.ScheduleReminder(ctx, 100, "s0", now.Add(-time.Minute)))
	require.NoError(t, database.ScheduleReminder(ctx, 999, "later", now.Add(time.Hour)))

	var mu sync.Mutex
	seen := map[int64]int{}
	var wg sync.WaitGroup
	for w := 0; w < 5; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				due, err := database.ClaimDueReminders(ctx, now, 4)
				if err != nil || len(due) == 0 {
					return
				}
				mu.Lock()
				for _, r := range due {
					seen[r.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 30)
	for id, n := range seen {
		assert.Equal(t, 1, n, "reminder %d claimed more than once", id)
	}

	due, err := database.ClaimDueReminders(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestImportLegacyIsRepeatable(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	data, err := ReadLegacy(ctx, writeLegacyDB(t))
	require.NoError(t, err)

	report, err := database.ImportLegacy(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, LegacyReport{StateTypes: 2, Users: 2, Events: 2}, *report)

	countEvents := func() int {
		var n int
		require.NoError(t, database.pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM user_states WHERE session_id = $1`, LegacySessionID).Scan(&n))
		return n
	}
	require.Equal(t, 2, countEvents())

	report, err = database.ImportLegacy(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, LegacyReport{Skipped: 2}, *report)
	assert.Equal(t, 2, countEvents())

	events, err := database.ListStates(ctx, 1001, LegacySessionID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "get_request", events[0].StateName)
}
