package payment

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mac-bot/internal/models"
	"mac-bot/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore applies the same write-once rule as the Postgres store.
type memStore struct {
	mu       sync.Mutex
	plans    map[string]models.SubscriptionPlan
	payments map[string]*models.Payment
	expiry   map[int64]*time.Time
	tgIDs    map[int64]int64
}

func newMemStore() *memStore {
	return &memStore{
		plans: map[string]models.SubscriptionPlan{
			"free":    {ID: 1, Code: "free", Name: "Бесплатный", Price: 0, DurationDays: 999999, IsActive: true},
			"monthly": monthly,
			"yearly":  {ID: 3, Code: "yearly", Name: "Годовая премиум", Price: 3000, DurationDays: 365, IsActive: true},
			"old":     {ID: 4, Code: "old", Name: "Архив", Price: 100, DurationDays: 30, IsActive: false},
		},
		payments: map[string]*models.Payment{},
		expiry:   map[int64]*time.Time{},
		tgIDs:    map[int64]int64{},
	}
}

func (m *memStore) GetPlan(_ context.Context, code string) (*models.SubscriptionPlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[code]
	if !ok {
		return nil, fmt.Errorf("plan %s: %w", code, models.ErrNotFound)
	}
	return &p, nil
}

func (m *memStore) CreatePayment(_ context.Context, p *models.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = int64(len(m.payments) + 1)
	p.Status = models.PaymentPending
	cp := *p
	m.payments[p.OrderID] = &cp
	return nil
}

func (m *memStore) FinalizePayment(_ context.Context, orderID string, status models.PaymentStatus, gatewayID string, _ []byte, now time.Time) (*models.Finalization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.payments[orderID]
	if !ok {
		return nil, fmt.Errorf("payment %s: %w", orderID, models.ErrNotFound)
	}
	var plan models.SubscriptionPlan
	for _, pl := range m.plans {
		if pl.ID == p.PlanID {
			plan = pl
		}
	}
	fin := &models.Finalization{TelegramID: m.tgIDs[p.ProfileID], PlanCode: plan.Code}
	if p.Status.IsTerminal() {
		fin.Payment = *p
		fin.AlreadyFinal = true
		return fin, nil
	}

	p.Status = status
	p.GatewayPaymentID = gatewayID
	p.FinalizedAt = &now
	if status == models.PaymentPaid {
		exp := models.ExtendExpiry(m.expiry[p.ProfileID], now, plan.Duration())
		m.expiry[p.ProfileID] = &exp
		fin.ExpiresAt = &exp
	}
	fin.Payment = *p
	return fin, nil
}

type countingNotifier struct{ calls atomic.Int32 }

func (c *countingNotifier) PaymentFinalized(context.Context, *models.Finalization) { c.calls.Add(1) }

type fixture struct {
	svc      *Service
	store    *memStore
	notifier *countingNotifier
	gateway  *ProdamusGateway
	profile  *models.UserProfile
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    newMemStore(),
		notifier: &countingNotifier{},
		gateway:  testProdamus(false),
		profile:  &models.UserProfile{ID: 10, TelegramID: 4242, Username: "u2"},
		now:      time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC),
	}
	f.store.tgIDs[f.profile.ID] = f.profile.TelegramID

	f.svc = NewService(f.store, "rub", logger.NewNop(), f.gateway)
	f.svc.SetNotifier(f.notifier)
	f.svc.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) webhook(orderID, status string) []byte {
	return signedWebhook("secret-key", map[string]string{
		"order_id":       orderID,
		"payment_status": status,
		"payment_id":     "p-" + orderID,
		"customer_extra": fmt.Sprint(f.profile.TelegramID),
	})
}

func TestCheckout(t *testing.T) {
	f := newFixture(t)

	co, err := f.svc.Checkout(context.Background(), f.profile, "monthly")
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^ORDER_4242_monthly_[0-9a-f]{8}$`), co.OrderID)
	assert.Contains(t, co.URL, "order_id="+co.OrderID)

	p := f.store.payments[co.OrderID]
	require.NotNil(t, p)
	assert.Equal(t, models.PaymentPending, p.Status)
	assert.Equal(t, int64(300), p.Amount)
	assert.Equal(t, ProviderProdamus, p.Provider)
	assert.NotEmpty(t, p.Signature)

	other, err := f.svc.Checkout(context.Background(), f.profile, "monthly")
	require.NoError(t, err)
	assert.NotEqual(t, co.OrderID, other.OrderID)
}

func TestCheckoutRejectsUnpurchasablePlans(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Checkout(context.Background(), f.profile, "free")
	assert.ErrorIs(t, err, ErrPlanNotPurchasable)

	_, err = f.svc.Checkout(context.Background(), f.profile, "old")
	assert.ErrorIs(t, err, ErrPlanNotPurchasable)

	_, err = f.svc.Checkout(context.Background(), f.profile, "lifetime")
	assert.ErrorIs(t, err, models.ErrNotFound)

	assert.Empty(t, f.store.payments)
}

func TestPaidWebhookActivatesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	co, err := f.svc.Checkout(ctx, f.profile, "monthly")
	require.NoError(t, err)

	res, err := f.svc.HandleWebhook(ctx, ProviderProdamus, f.webhook(co.OrderID, "success"), "")
	require.NoError(t, err)
	require.NotNil(t, res.Finalization)
	assert.False(t, res.Finalization.AlreadyFinal)
	assert.Equal(t, models.PaymentPaid, res.Finalization.Payment.Status)

	want := f.now.Add(30 * 24 * time.Hour)
	require.NotNil(t, f.store.expiry[f.profile.ID])
	assert.Equal(t, want, *f.store.expiry[f.profile.ID])
	assert.Equal(t, int32(1), f.notifier.calls.Load())

	// Replaying the same delivery later changes nothing.
	f.now = f.now.Add(time.Hour)
	res, err = f.svc.HandleWebhook(ctx, ProviderProdamus, f.webhook(co.OrderID, "success"), "")
	require.NoError(t, err)
	assert.True(t, res.Finalization.AlreadyFinal)
	assert.Equal(t, want, *f.store.expiry[f.profile.ID])
	assert.Equal(t, models.PaymentPaid, f.store.payments[co.OrderID].Status)
	assert.Equal(t, int32(1), f.notifier.calls.Load())

	// A late failure cannot overwrite the paid status.
	res, err = f.svc.HandleWebhook(ctx, ProviderProdamus, f.webhook(co.OrderID, "failed"), "")
	require.NoError(t, err)
	assert.True(t, res.Finalization.AlreadyFinal)
	assert.Equal(t, models.PaymentPaid, f.store.payments[co.OrderID].Status)
}

func TestRenewalStacksOnCurrentExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	current := f.now.Add(10 * 24 * time.Hour)
	f.store.expiry[f.profile.ID] = &current

	co, err := f.svc.Checkout(ctx, f.profile, "monthly")
	require.NoError(t, err)
	_, err = f.svc.HandleWebhook(ctx, ProviderProdamus, f.webhook(co.OrderID, "success"), "")
	require.NoError(t, err)

	assert.Equal(t, current.Add(30*24*time.Hour), *f.store.expiry[f.profile.ID])
}

func TestExpiredSubscriptionRenewsFromNow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	lapsed := f.now.Add(-5 * 24 * time.Hour)
	f.store.expiry[f.profile.ID] = &lapsed

	co, err := f.svc.Checkout(ctx, f.profile, "yearly")
	require.NoError(t, err)
	_, err = f.svc.HandleWebhook(ctx, ProviderProdamus, f.webhook(co.OrderID, "success"), "")
	require.NoError(t, err)

	assert.Equal(t, f.now.Add(365*24*time.Hour), *f.store.expiry[f.profile.ID])
}

func TestConcurrentDeliveriesFinalizeOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	co, err := f.svc.Checkout(ctx, f.profile, "monthly")
	require.NoError(t, err)
	body := f.webhook(co.OrderID, "success")

	var fresh atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.HandleWebhook(ctx, ProviderProdamus, body, "")
			if err == nil && !res.Finalization.AlreadyFinal {
				fresh.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), fresh.Load())
	assert.Equal(t, f.now.Add(30*24*time.Hour), *f.store.expiry[f.profile.ID])
}

func TestWebhookRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	co, err := f.svc.Checkout(ctx, f.profile, "monthly")
	require.NoError(t, err)

	forged := signedWebhook("guessed-key", map[string]string{"order_id": co.OrderID, "payment_status": "success"})
	_, err = f.svc.HandleWebhook(ctx, ProviderProdamus, forged, "")
	assert.ErrorIs(t, err, ErrSignature)
	assert.Equal(t, models.PaymentPending, f.store.payments[co.OrderID].Status)
	assert.Nil(t, f.store.expiry[f.profile.ID])

	_, err = f.svc.HandleWebhook(ctx, ProviderProdamus, f.webhook("ORDER_0_monthly_00000000", "success"), "")
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = f.svc.HandleWebhook(ctx, "paypal", f.webhook(co.OrderID, "success"), "")
	assert.ErrorIs(t, err, ErrUnknownProvider)

	res, err := f.svc.HandleWebhook(ctx, ProviderProdamus, f.webhook(co.OrderID, "pending"), "")
	require.NoError(t, err)
	assert.True(t, res.Event.Ignored)
	assert.Nil(t, res.Finalization)
	assert.Equal(t, models.PaymentPending, f.store.payments[co.OrderID].Status)
}

func TestFailedWebhookLeavesSubscription(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	co, err := f.svc.Checkout(ctx, f.profile, "monthly")
	require.NoError(t, err)
	res, err := f.svc.HandleWebhook(ctx, ProviderProdamus, f.webhook(co.OrderID, "order_denied"), "")
	require.NoError(t, err)

	assert.Equal(t, models.PaymentFailed, res.Finalization.Payment.Status)
	assert.Nil(t, f.store.expiry[f.profile.ID])
	assert.Equal(t, int32(1), f.notifier.calls.Load())
}
