package billing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fitpass/internal/types"
)

func TestStatus_InactiveShape(t *testing.T) {
	db := newMemDB()
	svc := NewStatusService(db.stores().Subscriptions)

	view, err := svc.Status(context.Background(), "user-1")
	require.NoError(t, err)
	assert.False(t, view.Active)
	assert.Empty(t, view.Plan)
}

func TestStatus_ActiveSubscription(t *testing.T) {
	db := newMemDB()
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	billKey := "rb-1"
	require.NoError(t, db.stores().Subscriptions.Create(context.Background(), &types.Subscription{
		ID: "sub-1", UserID: "user-1", Plan: "베이직", Amount: 9900,
		Status: types.SubStatusActive, BillingCycle: types.CycleMonthly,
		StartDate: now.AddDate(0, -1, 0), NextBillingDate: now.AddDate(0, 0, 12),
		BillKey: &billKey, PaymentMethod: "신한카드", CreatedAt: now.AddDate(0, -1, 0),
	}))

	svc := NewStatusService(db.stores().Subscriptions)
	view, err := svc.Status(context.Background(), "user-1")
	require.NoError(t, err)

	assert.True(t, view.Active)
	assert.Equal(t, types.PhaseActive, view.Phase)
	assert.Equal(t, "베이직", view.Plan)
	assert.Equal(t, 9900, view.Amount)
	assert.Equal(t, 9900, view.NextAmount)
	assert.False(t, view.NeedsBillKey)
	require.NotNil(t, view.NextBillingDate)
	assert.Equal(t, "2026-03-22", *view.NextBillingDate)
}

func TestStatus_ScheduledDowngradeDrivesNextAmount(t *testing.T) {
	db := newMemDB()
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	require.NoError(t, db.stores().Subscriptions.Create(context.Background(), &types.Subscription{
		ID: "sub-1", UserID: "user-1", Plan: "프리미엄", Amount: 19900,
		Status: types.SubStatusActive, BillingCycle: types.CycleMonthly,
		StartDate: now.AddDate(0, -1, 0), NextBillingDate: now.AddDate(0, 0, 12),
		ScheduledPlan: strPtr("베이직"), ScheduledAmount: intPtr(9900),
		CreatedAt: now.AddDate(0, -1, 0),
	}))

	svc := NewStatusService(db.stores().Subscriptions)
	view, err := svc.Status(context.Background(), "user-1")
	require.NoError(t, err)

	assert.Equal(t, 19900, view.Amount)
	assert.Equal(t, 9900, view.NextAmount)
	require.NotNil(t, view.ScheduledPlan)
	assert.Equal(t, "베이직", *view.ScheduledPlan)
}

func TestStatus_GracePeriodExposesEndDate(t *testing.T) {
	db := newMemDB()
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	end := now.AddDate(0, 0, 12)
	require.NoError(t, db.stores().Subscriptions.Create(context.Background(), &types.Subscription{
		ID: "sub-1", UserID: "user-1", Plan: "베이직", Amount: 9900,
		Status: types.SubStatusActive, BillingCycle: types.CycleMonthly,
		StartDate: now.AddDate(0, -1, 0), NextBillingDate: end,
		CancelledAt: &now, EndDate: &end,
		CreatedAt: now.AddDate(0, -1, 0),
	}))

	svc := NewStatusService(db.stores().Subscriptions)
	view, err := svc.Status(context.Background(), "user-1")
	require.NoError(t, err)

	assert.True(t, view.Active)
	assert.Equal(t, types.PhaseGracePeriod, view.Phase)
	require.NotNil(t, view.EndDate)
	assert.Equal(t, "2026-03-22", *view.EndDate)
}

// An upgrade clears the bill key but keeps the old plan until the
// re-registration webhook lands; the projection reports that window via
// NeedsBillKey while still showing the old amounts.
func TestStatus_UpgradeStalenessWindow(t *testing.T) {
	db := newMemDB()
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	require.NoError(t, db.stores().Subscriptions.Create(context.Background(), &types.Subscription{
		ID: "sub-1", UserID: "user-1", Plan: "베이직", Amount: 9900,
		Status: types.SubStatusActive, BillingCycle: types.CycleMonthly,
		StartDate: now.AddDate(0, -1, 0), NextBillingDate: now.AddDate(0, 0, 12),
		CreatedAt: now.AddDate(0, -1, 0),
	}))

	svc := NewStatusService(db.stores().Subscriptions)
	view, err := svc.Status(context.Background(), "user-1")
	require.NoError(t, err)

	assert.True(t, view.NeedsBillKey)
	assert.Equal(t, "베이직", view.Plan)
	assert.Equal(t, 9900, view.NextAmount)
}
