package billing

import (
	"context"

	"fitpass/internal/types"
)

// StatusView is the user-facing projection of the current subscription.
// NextAmount is the effective next charge: the scheduled downgrade amount
// when one is pending, the current amount otherwise.
//
// After an upgrade the view keeps showing the old plan and amount until the
// re-registration charge's webhook lands; that staleness window is accepted.
type StatusView struct {
	Active          bool                     `json:"active"`
	Status          types.SubscriptionStatus `json:"status,omitempty"`
	Phase           types.SubscriptionPhase  `json:"phase,omitempty"`
	Plan            string                   `json:"plan,omitempty"`
	Amount          int                      `json:"amount,omitempty"`
	NextAmount      int                      `json:"next_amount,omitempty"`
	StartDate       *string                  `json:"start_date,omitempty"`
	NextBillingDate *string                  `json:"next_billing_date,omitempty"`
	EndDate         *string                  `json:"end_date,omitempty"`
	CancelledAt     *string                  `json:"cancelled_at,omitempty"`
	ScheduledPlan   *string                  `json:"scheduled_plan,omitempty"`
	ScheduledAmount *int                     `json:"scheduled_amount,omitempty"`
	PaymentMethod   string                   `json:"payment_method,omitempty"`
	NeedsBillKey    bool                     `json:"needs_bill_key,omitempty"`
}

// StatusService derives the read-only subscription view. It never mutates
// state.
type StatusService struct {
	subscriptions types.SubscriptionStore
}

func NewStatusService(subscriptions types.SubscriptionStore) *StatusService {
	return &StatusService{subscriptions: subscriptions}
}

// Status returns the projection for the user's most recent non-terminal
// subscription, or the inactive shape when none exists.
func (s *StatusService) Status(ctx context.Context, userID string) (*StatusView, error) {
	sub, err := s.subscriptions.Current(ctx, userID)
	if err != nil {
		if isNotFound(err) {
			return &StatusView{Active: false}, nil
		}
		return nil, err
	}

	start := sub.StartDate.Format("2006-01-02")
	next := sub.NextBillingDate.Format("2006-01-02")

	view := &StatusView{
		Active:          true,
		Status:          sub.Status,
		Phase:           sub.Phase(),
		Plan:            sub.Plan,
		Amount:          sub.Amount,
		NextAmount:      sub.EffectiveAmount(),
		StartDate:       &start,
		NextBillingDate: &next,
		ScheduledPlan:   sub.ScheduledPlan,
		ScheduledAmount: sub.ScheduledAmount,
		PaymentMethod:   sub.PaymentMethod,
		NeedsBillKey:    sub.BillKey == nil,
	}
	if sub.EndDate != nil {
		end := sub.EndDate.Format("2006-01-02")
		view.EndDate = &end
	}
	if sub.CancelledAt != nil {
		cancelled := sub.CancelledAt.Format("2006-01-02")
		view.CancelledAt = &cancelled
	}
	return view, nil
}
