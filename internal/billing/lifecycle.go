package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"fitpass/internal/types"
)

// Gateway is the payment-gateway surface the lifecycle service depends on.
// Implemented by external.GatewayClient.
type Gateway interface {
	// EnsureConfigured fails before any local write when merchant
	// credentials are absent.
	EnsureConfigured() error
	CancelRebill(ctx context.Context, rebillNo string) (types.GatewayResult, error)
	CancelPayment(ctx context.Context, mulNo, memo string, partial bool, cancelPrice int) (types.GatewayResult, error)
	RequestPaymentCancellation(ctx context.Context, mulNo, memo string) (types.GatewayResult, error)
}

// EventPublisher fans billing events out to downstream workers. Publishing is
// best-effort; implementations must not fail the calling operation.
type EventPublisher interface {
	Publish(ctx context.Context, event types.BillingEvent)
}

// ChangeType classifies the outcome of a plan-change request.
type ChangeType string

const (
	ChangeCancel    ChangeType = "cancel"
	ChangeUpgrade   ChangeType = "upgrade"
	ChangeDowngrade ChangeType = "downgrade"
)

// CancelResult is the outcome of a cancellation request. The subscription
// stays usable through EndDate (the already-paid period).
type CancelResult struct {
	EndDate       time.Time
	DaysRemaining int
}

// RenewResult is the outcome of reversing a pending cancellation.
type RenewResult struct {
	NextBillingDate time.Time
}

// ChangePlanResult is the outcome of a plan-change request. RefundAmount and
// RefundStatus are set only on the upgrade path.
type ChangePlanResult struct {
	Type            ChangeType
	NeedsPayment    bool
	RefundAmount    int
	RefundStatus    types.RefundStatus
	ScheduledPlan   string
	ScheduledAmount int
}

// RefundResult is the outcome of a full-cancellation refund.
// RequiresManualProcessing is true when the charge had already settled and
// the cancellation went through the gateway's manual/batched path.
type RefundResult struct {
	RequiresManualProcessing bool
}

// LifecycleService implements the user-initiated subscription operations:
// cancel, renew, change-plan, and refund. Gateway side effects and local
// state changes are reported independently; a best-effort gateway failure
// never silently blocks a local transition, and a blocking one aborts before
// any write.
type LifecycleService struct {
	stores  types.Stores
	tx      types.TxRunner
	gateway Gateway
	plans   PlanRegistry
	events  EventPublisher
	logger  *slog.Logger
	now     func() time.Time
}

// NewLifecycleService creates a LifecycleService. events may be nil when no
// queue is configured.
func NewLifecycleService(
	stores types.Stores,
	tx types.TxRunner,
	gateway Gateway,
	plans PlanRegistry,
	events EventPublisher,
	logger *slog.Logger,
) *LifecycleService {
	if logger == nil {
		logger = slog.Default()
	}
	return &LifecycleService{
		stores:  stores,
		tx:      tx,
		gateway: gateway,
		plans:   plans,
		events:  events,
		logger:  logger,
		now:     time.Now,
	}
}

// Cancel schedules the end of the subscription at the next billing date. The
// rebill token is cancelled best-effort; the grace period is recorded locally
// regardless so the user keeps the already-paid period.
func (s *LifecycleService) Cancel(ctx context.Context, userID string) (*CancelResult, error) {
	if err := s.gateway.EnsureConfigured(); err != nil {
		return nil, err
	}

	sub, err := s.stores.Subscriptions.Current(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sub.CancelledAt != nil {
		return nil, types.NewAppError(
			types.ErrCodeConflictAlreadySet,
			"a cancellation is already scheduled for this subscription",
			nil,
		)
	}

	if sub.BillKey != nil {
		result, gwErr := s.gateway.CancelRebill(ctx, *sub.BillKey)
		if gwErr != nil || !result.Success {
			// Money may still be collected later; recorded for manual
			// follow-up, the local transition proceeds.
			s.logger.Error("rebill cancel failed during cancellation",
				slog.String("user_id", userID),
				slog.String("err_code", result.ErrCode),
				slog.Any("error", gwErr),
			)
		}
	}

	now := s.now()
	end := sub.NextBillingDate

	err = s.updateWithRetry(ctx, sub, func(sub *types.Subscription) error {
		if sub.CancelledAt != nil {
			return types.NewAppError(
				types.ErrCodeConflictAlreadySet,
				"a cancellation is already scheduled for this subscription",
				nil,
			)
		}
		end = sub.NextBillingDate
		sub.CancelledAt = &now
		sub.EndDate = &end
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, types.BillingEvent{
		Type:       types.EventCancelScheduled,
		UserID:     userID,
		Plan:       sub.Plan,
		OccurredAt: now,
	})

	return &CancelResult{EndDate: end, DaysRemaining: DaysRemaining(now, end)}, nil
}

// Renew reverses a pending cancellation during the grace period. No gateway
// call is made: the rebill token cancellation on the cancel path is
// best-effort and the token may still be live; when it is not, the next
// charge simply fails and the user re-registers.
func (s *LifecycleService) Renew(ctx context.Context, userID string) (*RenewResult, error) {
	sub, err := s.stores.Subscriptions.Current(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sub.Phase() != types.PhaseGracePeriod {
		return nil, types.NewAppError(
			types.ErrCodeNotFoundSubscription,
			"no subscription with a pending cancellation",
			nil,
		)
	}

	err = s.updateWithRetry(ctx, sub, func(sub *types.Subscription) error {
		if sub.Phase() != types.PhaseGracePeriod {
			return types.NewAppError(
				types.ErrCodeNotFoundSubscription,
				"no subscription with a pending cancellation",
				nil,
			)
		}
		sub.Status = types.SubStatusActive
		sub.CancelledAt = nil
		sub.EndDate = nil
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, types.BillingEvent{
		Type:       types.EventSubscriptionRenewed,
		UserID:     userID,
		Plan:       sub.Plan,
		OccurredAt: s.now(),
	})

	return &RenewResult{NextBillingDate: sub.NextBillingDate}, nil
}

// ChangePlan moves the subscription to the named plan. Upgrades take effect
// immediately (rebill token reset, prorated refund of the unused period,
// client re-registers at the new price); downgrades are scheduled for the
// next billing date. Requesting the current plan while a change is scheduled
// clears the schedule.
func (s *LifecycleService) ChangePlan(ctx context.Context, userID, planName string) (*ChangePlanResult, error) {
	target, ok := s.plans.Lookup(planName)
	if !ok {
		return nil, types.NewAppError(
			types.ErrCodeValidationInvalidPlan,
			fmt.Sprintf("unknown plan %q", planName),
			nil,
		)
	}

	sub, err := s.stores.Subscriptions.Current(ctx, userID)
	if err != nil {
		return nil, err
	}

	if target.Name == sub.Plan {
		return s.undoScheduledChange(ctx, sub)
	}

	current, ok := s.plans.Lookup(sub.Plan)
	if !ok {
		// Legacy row on a retired plan; rank it below everything so any
		// known plan is an upgrade.
		s.logger.Warn("subscription on unknown plan", slog.String("plan", sub.Plan))
		current = Plan{Name: sub.Plan, Price: sub.Amount, Rank: 0}
	}

	if target.Rank > current.Rank {
		return s.upgrade(ctx, sub, target)
	}
	return s.downgrade(ctx, sub, target)
}

// undoScheduledChange clears a pending downgrade when the user re-selects
// their current plan.
func (s *LifecycleService) undoScheduledChange(ctx context.Context, sub *types.Subscription) (*ChangePlanResult, error) {
	if sub.ScheduledPlan == nil {
		return nil, types.NewAppError(
			types.ErrCodeConflictAlreadySet,
			"already subscribed to this plan",
			nil,
		)
	}

	err := s.updateWithRetry(ctx, sub, func(sub *types.Subscription) error {
		sub.ScheduledPlan = nil
		sub.ScheduledAmount = nil
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &ChangePlanResult{Type: ChangeCancel}, nil
}

// upgrade resets the rebill token and refunds the unused remainder of the
// current period. The new plan is not written locally: it is committed by the
// webhook when the re-registered token's first charge lands.
func (s *LifecycleService) upgrade(ctx context.Context, sub *types.Subscription, target Plan) (*ChangePlanResult, error) {
	if err := s.gateway.EnsureConfigured(); err != nil {
		return nil, err
	}

	// A user must not be double-billed on two live tokens, so this failure
	// aborts the whole operation.
	if sub.BillKey != nil {
		result, err := s.gateway.CancelRebill(ctx, *sub.BillKey)
		if err != nil {
			return nil, err
		}
		if !result.Success {
			return nil, types.NewAppError(
				types.ErrCodeGatewayRejected,
				"gateway refused to cancel the existing recurring token",
				nil,
			).WithDetails(map[string]any{"gateway_code": result.ErrCode})
		}
	}

	now := s.now()
	refund := RemainingRefund(sub.Amount, now, sub.NextBillingDate)
	refundStatus := s.issueUpgradeRefund(ctx, sub, refund, now)

	err := s.updateWithRetry(ctx, sub, func(sub *types.Subscription) error {
		sub.BillKey = nil
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, types.BillingEvent{
		Type:       types.EventPlanUpgraded,
		UserID:     sub.UserID,
		Plan:       target.Name,
		Amount:     target.Price,
		OccurredAt: now,
	})

	return &ChangePlanResult{
		Type:         ChangeUpgrade,
		NeedsPayment: true,
		RefundAmount: refund,
		RefundStatus: refundStatus,
	}, nil
}

// issueUpgradeRefund refunds the prorated remainder via the path the
// settlement window allows. Failures are logged, never blocking: the upgrade
// already holds and support reconciles skipped refunds manually.
func (s *LifecycleService) issueUpgradeRefund(ctx context.Context, sub *types.Subscription, refund int, now time.Time) types.RefundStatus {
	if refund <= 0 {
		return types.RefundSkipped
	}

	payment, err := s.stores.Payments.LatestCompletedByTradeID(ctx, sub.TradeID)
	if err != nil || payment == nil || payment.ApprovedAt == nil {
		s.logger.Warn("no settled payment found for prorated refund",
			slog.String("user_id", sub.UserID),
			slog.String("trade_id", sub.TradeID),
			slog.Any("error", err),
		)
		return types.RefundSkipped
	}

	memo := "plan upgrade prorated refund"
	var (
		result types.GatewayResult
		gwErr  error
		status types.RefundStatus
		ledger types.PaymentStatus
	)
	if DaysSince(*payment.ApprovedAt, now) <= settlementWindowDays {
		result, gwErr = s.gateway.CancelPayment(ctx, payment.TradeID, memo, true, refund)
		status, ledger = types.RefundImmediate, types.PaymentRefunded
	} else {
		result, gwErr = s.gateway.RequestPaymentCancellation(ctx, payment.TradeID, memo)
		status, ledger = types.RefundRequested, types.PaymentRefundRequested
	}
	if gwErr != nil || !result.Success {
		s.logger.Error("prorated refund failed",
			slog.String("user_id", sub.UserID),
			slog.String("trade_id", payment.TradeID),
			slog.Int("refund", refund),
			slog.String("err_code", result.ErrCode),
			slog.Any("error", gwErr),
		)
		return types.RefundSkipped
	}

	if err := s.stores.Payments.Insert(ctx, &types.PaymentRecord{
		ID:            uuid.NewString(),
		UserID:        sub.UserID,
		OrderID:       uuid.NewString(),
		TradeID:       payment.TradeID,
		Amount:        refund,
		Status:        ledger,
		PaymentMethod: sub.PaymentMethod,
	}); err != nil {
		s.logger.Error("failed to record prorated refund", slog.Any("error", err))
	}

	return status
}

// downgrade schedules the cheaper plan for the next billing date. Nothing
// changes until the reconciler applies the schedule on the next renewal
// charge.
func (s *LifecycleService) downgrade(ctx context.Context, sub *types.Subscription, target Plan) (*ChangePlanResult, error) {
	err := s.updateWithRetry(ctx, sub, func(sub *types.Subscription) error {
		name, price := target.Name, target.Price
		sub.ScheduledPlan = &name
		sub.ScheduledAmount = &price
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, types.BillingEvent{
		Type:       types.EventPlanChangeScheduled,
		UserID:     sub.UserID,
		Plan:       target.Name,
		Amount:     target.Price,
		OccurredAt: s.now(),
	})

	return &ChangePlanResult{
		Type:            ChangeDowngrade,
		ScheduledPlan:   target.Name,
		ScheduledAmount: target.Price,
	}, nil
}

// settlementWindowDays is the card-network settlement window: a charge
// approved at most this many days ago can still be reversed immediately;
// older charges go through the gateway's manual cancellation-request path.
const settlementWindowDays = 5

// Refund terminates the subscription with a full refund of the latest
// charge. Unlike the best-effort refund on the upgrade path, a gateway
// rejection here aborts the operation: terminating service without returning
// the money would be silently wrong.
func (s *LifecycleService) Refund(ctx context.Context, userID, reason string) (*RefundResult, error) {
	if err := s.gateway.EnsureConfigured(); err != nil {
		return nil, err
	}

	sub, err := s.stores.Subscriptions.Current(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sub.TradeID == "" {
		return nil, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"subscription has no charge to refund",
			nil,
		)
	}

	now := s.now()
	memo := reason
	if memo == "" {
		memo = "subscription refund"
	}

	var (
		result       types.GatewayResult
		gwErr        error
		ledgerStatus types.PaymentStatus
		manual       bool
	)
	if DaysSince(sub.StartDate, now) <= settlementWindowDays {
		result, gwErr = s.gateway.CancelPayment(ctx, sub.TradeID, memo, false, 0)
		ledgerStatus = types.PaymentRefunded
	} else {
		result, gwErr = s.gateway.RequestPaymentCancellation(ctx, sub.TradeID, memo)
		ledgerStatus = types.PaymentRefundRequested
		manual = true
	}
	if gwErr != nil {
		return nil, gwErr
	}
	if !result.Success {
		return nil, types.NewAppError(
			types.ErrCodeGatewayRejected,
			"gateway rejected the refund",
			nil,
		).WithDetails(map[string]any{
			"gateway_code":    result.ErrCode,
			"gateway_message": result.ErrMessage,
		})
	}

	// Terminate and record the refund atomically.
	err = s.tx.InTx(ctx, func(ctx context.Context, stores types.Stores) error {
		if err := s.updateIn(ctx, stores, sub, func(sub *types.Subscription) error {
			sub.Status = types.SubStatusCancelled
			sub.CancelledAt = &now
			sub.EndDate = &now
			return nil
		}); err != nil {
			return err
		}
		return stores.Payments.Insert(ctx, &types.PaymentRecord{
			ID:            uuid.NewString(),
			UserID:        userID,
			OrderID:       uuid.NewString(),
			TradeID:       sub.TradeID,
			Amount:        sub.Amount,
			Status:        ledgerStatus,
			PaymentMethod: sub.PaymentMethod,
		})
	})
	if err != nil {
		return nil, err
	}

	eventType := types.EventRefundIssued
	if manual {
		eventType = types.EventRefundRequested
	}
	s.publish(ctx, types.BillingEvent{
		Type:       eventType,
		UserID:     userID,
		Plan:       sub.Plan,
		Amount:     sub.Amount,
		TradeID:    sub.TradeID,
		OccurredAt: now,
	})

	return &RefundResult{RequiresManualProcessing: manual}, nil
}

// updateWithRetry applies mutate to sub and persists it with a
// compare-and-swap update. A lost race against a concurrent writer (webhook
// delivery, another request) is retried once on a fresh read; a second loss
// surfaces the conflict.
func (s *LifecycleService) updateWithRetry(ctx context.Context, sub *types.Subscription, mutate func(*types.Subscription) error) error {
	return s.updateIn(ctx, s.stores, sub, mutate)
}

func (s *LifecycleService) updateIn(ctx context.Context, stores types.Stores, sub *types.Subscription, mutate func(*types.Subscription) error) error {
	if err := mutate(sub); err != nil {
		return err
	}
	err := stores.Subscriptions.Update(ctx, sub)
	if err == nil {
		return nil
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) || appErr.Code != types.ErrCodeConflictConcurrent {
		return err
	}

	fresh, ferr := stores.Subscriptions.Current(ctx, sub.UserID)
	if ferr != nil {
		return err
	}
	if ferr := mutate(fresh); ferr != nil {
		return ferr
	}
	if uerr := stores.Subscriptions.Update(ctx, fresh); uerr != nil {
		return uerr
	}
	*sub = *fresh
	return nil
}

// publish fans the event out when a publisher is configured.
func (s *LifecycleService) publish(ctx context.Context, event types.BillingEvent) {
	if s.events == nil {
		return
	}
	event.TraceID = types.GetRequestID(ctx)
	s.events.Publish(ctx, event)
}
