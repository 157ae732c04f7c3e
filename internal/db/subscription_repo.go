package db

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"fitpass/internal/types"
)

// SubscriptionRepository provides data access for the subscriptions table.
//
// Key invariants:
//   - At most one row per user carries a non-terminal status; application
//     logic enforces this via Current + Create ordering inside a transaction.
//   - Update uses compare-and-swap on the version column so a user-initiated
//     action and a webhook delivery for the same row cannot silently
//     overwrite each other.
//   - Rows are never hard-deleted; history is retained for the ledger join.
type SubscriptionRepository struct {
	db     DBTX
	logger *slog.Logger
}

// NewSubscriptionRepository creates a SubscriptionRepository backed by the
// given database connection (pool or transaction).
func NewSubscriptionRepository(db DBTX, logger *slog.Logger) *SubscriptionRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionRepository{db: db, logger: logger}
}

// subscriptionColumns is the standard column set for subscription queries.
// Used consistently across all query methods to avoid column drift.
const subscriptionColumns = `s.id, s.user_id, s.plan, s.amount, s.billing_cycle, s.status,
	s.start_date, s.next_billing_date, s.end_date, s.cancelled_at,
	s.scheduled_plan, s.scheduled_amount,
	s.bill_key, s.trade_id, s.payment_type, s.card_name, s.payment_method,
	s.version, s.created_at, s.updated_at`

// scanSubscription scans a single subscription row. The columns must match
// the order defined in subscriptionColumns. Nullable columns use pointer
// scan targets.
func scanSubscription(row pgx.Row) (*types.Subscription, error) {
	var s types.Subscription
	var (
		endDate     *time.Time
		cancelledAt *time.Time
		schedPlan   *string
		schedAmount *int
		billKey     *string
		tradeID     *string
		paymentType *string
		cardName    *string
		payMethod   *string
	)
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.Plan,
		&s.Amount,
		&s.BillingCycle,
		&s.Status,
		&s.StartDate,
		&s.NextBillingDate,
		&endDate,
		&cancelledAt,
		&schedPlan,
		&schedAmount,
		&billKey,
		&tradeID,
		&paymentType,
		&cardName,
		&payMethod,
		&s.Version,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.EndDate = endDate
	s.CancelledAt = cancelledAt
	s.ScheduledPlan = schedPlan
	s.ScheduledAmount = schedAmount
	s.BillKey = billKey
	if tradeID != nil {
		s.TradeID = *tradeID
	}
	if paymentType != nil {
		s.PaymentType = *paymentType
	}
	if cardName != nil {
		s.CardName = *cardName
	}
	if payMethod != nil {
		s.PaymentMethod = *payMethod
	}
	return &s, nil
}

// Current returns the user's most recent subscription with a non-terminal
// status (active or cancel_scheduled). Returns ErrCodeNotFoundSubscription
// when no such row exists.
func (r *SubscriptionRepository) Current(ctx context.Context, userID string) (*types.Subscription, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions s
		 WHERE s.user_id = $1 AND s.status IN ('active', 'cancel_scheduled')
		 ORDER BY s.created_at DESC
		 LIMIT 1`,
		userID,
	)

	s, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundSubscription, "no active subscription found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve subscription", err)
	}
	return s, nil
}

// Create inserts a new subscription row. The caller supplies ID, dates, and
// gateway linkage; version starts at 1.
func (r *SubscriptionRepository) Create(ctx context.Context, s *types.Subscription) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO subscriptions
		   (id, user_id, plan, amount, billing_cycle, status,
		    start_date, next_billing_date, end_date, cancelled_at,
		    scheduled_plan, scheduled_amount,
		    bill_key, trade_id, payment_type, card_name, payment_method,
		    version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
		         $11, $12, $13, $14, $15, $16, $17, 1, NOW(), NOW())`,
		s.ID,
		s.UserID,
		s.Plan,
		s.Amount,
		s.BillingCycle,
		s.Status,
		s.StartDate,
		s.NextBillingDate,
		s.EndDate,
		s.CancelledAt,
		s.ScheduledPlan,
		s.ScheduledAmount,
		s.BillKey,
		s.TradeID,
		s.PaymentType,
		s.CardName,
		s.PaymentMethod,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create subscription", err)
	}
	return nil
}

// Update persists all mutable fields of the subscription using optimistic
// locking: the UPDATE only applies when the stored version matches
// s.Version. On success s.Version is incremented to mirror the stored row.
// Returns ErrCodeConflictConcurrent when the row was modified concurrently.
func (r *SubscriptionRepository) Update(ctx context.Context, s *types.Subscription) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE subscriptions
		 SET plan = $1,
		     amount = $2,
		     billing_cycle = $3,
		     status = $4,
		     start_date = $5,
		     next_billing_date = $6,
		     end_date = $7,
		     cancelled_at = $8,
		     scheduled_plan = $9,
		     scheduled_amount = $10,
		     bill_key = $11,
		     trade_id = $12,
		     payment_type = $13,
		     card_name = $14,
		     payment_method = $15,
		     version = version + 1,
		     updated_at = NOW()
		 WHERE id = $16 AND version = $17`,
		s.Plan,
		s.Amount,
		s.BillingCycle,
		s.Status,
		s.StartDate,
		s.NextBillingDate,
		s.EndDate,
		s.CancelledAt,
		s.ScheduledPlan,
		s.ScheduledAmount,
		s.BillKey,
		s.TradeID,
		s.PaymentType,
		s.CardName,
		s.PaymentMethod,
		s.ID,
		s.Version,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update subscription", err)
	}

	if tag.RowsAffected() == 0 {
		r.logger.Warn("subscription update lost optimistic lock race",
			slog.String("subscription_id", s.ID),
			slog.Int("version", s.Version),
		)
		return types.NewAppError(
			types.ErrCodeConflictConcurrent,
			"subscription was modified concurrently",
			nil,
		)
	}

	s.Version++
	return nil
}
