// Package types defines the domain entities, enumerations, and shared value
// objects for the fitpass billing platform. It has no dependencies on other
// internal packages so that every layer (repositories, services, handlers)
// can share these definitions without import cycles.
package types

import "time"

// SubscriptionStatus is the persisted lifecycle status of a subscription row.
type SubscriptionStatus string

const (
	SubStatusActive          SubscriptionStatus = "active"
	SubStatusCancelScheduled SubscriptionStatus = "cancel_scheduled"
	SubStatusCancelled       SubscriptionStatus = "cancelled"
)

// SubscriptionPhase is the derived, unambiguous lifecycle phase.
//
// The persisted row encodes "cancel requested but still usable" as
// status=active with cancelled_at set. Phase() collapses the nullable-flag
// combinations into a single tagged value so callers cannot misread the
// grace-period state.
type SubscriptionPhase string

const (
	// PhaseActive: billing continues, no cancellation recorded.
	PhaseActive SubscriptionPhase = "active"
	// PhaseGracePeriod: cancellation recorded, service usable until EndDate.
	PhaseGracePeriod SubscriptionPhase = "grace_period"
	// PhaseCancelled: terminal. Re-entry to active is not supported.
	PhaseCancelled SubscriptionPhase = "cancelled"
)

// BillingCycle identifies the recurring charge interval. Only monthly is
// issued today; the column exists so annual plans do not need a migration.
type BillingCycle string

const CycleMonthly BillingCycle = "monthly"

// Subscription is one logical billing relationship for a user. Multiple
// historical rows may exist per user; "current" means the most recent row
// by creation time with a non-terminal status.
type Subscription struct {
	ID              string             `json:"id"`
	UserID          string             `json:"user_id"`
	Plan            string             `json:"plan"`
	Amount          int                `json:"amount"` // whole currency units
	BillingCycle    BillingCycle       `json:"billing_cycle"`
	Status          SubscriptionStatus `json:"status"`
	StartDate       time.Time          `json:"start_date"`
	NextBillingDate time.Time          `json:"next_billing_date"`
	EndDate         *time.Time         `json:"end_date,omitempty"`
	CancelledAt     *time.Time         `json:"cancelled_at,omitempty"`

	// Pending downgrade, applied by the webhook reconciler when the next
	// renewal charge arrives. Both nil when no change is scheduled.
	ScheduledPlan   *string `json:"scheduled_plan,omitempty"`
	ScheduledAmount *int    `json:"scheduled_amount,omitempty"`

	// Gateway linkage. BillKey is nil after a rebill cancellation until the
	// client re-registers a recurring token.
	BillKey       *string `json:"bill_key,omitempty"`
	TradeID       string  `json:"trade_id"`
	PaymentType   string  `json:"payment_type"`
	CardName      string  `json:"card_name"`
	PaymentMethod string  `json:"payment_method"`

	// Version supports compare-and-swap updates so a user-initiated action
	// and a webhook delivery cannot silently overwrite each other.
	Version   int       `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Phase derives the unambiguous lifecycle phase from the persisted fields.
func (s *Subscription) Phase() SubscriptionPhase {
	if s.Status == SubStatusCancelled {
		return PhaseCancelled
	}
	if s.CancelledAt != nil {
		return PhaseGracePeriod
	}
	return PhaseActive
}

// EffectiveAmount is the amount the next renewal will charge: the scheduled
// downgrade amount when one is pending, the current amount otherwise.
func (s *Subscription) EffectiveAmount() int {
	if s.ScheduledAmount != nil {
		return *s.ScheduledAmount
	}
	return s.Amount
}

// EffectivePlan mirrors EffectiveAmount for the plan name.
func (s *Subscription) EffectivePlan() string {
	if s.ScheduledPlan != nil {
		return *s.ScheduledPlan
	}
	return s.Plan
}

// PaymentStatus classifies a payment ledger entry.
type PaymentStatus string

const (
	PaymentCompleted       PaymentStatus = "completed"
	PaymentFailed          PaymentStatus = "failed"
	PaymentRefunded        PaymentStatus = "refunded"
	PaymentRefundRequested PaymentStatus = "refund_requested"
)

// PaymentRecord is one row of the append-only payment ledger. Rows are never
// updated in place; corrections are new rows.
type PaymentRecord struct {
	ID            string        `json:"id"`
	UserID        string        `json:"user_id"`
	OrderID       string        `json:"order_id"`
	TradeID       string        `json:"trade_id"`
	Amount        int           `json:"amount"`
	Status        PaymentStatus `json:"status"`
	PaymentMethod string        `json:"payment_method"`
	ApprovedAt    *time.Time    `json:"approved_at,omitempty"`
	ErrorCode     string        `json:"error_code,omitempty"`
	ErrorMessage  string        `json:"error_message,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

// User is the minimal projection of the auth subsystem's user record that
// the billing core reads for gateway calls and phone-based webhook lookups.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email"`
}

// RefundStatus reports how a refund side effect was carried out relative to
// the committed local state change. The local write succeeds either way; the
// caller surfaces this so that support can follow up on skipped refunds.
type RefundStatus string

const (
	// RefundImmediate: the gateway reversed the charge in-settlement-window.
	RefundImmediate RefundStatus = "immediate"
	// RefundRequested: the charge had settled; a manual/batched cancellation
	// request was filed with the gateway.
	RefundRequested RefundStatus = "requested"
	// RefundSkipped: the gateway call failed; recorded for manual follow-up.
	RefundSkipped RefundStatus = "skipped"
)

// GatewayResult carries the outcome of a gateway side effect separately from
// the local state change, so callers and tests can assert on both.
type GatewayResult struct {
	Success    bool   `json:"success"`
	ErrCode    string `json:"err_code,omitempty"`
	ErrMessage string `json:"err_message,omitempty"`
}

// BillingEventType tags messages published to the billing event queue.
type BillingEventType string

const (
	EventChargeRecorded        BillingEventType = "charge_recorded"
	EventChargeFailed          BillingEventType = "charge_failed"
	EventCancelScheduled       BillingEventType = "cancel_scheduled"
	EventSubscriptionRenewed   BillingEventType = "subscription_renewed"
	EventPlanChangeScheduled   BillingEventType = "plan_change_scheduled"
	EventPlanUpgraded          BillingEventType = "plan_upgraded"
	EventRefundIssued          BillingEventType = "refund_issued"
	EventRefundRequested       BillingEventType = "refund_requested"
)

// BillingEvent is the message body published to SQS for downstream workers
// (receipt mails, analytics). Delivery is best-effort; the ledger row is the
// source of truth.
type BillingEvent struct {
	Type       BillingEventType `json:"type"`
	UserID     string           `json:"user_id"`
	Plan       string           `json:"plan,omitempty"`
	Amount     int              `json:"amount,omitempty"`
	TradeID    string           `json:"trade_id,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
	TraceID    string           `json:"trace_id,omitempty"`
}
