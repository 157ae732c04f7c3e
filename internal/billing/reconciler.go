package billing

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"fitpass/internal/types"
)

// payStateSuccess is the gateway's pay_state value for a successful charge.
// Every other value is a failure notification.
const payStateSuccess = "4"

// notificationModeMethodChange tags a charge issued only to register a new
// payment method; billing amounts and dates are untouched for these.
const notificationModeMethodChange = "method_change"

// Notification is the decoded gateway webhook payload. All fields arrive as
// strings regardless of content type; Price is parsed by ParseNotification.
type Notification struct {
	PayState  string
	TradeID   string // mul_no
	Price     int
	GoodName  string
	RecvPhone string
	BuyerName string
	Var1      string // opaque context blob, JSON when present
	PayDate   string
	RebillNo  string
	PayType   string
	CardName  string
	NaverPay  string
	VBank     string
}

// Success reports whether the notification describes a successful charge.
func (n Notification) Success() bool {
	return n.PayState == payStateSuccess
}

// ParseNotification builds a Notification from a field getter. The handler
// supplies the getter over JSON, form, or query fields so the reconciler does
// not care which encoding the gateway used.
func ParseNotification(get func(string) string) Notification {
	price, _ := strconv.Atoi(get("price"))
	return Notification{
		PayState:  get("pay_state"),
		TradeID:   get("mul_no"),
		Price:     price,
		GoodName:  get("goodname"),
		RecvPhone: get("recvphone"),
		BuyerName: get("buyer"),
		Var1:      get("var1"),
		PayDate:   get("pay_date"),
		RebillNo:  get("rebill_no"),
		PayType:   get("pay_type"),
		CardName:  get("card_name"),
		NaverPay:  get("naverpay"),
		VBank:     get("vbank"),
	}
}

// notificationContext is the shape of the var1 blob the charge was created
// with: the paying user and, for payment-method-change flows, a mode
// discriminator.
type notificationContext struct {
	UserID string `json:"userId"`
	Mode   string `json:"mode"`
}

// Reconciler folds asynchronous gateway notifications into the subscription
// store and the payment ledger. Processing is idempotent per trade id, and
// the store upsert and ledger append commit in one transaction.
//
// A nil return means the notification was processed (including business
// failures such as an unresolvable user, which the gateway must not retry);
// a non-nil return means an internal fault the gateway should redeliver.
type Reconciler struct {
	tx     types.TxRunner
	users  types.UserStore
	events EventPublisher
	logger *slog.Logger
	now    func() time.Time
}

// NewReconciler creates a Reconciler. events may be nil.
func NewReconciler(tx types.TxRunner, users types.UserStore, events EventPublisher, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		tx:     tx,
		users:  users,
		events: events,
		logger: logger,
		now:    time.Now,
	}
}

// Process applies one gateway notification.
func (r *Reconciler) Process(ctx context.Context, n Notification) error {
	nctx := r.decodeContext(n)

	user, err := r.resolveUser(ctx, nctx.UserID, n.RecvPhone)
	if err != nil {
		return err
	}
	if user == nil {
		// Business failure: acknowledged so the gateway stops redelivering
		// a notification we can never attribute.
		r.logger.Warn("could not resolve paying user",
			slog.String("trade_id", n.TradeID),
			slog.String("recvphone", n.RecvPhone),
		)
		return nil
	}

	if !n.Success() {
		return r.recordFailure(ctx, user.ID, n)
	}
	return r.recordCharge(ctx, user, n, nctx.Mode)
}

// decodeContext parses the var1 blob. Absent or unparseable blobs are normal
// (payment links created outside the app); phone fallback covers those.
func (r *Reconciler) decodeContext(n Notification) notificationContext {
	var nctx notificationContext
	if n.Var1 == "" {
		return nctx
	}
	if err := json.Unmarshal([]byte(n.Var1), &nctx); err != nil {
		r.logger.Warn("unparseable notification context",
			slog.String("trade_id", n.TradeID),
		)
	}
	return nctx
}

// resolveUser finds the paying user by the context userId, falling back to a
// digit-normalized phone lookup. A nil user with nil error means the user
// could not be attributed.
func (r *Reconciler) resolveUser(ctx context.Context, userID, phone string) (*types.User, error) {
	if userID != "" {
		user, err := r.users.GetByID(ctx, userID)
		if err == nil {
			return user, nil
		}
		if !isNotFound(err) {
			return nil, err
		}
		r.logger.Warn("notification context user does not exist",
			slog.String("user_id", userID),
		)
	}

	if phone == "" {
		return nil, nil
	}
	user, err := r.users.GetByPhone(ctx, phone)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// recordFailure appends a failed ledger row. The subscription row is never
// touched on a failed charge.
func (r *Reconciler) recordFailure(ctx context.Context, userID string, n Notification) error {
	err := r.tx.InTx(ctx, func(ctx context.Context, stores types.Stores) error {
		return stores.Payments.Insert(ctx, &types.PaymentRecord{
			ID:            uuid.NewString(),
			UserID:        userID,
			OrderID:       uuid.NewString(),
			TradeID:       n.TradeID,
			Amount:        n.Price,
			Status:        types.PaymentFailed,
			PaymentMethod: PaymentMethodLabel(n.PayType, n.CardName, n.VBank, n.NaverPay),
			ErrorCode:     n.PayState,
			ErrorMessage:  "gateway reported charge failure",
		})
	})
	if err != nil {
		return err
	}

	r.publish(ctx, types.BillingEvent{
		Type:       types.EventChargeFailed,
		UserID:     userID,
		Amount:     n.Price,
		TradeID:    n.TradeID,
		OccurredAt: r.now(),
	})
	return nil
}

// recordCharge upserts the subscription and appends the completed ledger row
// in one transaction. Redelivery of an already-recorded trade id is skipped.
func (r *Reconciler) recordCharge(ctx context.Context, user *types.User, n Notification, mode string) error {
	approvedAt := r.approvedAt(n.PayDate)
	methodLabel := PaymentMethodLabel(n.PayType, n.CardName, n.VBank, n.NaverPay)

	var duplicate bool
	var plan string
	var amount int

	err := r.tx.InTx(ctx, func(ctx context.Context, stores types.Stores) error {
		if n.TradeID != "" {
			prior, err := stores.Payments.LatestCompletedByTradeID(ctx, n.TradeID)
			if err != nil {
				return err
			}
			if prior != nil {
				duplicate = true
				return nil
			}
		}

		sub, err := stores.Subscriptions.Current(ctx, user.ID)
		if err != nil && !isNotFound(err) {
			return err
		}

		switch {
		case sub != nil && mode == notificationModeMethodChange:
			err = r.applyMethodChange(ctx, stores, sub, n, methodLabel)
		case sub != nil:
			err = r.applyRenewal(ctx, stores, sub, n, methodLabel, approvedAt)
		default:
			sub, err = r.insertSubscription(ctx, stores, user.ID, n, methodLabel, approvedAt)
		}
		if err != nil {
			return err
		}
		plan, amount = sub.Plan, sub.Amount

		// Contact details ride along on the notification; keep the mirror
		// fresh but never fail the charge over it.
		if n.BuyerName != "" || n.RecvPhone != "" {
			if uerr := stores.Users.UpdateContact(ctx, user.ID, n.BuyerName, n.RecvPhone); uerr != nil {
				r.logger.Warn("user contact update failed", slog.Any("error", uerr))
			}
		}

		return stores.Payments.Insert(ctx, &types.PaymentRecord{
			ID:            uuid.NewString(),
			UserID:        user.ID,
			OrderID:       uuid.NewString(),
			TradeID:       n.TradeID,
			Amount:        n.Price,
			Status:        types.PaymentCompleted,
			PaymentMethod: methodLabel,
			ApprovedAt:    &approvedAt,
		})
	})
	if err != nil {
		return err
	}
	if duplicate {
		r.logger.Info("duplicate notification skipped",
			slog.String("trade_id", n.TradeID),
			slog.String("user_id", user.ID),
		)
		return nil
	}

	r.publish(ctx, types.BillingEvent{
		Type:       types.EventChargeRecorded,
		UserID:     user.ID,
		Plan:       plan,
		Amount:     amount,
		TradeID:    n.TradeID,
		OccurredAt: approvedAt,
	})
	return nil
}

// applyMethodChange refreshes only the gateway-linkage fields; the billing
// amount and dates stay as they are.
func (r *Reconciler) applyMethodChange(ctx context.Context, stores types.Stores, sub *types.Subscription, n Notification, methodLabel string) error {
	if n.RebillNo != "" {
		rebill := n.RebillNo
		sub.BillKey = &rebill
	}
	sub.TradeID = n.TradeID
	sub.PaymentType = n.PayType
	sub.CardName = n.CardName
	sub.PaymentMethod = methodLabel
	return stores.Subscriptions.Update(ctx, sub)
}

// applyRenewal overwrites the subscription for a renewal or a re-registered
// upgrade charge: new plan/amount, advanced billing date, fresh linkage. A
// pending downgrade schedule is applied here, when its first charge at the
// lower price arrives.
func (r *Reconciler) applyRenewal(ctx context.Context, stores types.Stores, sub *types.Subscription, n Notification, methodLabel string, approvedAt time.Time) error {
	if sub.ScheduledPlan != nil && sub.ScheduledAmount != nil && n.Price == *sub.ScheduledAmount {
		sub.Plan = *sub.ScheduledPlan
		sub.Amount = *sub.ScheduledAmount
	} else {
		if n.GoodName != "" {
			sub.Plan = n.GoodName
		}
		sub.Amount = n.Price
	}
	sub.ScheduledPlan = nil
	sub.ScheduledAmount = nil

	sub.Status = types.SubStatusActive
	sub.NextBillingDate = approvedAt.AddDate(0, 1, 0)
	sub.CancelledAt = nil
	sub.EndDate = nil

	if n.RebillNo != "" {
		rebill := n.RebillNo
		sub.BillKey = &rebill
	}
	sub.TradeID = n.TradeID
	sub.PaymentType = n.PayType
	sub.CardName = n.CardName
	sub.PaymentMethod = methodLabel

	return stores.Subscriptions.Update(ctx, sub)
}

// insertSubscription creates the row on a user's first successful charge.
func (r *Reconciler) insertSubscription(ctx context.Context, stores types.Stores, userID string, n Notification, methodLabel string, approvedAt time.Time) (*types.Subscription, error) {
	sub := &types.Subscription{
		ID:              uuid.NewString(),
		UserID:          userID,
		Plan:            n.GoodName,
		Amount:          n.Price,
		BillingCycle:    types.CycleMonthly,
		Status:          types.SubStatusActive,
		StartDate:       approvedAt,
		NextBillingDate: approvedAt.AddDate(0, 1, 0),
		TradeID:         n.TradeID,
		PaymentType:     n.PayType,
		CardName:        n.CardName,
		PaymentMethod:   methodLabel,
	}
	if n.RebillNo != "" {
		rebill := n.RebillNo
		sub.BillKey = &rebill
	}
	if err := stores.Subscriptions.Create(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// payDateLayouts covers the timestamp formats the gateway has been seen to
// send.
var payDateLayouts = []string{
	"20060102150405",
	"2006-01-02 15:04:05",
}

// approvedAt parses the notification's pay_date, falling back to the current
// time when absent or unrecognizable.
func (r *Reconciler) approvedAt(payDate string) time.Time {
	for _, layout := range payDateLayouts {
		if t, err := time.Parse(layout, payDate); err == nil {
			return t
		}
	}
	return r.now()
}

// publish fans the event out when a publisher is configured.
func (r *Reconciler) publish(ctx context.Context, event types.BillingEvent) {
	if r.events == nil {
		return
	}
	event.TraceID = types.GetRequestID(ctx)
	r.events.Publish(ctx, event)
}

// isNotFound reports whether err is a not-found AppError of any entity.
func isNotFound(err error) bool {
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Code == types.ErrCodeNotFoundSubscription || appErr.Code == types.ErrCodeNotFoundUser
}
