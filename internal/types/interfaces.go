package types

import "context"

// SubscriptionStore is the persistence contract for subscription rows.
// Implemented by db.SubscriptionRepository.
type SubscriptionStore interface {
	// Current returns the user's most recent non-terminal subscription, or
	// an AppError with code not_found_subscription.
	Current(ctx context.Context, userID string) (*Subscription, error)
	Create(ctx context.Context, s *Subscription) error
	// Update persists the row with compare-and-swap on Version; returns an
	// AppError with code conflict_concurrent_modification on a lost race.
	Update(ctx context.Context, s *Subscription) error
}

// PaymentLedger is the persistence contract for the append-only payments
// table. Implemented by db.PaymentRepository.
type PaymentLedger interface {
	Insert(ctx context.Context, p *PaymentRecord) error
	// LatestCompletedByTradeID returns nil, nil when no completed entry
	// exists for the trade.
	LatestCompletedByTradeID(ctx context.Context, tradeID string) (*PaymentRecord, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*PaymentRecord, error)
}

// UserStore is the minimal user access the billing core needs.
// Implemented by db.UserRepository.
type UserStore interface {
	GetByID(ctx context.Context, id string) (*User, error)
	GetByPhone(ctx context.Context, phone string) (*User, error)
	UpdateContact(ctx context.Context, id, name, phone string) error
}

// Stores bundles the repositories visible to a unit of work. When obtained
// through a TxRunner, all three share one database transaction.
type Stores struct {
	Subscriptions SubscriptionStore
	Payments      PaymentLedger
	Users         UserStore
}

// TxRunner executes a function inside a single database transaction. The
// webhook reconciler uses this so the subscription upsert and the ledger
// append commit or roll back together (no dual-write gap).
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context, stores Stores) error) error
}
