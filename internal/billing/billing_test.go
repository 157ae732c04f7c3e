package billing

import (
	"context"
	"strings"
	"sync"
	"time"

	"fitpass/internal/types"
)

// memDB is an in-memory stand-in for the repositories, with the same
// compare-and-swap update semantics as the real subscription store.
type memDB struct {
	mu       sync.Mutex
	subs     []*types.Subscription
	payments []*types.PaymentRecord
	users    map[string]*types.User
}

func newMemDB() *memDB {
	return &memDB{users: map[string]*types.User{}}
}

func (m *memDB) stores() types.Stores {
	return types.Stores{
		Subscriptions: &memSubStore{db: m},
		Payments:      &memLedger{db: m},
		Users:         &memUserStore{db: m},
	}
}

// InTx implements types.TxRunner. The in-memory stores are shared, so the
// callback simply runs against them.
func (m *memDB) InTx(ctx context.Context, fn func(ctx context.Context, stores types.Stores) error) error {
	return fn(ctx, m.stores())
}

type memSubStore struct{ db *memDB }

func (s *memSubStore) Current(_ context.Context, userID string) (*types.Subscription, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	var latest *types.Subscription
	for _, sub := range s.db.subs {
		if sub.UserID != userID || sub.Status == types.SubStatusCancelled {
			continue
		}
		if latest == nil || sub.CreatedAt.After(latest.CreatedAt) {
			latest = sub
		}
	}
	if latest == nil {
		return nil, types.NewAppError(types.ErrCodeNotFoundSubscription, "no active subscription", nil)
	}
	clone := *latest
	return &clone, nil
}

func (s *memSubStore) Create(_ context.Context, sub *types.Subscription) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if sub.Version == 0 {
		sub.Version = 1
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}
	clone := *sub
	s.db.subs = append(s.db.subs, &clone)
	return nil
}

func (s *memSubStore) Update(_ context.Context, sub *types.Subscription) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	for i, existing := range s.db.subs {
		if existing.ID == sub.ID && existing.Version == sub.Version {
			clone := *sub
			clone.Version++
			s.db.subs[i] = &clone
			sub.Version++
			return nil
		}
	}
	return types.NewAppError(types.ErrCodeConflictConcurrent, "subscription was modified concurrently", nil)
}

type memLedger struct{ db *memDB }

func (l *memLedger) Insert(_ context.Context, p *types.PaymentRecord) error {
	l.db.mu.Lock()
	defer l.db.mu.Unlock()

	clone := *p
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	l.db.payments = append(l.db.payments, &clone)
	return nil
}

func (l *memLedger) LatestCompletedByTradeID(_ context.Context, tradeID string) (*types.PaymentRecord, error) {
	l.db.mu.Lock()
	defer l.db.mu.Unlock()

	for i := len(l.db.payments) - 1; i >= 0; i-- {
		p := l.db.payments[i]
		if p.TradeID == tradeID && p.Status == types.PaymentCompleted {
			clone := *p
			return &clone, nil
		}
	}
	return nil, nil
}

func (l *memLedger) ListByUser(_ context.Context, userID string, limit int) ([]*types.PaymentRecord, error) {
	l.db.mu.Lock()
	defer l.db.mu.Unlock()

	var out []*types.PaymentRecord
	for i := len(l.db.payments) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if l.db.payments[i].UserID == userID {
			clone := *l.db.payments[i]
			out = append(out, &clone)
		}
	}
	return out, nil
}

type memUserStore struct{ db *memDB }

func (u *memUserStore) GetByID(_ context.Context, id string) (*types.User, error) {
	u.db.mu.Lock()
	defer u.db.mu.Unlock()

	if user, ok := u.db.users[id]; ok {
		clone := *user
		return &clone, nil
	}
	return nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
}

func (u *memUserStore) GetByPhone(_ context.Context, phone string) (*types.User, error) {
	u.db.mu.Lock()
	defer u.db.mu.Unlock()

	want := digitsOnly(phone)
	for _, user := range u.db.users {
		if want != "" && digitsOnly(user.Phone) == want {
			clone := *user
			return &clone, nil
		}
	}
	return nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
}

func (u *memUserStore) UpdateContact(_ context.Context, id, name, phone string) error {
	u.db.mu.Lock()
	defer u.db.mu.Unlock()

	user, ok := u.db.users[id]
	if !ok {
		return types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
	}
	if name != "" {
		user.Name = name
	}
	if phone != "" {
		user.Phone = phone
	}
	return nil
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// fakeGateway records calls and answers with configurable outcomes. The zero
// value is a fully configured gateway that accepts everything.
type fakeGateway struct {
	misconfigured bool

	cancelRebillResult  types.GatewayResult
	cancelRebillErr     error
	cancelPaymentResult types.GatewayResult
	cancelPaymentErr    error
	requestCancelResult types.GatewayResult
	requestCancelErr    error

	cancelRebillCalls  []string
	cancelPayments     []cancelPaymentCall
	requestCancelCalls []string
}

type cancelPaymentCall struct {
	mulNo       string
	memo        string
	partial     bool
	cancelPrice int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		cancelRebillResult:  types.GatewayResult{Success: true},
		cancelPaymentResult: types.GatewayResult{Success: true},
		requestCancelResult: types.GatewayResult{Success: true},
	}
}

func (g *fakeGateway) EnsureConfigured() error {
	if g.misconfigured {
		return types.NewAppError(types.ErrCodeGatewayMisconfigured, "payment gateway credentials are not configured", nil)
	}
	return nil
}

func (g *fakeGateway) CancelRebill(_ context.Context, rebillNo string) (types.GatewayResult, error) {
	g.cancelRebillCalls = append(g.cancelRebillCalls, rebillNo)
	return g.cancelRebillResult, g.cancelRebillErr
}

func (g *fakeGateway) CancelPayment(_ context.Context, mulNo, memo string, partial bool, cancelPrice int) (types.GatewayResult, error) {
	g.cancelPayments = append(g.cancelPayments, cancelPaymentCall{mulNo, memo, partial, cancelPrice})
	return g.cancelPaymentResult, g.cancelPaymentErr
}

func (g *fakeGateway) RequestPaymentCancellation(_ context.Context, mulNo, memo string) (types.GatewayResult, error) {
	g.requestCancelCalls = append(g.requestCancelCalls, mulNo)
	return g.requestCancelResult, g.requestCancelErr
}

// fakePublisher records published events.
type fakePublisher struct {
	mu     sync.Mutex
	events []types.BillingEvent
}

func (p *fakePublisher) Publish(_ context.Context, event types.BillingEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }
