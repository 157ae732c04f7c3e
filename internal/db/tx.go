package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fitpass/internal/types"
)

// txBeginner is the slice of pgxpool.Pool the TxManager needs: direct query
// access for non-transactional stores plus transaction creation.
type txBeginner interface {
	DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
}

// TxManager implements types.TxRunner over a pgx connection pool. Each InTx
// call opens one transaction, binds fresh repositories to it, and commits
// when fn returns nil.
type TxManager struct {
	pool   txBeginner
	logger *slog.Logger
}

// NewTxManager creates a TxManager.
func NewTxManager(pool *pgxpool.Pool, logger *slog.Logger) *TxManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &TxManager{pool: pool, logger: logger}
}

// Stores returns repositories bound directly to the pool, for callers that
// do not need transactional grouping.
func (m *TxManager) Stores() types.Stores {
	return storesFor(m.pool, m.logger)
}

// InTx implements types.TxRunner.
func (m *TxManager) InTx(ctx context.Context, fn func(ctx context.Context, stores types.Stores) error) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to begin transaction", err)
	}

	defer func() {
		// Rollback is a no-op after a successful commit.
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			m.logger.Debug("transaction rollback", slog.String("error", rbErr.Error()))
		}
	}()

	if err := fn(ctx, storesFor(tx, m.logger)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, fmt.Sprintf("failed to commit transaction: %v", err), err)
	}

	return nil
}

// storesFor binds the repository set to a pool or transaction.
func storesFor(db DBTX, logger *slog.Logger) types.Stores {
	return types.Stores{
		Subscriptions: NewSubscriptionRepository(db, logger),
		Payments:      NewPaymentRepository(db),
		Users:         NewUserRepository(db),
	}
}
