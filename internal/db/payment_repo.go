package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"fitpass/internal/types"
)

// PaymentRepository provides access to the append-only payments ledger.
// Entries are never updated in place; corrections are new rows.
type PaymentRepository struct {
	db DBTX
}

// NewPaymentRepository creates a PaymentRepository backed by the given
// database connection (pool or transaction).
func NewPaymentRepository(db DBTX) *PaymentRepository {
	return &PaymentRepository{db: db}
}

const paymentColumns = `p.id, p.user_id, p.order_id, p.trade_id, p.amount, p.status,
	p.payment_method, p.approved_at, p.error_code, p.error_message, p.created_at`

func scanPayment(row pgx.Row) (*types.PaymentRecord, error) {
	var p types.PaymentRecord
	var (
		errCode *string
		errMsg  *string
	)
	err := row.Scan(
		&p.ID,
		&p.UserID,
		&p.OrderID,
		&p.TradeID,
		&p.Amount,
		&p.Status,
		&p.PaymentMethod,
		&p.ApprovedAt,
		&errCode,
		&errMsg,
		&p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if errCode != nil {
		p.ErrorCode = *errCode
	}
	if errMsg != nil {
		p.ErrorMessage = *errMsg
	}
	return &p, nil
}

// Insert appends a ledger entry.
func (r *PaymentRepository) Insert(ctx context.Context, p *types.PaymentRecord) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO payments
		   (id, user_id, order_id, trade_id, amount, status,
		    payment_method, approved_at, error_code, error_message, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())`,
		p.ID,
		p.UserID,
		p.OrderID,
		p.TradeID,
		p.Amount,
		p.Status,
		p.PaymentMethod,
		p.ApprovedAt,
		nullIfEmpty(p.ErrorCode),
		nullIfEmpty(p.ErrorMessage),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert payment record", err)
	}
	return nil
}

// LatestCompletedByTradeID returns the most recent completed entry for the
// given gateway trade id, or nil when none exists. Used for the settlement
// window check on refunds and for duplicate webhook detection.
func (r *PaymentRepository) LatestCompletedByTradeID(ctx context.Context, tradeID string) (*types.PaymentRecord, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+paymentColumns+`
		 FROM payments p
		 WHERE p.trade_id = $1 AND p.status = 'completed'
		 ORDER BY p.created_at DESC
		 LIMIT 1`,
		tradeID,
	)

	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve payment record", err)
	}
	return p, nil
}

// ListByUser returns the user's ledger entries, newest first.
func (r *PaymentRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*types.PaymentRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.Query(ctx,
		`SELECT `+paymentColumns+`
		 FROM payments p
		 WHERE p.user_id = $1
		 ORDER BY p.created_at DESC
		 LIMIT $2`,
		userID,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list payment records", err)
	}
	defer rows.Close()

	var records []*types.PaymentRecord
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan payment record", err)
		}
		records = append(records, p)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate payment records", err)
	}

	return records, nil
}

// nullIfEmpty maps an empty string to a NULL parameter.
func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
