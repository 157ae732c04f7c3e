package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"fitpass/internal/types"
)

func scanCompletedPayment(id string, amount int, createdAt time.Time) func(dest ...any) error {
	return func(dest ...any) error {
		*dest[0].(*string) = id
		*dest[1].(*string) = "user-1"
		*dest[2].(*string) = "order-" + id
		*dest[3].(*string) = "trade-1"
		*dest[4].(*int) = amount
		*dest[5].(*types.PaymentStatus) = types.PaymentCompleted
		*dest[6].(*string) = "신한카드"
		approved := createdAt
		*dest[7].(**time.Time) = &approved
		// error_code and error_message stay nil
		*dest[10].(*time.Time) = createdAt
		return nil
	}
}

func TestPaymentRepository_Insert_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPaymentRepository(db)

	var captured []any
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) { captured = args.Get(2).([]any) }).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	now := time.Now().UTC()
	err := repo.Insert(context.Background(), &types.PaymentRecord{
		ID:            "pay-1",
		UserID:        "user-1",
		OrderID:       "order-1",
		TradeID:       "trade-1",
		Amount:        9900,
		Status:        types.PaymentCompleted,
		PaymentMethod: "신한카드",
		ApprovedAt:    &now,
	})
	require.NoError(t, err)

	// Empty error_code and error_message become NULL parameters.
	require.Len(t, captured, 10)
	assert.Nil(t, captured[8].(*string))
	assert.Nil(t, captured[9].(*string))
}

func TestPaymentRepository_Insert_FailedCharge_KeepsErrorFields(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPaymentRepository(db)

	var captured []any
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) { captured = args.Get(2).([]any) }).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	err := repo.Insert(context.Background(), &types.PaymentRecord{
		ID:           "pay-2",
		UserID:       "user-1",
		Status:       types.PaymentFailed,
		ErrorCode:    "8",
		ErrorMessage: "card declined",
	})
	require.NoError(t, err)
	require.Len(t, captured, 10)
	require.NotNil(t, captured[8].(*string))
	assert.Equal(t, "8", *captured[8].(*string))
}

func TestPaymentRepository_Insert_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPaymentRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("disk full"))

	err := repo.Insert(context.Background(), &types.PaymentRecord{ID: "pay-1"})

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestPaymentRepository_LatestCompletedByTradeID_Found(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPaymentRepository(db)

	now := time.Now().UTC()
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), []any{"trade-1"}).
		Return(&mockRow{scanFn: scanCompletedPayment("pay-1", 9900, now)})

	p, err := repo.LatestCompletedByTradeID(context.Background(), "trade-1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "pay-1", p.ID)
	assert.Equal(t, 9900, p.Amount)
	assert.Equal(t, types.PaymentCompleted, p.Status)
	require.NotNil(t, p.ApprovedAt)
}

func TestPaymentRepository_LatestCompletedByTradeID_NoneIsNotAnError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPaymentRepository(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	p, err := repo.LatestCompletedByTradeID(context.Background(), "trade-unknown")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestPaymentRepository_ListByUser(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPaymentRepository(db)

	now := time.Now().UTC()
	rows := newMockRows(
		scanCompletedPayment("pay-2", 14900, now),
		scanCompletedPayment("pay-1", 9900, now.AddDate(0, -1, 0)),
	)

	db.On("Query", mock.Anything, mock.AnythingOfType("string"), []any{"user-1", 50}).
		Return(rows, nil)

	records, err := repo.ListByUser(context.Background(), "user-1", 50)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "pay-2", records[0].ID)
	assert.Equal(t, "pay-1", records[1].ID)
	assert.True(t, rows.closed)
}

func TestPaymentRepository_ListByUser_DefaultsLimit(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPaymentRepository(db)

	db.On("Query", mock.Anything, mock.AnythingOfType("string"), []any{"user-1", 50}).
		Return(newMockRows(), nil)

	records, err := repo.ListByUser(context.Background(), "user-1", 0)
	require.NoError(t, err)
	assert.Empty(t, records)
	db.AssertExpectations(t)
}

func TestPaymentRepository_ListByUser_QueryError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPaymentRepository(db)

	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(nil, errors.New("timeout"))

	_, err := repo.ListByUser(context.Background(), "user-1", 10)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}
