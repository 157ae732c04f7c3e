package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fitpass/internal/billing"
	"fitpass/internal/core"
	"fitpass/internal/types"
)

type fakeLifecycle struct {
	cancelFn     func(ctx context.Context, userID string) (*billing.CancelResult, error)
	renewFn      func(ctx context.Context, userID string) (*billing.RenewResult, error)
	changePlanFn func(ctx context.Context, userID, planName string) (*billing.ChangePlanResult, error)
	refundFn     func(ctx context.Context, userID, reason string) (*billing.RefundResult, error)
}

func (f *fakeLifecycle) Cancel(ctx context.Context, userID string) (*billing.CancelResult, error) {
	return f.cancelFn(ctx, userID)
}

func (f *fakeLifecycle) Renew(ctx context.Context, userID string) (*billing.RenewResult, error) {
	return f.renewFn(ctx, userID)
}

func (f *fakeLifecycle) ChangePlan(ctx context.Context, userID, planName string) (*billing.ChangePlanResult, error) {
	return f.changePlanFn(ctx, userID, planName)
}

func (f *fakeLifecycle) Refund(ctx context.Context, userID, reason string) (*billing.RefundResult, error) {
	return f.refundFn(ctx, userID, reason)
}

type fakeStatus struct {
	statusFn func(ctx context.Context, userID string) (*billing.StatusView, error)
}

func (f *fakeStatus) Status(ctx context.Context, userID string) (*billing.StatusView, error) {
	return f.statusFn(ctx, userID)
}

type fakeHistory struct {
	listFn func(ctx context.Context, userID string, limit int) ([]*types.PaymentRecord, error)
}

func (f *fakeHistory) ListByUser(ctx context.Context, userID string, limit int) ([]*types.PaymentRecord, error) {
	return f.listFn(ctx, userID, limit)
}

func newTestRouter(lifecycle SubscriptionLifecycle, status SubscriptionReader, history PaymentHistoryReader) chi.Router {
	h := NewSubscriptionHandler(lifecycle, status, history, core.NewValidator(slog.Default()), slog.Default())
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

func authedRequest(method, target string, body []byte) *http.Request {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	ctx := types.WithActor(req.Context(), types.Actor{ID: "user-1", Email: "user1@example.com"})
	return req.WithContext(ctx)
}

func TestHandleCancel_Success(t *testing.T) {
	end := time.Date(2026, 3, 22, 0, 0, 0, 0, time.UTC)
	lifecycle := &fakeLifecycle{
		cancelFn: func(_ context.Context, userID string) (*billing.CancelResult, error) {
			assert.Equal(t, "user-1", userID)
			return &billing.CancelResult{EndDate: end, DaysRemaining: 12}, nil
		},
	}

	rec := httptest.NewRecorder()
	newTestRouter(lifecycle, nil, nil).ServeHTTP(rec, authedRequest(http.MethodPost, "/subscription/cancel", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp CancelResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "2026-03-22", resp.EndDate)
	assert.Equal(t, 12, resp.DaysRemaining)
}

func TestHandleCancel_NotFound(t *testing.T) {
	lifecycle := &fakeLifecycle{
		cancelFn: func(context.Context, string) (*billing.CancelResult, error) {
			return nil, types.NewAppError(types.ErrCodeNotFoundSubscription, "no active subscription", nil)
		},
	}

	rec := httptest.NewRecorder()
	newTestRouter(lifecycle, nil, nil).ServeHTTP(rec, authedRequest(http.MethodPost, "/subscription/cancel", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
	var resp core.APIErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "not_found_subscription", resp.Error.Code)
}

func TestHandleCancel_GatewayMisconfigured(t *testing.T) {
	lifecycle := &fakeLifecycle{
		cancelFn: func(context.Context, string) (*billing.CancelResult, error) {
			return nil, types.NewAppError(types.ErrCodeGatewayMisconfigured, "payment gateway credentials are not configured", nil)
		},
	}

	rec := httptest.NewRecorder()
	newTestRouter(lifecycle, nil, nil).ServeHTTP(rec, authedRequest(http.MethodPost, "/subscription/cancel", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandleCancel_Unauthenticated(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/subscription/cancel", nil)
	newTestRouter(&fakeLifecycle{}, nil, nil).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleRenew_Success(t *testing.T) {
	lifecycle := &fakeLifecycle{
		renewFn: func(context.Context, string) (*billing.RenewResult, error) {
			return &billing.RenewResult{
				NextBillingDate: time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC),
			}, nil
		},
	}

	rec := httptest.NewRecorder()
	newTestRouter(lifecycle, nil, nil).ServeHTTP(rec, authedRequest(http.MethodPost, "/subscription/renew", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp RenewResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "2026-04-10", resp.NextBillingDate)
}

func TestHandleRefund_WithReason(t *testing.T) {
	var gotReason string
	lifecycle := &fakeLifecycle{
		refundFn: func(_ context.Context, _ string, reason string) (*billing.RefundResult, error) {
			gotReason = reason
			return &billing.RefundResult{RequiresManualProcessing: true}, nil
		},
	}

	body, _ := json.Marshal(RefundRequest{Reason: "moving abroad"})
	rec := httptest.NewRecorder()
	newTestRouter(lifecycle, nil, nil).ServeHTTP(rec, authedRequest(http.MethodPost, "/subscription/refund", body))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "moving abroad", gotReason)

	var resp RefundResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.RequiresManualProcessing)
}

func TestHandleRefund_EmptyBodyAllowed(t *testing.T) {
	lifecycle := &fakeLifecycle{
		refundFn: func(_ context.Context, _ string, reason string) (*billing.RefundResult, error) {
			assert.Empty(t, reason)
			return &billing.RefundResult{}, nil
		},
	}

	rec := httptest.NewRecorder()
	newTestRouter(lifecycle, nil, nil).ServeHTTP(rec, authedRequest(http.MethodPost, "/subscription/refund", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleRefund_GatewayRejection(t *testing.T) {
	lifecycle := &fakeLifecycle{
		refundFn: func(context.Context, string, string) (*billing.RefundResult, error) {
			return nil, types.NewAppError(types.ErrCodeGatewayRejected, "gateway rejected the refund", nil)
		},
	}

	rec := httptest.NewRecorder()
	newTestRouter(lifecycle, nil, nil).ServeHTTP(rec, authedRequest(http.MethodPost, "/subscription/refund", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleChangePlan_Upgrade(t *testing.T) {
	lifecycle := &fakeLifecycle{
		changePlanFn: func(_ context.Context, _ string, planName string) (*billing.ChangePlanResult, error) {
			assert.Equal(t, "premium", planName)
			return &billing.ChangePlanResult{
				Type:         billing.ChangeUpgrade,
				NeedsPayment: true,
				RefundAmount: 3300,
				RefundStatus: types.RefundImmediate,
			}, nil
		},
	}

	body, _ := json.Marshal(ChangePlanRequest{Plan: "premium"})
	rec := httptest.NewRecorder()
	newTestRouter(lifecycle, nil, nil).ServeHTTP(rec, authedRequest(http.MethodPost, "/subscription/change-plan", body))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp ChangePlanResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "upgrade", resp.Type)
	assert.True(t, resp.NeedsPayment)
	assert.Equal(t, 3300, resp.RefundAmount)
	assert.Equal(t, "immediate", resp.RefundStatus)
}

func TestHandleChangePlan_MissingPlan(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(&fakeLifecycle{}, nil, nil).ServeHTTP(rec,
		authedRequest(http.MethodPost, "/subscription/change-plan", []byte(`{}`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleChangePlan_UnknownPlan(t *testing.T) {
	lifecycle := &fakeLifecycle{
		changePlanFn: func(context.Context, string, string) (*billing.ChangePlanResult, error) {
			return nil, types.NewAppError(types.ErrCodeValidationInvalidPlan, `unknown plan "platinum"`, nil)
		},
	}

	body, _ := json.Marshal(ChangePlanRequest{Plan: "platinum"})
	rec := httptest.NewRecorder()
	newTestRouter(lifecycle, nil, nil).ServeHTTP(rec, authedRequest(http.MethodPost, "/subscription/change-plan", body))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleStatus(t *testing.T) {
	status := &fakeStatus{
		statusFn: func(_ context.Context, userID string) (*billing.StatusView, error) {
			assert.Equal(t, "user-1", userID)
			return &billing.StatusView{Active: true, Plan: "베이직", Amount: 9900, NextAmount: 9900}, nil
		},
	}

	rec := httptest.NewRecorder()
	newTestRouter(nil, status, nil).ServeHTTP(rec, authedRequest(http.MethodGet, "/subscription/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var view billing.StatusView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.True(t, view.Active)
	assert.Equal(t, "베이직", view.Plan)
}

func TestHandlePaymentHistory(t *testing.T) {
	history := &fakeHistory{
		listFn: func(_ context.Context, userID string, limit int) ([]*types.PaymentRecord, error) {
			assert.Equal(t, "user-1", userID)
			assert.Equal(t, 10, limit)
			return []*types.PaymentRecord{{ID: "pay-1", Amount: 9900, Status: types.PaymentCompleted}}, nil
		},
	}

	rec := httptest.NewRecorder()
	newTestRouter(nil, nil, history).ServeHTTP(rec, authedRequest(http.MethodGet, "/subscription/payments?limit=10", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Payments []*types.PaymentRecord `json:"payments"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Payments, 1)
	assert.Equal(t, "pay-1", resp.Payments[0].ID)
}

func TestHandlePaymentHistory_InvalidLimit(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(nil, nil, &fakeHistory{}).ServeHTTP(rec,
		authedRequest(http.MethodGet, "/subscription/payments?limit=0", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
