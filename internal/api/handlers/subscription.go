// Package handlers contains the HTTP handler implementations for the fitpass
// billing API: the subscription lifecycle endpoints and the payment-gateway
// webhook.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"fitpass/internal/billing"
	"fitpass/internal/core"
	"fitpass/internal/types"
)

// SubscriptionLifecycle is the service contract the subscription handler
// depends on, implemented by billing.LifecycleService. Defined locally and
// injected via the constructor so tests can substitute a fake.
type SubscriptionLifecycle interface {
	Cancel(ctx context.Context, userID string) (*billing.CancelResult, error)
	Renew(ctx context.Context, userID string) (*billing.RenewResult, error)
	ChangePlan(ctx context.Context, userID, planName string) (*billing.ChangePlanResult, error)
	Refund(ctx context.Context, userID, reason string) (*billing.RefundResult, error)
}

// SubscriptionReader provides the read-only projection, implemented by
// billing.StatusService.
type SubscriptionReader interface {
	Status(ctx context.Context, userID string) (*billing.StatusView, error)
}

// PaymentHistoryReader lists the caller's ledger entries.
type PaymentHistoryReader interface {
	ListByUser(ctx context.Context, userID string, limit int) ([]*types.PaymentRecord, error)
}

// --- Request/Response Models ---

// ChangePlanRequest is the body for POST /v1/subscription/change-plan.
type ChangePlanRequest struct {
	Plan string `json:"plan" validate:"required,min=1,max=64"`
}

// RefundRequest is the body for POST /v1/subscription/refund. The body is
// optional; an absent body means an unstated reason.
type RefundRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=500"`
}

// CancelResponse is the response for POST /v1/subscription/cancel.
type CancelResponse struct {
	Message       string `json:"message"`
	EndDate       string `json:"end_date"`
	DaysRemaining int    `json:"days_remaining"`
}

// RenewResponse is the response for POST /v1/subscription/renew.
type RenewResponse struct {
	Message         string `json:"message"`
	NextBillingDate string `json:"next_billing_date"`
}

// RefundResponse is the response for POST /v1/subscription/refund.
type RefundResponse struct {
	Message                  string `json:"message"`
	RequiresManualProcessing bool   `json:"requires_manual_processing,omitempty"`
}

// ChangePlanResponse is the response for POST /v1/subscription/change-plan.
type ChangePlanResponse struct {
	Type            string `json:"type"`
	Message         string `json:"message"`
	NeedsPayment    bool   `json:"needs_payment"`
	RefundAmount    int    `json:"refund_amount,omitempty"`
	RefundStatus    string `json:"refund_status,omitempty"`
	ScheduledPlan   string `json:"scheduled_plan,omitempty"`
	ScheduledAmount int    `json:"scheduled_amount,omitempty"`
}

// SubscriptionHandler serves the authenticated subscription endpoints.
type SubscriptionHandler struct {
	lifecycle SubscriptionLifecycle
	status    SubscriptionReader
	payments  PaymentHistoryReader
	validator *core.Validator
	logger    *slog.Logger
}

func NewSubscriptionHandler(
	lifecycle SubscriptionLifecycle,
	status SubscriptionReader,
	payments PaymentHistoryReader,
	validator *core.Validator,
	logger *slog.Logger,
) *SubscriptionHandler {
	return &SubscriptionHandler{
		lifecycle: lifecycle,
		status:    status,
		payments:  payments,
		validator: validator,
		logger:    logger,
	}
}

// RegisterRoutes mounts the subscription endpoints on the /v1 router.
func (h *SubscriptionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/subscription", func(r chi.Router) {
		r.Get("/status", h.HandleStatus)
		r.Post("/cancel", h.HandleCancel)
		r.Post("/renew", h.HandleRenew)
		r.Post("/refund", h.HandleRefund)
		r.Post("/change-plan", h.HandleChangePlan)
		r.Get("/payments", h.HandlePaymentHistory)
	})
}

// HandleCancel schedules a cancellation at the next billing date.
func (h *SubscriptionHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	result, err := h.lifecycle.Cancel(r.Context(), actor.ID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, CancelResponse{
		Message:       "subscription will end at the next billing date",
		EndDate:       result.EndDate.Format("2006-01-02"),
		DaysRemaining: result.DaysRemaining,
	})
}

// HandleRenew reverses a pending cancellation.
func (h *SubscriptionHandler) HandleRenew(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	result, err := h.lifecycle.Renew(r.Context(), actor.ID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, RenewResponse{
		Message:         "subscription renewed",
		NextBillingDate: result.NextBillingDate.Format("2006-01-02"),
	})
}

// HandleRefund terminates the subscription with a full refund.
func (h *SubscriptionHandler) HandleRefund(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	// The reason body is optional.
	var req RefundRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := core.DecodeJSON(w, r, &req); err != nil {
			core.Error(w, r, err)
			return
		}
		if err := h.validator.ValidateStruct(&req); err != nil {
			core.Error(w, r, err)
			return
		}
	}

	result, err := h.lifecycle.Refund(r.Context(), actor.ID, req.Reason)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	message := "refund completed and subscription cancelled"
	if result.RequiresManualProcessing {
		message = "refund requested; processing may take a few business days"
	}
	core.JSON(w, r, http.StatusOK, RefundResponse{
		Message:                  message,
		RequiresManualProcessing: result.RequiresManualProcessing,
	})
}

// HandleChangePlan upgrades, downgrades, or undoes a scheduled change.
func (h *SubscriptionHandler) HandleChangePlan(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req ChangePlanRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		core.Error(w, r, err)
		return
	}

	result, err := h.lifecycle.ChangePlan(r.Context(), actor.ID, req.Plan)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	resp := ChangePlanResponse{
		Type:            string(result.Type),
		NeedsPayment:    result.NeedsPayment,
		RefundAmount:    result.RefundAmount,
		RefundStatus:    string(result.RefundStatus),
		ScheduledPlan:   result.ScheduledPlan,
		ScheduledAmount: result.ScheduledAmount,
	}
	switch result.Type {
	case billing.ChangeCancel:
		resp.Message = "scheduled plan change cancelled"
	case billing.ChangeUpgrade:
		resp.Message = "plan upgraded; register a payment method to continue"
	case billing.ChangeDowngrade:
		resp.Message = "plan change scheduled for the next billing date"
	}
	core.JSON(w, r, http.StatusOK, resp)
}

// HandleStatus returns the read-only subscription projection.
func (h *SubscriptionHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	view, err := h.status.Status(r.Context(), actor.ID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, view)
}

// HandlePaymentHistory lists the caller's most recent ledger entries.
func (h *SubscriptionHandler) HandlePaymentHistory(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 200 {
			core.Error(w, r, types.NewAppError(
				types.ErrCodeValidationInvalidAmount,
				"limit must be an integer between 1 and 200",
				nil,
			))
			return
		}
		limit = parsed
	}

	records, err := h.payments.ListByUser(r.Context(), actor.ID, limit)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if records == nil {
		records = []*types.PaymentRecord{}
	}
	core.JSON(w, r, http.StatusOK, map[string]any{"payments": records})
}

// requireActor extracts the authenticated actor, writing a 401 when the auth
// middleware did not attach one.
func requireActor(w http.ResponseWriter, r *http.Request) (types.Actor, bool) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthTokenMissing,
			"authentication required",
			nil,
		))
		return types.Actor{}, false
	}
	return actor, true
}
