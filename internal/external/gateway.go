package external

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"fitpass/internal/config"
	"fitpass/internal/types"
)

// Gateway command endpoints, relative to the configured base URL.
const (
	cmdRebillCancel  = "/rebill/cancel"
	cmdPaymentCancel = "/payment/cancel"
	cmdCancelRequest = "/payment/cancel-request"
)

// signatureHeader carries the HMAC-SHA256 signature of the form body, keyed
// by the merchant link value. The gateway rejects unsigned requests.
const signatureHeader = "X-Gateway-Signature"

// GatewayClient issues signed calls against the recurring-billing gateway.
//
// It is deliberately stateless: local subscription state is owned by the
// billing service, and every method reports the gateway outcome as a
// types.GatewayResult so callers decide whether a failure blocks the local
// state change or is recorded for manual follow-up.
type GatewayClient struct {
	base   *BaseClient
	cfg    config.GatewayConfig
	logger *slog.Logger
}

// NewGatewayClient creates a GatewayClient. The HTTP client timeout comes
// from GatewayConfig.Timeout; payment mutations are never retried.
func NewGatewayClient(cfg config.GatewayConfig, logger *slog.Logger) *GatewayClient {
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}

	return &GatewayClient{
		base:   NewBaseClient(httpClient, "payment-gateway", NoRetryPolicy(), "Fitpass/1.0"),
		cfg:    cfg,
		logger: logger,
	}
}

// EnsureConfigured fails with a gateway_credentials_missing error when the
// merchant credentials are absent. Lifecycle operations call this before any
// local write so a misconfigured deployment cannot half-apply a change.
func (g *GatewayClient) EnsureConfigured() error {
	if !g.cfg.Configured() {
		return types.NewAppError(
			types.ErrCodeGatewayMisconfigured,
			"payment gateway credentials are not configured",
			nil,
		)
	}
	return nil
}

// CancelRebill terminates future automatic charges tied to the recurring
// billing token rebillNo. Past charges are unaffected.
func (g *GatewayClient) CancelRebill(ctx context.Context, rebillNo string) (types.GatewayResult, error) {
	form := g.baseForm()
	form.Set("rebill_no", rebillNo)

	return g.post(ctx, cmdRebillCancel, form)
}

// CancelPayment issues an immediate (same-settlement-window) reversal of the
// charge identified by mulNo. When partial is true, cancelPrice is the amount
// to reverse; a full reversal sends partCancel=0 and omits the price.
func (g *GatewayClient) CancelPayment(ctx context.Context, mulNo, memo string, partial bool, cancelPrice int) (types.GatewayResult, error) {
	form := g.baseForm()
	form.Set("mul_no", mulNo)
	form.Set("cancelmemo", memo)
	if partial {
		form.Set("partcancel", "1")
		form.Set("cancelprice", strconv.Itoa(cancelPrice))
	} else {
		form.Set("partcancel", "0")
	}

	return g.post(ctx, cmdPaymentCancel, form)
}

// RequestPaymentCancellation files a cancellation request for a charge that
// has already settled and cannot be reversed in-window. The gateway processes
// these through a manual/batched path.
func (g *GatewayClient) RequestPaymentCancellation(ctx context.Context, mulNo, memo string) (types.GatewayResult, error) {
	form := g.baseForm()
	form.Set("mul_no", mulNo)
	form.Set("cancelmemo", memo)

	return g.post(ctx, cmdCancelRequest, form)
}

// baseForm returns the merchant credential fields every call carries.
func (g *GatewayClient) baseForm() url.Values {
	form := url.Values{}
	form.Set("userid", g.cfg.UserID)
	form.Set("linkkey", g.cfg.LinkKey.Unmask())
	form.Set("linkval", g.cfg.LinkValue.Unmask())
	return form
}

// post sends the signed form and interprets the gateway's query-string
// response body. A transport failure returns a non-nil error; a gateway
// business rejection returns Success=false with the gateway's error fields.
func (g *GatewayClient) post(ctx context.Context, path string, form url.Values) (types.GatewayResult, error) {
	if err := g.EnsureConfigured(); err != nil {
		return types.GatewayResult{}, err
	}

	encoded := form.Encode()

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		strings.TrimSuffix(g.cfg.BaseURL, "/")+path,
		strings.NewReader(encoded),
	)
	if err != nil {
		return types.GatewayResult{}, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to build gateway request",
			err,
		)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(signatureHeader, g.sign(encoded))

	resp, err := g.base.Do(req)
	if err != nil {
		return types.GatewayResult{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return types.GatewayResult{}, types.NewAppError(
			types.ErrCodeUpstreamGateway,
			"failed to read gateway response",
			err,
		)
	}

	values, err := url.ParseQuery(string(body))
	if err != nil {
		return types.GatewayResult{}, types.NewAppError(
			types.ErrCodeUpstreamGateway,
			"failed to parse gateway response",
			err,
		)
	}

	// state=1 is the gateway's success marker; anything else is a business
	// rejection with errorMessage describing the cause.
	if values.Get("state") != "1" {
		result := types.GatewayResult{
			Success:    false,
			ErrCode:    values.Get("errno"),
			ErrMessage: values.Get("errorMessage"),
		}
		g.logger.Warn("gateway rejected request",
			slog.String("path", path),
			slog.String("err_code", result.ErrCode),
			slog.String("err_message", result.ErrMessage),
		)
		return result, nil
	}

	return types.GatewayResult{Success: true}, nil
}

// sign computes the HMAC-SHA256 signature of the encoded form body using the
// merchant link value as the key.
func (g *GatewayClient) sign(encodedForm string) string {
	mac := hmac.New(sha256.New, []byte(g.cfg.LinkValue.Unmask()))
	mac.Write([]byte(encodedForm))
	return hex.EncodeToString(mac.Sum(nil))
}
