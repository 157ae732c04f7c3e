package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"fitpass/internal/billing"
	"fitpass/internal/config"
	"fitpass/internal/types"
)

// Webhook acknowledgment literals. The gateway matches these byte-for-byte;
// any other body is treated as a delivery failure and triggers redelivery.
const (
	webhookAckSuccess = "SUCCESS"
	webhookAckError   = "ERROR"
)

// webhookSignatureHeader carries the optional HMAC-SHA256 signature of the
// raw request body (POST) or the raw query string (GET), verified only when
// a webhook secret is configured.
const webhookSignatureHeader = "X-Gateway-Signature"

// maxWebhookBodySize bounds notification payloads (64 KB).
const maxWebhookBodySize = 64 << 10

// NotificationProcessor folds one gateway notification into local state.
// Implemented by billing.Reconciler.
type NotificationProcessor interface {
	Process(ctx context.Context, n billing.Notification) error
}

// WebhookHandler receives asynchronous payment notifications from the
// gateway. It is unauthenticated (the gateway holds no bearer token); origin
// is protected by URL secrecy plus the optional shared-secret signature.
type WebhookHandler struct {
	processor NotificationProcessor
	secret    types.SecretString
	logger    *slog.Logger
}

func NewWebhookHandler(processor NotificationProcessor, cfg config.GatewayConfig, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		processor: processor,
		secret:    cfg.WebhookSecret,
		logger:    logger,
	}
}

// RegisterRoutes mounts the webhook endpoint at the root router.
func (h *WebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/payapp", h.HandleNotification)
	r.Get("/webhooks/payapp", h.HandleNotification)
}

// HandleNotification decodes the notification from JSON, form, or query
// fields and applies it. Any processed outcome -- including business
// failures such as an unknown user -- acknowledges with "SUCCESS"/200 so the
// gateway stops redelivering; only an internal fault answers "ERROR"/500.
func (h *WebhookHandler) HandleNotification(w http.ResponseWriter, r *http.Request) {
	fields, err := h.decodeFields(r)
	if err != nil {
		h.logger.Warn("undecodable webhook payload", slog.Any("error", err))
		// Undecodable payloads will never become decodable; acknowledge.
		h.ack(w, r)
		return
	}

	n := billing.ParseNotification(func(key string) string { return fields[key] })

	if err := h.processor.Process(r.Context(), n); err != nil {
		h.logger.Error("webhook processing failed",
			slog.String("trade_id", n.TradeID),
			slog.String("pay_state", n.PayState),
			slog.Any("error", err),
		)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, webhookAckError)
		return
	}

	h.ack(w, r)
}

func (h *WebhookHandler) ack(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, webhookAckSuccess)
}

// decodeFields flattens the notification into a string map regardless of the
// encoding the gateway used: POST JSON, POST form, or GET query parameters.
// When a webhook secret is configured, the signature is verified first --
// over the raw body for POST, over the raw query string for GET -- and a
// mismatch is treated as an undecodable payload (acknowledged and dropped,
// never applied).
func (h *WebhookHandler) decodeFields(r *http.Request) (map[string]string, error) {
	if r.Method == http.MethodGet {
		if h.secret.IsSet() && !h.verifySignature([]byte(r.URL.RawQuery), r.Header.Get(webhookSignatureHeader)) {
			h.logger.Warn("webhook signature mismatch")
			return nil, errSignatureMismatch
		}
		return flattenValues(r.URL.Query()), nil
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize))
	if err != nil {
		return nil, err
	}

	if h.secret.IsSet() && !h.verifySignature(body, r.Header.Get(webhookSignatureHeader)) {
		h.logger.Warn("webhook signature mismatch")
		return nil, errSignatureMismatch
	}

	contentType := r.Header.Get("Content-Type")
	if isJSONContentType(contentType) {
		return flattenJSON(body)
	}

	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, err
	}
	return flattenValues(values), nil
}

var errSignatureMismatch = &types.AppError{
	Code:    types.ErrCodeAuthTokenInvalid,
	Message: "webhook signature mismatch",
}

func (h *WebhookHandler) verifySignature(body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.secret.Unmask()))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func isJSONContentType(contentType string) bool {
	for i := 0; i < len(contentType); i++ {
		if contentType[i] == ';' {
			contentType = contentType[:i]
			break
		}
	}
	return contentType == "application/json"
}

// flattenJSON converts a one-level JSON object into a string map. The
// gateway sends every field as a string, but numbers are tolerated.
func flattenJSON(body []byte) (map[string]string, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}

	fields := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			fields[k] = val
		case float64:
			fields[k] = trimFloat(val)
		case bool:
			if val {
				fields[k] = "true"
			} else {
				fields[k] = "false"
			}
		case map[string]any:
			// Nested context objects (var1 sent as JSON instead of a
			// string) are re-encoded so ParseNotification sees one blob.
			encoded, err := json.Marshal(val)
			if err == nil {
				fields[k] = string(encoded)
			}
		}
	}
	return fields, nil
}

func trimFloat(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func flattenValues(values url.Values) map[string]string {
	fields := make(map[string]string, len(values))
	for k := range values {
		fields[k] = values.Get(k)
	}
	return fields
}
