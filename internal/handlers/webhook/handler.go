package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kevin07696/billing-service/internal/domain/ports"
	"github.com/kevin07696/billing-service/pkg/observability"
)

// EventProcessor handles a verified webhook event. Processing runs only
// after verification succeeds.
type EventProcessor interface {
	ProcessEvent(ctx context.Context, event Event) error
}

// Event is the decoded webhook envelope. PaymentID may be the gateway's own
// id or a merchant reference depending on the event source.
type Event struct {
	Type      string `json:"type"`
	PaymentID string `json:"paymentId"`
	Status    string `json:"status"`
}

// Handler terminates the gateway's webhook callbacks. Verification gates
// everything: an unverified delivery is rejected with 401 before any state
// is touched.
type Handler struct {
	verifier  *Verifier
	processor EventProcessor
	logger    ports.Logger
}

// NewHandler creates a webhook handler
func NewHandler(verifier *Verifier, processor EventProcessor, logger ports.Logger) *Handler {
	return &Handler{verifier: verifier, processor: processor, logger: logger}
}

// Routes mounts the webhook endpoint
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/gateway", h.handleGatewayWebhook)
	return r
}

func (h *Handler) handleGatewayWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Warn("webhook body read failed", ports.Err(err))
		observability.RecordWebhook("rejected")
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	signature := r.Header.Get("Signature")
	timestamp := r.Header.Get("Timestamp")

	if !h.verifier.Verify(string(body), signature, timestamp) {
		h.logger.Warn("webhook verification failed",
			ports.String("remote_addr", r.RemoteAddr),
			ports.Bool("has_signature", signature != ""),
			ports.Bool("has_timestamp", timestamp != ""))
		observability.RecordWebhook("rejected")
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		h.logger.Error("webhook payload decode failed", ports.Err(err))
		observability.RecordWebhook("processing_failed")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	if err := h.processor.ProcessEvent(r.Context(), event); err != nil {
		h.logger.Error("webhook processing failed",
			ports.String("event_type", event.Type),
			ports.String("payment_id", event.PaymentID),
			ports.Err(err))
		observability.RecordWebhook("processing_failed")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	h.logger.Info("webhook processed",
		ports.String("event_type", event.Type),
		ports.String("payment_id", event.PaymentID))
	observability.RecordWebhook("accepted")
	w.WriteHeader(http.StatusOK)
}
